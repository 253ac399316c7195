package dap

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	godap "github.com/google/go-dap"
)

const defaultTimeout = 30 * time.Second

// SessionHandlers carries session events to the catalog. Handlers run on
// session-owned goroutines and must hand work off instead of blocking.
type SessionHandlers struct {
	// Stopped reports a halt together with an eager snapshot: the stopped
	// thread's frames and the scopes of its top frame, variables populated
	// for the first scope only.
	Stopped func(id ID, stopped Stopped, frames []godap.StackFrame, scopes []ScopeVars)

	// Continued reports that the debuggee resumed on its own.
	Continued func(id ID)

	// Terminated fires exactly once, whichever way the session ends.
	Terminated func(id ID)

	// Output carries debuggee and adapter output upstream.
	Output func(id ID, category, output string)

	// RunInTerminal is the adapter asking the editor to start the debuggee
	// in a terminal. The editor answers through SetProcessID.
	RunInTerminal func(id ID, args godap.RunInTerminalRequestArguments)
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeout sets the deadline for the initialize handshake and for
// requests the session issues on its own (breakpoint replay, stop
// snapshots).
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Session is one live debug session: an adapter subprocess, the DAP client
// talking to it, and the state the catalog cares about.
type Session struct {
	id       ID
	config   RunDebugConfig
	client   *Client
	handlers SessionHandlers
	logger   *slog.Logger
	timeout  time.Duration
	caps     godap.Capabilities

	stateMu       sync.RWMutex
	state         SessionState
	stoppedThread int

	bpMu        sync.Mutex
	breakpoints map[string][]godap.SourceBreakpoint

	treeMu sync.Mutex
	tree   *Tree

	termMu  sync.Mutex
	termSeq int

	terminated sync.Once
}

// Start spawns the adapter described by spec and performs the initialize
// handshake. Breakpoints are held for replay once the adapter signals
// readiness; the debuggee is not launched until Launch is called.
func Start(ctx context.Context, spec DebuggerSpec, config RunDebugConfig, breakpoints map[string][]godap.SourceBreakpoint, handlers SessionHandlers, opts ...Option) (*Session, error) {
	if spec.Program == "" {
		return nil, ErrNoProgram
	}

	cmd := exec.Command(spec.Program, spec.Args...)
	cmd.Dir = spec.Cwd
	cmd.Stderr = os.Stderr

	transport, err := newStdioTransport(cmd)
	if err != nil {
		return nil, fmt.Errorf("spawn adapter %s: %w", spec.Program, err)
	}

	return Connect(ctx, transport, config, breakpoints, handlers, opts...)
}

// Connect runs a session over an existing transport. Used for adapters that
// are already listening on a socket, and by tests.
func Connect(ctx context.Context, transport Transport, config RunDebugConfig, breakpoints map[string][]godap.SourceBreakpoint, handlers SessionHandlers, opts ...Option) (*Session, error) {
	if !config.DapID.Valid() {
		config.DapID = NewID()
	}

	s := &Session{
		id:          config.DapID,
		config:      config,
		handlers:    handlers,
		logger:      slog.Default(),
		timeout:     defaultTimeout,
		state:       StateLaunching,
		breakpoints: make(map[string][]godap.SourceBreakpoint, len(breakpoints)),
	}
	for path, bps := range breakpoints {
		s.breakpoints[path] = append([]godap.SourceBreakpoint(nil), bps...)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("dap", string(s.id))

	s.client = NewClient(transport, Events{
		Initialized:   s.onInitialized,
		Stopped:       s.onStopped,
		Continued:     s.onContinued,
		Exited:        s.onExited,
		Terminated:    s.onTerminated,
		Output:        s.onOutput,
		Process:       s.onProcess,
		RunInTerminal: s.onRunInTerminal,
		Closed:        s.onClosed,
	})

	initCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	caps, err := s.client.Initialize(initCtx, config.Type)
	if err != nil {
		s.client.Close()
		return nil, fmt.Errorf("initialize adapter: %w", err)
	}
	s.caps = caps

	return s, nil
}

// ID returns the session id.
func (s *Session) ID() ID {
	return s.id
}

// Config returns the run configuration the session was started from.
func (s *Session) Config() RunDebugConfig {
	return s.config
}

// Capabilities returns what the adapter reported during initialize.
func (s *Session) Capabilities() godap.Capabilities {
	return s.caps
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// StoppedThread returns the thread the debuggee last stopped on, or zero.
func (s *Session) StoppedThread() int {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.stoppedThread
}

// Launch starts the debuggee. The run configuration itself is the launch
// argument payload; the adapter picks out the keys it knows.
func (s *Session) Launch(ctx context.Context) error {
	args, err := json.Marshal(s.config)
	if err != nil {
		return fmt.Errorf("marshal launch arguments: %w", err)
	}
	if err := s.client.Launch(ctx, args); err != nil {
		return fmt.Errorf("launch %s: %w", s.config.Name, err)
	}
	s.advanceToRunning()
	return nil
}

// Continue resumes the given thread and clears the stopped state.
func (s *Session) Continue(ctx context.Context, threadID int) error {
	if _, err := s.client.Continue(ctx, threadID); err != nil {
		return err
	}
	s.setRunning()
	return nil
}

// Pause interrupts the given thread. The state changes when the adapter's
// stopped event arrives.
func (s *Session) Pause(ctx context.Context, threadID int) error {
	return s.client.Pause(ctx, threadID)
}

// Next steps over the current line on the given thread.
func (s *Session) Next(ctx context.Context, threadID int) error {
	if err := s.client.Next(ctx, threadID); err != nil {
		return err
	}
	s.setRunning()
	return nil
}

// StepIn steps into the call on the given thread.
func (s *Session) StepIn(ctx context.Context, threadID int) error {
	if err := s.client.StepIn(ctx, threadID); err != nil {
		return err
	}
	s.setRunning()
	return nil
}

// StepOut runs the given thread until its current function returns.
func (s *Session) StepOut(ctx context.Context, threadID int) error {
	if err := s.client.StepOut(ctx, threadID); err != nil {
		return err
	}
	s.setRunning()
	return nil
}

// SetBreakpoints replaces one file's breakpoints. The set is remembered so it
// can be replayed when an adapter (re)signals readiness.
func (s *Session) SetBreakpoints(ctx context.Context, path string, bps []godap.SourceBreakpoint) ([]godap.Breakpoint, error) {
	s.bpMu.Lock()
	if len(bps) == 0 {
		delete(s.breakpoints, path)
	} else {
		s.breakpoints[path] = append([]godap.SourceBreakpoint(nil), bps...)
	}
	s.bpMu.Unlock()

	return s.client.SetBreakpoints(ctx, path, bps)
}

// FetchScopes retrieves the scopes of a stack frame plus, eagerly, the
// variables of the first scope only. The session's variable tree is replaced
// by the result; previous expansion state is gone. No scopes means an empty
// tree and no variable fetch at all.
func (s *Session) FetchScopes(ctx context.Context, frameID int) ([]ScopeVars, error) {
	scopes, err := s.client.Scopes(ctx, frameID)
	if err != nil {
		return nil, err
	}

	if len(scopes) == 0 {
		s.treeMu.Lock()
		s.tree = NewTree(nil)
		s.treeMu.Unlock()
		return nil, nil
	}

	vars, err := s.client.Variables(ctx, scopes[0].VariablesReference)
	if err != nil {
		s.logger.Error("first scope variables fetch failed", "scope", scopes[0].Name, "error", err)
		vars = nil
	}

	pairs := make([]ScopeVars, len(scopes))
	for i := range scopes {
		pairs[i] = ScopeVars{Scope: scopes[i]}
		if i == 0 {
			pairs[i].Variables = vars
		}
	}

	s.treeMu.Lock()
	s.tree = NewTree(pairs)
	s.treeMu.Unlock()

	return pairs, nil
}

// FetchVariables retrieves one level of children for a variables reference
// and records them on the matching tree node, expanding it.
func (s *Session) FetchVariables(ctx context.Context, reference int) ([]godap.Variable, error) {
	vars, err := s.client.Variables(ctx, reference)
	if err != nil {
		return nil, err
	}

	s.treeMu.Lock()
	if s.tree != nil {
		if node := s.tree.FindReference(reference); node != nil {
			node.SetChildren(vars)
			node.Expand()
		}
	}
	s.treeMu.Unlock()

	return vars, nil
}

// Tree returns the current variable tree, or nil before the first
// FetchScopes. The tree is replaced wholesale by FetchScopes; callers must
// not retain it across calls.
func (s *Session) Tree() *Tree {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()
	return s.tree
}

// SetProcessID answers the adapter's pending runInTerminal request with the
// process id of the debuggee the editor started.
func (s *Session) SetProcessID(pid int) error {
	s.termMu.Lock()
	seq := s.termSeq
	s.termSeq = 0
	s.termMu.Unlock()

	if seq == 0 {
		return ErrNoRunInTerminal
	}
	return s.client.RespondRunInTerminal(seq, pid)
}

// Disconnect negotiates an orderly shutdown with the adapter, then tears the
// session down. The Terminated handler fires either way, so a failed
// handshake still ends in removal.
func (s *Session) Disconnect(ctx context.Context) error {
	err := s.client.Disconnect(ctx, true)
	s.finish()
	return err
}

// Stop hard-stops the session: the adapter process is killed without a
// handshake.
func (s *Session) Stop() {
	s.finish()
}

func (s *Session) setRunning() {
	s.stateMu.Lock()
	s.state = StateRunning
	s.stoppedThread = 0
	s.stateMu.Unlock()
}

// advanceToRunning moves Launching to Running and nothing else, so a stop on
// entry is not overwritten when the launch response trails in.
func (s *Session) advanceToRunning() {
	s.stateMu.Lock()
	if s.state == StateLaunching {
		s.state = StateRunning
	}
	s.stateMu.Unlock()
}

// finish closes the session exactly once: terminal state, adapter torn down,
// Terminated handler fired.
func (s *Session) finish() {
	s.stateMu.Lock()
	s.state = StateDisconnected
	s.stateMu.Unlock()

	s.client.Close()

	s.terminated.Do(func() {
		if s.handlers.Terminated != nil {
			s.handlers.Terminated(s.id)
		}
	})
}

// Adapter event handlers. All run on the client's receive loop except where
// they spawn their own goroutine.

// onInitialized replays known breakpoints and completes configuration. The
// work runs on its own goroutine because both calls wait for responses the
// receive loop has to read.
func (s *Session) onInitialized() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		s.replayBreakpoints(ctx)

		if err := s.client.ConfigurationDone(ctx); err != nil {
			s.logger.Error("configurationDone failed", "error", err)
			return
		}
		s.advanceToRunning()
	}()
}

func (s *Session) replayBreakpoints(ctx context.Context) {
	s.bpMu.Lock()
	snapshot := make(map[string][]godap.SourceBreakpoint, len(s.breakpoints))
	for path, bps := range s.breakpoints {
		snapshot[path] = bps
	}
	s.bpMu.Unlock()

	paths := make([]string, 0, len(snapshot))
	for path := range snapshot {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if _, err := s.client.SetBreakpoints(ctx, path, snapshot[path]); err != nil {
			s.logger.Error("breakpoint replay failed", "path", path, "error", err)
		}
	}
}

func (s *Session) onStopped(body godap.StoppedEventBody) {
	s.stateMu.Lock()
	s.state = StateStopped
	s.stoppedThread = body.ThreadId
	s.stateMu.Unlock()

	stopped := stoppedFromEvent(body)
	s.logger.Debug("debuggee stopped", "reason", stopped.Reason, "thread", stopped.ThreadID)

	go s.snapshotStop(stopped)
}

// snapshotStop eagerly fetches what the editor shows first on a stop: the
// stopped thread's frames and the top frame's scopes.
func (s *Session) snapshotStop(stopped Stopped) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var frames []godap.StackFrame
	if stopped.ThreadID > 0 {
		var err error
		frames, err = s.client.StackTrace(ctx, stopped.ThreadID)
		if err != nil {
			s.logger.Error("stack trace failed", "thread", stopped.ThreadID, "error", err)
		}
	}

	var pairs []ScopeVars
	if len(frames) > 0 {
		var err error
		pairs, err = s.FetchScopes(ctx, frames[0].Id)
		if err != nil {
			s.logger.Error("stop scopes fetch failed", "frame", frames[0].Id, "error", err)
		}
	}

	if s.handlers.Stopped != nil {
		s.handlers.Stopped(s.id, stopped, frames, pairs)
	}
}

func (s *Session) onContinued(body godap.ContinuedEventBody) {
	s.setRunning()
	if s.handlers.Continued != nil {
		s.handlers.Continued(s.id)
	}
}

func (s *Session) onExited(body godap.ExitedEventBody) {
	s.logger.Info("debuggee exited", "code", body.ExitCode)
}

func (s *Session) onTerminated() {
	s.finish()
}

func (s *Session) onOutput(body godap.OutputEventBody) {
	if s.handlers.Output != nil {
		s.handlers.Output(s.id, body.Category, body.Output)
	}
}

func (s *Session) onProcess(body godap.ProcessEventBody) {
	s.logger.Debug("debuggee process", "name", body.Name, "pid", body.SystemProcessId)
}

func (s *Session) onRunInTerminal(seq int, args godap.RunInTerminalRequestArguments) {
	s.termMu.Lock()
	s.termSeq = seq
	s.termMu.Unlock()

	if s.handlers.RunInTerminal == nil {
		s.logger.Warn("adapter requested runInTerminal but no handler is wired")
		return
	}
	s.handlers.RunInTerminal(s.id, args)
}

func (s *Session) onClosed(err error) {
	if err != nil {
		s.logger.Warn("adapter connection lost", "error", err)
	}
	s.finish()
}
