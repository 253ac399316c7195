package psp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/voltproxy/internal/rpc"
	"github.com/dshills/voltproxy/internal/volt"
)

// Protocol methods exchanged with plugin servers. Document-level methods
// follow the LSP names so volts can reuse language-server tooling.
const (
	MethodInitialize = "initialize"
	MethodShutdown   = "shutdown"
	MethodExit       = "exit"

	// Document lifecycle, broadcast by the catalog.
	MethodDidOpen   = "textDocument/didOpen"
	MethodDidChange = "textDocument/didChange"
	MethodDidSave   = "textDocument/didSave"

	// Host-bound traffic initiated by the plugin server.
	MethodShowMessage      = "window/showMessage"
	MethodLogMessage       = "window/logMessage"
	MethodRegisterDebugger = "proxy/registerDebuggerType"
	MethodSpawnedServer    = "proxy/spawnedPluginLoaded"
	MethodStartVolt        = "proxy/startVolt"
)

// Server errors.
var (
	// ErrNoBinary indicates a metadata-only volt cannot be started.
	ErrNoBinary = errors.New("volt has no plugin server binary")
)

// Handlers receives traffic and lifecycle signals from a running plugin
// server, with the plugin id bound in. All handlers must be non-blocking.
type Handlers struct {
	// Notification is called for plugin-initiated notifications.
	Notification func(plugin rpc.PluginID, method string, params json.RawMessage)

	// Request is called for plugin-initiated requests.
	Request func(plugin rpc.PluginID, method string, params json.RawMessage) (any, *rpc.Error)

	// Exited is called once when the plugin server process exits.
	Exited func(plugin rpc.PluginID, err error)
}

// Options configures a plugin server start.
type Options struct {
	// Meta is the volt being started. Required; it must have a binary.
	Meta *volt.Metadata

	// Workspace is the workspace root path, "" when no workspace is open.
	Workspace string

	// Config is the user configuration overlaid on the volt's defaults and
	// delivered as initializationOptions.
	Config map[string]any

	// SpawnedBy names the plugin that requested this start, if any.
	SpawnedBy rpc.PluginID

	// Handlers receives plugin-initiated traffic.
	Handlers Handlers

	// StartTimeout bounds the initialize handshake. Defaults to 30s.
	StartTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Route carries the document routing hints for one request or notification.
// With Check set, the server only receives the message when its declared
// activation languages cover the document; hints missing from the route are
// recovered from the params themselves.
type Route struct {
	LanguageID string
	Path       string
	Check      bool
}

// Server is a running plugin server: the child process, its transport, and
// the routing state the catalog needs. All methods are safe for concurrent
// use.
type Server struct {
	id        rpc.PluginID
	meta      *volt.Metadata
	spawnedBy rpc.PluginID
	workspace string
	languages map[string]bool
	logger    *slog.Logger

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	transport *Transport

	cancel   context.CancelFunc
	shutdown sync.Once
}

// Start spawns the volt's plugin server, performs the initialize handshake,
// and returns the ready handle. The returned server has already been
// delivered its configuration.
func Start(ctx context.Context, opts Options) (*Server, error) {
	if opts.Meta == nil {
		return nil, errors.New("psp: options require volt metadata")
	}
	if !opts.Meta.HasBinary() {
		return nil, fmt.Errorf("%w: %s", ErrNoBinary, opts.Meta.ID())
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 30 * time.Second
	}

	s := &Server{
		id:        rpc.NewPluginID(),
		meta:      opts.Meta,
		spawnedBy: opts.SpawnedBy,
		workspace: opts.Workspace,
		languages: make(map[string]bool),
		logger:    opts.Logger,
	}
	for _, lang := range opts.Meta.Languages() {
		s.languages[lang] = true
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if err := s.startProcess(runCtx, opts); err != nil {
		cancel()
		return nil, err
	}

	initCtx, initCancel := context.WithTimeout(ctx, opts.StartTimeout)
	defer initCancel()

	if err := s.initialize(initCtx, opts.Config); err != nil {
		s.Kill()
		return nil, fmt.Errorf("initialize %s: %w", opts.Meta.ID(), err)
	}

	return s, nil
}

// startProcess spawns the child and wires the transport.
func (s *Server) startProcess(ctx context.Context, opts Options) error {
	cmd := exec.CommandContext(ctx, s.meta.BinaryPath())
	cmd.Dir = s.meta.Dir()
	cmd.Env = append(os.Environ(),
		"VOLT_ID="+string(s.meta.ID()),
		"VOLT_DIR="+s.meta.Dir(),
		"VOLT_WORKSPACE="+s.workspace,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("start plugin server: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin

	handlers := TransportHandlers{}
	if opts.Handlers.Notification != nil {
		notify := opts.Handlers.Notification
		handlers.Notification = func(method string, params json.RawMessage) {
			notify(s.id, method, params)
		}
	}
	if opts.Handlers.Request != nil {
		req := opts.Handlers.Request
		handlers.Request = func(method string, params json.RawMessage) (any, *rpc.Error) {
			return req(s.id, method, params)
		}
	}

	s.transport = NewTransport(stdout, stdin, nil, handlers)
	s.transport.Start(ctx)

	go s.monitor(opts.Handlers.Exited)
	return nil
}

// monitor waits for process exit and reports it once.
func (s *Server) monitor(exited func(rpc.PluginID, error)) {
	err := s.cmd.Wait()
	s.transport.Close()
	if exited != nil {
		exited(s.id, err)
	}
}

// initialize performs the handshake, delivering the merged configuration.
func (s *Server) initialize(ctx context.Context, userConfig map[string]any) error {
	options, err := buildInitOptions(s.meta.Config, userConfig)
	if err != nil {
		return err
	}

	params := struct {
		ProcessID             int             `json:"processId"`
		RootPath              string          `json:"rootPath,omitempty"`
		InitializationOptions json.RawMessage `json:"initializationOptions,omitempty"`
		Capabilities          struct{}        `json:"capabilities"`
	}{
		ProcessID:             os.Getpid(),
		RootPath:              s.workspace,
		InitializationOptions: options,
	}

	return s.transport.Call(ctx, MethodInitialize, params, nil)
}

// buildInitOptions overlays user configuration on the volt's defaults.
// Dotted keys nest: "check.on-save" becomes {"check":{"on-save":...}}.
func buildInitOptions(defaults, user map[string]any) (json.RawMessage, error) {
	doc := "{}"
	for _, layer := range []map[string]any{defaults, user} {
		for key, value := range layer {
			next, err := sjson.Set(doc, key, value)
			if err != nil {
				return nil, fmt.Errorf("config key %q: %w", key, err)
			}
			doc = next
		}
	}
	if doc == "{}" {
		return nil, nil
	}
	return json.RawMessage(doc), nil
}

// ID returns the per-activation plugin id.
func (s *Server) ID() rpc.PluginID {
	return s.id
}

// Volt returns the metadata of the volt this server runs.
func (s *Server) Volt() *volt.Metadata {
	return s.meta
}

// SpawnedBy returns the plugin that requested this server, or the zero id.
func (s *Server) SpawnedBy() rpc.PluginID {
	return s.spawnedBy
}

// ProcessID returns the child process id, or 0 before start.
func (s *Server) ProcessID() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// wantsDocument decides whether a routed message applies to this server.
func (s *Server) wantsDocument(route Route, params json.RawMessage) bool {
	if !route.Check || len(s.languages) == 0 {
		return true
	}

	lang := route.LanguageID
	if lang == "" && len(params) > 0 {
		lang = gjson.GetBytes(params, "textDocument.languageId").String()
	}
	if lang == "" {
		// No language to check against; deliver rather than guess wrong.
		return true
	}
	return s.languages[lang]
}

// SendRequest routes a request to the plugin server. The callback fires
// exactly once: immediately with a routing error when the document filter
// rejects the message, or with the server's reply.
func (s *Server) SendRequest(route Route, id uint64, method string, params any, cb rpc.ResponseCallback) {
	raw, err := marshalParams(params)
	if err != nil {
		cb(id, s.id, nil, rpc.Errorf("marshal params: %v", err))
		return
	}

	if !s.wantsDocument(route, raw) {
		cb(id, s.id, nil, rpc.MethodUnsupported())
		return
	}

	s.transport.CallAsync(method, raw, func(result json.RawMessage, rerr *rpc.Error) {
		cb(id, s.id, result, rerr)
	})
}

// SendNotification routes a notification to the plugin server. Messages the
// document filter rejects are dropped.
func (s *Server) SendNotification(route Route, method string, params any) {
	raw, err := marshalParams(params)
	if err != nil {
		s.logger.Warn("dropping notification", "plugin", s.id, "method", method, "err", err)
		return
	}

	if !s.wantsDocument(route, raw) {
		return
	}

	if err := s.transport.Notify(method, raw); err != nil {
		s.logger.Warn("notification send failed", "plugin", s.id, "method", method, "err", err)
	}
}

// marshalParams marshals params once so routing and sending share the bytes.
func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// Shutdown asks the server to exit politely, then reclaims the process.
// Calls after the first are no-ops.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		if !s.transport.IsClosed() {
			reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			_ = s.transport.Call(reqCtx, MethodShutdown, nil, nil)
			_ = s.transport.Notify(MethodExit, nil)
		}

		s.Kill()
	})
	return nil
}

// Kill tears the process down without the polite handshake.
func (s *Server) Kill() {
	if s.transport != nil {
		s.transport.Close()
	}
	if s.stdin != nil {
		s.stdin.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}
