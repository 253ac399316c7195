package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	godap "github.com/google/go-dap"
)

// Events carries adapter-initiated traffic out of the client's receive loop.
// Handlers run on the receive loop goroutine and must not call back into the
// client synchronously for anything that waits on a response.
type Events struct {
	// Initialized fires when the adapter is ready for breakpoint
	// configuration.
	Initialized func()

	// Stopped fires when the debuggee halts.
	Stopped func(body godap.StoppedEventBody)

	// Continued fires when the debuggee resumes without a client request.
	Continued func(body godap.ContinuedEventBody)

	// Exited fires with the debuggee's exit code.
	Exited func(body godap.ExitedEventBody)

	// Terminated fires when the debug session is over.
	Terminated func()

	// Output carries debuggee and adapter output.
	Output func(body godap.OutputEventBody)

	// Process describes the debuggee process once known.
	Process func(body godap.ProcessEventBody)

	// RunInTerminal is the adapter asking the client to start the debuggee
	// itself. seq must be echoed back through RespondRunInTerminal.
	RunInTerminal func(seq int, args godap.RunInTerminalRequestArguments)

	// Closed fires once when the receive loop ends, whatever the reason.
	Closed func(err error)
}

// Client is the wire-level DAP client. It owns request correlation and event
// dispatch; session semantics live one layer up.
type Client struct {
	transport Transport
	events    Events

	seq       atomic.Int64
	pendingMu sync.Mutex
	pending   map[int]*pendingCall

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	errMu sync.RWMutex
	err   error
}

// pendingCall tracks a request awaiting its response.
type pendingCall struct {
	done      chan struct{}
	closeOnce sync.Once
	resp      godap.ResponseMessage
	err       error
}

func (p *pendingCall) close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

// NewClient creates a client over the given transport and starts its receive
// loop.
func NewClient(transport Transport, events Events) *Client {
	c := &Client{
		transport: transport,
		events:    events,
		pending:   make(map[int]*pendingCall),
		done:      make(chan struct{}),
	}
	go c.receiveLoop()
	return c
}

// Close shuts the transport down. Pending requests fail with ErrClientClosed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.transport.Close()
	})
	return c.closeErr
}

// Err returns the error that ended the receive loop, if any.
func (c *Client) Err() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.err
}

func (c *Client) receiveLoop() {
	var loopErr error

	defer func() {
		c.errMu.Lock()
		c.err = loopErr
		c.errMu.Unlock()

		c.pendingMu.Lock()
		for _, call := range c.pending {
			call.err = ErrClientClosed
			call.close()
		}
		c.pending = make(map[int]*pendingCall)
		c.pendingMu.Unlock()

		if c.events.Closed != nil {
			c.events.Closed(loopErr)
		}
	}()

	for {
		msg, err := c.transport.Receive()
		if err != nil {
			// A message the generated decoder does not know is not
			// fatal; adapters are free to send custom events.
			var decodeErr *godap.DecodeProtocolMessageFieldError
			if errors.As(err, &decodeErr) {
				continue
			}
			select {
			case <-c.done:
			default:
				loopErr = err
			}
			return
		}

		select {
		case <-c.done:
			return
		default:
		}

		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg godap.Message) {
	switch m := msg.(type) {
	case godap.ResponseMessage:
		c.handleResponse(m)
	case godap.EventMessage:
		c.handleEvent(m)
	case godap.RequestMessage:
		c.handleReverseRequest(m)
	}
}

func (c *Client) handleResponse(msg godap.ResponseMessage) {
	seq := msg.GetResponse().RequestSeq

	c.pendingMu.Lock()
	call, ok := c.pending[seq]
	if ok {
		delete(c.pending, seq)
	}
	c.pendingMu.Unlock()

	if ok {
		call.resp = msg
		call.close()
	}
}

func (c *Client) handleEvent(msg godap.EventMessage) {
	switch evt := msg.(type) {
	case *godap.InitializedEvent:
		if c.events.Initialized != nil {
			c.events.Initialized()
		}
	case *godap.StoppedEvent:
		if c.events.Stopped != nil {
			c.events.Stopped(evt.Body)
		}
	case *godap.ContinuedEvent:
		if c.events.Continued != nil {
			c.events.Continued(evt.Body)
		}
	case *godap.ExitedEvent:
		if c.events.Exited != nil {
			c.events.Exited(evt.Body)
		}
	case *godap.TerminatedEvent:
		if c.events.Terminated != nil {
			c.events.Terminated()
		}
	case *godap.OutputEvent:
		if c.events.Output != nil {
			c.events.Output(evt.Body)
		}
	case *godap.ProcessEvent:
		if c.events.Process != nil {
			c.events.Process(evt.Body)
		}
	}
}

// handleReverseRequest handles requests initiated by the adapter. Only
// runInTerminal is supported; everything else is politely refused.
func (c *Client) handleReverseRequest(msg godap.RequestMessage) {
	req := msg.GetRequest()

	if rit, ok := msg.(*godap.RunInTerminalRequest); ok {
		if c.events.RunInTerminal != nil {
			c.events.RunInTerminal(req.Seq, rit.Arguments)
			return
		}
	}

	resp := &godap.ErrorResponse{}
	resp.Seq = int(c.seq.Add(1))
	resp.Type = "response"
	resp.RequestSeq = req.Seq
	resp.Command = req.Command
	resp.Success = false
	resp.Message = fmt.Sprintf("unsupported request %q", req.Command)
	c.transport.Send(resp)
}

// RespondRunInTerminal answers the adapter's runInTerminal request with the
// process id of the debuggee the editor started.
func (c *Client) RespondRunInTerminal(requestSeq, processID int) error {
	resp := &godap.RunInTerminalResponse{}
	resp.Seq = int(c.seq.Add(1))
	resp.Type = "response"
	resp.RequestSeq = requestSeq
	resp.Command = "runInTerminal"
	resp.Success = true
	resp.Body = godap.RunInTerminalResponseBody{ProcessId: processID}
	return c.transport.Send(resp)
}

// roundTrip sends a request and waits for its response. The caller sets the
// command and arguments; seq assignment and correlation happen here. A nil
// error guarantees a successful response.
func (c *Client) roundTrip(ctx context.Context, req godap.RequestMessage) (godap.ResponseMessage, error) {
	base := req.GetRequest()
	seq := int(c.seq.Add(1))
	base.Seq = seq
	base.Type = "request"

	select {
	case <-c.done:
		return nil, ErrClientClosed
	default:
	}

	call := &pendingCall{done: make(chan struct{})}
	c.pendingMu.Lock()
	c.pending[seq] = call
	c.pendingMu.Unlock()

	if err := c.transport.Send(req); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("send %s: %w", base.Command, err)
	}

	select {
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	case <-call.done:
		if call.err != nil {
			return nil, call.err
		}
		if !call.resp.GetResponse().Success {
			return nil, responseError(base.Command, call.resp)
		}
		return call.resp, nil
	}
}

func responseError(command string, msg godap.ResponseMessage) error {
	if er, ok := msg.(*godap.ErrorResponse); ok && er.Body.Error != nil && er.Body.Error.Format != "" {
		return fmt.Errorf("%s failed: %s", command, er.Body.Error.Format)
	}
	if m := msg.GetResponse().Message; m != "" {
		return fmt.Errorf("%s failed: %s", command, m)
	}
	return fmt.Errorf("%s failed", command)
}

// DAP request methods.

// Initialize performs the capability handshake.
func (c *Client) Initialize(ctx context.Context, adapterID string) (godap.Capabilities, error) {
	req := &godap.InitializeRequest{
		Arguments: godap.InitializeRequestArguments{
			ClientID:                     "voltproxy",
			ClientName:                   "Volt Proxy",
			AdapterID:                    adapterID,
			Locale:                       "en-us",
			LinesStartAt1:                true,
			ColumnsStartAt1:              true,
			PathFormat:                   "path",
			SupportsVariableType:         true,
			SupportsRunInTerminalRequest: true,
		},
	}
	req.Command = "initialize"

	msg, err := c.roundTrip(ctx, req)
	if err != nil {
		return godap.Capabilities{}, err
	}
	resp, ok := msg.(*godap.InitializeResponse)
	if !ok {
		return godap.Capabilities{}, fmt.Errorf("unexpected %T response to initialize", msg)
	}
	return resp.Body, nil
}

// Launch starts the debuggee. Arguments are adapter-specific raw JSON.
func (c *Client) Launch(ctx context.Context, args json.RawMessage) error {
	req := &godap.LaunchRequest{Arguments: args}
	req.Command = "launch"

	_, err := c.roundTrip(ctx, req)
	return err
}

// ConfigurationDone tells the adapter all breakpoints are in place.
func (c *Client) ConfigurationDone(ctx context.Context) error {
	req := &godap.ConfigurationDoneRequest{}
	req.Command = "configurationDone"

	_, err := c.roundTrip(ctx, req)
	return err
}

// SetBreakpoints replaces the breakpoints of one source file and returns the
// placements the adapter actually made.
func (c *Client) SetBreakpoints(ctx context.Context, path string, bps []godap.SourceBreakpoint) ([]godap.Breakpoint, error) {
	req := &godap.SetBreakpointsRequest{
		Arguments: godap.SetBreakpointsArguments{
			Source:      godap.Source{Path: path},
			Breakpoints: bps,
		},
	}
	req.Command = "setBreakpoints"

	msg, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, ok := msg.(*godap.SetBreakpointsResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected %T response to setBreakpoints", msg)
	}
	return resp.Body.Breakpoints, nil
}

// Continue resumes a thread and reports whether all threads resumed.
func (c *Client) Continue(ctx context.Context, threadID int) (bool, error) {
	req := &godap.ContinueRequest{
		Arguments: godap.ContinueArguments{ThreadId: threadID},
	}
	req.Command = "continue"

	msg, err := c.roundTrip(ctx, req)
	if err != nil {
		return false, err
	}
	resp, ok := msg.(*godap.ContinueResponse)
	if !ok {
		return false, fmt.Errorf("unexpected %T response to continue", msg)
	}
	return resp.Body.AllThreadsContinued, nil
}

// Next steps over the current line.
func (c *Client) Next(ctx context.Context, threadID int) error {
	req := &godap.NextRequest{
		Arguments: godap.NextArguments{ThreadId: threadID},
	}
	req.Command = "next"

	_, err := c.roundTrip(ctx, req)
	return err
}

// StepIn steps into the call at the current line.
func (c *Client) StepIn(ctx context.Context, threadID int) error {
	req := &godap.StepInRequest{
		Arguments: godap.StepInArguments{ThreadId: threadID},
	}
	req.Command = "stepIn"

	_, err := c.roundTrip(ctx, req)
	return err
}

// StepOut runs until the current function returns.
func (c *Client) StepOut(ctx context.Context, threadID int) error {
	req := &godap.StepOutRequest{
		Arguments: godap.StepOutArguments{ThreadId: threadID},
	}
	req.Command = "stepOut"

	_, err := c.roundTrip(ctx, req)
	return err
}

// Pause interrupts a running thread.
func (c *Client) Pause(ctx context.Context, threadID int) error {
	req := &godap.PauseRequest{
		Arguments: godap.PauseArguments{ThreadId: threadID},
	}
	req.Command = "pause"

	_, err := c.roundTrip(ctx, req)
	return err
}

// StackTrace fetches the frames of a stopped thread.
func (c *Client) StackTrace(ctx context.Context, threadID int) ([]godap.StackFrame, error) {
	req := &godap.StackTraceRequest{
		Arguments: godap.StackTraceArguments{ThreadId: threadID},
	}
	req.Command = "stackTrace"

	msg, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, ok := msg.(*godap.StackTraceResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected %T response to stackTrace", msg)
	}
	return resp.Body.StackFrames, nil
}

// Scopes fetches the variable scopes of a stack frame.
func (c *Client) Scopes(ctx context.Context, frameID int) ([]godap.Scope, error) {
	req := &godap.ScopesRequest{
		Arguments: godap.ScopesArguments{FrameId: frameID},
	}
	req.Command = "scopes"

	msg, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, ok := msg.(*godap.ScopesResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected %T response to scopes", msg)
	}
	return resp.Body.Scopes, nil
}

// Variables fetches one level of children for a variables reference.
func (c *Client) Variables(ctx context.Context, reference int) ([]godap.Variable, error) {
	req := &godap.VariablesRequest{
		Arguments: godap.VariablesArguments{VariablesReference: reference},
	}
	req.Command = "variables"

	msg, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, ok := msg.(*godap.VariablesResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected %T response to variables", msg)
	}
	return resp.Body.Variables, nil
}

// Disconnect asks the adapter to end the session.
func (c *Client) Disconnect(ctx context.Context, terminateDebuggee bool) error {
	req := &godap.DisconnectRequest{
		Arguments: &godap.DisconnectArguments{TerminateDebuggee: terminateDebuggee},
	}
	req.Command = "disconnect"

	_, err := c.roundTrip(ctx, req)
	return err
}
