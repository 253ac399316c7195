package dap

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	godap "github.com/google/go-dap"
)

func newSessionPipes(t *testing.T) (Transport, *fakeAdapter) {
	t.Helper()

	clientIn, adapterOut := io.Pipe()
	adapterIn, clientOut := io.Pipe()
	t.Cleanup(func() {
		clientIn.Close()
		adapterOut.Close()
		adapterIn.Close()
		clientOut.Close()
	})

	conn := &pipeConn{
		Reader:  clientIn,
		Writer:  clientOut,
		closers: []io.Closer{clientIn, clientOut},
	}
	return NewRawTransport(conn), &fakeAdapter{in: bufio.NewReader(adapterIn), out: adapterOut}
}

func testRunConfig() RunDebugConfig {
	return RunDebugConfig{
		Name:    "debug main",
		Type:    "go",
		Program: "./cmd/app",
	}
}

// serveHandshake answers the initialize request.
func (f *fakeAdapter) serveHandshake(t *testing.T) {
	t.Helper()

	msg := f.read(t)
	req, ok := msg.(*godap.InitializeRequest)
	if !ok {
		t.Errorf("handshake received %T, expected *godap.InitializeRequest", msg)
		return
	}
	f.write(t, &godap.InitializeResponse{
		Response: successResponse(req.Seq, "initialize"),
		Body:     godap.Capabilities{SupportsConfigurationDoneRequest: true},
	})
}

// serveStopSnapshot raises a stopped event on thread 5 and answers the
// snapshot requests that follow: one frame (id 11), two scopes (refs 31, 32),
// and two variables in the first scope (y holding reference 41).
func (f *fakeAdapter) serveStopSnapshot(t *testing.T) {
	t.Helper()

	f.write(t, &godap.StoppedEvent{
		Event: newEvent("stopped"),
		Body:  godap.StoppedEventBody{Reason: "breakpoint", ThreadId: 5},
	})

	msg := f.read(t)
	st, ok := msg.(*godap.StackTraceRequest)
	if !ok {
		t.Errorf("snapshot received %T, expected *godap.StackTraceRequest", msg)
		return
	}
	if st.Arguments.ThreadId != 5 {
		t.Errorf("stackTrace thread = %d, expected 5", st.Arguments.ThreadId)
	}
	stResp := &godap.StackTraceResponse{Response: successResponse(st.Seq, "stackTrace")}
	stResp.Body.StackFrames = []godap.StackFrame{{Id: 11, Name: "main.main"}}
	stResp.Body.TotalFrames = 1
	f.write(t, stResp)

	msg = f.read(t)
	sc, ok := msg.(*godap.ScopesRequest)
	if !ok {
		t.Errorf("snapshot received %T, expected *godap.ScopesRequest", msg)
		return
	}
	if sc.Arguments.FrameId != 11 {
		t.Errorf("scopes frame = %d, expected 11", sc.Arguments.FrameId)
	}
	scResp := &godap.ScopesResponse{Response: successResponse(sc.Seq, "scopes")}
	scResp.Body.Scopes = []godap.Scope{
		{Name: "Locals", VariablesReference: 31},
		{Name: "Globals", VariablesReference: 32},
	}
	f.write(t, scResp)

	msg = f.read(t)
	vr, ok := msg.(*godap.VariablesRequest)
	if !ok {
		t.Errorf("snapshot received %T, expected *godap.VariablesRequest", msg)
		return
	}
	if vr.Arguments.VariablesReference != 31 {
		t.Errorf("variables reference = %d, expected 31", vr.Arguments.VariablesReference)
	}
	vrResp := &godap.VariablesResponse{Response: successResponse(vr.Seq, "variables")}
	vrResp.Body.Variables = []godap.Variable{
		{Name: "x", Value: "1"},
		{Name: "y", Value: "{...}", VariablesReference: 41},
	}
	f.write(t, vrResp)
}

func TestSessionLaunchSequence(t *testing.T) {
	transport, adapter := newSessionPipes(t)
	breakpoints := map[string][]godap.SourceBreakpoint{
		"/b.go": {{Line: 1}},
		"/a.go": {{Line: 3}},
	}

	go func() {
		adapter.serveHandshake(t)

		msg := adapter.read(t)
		launch, ok := msg.(*godap.LaunchRequest)
		if !ok {
			t.Errorf("adapter received %T, expected *godap.LaunchRequest", msg)
			return
		}
		var args map[string]any
		if err := json.Unmarshal(launch.Arguments, &args); err != nil {
			t.Errorf("unmarshal launch arguments: %v", err)
			return
		}
		if args["program"] != "./cmd/app" {
			t.Errorf("launch program = %v, expected ./cmd/app", args["program"])
		}

		// Readiness first; the launch response trails in after configuration,
		// the way debugpy sequences it.
		adapter.write(t, &godap.InitializedEvent{Event: newEvent("initialized")})

		for _, want := range []string{"/a.go", "/b.go"} {
			msg = adapter.read(t)
			sb, ok := msg.(*godap.SetBreakpointsRequest)
			if !ok {
				t.Errorf("adapter received %T, expected *godap.SetBreakpointsRequest", msg)
				return
			}
			if sb.Arguments.Source.Path != want {
				t.Errorf("breakpoint replay path = %q, expected %q", sb.Arguments.Source.Path, want)
			}
			resp := &godap.SetBreakpointsResponse{Response: successResponse(sb.Seq, "setBreakpoints")}
			for _, b := range sb.Arguments.Breakpoints {
				resp.Body.Breakpoints = append(resp.Body.Breakpoints, godap.Breakpoint{Verified: true, Line: b.Line})
			}
			adapter.write(t, resp)
		}

		msg = adapter.read(t)
		cd, ok := msg.(*godap.ConfigurationDoneRequest)
		if !ok {
			t.Errorf("adapter received %T, expected *godap.ConfigurationDoneRequest", msg)
			return
		}
		adapter.write(t, &godap.ConfigurationDoneResponse{Response: successResponse(cd.Seq, "configurationDone")})
		adapter.write(t, &godap.LaunchResponse{Response: successResponse(launch.Seq, "launch")})
	}()

	session, err := Connect(testCtx(t), transport, testRunConfig(), breakpoints, SessionHandlers{}, WithTimeout(3*time.Second))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(session.Stop)

	if got := session.State(); got != StateLaunching {
		t.Errorf("State() after connect = %v, expected %v", got, StateLaunching)
	}
	if !session.Capabilities().SupportsConfigurationDoneRequest {
		t.Error("Capabilities().SupportsConfigurationDoneRequest = false, expected true")
	}

	if err := session.Launch(testCtx(t)); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if got := session.State(); got != StateRunning {
		t.Errorf("State() after launch = %v, expected %v", got, StateRunning)
	}
}

func TestSessionStoppedSnapshot(t *testing.T) {
	transport, adapter := newSessionPipes(t)

	type stopReport struct {
		stopped Stopped
		frames  []godap.StackFrame
		scopes  []ScopeVars
	}
	reports := make(chan stopReport, 1)

	go func() {
		adapter.serveHandshake(t)
		adapter.serveStopSnapshot(t)
	}()

	session, err := Connect(testCtx(t), transport, testRunConfig(), nil, SessionHandlers{
		Stopped: func(id ID, stopped Stopped, frames []godap.StackFrame, scopes []ScopeVars) {
			reports <- stopReport{stopped: stopped, frames: frames, scopes: scopes}
		},
	}, WithTimeout(3*time.Second))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(session.Stop)

	var report stopReport
	select {
	case report = <-reports:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for stopped report")
	}

	if report.stopped.Reason != "breakpoint" || report.stopped.ThreadID != 5 {
		t.Errorf("stopped = %+v, expected breakpoint on thread 5", report.stopped)
	}
	if len(report.frames) != 1 || report.frames[0].Id != 11 {
		t.Errorf("frames = %+v, expected single frame 11", report.frames)
	}
	if len(report.scopes) != 2 {
		t.Fatalf("len(scopes) = %d, expected 2", len(report.scopes))
	}
	if len(report.scopes[0].Variables) != 2 {
		t.Errorf("first scope variables = %d, expected 2", len(report.scopes[0].Variables))
	}
	if report.scopes[1].Variables != nil {
		t.Errorf("second scope variables = %v, expected none", report.scopes[1].Variables)
	}

	if got := session.State(); got != StateStopped {
		t.Errorf("State() = %v, expected %v", got, StateStopped)
	}
	if got := session.StoppedThread(); got != 5 {
		t.Errorf("StoppedThread() = %d, expected 5", got)
	}

	tree := session.Tree()
	if tree == nil {
		t.Fatal("Tree() = nil, expected snapshot tree")
	}
	if got := tree.VisibleCount(); got != 4 {
		t.Errorf("VisibleCount() = %d, expected 4", got)
	}
}

func TestSessionFetchVariablesExpands(t *testing.T) {
	transport, adapter := newSessionPipes(t)
	reported := make(chan struct{}, 1)

	go func() {
		adapter.serveHandshake(t)
		adapter.serveStopSnapshot(t)

		msg := adapter.read(t)
		vr, ok := msg.(*godap.VariablesRequest)
		if !ok {
			t.Errorf("adapter received %T, expected *godap.VariablesRequest", msg)
			return
		}
		if vr.Arguments.VariablesReference != 41 {
			t.Errorf("variables reference = %d, expected 41", vr.Arguments.VariablesReference)
		}
		resp := &godap.VariablesResponse{Response: successResponse(vr.Seq, "variables")}
		resp.Body.Variables = []godap.Variable{{Name: "z", Value: "3"}}
		adapter.write(t, resp)
	}()

	session, err := Connect(testCtx(t), transport, testRunConfig(), nil, SessionHandlers{
		Stopped: func(ID, Stopped, []godap.StackFrame, []ScopeVars) { reported <- struct{}{} },
	}, WithTimeout(3*time.Second))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(session.Stop)

	select {
	case <-reported:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for stop snapshot")
	}

	vars, err := session.FetchVariables(testCtx(t), 41)
	if err != nil {
		t.Fatalf("FetchVariables() error = %v", err)
	}
	if len(vars) != 1 || vars[0].Name != "z" {
		t.Errorf("FetchVariables() = %+v, expected single variable z", vars)
	}

	tree := session.Tree()
	node := tree.FindReference(41)
	if node == nil {
		t.Fatal("FindReference(41) = nil, expected expanded node")
	}
	if !node.Read || !node.Expanded {
		t.Errorf("node Read/Expanded = %v/%v, expected true/true", node.Read, node.Expanded)
	}
	if node.ChildrenExpandedCount != 1 {
		t.Errorf("node ChildrenExpandedCount = %d, expected 1", node.ChildrenExpandedCount)
	}
	// Locals now shows x, y and y's child; Globals stays closed.
	if got := tree.VisibleCount(); got != 5 {
		t.Errorf("VisibleCount() = %d, expected 5", got)
	}
}

func TestSessionContinueClearsStopped(t *testing.T) {
	transport, adapter := newSessionPipes(t)
	reported := make(chan struct{}, 1)

	go func() {
		adapter.serveHandshake(t)
		adapter.serveStopSnapshot(t)

		msg := adapter.read(t)
		cont, ok := msg.(*godap.ContinueRequest)
		if !ok {
			t.Errorf("adapter received %T, expected *godap.ContinueRequest", msg)
			return
		}
		if cont.Arguments.ThreadId != 5 {
			t.Errorf("continue thread = %d, expected 5", cont.Arguments.ThreadId)
		}
		resp := &godap.ContinueResponse{Response: successResponse(cont.Seq, "continue")}
		resp.Body.AllThreadsContinued = true
		adapter.write(t, resp)
	}()

	session, err := Connect(testCtx(t), transport, testRunConfig(), nil, SessionHandlers{
		Stopped: func(ID, Stopped, []godap.StackFrame, []ScopeVars) { reported <- struct{}{} },
	}, WithTimeout(3*time.Second))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(session.Stop)

	select {
	case <-reported:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for stop snapshot")
	}

	if err := session.Continue(testCtx(t), session.StoppedThread()); err != nil {
		t.Fatalf("Continue() error = %v", err)
	}
	if got := session.State(); got != StateRunning {
		t.Errorf("State() = %v, expected %v", got, StateRunning)
	}
	if got := session.StoppedThread(); got != 0 {
		t.Errorf("StoppedThread() = %d, expected 0", got)
	}
}

func TestSessionDisconnectTerminatesOnce(t *testing.T) {
	transport, adapter := newSessionPipes(t)
	terminated := make(chan ID, 2)

	go func() {
		adapter.serveHandshake(t)

		msg := adapter.read(t)
		disc, ok := msg.(*godap.DisconnectRequest)
		if !ok {
			t.Errorf("adapter received %T, expected *godap.DisconnectRequest", msg)
			return
		}
		if !disc.Arguments.TerminateDebuggee {
			t.Error("TerminateDebuggee = false, expected true")
		}
		adapter.write(t, &godap.DisconnectResponse{Response: successResponse(disc.Seq, "disconnect")})
		adapter.write(t, &godap.TerminatedEvent{Event: newEvent("terminated")})
		adapter.out.Close()
	}()

	session, err := Connect(testCtx(t), transport, testRunConfig(), nil, SessionHandlers{
		Terminated: func(id ID) { terminated <- id },
	}, WithTimeout(3*time.Second))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := session.Disconnect(testCtx(t)); err != nil {
		t.Errorf("Disconnect() error = %v", err)
	}
	if got := session.State(); got != StateDisconnected {
		t.Errorf("State() = %v, expected %v", got, StateDisconnected)
	}

	select {
	case id := <-terminated:
		if id != session.ID() {
			t.Errorf("Terminated id = %q, expected %q", id, session.ID())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for terminated handler")
	}

	// The disconnect handshake, the terminated event and the closing pipe all
	// race to end the session; the handler still fires only once.
	select {
	case <-terminated:
		t.Error("Terminated handler fired more than once")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSessionAdapterExit(t *testing.T) {
	transport, adapter := newSessionPipes(t)
	terminated := make(chan ID, 2)

	go func() {
		adapter.serveHandshake(t)
		adapter.out.Close()
	}()

	session, err := Connect(testCtx(t), transport, testRunConfig(), nil, SessionHandlers{
		Terminated: func(id ID) { terminated <- id },
	}, WithTimeout(3*time.Second))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	select {
	case <-terminated:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for terminated handler")
	}
	if got := session.State(); got != StateDisconnected {
		t.Errorf("State() = %v, expected %v", got, StateDisconnected)
	}
}

func TestSessionSetProcessID(t *testing.T) {
	transport, adapter := newSessionPipes(t)
	requested := make(chan struct{}, 1)

	go func() {
		adapter.serveHandshake(t)

		adapter.write(t, &godap.RunInTerminalRequest{
			Request: godap.Request{
				ProtocolMessage: godap.ProtocolMessage{Seq: 77, Type: "request"},
				Command:         "runInTerminal",
			},
			Arguments: godap.RunInTerminalRequestArguments{Kind: "integrated", Args: []string{"./cmd/app"}},
		})

		msg := adapter.read(t)
		resp, ok := msg.(*godap.RunInTerminalResponse)
		if !ok {
			t.Errorf("adapter received %T, expected *godap.RunInTerminalResponse", msg)
			return
		}
		if resp.RequestSeq != 77 {
			t.Errorf("RequestSeq = %d, expected 77", resp.RequestSeq)
		}
		if resp.Body.ProcessId != 9001 {
			t.Errorf("ProcessId = %d, expected 9001", resp.Body.ProcessId)
		}
	}()

	session, err := Connect(testCtx(t), transport, testRunConfig(), nil, SessionHandlers{
		RunInTerminal: func(id ID, args godap.RunInTerminalRequestArguments) { requested <- struct{}{} },
	}, WithTimeout(3*time.Second))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(session.Stop)

	if err := session.SetProcessID(9001); !errors.Is(err, ErrNoRunInTerminal) {
		t.Errorf("SetProcessID() before request error = %v, expected ErrNoRunInTerminal", err)
	}

	select {
	case <-requested:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for runInTerminal handler")
	}

	if err := session.SetProcessID(9001); err != nil {
		t.Fatalf("SetProcessID() error = %v", err)
	}
	if err := session.SetProcessID(9001); !errors.Is(err, ErrNoRunInTerminal) {
		t.Errorf("second SetProcessID() error = %v, expected ErrNoRunInTerminal", err)
	}
}

func TestSessionFetchScopesEmpty(t *testing.T) {
	transport, adapter := newSessionPipes(t)

	go func() {
		adapter.serveHandshake(t)

		msg := adapter.read(t)
		sc, ok := msg.(*godap.ScopesRequest)
		if !ok {
			t.Errorf("adapter received %T, expected *godap.ScopesRequest", msg)
			return
		}
		adapter.write(t, &godap.ScopesResponse{Response: successResponse(sc.Seq, "scopes")})
	}()

	session, err := Connect(testCtx(t), transport, testRunConfig(), nil, SessionHandlers{}, WithTimeout(3*time.Second))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(session.Stop)

	pairs, err := session.FetchScopes(testCtx(t), 11)
	if err != nil {
		t.Fatalf("FetchScopes() error = %v", err)
	}
	if pairs != nil {
		t.Errorf("FetchScopes() = %+v, expected nil for no scopes", pairs)
	}
	if tree := session.Tree(); tree == nil || !tree.Empty() {
		t.Error("Tree() after empty fetch should be empty")
	}
}

func TestSessionFetchScopesVariableFailure(t *testing.T) {
	transport, adapter := newSessionPipes(t)

	go func() {
		adapter.serveHandshake(t)

		msg := adapter.read(t)
		sc, ok := msg.(*godap.ScopesRequest)
		if !ok {
			t.Errorf("adapter received %T, expected *godap.ScopesRequest", msg)
			return
		}
		scResp := &godap.ScopesResponse{Response: successResponse(sc.Seq, "scopes")}
		scResp.Body.Scopes = []godap.Scope{{Name: "Locals", VariablesReference: 31}}
		adapter.write(t, scResp)

		msg = adapter.read(t)
		vr, ok := msg.(*godap.VariablesRequest)
		if !ok {
			t.Errorf("adapter received %T, expected *godap.VariablesRequest", msg)
			return
		}
		fail := &godap.ErrorResponse{
			Response: godap.Response{
				ProtocolMessage: godap.ProtocolMessage{Type: "response"},
				RequestSeq:      vr.Seq,
				Success:         false,
				Command:         "variables",
				Message:         "frame gone",
			},
		}
		fail.Body.Error = &godap.ErrorMessage{Format: "frame gone"}
		adapter.write(t, fail)
	}()

	session, err := Connect(testCtx(t), transport, testRunConfig(), nil, SessionHandlers{}, WithTimeout(3*time.Second))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(session.Stop)

	pairs, err := session.FetchScopes(testCtx(t), 11)
	if err != nil {
		t.Fatalf("FetchScopes() error = %v, expected success despite variable failure", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("len(pairs) = %d, expected 1", len(pairs))
	}
	if pairs[0].Variables != nil {
		t.Errorf("first scope variables = %+v, expected none after failed fetch", pairs[0].Variables)
	}
}

func TestSessionFetchScopesResetsTree(t *testing.T) {
	transport, adapter := newSessionPipes(t)

	go func() {
		adapter.serveHandshake(t)

		// First fetch: two scopes, then the expansion of y.
		msg := adapter.read(t)
		sc, ok := msg.(*godap.ScopesRequest)
		if !ok {
			t.Errorf("adapter received %T, expected *godap.ScopesRequest", msg)
			return
		}
		scResp := &godap.ScopesResponse{Response: successResponse(sc.Seq, "scopes")}
		scResp.Body.Scopes = []godap.Scope{
			{Name: "Locals", VariablesReference: 31},
			{Name: "Globals", VariablesReference: 32},
		}
		adapter.write(t, scResp)

		msg = adapter.read(t)
		vr, ok := msg.(*godap.VariablesRequest)
		if !ok {
			t.Errorf("adapter received %T, expected *godap.VariablesRequest", msg)
			return
		}
		vrResp := &godap.VariablesResponse{Response: successResponse(vr.Seq, "variables")}
		vrResp.Body.Variables = []godap.Variable{
			{Name: "x", Value: "1"},
			{Name: "y", Value: "{...}", VariablesReference: 41},
		}
		adapter.write(t, vrResp)

		msg = adapter.read(t)
		vr, ok = msg.(*godap.VariablesRequest)
		if !ok {
			t.Errorf("adapter received %T, expected *godap.VariablesRequest", msg)
			return
		}
		if vr.Arguments.VariablesReference != 41 {
			t.Errorf("variables reference = %d, expected 41", vr.Arguments.VariablesReference)
		}
		vrResp = &godap.VariablesResponse{Response: successResponse(vr.Seq, "variables")}
		vrResp.Body.Variables = []godap.Variable{{Name: "z", Value: "3"}}
		adapter.write(t, vrResp)

		// Second fetch: a single fresh scope.
		msg = adapter.read(t)
		sc, ok = msg.(*godap.ScopesRequest)
		if !ok {
			t.Errorf("adapter received %T, expected *godap.ScopesRequest", msg)
			return
		}
		scResp = &godap.ScopesResponse{Response: successResponse(sc.Seq, "scopes")}
		scResp.Body.Scopes = []godap.Scope{{Name: "Registers", VariablesReference: 51}}
		adapter.write(t, scResp)

		msg = adapter.read(t)
		vr, ok = msg.(*godap.VariablesRequest)
		if !ok {
			t.Errorf("adapter received %T, expected *godap.VariablesRequest", msg)
			return
		}
		vrResp = &godap.VariablesResponse{Response: successResponse(vr.Seq, "variables")}
		vrResp.Body.Variables = []godap.Variable{{Name: "r0", Value: "0x0"}}
		adapter.write(t, vrResp)
	}()

	session, err := Connect(testCtx(t), transport, testRunConfig(), nil, SessionHandlers{}, WithTimeout(3*time.Second))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(session.Stop)

	if _, err := session.FetchScopes(testCtx(t), 11); err != nil {
		t.Fatalf("FetchScopes() error = %v", err)
	}
	if _, err := session.FetchVariables(testCtx(t), 41); err != nil {
		t.Fatalf("FetchVariables() error = %v", err)
	}
	if got := session.Tree().VisibleCount(); got != 5 {
		t.Errorf("VisibleCount() after expansion = %d, expected 5", got)
	}

	pairs, err := session.FetchScopes(testCtx(t), 12)
	if err != nil {
		t.Fatalf("FetchScopes() error = %v", err)
	}
	if len(pairs) != 1 || len(pairs[0].Variables) != 1 {
		t.Fatalf("second fetch = %+v, expected one scope with one variable", pairs)
	}

	tree := session.Tree()
	if node := tree.FindReference(41); node != nil {
		t.Errorf("FindReference(41) = %v, expected nil after rebuild", node.Name())
	}
	if tree.FindReference(51) == nil {
		t.Error("FindReference(51) = nil, expected the fresh scope")
	}
	if got := tree.VisibleCount(); got != 2 {
		t.Errorf("VisibleCount() = %d, expected 2", got)
	}
}
