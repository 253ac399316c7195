package plugin

import (
	"context"

	godap "github.com/google/go-dap"

	"github.com/dshills/voltproxy/internal/dap"
	"github.com/dshills/voltproxy/internal/psp"
	"github.com/dshills/voltproxy/internal/rpc"
	"github.com/dshills/voltproxy/internal/volt"
)

// ServerHandle is one running plugin server as the catalog drives it.
// *psp.Server satisfies it; tests substitute recorders.
type ServerHandle interface {
	ID() rpc.PluginID
	Volt() *volt.Metadata
	SpawnedBy() rpc.PluginID
	SendRequest(route psp.Route, id uint64, method string, params any, cb rpc.ResponseCallback)
	SendNotification(route psp.Route, method string, params any)
	Shutdown(ctx context.Context) error
}

// DebugSession is one running debug-adapter session as the catalog drives
// it. *dap.Session satisfies it.
type DebugSession interface {
	ID() dap.ID
	Config() dap.RunDebugConfig
	Launch(ctx context.Context) error
	Continue(ctx context.Context, threadID int) error
	Pause(ctx context.Context, threadID int) error
	Next(ctx context.Context, threadID int) error
	StepIn(ctx context.Context, threadID int) error
	StepOut(ctx context.Context, threadID int) error
	SetBreakpoints(ctx context.Context, path string, bps []godap.SourceBreakpoint) ([]godap.Breakpoint, error)
	FetchScopes(ctx context.Context, frameID int) ([]dap.ScopeVars, error)
	FetchVariables(ctx context.Context, reference int) ([]godap.Variable, error)
	SetProcessID(pid int) error
	Disconnect(ctx context.Context) error
	Stop()
}

// CoreClient is the upstream connection to the editor front-end. Calls must
// not block; they may arrive from the actor goroutine or from workers.
type CoreClient interface {
	// ShowMessage surfaces a user-visible message.
	ShowMessage(title string, level rpc.MessageLevel, message string)

	// LogMessage forwards a plugin's log line.
	LogMessage(level rpc.MessageLevel, message, target string)

	// VoltActivated reports a plugin server that came up.
	VoltActivated(info volt.Info)

	// VoltRemoved reports a volt that is gone from this run.
	VoltRemoved(id volt.ID)

	// DapLoaded reports a debug session that is registered and launching.
	DapLoaded(id dap.ID)

	// DapStopped reports a halt with its eager snapshot.
	DapStopped(id dap.ID, stopped dap.Stopped, frames []godap.StackFrame, scopes []dap.ScopeVars)

	// DapContinued reports that a session resumed.
	DapContinued(id dap.ID)

	// DapBreakpointsResp reports adapter-verified breakpoint placements.
	DapBreakpointsResp(id dap.ID, path string, breakpoints []godap.Breakpoint)

	// DapRunInTerminal asks the editor to start the debuggee in a terminal;
	// the editor answers with a DapProcessID notification.
	DapRunInTerminal(id dap.ID, args godap.RunInTerminalRequestArguments)
}

// Loader performs volt discovery and installation on disk. *volt.Loader
// satisfies it.
type Loader interface {
	Discover() []*volt.Metadata
	Find(id volt.ID) (*volt.Metadata, error)
	Install(src string) (*volt.Metadata, error)
	Remove(id volt.ID) error
}

// Starter spawns one plugin server. The default wraps psp.Start.
type Starter func(ctx context.Context, opts psp.Options) (ServerHandle, error)

// DebugStarter spawns one debug-adapter session. The default wraps
// dap.Start.
type DebugStarter func(ctx context.Context, spec dap.DebuggerSpec, config dap.RunDebugConfig, breakpoints map[string][]godap.SourceBreakpoint, handlers dap.SessionHandlers) (DebugSession, error)

func defaultStarter(ctx context.Context, opts psp.Options) (ServerHandle, error) {
	return psp.Start(ctx, opts)
}

func defaultDebugStarter(ctx context.Context, spec dap.DebuggerSpec, config dap.RunDebugConfig, breakpoints map[string][]godap.SourceBreakpoint, handlers dap.SessionHandlers) (DebugSession, error) {
	return dap.Start(ctx, spec, config, breakpoints, handlers)
}
