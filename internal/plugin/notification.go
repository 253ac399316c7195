package plugin

import (
	"encoding/json"
	"sync/atomic"

	godap "github.com/google/go-dap"

	"github.com/dshills/voltproxy/internal/dap"
	"github.com/dshills/voltproxy/internal/psp"
	"github.com/dshills/voltproxy/internal/rpc"
	"github.com/dshills/voltproxy/internal/volt"
)

// Notification is one message on the catalog's queue. Every state mutation
// travels through a Notification so the Run loop stays the single writer;
// background workers report their outcomes by enqueueing further
// notifications.
type Notification interface {
	// kind names the message for logs.
	kind() string
}

// Document is one open editor document as the catalog tracks it. Text is kept
// so servers activated later can be brought up to date.
type Document struct {
	Path       string
	URI        string
	LanguageID string
	Version    int
	Text       string
}

// ScopesReply receives the result of a DapGetScopes message. Exactly one of
// scopes and rerr is meaningful.
type ScopesReply func(scopes []dap.ScopeVars, rerr *rpc.Error)

// VariablesReply receives the result of a DapGetVariables message.
type VariablesReply func(vars []godap.Variable, rerr *rpc.Error)

// ServerRequest asks the catalog to route a request to one plugin (Plugin
// set) or to every plugin (Plugin nil). The callback fires exactly once per
// addressed target; RequestSent, when non-nil, is incremented by the number
// of replies the caller should expect.
type ServerRequest struct {
	Plugin      *rpc.PluginID
	RequestSent *atomic.Int64
	Method      string
	Params      any
	Route       psp.Route
	ID          uint64
	Callback    rpc.ResponseCallback
}

// ServerNotification routes a notification to one or all plugins. No reply.
type ServerNotification struct {
	Plugin *rpc.PluginID
	Method string
	Params any
	Route  psp.Route
}

// DidOpen records an opened document, runs the activation gate, and
// broadcasts the open to activated plugins.
type DidOpen struct {
	Doc Document
}

// DidChange updates a tracked document and broadcasts the change.
type DidChange struct {
	Path    string
	Version int
	Text    string
}

// DidSave broadcasts a document save.
type DidSave struct {
	Path string
}

// UnactivatedVolts registers a batch of discovered volts for lazy activation.
type UnactivatedVolts struct {
	Volts []*volt.Metadata
}

// UpdatePluginConfigs replaces the per-volt user configuration wholesale.
// Replacement never re-triggers activation.
type UpdatePluginConfigs struct {
	Configs map[string]map[string]any
}

// PluginServerLoaded registers a plugin server that finished starting.
type PluginServerLoaded struct {
	Handle ServerHandle
}

// InstallVolt stops any running instance of the volt, then installs from the
// unpacked directory Src in the background.
type InstallVolt struct {
	Info volt.Info
	Src  string
}

// RemoveVolt stops and deletes an installed volt.
type RemoveVolt struct {
	Info volt.Info
}

// ReloadVolt shuts down the volt's running servers and re-registers it as
// unactivated so the normal activation path restarts it.
type ReloadVolt struct {
	Meta *volt.Metadata
}

// StopVolt shuts down every plugin server belonging to the volt.
type StopVolt struct {
	Info volt.Info
}

// EnableVolt clears the volt's disabled mark and registers it for
// activation. A no-op when a server for the volt is already running.
type EnableVolt struct {
	Info volt.Info
}

// DisableVolt stops the volt and marks it so it will not activate again.
type DisableVolt struct {
	Info volt.Info
}

// VoltDiscovered registers a volt that appeared on disk while running.
type VoltDiscovered struct {
	Meta *volt.Metadata
}

// VoltGone drops a volt whose directory vanished from disk.
type VoltGone struct {
	Dir string
}

// RegisterDebuggerType records how to spawn debug adapters of one type.
type RegisterDebuggerType struct {
	DebuggerType string
	Program      string
	Args         []string
}

// DapStart spawns a debug session for the run configuration.
type DapStart struct {
	Config      dap.RunDebugConfig
	Breakpoints map[string][]godap.SourceBreakpoint
}

// DapRestart stops the configuration's existing session, then starts anew.
type DapRestart struct {
	Config      dap.RunDebugConfig
	Breakpoints map[string][]godap.SourceBreakpoint
}

// DapLoaded registers a debug session that finished starting.
type DapLoaded struct {
	Session DebugSession
}

// DapDisconnected removes a session whose adapter connection ended.
type DapDisconnected struct {
	ID dap.ID
}

// DapContinue resumes a stopped thread.
type DapContinue struct {
	ID       dap.ID
	ThreadID int
}

// DapPause interrupts a running thread.
type DapPause struct {
	ID       dap.ID
	ThreadID int
}

// DapStepOver steps over the current line.
type DapStepOver struct {
	ID       dap.ID
	ThreadID int
}

// DapStepInto steps into the current call.
type DapStepInto struct {
	ID       dap.ID
	ThreadID int
}

// DapStepOut runs until the current function returns.
type DapStepOut struct {
	ID       dap.ID
	ThreadID int
}

// DapStop removes the session from the registry at once and kills the
// adapter.
type DapStop struct {
	ID dap.ID
}

// DapDisconnect negotiates an orderly shutdown; the registry entry stays
// until the DapDisconnected completion arrives.
type DapDisconnect struct {
	ID dap.ID
}

// DapSetBreakpoints replaces one file's breakpoints; verified placements are
// reported upstream.
type DapSetBreakpoints struct {
	ID          dap.ID
	Path        string
	Breakpoints []godap.SourceBreakpoint
}

// DapProcessID reports the process id of a debuggee the editor started in a
// terminal. Ignored unless the session's run configuration declares a debug
// command.
type DapProcessID struct {
	ID        dap.ID
	ProcessID int
	TermID    string
}

// DapGetScopes fetches a frame's scopes plus the first scope's variables,
// resetting the session's variable tree.
type DapGetScopes struct {
	ID      dap.ID
	FrameID int
	Reply   ScopesReply
}

// DapGetVariables fetches one level of children for a variables reference.
type DapGetVariables struct {
	ID        dap.ID
	Reference int
	Reply     VariablesReply
}

// Shutdown stops every plugin server and debug session and ends the Run
// loop.
type Shutdown struct{}

// pluginExited reports that a plugin server process died.
type pluginExited struct {
	Plugin rpc.PluginID
	Err    error
}

// hostNotification carries a plugin-initiated notification onto the actor so
// it can consult the registry while handling it.
type hostNotification struct {
	Plugin rpc.PluginID
	Method string
	Params json.RawMessage
}

func (ServerRequest) kind() string        { return "server-request" }
func (ServerNotification) kind() string   { return "server-notification" }
func (DidOpen) kind() string              { return "did-open" }
func (DidChange) kind() string            { return "did-change" }
func (DidSave) kind() string              { return "did-save" }
func (UnactivatedVolts) kind() string     { return "unactivated-volts" }
func (UpdatePluginConfigs) kind() string  { return "update-plugin-configs" }
func (PluginServerLoaded) kind() string   { return "plugin-server-loaded" }
func (InstallVolt) kind() string          { return "install-volt" }
func (RemoveVolt) kind() string           { return "remove-volt" }
func (ReloadVolt) kind() string           { return "reload-volt" }
func (StopVolt) kind() string             { return "stop-volt" }
func (EnableVolt) kind() string           { return "enable-volt" }
func (DisableVolt) kind() string          { return "disable-volt" }
func (VoltDiscovered) kind() string       { return "volt-discovered" }
func (VoltGone) kind() string             { return "volt-gone" }
func (RegisterDebuggerType) kind() string { return "register-debugger-type" }
func (DapStart) kind() string             { return "dap-start" }
func (DapRestart) kind() string           { return "dap-restart" }
func (DapLoaded) kind() string            { return "dap-loaded" }
func (DapDisconnected) kind() string      { return "dap-disconnected" }
func (DapContinue) kind() string          { return "dap-continue" }
func (DapPause) kind() string             { return "dap-pause" }
func (DapStepOver) kind() string          { return "dap-step-over" }
func (DapStepInto) kind() string          { return "dap-step-into" }
func (DapStepOut) kind() string           { return "dap-step-out" }
func (DapStop) kind() string              { return "dap-stop" }
func (DapDisconnect) kind() string        { return "dap-disconnect" }
func (DapSetBreakpoints) kind() string    { return "dap-set-breakpoints" }
func (DapProcessID) kind() string         { return "dap-process-id" }
func (DapGetScopes) kind() string         { return "dap-get-scopes" }
func (DapGetVariables) kind() string      { return "dap-get-variables" }
func (Shutdown) kind() string             { return "shutdown" }
func (pluginExited) kind() string         { return "plugin-exited" }
func (hostNotification) kind() string     { return "host-notification" }
