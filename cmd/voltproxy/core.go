package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	godap "github.com/google/go-dap"

	"github.com/dshills/voltproxy/internal/dap"
	"github.com/dshills/voltproxy/internal/plugin"
	"github.com/dshills/voltproxy/internal/psp"
	"github.com/dshills/voltproxy/internal/rpc"
	"github.com/dshills/voltproxy/internal/volt"
)

// Methods the proxy sends to the editor core.
const (
	coreShowMessage      = "core/showMessage"
	coreLogMessage       = "core/logMessage"
	coreVoltActivated    = "core/voltActivated"
	coreVoltRemoved      = "core/voltRemoved"
	coreDapLoaded        = "core/dapLoaded"
	coreDapStopped       = "core/dapStopped"
	coreDapContinued     = "core/dapContinued"
	coreDapBreakpoints   = "core/dapBreakpoints"
	coreDapRunInTerminal = "core/dapRunInTerminal"
)

// Methods the editor core sends to the proxy.
const (
	proxyDidOpen       = "proxy/didOpen"
	proxyDidChange     = "proxy/didChange"
	proxyDidSave       = "proxy/didSave"
	proxyRequest       = "proxy/request"
	proxyNotify        = "proxy/notify"
	proxyUpdateConfigs = "proxy/updateConfigs"
	proxyInstallVolt   = "proxy/installVolt"
	proxyRemoveVolt    = "proxy/removeVolt"
	proxyStopVolt      = "proxy/stopVolt"
	proxyEnableVolt    = "proxy/enableVolt"
	proxyDisableVolt   = "proxy/disableVolt"
	proxyRunConfigs    = "proxy/runConfigs"

	proxyDapStart          = "proxy/dapStart"
	proxyDapRestart        = "proxy/dapRestart"
	proxyDapContinue       = "proxy/dapContinue"
	proxyDapPause          = "proxy/dapPause"
	proxyDapStepOver       = "proxy/dapStepOver"
	proxyDapStepInto       = "proxy/dapStepInto"
	proxyDapStepOut        = "proxy/dapStepOut"
	proxyDapStop           = "proxy/dapStop"
	proxyDapDisconnect     = "proxy/dapDisconnect"
	proxyDapSetBreakpoints = "proxy/dapSetBreakpoints"
	proxyDapProcessID      = "proxy/dapProcessId"
	proxyDapGetScopes      = "proxy/dapGetScopes"
	proxyDapGetVariables   = "proxy/dapGetVariables"

	proxyShutdown = "proxy/shutdown"
)

// coreLink is the JSON-RPC connection to the editor core. It implements
// plugin.CoreClient on the outbound side and translates inbound core
// traffic into catalog messages. bind must be called before start.
type coreLink struct {
	tr        *psp.Transport
	workspace string
	logger    *slog.Logger
	catalog   *plugin.Catalog
}

func newCoreLink(r io.Reader, w io.Writer, workspace string, logger *slog.Logger) *coreLink {
	link := &coreLink{
		workspace: workspace,
		logger:    logger,
	}
	link.tr = psp.NewTransport(&shutdownOnEOF{r: r, link: link}, w, nil, psp.TransportHandlers{
		Notification: link.onNotification,
		RequestAsync: link.onRequest,
	})
	return link
}

// bind attaches the catalog the inbound traffic feeds.
func (l *coreLink) bind(catalog *plugin.Catalog) {
	l.catalog = catalog
}

// start begins reading core traffic.
func (l *coreLink) start(ctx context.Context) {
	l.tr.Start(ctx)
}

// shutdownOnEOF shuts the catalog down when the core closes its end, so the
// proxy does not outlive the editor.
type shutdownOnEOF struct {
	r    io.Reader
	link *coreLink
	once sync.Once
}

func (s *shutdownOnEOF) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err == io.EOF {
		s.once.Do(func() {
			s.link.logger.Info("editor core disconnected")
			s.link.catalog.Notify(plugin.Shutdown{})
		})
	}
	return n, err
}

// notify sends one notification upstream; failures are logged, never fatal.
func (l *coreLink) notify(method string, params any) {
	if err := l.tr.Notify(method, params); err != nil {
		l.logger.Warn("core notification failed", "method", method, "err", err)
	}
}

// Outbound wire shapes. The core side decodes by field name, so these stay
// in lockstep with the editor's definitions.
type showMessageParams struct {
	Title   string           `json:"title"`
	Level   rpc.MessageLevel `json:"level"`
	Message string           `json:"message"`
}

type logMessageParams struct {
	Level   rpc.MessageLevel `json:"level"`
	Message string           `json:"message"`
	Target  string           `json:"target,omitempty"`
}

type voltActivatedParams struct {
	Volt volt.Info `json:"volt"`
}

type voltRemovedParams struct {
	VoltID volt.ID `json:"volt_id"`
}

type dapIDParams struct {
	DapID dap.ID `json:"dap_id"`
}

type dapStoppedParams struct {
	DapID       dap.ID             `json:"dap_id"`
	Stopped     dap.Stopped        `json:"stopped"`
	StackFrames []godap.StackFrame `json:"stack_frames"`
	Scopes      []dap.ScopeVars    `json:"scopes"`
}

type dapBreakpointsParams struct {
	DapID       dap.ID             `json:"dap_id"`
	Path        string             `json:"path"`
	Breakpoints []godap.Breakpoint `json:"breakpoints"`
}

type dapRunInTerminalParams struct {
	DapID dap.ID                              `json:"dap_id"`
	Args  godap.RunInTerminalRequestArguments `json:"args"`
}

func (l *coreLink) ShowMessage(title string, level rpc.MessageLevel, message string) {
	l.notify(coreShowMessage, showMessageParams{Title: title, Level: level, Message: message})
}

func (l *coreLink) LogMessage(level rpc.MessageLevel, message, target string) {
	l.notify(coreLogMessage, logMessageParams{Level: level, Message: message, Target: target})
}

func (l *coreLink) VoltActivated(info volt.Info) {
	l.notify(coreVoltActivated, voltActivatedParams{Volt: info})
}

func (l *coreLink) VoltRemoved(id volt.ID) {
	l.notify(coreVoltRemoved, voltRemovedParams{VoltID: id})
}

func (l *coreLink) DapLoaded(id dap.ID) {
	l.notify(coreDapLoaded, dapIDParams{DapID: id})
}

func (l *coreLink) DapStopped(id dap.ID, stopped dap.Stopped, frames []godap.StackFrame, scopes []dap.ScopeVars) {
	l.notify(coreDapStopped, dapStoppedParams{DapID: id, Stopped: stopped, StackFrames: frames, Scopes: scopes})
}

func (l *coreLink) DapContinued(id dap.ID) {
	l.notify(coreDapContinued, dapIDParams{DapID: id})
}

func (l *coreLink) DapBreakpointsResp(id dap.ID, path string, breakpoints []godap.Breakpoint) {
	l.notify(coreDapBreakpoints, dapBreakpointsParams{DapID: id, Path: path, Breakpoints: breakpoints})
}

func (l *coreLink) DapRunInTerminal(id dap.ID, args godap.RunInTerminalRequestArguments) {
	l.notify(coreDapRunInTerminal, dapRunInTerminalParams{DapID: id, Args: args})
}

// Inbound wire shapes.
type documentParams struct {
	Path       string `json:"path"`
	URI        string `json:"uri"`
	LanguageID string `json:"language_id"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

type requestParams struct {
	Plugin     rpc.PluginID    `json:"plugin,omitempty"`
	ID         uint64          `json:"id"`
	Method     string          `json:"method"`
	Params     json.RawMessage `json:"params"`
	LanguageID string          `json:"language_id,omitempty"`
	Path       string          `json:"path,omitempty"`
	Check      bool            `json:"check,omitempty"`
}

type voltParams struct {
	Volt volt.Info `json:"volt"`
	Src  string    `json:"src,omitempty"`
}

type updateConfigsParams struct {
	Configs map[string]map[string]any `json:"configs"`
}

type dapStartParams struct {
	Config      dap.RunDebugConfig                  `json:"config"`
	Breakpoints map[string][]godap.SourceBreakpoint `json:"breakpoints,omitempty"`
}

type dapThreadParams struct {
	DapID    dap.ID `json:"dap_id"`
	ThreadID int    `json:"thread_id"`
}

type dapSetBreakpointsParams struct {
	DapID       dap.ID                   `json:"dap_id"`
	Path        string                   `json:"path"`
	Breakpoints []godap.SourceBreakpoint `json:"breakpoints"`
}

type dapProcessIDParams struct {
	DapID     dap.ID `json:"dap_id"`
	ProcessID int    `json:"process_id"`
	TermID    string `json:"term_id,omitempty"`
}

type dapFrameParams struct {
	DapID   dap.ID `json:"dap_id"`
	FrameID int    `json:"frame_id"`
}

type dapReferenceParams struct {
	DapID     dap.ID `json:"dap_id"`
	Reference int    `json:"reference"`
}

type scopesResult struct {
	Scopes []dap.ScopeVars `json:"scopes"`
}

type variablesResult struct {
	Variables []godap.Variable `json:"variables"`
}

type runConfigsResult struct {
	Configs []dap.RunDebugConfig `json:"configs"`
}

// onNotification routes a core-initiated notification into the catalog.
func (l *coreLink) onNotification(method string, params json.RawMessage) {
	switch method {
	case proxyDidOpen:
		var p documentParams
		if !l.decode(method, params, &p) {
			return
		}
		l.catalog.Notify(plugin.DidOpen{Doc: plugin.Document{
			Path:       p.Path,
			URI:        p.URI,
			LanguageID: p.LanguageID,
			Version:    p.Version,
			Text:       p.Text,
		}})

	case proxyDidChange:
		var p documentParams
		if !l.decode(method, params, &p) {
			return
		}
		l.catalog.Notify(plugin.DidChange{Path: p.Path, Version: p.Version, Text: p.Text})

	case proxyDidSave:
		var p documentParams
		if !l.decode(method, params, &p) {
			return
		}
		l.catalog.Notify(plugin.DidSave{Path: p.Path})

	case proxyNotify:
		var p requestParams
		if !l.decode(method, params, &p) {
			return
		}
		var target *rpc.PluginID
		if p.Plugin != "" {
			target = &p.Plugin
		}
		l.catalog.SendNotification(target, p.Method, p.Params, psp.Route{
			LanguageID: p.LanguageID,
			Path:       p.Path,
			Check:      p.Check,
		})

	case proxyUpdateConfigs:
		var p updateConfigsParams
		if !l.decode(method, params, &p) {
			return
		}
		l.catalog.Notify(plugin.UpdatePluginConfigs{Configs: p.Configs})

	case proxyInstallVolt:
		var p voltParams
		if !l.decode(method, params, &p) {
			return
		}
		l.catalog.Notify(plugin.InstallVolt{Info: p.Volt, Src: p.Src})

	case proxyRemoveVolt:
		var p voltParams
		if !l.decode(method, params, &p) {
			return
		}
		l.catalog.Notify(plugin.RemoveVolt{Info: p.Volt})

	case proxyStopVolt:
		var p voltParams
		if !l.decode(method, params, &p) {
			return
		}
		l.catalog.Notify(plugin.StopVolt{Info: p.Volt})

	case proxyEnableVolt:
		var p voltParams
		if !l.decode(method, params, &p) {
			return
		}
		l.catalog.Notify(plugin.EnableVolt{Info: p.Volt})

	case proxyDisableVolt:
		var p voltParams
		if !l.decode(method, params, &p) {
			return
		}
		l.catalog.Notify(plugin.DisableVolt{Info: p.Volt})

	case proxyDapStart:
		var p dapStartParams
		if !l.decode(method, params, &p) {
			return
		}
		l.catalog.Notify(plugin.DapStart{Config: p.Config, Breakpoints: p.Breakpoints})

	case proxyDapRestart:
		var p dapStartParams
		if !l.decode(method, params, &p) {
			return
		}
		l.catalog.Notify(plugin.DapRestart{Config: p.Config, Breakpoints: p.Breakpoints})

	case proxyDapContinue:
		var p dapThreadParams
		if !l.decode(method, params, &p) {
			return
		}
		l.catalog.Notify(plugin.DapContinue{ID: p.DapID, ThreadID: p.ThreadID})

	case proxyDapPause:
		var p dapThreadParams
		if !l.decode(method, params, &p) {
			return
		}
		l.catalog.Notify(plugin.DapPause{ID: p.DapID, ThreadID: p.ThreadID})

	case proxyDapStepOver:
		var p dapThreadParams
		if !l.decode(method, params, &p) {
			return
		}
		l.catalog.Notify(plugin.DapStepOver{ID: p.DapID, ThreadID: p.ThreadID})

	case proxyDapStepInto:
		var p dapThreadParams
		if !l.decode(method, params, &p) {
			return
		}
		l.catalog.Notify(plugin.DapStepInto{ID: p.DapID, ThreadID: p.ThreadID})

	case proxyDapStepOut:
		var p dapThreadParams
		if !l.decode(method, params, &p) {
			return
		}
		l.catalog.Notify(plugin.DapStepOut{ID: p.DapID, ThreadID: p.ThreadID})

	case proxyDapStop:
		var p dapIDParams
		if !l.decode(method, params, &p) {
			return
		}
		l.catalog.Notify(plugin.DapStop{ID: p.DapID})

	case proxyDapDisconnect:
		var p dapIDParams
		if !l.decode(method, params, &p) {
			return
		}
		l.catalog.Notify(plugin.DapDisconnect{ID: p.DapID})

	case proxyDapSetBreakpoints:
		var p dapSetBreakpointsParams
		if !l.decode(method, params, &p) {
			return
		}
		l.catalog.Notify(plugin.DapSetBreakpoints{ID: p.DapID, Path: p.Path, Breakpoints: p.Breakpoints})

	case proxyDapProcessID:
		var p dapProcessIDParams
		if !l.decode(method, params, &p) {
			return
		}
		l.catalog.Notify(plugin.DapProcessID{ID: p.DapID, ProcessID: p.ProcessID, TermID: p.TermID})

	case proxyShutdown:
		l.catalog.Notify(plugin.Shutdown{})

	default:
		l.logger.Warn("unknown core notification", "method", method)
	}
}

// onRequest routes a core-initiated request into the catalog; the reply is
// delivered when the catalog answers.
func (l *coreLink) onRequest(method string, params json.RawMessage, reply func(result any, rerr *rpc.Error)) {
	switch method {
	case proxyRequest:
		var p requestParams
		if err := json.Unmarshal(params, &p); err != nil {
			reply(nil, rpc.NewError(rpc.CodeInvalidParams, "bad request params: "+err.Error()))
			return
		}
		// The wire carries one reply per request, so only targeted
		// requests come this way; fan-out stays inside the proxy.
		if p.Plugin == "" {
			reply(nil, rpc.NewError(rpc.CodeInvalidParams, "request requires a plugin id"))
			return
		}
		route := psp.Route{LanguageID: p.LanguageID, Path: p.Path, Check: p.Check}
		l.catalog.SendRequest(&p.Plugin, nil, p.Method, p.Params, route, p.ID, func(id uint64, from rpc.PluginID, result json.RawMessage, rerr *rpc.Error) {
			reply(result, rerr)
		})

	case proxyDapGetScopes:
		var p dapFrameParams
		if err := json.Unmarshal(params, &p); err != nil {
			reply(nil, rpc.NewError(rpc.CodeInvalidParams, "bad scopes params: "+err.Error()))
			return
		}
		l.catalog.GetScopes(p.DapID, p.FrameID, func(scopes []dap.ScopeVars, rerr *rpc.Error) {
			if rerr != nil {
				reply(nil, rerr)
				return
			}
			reply(scopesResult{Scopes: scopes}, nil)
		})

	case proxyDapGetVariables:
		var p dapReferenceParams
		if err := json.Unmarshal(params, &p); err != nil {
			reply(nil, rpc.NewError(rpc.CodeInvalidParams, "bad variables params: "+err.Error()))
			return
		}
		l.catalog.GetVariables(p.DapID, p.Reference, func(vars []godap.Variable, rerr *rpc.Error) {
			if rerr != nil {
				reply(nil, rerr)
				return
			}
			reply(variablesResult{Variables: vars}, nil)
		})

	case proxyRunConfigs:
		// File IO stays off the read loop.
		go func() {
			configs, err := dap.LoadRunConfigs(l.workspace)
			if err != nil {
				reply(nil, rpc.NewError(rpc.CodeInternalError, err.Error()))
				return
			}
			reply(runConfigsResult{Configs: configs}, nil)
		}()

	default:
		reply(nil, rpc.NewError(rpc.CodeMethodNotFound, "unknown core request "+method))
	}
}

// decode unmarshals notification params, logging rejects.
func (l *coreLink) decode(method string, params json.RawMessage, into any) bool {
	if err := json.Unmarshal(params, into); err != nil {
		l.logger.Warn("dropping malformed core notification", "method", method, "err", err)
		return false
	}
	return true
}
