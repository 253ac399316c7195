package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"

	"github.com/dshills/voltproxy/internal/dap"
	"github.com/dshills/voltproxy/internal/dispatch"
	"github.com/dshills/voltproxy/internal/psp"
	"github.com/dshills/voltproxy/internal/rpc"
	"github.com/dshills/voltproxy/internal/volt"
)

const (
	defaultQueueSize = 256
	defaultScanTTL   = 5 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// Catalog is the orchestration core: it owns the registry of running plugin
// servers, the unactivated volt set, the debug sessions, the debugger
// registry, and the open-document map. All of that state belongs to the Run
// goroutine alone; everyone else talks to the catalog by enqueueing
// notifications.
type Catalog struct {
	core    CoreClient
	loader  Loader
	pool    *dispatch.Pool
	ownPool bool
	start   Starter
	debug   DebugStarter
	logger  *slog.Logger

	workspace string
	scanTTL   time.Duration

	queue  chan Notification
	done   chan struct{}
	closed atomic.Bool

	// Actor state. Only the Run goroutine touches these fields.
	plugins     map[rpc.PluginID]ServerHandle
	daps        map[dap.ID]DebugSession
	debuggers   map[string]dap.DebuggerSpec
	configs     map[string]map[string]any
	unactivated map[volt.ID]*volt.Metadata
	disabled    map[volt.ID]bool
	openDocs    map[string]Document

	globs map[volt.ID][]glob.Glob
	scan  *workspaceScan
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithWorkspace sets the workspace root used for activation walks and passed
// to plugin servers.
func WithWorkspace(root string) Option {
	return func(c *Catalog) { c.workspace = root }
}

// WithLogger sets the catalog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithQueueSize sets the notification queue capacity.
func WithQueueSize(size int) Option {
	return func(c *Catalog) {
		if size > 0 {
			c.queue = make(chan Notification, size)
		}
	}
}

// WithStarter overrides how plugin servers are spawned.
func WithStarter(start Starter) Option {
	return func(c *Catalog) {
		if start != nil {
			c.start = start
		}
	}
}

// WithDebugStarter overrides how debug sessions are spawned.
func WithDebugStarter(start DebugStarter) Option {
	return func(c *Catalog) {
		if start != nil {
			c.debug = start
		}
	}
}

// WithDisabledVolts marks volts that must not activate.
func WithDisabledVolts(ids []volt.ID) Option {
	return func(c *Catalog) {
		for _, id := range ids {
			c.disabled[id] = true
		}
	}
}

// WithPluginConfigs seeds the per-volt user configuration, keyed by volt
// name.
func WithPluginConfigs(configs map[string]map[string]any) Option {
	return func(c *Catalog) {
		if configs != nil {
			c.configs = configs
		}
	}
}

// WithScanTTL sets how long one workspace walk result is reused by the
// activation gate.
func WithScanTTL(ttl time.Duration) Option {
	return func(c *Catalog) {
		if ttl > 0 {
			c.scanTTL = ttl
		}
	}
}

// New creates a catalog. A nil pool means the catalog creates and manages
// its own; a caller-supplied pool must already be started.
func New(core CoreClient, loader Loader, pool *dispatch.Pool, opts ...Option) *Catalog {
	c := &Catalog{
		core:        core,
		loader:      loader,
		pool:        pool,
		start:       defaultStarter,
		debug:       defaultDebugStarter,
		logger:      slog.Default(),
		scanTTL:     defaultScanTTL,
		queue:       make(chan Notification, defaultQueueSize),
		done:        make(chan struct{}),
		plugins:     make(map[rpc.PluginID]ServerHandle),
		daps:        make(map[dap.ID]DebugSession),
		debuggers:   make(map[string]dap.DebuggerSpec),
		configs:     make(map[string]map[string]any),
		unactivated: make(map[volt.ID]*volt.Metadata),
		disabled:    make(map[volt.ID]bool),
		openDocs:    make(map[string]Document),
		globs:       make(map[volt.ID][]glob.Glob),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pool == nil {
		c.pool = dispatch.NewPool(dispatch.WithLogger(c.logger))
		c.ownPool = true
	}
	return c
}

// Notify enqueues one message for the Run loop. After shutdown, messages
// that carry callbacks fail immediately instead of hanging their callers.
func (c *Catalog) Notify(msg Notification) {
	if c.closed.Load() {
		c.failNotification(msg)
		return
	}
	c.queue <- msg
}

// SendRequest routes a request to one plugin (plugin set) or every plugin
// (plugin nil). See ServerRequest for the counter and callback contract.
func (c *Catalog) SendRequest(plugin *rpc.PluginID, counter *atomic.Int64, method string, params any, route psp.Route, id uint64, cb rpc.ResponseCallback) {
	c.Notify(ServerRequest{
		Plugin:      plugin,
		RequestSent: counter,
		Method:      method,
		Params:      params,
		Route:       route,
		ID:          id,
		Callback:    cb,
	})
}

// SendNotification routes a notification to one or all plugins.
func (c *Catalog) SendNotification(plugin *rpc.PluginID, method string, params any, route psp.Route) {
	c.Notify(ServerNotification{Plugin: plugin, Method: method, Params: params, Route: route})
}

// GetScopes fetches a stack frame's scopes with the first scope's variables.
func (c *Catalog) GetScopes(id dap.ID, frameID int, reply ScopesReply) {
	c.Notify(DapGetScopes{ID: id, FrameID: frameID, Reply: reply})
}

// GetVariables fetches one level of children for a variables reference.
func (c *Catalog) GetVariables(id dap.ID, reference int, reply VariablesReply) {
	c.Notify(DapGetVariables{ID: id, Reference: reference, Reply: reply})
}

// Done is closed when the Run loop has exited.
func (c *Catalog) Done() <-chan struct{} {
	return c.done
}

// Run consumes the queue until a Shutdown message or context cancellation.
// It is the only goroutine that may touch catalog state.
func (c *Catalog) Run(ctx context.Context) {
	if c.ownPool {
		if err := c.pool.Start(); err != nil {
			c.logger.Error("worker pool start failed", "err", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = c.pool.Stop(stopCtx)
		}()
	}
	defer close(c.done)
	defer c.drainQueue()

	for {
		select {
		case <-ctx.Done():
			c.shutdownAll()
			return
		case msg := <-c.queue:
			if c.process(msg) {
				return
			}
		}
	}
}

// process handles one message; it reports true when the loop should end.
func (c *Catalog) process(msg Notification) bool {
	switch m := msg.(type) {
	case ServerRequest:
		c.handleServerRequest(m)
	case ServerNotification:
		c.handleServerNotification(m)
	case DidOpen:
		c.handleDidOpen(m.Doc)
	case DidChange:
		c.handleDidChange(m)
	case DidSave:
		c.handleDidSave(m)
	case UnactivatedVolts:
		c.handleUnactivatedVolts(m)
	case UpdatePluginConfigs:
		c.handleUpdatePluginConfigs(m)
	case PluginServerLoaded:
		c.handlePluginServerLoaded(m)
	case InstallVolt:
		c.handleInstallVolt(m)
	case RemoveVolt:
		c.handleRemoveVolt(m)
	case ReloadVolt:
		c.handleReloadVolt(m)
	case StopVolt:
		c.stopVoltHandles(m.Info.ID())
	case EnableVolt:
		c.handleEnableVolt(m)
	case DisableVolt:
		c.handleDisableVolt(m)
	case VoltDiscovered:
		c.handleVoltDiscovered(m)
	case VoltGone:
		c.handleVoltGone(m)
	case RegisterDebuggerType:
		c.debuggers[m.DebuggerType] = dap.DebuggerSpec{Type: m.DebuggerType, Program: m.Program, Args: m.Args}
		c.logger.Info("debugger registered", "type", m.DebuggerType)
	case DapStart:
		c.handleDapStart(m.Config, m.Breakpoints)
	case DapRestart:
		c.handleDapRestart(m)
	case DapLoaded:
		c.handleDapLoaded(m)
	case DapDisconnected:
		c.handleDapDisconnected(m)
	case DapContinue:
		c.handleDapContinue(m)
	case DapPause:
		c.handleDapPause(m)
	case DapStepOver:
		c.handleDapStep(m.ID, m.ThreadID, "step over", DebugSession.Next)
	case DapStepInto:
		c.handleDapStep(m.ID, m.ThreadID, "step into", DebugSession.StepIn)
	case DapStepOut:
		c.handleDapStep(m.ID, m.ThreadID, "step out", DebugSession.StepOut)
	case DapStop:
		c.handleDapStop(m)
	case DapDisconnect:
		c.handleDapDisconnect(m)
	case DapSetBreakpoints:
		c.handleDapSetBreakpoints(m)
	case DapProcessID:
		c.handleDapProcessID(m)
	case DapGetScopes:
		c.handleDapGetScopes(m)
	case DapGetVariables:
		c.handleDapGetVariables(m)
	case hostNotification:
		c.handleHostNotification(m)
	case pluginExited:
		c.handlePluginExited(m)
	case Shutdown:
		c.shutdownAll()
		return true
	default:
		c.logger.Warn("unhandled catalog message", "kind", msg.kind())
	}
	return false
}

// handleServerRequest implements the fan-out contract: a targeted request to
// a missing plugin answers immediately, a broadcast over an empty registry
// synthesizes exactly one error reply, and the reply counter always matches
// the number of callback invocations to come.
func (c *Catalog) handleServerRequest(req ServerRequest) {
	if req.Plugin != nil {
		target := *req.Plugin
		handle, ok := c.plugins[target]
		if !ok {
			if req.RequestSent != nil {
				req.RequestSent.Add(1)
			}
			req.Callback(req.ID, target, nil, rpc.PluginNotFound())
			return
		}
		if req.RequestSent != nil {
			req.RequestSent.Add(1)
		}
		handle.SendRequest(req.Route, req.ID, req.Method, req.Params, req.Callback)
		return
	}

	if len(c.plugins) == 0 {
		if req.RequestSent != nil {
			req.RequestSent.Add(1)
		}
		req.Callback(req.ID, "", nil, rpc.NoAvailablePlugin())
		return
	}

	if req.RequestSent != nil {
		req.RequestSent.Add(int64(len(c.plugins)))
	}
	for _, handle := range c.plugins {
		handle.SendRequest(req.Route, req.ID, req.Method, req.Params, req.Callback)
	}
}

func (c *Catalog) handleServerNotification(n ServerNotification) {
	if n.Plugin != nil {
		if handle, ok := c.plugins[*n.Plugin]; ok {
			handle.SendNotification(n.Route, n.Method, n.Params)
		}
		return
	}
	for _, handle := range c.plugins {
		handle.SendNotification(n.Route, n.Method, n.Params)
	}
}

// Document lifecycle.

type textDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

type textDocumentID struct {
	URI string `json:"uri"`
}

type versionedTextDocumentID struct {
	URI     string `json:"uri"`
	Version int    `json:"version"`
}

type contentChange struct {
	Text string `json:"text"`
}

func didOpenParams(doc Document) any {
	return struct {
		TextDocument textDocumentItem `json:"textDocument"`
	}{textDocumentItem{URI: doc.URI, LanguageID: doc.LanguageID, Version: doc.Version, Text: doc.Text}}
}

func (c *Catalog) handleDidOpen(doc Document) {
	if doc.URI == "" {
		doc.URI = "file://" + doc.Path
	}
	c.openDocs[doc.Path] = doc

	// Gate first: a volt activated by this very open gets the document
	// replayed when its server loads, so broadcasting below cannot
	// double-deliver.
	c.runActivationGate()

	params := didOpenParams(doc)
	route := psp.Route{LanguageID: doc.LanguageID, Path: doc.Path, Check: true}
	for _, handle := range c.plugins {
		handle.SendNotification(route, psp.MethodDidOpen, params)
	}
}

func (c *Catalog) handleDidChange(m DidChange) {
	doc, ok := c.openDocs[m.Path]
	if !ok {
		c.logger.Warn("change for untracked document", "path", m.Path)
		return
	}
	doc.Version = m.Version
	doc.Text = m.Text
	c.openDocs[m.Path] = doc

	params := struct {
		TextDocument   versionedTextDocumentID `json:"textDocument"`
		ContentChanges []contentChange         `json:"contentChanges"`
	}{
		TextDocument:   versionedTextDocumentID{URI: doc.URI, Version: doc.Version},
		ContentChanges: []contentChange{{Text: doc.Text}},
	}
	route := psp.Route{LanguageID: doc.LanguageID, Path: doc.Path, Check: true}
	for _, handle := range c.plugins {
		handle.SendNotification(route, psp.MethodDidChange, params)
	}
}

func (c *Catalog) handleDidSave(m DidSave) {
	doc, ok := c.openDocs[m.Path]
	if !ok {
		c.logger.Warn("save for untracked document", "path", m.Path)
		return
	}

	params := struct {
		TextDocument textDocumentID `json:"textDocument"`
	}{textDocumentID{URI: doc.URI}}
	route := psp.Route{LanguageID: doc.LanguageID, Path: doc.Path, Check: true}
	for _, handle := range c.plugins {
		handle.SendNotification(route, psp.MethodDidSave, params)
	}
}

// Volt lifecycle.

func (c *Catalog) handleUnactivatedVolts(m UnactivatedVolts) {
	for _, meta := range m.Volts {
		if meta == nil {
			continue
		}
		id := meta.ID()
		if c.voltActive(id) {
			continue
		}
		c.unactivated[id] = meta
		delete(c.globs, id)
	}
	c.runActivationGate()
}

func (c *Catalog) handleUpdatePluginConfigs(m UpdatePluginConfigs) {
	if m.Configs == nil {
		c.configs = make(map[string]map[string]any)
		return
	}
	c.configs = m.Configs
}

func (c *Catalog) handlePluginServerLoaded(m PluginServerLoaded) {
	handle := m.Handle
	meta := handle.Volt()

	// Bring the late starter up to date before it joins the registry, so the
	// broadcast path cannot double-deliver an open.
	paths := make([]string, 0, len(c.openDocs))
	for path := range c.openDocs {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		doc := c.openDocs[path]
		route := psp.Route{LanguageID: doc.LanguageID, Path: doc.Path, Check: true}
		handle.SendNotification(route, psp.MethodDidOpen, didOpenParams(doc))
	}

	c.plugins[handle.ID()] = handle

	if spawner := handle.SpawnedBy(); spawner.Valid() {
		if parent, ok := c.plugins[spawner]; ok {
			parent.SendNotification(psp.Route{}, psp.MethodSpawnedServer, struct {
				PluginID string `json:"pluginId"`
			}{string(handle.ID())})
		}
	}

	c.core.VoltActivated(meta.Info())
	c.logger.Info("plugin server loaded", "volt", meta.ID(), "plugin", handle.ID())
}

func (c *Catalog) handlePluginExited(m pluginExited) {
	if _, ok := c.plugins[m.Plugin]; !ok {
		c.logger.Debug("exit for unregistered plugin", "plugin", m.Plugin)
		return
	}
	delete(c.plugins, m.Plugin)
	c.logger.Warn("plugin server exited", "plugin", m.Plugin, "err", m.Err)
}

func (c *Catalog) handleInstallVolt(m InstallVolt) {
	id := m.Info.ID()
	c.stopVoltHandles(id)

	src := m.Src
	c.submit("install-volt "+string(id), func() {
		meta, err := c.loader.Install(src)
		if err != nil {
			c.logger.Error("volt install failed", "volt", id, "err", err)
			c.core.ShowMessage("install volt", rpc.LevelError, fmt.Sprintf("Failed to install %s: %v", id, err))
			return
		}
		c.Notify(VoltDiscovered{Meta: meta})
	})
}

func (c *Catalog) handleRemoveVolt(m RemoveVolt) {
	id := m.Info.ID()
	c.stopVoltHandles(id)
	delete(c.unactivated, id)
	delete(c.disabled, id)
	delete(c.globs, id)

	c.submit("remove-volt "+string(id), func() {
		if err := c.loader.Remove(id); err != nil {
			c.logger.Error("volt remove failed", "volt", id, "err", err)
			c.core.ShowMessage("remove volt", rpc.LevelError, fmt.Sprintf("Failed to remove %s: %v", id, err))
			return
		}
		c.core.VoltRemoved(id)
	})
}

func (c *Catalog) handleReloadVolt(m ReloadVolt) {
	if m.Meta == nil {
		return
	}
	id := m.Meta.ID()
	c.stopVoltHandles(id)
	c.unactivated[id] = m.Meta
	delete(c.globs, id)
	c.runActivationGate()
}

func (c *Catalog) handleEnableVolt(m EnableVolt) {
	id := m.Info.ID()
	delete(c.disabled, id)

	if c.voltActive(id) {
		return
	}

	meta := c.unactivated[id]
	if meta == nil {
		found, err := c.loader.Find(id)
		if err != nil {
			c.logger.Error("enable failed", "volt", id, "err", err)
			return
		}
		meta = found
	}
	delete(c.unactivated, id)
	c.startVolt(meta, "")
}

func (c *Catalog) handleDisableVolt(m DisableVolt) {
	id := m.Info.ID()
	c.disabled[id] = true
	c.stopVoltHandles(id)
}

func (c *Catalog) handleVoltDiscovered(m VoltDiscovered) {
	if m.Meta == nil {
		return
	}
	id := m.Meta.ID()
	if c.voltActive(id) {
		c.logger.Debug("discovered volt already running", "volt", id)
		return
	}
	c.unactivated[id] = m.Meta
	delete(c.globs, id)
	c.logger.Info("volt discovered", "volt", id, "dir", m.Meta.Dir())
	c.runActivationGate()
}

func (c *Catalog) handleVoltGone(m VoltGone) {
	for id, meta := range c.unactivated {
		if meta.Dir() == m.Dir {
			delete(c.unactivated, id)
			delete(c.globs, id)
			c.core.VoltRemoved(id)
			c.logger.Info("volt removed from disk", "volt", id)
			return
		}
	}
	for _, handle := range c.plugins {
		if handle.Volt().Dir() == m.Dir {
			id := handle.Volt().ID()
			c.stopVoltHandles(id)
			c.core.VoltRemoved(id)
			c.logger.Info("running volt removed from disk", "volt", id)
			return
		}
	}
	c.logger.Debug("vanished directory is not a known volt", "dir", m.Dir)
}

// handleHostNotification dispatches plugin-initiated notifications on the
// actor, where the registry is available.
func (c *Catalog) handleHostNotification(m hostNotification) {
	switch m.Method {
	case psp.MethodShowMessage:
		var p struct {
			Type    int    `json:"type"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(m.Params, &p); err != nil {
			c.logger.Warn("bad showMessage params", "plugin", m.Plugin, "err", err)
			return
		}
		c.core.ShowMessage(c.voltTitle(m.Plugin), messageLevel(p.Type), p.Message)

	case psp.MethodLogMessage:
		var p struct {
			Type    int    `json:"type"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(m.Params, &p); err != nil {
			c.logger.Warn("bad logMessage params", "plugin", m.Plugin, "err", err)
			return
		}
		c.core.LogMessage(messageLevel(p.Type), p.Message, c.voltTitle(m.Plugin))

	case psp.MethodRegisterDebugger:
		var spec dap.DebuggerSpec
		if err := json.Unmarshal(m.Params, &spec); err != nil || spec.Type == "" {
			c.logger.Warn("bad registerDebuggerType params", "plugin", m.Plugin, "err", err)
			return
		}
		c.debuggers[spec.Type] = spec
		c.logger.Info("debugger registered", "type", spec.Type, "plugin", m.Plugin)

	case psp.MethodStartVolt:
		var info volt.Info
		if err := json.Unmarshal(m.Params, &info); err != nil || !info.ID().Valid() {
			c.logger.Warn("bad startVolt params", "plugin", m.Plugin, "err", err)
			return
		}
		c.startRequestedVolt(info.ID(), m.Plugin)

	default:
		c.logger.Debug("unhandled plugin notification", "method", m.Method, "plugin", m.Plugin)
	}
}

// startRequestedVolt starts a volt on behalf of a running plugin.
func (c *Catalog) startRequestedVolt(id volt.ID, spawnedBy rpc.PluginID) {
	if c.voltActive(id) {
		return
	}
	if c.disabled[id] {
		c.logger.Warn("refusing to start disabled volt", "volt", id, "plugin", spawnedBy)
		return
	}
	meta := c.unactivated[id]
	if meta == nil {
		found, err := c.loader.Find(id)
		if err != nil {
			c.logger.Error("requested volt not found", "volt", id, "plugin", spawnedBy, "err", err)
			return
		}
		meta = found
	}
	delete(c.unactivated, id)
	c.startVolt(meta, spawnedBy)
}

// startVolt schedules a plugin server spawn on the worker pool. The volt has
// already been removed from the unactivated set; a rejected submission puts
// it back so a later trigger can retry.
func (c *Catalog) startVolt(meta *volt.Metadata, spawnedBy rpc.PluginID) {
	if !meta.HasBinary() {
		c.logger.Debug("volt has no plugin server binary", "volt", meta.ID())
		return
	}

	id := meta.ID()
	opts := psp.Options{
		Meta:      meta,
		Workspace: c.workspace,
		Config:    c.configs[meta.Name],
		SpawnedBy: spawnedBy,
		Logger:    c.logger,
		Handlers: psp.Handlers{
			Notification: c.onPluginNotification,
			Request:      c.onPluginRequest,
			Exited:       c.onPluginExited,
		},
	}

	ok := c.submit("start-volt "+string(id), func() {
		handle, err := c.start(context.Background(), opts)
		if err != nil {
			c.logger.Error("volt start failed", "volt", id, "err", err)
			return
		}
		c.Notify(PluginServerLoaded{Handle: handle})
	})
	if !ok {
		c.unactivated[id] = meta
	}
}

// Plugin server callbacks. These run on transport goroutines and only
// enqueue.

func (c *Catalog) onPluginNotification(plugin rpc.PluginID, method string, params json.RawMessage) {
	c.Notify(hostNotification{Plugin: plugin, Method: method, Params: params})
}

func (c *Catalog) onPluginRequest(plugin rpc.PluginID, method string, params json.RawMessage) (any, *rpc.Error) {
	return nil, rpc.NewError(rpc.CodeMethodNotFound, fmt.Sprintf("unsupported host request %q", method))
}

func (c *Catalog) onPluginExited(plugin rpc.PluginID, err error) {
	c.Notify(pluginExited{Plugin: plugin, Err: err})
}

// Helpers.

// stopVoltHandles removes every handle belonging to the volt and schedules
// its shutdown. Unrelated handles are untouched.
func (c *Catalog) stopVoltHandles(id volt.ID) int {
	stopped := 0
	for pid, handle := range c.plugins {
		if handle.Volt().ID() != id {
			continue
		}
		delete(c.plugins, pid)
		stopped++

		h := handle
		c.submit("stop-volt "+string(id), func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := h.Shutdown(ctx); err != nil {
				c.logger.Warn("volt shutdown failed", "volt", id, "plugin", h.ID(), "err", err)
			}
		})
	}
	return stopped
}

// voltActive reports whether any running handle belongs to the volt.
func (c *Catalog) voltActive(id volt.ID) bool {
	for _, handle := range c.plugins {
		if handle.Volt().ID() == id {
			return true
		}
	}
	return false
}

// voltTitle returns a user-facing name for a plugin id.
func (c *Catalog) voltTitle(plugin rpc.PluginID) string {
	handle, ok := c.plugins[plugin]
	if !ok {
		return "plugin"
	}
	meta := handle.Volt()
	if meta.DisplayName != "" {
		return meta.DisplayName
	}
	return meta.Name
}

// messageLevel maps the wire message type to a level, defaulting to info.
func messageLevel(t int) rpc.MessageLevel {
	level := rpc.MessageLevel(t)
	if level < rpc.LevelError || level > rpc.LevelLog {
		return rpc.LevelInfo
	}
	return level
}

// submit hands work to the pool, logging a rejection.
func (c *Catalog) submit(name string, fn func()) bool {
	if err := c.pool.Submit(name, fn); err != nil {
		c.logger.Error("background work rejected", "task", name, "err", err)
		return false
	}
	return true
}

// shutdownAll stops every plugin server and debug session.
func (c *Catalog) shutdownAll() {
	c.logger.Info("catalog shutting down", "plugins", len(c.plugins), "daps", len(c.daps))

	var wg sync.WaitGroup
	for _, handle := range c.plugins {
		wg.Add(1)
		go func(h ServerHandle) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = h.Shutdown(ctx)
		}(handle)
	}
	for _, session := range c.daps {
		wg.Add(1)
		go func(s DebugSession) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = s.Disconnect(ctx)
		}(session)
	}
	wg.Wait()

	c.plugins = make(map[rpc.PluginID]ServerHandle)
	c.daps = make(map[dap.ID]DebugSession)
}

// drainQueue fails whatever was still enqueued when the loop ended, so no
// caller waits on a callback that will never come.
func (c *Catalog) drainQueue() {
	c.closed.Store(true)
	for {
		select {
		case msg := <-c.queue:
			c.failNotification(msg)
		default:
			return
		}
	}
}

func (c *Catalog) failNotification(msg Notification) {
	switch m := msg.(type) {
	case ServerRequest:
		if m.RequestSent != nil {
			m.RequestSent.Add(1)
		}
		m.Callback(m.ID, "", nil, rpc.Errorf("catalog is shut down"))
	case DapGetScopes:
		m.Reply(nil, rpc.Errorf("catalog is shut down"))
	case DapGetVariables:
		m.Reply(nil, rpc.Errorf("catalog is shut down"))
	case PluginServerLoaded:
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = m.Handle.Shutdown(ctx)
		}()
	case DapLoaded:
		go m.Session.Stop()
	default:
		c.logger.Debug("dropping message after shutdown", "kind", msg.kind())
	}
}
