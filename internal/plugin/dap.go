package plugin

import (
	"context"
	"fmt"
	"strings"
	"time"

	godap "github.com/google/go-dap"

	"github.com/dshills/voltproxy/internal/dap"
	"github.com/dshills/voltproxy/internal/rpc"
)

const (
	dapLaunchTimeout  = 30 * time.Second
	dapRequestTimeout = 15 * time.Second
)

// handleDapStart spawns a session for the config's debugger type. The spawn
// and initialize handshake run on a worker; the session joins the registry
// when the worker reports back with DapLoaded.
func (c *Catalog) handleDapStart(config dap.RunDebugConfig, breakpoints map[string][]godap.SourceBreakpoint) {
	spec, ok := c.debuggers[config.Type]
	if !ok {
		c.logger.Warn("no debugger registered for type", "type", config.Type)
		c.core.ShowMessage("debug fail", rpc.LevelError, "Debugger not found. Please install the appropriate plugin.")
		return
	}
	spec.Cwd = c.workspace

	handlers := dap.SessionHandlers{
		Stopped:       c.core.DapStopped,
		Continued:     c.core.DapContinued,
		Terminated:    c.onDapTerminated,
		Output:        c.onDapOutput,
		RunInTerminal: c.core.DapRunInTerminal,
	}

	c.submit("dap-start "+config.Type, func() {
		session, err := c.debug(context.Background(), spec, config, breakpoints, handlers)
		if err != nil {
			c.logger.Error("debug session start failed", "type", config.Type, "err", err)
			c.core.ShowMessage("debug fail", rpc.LevelError, fmt.Sprintf("Failed to start %s debugger: %v", config.Type, err))
			return
		}
		c.Notify(DapLoaded{Session: session})
	})
}

func (c *Catalog) handleDapRestart(m DapRestart) {
	if id := m.Config.DapID; id.Valid() {
		if session, ok := c.daps[id]; ok {
			delete(c.daps, id)
			c.submit("dap-stop "+string(id), session.Stop)
		}
	}
	c.handleDapStart(m.Config, m.Breakpoints)
}

// handleDapLoaded registers the session and kicks off the launch. Launch
// failures are logged; the session stays up so the front-end can disconnect
// it cleanly.
func (c *Catalog) handleDapLoaded(m DapLoaded) {
	session := m.Session
	id := session.ID()
	if _, ok := c.daps[id]; ok {
		c.logger.Warn("duplicate debug session id", "dap", id)
		go session.Stop()
		return
	}
	c.daps[id] = session
	c.core.DapLoaded(id)

	c.submit("dap-launch "+string(id), func() {
		ctx, cancel := context.WithTimeout(context.Background(), dapLaunchTimeout)
		defer cancel()
		if err := session.Launch(ctx); err != nil {
			c.logger.Error("debug launch failed", "dap", id, "err", err)
		}
	})
}

// handleDapDisconnected is the single removal point for sessions that ended
// on their own or finished a disconnect handshake. Stale ids are dropped.
func (c *Catalog) handleDapDisconnected(m DapDisconnected) {
	session, ok := c.daps[m.ID]
	if !ok {
		c.logger.Debug("terminate for unknown session", "dap", m.ID)
		return
	}
	delete(c.daps, m.ID)
	c.submit("dap-stop "+string(m.ID), session.Stop)
	c.logger.Info("debug session ended", "dap", m.ID)
}

func (c *Catalog) handleDapContinue(m DapContinue) {
	session, ok := c.daps[m.ID]
	if !ok {
		c.logger.Debug("continue for unknown session", "dap", m.ID)
		return
	}
	id, threadID := m.ID, m.ThreadID
	c.submit("dap-continue "+string(id), func() {
		ctx, cancel := context.WithTimeout(context.Background(), dapRequestTimeout)
		defer cancel()
		if err := session.Continue(ctx, threadID); err != nil {
			c.logger.Warn("continue failed", "dap", id, "err", err)
			return
		}
		c.core.DapContinued(id)
	})
}

func (c *Catalog) handleDapPause(m DapPause) {
	session, ok := c.daps[m.ID]
	if !ok {
		c.logger.Debug("pause for unknown session", "dap", m.ID)
		return
	}
	id, threadID := m.ID, m.ThreadID
	c.submit("dap-pause "+string(id), func() {
		ctx, cancel := context.WithTimeout(context.Background(), dapRequestTimeout)
		defer cancel()
		if err := session.Pause(ctx, threadID); err != nil {
			c.logger.Warn("pause failed", "dap", id, "err", err)
		}
	})
}

func (c *Catalog) handleDapStep(id dap.ID, threadID int, kind string, step func(DebugSession, context.Context, int) error) {
	session, ok := c.daps[id]
	if !ok {
		c.logger.Debug("step for unknown session", "dap", id, "kind", kind)
		return
	}
	c.submit("dap-step "+string(id), func() {
		ctx, cancel := context.WithTimeout(context.Background(), dapRequestTimeout)
		defer cancel()
		if err := step(session, ctx, threadID); err != nil {
			c.logger.Warn("step failed", "dap", id, "kind", kind, "err", err)
		}
	})
}

// handleDapStop removes the session immediately and tears it down in the
// background. No handshake; the adapter process is killed.
func (c *Catalog) handleDapStop(m DapStop) {
	session, ok := c.daps[m.ID]
	if !ok {
		c.logger.Debug("stop for unknown session", "dap", m.ID)
		return
	}
	delete(c.daps, m.ID)
	c.submit("dap-stop "+string(m.ID), session.Stop)
}

// handleDapDisconnect runs the polite handshake on a worker. The session
// stays registered until its Terminated handler reports back; a failed
// handshake still ends in teardown, so removal happens either way.
func (c *Catalog) handleDapDisconnect(m DapDisconnect) {
	session, ok := c.daps[m.ID]
	if !ok {
		c.logger.Debug("disconnect for unknown session", "dap", m.ID)
		return
	}
	id := m.ID
	c.submit("dap-disconnect "+string(id), func() {
		ctx, cancel := context.WithTimeout(context.Background(), dapRequestTimeout)
		defer cancel()
		if err := session.Disconnect(ctx); err != nil {
			c.logger.Warn("disconnect failed", "dap", id, "err", err)
		}
	})
}

func (c *Catalog) handleDapSetBreakpoints(m DapSetBreakpoints) {
	session, ok := c.daps[m.ID]
	if !ok {
		c.logger.Debug("breakpoints for unknown session", "dap", m.ID)
		return
	}
	id, path, bps := m.ID, m.Path, m.Breakpoints
	c.submit("dap-breakpoints "+string(id), func() {
		ctx, cancel := context.WithTimeout(context.Background(), dapRequestTimeout)
		defer cancel()
		verified, err := session.SetBreakpoints(ctx, path, bps)
		if err != nil {
			c.logger.Warn("set breakpoints failed", "dap", id, "path", path, "err", err)
			return
		}
		c.core.DapBreakpointsResp(id, path, verified)
	})
}

// handleDapProcessID completes a runInTerminal handoff. It only applies to
// configs that declared a debug command; anything else is ignored.
func (c *Catalog) handleDapProcessID(m DapProcessID) {
	session, ok := c.daps[m.ID]
	if !ok {
		c.logger.Debug("process id for unknown session", "dap", m.ID)
		return
	}
	if session.Config().DebugCommand == "" {
		c.logger.Debug("process id without debug command", "dap", m.ID, "pid", m.ProcessID)
		return
	}
	if err := session.SetProcessID(m.ProcessID); err != nil {
		c.logger.Warn("process id handoff failed", "dap", m.ID, "pid", m.ProcessID, "term", m.TermID, "err", err)
	}
}

func (c *Catalog) handleDapGetScopes(m DapGetScopes) {
	session, ok := c.daps[m.ID]
	if !ok {
		m.Reply(nil, rpc.PluginNotFound())
		return
	}
	id, frameID, reply := m.ID, m.FrameID, m.Reply
	ok = c.submit("dap-scopes "+string(id), func() {
		ctx, cancel := context.WithTimeout(context.Background(), dapRequestTimeout)
		defer cancel()
		scopes, err := session.FetchScopes(ctx, frameID)
		if err != nil {
			reply(nil, rpc.Errorf("fetch scopes: %v", err))
			return
		}
		reply(scopes, nil)
	})
	if !ok {
		reply(nil, rpc.Errorf("worker pool unavailable"))
	}
}

func (c *Catalog) handleDapGetVariables(m DapGetVariables) {
	session, ok := c.daps[m.ID]
	if !ok {
		m.Reply(nil, rpc.PluginNotFound())
		return
	}
	id, reference, reply := m.ID, m.Reference, m.Reply
	ok = c.submit("dap-variables "+string(id), func() {
		ctx, cancel := context.WithTimeout(context.Background(), dapRequestTimeout)
		defer cancel()
		vars, err := session.FetchVariables(ctx, reference)
		if err != nil {
			reply(nil, rpc.Errorf("fetch variables: %v", err))
			return
		}
		reply(vars, nil)
	})
	if !ok {
		reply(nil, rpc.Errorf("worker pool unavailable"))
	}
}

// Session event callbacks. These run on session goroutines and only enqueue
// or log.

func (c *Catalog) onDapTerminated(id dap.ID) {
	c.Notify(DapDisconnected{ID: id})
}

func (c *Catalog) onDapOutput(id dap.ID, category, output string) {
	c.logger.Debug("dap output", "dap", id, "category", category, "output", strings.TrimRight(output, "\n"))
}
