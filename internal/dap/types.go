package dap

import (
	"fmt"

	godap "github.com/google/go-dap"
	"github.com/google/uuid"
)

// ID uniquely identifies one debug session. The editor may assign an id up
// front through the run configuration; otherwise NewID supplies one when the
// session is started.
type ID string

// NewID returns a fresh unique session id.
func NewID() ID {
	return ID(uuid.NewString())
}

// Valid reports whether the id is non-empty.
func (id ID) Valid() bool {
	return id != ""
}

// SessionState represents the lifecycle state of a debug session.
type SessionState int

const (
	// StateNotStarted is before the adapter process exists.
	StateNotStarted SessionState = iota
	// StateLaunching is while the adapter is being initialized and the
	// debuggee launched.
	StateLaunching
	// StateRunning is while the debuggee is executing.
	StateRunning
	// StateStopped is while the debuggee is paused on a breakpoint, a step
	// or an exception.
	StateStopped
	// StateDisconnected is terminal: the adapter is gone.
	StateDisconnected
)

// String returns a string representation of the state.
func (s SessionState) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateLaunching:
		return "launching"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// DebuggerSpec describes how to reach a debug adapter for one debugger type.
// Volts register specs at runtime; the catalog fills in Cwd from the
// workspace when it spawns a session.
type DebuggerSpec struct {
	Type    string   `json:"debuggerType"`
	Program string   `json:"program"`
	Args    []string `json:"args,omitempty"`
	Cwd     string   `json:"-"`
}

// Command returns the spec as a human-readable command line.
func (d DebuggerSpec) Command() string {
	cmd := d.Program
	for _, arg := range d.Args {
		cmd += " " + arg
	}
	return cmd
}

// Stopped captures why and where the debuggee stopped. It is built from the
// adapter's stopped event and travels upstream to the editor.
type Stopped struct {
	Reason            string `json:"reason"`
	Description       string `json:"description,omitempty"`
	ThreadID          int    `json:"threadId,omitempty"`
	Text              string `json:"text,omitempty"`
	AllThreadsStopped bool   `json:"allThreadsStopped,omitempty"`
	HitBreakpointIDs  []int  `json:"hitBreakpointIds,omitempty"`
}

func stoppedFromEvent(body godap.StoppedEventBody) Stopped {
	return Stopped{
		Reason:            body.Reason,
		Description:       body.Description,
		ThreadID:          body.ThreadId,
		Text:              body.Text,
		AllThreadsStopped: body.AllThreadsStopped,
		HitBreakpointIDs:  body.HitBreakpointIds,
	}
}

// String returns a short description for logs.
func (s Stopped) String() string {
	if s.Description != "" {
		return fmt.Sprintf("%s (%s) thread %d", s.Reason, s.Description, s.ThreadID)
	}
	return fmt.Sprintf("%s thread %d", s.Reason, s.ThreadID)
}

// ScopeVars pairs one scope with its variables. GetScopes responses carry one
// entry per scope; only the first entry has Variables populated.
type ScopeVars struct {
	Scope     godap.Scope      `json:"scope"`
	Variables []godap.Variable `json:"variables"`
}
