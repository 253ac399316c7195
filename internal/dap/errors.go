package dap

import "errors"

// Sentinel errors for debug session handling.
var (
	// ErrClientClosed indicates the adapter connection is gone and no further
	// requests can be sent.
	ErrClientClosed = errors.New("debug adapter connection closed")

	// ErrNoRunInTerminal indicates a process id arrived while no runInTerminal
	// request from the adapter was pending.
	ErrNoRunInTerminal = errors.New("no pending runInTerminal request")

	// ErrNoProgram indicates a debugger spec without an adapter program.
	ErrNoProgram = errors.New("debugger spec has no program")
)
