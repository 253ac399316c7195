// Package dap runs Debug Adapter Protocol sessions for the proxy.
//
// A session owns one debug adapter process (Delve, debugpy, codelldb and
// friends all speak the same protocol) and exposes the small surface the
// catalog drives: launch, execution control, breakpoints, and lazy variable
// inspection.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────┐
//	│                       Session                          │
//	│  - launch sequencing and state tracking                │
//	│  - breakpoint store with replay on adapter readiness   │
//	│  - variable tree with expansion accounting             │
//	└────────────────────────────────────────────────────────┘
//	                           │
//	                           ▼
//	┌────────────────────────────────────────────────────────┐
//	│                       Client                           │
//	│  - request/response correlation with one receive loop  │
//	│  - event and reverse-request dispatch                  │
//	└────────────────────────────────────────────────────────┘
//	                           │
//	                           ▼
//	┌────────────────────────────────────────────────────────┐
//	│                      Transport                         │
//	│  - stdio pipes to a spawned adapter subprocess         │
//	│  - raw variant for sockets and tests                   │
//	└────────────────────────────────────────────────────────┘
//
// # Launch Sequence
//
// Starting a session only spawns the adapter and completes the initialize
// handshake; the debuggee waits until Launch is called. When the adapter
// raises its initialized event the session replays stored breakpoints and
// sends configurationDone on a separate goroutine, since both wait on
// responses the receive loop has to deliver.
//
// # Variable Inspection
//
// Variables load in two phases. FetchScopes pulls a frame's scopes and the
// variables of the first scope only; everything else stays unread until
// FetchVariables asks for one node's children. The Tree keeps per-node
// counts of visible descendants so the editor can size its view without
// walking the structure.
//
// # Usage
//
//	session, err := dap.Start(ctx, spec, config, breakpoints, dap.SessionHandlers{
//	    Stopped: func(id dap.ID, stopped dap.Stopped, frames []godap.StackFrame, scopes []dap.ScopeVars) {
//	        // show the stop to the user
//	    },
//	    Terminated: func(id dap.ID) {
//	        // drop the session from the registry
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	if err := session.Launch(ctx); err != nil {
//	    return err
//	}
package dap
