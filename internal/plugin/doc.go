// Package plugin hosts the volt catalog, the proxy's orchestration core.
//
// The catalog owns all mutable registry state: running plugin servers,
// unactivated volts, the open-document map, registered debugger types, and
// live debug sessions. It is an actor; one goroutine consumes a
// notification queue and is the only code allowed to touch that state.
//
// # Architecture
//
//	editor front-end ───► Notify ──► queue ──► Run ──► handler
//	plugin transports ──► Notify ──┘                     │
//	session callbacks ──► Notify ──┘                     ▼
//	                                                worker pool
//	                                                     │
//	         results re-enter the queue as messages ◄────┘
//
// Handlers never block: anything that waits on a process or a wire round
// trip (volt spawns, installs, DAP requests) is submitted to the worker
// pool, and the outcome re-enters the queue as another message. State is
// therefore mutated from exactly one goroutine and needs no locks.
//
// # Request Fan-Out
//
// A request either targets one plugin or broadcasts to all of them. The
// catalog keeps the editor's pending-reply counter equal to the number of
// callback invocations that will follow: a targeted request to a missing
// plugin counts one and fails immediately, a broadcast over an empty
// registry counts one and synthesizes a single error reply, and a real
// broadcast counts the registry size before any plugin sees the request.
// Replies preserve order per plugin only; plugins answer at their own pace.
//
// # Lazy Activation
//
// Discovered volts wait in the unactivated set until the workspace gives a
// reason to start them: a document opens whose language id the volt
// declares, or a workspace-contains glob matches a path under the root.
// Matched volts leave the set before their servers spawn, so a burst of
// triggers starts each volt once. A server that comes up is fed every open
// document before it joins the registry, then announced to the editor.
//
// # Debugging
//
// Debug sessions follow the same shape: spawn on a worker, register on the
// actor, launch on a worker. Removal happens in exactly one place, the
// DapDisconnected message, whether the debuggee exited, the adapter died,
// or the editor asked for a disconnect. Messages about sessions that are
// already gone are logged and dropped.
package plugin
