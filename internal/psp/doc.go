// Package psp implements the plugin server protocol: the JSON-RPC 2.0
// connection between the proxy and one running volt.
//
// # Architecture
//
//	┌──────────────┐   SendRequest / SendNotification   ┌───────────────┐
//	│   catalog    │ ─────────────────────────────────> │  psp.Server   │
//	│  (registry)  │ <───────────────────────────────── │  (one volt)   │
//	└──────────────┘    Handlers (notifications,        └──────┬────────┘
//	                    requests, process exit)                │ stdio,
//	                                                           │ Content-Length
//	                                                    ┌──────┴────────┐
//	                                                    │ volt process  │
//	                                                    └───────────────┘
//
// Start spawns the volt's binary, performs the initialize handshake (merging
// the volt's default configuration with the user's into
// initializationOptions), and returns a ready handle.
//
// Requests and notifications carry a Route. When the route asks for
// checking, the server compares the document's language id against the
// volt's declared activation languages and either rejects the request with
// a routing error or silently drops the notification. Missing hints are
// recovered from the params' textDocument field.
//
// Reply callbacks fire exactly once, on the transport read loop; a closed
// connection resolves every pending callback with a transport error.
// Handlers must hand blocking work off instead of stalling the loop.
package psp
