// Package rpc holds the identifier and error types shared by the plugin
// catalog, the plugin server handles, and the debug orchestration layer.
//
// Everything here crosses a process or goroutine boundary: plugin ids travel
// with every routed request, and Error is the wire shape a plugin server or
// the catalog itself reports back through response callbacks.
package rpc

import (
	"encoding/json"

	"github.com/google/uuid"
)

// PluginID uniquely identifies one running plugin server instance. A volt
// that is stopped and started again gets a fresh PluginID; the volt identity
// itself is stable and lives in the volt package.
type PluginID string

// NewPluginID returns a fresh unique plugin id.
func NewPluginID() PluginID {
	return PluginID(uuid.NewString())
}

// Valid reports whether the id is non-empty.
func (id PluginID) Valid() bool {
	return id != ""
}

// ResponseCallback receives the single reply to an asynchronous request.
// Exactly one of result and rerr is meaningful: rerr is nil on success.
// A callback registered for a request id fires exactly once per plugin the
// request was addressed to.
type ResponseCallback func(id uint64, plugin PluginID, result json.RawMessage, rerr *Error)

// MessageLevel classifies messages surfaced to the editor user.
// Values follow the LSP window/showMessage convention.
type MessageLevel int

// Message levels, most severe first.
const (
	LevelError MessageLevel = iota + 1
	LevelWarning
	LevelInfo
	LevelLog
)

// String returns a human-readable level name.
func (l MessageLevel) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelInfo:
		return "info"
	case LevelLog:
		return "log"
	default:
		return "unknown"
	}
}
