package dap

import "testing"

func TestSessionStateString(t *testing.T) {
	tests := []struct {
		state SessionState
		want  string
	}{
		{StateNotStarted, "not-started"},
		{StateLaunching, "launching"},
		{StateRunning, "running"},
		{StateStopped, "stopped"},
		{StateDisconnected, "disconnected"},
		{SessionState(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, expected %q", got, tt.want)
			}
		})
	}
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	if !a.Valid() {
		t.Error("NewID().Valid() = false, expected true")
	}
	if a == b {
		t.Errorf("NewID() returned %q twice, expected unique ids", a)
	}
	if ID("").Valid() {
		t.Error("empty ID Valid() = true, expected false")
	}
}

func TestDebuggerSpecCommand(t *testing.T) {
	tests := []struct {
		name string
		spec DebuggerSpec
		want string
	}{
		{"bare", DebuggerSpec{Program: "dlv"}, "dlv"},
		{"args", DebuggerSpec{Program: "dlv", Args: []string{"dap", "--listen=:0"}}, "dlv dap --listen=:0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.spec.Command(); got != tt.want {
				t.Errorf("Command() = %q, expected %q", got, tt.want)
			}
		})
	}
}

func TestStoppedString(t *testing.T) {
	tests := []struct {
		name    string
		stopped Stopped
		want    string
	}{
		{"bare", Stopped{Reason: "breakpoint", ThreadID: 3}, "breakpoint thread 3"},
		{"described", Stopped{Reason: "exception", Description: "panic", ThreadID: 1}, "exception (panic) thread 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.stopped.String(); got != tt.want {
				t.Errorf("String() = %q, expected %q", got, tt.want)
			}
		})
	}
}
