package psp

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/tidwall/gjson"
)

func TestBuildInitOptions(t *testing.T) {
	tests := []struct {
		name     string
		defaults map[string]any
		user     map[string]any
		checks   map[string]any // gjson path -> expected value
		empty    bool
	}{
		{
			name:  "no config",
			empty: true,
		},
		{
			name:     "defaults only",
			defaults: map[string]any{"trace": "verbose"},
			checks:   map[string]any{"trace": "verbose"},
		},
		{
			name:     "user overrides default",
			defaults: map[string]any{"trace": "off", "features": []string{"a"}},
			user:     map[string]any{"trace": "verbose"},
			checks:   map[string]any{"trace": "verbose", "features.0": "a"},
		},
		{
			name:     "dotted keys nest",
			defaults: map[string]any{"check.on-save": true},
			user:     map[string]any{"check.command": "clippy"},
			checks:   map[string]any{"check.on-save": true, "check.command": "clippy"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := buildInitOptions(tt.defaults, tt.user)
			if err != nil {
				t.Fatalf("buildInitOptions() error: %v", err)
			}

			if tt.empty {
				if doc != nil {
					t.Errorf("buildInitOptions() = %s, expected nil", doc)
				}
				return
			}

			for path, want := range tt.checks {
				got := gjson.GetBytes(doc, path)
				if got.Value() != want {
					t.Errorf("option %q = %v, expected %v", path, got.Value(), want)
				}
			}
		})
	}
}

func TestWantsDocument(t *testing.T) {
	rustOnly := &Server{
		languages: map[string]bool{"rust": true},
		logger:    slog.Default(),
	}
	anyLang := &Server{
		languages: map[string]bool{},
		logger:    slog.Default(),
	}

	didOpenGo := json.RawMessage(`{"textDocument":{"uri":"file:///main.go","languageId":"go"}}`)
	didOpenRust := json.RawMessage(`{"textDocument":{"uri":"file:///main.rs","languageId":"rust"}}`)

	tests := []struct {
		name   string
		server *Server
		route  Route
		params json.RawMessage
		want   bool
	}{
		{
			name:   "no check delivers",
			server: rustOnly,
			route:  Route{LanguageID: "go"},
			want:   true,
		},
		{
			name:   "no declared languages delivers",
			server: anyLang,
			route:  Route{LanguageID: "go", Check: true},
			want:   true,
		},
		{
			name:   "matching language",
			server: rustOnly,
			route:  Route{LanguageID: "rust", Check: true},
			want:   true,
		},
		{
			name:   "mismatched language",
			server: rustOnly,
			route:  Route{LanguageID: "go", Check: true},
			want:   false,
		},
		{
			name:   "language recovered from params",
			server: rustOnly,
			route:  Route{Check: true},
			params: didOpenRust,
			want:   true,
		},
		{
			name:   "params language mismatch",
			server: rustOnly,
			route:  Route{Check: true},
			params: didOpenGo,
			want:   false,
		},
		{
			name:   "no language anywhere delivers",
			server: rustOnly,
			route:  Route{Check: true},
			params: json.RawMessage(`{"settings":{}}`),
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.server.wantsDocument(tt.route, tt.params); got != tt.want {
				t.Errorf("wantsDocument(%+v) = %v, expected %v", tt.route, got, tt.want)
			}
		})
	}
}

func TestMarshalParams(t *testing.T) {
	raw := json.RawMessage(`{"a":1}`)
	got, err := marshalParams(raw)
	if err != nil {
		t.Fatalf("marshalParams() error: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Errorf("marshalParams(RawMessage) = %s, expected passthrough", got)
	}

	got, err = marshalParams(map[string]int{"b": 2})
	if err != nil {
		t.Fatalf("marshalParams() error: %v", err)
	}
	if string(got) != `{"b":2}` {
		t.Errorf("marshalParams(map) = %s, expected {\"b\":2}", got)
	}

	got, err = marshalParams(nil)
	if err != nil {
		t.Fatalf("marshalParams() error: %v", err)
	}
	if got != nil {
		t.Errorf("marshalParams(nil) = %s, expected nil", got)
	}
}
