package plugin

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dshills/voltproxy/internal/dispatch"
	"github.com/dshills/voltproxy/internal/psp"
	"github.com/dshills/voltproxy/internal/volt"
)

// buildWorkspace creates a workspace tree. Entries ending in "/" become
// directories, everything else a small file.
func buildWorkspace(t *testing.T, paths ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, rel := range paths {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if strings.HasSuffix(rel, "/") {
			if err := os.MkdirAll(full, 0o755); err != nil {
				t.Fatalf("mkdir %s: %v", rel, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir for %s: %v", rel, err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return root
}

func activationMeta(name string, langs, patterns []string) *volt.Metadata {
	meta := testMeta("acme", name)
	meta.Activation = &volt.Activation{Language: langs, WorkspaceContains: patterns}
	return meta
}

func expectNoStart(t *testing.T, starts chan psp.Options) {
	t.Helper()
	select {
	case opts := <-starts:
		t.Errorf("unexpected volt start: %v", opts.Meta.ID())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestActivationByLanguage(t *testing.T) {
	starts := make(chan psp.Options, 4)
	c, _, _ := newTestCatalog(t, WithStarter(recordingStarter(starts)))

	meta := activationMeta("rust-tools", []string{"rust"}, nil)
	c.process(UnactivatedVolts{Volts: []*volt.Metadata{meta}})
	expectNoStart(t, starts)

	c.process(DidOpen{Doc: Document{Path: "/ws/main.rs", LanguageID: "rust", Version: 1}})

	opts := waitStart(t, starts)
	if opts.Meta.Name != "rust-tools" {
		t.Errorf("started volt = %q, expected rust-tools", opts.Meta.Name)
	}
	if _, ok := c.unactivated[meta.ID()]; ok {
		t.Error("activated volt still in unactivated set")
	}
}

func TestActivationByWorkspaceGlob(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		match   bool
	}{
		{"root file", "Cargo.toml", true},
		{"recursive prefix hits root", "**/Cargo.toml", true},
		{"extension across directories", "*.rs", true},
		{"directory entry", "node_modules", true},
		{"no match", "*.gradle", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := buildWorkspace(t,
				"Cargo.toml",
				"src/main.rs",
				"node_modules/",
			)
			starts := make(chan psp.Options, 4)
			c, _, _ := newTestCatalog(t,
				WithWorkspace(root),
				WithStarter(recordingStarter(starts)),
			)

			meta := activationMeta("globber", nil, []string{tt.pattern})
			c.process(UnactivatedVolts{Volts: []*volt.Metadata{meta}})

			if tt.match {
				opts := waitStart(t, starts)
				if opts.Meta.Name != "globber" {
					t.Errorf("started volt = %q, expected globber", opts.Meta.Name)
				}
			} else {
				expectNoStart(t, starts)
				if _, ok := c.unactivated[meta.ID()]; !ok {
					t.Error("unmatched volt left the unactivated set")
				}
			}
		})
	}
}

func TestActivationNestedGlobMatch(t *testing.T) {
	root := buildWorkspace(t, "services/api/go.mod", "README.md")
	starts := make(chan psp.Options, 4)
	c, _, _ := newTestCatalog(t,
		WithWorkspace(root),
		WithStarter(recordingStarter(starts)),
	)

	meta := activationMeta("go-tools", nil, []string{"**/go.mod"})
	c.process(UnactivatedVolts{Volts: []*volt.Metadata{meta}})

	opts := waitStart(t, starts)
	if opts.Meta.Name != "go-tools" {
		t.Errorf("started volt = %q, expected go-tools", opts.Meta.Name)
	}
}

func TestActivationAtMostOnce(t *testing.T) {
	root := buildWorkspace(t, "go.mod")
	starts := make(chan psp.Options, 8)
	c, _, _ := newTestCatalog(t,
		WithWorkspace(root),
		WithStarter(recordingStarter(starts)),
	)

	// Both conditions hold, and two triggers arrive back to back.
	meta := activationMeta("go-tools", []string{"go"}, []string{"go.mod"})
	c.process(UnactivatedVolts{Volts: []*volt.Metadata{meta}})
	c.process(DidOpen{Doc: Document{Path: filepath.Join(root, "main.go"), LanguageID: "go", Version: 1}})

	waitStart(t, starts)
	pumpOne(t, c) // PluginServerLoaded

	c.process(DidOpen{Doc: Document{Path: filepath.Join(root, "other.go"), LanguageID: "go", Version: 1}})
	expectNoStart(t, starts)

	if !c.voltActive(meta.ID()) {
		t.Error("volt not active after activation")
	}
}

func TestActivationSkipsMalformedGlob(t *testing.T) {
	root := buildWorkspace(t, "Cargo.toml")

	t.Run("valid pattern still matches", func(t *testing.T) {
		starts := make(chan psp.Options, 4)
		c, _, _ := newTestCatalog(t,
			WithWorkspace(root),
			WithStarter(recordingStarter(starts)),
		)

		meta := activationMeta("rusty", nil, []string{"[", "Cargo.toml"})
		c.process(UnactivatedVolts{Volts: []*volt.Metadata{meta}})
		waitStart(t, starts)
	})

	t.Run("only malformed patterns never match", func(t *testing.T) {
		starts := make(chan psp.Options, 4)
		c, _, _ := newTestCatalog(t,
			WithWorkspace(root),
			WithStarter(recordingStarter(starts)),
		)

		meta := activationMeta("broken", nil, []string{"["})
		c.process(UnactivatedVolts{Volts: []*volt.Metadata{meta}})
		expectNoStart(t, starts)
		if _, ok := c.unactivated[meta.ID()]; !ok {
			t.Error("volt with unusable patterns left the unactivated set")
		}
	})
}

func TestActivationMetadataOnlyVoltNeverStarts(t *testing.T) {
	starts := make(chan psp.Options, 4)
	c, _, _ := newTestCatalog(t, WithStarter(recordingStarter(starts)))

	meta := activationMeta("theme", []string{"go"}, nil)
	meta.Binary = ""
	c.process(UnactivatedVolts{Volts: []*volt.Metadata{meta}})
	c.process(DidOpen{Doc: Document{Path: "/ws/main.go", LanguageID: "go", Version: 1}})

	expectNoStart(t, starts)
	if _, ok := c.unactivated[meta.ID()]; ok {
		t.Error("metadata-only volt stayed in the unactivated set")
	}
}

func TestActivationRequeuesWhenPoolRejects(t *testing.T) {
	starts := make(chan psp.Options, 4)
	core := newFakeCore()
	loader := newFakeLoader()
	// The pool is never started, so every submission is rejected.
	c := New(core, loader, dispatch.NewPool(), WithStarter(recordingStarter(starts)))

	meta := activationMeta("go-tools", []string{"go"}, nil)
	c.process(UnactivatedVolts{Volts: []*volt.Metadata{meta}})
	c.process(DidOpen{Doc: Document{Path: "/ws/main.go", LanguageID: "go", Version: 1}})

	expectNoStart(t, starts)
	if _, ok := c.unactivated[meta.ID()]; !ok {
		t.Error("volt was not requeued after a rejected start")
	}
}

func TestWorkspaceScanMemo(t *testing.T) {
	root := buildWorkspace(t, "a.txt")
	c, _, _ := newTestCatalog(t, WithWorkspace(root), WithScanTTL(time.Minute))

	first := c.workspaceEntries()
	if len(first) != 1 {
		t.Fatalf("initial scan = %d entries, expected 1", len(first))
	}

	if err := os.WriteFile(filepath.Join(root, "b.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write b.txt: %v", err)
	}

	if got := c.workspaceEntries(); len(got) != 1 {
		t.Errorf("scan within ttl = %d entries, expected memoized 1", len(got))
	}

	c.scan.at = time.Time{}
	if got := c.workspaceEntries(); len(got) != 2 {
		t.Errorf("scan after expiry = %d entries, expected 2", len(got))
	}
}

func TestWorkspaceScanMissingRoot(t *testing.T) {
	c, _, _ := newTestCatalog(t, WithWorkspace("/does/not/exist"))

	if got := c.workspaceEntries(); len(got) != 0 {
		t.Errorf("entries for missing root = %d, expected 0", len(got))
	}
}
