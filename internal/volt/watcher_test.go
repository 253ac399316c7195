package volt

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitEvent(t *testing.T, w *Watcher) WatchEvent {
	t.Helper()
	select {
	case ev, ok := <-w.Events():
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for volt event")
	}
	return WatchEvent{}
}

func TestWatcherVoltAdded(t *testing.T) {
	base := t.TempDir()
	w, err := NewWatcher([]string{base}, WithDebounce(30*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Close()

	dir := filepath.Join(base, "acme.fresh")
	writeManifest(t, dir, voltManifest("fresh", "acme", "1.0.0"))

	ev := waitEvent(t, w)
	if ev.Op != VoltAdded {
		t.Errorf("Op = %v, expected VoltAdded", ev.Op)
	}
	if ev.Dir != dir {
		t.Errorf("Dir = %q, expected %q", ev.Dir, dir)
	}
}

func TestWatcherVoltRemoved(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "acme.doomed")
	writeManifest(t, dir, voltManifest("doomed", "acme", "1.0.0"))

	w, err := NewWatcher([]string{base}, WithDebounce(30*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Close()

	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("RemoveAll() error: %v", err)
	}

	ev := waitEvent(t, w)
	if ev.Op != VoltRemoved {
		t.Errorf("Op = %v, expected VoltRemoved", ev.Op)
	}
	if ev.Dir != dir {
		t.Errorf("Dir = %q, expected %q", ev.Dir, dir)
	}
}

func TestWatcherCoalescesBurst(t *testing.T) {
	base := t.TempDir()
	w, err := NewWatcher([]string{base}, WithDebounce(150*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Close()

	// Several events hit the same volt dir in quick succession.
	dir := filepath.Join(base, "acme.burst")
	writeManifest(t, dir, voltManifest("burst", "acme", "1.0.0"))
	if err := os.Chmod(dir, 0o700); err != nil {
		t.Fatalf("Chmod() error: %v", err)
	}
	if err := os.Chmod(dir, 0o755); err != nil {
		t.Fatalf("Chmod() error: %v", err)
	}

	ev := waitEvent(t, w)
	if ev.Op != VoltAdded {
		t.Errorf("Op = %v, expected VoltAdded", ev.Op)
	}

	// The burst must not produce a second event.
	select {
	case extra := <-w.Events():
		t.Errorf("unexpected second event: %+v", extra)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestVoltDirMapping(t *testing.T) {
	base := t.TempDir()
	w, err := NewWatcher([]string{base})
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Close()

	tests := []struct {
		name    string
		path    string
		wantDir string
		wantOK  bool
	}{
		{
			name:    "volt dir itself",
			path:    filepath.Join(base, "acme.x"),
			wantDir: filepath.Join(base, "acme.x"),
			wantOK:  true,
		},
		{
			name:    "file inside volt dir",
			path:    filepath.Join(base, "acme.x", "volt.toml"),
			wantDir: filepath.Join(base, "acme.x"),
			wantOK:  true,
		},
		{
			name:    "nested file",
			path:    filepath.Join(base, "acme.x", "bin", "server"),
			wantDir: filepath.Join(base, "acme.x"),
			wantOK:  true,
		},
		{
			name:   "the base itself",
			path:   base,
			wantOK: false,
		},
		{
			name:   "hidden dir",
			path:   filepath.Join(base, ".git"),
			wantOK: false,
		},
		{
			name:   "outside base",
			path:   filepath.Join(filepath.Dir(base), "elsewhere"),
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, ok := w.voltDir(tt.path)
			if ok != tt.wantOK {
				t.Fatalf("voltDir(%q) ok = %v, expected %v", tt.path, ok, tt.wantOK)
			}
			if ok && dir != tt.wantDir {
				t.Errorf("voltDir(%q) = %q, expected %q", tt.path, dir, tt.wantDir)
			}
		})
	}
}

func TestWatchOpString(t *testing.T) {
	tests := []struct {
		op   WatchOp
		want string
	}{
		{VoltAdded, "added"},
		{VoltChanged, "changed"},
		{VoltRemoved, "removed"},
		{WatchOp(0), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("WatchOp(%d).String() = %q, expected %q", tt.op, got, tt.want)
		}
	}
}
