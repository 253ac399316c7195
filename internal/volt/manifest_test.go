package volt

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error: %v", err)
	}
	path := filepath.Join(dir, ManifestName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

const validManifest = `
name = "rust-analyzer"
author = "acme"
version = "1.2.0"
display-name = "Rust Analyzer"
description = "Rust language support"
binary = "bin/server"

[activation]
language = ["rust"]
workspace-contains = ["**/Cargo.toml"]

[config]
check-on-save = true
`

func TestLoadManifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "acme.rust-analyzer")
	writeManifest(t, dir, validManifest)

	meta, err := LoadManifestFromDir(dir)
	if err != nil {
		t.Fatalf("LoadManifestFromDir() error: %v", err)
	}

	if meta.Name != "rust-analyzer" {
		t.Errorf("Name = %q, expected %q", meta.Name, "rust-analyzer")
	}
	if meta.Author != "acme" {
		t.Errorf("Author = %q, expected %q", meta.Author, "acme")
	}
	if got := meta.ID(); got != ID("acme.rust-analyzer") {
		t.Errorf("ID() = %q, expected %q", got, "acme.rust-analyzer")
	}
	if meta.Dir() != dir {
		t.Errorf("Dir() = %q, expected %q", meta.Dir(), dir)
	}
	if !meta.HasBinary() {
		t.Error("HasBinary() = false, expected true")
	}
	if got, want := meta.BinaryPath(), filepath.Join(dir, "bin", "server"); got != want {
		t.Errorf("BinaryPath() = %q, expected %q", got, want)
	}
	if got := meta.Languages(); len(got) != 1 || got[0] != "rust" {
		t.Errorf("Languages() = %v, expected [rust]", got)
	}
	if got := meta.WorkspacePatterns(); len(got) != 1 || got[0] != "**/Cargo.toml" {
		t.Errorf("WorkspacePatterns() = %v, expected [**/Cargo.toml]", got)
	}
	if v, ok := meta.Config["check-on-save"]; !ok || v != true {
		t.Errorf("Config[check-on-save] = %v, expected true", v)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "acme.minimal")
	writeManifest(t, dir, "name = \"minimal\"\nauthor = \"acme\"\n")

	meta, err := LoadManifestFromDir(dir)
	if err != nil {
		t.Fatalf("LoadManifestFromDir() error: %v", err)
	}

	if meta.Version != "0.0.0" {
		t.Errorf("default Version = %q, expected %q", meta.Version, "0.0.0")
	}
	if meta.DisplayName != "minimal" {
		t.Errorf("default DisplayName = %q, expected %q", meta.DisplayName, "minimal")
	}
	if meta.HasBinary() {
		t.Error("HasBinary() = true for metadata-only volt")
	}
	if meta.BinaryPath() != "" {
		t.Errorf("BinaryPath() = %q, expected empty", meta.BinaryPath())
	}
	if meta.Languages() != nil {
		t.Errorf("Languages() = %v, expected nil", meta.Languages())
	}
}

func TestManifestValidation(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		wantErr  error
	}{
		{
			name:     "missing name",
			manifest: "author = \"acme\"\nversion = \"1.0.0\"\n",
			wantErr:  ErrMissingName,
		},
		{
			name:     "invalid name",
			manifest: "name = \"Bad Name\"\nauthor = \"acme\"\nversion = \"1.0.0\"\n",
			wantErr:  ErrInvalidName,
		},
		{
			name:     "missing author",
			manifest: "name = \"good\"\nversion = \"1.0.0\"\n",
			wantErr:  ErrMissingAuthor,
		},
		{
			name:     "invalid author",
			manifest: "name = \"good\"\nauthor = \"Not Valid\"\nversion = \"1.0.0\"\n",
			wantErr:  ErrInvalidAuthor,
		},
		{
			name:     "invalid version",
			manifest: "name = \"good\"\nauthor = \"acme\"\nversion = \"one\"\n",
			wantErr:  ErrInvalidVersion,
		},
		{
			name:     "binary escapes dir",
			manifest: "name = \"good\"\nauthor = \"acme\"\nversion = \"1.0.0\"\nbinary = \"../../evil\"\n",
			wantErr:  ErrBinaryEscapes,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "candidate")
			writeManifest(t, dir, tt.manifest)

			_, err := LoadManifestFromDir(dir)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("LoadManifestFromDir() error = %v, expected %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		name       string
		id         ID
		wantAuthor string
		wantName   string
		wantErr    bool
	}{
		{name: "simple", id: "acme.tool", wantAuthor: "acme", wantName: "tool"},
		{name: "dotted name", id: "acme.my.tool", wantAuthor: "acme", wantName: "my.tool"},
		{name: "no dot", id: "acme", wantErr: true},
		{name: "empty author", id: ".tool", wantErr: true},
		{name: "empty name", id: "acme.", wantErr: true},
		{name: "empty", id: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			author, name, err := ParseID(tt.id)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseID(%q) succeeded, expected error", tt.id)
				}
				if tt.id.Valid() {
					t.Errorf("Valid() = true for %q", tt.id)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseID(%q) error: %v", tt.id, err)
			}
			if author != tt.wantAuthor || name != tt.wantName {
				t.Errorf("ParseID(%q) = (%q, %q), expected (%q, %q)",
					tt.id, author, name, tt.wantAuthor, tt.wantName)
			}
		})
	}
}

func TestMetadataClone(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "acme.rust-analyzer")
	writeManifest(t, dir, validManifest)

	meta, err := LoadManifestFromDir(dir)
	if err != nil {
		t.Fatalf("LoadManifestFromDir() error: %v", err)
	}

	clone := meta.Clone()
	clone.Activation.Language[0] = "zig"
	clone.Config["check-on-save"] = false

	if meta.Activation.Language[0] != "rust" {
		t.Error("Clone() shares activation language slice")
	}
	if meta.Config["check-on-save"] != true {
		t.Error("Clone() shares config map")
	}
	if clone.Dir() != meta.Dir() {
		t.Errorf("Clone().Dir() = %q, expected %q", clone.Dir(), meta.Dir())
	}
}

func TestInfoString(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{
			name: "with display name",
			info: Info{Name: "tool", DisplayName: "The Tool", Version: "2.0.0"},
			want: "The Tool v2.0.0",
		},
		{
			name: "without display name",
			info: Info{Name: "tool", Version: "0.1.0"},
			want: "tool v0.1.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.String(); got != tt.want {
				t.Errorf("String() = %q, expected %q", got, tt.want)
			}
		})
	}
}
