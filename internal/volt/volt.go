package volt

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ID is the stable identity of a volt in "author.name" form. It survives
// restarts and version upgrades; running plugin instances get a separate
// per-activation id from the rpc package.
type ID string

// MakeID builds a volt id from its author and name.
func MakeID(author, name string) ID {
	return ID(author + "." + name)
}

// ParseID splits an id into author and name. The author cannot contain a
// dot; everything after the first dot is the name.
func ParseID(id ID) (author, name string, err error) {
	author, name, ok := strings.Cut(string(id), ".")
	if !ok || author == "" || name == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return author, name, nil
}

// Valid reports whether the id parses.
func (id ID) Valid() bool {
	_, _, err := ParseID(id)
	return err == nil
}

// String returns the id in "author.name" form.
func (id ID) String() string {
	return string(id)
}

// Info is the descriptive identity of a volt, without any filesystem state.
// Lifecycle operations that only need to name a volt carry an Info.
type Info struct {
	Name        string `json:"name"`
	Author      string `json:"author"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// ID returns the volt id for this info.
func (i Info) ID() ID {
	return MakeID(i.Author, i.Name)
}

// String returns a human-readable identification.
func (i Info) String() string {
	display := i.DisplayName
	if display == "" {
		display = i.Name
	}
	return fmt.Sprintf("%s v%s", display, i.Version)
}

// Activation declares when a volt should be started. A volt with no
// activation section only starts when the user asks for it explicitly.
type Activation struct {
	// Language lists language ids; the volt activates when a file with one
	// of these language ids is opened.
	Language []string `toml:"language"`

	// WorkspaceContains lists glob patterns; the volt activates when any
	// file in the workspace matches one of them.
	WorkspaceContains []string `toml:"workspace-contains"`
}

// Metadata is a volt's manifest plus the directory it was loaded from.
type Metadata struct {
	Name        string `toml:"name"`
	Author      string `toml:"author"`
	Version     string `toml:"version"`
	DisplayName string `toml:"display-name"`
	Description string `toml:"description"`

	// Binary is the relative path of the plugin server executable. A volt
	// without a binary is metadata-only (themes, grammars) and never
	// activates.
	Binary string `toml:"binary"`

	Activation *Activation    `toml:"activation"`
	Config     map[string]any `toml:"config"`

	// dir is the volt directory; set at load time.
	dir string
}

// ID returns the volt's stable identity.
func (m *Metadata) ID() ID {
	return MakeID(m.Author, m.Name)
}

// Info returns the descriptive identity of this volt.
func (m *Metadata) Info() Info {
	return Info{
		Name:        m.Name,
		Author:      m.Author,
		DisplayName: m.DisplayName,
		Description: m.Description,
		Version:     m.Version,
	}
}

// Dir returns the volt directory.
func (m *Metadata) Dir() string {
	return m.dir
}

// HasBinary reports whether the volt ships a plugin server executable.
func (m *Metadata) HasBinary() bool {
	return m.Binary != ""
}

// BinaryPath returns the absolute path of the plugin server executable, or
// "" for metadata-only volts.
func (m *Metadata) BinaryPath() string {
	if m.Binary == "" {
		return ""
	}
	if filepath.IsAbs(m.Binary) {
		return m.Binary
	}
	return filepath.Join(m.dir, m.Binary)
}

// Languages returns the activation language ids, nil-safe.
func (m *Metadata) Languages() []string {
	if m.Activation == nil {
		return nil
	}
	return m.Activation.Language
}

// WorkspacePatterns returns the workspace-contains globs, nil-safe.
func (m *Metadata) WorkspacePatterns() []string {
	if m.Activation == nil {
		return nil
	}
	return m.Activation.WorkspaceContains
}

// String returns a human-readable identification.
func (m *Metadata) String() string {
	return m.Info().String()
}

// Clone creates a deep copy of the metadata.
func (m *Metadata) Clone() *Metadata {
	clone := *m

	if m.Activation != nil {
		act := Activation{}
		if m.Activation.Language != nil {
			act.Language = make([]string, len(m.Activation.Language))
			copy(act.Language, m.Activation.Language)
		}
		if m.Activation.WorkspaceContains != nil {
			act.WorkspaceContains = make([]string, len(m.Activation.WorkspaceContains))
			copy(act.WorkspaceContains, m.Activation.WorkspaceContains)
		}
		clone.Activation = &act
	}

	if m.Config != nil {
		clone.Config = make(map[string]any, len(m.Config))
		for k, v := range m.Config {
			clone.Config[k] = v
		}
	}

	return &clone
}
