package volt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// ManifestName is the manifest file every volt directory must contain.
const ManifestName = "volt.toml"

// Validation errors.
var (
	ErrInvalidID      = errors.New("volt: invalid id")
	ErrMissingName    = errors.New("volt: name is required")
	ErrInvalidName    = errors.New("volt: name must be alphanumeric with hyphens")
	ErrMissingAuthor  = errors.New("volt: author is required")
	ErrInvalidAuthor  = errors.New("volt: author must be alphanumeric with hyphens")
	ErrMissingVersion = errors.New("volt: version is required")
	ErrInvalidVersion = errors.New("volt: version must be valid semver")
	ErrBinaryEscapes  = errors.New("volt: binary must stay inside the volt directory")
)

// namePattern validates volt names and authors.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)

// semverPattern validates version strings (simplified semver).
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// LoadManifest loads and validates a volt manifest from a file.
func LoadManifest(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Metadata
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	m.dir = filepath.Dir(path)
	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// LoadManifestFromDir loads the volt.toml manifest inside dir.
func LoadManifestFromDir(dir string) (*Metadata, error) {
	return LoadManifest(filepath.Join(dir, ManifestName))
}

// applyDefaults fills optional fields.
func (m *Metadata) applyDefaults() {
	if m.Version == "" {
		m.Version = "0.0.0"
	}
	if m.DisplayName == "" {
		m.DisplayName = m.Name
	}
}

// Validate checks that the manifest is usable.
func (m *Metadata) Validate() error {
	if m.Name == "" {
		return ErrMissingName
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("%w: %s", ErrInvalidName, m.Name)
	}

	if m.Author == "" {
		return ErrMissingAuthor
	}
	if !namePattern.MatchString(m.Author) {
		return fmt.Errorf("%w: %s", ErrInvalidAuthor, m.Author)
	}

	if m.Version == "" {
		return ErrMissingVersion
	}
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, m.Version)
	}

	// A relative binary path must resolve inside the volt directory.
	if m.Binary != "" && !filepath.IsAbs(m.Binary) {
		clean := filepath.Clean(m.Binary)
		if clean == ".." || len(clean) >= 3 && clean[:3] == ".."+string(filepath.Separator) {
			return fmt.Errorf("%w: %s", ErrBinaryEscapes, m.Binary)
		}
	}

	return nil
}
