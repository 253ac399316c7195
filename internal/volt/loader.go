package volt

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Loader errors.
var (
	// ErrVoltNotFound indicates no volt with the id exists in the search paths.
	ErrVoltNotFound = errors.New("volt not found")

	// ErrNotAVolt indicates a directory does not contain a volt manifest.
	ErrNotAVolt = errors.New("directory is not a volt")

	// ErrNoWritablePath indicates no search path could be created for installation.
	ErrNoWritablePath = errors.New("no writable volt path")

	// ErrOutsideVoltPath indicates a volt directory that is not under a search path.
	ErrOutsideVoltPath = errors.New("volt directory outside search paths")
)

// Loader discovers volts on the filesystem. It scans each search path one
// level deep for directories containing a volt.toml manifest; when the same
// volt id appears under several paths the first path wins. Methods are safe
// for concurrent use; the search paths are fixed at construction.
type Loader struct {
	paths  []string
	logger *slog.Logger

	mu         sync.Mutex
	discovered map[ID]*Metadata
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPaths replaces the volt search paths.
func WithPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.paths = paths
	}
}

// WithLogger sets the logger used for skipped manifests.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a loader over the default search paths.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		paths:      DefaultVoltPaths(),
		logger:     slog.Default(),
		discovered: make(map[ID]*Metadata),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultVoltPaths returns the default volt search paths.
func DefaultVoltPaths() []string {
	paths := make([]string, 0, 3)

	// User volts: ~/.config/voltproxy/volts/
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "voltproxy", "volts"))
	}

	// User data volts: ~/.local/share/voltproxy/volts/
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".local", "share", "voltproxy", "volts"))
	}

	// Workspace volts: .voltproxy/volts/
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".voltproxy", "volts"))
	}

	return paths
}

// Paths returns the configured search paths.
func (l *Loader) Paths() []string {
	return l.paths
}

// Discover finds all volts in the search paths, sorted by id.
// Directories without a valid manifest are logged and skipped.
func (l *Loader) Discover() []*Metadata {
	found := make(map[ID]*Metadata)
	for _, basePath := range l.paths {
		l.discoverInPath(found, basePath)
	}

	l.mu.Lock()
	l.discovered = found
	l.mu.Unlock()

	volts := make([]*Metadata, 0, len(found))
	for _, meta := range found {
		volts = append(volts, meta)
	}
	sort.Slice(volts, func(i, j int) bool {
		return volts[i].ID() < volts[j].ID()
	})

	return volts
}

// discoverInPath scans a single search path into found. A missing path is
// not an error.
func (l *Loader) discoverInPath(found map[ID]*Metadata, basePath string) {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn("skipping volt path", "path", basePath, "err", err)
		}
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(basePath, entry.Name())
		meta, err := LoadManifestFromDir(dir)
		if err != nil {
			if os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) {
				continue // not a volt directory
			}
			l.logger.Warn("skipping volt with invalid manifest", "dir", dir, "err", err)
			continue
		}

		// First path wins.
		if _, exists := found[meta.ID()]; !exists {
			found[meta.ID()] = meta
		}
	}
}

// Load reads and validates the volt at dir without touching the cache.
func (l *Loader) Load(dir string) (*Metadata, error) {
	meta, err := LoadManifestFromDir(dir)
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotAVolt, dir)
		}
		return nil, err
	}
	return meta, nil
}

// Find returns the discovered volt with the given id, searching the paths
// directly when the cache misses.
func (l *Loader) Find(id ID) (*Metadata, error) {
	l.mu.Lock()
	meta, ok := l.discovered[id]
	l.mu.Unlock()
	if ok {
		return meta, nil
	}

	for _, basePath := range l.paths {
		dir := filepath.Join(basePath, string(id))
		if stat, err := os.Stat(dir); err == nil && stat.IsDir() {
			meta, err := l.Load(dir)
			if err != nil {
				continue
			}
			if meta.ID() == id {
				l.mu.Lock()
				l.discovered[id] = meta
				l.mu.Unlock()
				return meta, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrVoltNotFound, id)
}

// Install copies an unpacked volt directory into the first search path that
// can be created, under a directory named after the volt id. An existing
// installation of the same volt is replaced.
func (l *Loader) Install(src string) (*Metadata, error) {
	meta, err := l.Load(src)
	if err != nil {
		return nil, err
	}

	base, err := l.writablePath()
	if err != nil {
		return nil, err
	}

	dst := filepath.Join(base, string(meta.ID()))
	if err := os.RemoveAll(dst); err != nil {
		return nil, fmt.Errorf("failed to replace volt dir: %w", err)
	}
	if err := copyTree(src, dst); err != nil {
		return nil, fmt.Errorf("failed to install volt: %w", err)
	}

	installed, err := l.Load(dst)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.discovered[installed.ID()] = installed
	l.mu.Unlock()
	return installed, nil
}

// Remove deletes the volt's directory. The directory must live under one of
// the search paths.
func (l *Loader) Remove(id ID) error {
	meta, err := l.Find(id)
	if err != nil {
		return err
	}

	if !l.underSearchPath(meta.Dir()) {
		return fmt.Errorf("%w: %s", ErrOutsideVoltPath, meta.Dir())
	}

	if err := os.RemoveAll(meta.Dir()); err != nil {
		return fmt.Errorf("failed to remove volt dir: %w", err)
	}
	l.mu.Lock()
	delete(l.discovered, id)
	l.mu.Unlock()
	return nil
}

// writablePath returns the first search path that exists or can be created.
func (l *Loader) writablePath() (string, error) {
	for _, base := range l.paths {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return base, nil
		}
	}
	return "", ErrNoWritablePath
}

// underSearchPath reports whether dir is inside a search path. The search
// path itself does not count; Remove must never delete a whole search path.
func (l *Loader) underSearchPath(dir string) bool {
	for _, base := range l.paths {
		rel, err := filepath.Rel(base, dir)
		if err != nil {
			continue
		}
		if rel != "." && filepath.IsLocal(rel) {
			return true
		}
	}
	return false
}

// copyTree copies a directory tree, following the source's layout. Symlinks
// are skipped.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

// copyFile copies one regular file, preserving its permission bits.
func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	_, err = io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return err
}
