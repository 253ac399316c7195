package plugin

import (
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"github.com/gobwas/glob"

	"github.com/dshills/voltproxy/internal/volt"
)

// workspaceScan memoizes one recursive walk of the workspace root.
type workspaceScan struct {
	entries []string // slash-separated paths relative to the root
	at      time.Time
}

// runActivationGate starts every unactivated volt whose activation
// conditions match the current editor state: a declared language that is
// open, or a workspace-contains pattern that matches something under the
// workspace root. Matched volts leave the unactivated set before their
// servers spawn, so each trigger starts a volt at most once.
func (c *Catalog) runActivationGate() {
	if len(c.unactivated) == 0 {
		return
	}

	langs := make(map[string]bool, len(c.openDocs))
	for _, doc := range c.openDocs {
		if doc.LanguageID != "" {
			langs[doc.LanguageID] = true
		}
	}

	var matched []volt.ID
	for id, meta := range c.unactivated {
		if c.disabled[id] {
			continue
		}
		if c.voltMatches(id, meta, langs) {
			matched = append(matched, id)
		}
	}
	if len(matched) == 0 {
		return
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i] < matched[j] })
	for _, id := range matched {
		meta := c.unactivated[id]
		delete(c.unactivated, id)
		c.startVolt(meta, "")
	}
}

func (c *Catalog) voltMatches(id volt.ID, meta *volt.Metadata, langs map[string]bool) bool {
	for _, lang := range meta.Languages() {
		if langs[lang] {
			return true
		}
	}

	patterns := meta.WorkspacePatterns()
	if len(patterns) == 0 || c.workspace == "" {
		return false
	}
	globs := c.compiledGlobs(id, patterns)
	if len(globs) == 0 {
		return false
	}

	for _, rel := range c.workspaceEntries() {
		for _, g := range globs {
			// A bare-name pattern should hit entries at any depth and a
			// **-prefixed pattern should hit entries at the root, so try
			// both the relative form and a rooted one.
			if g.Match(rel) || g.Match("/"+rel) {
				return true
			}
		}
	}
	return false
}

// compiledGlobs returns the volt's compiled activation patterns, caching
// them per volt. Malformed patterns are logged and skipped.
func (c *Catalog) compiledGlobs(id volt.ID, patterns []string) []glob.Glob {
	if cached, ok := c.globs[id]; ok {
		return cached
	}
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			c.logger.Warn("bad activation pattern", "volt", id, "pattern", pattern, "err", err)
			continue
		}
		compiled = append(compiled, g)
	}
	c.globs[id] = compiled
	return compiled
}

// workspaceEntries returns every file and directory under the workspace
// root, relative to it, rescanning when the memo has expired. Unreadable
// subtrees are skipped.
func (c *Catalog) workspaceEntries() []string {
	if c.scan != nil && time.Since(c.scan.at) < c.scanTTL {
		return c.scan.entries
	}

	root := c.workspace
	var entries []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}
		if rel, relErr := filepath.Rel(root, path); relErr == nil {
			entries = append(entries, filepath.ToSlash(rel))
		}
		return nil
	})

	c.scan = &workspaceScan{entries: entries, at: time.Now()}
	return entries
}
