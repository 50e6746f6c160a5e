// Package catalog indexes every script under a scripts root before any
// inlining starts. The index is immutable once built and is shared by all
// workers of a run.
package catalog

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kingrea/ciweave/internal/failure"
	"github.com/kingrea/ciweave/internal/fsx"
	"github.com/kingrea/ciweave/internal/logging"
)

// Source is one catalogued script with its shebang removed.
type Source struct {
	Path  string
	Body  string
	Lines int
}

// BodyLines splits the body into lines. An empty body yields no lines.
func (s Source) BodyLines() []string {
	if s.Body == "" {
		return nil
	}
	return strings.Split(s.Body, "\n")
}

// Catalog maps absolute script paths to their normalised source.
type Catalog struct {
	root    string
	sources map[string]Source
	empty   map[string]struct{}
}

// Build walks root for files carrying one of exts and reads them all.
// It fails when root is missing or when no script has content.
func Build(root string, exts []string, log *logging.Logger) (*Catalog, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("catalog: resolve %s: %w", root, err)
	}
	if !fsx.IsDir(abs) {
		return nil, &failure.Error{Kind: failure.KindInputNotFound, Path: abs, Err: fmt.Errorf("scripts directory not found")}
	}
	return BuildFS(os.DirFS(abs), abs, exts, log)
}

// BuildFS indexes fsys, keying entries by root joined with their relative path.
func BuildFS(fsys fs.FS, root string, exts []string, log *logging.Logger) (*Catalog, error) {
	pattern := globPattern(exts)
	if pattern == "" {
		return nil, fmt.Errorf("catalog: no script extensions configured")
	}
	matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("catalog: glob %s: %w", pattern, err)
	}
	sort.Strings(matches)
	c := &Catalog{
		root:    filepath.Clean(root),
		sources: make(map[string]Source, len(matches)),
		empty:   map[string]struct{}{},
	}
	for _, rel := range matches {
		if skipped(rel) {
			continue
		}
		data, err := fs.ReadFile(fsys, rel)
		if err != nil {
			return nil, fmt.Errorf("catalog: read %s: %w", rel, err)
		}
		key := filepath.Join(c.root, filepath.FromSlash(rel))
		src := newSource(key, string(data))
		if src.Body == "" {
			log.Warnf("Script is empty and will be ignored: %s", key)
			c.empty[key] = struct{}{}
			continue
		}
		log.Debugf("catalogued %s (%d lines)", key, src.Lines)
		c.sources[key] = src
	}
	if len(c.sources) == 0 {
		return nil, &failure.Error{Kind: failure.KindInputNotFound, Path: c.root, Err: fmt.Errorf("no non-empty scripts found")}
	}
	return c, nil
}

// Lookup returns the catalogued script at path. Paths that were empty at
// build time yield EmptyScript; anything else not indexed is ScriptNotFound.
func (c *Catalog) Lookup(p string) (Source, error) {
	key := filepath.Clean(p)
	if src, ok := c.sources[key]; ok {
		return src, nil
	}
	if _, ok := c.empty[key]; ok {
		return Source{}, &failure.Error{Kind: failure.KindEmptyScript, Path: key, Err: fmt.Errorf("script is empty")}
	}
	return Source{}, &failure.Error{Kind: failure.KindScriptNotFound, Path: key, Err: fmt.Errorf("script not found in catalog")}
}

// Contains reports whether p was indexed with content.
func (c *Catalog) Contains(p string) bool {
	_, ok := c.sources[filepath.Clean(p)]
	return ok
}

// Root returns the absolute scripts root.
func (c *Catalog) Root() string { return c.root }

// Len returns the number of usable scripts.
func (c *Catalog) Len() int { return len(c.sources) }

// Paths returns the indexed paths in sorted order.
func (c *Catalog) Paths() []string {
	out := make([]string, 0, len(c.sources))
	for p := range c.sources {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ReadSource reads a script directly from disk with the same normalisation
// as catalogued entries. It serves references that explicitly bypass the
// containment check and therefore were never catalogued.
func ReadSource(p string) (Source, error) {
	key := filepath.Clean(p)
	data, ok, err := fsx.ReadOptional(key)
	if err != nil {
		return Source{}, &failure.Error{Kind: failure.KindIOFailed, Path: key, Err: err}
	}
	if !ok {
		return Source{}, &failure.Error{Kind: failure.KindScriptNotFound, Path: key, Err: fmt.Errorf("script not found")}
	}
	src := newSource(key, string(data))
	if src.Body == "" {
		return Source{}, &failure.Error{Kind: failure.KindEmptyScript, Path: key, Err: fmt.Errorf("script is empty")}
	}
	return src, nil
}

// Normalize strips a leading shebang line, converts CRLF endings and trims
// surrounding blank lines while keeping the first line's indentation.
func Normalize(content string) string {
	body := strings.TrimPrefix(strings.ReplaceAll(content, "\r\n", "\n"), "\ufeff")
	if strings.HasPrefix(body, "#!") {
		if idx := strings.IndexByte(body, '\n'); idx >= 0 {
			body = body[idx+1:]
		} else {
			body = ""
		}
	}
	lines := strings.Split(strings.TrimRight(body, " \t\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	return strings.Join(lines, "\n")
}

func newSource(key, content string) Source {
	body := Normalize(content)
	lines := 0
	if body != "" {
		lines = strings.Count(body, "\n") + 1
	}
	return Source{Path: key, Body: body, Lines: lines}
}

func globPattern(exts []string) string {
	var parts []string
	for _, ext := range exts {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		parts = append(parts, ext)
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return "**/*" + parts[0]
	default:
		return "**/*{" + strings.Join(parts, ",") + "}"
	}
}

func skipped(rel string) bool {
	for _, segment := range strings.Split(path.Dir(rel), "/") {
		switch segment {
		case ".git", ".ciweave", "node_modules":
			return true
		}
	}
	return false
}
