// Package inline expands script references into the referenced script
// content, recursively, under pragma control.
package inline

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kingrea/ciweave/internal/catalog"
	"github.com/kingrea/ciweave/internal/failure"
	"github.com/kingrea/ciweave/internal/logging"
	"github.com/kingrea/ciweave/internal/shell"
)

// MaxDepth bounds the length of an inclusion chain.
const MaxDepth = 32

// Options configures an Inliner.
type Options struct {
	Catalog  *catalog.Catalog
	Resolver *shell.Resolver
	// InputRoot is the base for references found in pipeline fields.
	InputRoot string
	// AllowedRoot bounds every resolved path. Defaults to InputRoot.
	AllowedRoot string
	// MaxDepth overrides the package limit when positive.
	MaxDepth int
	Log      *logging.Logger
}

// Inliner is the immutable per-run context shared by every field expansion.
// It holds no mutable state and is safe for concurrent use.
type Inliner struct {
	catalog     *catalog.Catalog
	resolver    *shell.Resolver
	inputRoot   string
	allowedRoot string
	maxDepth    int
	log         *logging.Logger
}

// New validates opts and builds an Inliner.
func New(opts Options) (*Inliner, error) {
	if opts.Catalog == nil {
		return nil, fmt.Errorf("inline: catalog is required")
	}
	if opts.Resolver == nil {
		opts.Resolver = shell.NewResolver()
	}
	inputRoot := opts.InputRoot
	if inputRoot == "" {
		inputRoot = opts.Catalog.Root()
	}
	inputRoot, err := filepath.Abs(inputRoot)
	if err != nil {
		return nil, fmt.Errorf("inline: resolve input root: %w", err)
	}
	allowed := opts.AllowedRoot
	if allowed == "" {
		allowed = inputRoot
	}
	allowed, err = filepath.Abs(allowed)
	if err != nil {
		return nil, fmt.Errorf("inline: resolve allowed root: %w", err)
	}
	depth := opts.MaxDepth
	if depth <= 0 {
		depth = MaxDepth
	}
	return &Inliner{
		catalog:     opts.Catalog,
		resolver:    opts.Resolver,
		inputRoot:   inputRoot,
		allowedRoot: allowed,
		maxDepth:    depth,
		log:         opts.Log,
	}, nil
}

// AllowedRoot returns the containment boundary.
func (in *Inliner) AllowedRoot() string { return in.allowedRoot }

// Expansion is the outcome of feeding one field line to a Field.
type Expansion struct {
	// Lines replace the input line. A line that was not a reference comes
	// back as itself.
	Lines []string
	// Script is the absolute path that was inlined, empty when none was.
	Script string
	// ScriptLines counts the fully expanded body of Script.
	ScriptLines int
}

// Inlined reports whether the line was replaced by script content.
func (e Expansion) Inlined() bool { return e.Script != "" }

// Field carries pragma state across the lines of one script-bearing field.
type Field struct {
	in    *Inliner
	file  string
	state State
}

// Field starts a fresh pragma scan for a field of the pipeline document file.
func (in *Inliner) Field(file string) *Field {
	return &Field{in: in, file: file}
}

// Line expands one field line. line is the 1-based position in the pipeline
// document and is only used for diagnostics.
func (f *Field) Line(text string, line int) (Expansion, error) {
	verbatim, p := f.state.advance(text)
	if verbatim {
		return Expansion{Lines: []string{text}}, nil
	}
	ref, ok := f.in.resolver.Resolve(text)
	if !ok {
		return Expansion{Lines: []string{text}}, nil
	}
	origin := fmt.Sprintf("%s:%d", f.file, line)
	path, lines, err := f.in.include(ref, []string{f.in.inputRoot}, p.AllowOutside, nil, origin)
	if err != nil {
		return Expansion{}, attribute(err, f.file, line)
	}
	return Expansion{Lines: lines, Script: path, ScriptLines: len(lines)}, nil
}

func (in *Inliner) include(ref string, bases []string, bypass bool, chain []string, origin string) (string, []string, error) {
	path := in.locate(ref, bases)
	if !within(in.allowedRoot, path) && !bypass {
		return "", nil, &failure.Error{
			Kind: failure.KindUnresolvablePath,
			Path: path,
			Err:  fmt.Errorf("reference %q from %s escapes allowed root %s", ref, origin, in.allowedRoot),
		}
	}
	for _, seen := range chain {
		if seen == path {
			return "", nil, &failure.Error{
				Kind:  failure.KindCycleDetected,
				Path:  path,
				Chain: append(append([]string(nil), chain...), path),
				Err:   fmt.Errorf("script %s includes itself", path),
			}
		}
	}
	if len(chain) >= in.maxDepth {
		return "", nil, &failure.Error{
			Kind:  failure.KindRecursionLimit,
			Path:  path,
			Chain: append(append([]string(nil), chain...), path),
			Err:   fmt.Errorf("inclusion depth exceeds %d", in.maxDepth),
		}
	}
	var (
		src catalog.Source
		err error
	)
	if bypass && !in.catalog.Contains(path) {
		src, err = catalog.ReadSource(path)
	} else {
		src, err = in.catalog.Lookup(path)
	}
	if err != nil {
		return "", nil, annotate(err, fmt.Sprintf("referenced from %s", origin))
	}
	lines, err := in.expand(src, append(chain[:len(chain):len(chain)], path))
	if err != nil {
		return "", nil, err
	}
	in.log.Debugf("inlined %s (%d lines)", path, len(lines))
	return path, lines, nil
}

func (in *Inliner) expand(src catalog.Source, chain []string) ([]string, error) {
	var state State
	bases := []string{filepath.Dir(src.Path), in.inputRoot}
	out := make([]string, 0, src.Lines)
	for i, line := range src.BodyLines() {
		verbatim, p := state.advance(line)
		if verbatim {
			out = append(out, line)
			continue
		}
		ref, ok := in.resolver.Resolve(line)
		if !ok {
			out = append(out, line)
			continue
		}
		_, lines, err := in.include(ref, bases, p.AllowOutside, chain, fmt.Sprintf("%s:%d", src.Path, i+1))
		if err != nil {
			return nil, err
		}
		out = append(out, lines...)
	}
	return out, nil
}

// locate picks the first candidate that is catalogued. When none is, the
// first candidate is returned so the caller reports a precise path.
func (in *Inliner) locate(ref string, bases []string) string {
	native := filepath.FromSlash(ref)
	if filepath.IsAbs(native) {
		return filepath.Clean(native)
	}
	candidates := make([]string, 0, len(bases)+1)
	for _, base := range append(bases, in.catalog.Root()) {
		candidates = append(candidates, filepath.Clean(filepath.Join(base, native)))
	}
	for _, c := range candidates {
		if in.catalog.Contains(c) {
			return c
		}
	}
	return candidates[0]
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func attribute(err error, file string, line int) error {
	fe, ok := err.(*failure.Error)
	if !ok {
		return err
	}
	if fe.File == "" {
		fe.File = file
		fe.Line = line
	}
	return fe
}

func annotate(err error, detail string) error {
	fe, ok := err.(*failure.Error)
	if !ok {
		return err
	}
	fe.Err = fmt.Errorf("%w (%s)", fe.Err, detail)
	return fe
}
