// Package extract moves inlined script content out of compiled pipeline
// documents into standalone executable scripts.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/ciweave/internal/failure"
	"github.com/kingrea/ciweave/internal/fsx"
	"github.com/kingrea/ciweave/internal/logging"
	"github.com/kingrea/ciweave/internal/pipeline"
	"github.com/kingrea/ciweave/internal/shell"
)

// Shebang heads every extracted script.
const Shebang = "#!/usr/bin/env bash"

var unsafeName = regexp.MustCompile(`[^a-z0-9._-]+`)

// Options configures an Extractor.
type Options struct {
	// ScriptsDir receives the extracted scripts.
	ScriptsDir string
	// MinLines is the line count a field must exceed to be extracted.
	MinLines int
	DryRun   bool
	// Resolver recognises fields that already invoke a single script. Those
	// are left alone. Defaults to the built-in matchers.
	Resolver *shell.Resolver
	Log      *logging.Logger
}

// Script is one extracted file.
type Script struct {
	Path    string
	Job     string
	Field   string
	Content []byte
}

// Result summarises one document.
type Result struct {
	Jobs    int
	Scripts []Script
	// Text is the rewritten document, identical to the input when nothing
	// was extracted.
	Text []byte
}

// Extractor is the inverse of the pipeline transformer.
type Extractor struct {
	opts Options
}

// New builds an Extractor.
func New(opts Options) *Extractor {
	if opts.Resolver == nil {
		opts.Resolver = shell.NewResolver()
	}
	return &Extractor{opts: opts}
}

// Extract plans the extraction of data, a compiled document that will be
// written to outputPath. Nothing is written.
func (e *Extractor) Extract(path string, data []byte, outputPath string) (Result, error) {
	doc, err := pipeline.Parse(path, pipeline.StripBanner(data))
	if err != nil {
		return Result{}, err
	}
	outDir := filepath.Dir(outputPath)
	issued := map[string]struct{}{}
	jobs := map[string]struct{}{}
	var scripts []Script
	for _, root := range doc.Pipelines() {
		for _, f := range pipeline.Fields(root) {
			lines := fieldLines(f.Value)
			if len(lines) == 0 || len(lines) <= e.opts.MinLines {
				continue
			}
			if len(lines) == 1 {
				if _, ok := e.opts.Resolver.Resolve(lines[0]); ok {
					continue
				}
			}
			name := uniqueName(issued, stem(f))
			target := filepath.Join(e.opts.ScriptsDir, name+".sh")
			rel, err := filepath.Rel(outDir, target)
			if err != nil {
				return Result{}, failure.Attribute(&failure.Error{Kind: failure.KindUnresolvablePath, File: path, Path: target, Err: err}, f.Job, f.Key)
			}
			f.Replace(pipeline.NewString(invocation(rel), 0))
			scripts = append(scripts, Script{
				Path:    target,
				Job:     f.Job,
				Field:   f.Key,
				Content: []byte(Shebang + "\n" + strings.Join(lines, "\n") + "\n"),
			})
			jobs[f.Job] = struct{}{}
		}
	}
	if len(scripts) == 0 {
		return Result{Text: data}, nil
	}
	text, err := doc.Encode()
	if err != nil {
		return Result{}, err
	}
	return Result{Jobs: len(jobs), Scripts: scripts, Text: text}, nil
}

// DecompileFile extracts inputPath into outputPath and the scripts directory.
func (e *Extractor) DecompileFile(inputPath, outputPath string) (Result, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return Result{}, &failure.Error{Kind: failure.KindInputNotFound, File: inputPath, Err: err}
	}
	res, err := e.Extract(inputPath, data, outputPath)
	if err != nil {
		return Result{}, err
	}
	if len(res.Scripts) == 0 {
		e.opts.Log.Printf("No script fields to extract from %s", inputPath)
		return res, nil
	}
	if e.opts.DryRun {
		for _, s := range res.Scripts {
			e.opts.Log.Printf("[dry-run] would write %s", s.Path)
		}
		e.opts.Log.Printf("[dry-run] would write %s", outputPath)
		return res, nil
	}
	for _, s := range res.Scripts {
		if err := fsx.WriteFileAtomic(s.Path, s.Content, 0o755); err != nil {
			return res, &failure.Error{Kind: failure.KindIOFailed, File: s.Path, Err: err}
		}
		e.opts.Log.Debugf("extracted %s", s.Path)
	}
	if err := fsx.WriteFileAtomic(outputPath, res.Text, 0o644); err != nil {
		return res, &failure.Error{Kind: failure.KindIOFailed, File: outputPath, Err: err}
	}
	e.opts.Log.Printf("Extracted %d script(s) from %d job(s) into %s", len(res.Scripts), res.Jobs, e.opts.ScriptsDir)
	return res, nil
}

// fieldLines flattens a field value into shell lines. Non-string entries are
// rendered as comments so they survive as text.
func fieldLines(n *yaml.Node) []string {
	var lines []string
	add := func(text string) {
		text = strings.TrimSuffix(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
		if text == "" {
			return
		}
		lines = append(lines, strings.Split(text, "\n")...)
	}
	if n.Kind == yaml.ScalarNode {
		text, _ := pipeline.Str(n)
		add(text)
		return lines
	}
	for _, item := range n.Content {
		if text, ok := pipeline.Str(item); ok {
			add(text)
			continue
		}
		lines = append(lines, "# "+pipeline.Render(item))
	}
	return lines
}

func stem(f *pipeline.Field) string {
	job := sanitize(f.Job)
	var suffix string
	switch {
	case f.Key == "script":
	case strings.HasPrefix(f.Key, "run["):
		suffix = "run_" + sanitize(f.Step)
	case f.Key == "hooks.pre_get_sources_script":
		suffix = "pre_get_sources_script"
	default:
		suffix = f.Key
	}
	switch {
	case job == "":
		if suffix == "" {
			return "script"
		}
		return suffix
	case suffix == "":
		return job
	default:
		return job + "_" + suffix
	}
}

// sanitize lowercases name, turns whitespace into dashes and drops anything
// outside [a-z0-9._-].
func sanitize(name string) string {
	name = strings.ToLower(strings.Join(strings.Fields(name), "-"))
	name = unsafeName.ReplaceAllString(name, "")
	return strings.Trim(name, ".")
}

// uniqueName issues base, or base_2, base_3 ... when taken. Suffixed names
// are recorded too, so a job literally named base_2 cannot reuse one.
func uniqueName(issued map[string]struct{}, base string) string {
	if base == "" {
		base = "job"
	}
	name := base
	for n := 2; ; n++ {
		if _, taken := issued[name]; !taken {
			break
		}
		name = fmt.Sprintf("%s_%d", base, n)
	}
	issued[name] = struct{}{}
	return name
}

func invocation(rel string) string {
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") || strings.HasPrefix(rel, "/") {
		return rel
	}
	return "./" + rel
}
