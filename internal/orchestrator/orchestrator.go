// Package orchestrator drives a whole compile or decompile run: it discovers
// the files to process, builds the shared catalog and hands each file to the
// transformer and the drift guard.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/ciweave/internal/artifact"
	"github.com/kingrea/ciweave/internal/catalog"
	"github.com/kingrea/ciweave/internal/config"
	"github.com/kingrea/ciweave/internal/extract"
	"github.com/kingrea/ciweave/internal/failure"
	"github.com/kingrea/ciweave/internal/fsx"
	"github.com/kingrea/ciweave/internal/inline"
	"github.com/kingrea/ciweave/internal/logging"
	"github.com/kingrea/ciweave/internal/pipeline"
	"github.com/kingrea/ciweave/internal/shell"
)

// ParallelThreshold is the file count above which files are compiled by a
// worker pool.
const ParallelThreshold = 5

// RootDocumentNames are the accepted names of the root pipeline document.
var RootDocumentNames = []string{".gitlab-ci.yml", ".gitlab-ci.yaml"}

// Orchestrator sequences runs for one configuration.
type Orchestrator struct {
	config   *config.Config
	resolver *shell.Resolver
	log      *logging.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithResolver replaces the built-in matchers, typically with a registry
// extended by plugins.
func WithResolver(r *shell.Resolver) Option {
	return func(o *Orchestrator) {
		o.resolver = r
	}
}

// WithLogger routes run diagnostics to log.
func WithLogger(log *logging.Logger) Option {
	return func(o *Orchestrator) {
		o.log = log
	}
}

// New builds an Orchestrator.
func New(cfg *config.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{config: cfg}
	for _, opt := range opts {
		opt(o)
	}
	if o.resolver == nil {
		o.resolver = shell.NewResolver()
	}
	return o
}

// FileResult is the outcome for one pipeline file.
type FileResult struct {
	Source string
	Output string
	// Changed is the transformer's field count; zero means passthrough.
	Changed int
	Outcome artifact.Outcome
	Diff    string
	Err     error
}

// Failed reports whether the file could not be written.
func (r FileResult) Failed() bool { return r.Err != nil }

// Result aggregates a compile run.
type Result struct {
	Files []FileResult
}

// Succeeded counts files that were written or already up to date.
func (r Result) Succeeded() int {
	n := 0
	for _, f := range r.Files {
		if !f.Failed() {
			n++
		}
	}
	return n
}

// Errors returns the per-file failures in path order.
func (r Result) Errors() []error {
	var errs []error
	for _, f := range r.Files {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

// Drifted returns the files whose write was refused because of drift.
func (r Result) Drifted() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if failure.Is(f.Err, failure.KindDriftDetected) {
			out = append(out, f)
		}
	}
	return out
}

// Changed sums the changed field counts.
func (r Result) Changed() int {
	total := 0
	for _, f := range r.Files {
		total += f.Changed
	}
	return total
}

type job struct {
	source string
	output string
	vars   []pipeline.Variable
}

// Compile compiles the root document and every template. Individual file
// failures are collected in the result; the returned error is only set when
// the run could not start or nothing at all was written.
func (o *Orchestrator) Compile(ctx context.Context) (Result, error) {
	jobs, err := o.discover()
	if err != nil {
		return Result{}, err
	}
	transformer, err := o.transformer()
	if err != nil {
		return Result{}, err
	}
	guard := artifact.NewGuard(
		artifact.WithForce(o.config.Project.Force),
		artifact.WithDryRun(o.config.Project.DryRun),
		artifact.WithLogger(o.log),
	)

	results := make([]FileResult, len(jobs))
	run := func(i int) {
		results[i] = o.compileFile(transformer, guard, jobs[i])
	}
	workers := o.config.Parallelism()
	if len(jobs) > ParallelThreshold && workers > 1 {
		o.log.Debugf("compiling %d files with %d workers", len(jobs), workers)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i := range jobs {
			i := i
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					results[i] = FileResult{Source: jobs[i].source, Output: jobs[i].output, Err: err}
					return nil
				}
				run(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range jobs {
			if err := ctx.Err(); err != nil {
				results[i] = FileResult{Source: jobs[i].source, Output: jobs[i].output, Err: err}
				continue
			}
			run(i)
		}
	}

	sort.Slice(results, func(a, b int) bool { return results[a].Source < results[b].Source })
	res := Result{Files: results}
	for _, f := range results {
		if f.Err != nil {
			o.log.Errorf("%v", f.Err)
		}
	}
	if res.Succeeded() == 0 {
		return res, &failure.Error{
			Kind: failure.KindNoOutputWritten,
			Err:  fmt.Errorf("none of %d file(s) could be written", len(results)),
		}
	}
	o.log.Printf("Compiled %d file(s), %d field(s) changed, %d failed", res.Succeeded(), res.Changed(), len(res.Errors()))
	return res, nil
}

func (o *Orchestrator) compileFile(t *pipeline.Transformer, guard *artifact.Guard, j job) FileResult {
	res := FileResult{Source: j.source, Output: j.output}
	content, changed, err := o.render(t, j)
	if err != nil {
		res.Err = err
		return res
	}
	res.Changed = changed
	wr, err := guard.Write(j.output, content)
	res.Outcome = wr.Outcome
	res.Diff = wr.Diff
	if err != nil {
		res.Err = failure.InFile(err, j.output)
		return res
	}
	o.log.Debugf("%s -> %s (%s, %d change(s))", j.source, j.output, wr.Outcome, changed)
	return res
}

// render produces the compiled content for one file. Documents that fail to
// parse are passed through verbatim.
func (o *Orchestrator) render(t *pipeline.Transformer, j job) ([]byte, int, error) {
	data, err := os.ReadFile(j.source)
	if err != nil {
		return nil, 0, &failure.Error{Kind: failure.KindIOFailed, File: j.source, Err: err}
	}
	out, err := t.Transform(j.source, data, j.vars)
	if failure.Is(err, failure.KindParseFailed) {
		o.log.Warnf("Could not parse %s; copying it unchanged: %v", j.source, err)
		return data, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return out.Text, out.Changed, nil
}

func (o *Orchestrator) transformer() (*pipeline.Transformer, error) {
	cat, err := catalog.Build(o.config.ScriptsDir(), o.resolver.Extensions(), o.log)
	if err != nil {
		return nil, err
	}
	o.log.Debugf("catalogued %d script(s) under %s", cat.Len(), cat.Root())
	in, err := inline.New(inline.Options{
		Catalog:     cat,
		Resolver:    o.resolver,
		InputRoot:   o.config.InputDir(),
		AllowedRoot: o.config.AllowedRoot(),
		Log:         o.log,
	})
	if err != nil {
		return nil, err
	}
	return pipeline.NewTransformer(in, o.config.Threshold(), o.log), nil
}

// discover lists the root document and the templates with their outputs.
func (o *Orchestrator) discover() ([]job, error) {
	input := o.config.InputDir()
	if !fsx.IsDir(input) {
		return nil, &failure.Error{Kind: failure.KindInputNotFound, Path: input, Err: fmt.Errorf("input directory not found")}
	}
	root := FindRootDocument(input)
	if root == "" {
		return nil, &failure.Error{Kind: failure.KindInputNotFound, Path: input, Err: fmt.Errorf("no %s or %s in input directory", RootDocumentNames[0], RootDocumentNames[1])}
	}
	vars, err := o.globalVariables()
	if err != nil {
		return nil, err
	}
	jobs := []job{{
		source: root,
		output: filepath.Join(o.config.OutputDir(), filepath.Base(root)),
		vars:   vars,
	}}

	templatesIn := o.config.TemplatesIn()
	if fsx.IsDir(templatesIn) {
		matches, err := doublestar.Glob(os.DirFS(templatesIn), "**/*.{yml,yaml}", doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("orchestrator: glob templates: %w", err)
		}
		sort.Strings(matches)
		for _, rel := range matches {
			jobs = append(jobs, job{
				source: filepath.Join(templatesIn, filepath.FromSlash(rel)),
				output: filepath.Join(o.config.TemplatesOut(), filepath.FromSlash(rel)),
			})
		}
	}

	seen := map[string]string{}
	for _, j := range jobs {
		if filepath.Clean(j.source) == filepath.Clean(j.output) {
			return nil, &failure.Error{Kind: failure.KindConfigInvalid, File: j.source, Err: fmt.Errorf("output would overwrite its own source")}
		}
		if prev, dup := seen[j.output]; dup {
			return nil, &failure.Error{Kind: failure.KindConfigInvalid, File: j.source, Err: fmt.Errorf("output %s is also produced by %s", j.output, prev)}
		}
		seen[j.output] = j.source
	}
	return jobs, nil
}

func (o *Orchestrator) globalVariables() ([]pipeline.Variable, error) {
	path := o.config.GlobalVariablesPath()
	data, ok, err := fsx.ReadOptional(path)
	if err != nil {
		return nil, &failure.Error{Kind: failure.KindIOFailed, File: path, Err: err}
	}
	if !ok {
		return nil, nil
	}
	vars := pipeline.ParseEnvFile(string(data))
	o.log.Debugf("loaded %d global variable(s) from %s", len(vars), path)
	return vars, nil
}

// FindRootDocument returns the root pipeline document in dir, or "".
func FindRootDocument(dir string) string {
	for _, name := range RootDocumentNames {
		path := filepath.Join(dir, name)
		if fsx.IsFile(path) {
			return path
		}
	}
	return ""
}

// DriftReport is one artifact in a drift scan.
type DriftReport struct {
	artifact.CheckResult
	// Diff shows the on-disk content against a fresh compile, when one
	// could be produced.
	Diff string
}

// DetectDrift scans the output tree for artifacts that no longer match their
// fingerprint. Nothing is written.
func (o *Orchestrator) DetectDrift(ctx context.Context) ([]DriftReport, error) {
	guard := artifact.NewGuard(artifact.WithLogger(o.log))
	checks, err := guard.Scan(o.config.OutputDir())
	if err != nil {
		return nil, err
	}
	fresh := o.freshContent(ctx, checks)
	reports := make([]DriftReport, 0, len(checks))
	for _, c := range checks {
		report := DriftReport{CheckResult: c}
		if c.Drifted() {
			if content, ok := fresh[c.Path]; ok {
				current, _ := os.ReadFile(c.Path)
				report.Diff = artifact.Diff(filepath.Base(c.Path), current, content)
			}
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// freshContent renders the current sources for drifted artifacts. Failures
// only cost the diff, so they are logged and skipped.
func (o *Orchestrator) freshContent(ctx context.Context, checks []artifact.CheckResult) map[string][]byte {
	wanted := map[string]bool{}
	for _, c := range checks {
		if c.Drifted() {
			wanted[c.Path] = true
		}
	}
	out := map[string][]byte{}
	if len(wanted) == 0 {
		return out
	}
	jobs, err := o.discover()
	if err != nil {
		o.log.Debugf("drift diff unavailable: %v", err)
		return out
	}
	t, err := o.transformer()
	if err != nil {
		o.log.Debugf("drift diff unavailable: %v", err)
		return out
	}
	for _, j := range jobs {
		if ctx.Err() != nil {
			break
		}
		if !wanted[filepath.Clean(j.output)] {
			continue
		}
		content, _, err := o.render(t, j)
		if err != nil {
			o.log.Debugf("drift diff unavailable for %s: %v", j.output, err)
			continue
		}
		out[filepath.Clean(j.output)] = content
	}
	return out
}

// PlanClean classifies the recorded artifacts of the output tree.
func (o *Orchestrator) PlanClean() (artifact.CleanPlan, error) {
	return artifact.NewGuard(artifact.WithLogger(o.log)).PlanClean(o.config.OutputDir())
}

// Clean removes the artifacts in plan; drifted ones only when confirmed.
func (o *Orchestrator) Clean(plan artifact.CleanPlan, confirmDrifted bool) (int, error) {
	guard := artifact.NewGuard(artifact.WithLogger(o.log), artifact.WithDryRun(o.config.Project.DryRun))
	return guard.Clean(plan, confirmDrifted)
}

// Decompile extracts the configured compiled document into scripts.
func (o *Orchestrator) Decompile(ctx context.Context) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{}, err
	}
	input := o.config.DecompileInput()
	if input == "" {
		return extract.Result{}, &failure.Error{Kind: failure.KindConfigInvalid, Err: fmt.Errorf("no input file to decompile")}
	}
	ex := extract.New(extract.Options{
		ScriptsDir: o.config.DecompileScriptsDir(),
		MinLines:   o.config.Project.Decompile.MinLines,
		DryRun:     o.config.Project.DryRun,
		Resolver:   o.resolver,
		Log:        o.log,
	})
	output := filepath.Join(o.config.DecompileOutputDir(), filepath.Base(input))
	if filepath.Clean(output) == filepath.Clean(input) && !o.config.Project.Force {
		return extract.Result{}, &failure.Error{Kind: failure.KindConfigInvalid, File: input, Err: fmt.Errorf("decompile would overwrite its input; choose another output directory or pass --force")}
	}
	return ex.DecompileFile(input, output)
}
