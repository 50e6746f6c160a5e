package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/ciweave/internal/artifact"
	"github.com/kingrea/ciweave/internal/config"
	"github.com/kingrea/ciweave/internal/failure"
	"github.com/kingrea/ciweave/internal/pipeline"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func newProject(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "uncompiled")
	writeFile(t, filepath.Join(in, "scripts", "build.sh"), "#!/bin/bash\necho 1\necho 2\necho 3\necho 4\necho 5\n")
	writeFile(t, filepath.Join(in, "scripts", "lint.sh"), "make lint\n")
	writeFile(t, filepath.Join(in, "global_variables.sh"), "IMAGE_TAG=latest\n")
	writeFile(t, filepath.Join(in, ".gitlab-ci.yml"), "build:\n  script: ./scripts/build.sh\nlint:\n  script:\n    - ./scripts/lint.sh\n")
	writeFile(t, filepath.Join(in, "templates", "lint.yml"), "lint-template:\n  script: ./scripts/lint.sh\n")
	writeFile(t, filepath.Join(in, "templates", "static.yml"), "static:\n  script: [echo static]\n")
	cfg := &config.Config{ProjectDir: dir, Project: config.ProjectConfig{
		Version:   1,
		InputDir:  "uncompiled",
		OutputDir: "out",
	}}
	return cfg, dir
}

func TestCompileWritesRootAndTemplates(t *testing.T) {
	cfg, dir := newProject(t)
	res, err := New(cfg).Compile(context.Background())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(res.Files) != 3 || res.Succeeded() != 3 {
		t.Fatalf("expected 3 written files, got %+v", res.Files)
	}
	root := readFile(t, filepath.Join(dir, "out", ".gitlab-ci.yml"))
	if !strings.HasPrefix(root, pipeline.Banner) || !strings.Contains(root, `IMAGE_TAG: "latest"`) {
		t.Fatalf("unexpected root output:\n%s", root)
	}
	tmpl := readFile(t, filepath.Join(dir, "out", "templates", "lint.yml"))
	if strings.Contains(tmpl, "IMAGE_TAG") || !strings.Contains(tmpl, "make lint") {
		t.Fatalf("unexpected template output:\n%s", tmpl)
	}
	static := readFile(t, filepath.Join(dir, "out", "templates", "static.yml"))
	if static != "static:\n  script: [echo static]\n" {
		t.Fatalf("unchanged template should be copied verbatim:\n%s", static)
	}
	for _, p := range []string{".gitlab-ci.yml", "templates/lint.yml", "templates/static.yml"} {
		if _, err := os.Stat(artifact.RecordPath(filepath.Join(dir, "out", filepath.FromSlash(p)))); err != nil {
			t.Fatalf("missing record for %s: %v", p, err)
		}
	}
}

func TestCompileIsIdempotent(t *testing.T) {
	cfg, dir := newProject(t)
	o := New(cfg)
	if _, err := o.Compile(context.Background()); err != nil {
		t.Fatalf("first compile: %v", err)
	}
	out := filepath.Join(dir, "out", ".gitlab-ci.yml")
	first, firstRecord := readFile(t, out), readFile(t, artifact.RecordPath(out))
	res, err := o.Compile(context.Background())
	if err != nil {
		t.Fatalf("second compile: %v", err)
	}
	for _, f := range res.Files {
		if f.Outcome != artifact.OutcomeUnchanged {
			t.Fatalf("%s: expected unchanged, got %s", f.Output, f.Outcome)
		}
	}
	if readFile(t, out) != first || readFile(t, artifact.RecordPath(out)) != firstRecord {
		t.Fatalf("second compile changed output or fingerprint")
	}
}

func TestCompileRefusesDriftUntilForced(t *testing.T) {
	cfg, dir := newProject(t)
	if _, err := New(cfg).Compile(context.Background()); err != nil {
		t.Fatalf("compile: %v", err)
	}
	out := filepath.Join(dir, "out", ".gitlab-ci.yml")
	writeFile(t, out, readFile(t, out)+"# hand edit\n")

	res, err := New(cfg).Compile(context.Background())
	if err != nil {
		t.Fatalf("templates still succeed, run should not fail: %v", err)
	}
	drifted := res.Drifted()
	if len(drifted) != 1 || drifted[0].Output != out || !strings.Contains(drifted[0].Diff, "-# hand edit") {
		t.Fatalf("expected drift on root document, got %+v", drifted)
	}

	reports, err := New(cfg).DetectDrift(context.Background())
	if err != nil {
		t.Fatalf("DetectDrift: %v", err)
	}
	found := false
	for _, r := range reports {
		if r.Path == out {
			found = r.Drifted() && strings.Contains(r.Diff, "-# hand edit")
		}
	}
	if !found {
		t.Fatalf("drift scan did not report the edited file with a diff: %+v", reports)
	}

	cfg.Project.Force = true
	res, err = New(cfg).Compile(context.Background())
	if err != nil || len(res.Drifted()) != 0 {
		t.Fatalf("forced compile: %v %+v", err, res.Drifted())
	}
	if strings.Contains(readFile(t, out), "hand edit") {
		t.Fatalf("forced compile did not overwrite")
	}
}

func TestCompileParallelAndParseFailures(t *testing.T) {
	cfg, dir := newProject(t)
	in := filepath.Join(dir, "uncompiled", "templates")
	for i := 0; i < 6; i++ {
		writeFile(t, filepath.Join(in, "many", fmt.Sprintf("t%d.yaml", i)), fmt.Sprintf("job%d:\n  script: ./scripts/lint.sh\n", i))
	}
	writeFile(t, filepath.Join(in, "broken.yml"), "job: [unclosed\n")
	cfg.Project.Parallelism = 4

	res, err := New(cfg).Compile(context.Background())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(res.Files) != 10 || res.Succeeded() != 10 {
		t.Fatalf("expected 10 successful files, got %d/%d: %v", res.Succeeded(), len(res.Files), res.Errors())
	}
	for i := 1; i < len(res.Files); i++ {
		if res.Files[i-1].Source > res.Files[i].Source {
			t.Fatalf("results not sorted by source")
		}
	}
	if got := readFile(t, filepath.Join(dir, "out", "templates", "broken.yml")); got != "job: [unclosed\n" {
		t.Fatalf("unparseable template should pass through verbatim: %q", got)
	}
	if !strings.Contains(readFile(t, filepath.Join(dir, "out", "templates", "many", "t5.yaml")), "make lint") {
		t.Fatalf("parallel template not compiled")
	}
}

func TestCompileFailures(t *testing.T) {
	cfg, dir := newProject(t)
	writeFile(t, filepath.Join(dir, "uncompiled", ".gitlab-ci.yml"), "build:\n  script: ./scripts/missing.sh\n")
	if err := os.RemoveAll(filepath.Join(dir, "uncompiled", "templates")); err != nil {
		t.Fatal(err)
	}
	res, err := New(cfg).Compile(context.Background())
	if !failure.Is(err, failure.KindNoOutputWritten) {
		t.Fatalf("expected NoOutputWritten, got %v", err)
	}
	if errs := res.Errors(); len(errs) != 1 || !failure.Is(errs[0], failure.KindScriptNotFound) {
		t.Fatalf("expected the per-file cause to be kept: %v", errs)
	}

	empty := &config.Config{ProjectDir: t.TempDir(), Project: config.ProjectConfig{Version: 1}}
	if _, err := New(empty).Compile(context.Background()); !failure.Is(err, failure.KindInputNotFound) {
		t.Fatalf("expected InputNotFound, got %v", err)
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	cfg, dir := newProject(t)
	cfg.Project.DryRun = true
	res, err := New(cfg).Compile(context.Background())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	for _, f := range res.Files {
		if f.Outcome != artifact.OutcomeDryRun {
			t.Fatalf("%s: expected dry-run outcome, got %s", f.Output, f.Outcome)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "out")); !os.IsNotExist(err) {
		t.Fatalf("dry run created output: %v", err)
	}
}

func TestDecompileAndClean(t *testing.T) {
	cfg, dir := newProject(t)
	if _, err := New(cfg).Compile(context.Background()); err != nil {
		t.Fatalf("compile: %v", err)
	}
	cfg.Project.Decompile = config.DecompileConfig{
		InputFile: filepath.Join("out", ".gitlab-ci.yml"),
		OutputDir: "restored",
	}
	res, err := New(cfg).Decompile(context.Background())
	if err != nil {
		t.Fatalf("Decompile: %v", err)
	}
	if len(res.Scripts) != 2 {
		t.Fatalf("expected build and lint scripts, got %d", len(res.Scripts))
	}
	if !strings.Contains(readFile(t, filepath.Join(dir, "restored", "scripts", "build.sh")), "echo 5") {
		t.Fatalf("build script not restored")
	}

	o := New(cfg)
	plan, err := o.PlanClean()
	if err != nil {
		t.Fatalf("PlanClean: %v", err)
	}
	removed, err := o.Clean(plan, false)
	if err != nil || removed != 3 {
		t.Fatalf("Clean: %d %v", removed, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", ".gitlab-ci.yml")); !os.IsNotExist(err) {
		t.Fatalf("compiled root should be removed")
	}
}

func TestCancelledCompileLeavesWrittenFilesValid(t *testing.T) {
	for _, parallelism := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", parallelism), func(t *testing.T) {
			cfg, dir := newProject(t)
			for i := 0; i < 4; i++ {
				writeFile(t, filepath.Join(dir, "uncompiled", "templates", fmt.Sprintf("extra%d.yml", i)), fmt.Sprintf("extra%d:\n  script: ./scripts/lint.sh\n", i))
			}
			cfg.Project.Parallelism = parallelism
			first, err := New(cfg).Compile(context.Background())
			if err != nil {
				t.Fatalf("first compile: %v", err)
			}
			before := map[string]string{}
			for _, f := range first.Files {
				before[f.Output] = readFile(t, f.Output)
			}

			writeFile(t, filepath.Join(dir, "uncompiled", "scripts", "lint.sh"), "make lint --strict\n")
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			res, err := New(cfg).Compile(ctx)
			if !failure.Is(err, failure.KindNoOutputWritten) {
				t.Fatalf("expected NoOutputWritten after cancellation, got %v", err)
			}
			if len(res.Files) != len(first.Files) {
				t.Fatalf("expected %d results, got %d", len(first.Files), len(res.Files))
			}
			guard := artifact.NewGuard()
			for _, f := range res.Files {
				if !errors.Is(f.Err, context.Canceled) {
					t.Fatalf("%s: expected context.Canceled, got %v", f.Output, f.Err)
				}
				if readFile(t, f.Output) != before[f.Output] {
					t.Fatalf("%s changed after a cancelled run", f.Output)
				}
				check, err := guard.Check(f.Output)
				if err != nil {
					t.Fatalf("Check %s: %v", f.Output, err)
				}
				if check.State != artifact.StateClean {
					t.Fatalf("%s: record no longer matches (%s)", f.Output, check.State)
				}
			}
		})
	}
}
