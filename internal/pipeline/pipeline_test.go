package pipeline

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/ciweave/internal/catalog"
	"github.com/kingrea/ciweave/internal/failure"
	"github.com/kingrea/ciweave/internal/inline"
	"github.com/kingrea/ciweave/internal/shell"
)

func newTransformer(t *testing.T, scripts map[string]string, threshold int) (*Transformer, string) {
	t.Helper()
	root := t.TempDir()
	for rel, body := range scripts {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	cat, err := catalog.Build(root, shell.DefaultExtensions, nil)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	in, err := inline.New(inline.Options{Catalog: cat, InputRoot: root})
	if err != nil {
		t.Fatalf("inline: %v", err)
	}
	return NewTransformer(in, threshold, nil), root
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode output: %v\n%s", err, data)
	}
	return out
}

func job(t *testing.T, doc map[string]any, name string) map[string]any {
	t.Helper()
	j, ok := doc[name].(map[string]any)
	if !ok {
		t.Fatalf("job %s missing: %#v", name, doc)
	}
	return j
}

var fiveLines = "#!/bin/bash\necho one\necho two\necho three\necho four\necho five\n"

func TestBuildAndLintScenarios(t *testing.T) {
	tr, _ := newTransformer(t, map[string]string{
		"scripts/build.sh": fiveLines,
		"scripts/lint.sh":  "make lint\n",
	}, 3)
	src := "build:\n  stage: build\n  script: ./scripts/build.sh\nlint:\n  script: ./scripts/lint.sh\n"
	res, err := tr.Transform("pipeline.yml", []byte(src), nil)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if res.Changed != 2 {
		t.Fatalf("expected 2 changed fields, got %d", res.Changed)
	}
	if !HasBanner(res.Text) {
		t.Fatalf("banner missing:\n%s", res.Text)
	}
	doc := decode(t, res.Text)
	build := job(t, doc, "build")["script"]
	if build != "echo one\necho two\necho three\necho four\necho five" {
		t.Fatalf("build script should be one literal block, got %#v", build)
	}
	if !strings.Contains(string(res.Text), "script: |-") {
		t.Fatalf("expected literal block style:\n%s", res.Text)
	}
	lint := job(t, doc, "lint")["script"]
	if !reflect.DeepEqual(lint, []any{"make lint"}) {
		t.Fatalf("lint script should be a one-item list, got %#v", lint)
	}
}

func TestLiteralBlockSurvivesTrailingBlanks(t *testing.T) {
	tr, _ := newTransformer(t, map[string]string{
		"scripts/build.sh": "echo one \necho two\t\necho three\necho four\necho five\n",
	}, 3)
	res, err := tr.Transform("pipeline.yml", []byte("build:\n  script: ./scripts/build.sh\n"), nil)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if !strings.Contains(string(res.Text), "script: |-") {
		t.Fatalf("expected literal block style:\n%s", res.Text)
	}
	if got := job(t, decode(t, res.Text), "build")["script"]; got != "echo one\necho two\necho three\necho four\necho five" {
		t.Fatalf("unexpected literal content: %#v", got)
	}
}

func TestThresholdLaw(t *testing.T) {
	for _, tc := range []struct {
		lines int
		block bool
	}{{1, false}, {3, false}, {4, true}, {9, true}} {
		body := strings.Repeat("echo x\n", tc.lines)
		tr, _ := newTransformer(t, map[string]string{"scripts/s.sh": body}, 3)
		res, err := tr.Transform("p.yml", []byte("job:\n  script:\n    - echo before\n    - ./scripts/s.sh\n"), nil)
		if err != nil {
			t.Fatalf("Transform: %v", err)
		}
		got := job(t, decode(t, res.Text), "job")["script"]
		_, isBlock := got.(string)
		if isBlock != tc.block {
			t.Fatalf("%d lines: block=%v, want %v (%#v)", tc.lines, isBlock, tc.block, got)
		}
		if tc.block && !strings.HasPrefix(got.(string), "echo before\necho x") {
			t.Fatalf("block must keep surrounding lines: %q", got)
		}
		if !tc.block && len(got.([]any)) != tc.lines+1 {
			t.Fatalf("list should splice %d lines: %#v", tc.lines, got)
		}
	}
}

func TestStructuredFieldsStayLists(t *testing.T) {
	tr, _ := newTransformer(t, map[string]string{"scripts/long.sh": fiveLines}, 3)
	src := ".setup:\n  script:\n    - echo setup\njob:\n  script:\n    - !reference [.setup, script]\n    - ./scripts/long.sh\n"
	res, err := tr.Transform("p.yml", []byte(src), nil)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if !strings.Contains(string(res.Text), "!reference [.setup, script]") {
		t.Fatalf("reference tag lost:\n%s", res.Text)
	}
	if strings.Contains(string(res.Text), "|-") {
		t.Fatalf("field with a sub-structure must not collapse:\n%s", res.Text)
	}
}

func TestNoChangePassesThrough(t *testing.T) {
	tr, _ := newTransformer(t, map[string]string{"scripts/a.sh": "echo a\n"}, 3)
	src := "# keep me\nstages: [test]\njob:\n    script:\n      - echo 'hi'   # odd indent\n"
	res, err := tr.Transform("p.yml", []byte(src), nil)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if res.Changed != 0 || string(res.Text) != src {
		t.Fatalf("expected verbatim passthrough, got %d changes:\n%s", res.Changed, res.Text)
	}
}

func TestVariablesMergeAndReorder(t *testing.T) {
	tr, _ := newTransformer(t, map[string]string{"scripts/a.sh": "echo a\n"}, 3)
	src := "job:\n  script: ./scripts/a.sh\nstages:\n  - test\nvariables:\n  IMAGE_TAG: pinned\ninclude:\n  - local: other.yml\n"
	vars := ParseEnvFile("# globals\nexport IMAGE_TAG=latest\nREGION='eu-west-1'\n\n")
	res, err := tr.Transform("p.yml", []byte(src), vars)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	doc := decode(t, res.Text)
	variables := doc["variables"].(map[string]any)
	if variables["IMAGE_TAG"] != "pinned" || variables["REGION"] != "eu-west-1" {
		t.Fatalf("unexpected variables: %#v", variables)
	}
	parsed, err := Parse("out", StripBanner(res.Text))
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	keys := parsed.Roots()[0].Keys()
	if !reflect.DeepEqual(keys, []string{"include", "variables", "stages", "job"}) {
		t.Fatalf("unexpected order: %v", keys)
	}
}

func TestGlobalVariablesAloneCountAsChange(t *testing.T) {
	tr, _ := newTransformer(t, map[string]string{"scripts/a.sh": "echo a\n"}, 3)
	res, err := tr.Transform("p.yml", []byte("job:\n  script: [echo hi]\n"), []Variable{{Key: "IMAGE_TAG", Value: "latest"}})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if res.Changed != 1 {
		t.Fatalf("expected merge to count as a change, got %d", res.Changed)
	}
	if !strings.Contains(string(res.Text), `IMAGE_TAG: "latest"`) {
		t.Fatalf("variable not merged:\n%s", res.Text)
	}
}

func TestGlobalVariablesFillEmptySection(t *testing.T) {
	tr, _ := newTransformer(t, map[string]string{"scripts/a.sh": "echo a\n"}, 3)
	vars := []Variable{{Key: "IMAGE_TAG", Value: "latest"}}
	for _, src := range []string{
		"variables:\nbuild:\n  script: echo hi\n",
		"variables: ~\nbuild:\n  script: echo hi\n",
	} {
		res, err := tr.Transform("p.yml", []byte(src), vars)
		if err != nil {
			t.Fatalf("Transform: %v", err)
		}
		if res.Changed != 1 {
			t.Fatalf("%q: expected the merge to count as a change, got %d", src, res.Changed)
		}
		variables, ok := decode(t, res.Text)["variables"].(map[string]any)
		if !ok || variables["IMAGE_TAG"] != "latest" {
			t.Fatalf("%q: variable not merged:\n%s", src, res.Text)
		}
	}
}

func TestMergeVariablesRejectsNonMapping(t *testing.T) {
	parsed, err := Parse("p.yml", []byte("variables: [A, B]\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	added, err := MergeVariables(parsed.Roots()[0], []Variable{{Key: "A", Value: "1"}})
	if added != 0 || err == nil || !strings.Contains(err.Error(), "sequence") {
		t.Fatalf("expected a reported refusal, got %d %v", added, err)
	}
}

func TestHooksRunAndDefaults(t *testing.T) {
	tr, _ := newTransformer(t, map[string]string{
		"scripts/a.sh": "echo a\n",
		"scripts/b.sh": "echo b\n",
	}, 3)
	src := strings.Join([]string{
		"before_script: ./scripts/a.sh",
		"default:",
		"  after_script: [./scripts/b.sh]",
		"job:",
		"  hooks:",
		"    pre_get_sources_script: ./scripts/a.sh",
		"  run:",
		"    - name: step-one",
		"      script: ./scripts/b.sh",
		"",
	}, "\n")
	res, err := tr.Transform("p.yml", []byte(src), nil)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if res.Changed != 4 {
		t.Fatalf("expected 4 fields changed, got %d\n%s", res.Changed, res.Text)
	}
	doc := decode(t, res.Text)
	if !reflect.DeepEqual(doc["before_script"], []any{"echo a"}) {
		t.Fatalf("top-level before_script: %#v", doc["before_script"])
	}
	hooks := job(t, doc, "job")["hooks"].(map[string]any)
	if !reflect.DeepEqual(hooks["pre_get_sources_script"], []any{"echo a"}) {
		t.Fatalf("hook not inlined: %#v", hooks)
	}
	step := job(t, doc, "job")["run"].([]any)[0].(map[string]any)
	if !reflect.DeepEqual(step["script"], []any{"echo b"}) {
		t.Fatalf("run step not inlined: %#v", step)
	}
}

func TestMultiDocumentSkipsSpecHeader(t *testing.T) {
	tr, _ := newTransformer(t, map[string]string{"scripts/a.sh": "echo a\n"}, 3)
	src := "spec:\n  inputs:\n    stage: {}\n---\njob:\n  script: ./scripts/a.sh\n"
	res, err := tr.Transform("component.yml", []byte(src), []Variable{{Key: "K", Value: "v"}})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	parsed, err := Parse("out", StripBanner(res.Text))
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(parsed.Docs) != 2 {
		t.Fatalf("expected two documents, got %d", len(parsed.Docs))
	}
	if parsed.Roots()[0].Has("variables") {
		t.Fatalf("spec header must not receive variables")
	}
	if !parsed.Roots()[1].Has("variables") {
		t.Fatalf("pipeline document should receive variables")
	}
}

func TestErrorsCarryContext(t *testing.T) {
	tr, _ := newTransformer(t, map[string]string{"scripts/a.sh": "echo a\n"}, 3)
	_, err := tr.Transform("p.yml", []byte("deploy:\n  script:\n    - ./scripts/missing.sh\n"), nil)
	if !failure.Is(err, failure.KindScriptNotFound) {
		t.Fatalf("expected ScriptNotFound, got %v", err)
	}
	fe := err.(*failure.Error)
	if fe.File != "p.yml" || fe.Job != "deploy" || fe.Field != "script" || fe.Line != 3 {
		t.Fatalf("missing context: %+v", fe)
	}
	if _, err := tr.Transform("bad.yml", []byte("job: [unclosed\n"), nil); !failure.Is(err, failure.KindParseFailed) {
		t.Fatalf("expected ParseFailed, got %v", err)
	}
}

func TestParseEnvFile(t *testing.T) {
	got := ParseEnvFile("A=1\nexport B=\"two words\"\n# C=3\nnot a pair\nA=override\n")
	want := []Variable{{Key: "A", Value: "override"}, {Key: "B", Value: "two words"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseEnvFile = %#v, want %#v", got, want)
	}
}
