package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/ciweave/internal/failure"
)

const pipelineSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "stages": {"type": "array", "items": {"type": "string"}}
  },
  "additionalProperties": {
    "type": "object",
    "properties": {
      "script": {"type": ["string", "array"]}
    }
  }
}`

func TestFingerprintSchema(t *testing.T) {
	v, err := Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	valid := `{"algorithm":"sha256","artifact":".gitlab-ci.yml","digest":"` + strings.Repeat("a", 64) + `","schema":"ciweave.fingerprint.v1","size":12}`
	if err := v.ValidateJSON([]byte(valid)); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}
	invalid := `{"algorithm":"md5","artifact":"x","digest":"zz","schema":"ciweave.fingerprint.v1","size":-1}`
	if err := v.ValidateJSON([]byte(invalid)); !failure.Is(err, failure.KindValidationFailed) {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestLintFile(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "gitlab-ci.json")
	if err := os.WriteFile(schemaPath, []byte(pipelineSchema), 0o644); err != nil {
		t.Fatal(err)
	}
	v, err := Load(schemaPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	good := filepath.Join(dir, "good.yml")
	if err := os.WriteFile(good, []byte("# banner\nstages: [build]\nbuild:\n  script:\n    - make\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := v.LintFile(good); err != nil {
		t.Fatalf("good pipeline rejected: %v", err)
	}
	bad := filepath.Join(dir, "bad.yml")
	if err := os.WriteFile(bad, []byte("stages: build\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	err = v.LintFile(bad)
	if !failure.Is(err, failure.KindValidationFailed) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if !strings.Contains(err.Error(), bad) {
		t.Fatalf("error should name the file: %v", err)
	}
}

func TestLoadMissingSchema(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "none.json")); !failure.Is(err, failure.KindInputNotFound) {
		t.Fatalf("expected InputNotFound, got %v", err)
	}
}
