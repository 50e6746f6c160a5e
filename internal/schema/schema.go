// Package schema validates JSON payloads and pipeline documents against
// JSON schemas.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/ciweave/internal/failure"
)

//go:embed fingerprint.schema.json
var fingerprintSchema []byte

var (
	fingerprintOnce      sync.Once
	fingerprintValidator *Validator
	fingerprintErr       error
)

// Validator checks documents against one compiled schema.
type Validator struct {
	schema *jsonschema.Schema
}

// Compile builds a validator from schema bytes.
func Compile(data []byte) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	compiled, err := compiler.Compile(data)
	if err != nil {
		return nil, &failure.Error{Kind: failure.KindConfigInvalid, Err: fmt.Errorf("compile schema: %w", err)}
	}
	return &Validator{schema: compiled}, nil
}

// Load compiles the schema stored at path. Only local files are accepted.
func Load(path string) (*Validator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &failure.Error{Kind: failure.KindInputNotFound, Path: path, Err: fmt.Errorf("read schema: %w", err)}
	}
	v, err := Compile(data)
	if err != nil {
		return nil, failure.InFile(err, path)
	}
	return v, nil
}

// Fingerprint returns the validator for fingerprint records.
func Fingerprint() (*Validator, error) {
	fingerprintOnce.Do(func() {
		fingerprintValidator, fingerprintErr = Compile(fingerprintSchema)
	})
	return fingerprintValidator, fingerprintErr
}

// ValidateJSON checks one JSON payload.
func (v *Validator) ValidateJSON(data []byte) error {
	result := v.schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	var problems []string
	for key, detail := range result.Errors {
		problems = append(problems, fmt.Sprintf("%s: %v", key, detail))
	}
	sort.Strings(problems)
	return &failure.Error{Kind: failure.KindValidationFailed, Err: fmt.Errorf("schema validation failed: %s", strings.Join(problems, "; "))}
}

// ValidateYAML converts every YAML document in data to JSON and validates it.
func (v *Validator) ValidateYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for index := 0; ; index++ {
		var doc any
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &failure.Error{Kind: failure.KindParseFailed, Err: err}
		}
		if doc == nil {
			continue
		}
		payload, err := json.Marshal(jsonCompatible(doc))
		if err != nil {
			return &failure.Error{Kind: failure.KindParseFailed, Err: fmt.Errorf("document %d: %w", index, err)}
		}
		if err := v.ValidateJSON(payload); err != nil {
			if index > 0 {
				return fmt.Errorf("document %d: %w", index, err)
			}
			return err
		}
	}
}

// LintFile validates the pipeline document at path.
func (v *Validator) LintFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &failure.Error{Kind: failure.KindInputNotFound, File: path, Err: err}
	}
	return failure.InFile(v.ValidateYAML(data), path)
}

// jsonCompatible rewrites maps with non-string keys so encoding/json can
// marshal them.
func jsonCompatible(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = jsonCompatible(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[fmt.Sprint(k)] = jsonCompatible(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = jsonCompatible(item)
		}
		return out
	default:
		return v
	}
}
