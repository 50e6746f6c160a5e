package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"gopkg.in/yaml.v3"
)

const goDefinitionFuncName = "MatcherDefinitions"

// LoadGoDefinitionDir interprets every .go file in dir with yaegi and
// collects the definitions returned by its MatcherDefinitions function.
func LoadGoDefinitionDir(dir string) ([]DefinitionFile, error) {
	paths, err := pluginFiles(dir, func(name string) bool { return filepath.Ext(name) == ".go" })
	if err != nil {
		return nil, err
	}
	var defs []DefinitionFile
	for _, path := range paths {
		fileDefs, err := loadGoDefinitionFile(path)
		if err != nil {
			return nil, err
		}
		defs = append(defs, fileDefs...)
	}
	return defs, nil
}

func loadGoDefinitionFile(path string) ([]DefinitionFile, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(code))) == 0 {
		return nil, fmt.Errorf("plugin: %s is empty", path)
	}
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("plugin: load stdlib symbols: %w", err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("plugin: interpret %s: %w", path, err)
	}
	fn, err := i.Eval(goDefinitionFuncName)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s must define %s() ([]map[string]any, error): %w", path, goDefinitionFuncName, err)
	}
	raw, err := callDefinitions(fn)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s: %w", path, err)
	}
	files := make([]DefinitionFile, 0, len(raw))
	for idx, entry := range raw {
		payload, err := yaml.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("plugin: %s definition[%d]: %w", path, idx, err)
		}
		def, err := ParseDefinitionYAML(payload)
		if err != nil {
			return nil, fmt.Errorf("plugin: %s definition[%d]: %w", path, idx, err)
		}
		files = append(files, DefinitionFile{Definition: def, Path: fmt.Sprintf("%s#%d", path, idx+1)})
	}
	return files, nil
}

// callDefinitions invokes the interpreted function and converts its result.
// Interpreted code may hand back a slice whose element type is only
// assignable to map[string]any, so entries are converted one by one.
func callDefinitions(fn reflect.Value) ([]map[string]any, error) {
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("%s is not a function", goDefinitionFuncName)
	}
	out := fn.Call(nil)
	if len(out) != 2 {
		return nil, fmt.Errorf("%s must return ([]map[string]any, error)", goDefinitionFuncName)
	}
	if errVal := out[1]; !errVal.IsNil() {
		if e, ok := errVal.Interface().(error); ok {
			return nil, e
		}
		return nil, fmt.Errorf("%s returned a non-error second value", goDefinitionFuncName)
	}
	list := out[0]
	if list.Kind() != reflect.Slice {
		return nil, fmt.Errorf("%s must return a slice", goDefinitionFuncName)
	}
	defs := make([]map[string]any, list.Len())
	for i := range defs {
		m, ok := list.Index(i).Interface().(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is not map[string]any", goDefinitionFuncName, i)
		}
		defs[i] = m
	}
	return defs, nil
}
