package plugins

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefinitionFile pairs a parsed matcher definition with the file it came from.
type DefinitionFile struct {
	Definition MatcherDefinition
	Path       string
}

// ParseDefinitionYAML decodes and validates a single matcher definition.
func ParseDefinitionYAML(data []byte) (MatcherDefinition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return MatcherDefinition{}, fmt.Errorf("plugin: definition payload is empty")
	}
	var def MatcherDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return MatcherDefinition{}, fmt.Errorf("plugin: decode definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return MatcherDefinition{}, err
	}
	return def.Normalized(), nil
}

// LoadDefinitionFile reads one YAML plugin file.
func LoadDefinitionFile(path string) (DefinitionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefinitionFile{}, fmt.Errorf("plugin: read %s: %w", path, err)
	}
	def, err := ParseDefinitionYAML(data)
	if err != nil {
		return DefinitionFile{}, fmt.Errorf("plugin: %s: %w", path, err)
	}
	return DefinitionFile{Definition: def, Path: filepath.Clean(path)}, nil
}

// LoadDefinitionDir parses every *.yaml / *.yml file directly inside dir.
// A missing directory means no plugins.
func LoadDefinitionDir(dir string) ([]DefinitionFile, error) {
	names, err := pluginFiles(dir, isYAMLFile)
	if err != nil {
		return nil, err
	}
	var defs []DefinitionFile
	for _, path := range names {
		def, err := LoadDefinitionFile(path)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// pluginFiles lists regular files in dir accepted by keep, sorted by path.
func pluginFiles(dir string, keep func(string) bool) ([]string, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugin: read %s: %w", trimmed, err)
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() || !keep(entry.Name()) {
			continue
		}
		out = append(out, filepath.Join(trimmed, entry.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func isYAMLFile(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}
