package plugins

import (
	"fmt"
	"strings"

	"github.com/kingrea/ciweave/internal/shell"
)

// MatcherDefinition describes an extra interpreter invocation shape, such as
// "python3 tool.py", loaded from a plugin file.
type MatcherDefinition struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Executors   []string `json:"executors" yaml:"executors"`
	Extensions  []string `json:"extensions" yaml:"extensions"`
}

// Normalized trims every field and drops blank entries.
func (def MatcherDefinition) Normalized() MatcherDefinition {
	return MatcherDefinition{
		Name:        strings.TrimSpace(def.Name),
		Description: strings.TrimSpace(def.Description),
		Executors:   trimAll(def.Executors),
		Extensions:  trimAll(def.Extensions),
	}
}

// Validate checks that the definition can produce a matcher.
func (def MatcherDefinition) Validate() error {
	n := def.Normalized()
	if n.Name == "" {
		return fmt.Errorf("plugin: name is required")
	}
	if len(n.Executors) == 0 {
		return fmt.Errorf("plugin %s: at least one executor is required", n.Name)
	}
	for _, exe := range n.Executors {
		if strings.ContainsAny(exe, " \t\"'") {
			return fmt.Errorf("plugin %s: executor %q must be a single word", n.Name, exe)
		}
	}
	if len(n.Extensions) == 0 {
		return fmt.Errorf("plugin %s: at least one extension is required", n.Name)
	}
	for _, ext := range n.Extensions {
		if strings.ContainsAny(ext, "/\\ *?") {
			return fmt.Errorf("plugin %s: invalid extension %q", n.Name, ext)
		}
	}
	return nil
}

// Matcher builds the resolver strategy for this definition.
func (def MatcherDefinition) Matcher() shell.Matcher {
	n := def.Normalized()
	return shell.NewInterpreterMatcher(n.Name, n.Executors, n.Extensions)
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
