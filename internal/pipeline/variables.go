package pipeline

import (
	"bufio"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Variable is one KEY=VALUE pair from a global variables file.
type Variable struct {
	Key   string
	Value string
}

// ParseEnvFile reads KEY=VALUE and export KEY=VALUE lines. Comments, blank
// lines and lines without '=' are ignored. Matching surrounding quotes are
// stripped. A repeated key keeps its first position and its last value.
func ParseEnvFile(content string) []Variable {
	var out []Variable
	index := map[string]int{}
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" || strings.ContainsAny(key, " \t") {
			continue
		}
		value = unquote(strings.TrimSpace(value))
		if i, seen := index[key]; seen {
			out[i].Value = value
			continue
		}
		index[key] = len(out)
		out = append(out, Variable{Key: key, Value: value})
	}
	return out
}

func unquote(v string) string {
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if (first == '"' || first == '\'') && first == last {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// MergeVariables adds vars missing from root's variables section and returns
// how many were added. Values already in the document win. An absent or
// empty (null) section is replaced by a fresh mapping; any other
// non-mapping section is left alone and reported as an error.
func MergeVariables(root Mapping, vars []Variable) (int, error) {
	if len(vars) == 0 {
		return 0, nil
	}
	section := root.Get("variables")
	if section == nil || isNull(section) {
		fresh := NewMapping()
		if section != nil {
			fresh.Node().HeadComment = section.HeadComment
			fresh.Node().LineComment = section.LineComment
		}
		root.Set("variables", fresh.Node())
		section = fresh.Node()
	}
	target, ok := AsMapping(section)
	if !ok {
		return 0, fmt.Errorf("variables section is a %s, not a mapping; %d global variable(s) not merged", kindName(section), len(vars))
	}
	added := 0
	for _, v := range vars {
		if target.Has(v.Key) {
			continue
		}
		target.Set(v.Key, NewString(v.Value, yaml.DoubleQuotedStyle))
		added++
	}
	return added, nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null"
}

func kindName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.AliasNode:
		return "alias"
	case yaml.ScalarNode:
		return "scalar"
	default:
		return "node"
	}
}
