// Package pipeline loads CI pipeline documents as yaml.v3 node trees and
// rewrites their script-bearing fields in place.
package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/ciweave/internal/failure"
)

// Document is one pipeline file. A file may hold several YAML documents.
type Document struct {
	Path string
	Docs []*yaml.Node
}

// Parse decodes every YAML document in data, keeping node order, styles and
// comments.
func Parse(path string, data []byte) (*Document, error) {
	doc := &Document{Path: path}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &failure.Error{Kind: failure.KindParseFailed, File: path, Err: err}
		}
		doc.Docs = append(doc.Docs, &node)
	}
	return doc, nil
}

// Encode serialises every document with two-space indentation.
func (d *Document) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	for _, node := range d.Docs {
		if err := enc.Encode(node); err != nil {
			return nil, fmt.Errorf("pipeline: encode %s: %w", d.Path, err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("pipeline: encode %s: %w", d.Path, err)
	}
	return buf.Bytes(), nil
}

// Roots returns the top-level mapping of each document, skipping documents
// whose root is not a mapping.
func (d *Document) Roots() []Mapping {
	var out []Mapping
	for _, node := range d.Docs {
		if m, ok := AsMapping(node); ok {
			out = append(out, m)
		}
	}
	return out
}

// Pipelines returns the mappings that describe jobs, leaving out component
// header documents that only carry a spec section.
func (d *Document) Pipelines() []Mapping {
	var out []Mapping
	for _, m := range d.Roots() {
		keys := m.Keys()
		if len(keys) == 1 && keys[0] == "spec" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Mapping is a typed view over a YAML mapping node.
type Mapping struct {
	node *yaml.Node
}

// AsMapping unwraps document nodes and reports whether n is a mapping.
func AsMapping(n *yaml.Node) (Mapping, bool) {
	if n == nil {
		return Mapping{}, false
	}
	if n.Kind == yaml.DocumentNode {
		if len(n.Content) == 0 {
			return Mapping{}, false
		}
		n = n.Content[0]
	}
	if n.Kind != yaml.MappingNode {
		return Mapping{}, false
	}
	return Mapping{node: n}, true
}

// NewMapping returns an empty block mapping.
func NewMapping() Mapping {
	return Mapping{node: &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}}
}

// Node exposes the underlying node.
func (m Mapping) Node() *yaml.Node { return m.node }

// Keys lists keys in document order.
func (m Mapping) Keys() []string {
	keys := make([]string, 0, len(m.node.Content)/2)
	for i := 0; i+1 < len(m.node.Content); i += 2 {
		keys = append(keys, m.node.Content[i].Value)
	}
	return keys
}

// Get returns the value stored under key, or nil.
func (m Mapping) Get(key string) *yaml.Node {
	if i := m.index(key); i >= 0 {
		return m.node.Content[i+1]
	}
	return nil
}

// Has reports whether key is present.
func (m Mapping) Has(key string) bool { return m.index(key) >= 0 }

// Set replaces the value under key or appends a new entry.
func (m Mapping) Set(key string, value *yaml.Node) {
	if i := m.index(key); i >= 0 {
		m.node.Content[i+1] = value
		return
	}
	m.node.Content = append(m.node.Content, NewString(key, 0), value)
}

// Each visits entries in document order.
func (m Mapping) Each(fn func(key string, value *yaml.Node)) {
	for i := 0; i+1 < len(m.node.Content); i += 2 {
		fn(m.node.Content[i].Value, m.node.Content[i+1])
	}
}

// Reorder moves the named keys to the front in the given order. Keys not
// named keep their relative order after them.
func (m Mapping) Reorder(order []string) bool {
	var front, rest []*yaml.Node
	for _, key := range order {
		if i := m.index(key); i >= 0 {
			front = append(front, m.node.Content[i], m.node.Content[i+1])
		}
	}
	named := make(map[string]struct{}, len(order))
	for _, key := range order {
		named[key] = struct{}{}
	}
	for i := 0; i+1 < len(m.node.Content); i += 2 {
		if _, ok := named[m.node.Content[i].Value]; !ok {
			rest = append(rest, m.node.Content[i], m.node.Content[i+1])
		}
	}
	reordered := append(front, rest...)
	moved := false
	for i := range reordered {
		if reordered[i] != m.node.Content[i] {
			moved = true
			break
		}
	}
	m.node.Content = reordered
	return moved
}

func (m Mapping) index(key string) int {
	for i := 0; i+1 < len(m.node.Content); i += 2 {
		if m.node.Content[i].Value == key {
			return i
		}
	}
	return -1
}

// Str returns the text of a plain data scalar. Nulls and custom tags do
// not count as text.
func Str(n *yaml.Node) (string, bool) {
	if n == nil || n.Kind != yaml.ScalarNode {
		return "", false
	}
	switch n.ShortTag() {
	case "!!str", "!!int", "!!float", "!!bool":
		return n.Value, true
	}
	return "", false
}

// NewString builds a string scalar with the given style.
func NewString(value string, style yaml.Style) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value, Style: style}
}

// Literal builds a literal block scalar.
func Literal(value string) *yaml.Node {
	return NewString(value, yaml.LiteralStyle)
}

// Render prints a node as a single line of flow YAML. It is used to carry
// non-string entries such as !reference tags into textual form.
func Render(n *yaml.Node) string {
	clone := *n
	clone.Style = yaml.FlowStyle
	out, err := yaml.Marshal(&clone)
	if err != nil {
		return n.Value
	}
	return string(bytes.TrimSpace(out))
}
