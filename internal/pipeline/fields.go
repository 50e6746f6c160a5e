package pipeline

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ScriptKeys are the job keys that hold shell lines.
var ScriptKeys = []string{"before_script", "script", "after_script"}

var nonJobSections = map[string]struct{}{
	"variables": {},
	"include":   {},
	"stages":    {},
	"workflow":  {},
	"spec":      {},
}

// Field is one script-bearing value inside a document.
type Field struct {
	// Job is the owning top-level key, empty for top-level hooks.
	Job string
	// Key names the field within the job: a script key,
	// "hooks.pre_get_sources_script" or "run[N].script".
	Key string
	// Step is the run step name, or its index when unnamed.
	Step string
	// Line is where the value starts in the source document.
	Line  int
	Value *yaml.Node

	owner Mapping
	name  string
}

// Replace swaps the field's value in its owning mapping.
func (f *Field) Replace(n *yaml.Node) {
	f.owner.Set(f.name, n)
	f.Value = n
}

// IsJob reports whether a top-level value looks like a job: a mapping with
// at least one script-bearing key or a recognised nested hook/run shape.
func IsJob(name string, value *yaml.Node) bool {
	if _, skip := nonJobSections[name]; skip {
		return false
	}
	m, ok := AsMapping(value)
	if !ok {
		return false
	}
	if name == "default" {
		return true
	}
	for _, key := range ScriptKeys {
		if m.Has(key) {
			return true
		}
	}
	return len(nestedFields("", m)) > 0
}

// Fields walks root and returns every script-bearing field in document
// order. Alias values are skipped so anchors are never rewritten through a
// reference.
func Fields(root Mapping) []*Field {
	var out []*Field
	root.Each(func(name string, value *yaml.Node) {
		switch {
		case name == "before_script" || name == "after_script":
			if editable(value) {
				out = append(out, &Field{Key: name, Line: value.Line, Value: value, owner: root, name: name})
			}
		case IsJob(name, value):
			job, _ := AsMapping(value)
			out = append(out, jobFields(name, job)...)
		}
	})
	return out
}

func jobFields(name string, job Mapping) []*Field {
	var out []*Field
	job.Each(func(key string, value *yaml.Node) {
		for _, sk := range ScriptKeys {
			if key == sk && editable(value) {
				out = append(out, &Field{Job: name, Key: key, Line: value.Line, Value: value, owner: job, name: key})
			}
		}
	})
	return append(out, nestedFields(name, job)...)
}

func nestedFields(name string, job Mapping) []*Field {
	var out []*Field
	if hooks, ok := AsMapping(job.Get("hooks")); ok {
		if value := hooks.Get("pre_get_sources_script"); editable(value) {
			out = append(out, &Field{
				Job: name, Key: "hooks.pre_get_sources_script", Line: value.Line,
				Value: value, owner: hooks, name: "pre_get_sources_script",
			})
		}
	}
	run := job.Get("run")
	if run == nil || run.Kind != yaml.SequenceNode {
		return out
	}
	for i, item := range run.Content {
		step, ok := AsMapping(item)
		if !ok {
			continue
		}
		value := step.Get("script")
		if !editable(value) {
			continue
		}
		label := strconv.Itoa(i)
		if stepName, ok := Str(step.Get("name")); ok && stepName != "" {
			label = stepName
		}
		out = append(out, &Field{
			Job: name, Key: fmt.Sprintf("run[%d].script", i), Step: label, Line: value.Line,
			Value: value, owner: step, name: "script",
		})
	}
	return out
}

func editable(n *yaml.Node) bool {
	if n == nil {
		return false
	}
	switch n.Kind {
	case yaml.SequenceNode:
		return n.Tag == "" || n.ShortTag() == "!!seq"
	case yaml.ScalarNode:
		_, ok := Str(n)
		return ok
	}
	return false
}
