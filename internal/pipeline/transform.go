package pipeline

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/ciweave/internal/failure"
	"github.com/kingrea/ciweave/internal/inline"
	"github.com/kingrea/ciweave/internal/logging"
)

// Banner is prepended to every rewritten document.
const Banner = "# DO NOT EDIT: this file is generated by ciweave compile.\n" +
	"# Change the source pipeline or scripts and compile again.\n"

// SectionOrder is the canonical order of leading top-level sections.
var SectionOrder = []string{"include", "variables", "stages"}

// Result is the outcome of transforming one document.
type Result struct {
	// Changed counts rewritten fields, plus one when variables were merged.
	Changed int
	// Text is the serialised document. It equals the input when Changed is 0.
	Text []byte
}

// Transformer inlines script references in pipeline documents.
type Transformer struct {
	inliner   *inline.Inliner
	threshold int
	log       *logging.Logger
}

// NewTransformer builds a Transformer. threshold is the inlined line count
// above which a field collapses to one literal block.
func NewTransformer(in *inline.Inliner, threshold int, log *logging.Logger) *Transformer {
	return &Transformer{inliner: in, threshold: threshold, log: log}
}

// Transform rewrites data, a pipeline file at path. vars are merged into the
// first pipeline document and should only be supplied for the root file.
func (t *Transformer) Transform(path string, data []byte, vars []Variable) (Result, error) {
	doc, err := Parse(path, data)
	if err != nil {
		return Result{}, err
	}
	changed := 0
	pipelines := doc.Pipelines()
	for _, root := range pipelines {
		for _, f := range Fields(root) {
			ok, err := t.inlineField(path, f)
			if err != nil {
				return Result{}, failure.InFile(failure.Attribute(err, f.Job, f.Key), path)
			}
			if ok {
				changed++
			}
		}
	}
	if len(pipelines) > 0 {
		added, err := MergeVariables(pipelines[0], vars)
		if err != nil {
			t.log.Warnf("%s: %v", path, err)
		}
		if added > 0 {
			t.log.Debugf("%s: merged %d global variables", path, added)
			changed++
		}
	}
	if changed == 0 {
		return Result{Text: data}, nil
	}
	for _, root := range pipelines {
		root.Reorder(SectionOrder)
	}
	body, err := doc.Encode()
	if err != nil {
		return Result{}, err
	}
	return Result{Changed: changed, Text: append([]byte(Banner), body...)}, nil
}

type entry struct {
	node  *yaml.Node
	lines []string
}

// inlineField expands one field and reports whether it changed.
func (t *Transformer) inlineField(path string, f *Field) (bool, error) {
	scan := t.inliner.Field(path)
	var (
		entries    []entry
		inlined    bool
		structured bool
		longest    int
	)
	feed := func(text string, line int) ([]string, error) {
		exp, err := scan.Line(text, line)
		if err != nil {
			return nil, err
		}
		if exp.Inlined() {
			inlined = true
			if exp.ScriptLines > longest {
				longest = exp.ScriptLines
			}
			t.log.Debugf("%s: %s %s inlined %s (%d lines)", path, jobLabel(f.Job), f.Key, exp.Script, exp.ScriptLines)
		}
		return exp.Lines, nil
	}

	if f.Value.Kind == yaml.ScalarNode {
		text, _ := Str(f.Value)
		start := f.Value.Line
		if f.Value.Style&(yaml.LiteralStyle|yaml.FoldedStyle) != 0 {
			start++
		}
		for i, line := range splitLines(text) {
			out, err := feed(line, start+i)
			if err != nil {
				return false, err
			}
			entries = append(entries, entry{lines: out})
		}
	} else {
		for _, item := range f.Value.Content {
			text, ok := Str(item)
			if !ok {
				structured = true
				entries = append(entries, entry{node: item})
				continue
			}
			out, err := feed(text, item.Line)
			if err != nil {
				return false, err
			}
			if len(out) == 1 && out[0] == text {
				entries = append(entries, entry{node: item})
				continue
			}
			entries = append(entries, entry{lines: out})
		}
	}
	if !inlined {
		return false, nil
	}

	if longest > t.threshold && !structured {
		var all []string
		for _, e := range entries {
			if e.node != nil {
				all = append(all, e.node.Value)
				continue
			}
			all = append(all, e.lines...)
		}
		f.Replace(Literal(literalText(all)))
		return true, nil
	}
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", HeadComment: f.Value.HeadComment, LineComment: f.Value.LineComment}
	for _, e := range entries {
		if e.node != nil {
			seq.Content = append(seq.Content, e.node)
			continue
		}
		for _, line := range e.lines {
			seq.Content = append(seq.Content, NewString(line, 0))
		}
	}
	f.Replace(seq)
	return true, nil
}

// StripBanner removes a leading compile banner.
func StripBanner(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte(Banner))
}

// HasBanner reports whether data starts with the compile banner.
func HasBanner(data []byte) bool {
	return bytes.HasPrefix(data, []byte(Banner))
}

// literalText joins lines for a literal block. Trailing blanks are dropped
// because yaml.v3 falls back to a quoted scalar when a line ends in one.
func literalText(lines []string) string {
	trimmed := make([]string, len(lines))
	for i, line := range lines {
		trimmed[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(trimmed, "\n")
}

func splitLines(text string) []string {
	text = strings.TrimSuffix(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func jobLabel(job string) string {
	if job == "" {
		return "top-level"
	}
	return "job " + job
}
