package inline

import (
	"regexp"
	"strings"
)

var pragmaRE = regexp.MustCompile(`(?i)#\s*pragma:\s*(do-not-inline-next-line|do-not-inline|start-do-not-inline|end-do-not-inline|allow-outside-root)\b`)

// Pragmas are the directives found on a single line.
type Pragmas struct {
	Here         bool
	Next         bool
	Start        bool
	End          bool
	AllowOutside bool
}

// ParsePragmas scans one line for pragma comments. Several pragmas may share
// a line.
func ParsePragmas(line string) Pragmas {
	var p Pragmas
	if !strings.Contains(line, "#") {
		return p
	}
	for _, m := range pragmaRE.FindAllStringSubmatch(line, -1) {
		switch strings.ToLower(m[1]) {
		case "do-not-inline":
			p.Here = true
		case "do-not-inline-next-line":
			p.Next = true
		case "start-do-not-inline":
			p.Start = true
		case "end-do-not-inline":
			p.End = true
		case "allow-outside-root":
			p.AllowOutside = true
		}
	}
	return p
}

// State is the suppression state carried from line to line.
type State int

const (
	Normal State = iota
	SkipLine
	SkipBlock
)

func (s State) String() string {
	switch s {
	case SkipLine:
		return "SKIP_LINE"
	case SkipBlock:
		return "SKIP_BLOCK"
	default:
		return "NORMAL"
	}
}

// advance consumes one line. It reports whether the line must pass through
// untouched and the pragmas found on it.
func (s *State) advance(line string) (verbatim bool, p Pragmas) {
	p = ParsePragmas(line)
	switch *s {
	case SkipBlock:
		if p.End {
			*s = Normal
		}
		return true, p
	case SkipLine:
		*s = Normal
		return true, p
	}
	switch {
	case p.Start:
		*s = SkipBlock
		return true, p
	case p.Next:
		*s = SkipLine
		return true, p
	case p.Here, p.End:
		return true, p
	}
	return false, p
}
