package shell

import (
	"path"
	"regexp"
	"strings"
)

// DefaultExtensions are the script suffixes recognised without plugins.
var DefaultExtensions = []string{".sh", ".bash", ".ps1"}

// DefaultExecutors are interpreter names that may precede a script path.
var DefaultExecutors = []string{"bash", "sh", "pwsh"}

// DotSourceKeywords source a script into the current shell.
var DotSourceKeywords = []string{"source", "."}

var envAssignRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

// Matcher recognises one shape of script invocation. Match receives the
// tokens of a line and returns the raw script path when the whole line is
// that shape and nothing more.
type Matcher interface {
	Name() string
	Extensions() []string
	Match(tokens []string) (string, bool)
}

type plainMatcher struct {
	exts []string
}

// NewPlainMatcher accepts a line consisting of a bare script path.
func NewPlainMatcher(extensions ...string) Matcher {
	return plainMatcher{exts: normalizeExtensions(extensions)}
}

func (m plainMatcher) Name() string         { return "plain" }
func (m plainMatcher) Extensions() []string { return m.exts }

func (m plainMatcher) Match(tokens []string) (string, bool) {
	if len(tokens) == 1 && isScript(tokens[0], m.exts) {
		return tokens[0], true
	}
	return "", false
}

type keywordMatcher struct {
	name     string
	keywords map[string]struct{}
	exts     []string
}

// NewInterpreterMatcher accepts "<executor> <script>" where executor is one
// of the given names. Plugins use it to register additional interpreters.
func NewInterpreterMatcher(name string, executors, extensions []string) Matcher {
	return newKeywordMatcher(name, executors, extensions)
}

// NewSourceMatcher accepts "source <script>" and ". <script>".
func NewSourceMatcher(extensions ...string) Matcher {
	return newKeywordMatcher("source", DotSourceKeywords, extensions)
}

func newKeywordMatcher(name string, keywords, extensions []string) keywordMatcher {
	set := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw != "" {
			set[kw] = struct{}{}
		}
	}
	return keywordMatcher{name: name, keywords: set, exts: normalizeExtensions(extensions)}
}

func (m keywordMatcher) Name() string         { return m.name }
func (m keywordMatcher) Extensions() []string { return m.exts }

func (m keywordMatcher) Match(tokens []string) (string, bool) {
	if len(tokens) != 2 {
		return "", false
	}
	if _, ok := m.keywords[tokens[0]]; !ok {
		return "", false
	}
	if !isScript(tokens[1], m.exts) {
		return "", false
	}
	return tokens[1], true
}

// DefaultMatchers returns the built-in matcher order: bare path, executor,
// dot-source.
func DefaultMatchers() []Matcher {
	return []Matcher{
		NewPlainMatcher(DefaultExtensions...),
		NewInterpreterMatcher("executor", DefaultExecutors, DefaultExtensions),
		NewSourceMatcher(DefaultExtensions...),
	}
}

// isScript reports whether tok names a script file. Option flags and tokens
// relying on shell expansion are never script paths.
func isScript(tok string, exts []string) bool {
	if tok == "" || strings.HasPrefix(tok, "-") {
		return false
	}
	if strings.ContainsAny(tok, "$`*?|&;<>(){}") {
		return false
	}
	ext := strings.ToLower(path.Ext(ToSlash(tok)))
	for _, candidate := range exts {
		if ext == candidate {
			return true
		}
	}
	return false
}

// ToSlash normalises backslashes to forward slashes.
func ToSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	seen := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, dup := seen[ext]; dup {
			continue
		}
		seen[ext] = struct{}{}
		out = append(out, ext)
	}
	return out
}
