package shell

// Resolver is the immutable, ordered matcher list consulted for every line.
// It is safe for concurrent use.
type Resolver struct {
	matchers []Matcher
	exts     []string
}

// NewResolver builds a resolver. With no matchers it falls back to
// DefaultMatchers.
func NewResolver(matchers ...Matcher) *Resolver {
	if len(matchers) == 0 {
		matchers = DefaultMatchers()
	}
	var exts []string
	for _, m := range matchers {
		exts = append(exts, m.Extensions()...)
	}
	return &Resolver{
		matchers: append([]Matcher(nil), matchers...),
		exts:     normalizeExtensions(exts),
	}
}

// Resolve returns the slash-normalised script path when line invokes exactly
// one script and nothing else. Malformed quoting, environment assignments,
// extra arguments and command chaining all yield ok=false.
func (r *Resolver) Resolve(line string) (string, bool) {
	tokens, ok := Tokenize(line)
	if !ok || len(tokens) == 0 {
		return "", false
	}
	if envAssignRE.MatchString(tokens[0]) {
		return "", false
	}
	for _, m := range r.matchers {
		if raw, matched := m.Match(tokens); matched {
			return ToSlash(raw), true
		}
	}
	return "", false
}

// Extensions returns the union of script suffixes known to the matchers.
func (r *Resolver) Extensions() []string {
	return append([]string(nil), r.exts...)
}

// Matchers returns the matcher names in evaluation order.
func (r *Resolver) Matchers() []string {
	names := make([]string, 0, len(r.matchers))
	for _, m := range r.matchers {
		names = append(names, m.Name())
	}
	return names
}
