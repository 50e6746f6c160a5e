package shell

import "strings"

// Tokenize splits line on unquoted whitespace using POSIX-like quoting rules.
// Backslashes are kept verbatim so Windows-style paths survive, and an
// unquoted '#' at the start of a token begins a comment. ok is false when a
// quote is left open.
func Tokenize(line string) (tokens []string, ok bool) {
	var (
		buf    strings.Builder
		quote  rune
		inWord bool
	)
	flush := func() {
		tokens = append(tokens, buf.String())
		buf.Reset()
		inWord = false
	}
	for _, r := range line {
		if quote != 0 {
			if r == quote {
				quote = 0
				continue
			}
			buf.WriteRune(r)
			continue
		}
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if inWord {
				flush()
			}
		case r == '#' && !inWord:
			return tokens, true
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		default:
			buf.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, false
	}
	if inWord {
		flush()
	}
	return tokens, true
}
