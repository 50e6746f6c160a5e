package artifact

import (
	"github.com/pmezard/go-difflib/difflib"
)

// Diff renders a unified diff from the on-disk content to the proposed one.
func Diff(name string, current, proposed []byte) string {
	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(current)),
		B:        difflib.SplitLines(string(proposed)),
		FromFile: name + " (on disk)",
		ToFile:   name + " (compiled)",
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return out
}
