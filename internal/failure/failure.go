// Package failure defines the error taxonomy shared by the compile and
// decompile engines. Every error raised by the core carries a Kind plus the
// file/job/field/line context needed to act on it.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can decide between aborting the run,
// skipping a file, or merely reporting.
type Kind string

const (
	KindInputNotFound    Kind = "input_not_found"
	KindEmptyScript      Kind = "empty_script"
	KindScriptNotFound   Kind = "script_not_found"
	KindUnresolvablePath Kind = "unresolvable_path"
	KindCycleDetected    Kind = "cycle_detected"
	KindRecursionLimit   Kind = "recursion_limit_exceeded"
	KindNoOutputWritten  Kind = "no_output_written"
	KindDriftDetected    Kind = "drift_detected"
	KindParseFailed      Kind = "parse_failed"
	KindConfigInvalid    Kind = "config_invalid"
	KindValidationFailed Kind = "validation_failed"
	KindIOFailed         Kind = "io_failed"
)

// Recoverable reports whether a failure of this kind may be collected and
// reported without aborting sibling work.
func (k Kind) Recoverable() bool {
	switch k {
	case KindDriftDetected, KindParseFailed, KindValidationFailed:
		return true
	default:
		return false
	}
}

// Error is the contextual error value produced by the core packages.
type Error struct {
	Kind  Kind
	File  string
	Job   string
	Field string
	Line  int
	// Path is the offending script or artifact path, when there is one.
	Path string
	// Chain lists the inclusion chain for cycle and depth failures.
	Chain []string
	Err   error
}

// New builds an Error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error. A nil cause yields nil.
func Wrap(kind Kind, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Err: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if loc := e.location(); loc != "" {
		b.WriteString(" at ")
		b.WriteString(loc)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Chain) > 0 {
		b.WriteString(" (chain: ")
		b.WriteString(strings.Join(e.Chain, " -> "))
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) location() string {
	var parts []string
	if e.File != "" {
		if e.Line > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", e.File, e.Line))
		} else {
			parts = append(parts, e.File)
		}
	}
	if e.Job != "" {
		parts = append(parts, "job "+e.Job)
	}
	if e.Field != "" {
		parts = append(parts, "field "+e.Field)
	}
	return strings.Join(parts, ", ")
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain, or "" when err
// was not produced by the core.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Attribute fills in job and field context on a core error that does not
// carry it yet. Other errors are returned untouched.
func Attribute(err error, job, field string) error {
	var fe *Error
	if !errors.As(err, &fe) {
		return err
	}
	if fe.Job == "" {
		fe.Job = job
	}
	if fe.Field == "" {
		fe.Field = field
	}
	return err
}

// InFile fills in the originating document path when missing.
func InFile(err error, file string) error {
	var fe *Error
	if !errors.As(err, &fe) {
		return err
	}
	if fe.File == "" {
		fe.File = file
	}
	return err
}
