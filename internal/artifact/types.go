// Package artifact guards compiled outputs against silent overwrites. Every
// artifact written through a Guard gets a sibling fingerprint record; later
// runs compare the file on disk with that record before replacing it.
package artifact

import (
	"path/filepath"
	"strings"
)

// RecordSuffix is appended to an artifact path to name its fingerprint record.
const RecordSuffix = ".hash"

// RecordSchema identifies the record layout.
const RecordSchema = "ciweave.fingerprint.v1"

// Algorithm is the only supported digest algorithm.
const Algorithm = "sha256"

// State captures how an artifact on disk relates to its record.
type State string

const (
	// StateClean means the artifact matches its record.
	StateClean State = "clean"
	// StateDrifted means the artifact was edited after it was recorded.
	StateDrifted State = "drifted"
	// StateUntracked means the artifact exists without a usable record.
	StateUntracked State = "untracked"
	// StateOrphaned means a record exists but its artifact is gone.
	StateOrphaned State = "orphaned"
	// StateAbsent means neither the artifact nor a record exists.
	StateAbsent State = "absent"
)

// Record is the persisted fingerprint of one artifact.
type Record struct {
	Schema    string `json:"schema"`
	Algorithm string `json:"algorithm"`
	Artifact  string `json:"artifact"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
	// Legacy is set for records holding a bare hex digest.
	Legacy bool `json:"-"`
}

// CheckResult is the drift record for one artifact.
type CheckResult struct {
	Path       string
	RecordPath string
	State      State
	// Expected is the digest stored in the record.
	Expected string
	// Actual is the digest of the file currently on disk.
	Actual string
	// Err explains why a record could not be used.
	Err error
}

// Drifted reports whether the on-disk artifact no longer matches its record.
func (r CheckResult) Drifted() bool { return r.State == StateDrifted }

// RecordPath returns the fingerprint record location for an artifact.
func RecordPath(artifact string) string {
	return filepath.Clean(artifact) + RecordSuffix
}

// ArtifactPath inverts RecordPath.
func ArtifactPath(record string) string {
	return strings.TrimSuffix(filepath.Clean(record), RecordSuffix)
}
