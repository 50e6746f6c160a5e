package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kingrea/ciweave/internal/failure"
	"github.com/kingrea/ciweave/internal/fsx"
	"github.com/kingrea/ciweave/internal/logging"
)

// Outcome describes what Write did.
type Outcome string

const (
	OutcomeWritten   Outcome = "written"
	OutcomeForced    Outcome = "forced"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeDryRun    Outcome = "dry-run"
)

// WriteResult reports a single Write call.
type WriteResult struct {
	Path    string
	Outcome Outcome
	Check   CheckResult
	// Diff is set when drift blocked or was forced over.
	Diff string
}

// Guard performs fingerprint-checked writes.
type Guard struct {
	force  bool
	dryRun bool
	log    *logging.Logger
}

// Option customizes a Guard during construction.
type Option func(*Guard)

// WithForce overwrites drifted artifacts instead of refusing.
func WithForce(force bool) Option {
	return func(g *Guard) {
		g.force = force
	}
}

// WithDryRun withholds every filesystem write, records included.
func WithDryRun(dryRun bool) Option {
	return func(g *Guard) {
		g.dryRun = dryRun
	}
}

// WithLogger routes guard diagnostics to log.
func WithLogger(log *logging.Logger) Option {
	return func(g *Guard) {
		g.log = log
	}
}

// NewGuard builds a guard.
func NewGuard(opts ...Option) *Guard {
	g := &Guard{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// DryRun reports whether writes are withheld.
func (g *Guard) DryRun() bool { return g.dryRun }

// Check compares the artifact at path with its record without writing.
func (g *Guard) Check(path string) (CheckResult, error) {
	_, result, err := g.inspect(path)
	return result, err
}

func (g *Guard) inspect(path string) ([]byte, CheckResult, error) {
	path = filepath.Clean(path)
	result := CheckResult{Path: path, RecordPath: RecordPath(path)}
	current, exists, err := fsx.ReadOptional(path)
	if err != nil {
		return nil, result, &failure.Error{Kind: failure.KindIOFailed, Path: path, Err: err}
	}
	if exists {
		result.Actual = Fingerprint(current)
	}
	raw, hasRecord, err := fsx.ReadOptional(result.RecordPath)
	if err != nil {
		return nil, result, &failure.Error{Kind: failure.KindIOFailed, Path: result.RecordPath, Err: err}
	}
	var rec Record
	if hasRecord {
		rec, err = DecodeRecord(raw)
		if err != nil {
			result.Err = err
			hasRecord = false
		} else {
			result.Expected = rec.Digest
		}
	}
	switch {
	case !exists && !hasRecord:
		result.State = StateAbsent
	case !exists:
		result.State = StateOrphaned
	case !hasRecord:
		result.State = StateUntracked
	case rec.Digest == result.Actual:
		result.State = StateClean
	default:
		result.State = StateDrifted
	}
	return current, result, nil
}

// Write stores content at path unless the artifact drifted from its record.
// Drift without force returns a DriftDetected error together with a diff
// from the on-disk content to content.
func (g *Guard) Write(path string, content []byte) (WriteResult, error) {
	current, check, err := g.inspect(path)
	if err != nil {
		return WriteResult{Path: path}, err
	}
	res := WriteResult{Path: check.Path, Check: check}
	fresh := Fingerprint(content)
	exists := check.State != StateAbsent && check.State != StateOrphaned

	if exists && check.Actual == fresh {
		res.Outcome = OutcomeUnchanged
		if check.Expected != fresh && !g.dryRun {
			if err := g.writeRecord(check.Path, content); err != nil {
				return res, err
			}
		}
		g.log.Debugf("%s is up to date", check.Path)
		return res, nil
	}

	switch check.State {
	case StateDrifted:
		res.Diff = Diff(filepath.Base(check.Path), current, content)
		if !g.force {
			return res, &failure.Error{
				Kind: failure.KindDriftDetected,
				File: check.Path,
				Err:  fmt.Errorf("file was edited since it was last compiled (expected %s, found %s); rerun with --force to overwrite", short(check.Expected), short(check.Actual)),
			}
		}
		g.log.Warnf("Overwriting manually edited %s", check.Path)
	case StateUntracked:
		if check.Err != nil {
			g.log.Warnf("Ignoring unreadable fingerprint for %s: %v", check.Path, check.Err)
		}
		g.log.Warnf("No fingerprint for existing %s; overwriting", check.Path)
	}

	if g.dryRun {
		res.Outcome = OutcomeDryRun
		g.log.Printf("[dry-run] would write %s", check.Path)
		return res, nil
	}
	if err := fsx.WriteFileAtomic(check.Path, content, 0o644); err != nil {
		return res, &failure.Error{Kind: failure.KindIOFailed, File: check.Path, Err: err}
	}
	if err := g.writeRecord(check.Path, content); err != nil {
		return res, err
	}
	res.Outcome = OutcomeWritten
	if check.State == StateDrifted {
		res.Outcome = OutcomeForced
	}
	return res, nil
}

// Scan checks every recorded artifact under root, sorted by path.
func (g *Guard) Scan(root string) ([]CheckResult, error) {
	if !fsx.IsDir(root) {
		return nil, &failure.Error{Kind: failure.KindInputNotFound, Path: root, Err: fmt.Errorf("output directory not found")}
	}
	matches, err := doublestar.Glob(os.DirFS(root), "**/*"+RecordSuffix, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("artifact: scan %s: %w", root, err)
	}
	sort.Strings(matches)
	results := make([]CheckResult, 0, len(matches))
	for _, rel := range matches {
		record := filepath.Join(root, filepath.FromSlash(rel))
		result, err := g.Check(ArtifactPath(record))
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// Remove deletes an artifact and its record. Missing files are ignored.
func (g *Guard) Remove(path string) error {
	if g.dryRun {
		g.log.Printf("[dry-run] would remove %s", path)
		return nil
	}
	for _, target := range []string{path, RecordPath(path)} {
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &failure.Error{Kind: failure.KindIOFailed, Path: target, Err: err}
		}
	}
	g.log.Printf("Removed %s", path)
	return nil
}

func (g *Guard) writeRecord(path string, content []byte) error {
	encoded, err := EncodeRecord(NewRecord(filepath.Base(path), content))
	if err != nil {
		return err
	}
	if err := fsx.WriteFileAtomic(RecordPath(path), encoded, 0o644); err != nil {
		return &failure.Error{Kind: failure.KindIOFailed, File: RecordPath(path), Err: err}
	}
	return nil
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	if digest == "" {
		return "none"
	}
	return digest
}
