package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/gowebpki/jcs"

	"github.com/kingrea/ciweave/internal/schema"
)

var legacyDigestRE = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Fingerprint returns the sha256 hex digest of the full artifact content.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// NewRecord fingerprints content for the artifact named name.
func NewRecord(name string, content []byte) Record {
	return Record{
		Schema:    RecordSchema,
		Algorithm: Algorithm,
		Artifact:  name,
		Digest:    Fingerprint(content),
		Size:      int64(len(content)),
	}
}

// EncodeRecord renders rec as canonical (RFC 8785) JSON followed by a newline.
func EncodeRecord(rec Record) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("artifact: encode record: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("artifact: canonicalize record: %w", err)
	}
	if err := validateRecord(canonical); err != nil {
		return nil, err
	}
	return append(canonical, '\n'), nil
}

// DecodeRecord parses a record file. A file holding only a hex digest is
// accepted as a legacy record.
func DecodeRecord(data []byte) (Record, error) {
	trimmed := bytes.TrimSpace(data)
	if legacyDigestRE.Match(trimmed) {
		return Record{Algorithm: Algorithm, Digest: string(trimmed), Legacy: true}, nil
	}
	if err := validateRecord(trimmed); err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return Record{}, fmt.Errorf("artifact: decode record: %w", err)
	}
	return rec, nil
}

func validateRecord(data []byte) error {
	v, err := schema.Fingerprint()
	if err != nil {
		return err
	}
	if err := v.ValidateJSON(data); err != nil {
		return fmt.Errorf("artifact: invalid fingerprint record: %w", err)
	}
	return nil
}
