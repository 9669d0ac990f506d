package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Fingerprint returns the SHA-256 hex digest of the RFC 8785 canonical form
// of a raw payload. Two submissions that differ only in key order or
// whitespace hash identically, which is what the replay fence needs when no
// replay_id was supplied.
func Fingerprint(raw []byte) (string, error) {
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize event: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
