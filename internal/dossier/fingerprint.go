package dossier

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the hex SHA-256 of the canonical encoding of f.
// Two files that decode to the same fields share a fingerprint regardless
// of field order, whitespace or tag spelling in the source bytes.
func Fingerprint(c Codec, f *Fields) (string, error) {
	canonical, err := c.Encode(f)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
