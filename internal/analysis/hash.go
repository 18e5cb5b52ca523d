package analysis

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashImage returns the hex SHA-256 of the raw upload; ratings are deduplicated on it.
func HashImage(image []byte) string {
	sum := sha256.Sum256(image)
	return hex.EncodeToString(sum[:])
}
