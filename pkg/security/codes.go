package security

import (
	"crypto/rand"
	"errors"
)

// codeAlphabet drops 0/O and 1/I so codes survive being read aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateCode returns length characters drawn uniformly from codeAlphabet.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("code length must be positive")
	}
	out := make([]byte, length)
	buf := make([]byte, length)
	for filled := 0; filled < length; {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			// 32 divides 256, so masking keeps the draw uniform.
			out[filled] = codeAlphabet[b&31]
			filled++
			if filled == length {
				break
			}
		}
	}
	return string(out), nil
}
