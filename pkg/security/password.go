// Package security holds credential hashing and random code generation.
package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/face10ai/credits-backend/pkg/config"
)

const MinPasswordLength = 8

var (
	ErrMalformedHash    = errors.New("malformed argon2id hash")
	ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
)

type argonCost struct {
	memoryKB uint32
	passes   uint32
	lanes    uint8
	saltLen  uint32
	keyLen   uint32
}

func (c argonCost) weakerThan(o argonCost) bool {
	return c.memoryKB < o.memoryKB || c.passes < o.passes || c.keyLen < o.keyLen
}

// Hasher produces and checks PHC-formatted argon2id hashes at a fixed cost.
type Hasher struct {
	cost argonCost
}

func NewHasher(cfg config.PasswordConfig) *Hasher {
	return &Hasher{cost: argonCost{
		memoryKB: uint32(bounded(cfg.ArgonMemoryKB, 8, 512*1024)),
		passes:   uint32(bounded(cfg.ArgonTime, 1, 10)),
		lanes:    uint8(bounded(cfg.ArgonParallelism, 1, 255)),
		saltLen:  uint32(bounded(cfg.ArgonSaltLen, 8, 64)),
		keyLen:   uint32(bounded(cfg.ArgonKeyLen, 16, 64)),
	}}
}

func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}
	salt := make([]byte, h.cost.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.cost.passes, h.cost.memoryKB, h.cost.lanes, h.cost.keyLen)
	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.cost.memoryKB, h.cost.passes, h.cost.lanes,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// Verify checks password against encoded. stale is true when encoded was made
// with a lower cost than the hasher's and should be replaced after a match.
func (h *Hasher) Verify(password, encoded string) (match, stale bool, err error) {
	cost, salt, want, err := parsePHC(encoded)
	if err != nil {
		return false, false, err
	}
	got := argon2.IDKey([]byte(password), salt, cost.passes, cost.memoryKB, cost.lanes, cost.keyLen)
	if subtle.ConstantTimeCompare(want, got) != 1 {
		return false, false, nil
	}
	return true, cost.weakerThan(h.cost), nil
}

func parsePHC(encoded string) (argonCost, []byte, []byte, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return argonCost{}, nil, nil, ErrMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return argonCost{}, nil, nil, ErrMalformedHash
	}
	var cost argonCost
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &cost.memoryKB, &cost.passes, &cost.lanes); err != nil {
		return argonCost{}, nil, nil, ErrMalformedHash
	}
	salt, saltErr := base64.RawStdEncoding.DecodeString(fields[4])
	key, keyErr := base64.RawStdEncoding.DecodeString(fields[5])
	if saltErr != nil || keyErr != nil || len(key) == 0 || cost.passes == 0 || cost.lanes == 0 {
		return argonCost{}, nil, nil, ErrMalformedHash
	}
	cost.saltLen = uint32(len(salt))
	cost.keyLen = uint32(len(key))
	return cost, salt, key, nil
}

func bounded(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
