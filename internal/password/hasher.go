// Package password hashes and verifies user passwords and checks them
// against the configured complexity policy.
package password

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Algorithm tags as they appear at the start of an encoded hash.
const (
	AlgorithmArgon2id = "argon2id"
	AlgorithmBcrypt   = "bcrypt"
)

var (
	// ErrMalformedHash is returned when an encoded hash cannot be parsed.
	ErrMalformedHash = errors.New("password: malformed hash")
	// ErrUnknownAlgorithm is returned for hashes with an unsupported tag.
	ErrUnknownAlgorithm = errors.New("password: unknown algorithm")
	// ErrTooLong is returned when a hasher cannot consume the whole plaintext.
	ErrTooLong = errors.New("password: too long")
)

// Hasher produces self-describing salted hashes and verifies plaintext against them.
type Hasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
	Verify(ctx context.Context, plaintext, encoded string) (bool, error)
	NeedsRehash(encoded string) bool
}

// AlgorithmOf returns the algorithm tag of an encoded hash, or "" when unknown.
func AlgorithmOf(encoded string) string {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		return AlgorithmArgon2id
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		return AlgorithmBcrypt
	default:
		return ""
	}
}

// Config selects the hashing algorithm and its work factors.
type Config struct {
	Algorithm     string
	Argon2        Argon2Params
	BcryptCost    int
	MaxConcurrent int
}

// New builds the Hasher described by cfg: hashes are produced with
// cfg.Algorithm, either supported algorithm verifies, and at most
// cfg.MaxConcurrent operations run at once.
func New(cfg Config) (Hasher, error) {
	argon := NewArgon2(cfg.Argon2)
	bc, err := NewBcrypt(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	byAlg := map[string]Hasher{
		AlgorithmArgon2id: argon,
		AlgorithmBcrypt:   bc,
	}
	alg := cfg.Algorithm
	if alg == "" {
		alg = AlgorithmArgon2id
	}
	if _, ok := byAlg[alg]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)
	}
	return NewLimited(&composite{primary: alg, byAlg: byAlg}, cfg.MaxConcurrent), nil
}

type composite struct {
	primary string
	byAlg   map[string]Hasher
}

func (c *composite) Hash(ctx context.Context, plaintext string) (string, error) {
	return c.byAlg[c.primary].Hash(ctx, plaintext)
}

func (c *composite) Verify(ctx context.Context, plaintext, encoded string) (bool, error) {
	h, ok := c.byAlg[AlgorithmOf(encoded)]
	if !ok {
		return false, ErrUnknownAlgorithm
	}
	return h.Verify(ctx, plaintext, encoded)
}

func (c *composite) NeedsRehash(encoded string) bool {
	if AlgorithmOf(encoded) != c.primary {
		return true
	}
	return c.byAlg[c.primary].NeedsRehash(encoded)
}
