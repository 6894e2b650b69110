package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const DefaultTokenBytes = 32

// Hasher applies a SHA-256 pre-hash followed by bcrypt. The pre-hash keeps
// inputs under bcrypt's 72 byte limit so long secrets are not truncated.
type Hasher struct {
	cost       int
	tokenBytes int
}

func NewHasher(cost int, tokenBytes int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("hash cost must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, cost)
	}
	if tokenBytes <= 0 {
		tokenBytes = DefaultTokenBytes
	}

	return &Hasher{cost: cost, tokenBytes: tokenBytes}, nil
}

func (h *Hasher) HashPassword(plain string) (string, error) {
	return h.hash(plain)
}

func (h *Hasher) VerifyPassword(plain string, hash string) bool {
	return verify(plain, hash)
}

func (h *Hasher) HashToken(raw string) (string, error) {
	return h.hash(raw)
}

func (h *Hasher) VerifyTokenHash(raw string, hash string) bool {
	return verify(raw, hash)
}

// NewRawToken returns tokenBytes of randomness encoded as unpadded base64url.
func (h *Hasher) NewRawToken() (string, error) {
	b := make([]byte, h.tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (h *Hasher) hash(secret string) (string, error) {
	digest := preHash(secret)
	out, err := bcrypt.GenerateFromPassword(digest, h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(out), nil
}

func verify(secret string, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), preHash(secret)) == nil
}

func preHash(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}
