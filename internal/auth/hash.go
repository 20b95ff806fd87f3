package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/lhbill/assppweb/internal/apperr"
)

const (
	pbkdf2Iterations = 100000
	saltSize         = 16
	hashSize         = 32
)

// HashPassword derives a PBKDF2-HMAC-SHA256 hash of password under a
// fresh random salt, encoded as base64url(salt)+"."+base64url(hash) —
// spec.md §4.H's literal stored format. The iteration count and key
// size mirror the teacher's own
// `pbkdf2.Key(entropy, salt, 100000, 32, sha256.New)` call in
// pkg/core/crypto/encryption.go.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", apperr.Internal(err, "generate password salt")
	}
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, hashSize, sha256.New)
	return encodeHash(salt, derived), nil
}

// VerifyPassword reports whether password matches a hash produced by
// HashPassword, without leaking timing information about where the
// candidate first diverges (spec.md §9 "Timing-safe compare").
func VerifyPassword(password, stored string) bool {
	salt, want, ok := decodeHash(stored)
	if !ok {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, hashSize, sha256.New)
	return constantTimeEqual(got, want)
}

func encodeHash(salt, hash []byte) string {
	return base64.RawURLEncoding.EncodeToString(salt) + "." + base64.RawURLEncoding.EncodeToString(hash)
}

func decodeHash(stored string) (salt, hash []byte, ok bool) {
	parts := strings.SplitN(stored, ".", 2)
	if len(parts) != 2 {
		return nil, nil, false
	}
	salt, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, false
	}
	hash, err = base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, false
	}
	return salt, hash, true
}

// constantTimeEqual returns false at once when the slices differ in
// length; slices of equal length are compared with
// subtle.ConstantTimeCompare, which does not stop at the first mismatch.
// The callers compare fixed-size PBKDF2 outputs, so only the byte
// comparison depends on secret data.
func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
