// Package auth implements spec.md §4.H's auth gate: PBKDF2 password
// hashing, JWT session tokens carried in a cookie, and a proof-of-work
// challenge/replay guard in front of setup and login.
package auth

import (
	"context"

	"github.com/lhbill/assppweb/internal/apperr"
)

// PasswordStore is the slice of internal/taskstore the gate depends on,
// kept as a narrow interface (the same decoupling internal/janitor uses
// for TaskLister) so the gate can be tested without a real Postgres
// instance.
type PasswordStore interface {
	GetPasswordHash(ctx context.Context) (string, error)
	SetPasswordHash(ctx context.Context, hash string) error
	SetPasswordHashIfNotExists(ctx context.Context, hash string) (bool, error)
}

// Gate is the auth surface internal/httpapi drives: challenge issuance,
// setup/login/logout, and password rotation.
type Gate struct {
	store PasswordStore
	pow   *powGuard
}

// New builds a Gate with a fresh process-ephemeral PoW signing key and
// the configured difficulty (already clamped to [16, 24] by the caller
// or clamped again here).
func New(store PasswordStore, difficulty int) (*Gate, error) {
	pow, err := newPowGuard(difficulty)
	if err != nil {
		return nil, err
	}
	return &Gate{store: store, pow: pow}, nil
}

// IssueChallenge returns a fresh PoW challenge for GET /auth/challenge.
func (g *Gate) IssueChallenge() Challenge {
	return g.pow.Issue()
}

// Status reports whether a password has been set and, separately,
// whether the given session token currently authenticates — the shape
// GET /auth/status returns.
func (g *Gate) Status(ctx context.Context, sessionToken string) (setup bool, authenticated bool, err error) {
	hash, err := g.store.GetPasswordHash(ctx)
	if err != nil {
		return false, false, err
	}
	setup = hash != ""
	authenticated = setup && ValidateSession(sessionToken, hash)
	return setup, authenticated, nil
}

// Setup verifies the PoW, hashes password, and stores it only if unset.
// A second call (hash already present) fails with a BadRequest apperr,
// which the API layer answers with HTTP 400.
func (g *Gate) Setup(ctx context.Context, password, challenge, nonce string) (string, error) {
	if err := g.pow.Verify(challenge, nonce); err != nil {
		return "", err
	}
	if err := ValidatePassword(password); err != nil {
		return "", err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return "", err
	}
	ok, err := g.store.SetPasswordHashIfNotExists(ctx, hash)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.BadRequest("password already configured")
	}
	return IssueSession(hash)
}

// Login verifies the PoW and the password, returning a fresh session
// token on success.
func (g *Gate) Login(ctx context.Context, password, challenge, nonce string) (string, error) {
	if err := g.pow.Verify(challenge, nonce); err != nil {
		return "", err
	}
	hash, err := g.store.GetPasswordHash(ctx)
	if err != nil {
		return "", err
	}
	if hash == "" || !VerifyPassword(password, hash) {
		return "", apperr.Unauthorized("invalid password")
	}
	return IssueSession(hash)
}

// ChangePassword verifies the PoW and the current password, rotates the
// stored hash, and issues a replacement session bound to the new hash.
func (g *Gate) ChangePassword(ctx context.Context, currentPassword, newPassword, challenge, nonce string) (string, error) {
	if err := g.pow.Verify(challenge, nonce); err != nil {
		return "", err
	}
	hash, err := g.store.GetPasswordHash(ctx)
	if err != nil {
		return "", err
	}
	if hash == "" || !VerifyPassword(currentPassword, hash) {
		return "", apperr.Unauthorized("invalid password")
	}
	if err := ValidatePassword(newPassword); err != nil {
		return "", err
	}
	newHash, err := HashPassword(newPassword)
	if err != nil {
		return "", err
	}
	if err := g.store.SetPasswordHash(ctx, newHash); err != nil {
		return "", err
	}
	return IssueSession(newHash)
}

// Authenticate validates a session token against the currently stored
// password hash — used to gate tunnel acceptance and task RPCs.
func (g *Gate) Authenticate(ctx context.Context, sessionToken string) error {
	hash, err := g.store.GetPasswordHash(ctx)
	if err != nil {
		return err
	}
	if hash == "" || !ValidateSession(sessionToken, hash) {
		return apperr.Unauthorized("no valid session")
	}
	return nil
}
