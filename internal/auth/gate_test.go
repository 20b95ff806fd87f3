package auth

import (
	"context"
	"crypto/sha256"
	"strconv"
	"testing"
)

type fakePasswordStore struct {
	hash string
}

func (f *fakePasswordStore) GetPasswordHash(ctx context.Context) (string, error) {
	return f.hash, nil
}

func (f *fakePasswordStore) SetPasswordHash(ctx context.Context, hash string) error {
	f.hash = hash
	return nil
}

func (f *fakePasswordStore) SetPasswordHashIfNotExists(ctx context.Context, hash string) (bool, error) {
	if f.hash != "" {
		return false, nil
	}
	f.hash = hash
	return true, nil
}

func newTestGate(t *testing.T) (*Gate, *fakePasswordStore) {
	t.Helper()
	store := &fakePasswordStore{}
	g, err := New(store, 4) // clamps to 16; still fast enough to brute-force in a test
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g, store
}

func solvedChallenge(t *testing.T, g *Gate) (string, string) {
	t.Helper()
	ch := g.IssueChallenge()
	for i := 0; i < 5_000_000; i++ {
		nonce := strconv.Itoa(i)
		sum := sha256.Sum256([]byte(ch.Value + nonce))
		if leadingZeroBits(sum[:]) >= ch.Difficulty {
			return ch.Value, nonce
		}
	}
	t.Fatal("failed to solve challenge within the search bound")
	return "", ""
}

func TestGateSetupThenLogin(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGate(t)

	setup, authed, err := g.Status(ctx, "")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if setup || authed {
		t.Fatal("a fresh gate must report setup=false, authenticated=false")
	}

	challenge, nonce := solvedChallenge(t, g)
	token, err := g.Setup(ctx, "Tr0ub4dor&3xQ", challenge, nonce)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if store.hash == "" {
		t.Fatal("Setup must persist a password hash")
	}

	setup, authed, err = g.Status(ctx, token)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !setup || !authed {
		t.Fatal("after Setup, status must report setup=true, authenticated=true")
	}

	challenge2, nonce2 := solvedChallenge(t, g)
	if _, err := g.Setup(ctx, "Tr0ub4dor&3xQ", challenge2, nonce2); err == nil {
		t.Fatal("a second Setup call must fail once a hash is stored")
	}

	challenge3, nonce3 := solvedChallenge(t, g)
	loginToken, err := g.Login(ctx, "Tr0ub4dor&3xQ", challenge3, nonce3)
	if err != nil {
		t.Fatalf("Login with the correct password must succeed: %v", err)
	}
	if err := g.Authenticate(ctx, loginToken); err != nil {
		t.Fatalf("Authenticate must accept a freshly issued login token: %v", err)
	}

	challenge4, nonce4 := solvedChallenge(t, g)
	if _, err := g.Login(ctx, "wrong-password", challenge4, nonce4); err == nil {
		t.Fatal("Login with the wrong password must fail")
	}
}

func TestGateChangePasswordRotatesSession(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGate(t)

	challenge, nonce := solvedChallenge(t, g)
	oldToken, err := g.Setup(ctx, "Old-P4ssw0rd!9", challenge, nonce)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	challenge2, nonce2 := solvedChallenge(t, g)
	newToken, err := g.ChangePassword(ctx, "Old-P4ssw0rd!9", "New-P4ssw0rd!7", challenge2, nonce2)
	if err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if err := g.Authenticate(ctx, oldToken); err == nil {
		t.Fatal("the pre-rotation session token must no longer authenticate")
	}
	if err := g.Authenticate(ctx, newToken); err != nil {
		t.Fatalf("the post-rotation session token must authenticate: %v", err)
	}

	challenge3, nonce3 := solvedChallenge(t, g)
	if _, err := g.ChangePassword(ctx, "Old-P4ssw0rd!9", "irrelevant", challenge3, nonce3); err == nil {
		t.Fatal("ChangePassword with the stale current password must fail")
	}
}

func TestGateAuthenticateRejectsBeforeSetup(t *testing.T) {
	g, _ := newTestGate(t)
	if err := g.Authenticate(context.Background(), "anything"); err == nil {
		t.Fatal("Authenticate must fail before any password has been set up")
	}
}
