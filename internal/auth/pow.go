package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lhbill/assppweb/internal/apperr"
)

const (
	challengeTTL    = 60 * time.Second
	minDifficulty   = 16
	maxDifficulty   = 24
	pruneThreshold  = 4096 // replay map size that triggers an expired-entry sweep
	challengeKeyLen = 32
)

// ClampDifficulty restricts a configured PoW difficulty to spec.md §6's
// [16, 24] range.
func ClampDifficulty(d int) int {
	if d < minDifficulty {
		return minDifficulty
	}
	if d > maxDifficulty {
		return maxDifficulty
	}
	return d
}

// Challenge is the payload returned from GET /auth/challenge.
type Challenge struct {
	Value      string `json:"challenge"`
	Difficulty int    `json:"difficulty"`
}

// powGuard issues and verifies proof-of-work challenges against a
// process-ephemeral signing key, regenerated every time the server
// restarts (spec.md §6). The replay set is process-local and unbounded
// until pruneThreshold entries accumulate — per spec.md §9's open
// question, this gives no cross-instance one-shot guarantee.
type powGuard struct {
	key        []byte
	difficulty int

	mu   sync.Mutex
	used map[string]time.Time
}

func newPowGuard(difficulty int) (*powGuard, error) {
	key := make([]byte, challengeKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, apperr.Internal(err, "generate PoW signing key")
	}
	return &powGuard{
		key:        key,
		difficulty: ClampDifficulty(difficulty),
		used:       make(map[string]time.Time),
	}, nil
}

// Issue builds a fresh challenge signed with the process key.
func (g *powGuard) Issue() Challenge {
	payload := fmt.Sprintf("%d:%s", time.Now().Unix(), uuid.NewString())
	sig := g.sign(payload)
	return Challenge{
		Value:      payload + ":" + sig,
		Difficulty: g.difficulty,
	}
}

func (g *powGuard) sign(payload string) string {
	mac := hmac.New(sha256.New, g.key)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks a (challenge, nonce) pair: the challenge must carry a
// valid signature, must be within its TTL, must not have been consumed
// before, and SHA-256(challenge+nonce) must have at least the
// configured number of leading zero bits (spec.md §6 "PoW contract").
// A valid pair is consumed — a second attempt within the TTL fails with
// BadRequest (spec.md §8 "PoW one-shot").
func (g *powGuard) Verify(challenge, nonce string) error {
	payload, sig, ok := splitChallenge(challenge)
	if !ok {
		return apperr.BadRequest("malformed challenge")
	}
	if !constantTimeEqual([]byte(g.sign(payload)), []byte(sig)) {
		return apperr.BadRequest("challenge signature invalid")
	}

	issuedAt, ok := parseChallengeTimestamp(payload)
	if !ok {
		return apperr.BadRequest("malformed challenge timestamp")
	}
	if time.Since(issuedAt) > challengeTTL {
		return apperr.BadRequest("challenge expired")
	}

	if err := g.consume(challenge, issuedAt.Add(challengeTTL)); err != nil {
		return err
	}

	sum := sha256.Sum256([]byte(challenge + nonce))
	if leadingZeroBits(sum[:]) < g.difficulty {
		return apperr.BadRequest("proof of work does not meet required difficulty")
	}
	return nil
}

func (g *powGuard) consume(challenge string, expiry time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, seen := g.used[challenge]; seen {
		return apperr.BadRequest("challenge already used")
	}
	if len(g.used) >= pruneThreshold {
		now := time.Now()
		for k, exp := range g.used {
			if now.After(exp) {
				delete(g.used, k)
			}
		}
	}
	g.used[challenge] = expiry
	return nil
}

func splitChallenge(challenge string) (payload, sig string, ok bool) {
	idx := strings.LastIndex(challenge, ":")
	if idx < 0 || idx == len(challenge)-1 {
		return "", "", false
	}
	return challenge[:idx], challenge[idx+1:], true
}

func parseChallengeTimestamp(payload string) (time.Time, bool) {
	idx := strings.Index(payload, ":")
	if idx <= 0 {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(payload[:idx], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}

// leadingZeroBits counts the number of leading zero bits across b.
func leadingZeroBits(b []byte) int {
	count := 0
	for _, by := range b {
		if by == 0 {
			count += 8
			continue
		}
		for mask := byte(0x80); mask > 0; mask >>= 1 {
			if by&mask != 0 {
				return count
			}
			count++
		}
	}
	return count
}
