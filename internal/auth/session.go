package auth

import (
	"crypto/sha256"
	"net"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lhbill/assppweb/internal/apperr"
)

const (
	sessionCookieName = "assppweb_session"
	sessionTTL        = 7 * 24 * time.Hour
)

// sessionKey derives the HMAC key for session tokens from the stored
// password hash (spec.md §4.H), so rotating the password invalidates
// every outstanding session without a separate revocation list.
func sessionKey(passwordHash string) []byte {
	sum := sha256.Sum256([]byte("assppweb-session:" + passwordHash))
	return sum[:]
}

// IssueSession mints a signed HS256 JWT expiring seven days from now,
// keyed off the current password hash.
func IssueSession(passwordHash string) (string, error) {
	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(sessionTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(sessionKey(passwordHash))
	if err != nil {
		return "", apperr.Internal(err, "sign session token")
	}
	return signed, nil
}

// ValidateSession reports whether token is a well-formed, unexpired
// session signed under passwordHash's derived key. The signing method
// is pinned to HS256 to rule out algorithm-confusion attacks, the same
// guard the pack's JWT helper applies.
func ValidateSession(token, passwordHash string) bool {
	if token == "" {
		return false
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, apperr.Unauthorized("unexpected signing method: %v", t.Header["alg"])
		}
		return sessionKey(passwordHash), nil
	})
	return err == nil && parsed.Valid
}

// isLocalHost reports whether r was addressed to literal "localhost",
// with or without a port — the one case spec.md §4.H allows an
// insecure cookie and a relaxed SameSite policy for.
func isLocalHost(r *http.Request) bool {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host == "localhost"
}

// SetSessionCookie writes the session cookie with the exact attributes
// spec.md §4.H specifies: HttpOnly always, Secure off only for literal
// localhost, SameSite=Strict off of localhost and Lax on it, path "/".
func SetSessionCookie(w http.ResponseWriter, r *http.Request, token string) {
	local := isLocalHost(r)
	sameSite := http.SameSiteStrictMode
	if local {
		sameSite = http.SameSiteLaxMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   !local,
		SameSite: sameSite,
		Expires:  time.Now().Add(sessionTTL),
	})
}

// ClearSessionCookie expires the session cookie immediately.
func ClearSessionCookie(w http.ResponseWriter, r *http.Request) {
	local := isLocalHost(r)
	sameSite := http.SameSiteStrictMode
	if local {
		sameSite = http.SameSiteLaxMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   !local,
		SameSite: sameSite,
		MaxAge:   -1,
	})
}

// SessionTokenFromRequest extracts the raw session cookie value, if any.
func SessionTokenFromRequest(r *http.Request) string {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
