package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIssueAndValidateSession(t *testing.T) {
	token, err := IssueSession("hash-one")
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if !ValidateSession(token, "hash-one") {
		t.Fatal("ValidateSession rejected a freshly issued token")
	}
	if ValidateSession(token, "hash-two") {
		t.Fatal("ValidateSession must reject a token signed under a different password hash")
	}
	if ValidateSession("", "hash-one") {
		t.Fatal("ValidateSession must reject an empty token")
	}
}

func TestSetSessionCookieAttributesNonLocal(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://example.com/api/auth/login", nil)
	w := httptest.NewRecorder()

	SetSessionCookie(w, req, "token-value")

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected exactly one cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if !c.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}
	if !c.Secure {
		t.Error("session cookie must be Secure for a non-localhost host")
	}
	if c.SameSite != http.SameSiteStrictMode {
		t.Error("session cookie must be SameSite=Strict for a non-localhost host")
	}
	if c.Path != "/" {
		t.Errorf("cookie path = %q, want \"/\"", c.Path)
	}
}

func TestSetSessionCookieAttributesLocalhost(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://localhost:8080/api/auth/login", nil)
	w := httptest.NewRecorder()

	SetSessionCookie(w, req, "token-value")

	c := w.Result().Cookies()[0]
	if c.Secure {
		t.Error("session cookie must not be Secure for localhost")
	}
	if c.SameSite != http.SameSiteLaxMode {
		t.Error("session cookie must be SameSite=Lax for localhost")
	}
}

func TestClearSessionCookieExpires(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://example.com/api/auth/logout", nil)
	w := httptest.NewRecorder()

	ClearSessionCookie(w, req)

	c := w.Result().Cookies()[0]
	if c.MaxAge >= 0 {
		t.Error("ClearSessionCookie must set a negative MaxAge to expire the cookie")
	}
}

func TestSessionTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://example.com/api/downloads", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "abc123"})

	if got := SessionTokenFromRequest(req); got != "abc123" {
		t.Errorf("SessionTokenFromRequest = %q, want %q", got, "abc123")
	}

	bare := httptest.NewRequest(http.MethodGet, "https://example.com/api/downloads", nil)
	if got := SessionTokenFromRequest(bare); got != "" {
		t.Errorf("SessionTokenFromRequest on a cookieless request = %q, want empty", got)
	}
}
