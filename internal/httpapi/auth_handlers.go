package httpapi

import (
	"net/http"

	"github.com/lhbill/assppweb/internal/auth"
)

type authStatusResponse struct {
	Required      bool `json:"required"`
	Setup         bool `json:"setup"`
	Authenticated bool `json:"authenticated"`
}

// authStatus reports {required, setup, authenticated} per spec.md §6.
// "required" is always true: every deployment of this server gates
// task RPCs and the tunnel behind a password, whether or not one has
// been configured yet.
func (a *api) authStatus(w http.ResponseWriter, r *http.Request) {
	token := auth.SessionTokenFromRequest(r)
	setup, authenticated, err := a.deps.Auth.Status(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authStatusResponse{Required: true, Setup: setup, Authenticated: authenticated})
}

func (a *api) authChallenge(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.Auth.IssueChallenge())
}

type setupRequest struct {
	Password  string `json:"password"`
	Challenge string `json:"challenge"`
	Nonce     string `json:"nonce"`
}

func (a *api) authSetup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	token, err := a.deps.Auth.Setup(r.Context(), req.Password, req.Challenge, req.Nonce)
	if err != nil {
		writeError(w, err)
		return
	}
	auth.SetSessionCookie(w, r, token)
	writeJSON(w, http.StatusOK, nil)
}

type loginRequest struct {
	Password  string `json:"password"`
	Challenge string `json:"challenge"`
	Nonce     string `json:"nonce"`
}

func (a *api) authLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	token, err := a.deps.Auth.Login(r.Context(), req.Password, req.Challenge, req.Nonce)
	if err != nil {
		writeError(w, err)
		return
	}
	auth.SetSessionCookie(w, r, token)
	writeJSON(w, http.StatusOK, nil)
}

func (a *api) authLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, nil)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	Challenge       string `json:"challenge"`
	Nonce           string `json:"nonce"`
}

func (a *api) authChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	token, err := a.deps.Auth.ChangePassword(r.Context(), req.CurrentPassword, req.NewPassword, req.Challenge, req.Nonce)
	if err != nil {
		writeError(w, err)
		return
	}
	auth.SetSessionCookie(w, r, token)
	writeJSON(w, http.StatusOK, nil)
}
