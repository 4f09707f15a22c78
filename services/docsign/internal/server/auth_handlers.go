package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"docsign/internal/util"
	"docsign/pkg/domain"
	"docsign/services/docsign/internal/oauth"
)

const (
	oauthStateCookie    = "docsign_oauth_state"
	oauthVerifierCookie = "docsign_oauth_verifier"
	oauthCookiePath     = "/api/auth/google"
	oauthCookieMaxAge   = 600
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      domain.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, util.ClientIP(r, s.trusted), "too many registration attempts") {
		s.audit(r, "auth.register", "rate_limited")
		return
	}
	var req registerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body")
		return
	}
	user, err := s.app.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		s.audit(r, "auth.register", "fail")
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.register", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "user": user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, util.ClientIP(r, s.trusted), "too many login attempts") {
		s.audit(r, "auth.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_FAILED", "email and password are required")
		return
	}
	user, session, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "auth.login", "fail")
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.login", "success", "user_id", user.ID)
	s.setSessionCookie(w, session)
	writeJSON(w, http.StatusOK, loginResponse{Token: session.Token, ExpiresAt: session.ExpiresAt, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	token, _ := s.sessionToken(r)
	if err := s.app.Logout(r.Context(), token); err != nil {
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.logout", "success", "user_id", user.ID)
	s.clearCookie(w, s.cookieName, "/")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if s.google == nil {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	state := util.RandomHex(16)
	verifier := oauth.NewVerifier()
	for name, value := range map[string]string{oauthStateCookie: state, oauthVerifierCookie: verifier} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    value,
			Path:     oauthCookiePath,
			MaxAge:   oauthCookieMaxAge,
			HttpOnly: true,
			Secure:   s.cookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	http.Redirect(w, r, s.google.AuthCodeURL(state, verifier), http.StatusFound)
}

func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if s.google == nil {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	s.clearCookie(w, oauthStateCookie, oauthCookiePath)
	s.clearCookie(w, oauthVerifierCookie, oauthCookiePath)

	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		s.audit(r, "auth.google", "fail", "reason", reason)
		writeError(w, r, http.StatusUnauthorized, "GOOGLE_DENIED", "google sign-in was cancelled")
		return
	}
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != q.Get("state") {
		s.audit(r, "auth.google", "fail", "reason", "state_mismatch")
		writeError(w, r, http.StatusBadRequest, "OAUTH_STATE_INVALID", "invalid oauth state")
		return
	}
	verifierCookie, err := r.Cookie(oauthVerifierCookie)
	code := q.Get("code")
	if err != nil || verifierCookie.Value == "" || code == "" {
		writeError(w, r, http.StatusBadRequest, "OAUTH_CODE_MISSING", "authorization code is required")
		return
	}

	profile, err := s.google.Exchange(r.Context(), code, verifierCookie.Value)
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("google_exchange_failed", "err", err)
		s.audit(r, "auth.google", "fail", "reason", "exchange_failed")
		writeError(w, r, http.StatusUnauthorized, "GOOGLE_SIGNIN_FAILED", "google sign-in failed")
		return
	}
	user, session, err := s.app.LoginWithGoogle(r.Context(), profile)
	if err != nil {
		s.audit(r, "auth.google", "fail")
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.google", "success", "user_id", user.ID)
	s.setSessionCookie(w, session)
	http.Redirect(w, r, s.oauthRedirect, http.StatusFound)
}
