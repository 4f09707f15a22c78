package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"docsign/internal/ratelimit"
	"docsign/internal/util"
	"docsign/pkg/domain"
	"docsign/pkg/store"
	"docsign/services/docsign/internal/app"
	"docsign/services/docsign/internal/oauth"
)

const (
	DefaultCookieName       = "docsign_session"
	defaultOAuthRedirect    = "/dashboard"
	defaultRegisterPerMin   = 5
	defaultLoginPerMin      = 10
	defaultUploadPerMin     = 30
	defaultSignPerMin       = 30
	rateLimitPrefix         = "docsign:ratelimit:"
	multipartOverheadBytes  = 1 << 20
	multipartMemoryMaxBytes = 32 << 20
)

// RateLimits holds per-minute request quotas. Zero selects the default.
type RateLimits struct {
	RegisterPerMinute int
	LoginPerMinute    int
	UploadPerMinute   int
	SignPerMinute     int
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// Keys publishes the session verification keys; nil serves an empty set.
	Keys store.JWKSProvider
	// Google enables the Google login routes when set.
	Google *oauth.Google
	// Redis backs the rate limiters; nil falls back to in-process limiters.
	Redis redis.UniversalClient

	RateLimits           RateLimits
	AllowedOrigins       []string
	TrustedProxies       *util.TrustedProxies
	CookieName           string
	CookieSecure         bool
	OAuthSuccessRedirect string
}

// Server exposes HTTP endpoints for the document signing service.
type Server struct {
	app     *app.App
	keys    store.JWKSProvider
	google  *oauth.Google
	mux     *http.ServeMux
	origins []string
	trusted *util.TrustedProxies

	cookieName    string
	cookieSecure  bool
	oauthRedirect string

	registerLimiter ratelimit.Limiter
	loginLimiter    ratelimit.Limiter
	uploadLimiter   ratelimit.Limiter
	signLimiter     ratelimit.Limiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	newLimiter := func(name string, limit, fallback int) (ratelimit.Limiter, error) {
		if limit <= 0 {
			limit = fallback
		}
		if cfg.Redis == nil {
			l, err := ratelimit.NewLocalLimiter(limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return l, nil
		}
		l, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, rateLimitPrefix+name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return l, nil
	}
	registerLimiter, err := newLimiter("register", cfg.RateLimits.RegisterPerMinute, defaultRegisterPerMin)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", cfg.RateLimits.LoginPerMinute, defaultLoginPerMin)
	if err != nil {
		return nil, err
	}
	uploadLimiter, err := newLimiter("upload", cfg.RateLimits.UploadPerMinute, defaultUploadPerMin)
	if err != nil {
		return nil, err
	}
	signLimiter, err := newLimiter("sign", cfg.RateLimits.SignPerMinute, defaultSignPerMin)
	if err != nil {
		return nil, err
	}

	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	redirect := strings.TrimSpace(cfg.OAuthSuccessRedirect)
	if redirect == "" {
		redirect = defaultOAuthRedirect
	}
	s := &Server{
		app:             cfg.App,
		keys:            cfg.Keys,
		google:          cfg.Google,
		mux:             http.NewServeMux(),
		origins:         cfg.AllowedOrigins,
		trusted:         cfg.TrustedProxies,
		cookieName:      cookieName,
		cookieSecure:    cfg.CookieSecure,
		oauthRedirect:   redirect,
		registerLimiter: registerLimiter,
		loginLimiter:    loginLimiter,
		uploadLimiter:   uploadLimiter,
		signLimiter:     signLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler wrapped in the middleware chain.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithCORS(s.origins, h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog("docsign", h)
	return util.WithRequestID(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/.well-known/jwks.json", s.handleJWKS)

	// accounts
	s.mux.HandleFunc("/api/register", s.handleRegister)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.Handle("/api/auth/logout", s.authenticated(s.handleLogout))
	s.mux.Handle("/api/auth/session", s.authenticated(s.handleSession))
	s.mux.HandleFunc("/api/auth/google/login", s.handleGoogleLogin)
	s.mux.HandleFunc("/api/auth/google/callback", s.handleGoogleCallback)

	// documents
	s.mux.Handle("/api/upload", s.authenticated(s.handleUpload))
	s.mux.Handle("/api/list", s.authenticated(s.handleList))
	s.mux.Handle("/api/documents", s.authenticated(s.handleList))
	s.mux.Handle("/api/documents/", s.authenticated(s.handleDocumentByID))
	s.mux.Handle("/api/view", s.authenticated(s.handleView))
	s.mux.Handle("/api/delete", s.authenticated(s.handleDelete))
	s.mux.Handle("/api/sign", s.authenticated(s.handleSign))
	s.mux.Handle("/api/sign-pdf", s.authenticated(s.handleSign))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	keys := []store.JWK{}
	if s.keys != nil {
		keys = append(keys, s.keys.JWKS()...)
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := s.sessionToken(r)
		if !ok {
			s.audit(r, "auth.authorize", "fail", "reason", "missing_token")
			writeAppError(w, r, app.ErrUnauthenticated)
			return
		}
		user, err := s.app.Authenticate(r.Context(), token)
		if err != nil {
			s.audit(r, "auth.authorize", "fail", "reason", "invalid_token")
			writeAppError(w, r, err)
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", user.ID))
		next(w, r.WithContext(ctx), user)
	})
}

// sessionToken prefers the Authorization header over the session cookie.
func (s *Server) sessionToken(r *http.Request) (string, bool) {
	if token, ok := bearerToken(r); ok {
		return token, true
	}
	c, err := r.Cookie(s.cookieName)
	if err != nil {
		return "", false
	}
	token := strings.TrimSpace(c.Value)
	return token, token != ""
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func (s *Server) setSessionCookie(w http.ResponseWriter, session store.Session) {
	maxAge := int(time.Until(session.ExpiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = int(s.app.SessionTTL().Seconds())
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trusted),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

// allowRate checks limiter for key, answering 429 when the quota is spent.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, key, msg string) bool {
	if limiter.Allow(r.Context(), r.URL.Path+"|"+key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", msg)
	return false
}
