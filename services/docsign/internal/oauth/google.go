// Package oauth runs the Google authorization code flow used by the web
// login button.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"docsign/services/docsign/internal/app"
)

const defaultUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

var (
	ErrExchange = errors.New("oauth code exchange failed")
	ErrUserInfo = errors.New("oauth userinfo request failed")
)

// GoogleConfig configures the provider. Endpoint and UserInfoURL default to
// Google's public endpoints.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	Endpoint    oauth2.Endpoint
	UserInfoURL string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// Google exchanges authorization codes for OpenID profiles.
type Google struct {
	oauth       *oauth2.Config
	userInfoURL string
	client      *http.Client
	timeout     time.Duration
}

// NewGoogle validates cfg and builds the provider.
func NewGoogle(cfg GoogleConfig) (*Google, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("google client id and secret required")
	}
	if strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, errors.New("google redirect url required")
	}
	if cfg.Endpoint.AuthURL == "" {
		cfg.Endpoint = endpoints.Google
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = defaultUserInfoURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Google{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     cfg.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfoURL: cfg.UserInfoURL,
		client:      cfg.HTTPClient,
		timeout:     cfg.Timeout,
	}, nil
}

// NewVerifier returns a fresh PKCE code verifier.
func NewVerifier() string {
	return oauth2.GenerateVerifier()
}

// AuthCodeURL is the consent page URL for state, bound to verifier with an
// S256 challenge.
func (g *Google) AuthCodeURL(state, verifier string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
}

type userInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Exchange trades code for a token and loads the caller's profile.
func (g *Google) Exchange(ctx context.Context, code, verifier string) (app.GoogleProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)

	token, err := g.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return app.GoogleProfile{}, fmt.Errorf("%w: %v", ErrExchange, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return app.GoogleProfile{}, fmt.Errorf("%w: %v", ErrUserInfo, err)
	}
	resp, err := g.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return app.GoogleProfile{}, fmt.Errorf("%w: %v", ErrUserInfo, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return app.GoogleProfile{}, fmt.Errorf("%w: status %d", ErrUserInfo, resp.StatusCode)
	}
	var info userInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return app.GoogleProfile{}, fmt.Errorf("%w: decode: %v", ErrUserInfo, err)
	}
	if info.Sub == "" {
		return app.GoogleProfile{}, fmt.Errorf("%w: missing subject", ErrUserInfo)
	}
	return app.GoogleProfile{
		Subject:       info.Sub,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Name:          info.Name,
		Picture:       info.Picture,
	}, nil
}
