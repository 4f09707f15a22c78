package server

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"docsign/internal/util"
)

func TestLoginRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ts := newTestServer(t, func(cfg *Config) {
		cfg.Redis = client
		cfg.RateLimits = RateLimits{LoginPerMinute: 1}
	})
	body := map[string]string{"email": "u@example.com", "password": "wrong-password"}

	resp1 := ts.postJSON(t, "/api/auth/login", "", body)
	if resp1.StatusCode != http.StatusUnauthorized {
		t.Fatalf("first request expected 401, got %d", resp1.StatusCode)
	}
	resp2 := ts.postJSON(t, "/api/auth/login", "", body)
	expectError(t, resp2, http.StatusTooManyRequests, "RATE_LIMITED")
	if resp2.Header.Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", resp2.Header.Get("Retry-After"))
	}
	if len(mr.Keys()) == 0 {
		t.Fatalf("expected limiter state in redis")
	}
}

func TestRegisterRateLimitInProcess(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) {
		cfg.RateLimits = RateLimits{RegisterPerMinute: 2}
	})
	body := map[string]string{"email": "", "password": "", "name": ""}
	for i := 0; i < 2; i++ {
		resp := ts.postJSON(t, "/api/register", "", body)
		expectError(t, resp, http.StatusBadRequest, "VALIDATION_FAILED")
	}
	expectError(t, ts.postJSON(t, "/api/register", "", body), http.StatusTooManyRequests, "RATE_LIMITED")
}

func TestLoginRateLimitKeysOnForwardedClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	trusted, err := util.NewTrustedProxies([]string{"127.0.0.1", "::1"})
	if err != nil {
		t.Fatalf("trusted proxies: %v", err)
	}

	ts := newTestServer(t, func(cfg *Config) {
		cfg.Redis = client
		cfg.TrustedProxies = trusted
		cfg.RateLimits = RateLimits{LoginPerMinute: 1}
	})
	loginFrom := func(forwardedFor string) *http.Response {
		t.Helper()
		body := []byte(`{"email":"u@example.com","password":"wrong-password"}`)
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/auth/login", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", forwardedFor)
		resp, err := ts.Client().Do(req)
		if err != nil {
			t.Fatalf("login: %v", err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	if resp := loginFrom("203.0.113.9"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("first caller expected 401, got %d", resp.StatusCode)
	}
	expectError(t, loginFrom("198.51.100.1, 203.0.113.9"), http.StatusTooManyRequests, "RATE_LIMITED")
	if resp := loginFrom("203.0.113.10"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("second caller behind the same proxy expected 401, got %d", resp.StatusCode)
	}

	var keyed int
	for _, key := range mr.Keys() {
		if strings.Contains(key, "203.0.113.9") || strings.Contains(key, "203.0.113.10") {
			keyed++
		}
	}
	if keyed != 2 {
		t.Fatalf("expected one limiter key per forwarded client, got %v", mr.Keys())
	}
}
