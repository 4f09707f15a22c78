package util

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientIPForRateLimitKeys(t *testing.T) {
	// Load balancer subnet plus a single ingress pod, as in trustedProxyCidrs.
	trusted, err := NewTrustedProxies([]string{"10.20.0.0/16", " 172.16.5.4 ", ""})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}
	if trusted.Len() != 2 {
		t.Fatalf("expected 2 ranges, got %d", trusted.Len())
	}

	tests := []struct {
		name    string
		remote  string
		xff     string
		realIP  string
		trusted *TrustedProxies
		want    string
	}{
		{
			name:   "direct caller spoofing forwarded header",
			remote: "198.51.100.23:50211",
			xff:    "203.0.113.9",
			realIP: "203.0.113.10",
			want:   "198.51.100.23",
		},
		{
			name:    "untrusted peer with proxies configured",
			remote:  "198.51.100.23:50211",
			xff:     "203.0.113.9",
			trusted: trusted,
			want:    "198.51.100.23",
		},
		{
			name:    "login through the load balancer",
			remote:  "10.20.3.7:443",
			xff:     "203.0.113.9",
			trusted: trusted,
			want:    "203.0.113.9",
		},
		{
			name:    "client prepends a fake hop",
			remote:  "10.20.3.7:443",
			xff:     "1.1.1.1, 203.0.113.9, 172.16.5.4",
			trusted: trusted,
			want:    "203.0.113.9",
		},
		{
			name:    "mapped ipv6 peer shares the ipv4 bucket",
			remote:  "[::ffff:198.51.100.23]:50211",
			trusted: trusted,
			want:    "198.51.100.23",
		},
		{
			name:    "ipv6 caller behind proxy",
			remote:  "10.20.3.7:443",
			xff:     "2001:db8::42",
			trusted: trusted,
			want:    "2001:db8::42",
		},
		{
			name:    "x-real-ip when forwarded header is garbage",
			remote:  "172.16.5.4:8080",
			xff:     "unknown",
			realIP:  "203.0.113.77",
			trusted: trusted,
			want:    "203.0.113.77",
		},
		{
			name:    "only proxies in chain",
			remote:  "10.20.3.7:443",
			xff:     "10.20.9.9, 172.16.5.4",
			trusted: trusted,
			want:    "10.20.9.9",
		},
		{
			name:   "unparseable remote addr is passed through",
			remote: " pipe ",
			want:   "pipe",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClientIPIgnoresHopsBeyondLimit(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}
	hops := make([]string, 0, maxForwardedHops+4)
	hops = append(hops, "203.0.113.1", "203.0.113.2", "203.0.113.3", "203.0.113.4")
	for i := 0; i < maxForwardedHops; i++ {
		hops = append(hops, "10.0.0.9")
	}
	req := httptest.NewRequest(http.MethodPost, "/api/register", nil)
	req.RemoteAddr = "10.1.1.1:443"
	req.Header.Set("X-Forwarded-For", strings.Join(hops, ", "))

	if got := ClientIP(req, trusted); got != "10.0.0.9" {
		t.Fatalf("client ip = %q, want leftmost inspected hop", got)
	}
}

func TestNewTrustedProxiesRejectsBadEntries(t *testing.T) {
	for _, entry := range []string{"bad-cidr", "10.0.0.0/40", "300.1.1.1"} {
		if _, err := NewTrustedProxies([]string{entry}); err == nil {
			t.Fatalf("expected error for %q", entry)
		}
	}
	tp, err := NewTrustedProxies([]string{" ", ""})
	if err != nil || tp != nil {
		t.Fatalf("expected nil set for blank entries, got %v err=%v", tp, err)
	}
	if tp.Len() != 0 {
		t.Fatalf("nil set must report zero ranges")
	}
}
