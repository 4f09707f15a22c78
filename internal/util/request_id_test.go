package util

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveWithRequestID(t *testing.T, inbound string) (header, seen string) {
	t.Helper()
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromRequest(r)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/sign", nil)
	if inbound != "" {
		req.Header.Set(RequestIDHeader, inbound)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Header().Get(RequestIDHeader), seen
}

func TestWithRequestIDKeepsWellFormedInboundID(t *testing.T) {
	for _, inbound := range []string{"edge-7f3a9c", "trace:01HZX.2_b", strings.Repeat("a", maxRequestIDLen)} {
		header, seen := serveWithRequestID(t, inbound)
		if header != inbound || seen != inbound {
			t.Fatalf("inbound %q: header=%q context=%q", inbound, header, seen)
		}
	}
}

func TestWithRequestIDReplacesUnsafeInboundID(t *testing.T) {
	for _, inbound := range []string{
		`"},"success":true`,
		"id with spaces",
		strings.Repeat("b", maxRequestIDLen+1),
		"naïve",
	} {
		header, seen := serveWithRequestID(t, inbound)
		if header == inbound || header == "" {
			t.Fatalf("inbound %q should have been replaced, got %q", inbound, header)
		}
		if seen != header {
			t.Fatalf("context id %q differs from header %q", seen, header)
		}
	}
}

func TestWithRequestIDGeneratesWhenMissing(t *testing.T) {
	header, seen := serveWithRequestID(t, "")
	if len(header) != 24 || seen != header {
		t.Fatalf("expected a generated 24-char id, header=%q context=%q", header, seen)
	}
}

func TestRequestIDFromRequestWithoutMiddleware(t *testing.T) {
	if got := RequestIDFromRequest(nil); got != "" {
		t.Fatalf("nil request: got %q", got)
	}
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	if got := RequestIDFromRequest(req); got != "" {
		t.Fatalf("bare request: got %q", got)
	}
}
