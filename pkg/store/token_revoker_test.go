package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryTokenRevoker(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryTokenRevoker()
	if err := r.Revoke(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := r.Revoke(ctx, "jti-expired", -time.Second); err != nil {
		t.Fatalf("revoke expired: %v", err)
	}
	if revoked, _ := r.IsRevoked(ctx, "jti-1"); !revoked {
		t.Fatalf("expected jti-1 revoked")
	}
	if revoked, _ := r.IsRevoked(ctx, "jti-expired"); revoked {
		t.Fatalf("non-positive ttl should be ignored")
	}
	if revoked, _ := r.IsRevoked(ctx, "jti-2"); revoked {
		t.Fatalf("unexpected revoked jti-2")
	}
}

func TestRedisTokenRevoker(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	r := NewRedisTokenRevoker(client, "test:revoked:")

	if err := r.Revoke(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if !srv.Exists("test:revoked:jti-1") {
		t.Fatalf("expected revocation key")
	}
	if revoked, err := r.IsRevoked(ctx, "jti-1"); err != nil || !revoked {
		t.Fatalf("expected revoked, got %v %v", revoked, err)
	}
	srv.FastForward(2 * time.Minute)
	if revoked, err := r.IsRevoked(ctx, "jti-1"); err != nil || revoked {
		t.Fatalf("expected revocation to expire, got %v %v", revoked, err)
	}
}

func TestRedisTokenRevokerSharedAcrossSessionStores(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	a := newTestSessionStore(t, "active", NewRedisTokenRevoker(client, ""), JWTOptions{})
	b := newTestSessionStore(t, "active", NewRedisTokenRevoker(client, ""), JWTOptions{})
	session, err := a.NewSession(ctx, "user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := a.DeleteSession(ctx, session.Token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, err := b.GetUserIDByToken(ctx, session.Token); err == nil || ok {
		t.Fatalf("logout on one instance must apply to others, ok=%v err=%v", ok, err)
	}
}
