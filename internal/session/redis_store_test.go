package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"inkwell/api/internal/store"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	redisStore, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return redisStore, s
}

func testSession(tokenHash string, email string) store.RefreshSession {
	return store.RefreshSession{
		TokenHash: tokenHash,
		Subject:   "user_" + email,
		Email:     email,
		Name:      "Test User",
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	redisStore, s := setupTestRedis(t)
	defer redisStore.Close()
	defer s.Close()

	ctx := context.Background()
	if err := redisStore.SaveRefreshSession(ctx, testSession("hash-1", "a@x.com")); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	session, err := redisStore.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if session.Email != "a@x.com" {
		t.Errorf("email = %q, want a@x.com", session.Email)
	}
	if session.Subject != "user_a@x.com" {
		t.Errorf("subject = %q, want user_a@x.com", session.Subject)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	redisStore, s := setupTestRedis(t)
	defer redisStore.Close()
	defer s.Close()

	ctx := context.Background()
	session := testSession("expired", "a@x.com")
	session.ExpiresAt = time.Now().Add(500 * time.Millisecond)
	if err := redisStore.SaveRefreshSession(ctx, session); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	s.FastForward(time.Second)

	if _, err := redisStore.LookupRefreshSession(ctx, "expired"); err == nil {
		t.Error("expected error for expired token, got nil")
	}
}

func TestLookupNonExistentSession(t *testing.T) {
	redisStore, s := setupTestRedis(t)
	defer redisStore.Close()
	defer s.Close()

	if _, err := redisStore.LookupRefreshSession(context.Background(), "missing"); err == nil {
		t.Error("expected error for non-existent token, got nil")
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	redisStore, s := setupTestRedis(t)
	defer redisStore.Close()
	defer s.Close()

	ctx := context.Background()
	if err := redisStore.SaveRefreshSession(ctx, testSession("hash-2", "b@y.com")); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	if err := redisStore.RevokeRefreshSession(ctx, "hash-2"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}

	if _, err := redisStore.LookupRefreshSession(ctx, "hash-2"); err == nil {
		t.Error("expected error for revoked token, got nil")
	}

	// Revoking again is not an error.
	if err := redisStore.RevokeRefreshSession(ctx, "hash-2"); err != nil {
		t.Errorf("second revoke failed: %v", err)
	}
}
