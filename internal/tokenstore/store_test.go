package tokenstore

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/claude-oauth-broker/broker/internal/crypto"
)

func newTestStore(t *testing.T) (*Store, *crypto.Envelope) {
	t.Helper()
	env, err := crypto.GenerateEnvelope()
	if err != nil {
		t.Fatalf("GenerateEnvelope: %v", err)
	}
	path := filepath.Join(t.TempDir(), "tokens.db")
	s, err := Open(context.Background(), path, env, 100)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, env
}

func TestStoreUpsertGetRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	rec := &TokenRecord{
		UserID:       "alice",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
		Scopes:       []string{"org:read"},
		CreatedAt:    time.Now(),
		LastUsedAt:   time.Now(),
	}
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AccessToken != "access-1" || got.RefreshToken != "refresh-1" {
		t.Fatalf("got %+v", got)
	}
}

func TestStoreGetMissingReturnsErrNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Get(context.Background(), "nobody"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreDeleteRemovesFromBothTiers(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	rec := &TokenRecord{UserID: "bob", AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)}
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Delete(ctx, "bob"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "bob"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStoreRotateReencryptsUnderNewEnvelope(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	rec := &TokenRecord{UserID: "carol", AccessToken: "secret-access", RefreshToken: "secret-refresh", ExpiresAt: time.Now().Add(time.Hour)}
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	newEnv, err := crypto.GenerateEnvelope()
	if err != nil {
		t.Fatalf("GenerateEnvelope: %v", err)
	}
	if err := s.Rotate(ctx, newEnv); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	got, err := s.Get(ctx, "carol")
	if err != nil {
		t.Fatalf("Get after rotate: %v", err)
	}
	if got.AccessToken != "secret-access" {
		t.Fatalf("got %+v", got)
	}
}

func TestStoreBackupRestoreRoundTrip(t *testing.T) {
	s, env := newTestStore(t)
	ctx := context.Background()
	rec := &TokenRecord{UserID: "dave", AccessToken: "backed-up", ExpiresAt: time.Now().Add(time.Hour)}
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	var buf bytes.Buffer
	if err := s.Backup(ctx, &buf); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	restored, err := Open(context.Background(), filepath.Join(t.TempDir(), "restored.db"), env, 10)
	if err != nil {
		t.Fatalf("Open restored: %v", err)
	}
	defer restored.Close()

	if err := restored.Restore(ctx, &buf); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, err := restored.Get(ctx, "dave")
	if err != nil {
		t.Fatalf("Get after restore: %v", err)
	}
	if got.AccessToken != "backed-up" {
		t.Fatalf("got %+v", got)
	}
}

func TestStoreCleanupRemovesStaleRows(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	old := &TokenRecord{
		UserID:      "stale",
		AccessToken: "a",
		ExpiresAt:   time.Now().Add(time.Hour),
		CreatedAt:   time.Now().Add(-48 * time.Hour),
		LastUsedAt:  time.Now().Add(-48 * time.Hour),
	}
	if err := s.Upsert(ctx, old); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	n, err := s.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row removed, got %d", n)
	}
	if _, err := s.Get(ctx, "stale"); err != ErrNotFound {
		t.Fatalf("expected stale row gone, got %v", err)
	}
}

func TestLoadEnvFallbackAllOrNothing(t *testing.T) {
	t.Setenv("CLAUDE_ACCESS_TOKEN", "")
	t.Setenv("CLAUDE_REFRESH_TOKEN", "")
	t.Setenv("CLAUDE_EXPIRES_AT", "")

	fb, err := LoadEnvFallback()
	if err != nil || fb != nil {
		t.Fatalf("expected nil, nil when unset; got %+v, %v", fb, err)
	}

	t.Setenv("CLAUDE_ACCESS_TOKEN", "tok")
	if _, err := LoadEnvFallback(); err == nil {
		t.Fatal("expected error for partial tuple")
	}

	t.Setenv("CLAUDE_REFRESH_TOKEN", "refresh")
	t.Setenv("CLAUDE_EXPIRES_AT", "1700000000")
	fb, err = LoadEnvFallback()
	if err != nil {
		t.Fatalf("LoadEnvFallback: %v", err)
	}
	if fb.UserID != DefaultBootstrapUserID || fb.AccessToken != "tok" {
		t.Fatalf("got %+v", fb)
	}
}
