package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/manatap/triage/internal/store"
	"github.com/manatap/triage/pkg/models"
)

// newTestStore creates a fresh in-memory store for tests with no persistence.
func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	return s
}

// ─── Config ──────────────────────────────────────────────────

func TestConfigValues_Batch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetConfigValue(ctx, "flags", json.RawMessage(`{"llm_layer0":true}`)); err != nil {
		t.Fatalf("SetConfigValue() error = %v", err)
	}
	if err := s.SetConfigValue(ctx, "llm_models", json.RawMessage(`{"default":"gpt-5"}`)); err != nil {
		t.Fatalf("SetConfigValue() error = %v", err)
	}

	got, err := s.GetConfigValues(ctx, []string{"flags", "llm_models", "llm_budget"})
	if err != nil {
		t.Fatalf("GetConfigValues() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetConfigValues() returned %d keys, want 2", len(got))
	}
	if string(got["flags"]) != `{"llm_layer0":true}` {
		t.Errorf("GetConfigValues()[flags] = %s", got["flags"])
	}
	if _, ok := got["llm_budget"]; ok {
		t.Error("missing key should be absent from result")
	}
}

func TestConfigValues_Overwrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.SetConfigValue(ctx, "flags", json.RawMessage(`{"a":true}`))
	_ = s.SetConfigValue(ctx, "flags", json.RawMessage(`{"a":false}`))

	got, _ := s.GetConfigValues(ctx, []string{"flags"})
	if string(got["flags"]) != `{"a":false}` {
		t.Errorf("GetConfigValues()[flags] = %s, want overwritten value", got["flags"])
	}
}

func TestSnapshot_PersistsConfig(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := store.NewMemoryStore(dir)
	if err := s.SetConfigValue(ctx, "llm_force_full_routes", json.RawMessage(`["deck_analyze"]`)); err != nil {
		t.Fatalf("SetConfigValue() error = %v", err)
	}
	if err := s.UpsertAdvice(ctx, &models.AdviceCacheEntry{CacheKey: "k", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("UpsertAdvice() error = %v", err)
	}
	s.Close()

	reopened := store.NewMemoryStore(dir)
	defer reopened.Close()

	got, _ := reopened.GetConfigValues(ctx, []string{"llm_force_full_routes"})
	if string(got["llm_force_full_routes"]) != `["deck_analyze"]` {
		t.Errorf("reloaded config = %s", got["llm_force_full_routes"])
	}
	if _, err := reopened.GetAdvice(ctx, "k"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("advice rows should not be persisted, GetAdvice() error = %v", err)
	}
}

// ─── Advice ──────────────────────────────────────────────────

func TestAdvice_UpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	entry := &models.AdviceCacheEntry{
		CacheKey:     "mulligan:v1:a:b:play:0:mini:commander",
		ResponseJSON: json.RawMessage(`{"action":"KEEP"}`),
		ModelUsed:    "gpt-4o-mini",
		CreatedAt:    now,
		ExpiresAt:    now.Add(24 * time.Hour),
	}
	if err := s.UpsertAdvice(ctx, entry); err != nil {
		t.Fatalf("UpsertAdvice() error = %v", err)
	}

	got, err := s.GetAdvice(ctx, entry.CacheKey)
	if err != nil {
		t.Fatalf("GetAdvice() error = %v", err)
	}
	if got.ModelUsed != "gpt-4o-mini" {
		t.Errorf("GetAdvice().ModelUsed = %q", got.ModelUsed)
	}
	if got.HitCount != 1 {
		t.Errorf("GetAdvice().HitCount = %d, want 1", got.HitCount)
	}

	got, _ = s.GetAdvice(ctx, entry.CacheKey)
	if got.HitCount != 2 {
		t.Errorf("second GetAdvice().HitCount = %d, want 2", got.HitCount)
	}
}

func TestAdvice_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetAdvice(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetAdvice() error = %v, want ErrNotFound", err)
	}
}

func TestAdvice_ExpiredNotCounted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.UpsertAdvice(ctx, &models.AdviceCacheEntry{CacheKey: "old", ExpiresAt: time.Now().Add(-time.Minute)})

	got, err := s.GetAdvice(ctx, "old")
	if err != nil {
		t.Fatalf("GetAdvice() error = %v", err)
	}
	if got.HitCount != 0 {
		t.Errorf("expired row HitCount = %d, want 0", got.HitCount)
	}
	if got.Live(time.Now()) {
		t.Error("expired row reported live")
	}
}

func TestPurgeExpiredAdvice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = s.UpsertAdvice(ctx, &models.AdviceCacheEntry{CacheKey: "expired", ExpiresAt: now.Add(-time.Second)})
	_ = s.UpsertAdvice(ctx, &models.AdviceCacheEntry{CacheKey: "boundary", ExpiresAt: now})
	_ = s.UpsertAdvice(ctx, &models.AdviceCacheEntry{CacheKey: "live", ExpiresAt: now.Add(time.Hour)})

	n, err := s.PurgeExpiredAdvice(ctx, now)
	if err != nil {
		t.Fatalf("PurgeExpiredAdvice() error = %v", err)
	}
	if n != 2 {
		t.Errorf("PurgeExpiredAdvice() = %d, want 2", n)
	}
	if _, err := s.GetAdvice(ctx, "live"); err != nil {
		t.Errorf("live row purged: %v", err)
	}
}

func TestComposite_RoutesAdvice(t *testing.T) {
	primary := newTestStore(t)
	advice := newTestStore(t)
	c := store.NewComposite(primary, advice)
	ctx := context.Background()

	_ = c.SetConfigValue(ctx, "flags", json.RawMessage(`{}`))
	_ = c.UpsertAdvice(ctx, &models.AdviceCacheEntry{CacheKey: "k", ExpiresAt: time.Now().Add(time.Hour)})

	if _, err := primary.GetAdvice(ctx, "k"); !errors.Is(err, store.ErrNotFound) {
		t.Error("advice row landed in primary store")
	}
	if _, err := advice.GetAdvice(ctx, "k"); err != nil {
		t.Errorf("advice store GetAdvice() error = %v", err)
	}
	got, _ := primary.GetConfigValues(ctx, []string{"flags"})
	if _, ok := got["flags"]; !ok {
		t.Error("config row missing from primary store")
	}
	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
