package store_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/manatap/triage/internal/store"
	"github.com/manatap/triage/pkg/models"
	"github.com/stretchr/testify/require"
)

// newPostgresStore connects to TRIAGE_TEST_DATABASE_URL or skips.
func newPostgresStore(t *testing.T) *store.PostgresStore {
	t.Helper()
	url := os.Getenv("TRIAGE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TRIAGE_TEST_DATABASE_URL not set")
	}
	s, err := store.ConnectPostgres(context.Background(), url, store.PostgresOptions{MaxConns: 4, ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgres_ConfigValues(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	key := "test_" + uuid.NewString()

	require.NoError(t, s.SetConfigValue(ctx, key, json.RawMessage(`{"llm_layer0":true}`)))
	require.NoError(t, s.SetConfigValue(ctx, key, json.RawMessage(`{"llm_layer0":false}`)))

	got, err := s.GetConfigValues(ctx, []string{key, "missing_" + uuid.NewString()})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.JSONEq(t, `{"llm_layer0":false}`, string(got[key]))
}

func TestPostgres_Advice(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	now := time.Now()

	live := &models.AdviceCacheEntry{
		CacheKey:     "test:" + uuid.NewString(),
		ResponseJSON: json.RawMessage(`{"action":"KEEP"}`),
		ModelUsed:    "gpt-4o-mini",
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Hour),
	}
	require.NoError(t, s.UpsertAdvice(ctx, live))

	got, err := s.GetAdvice(ctx, live.CacheKey)
	require.NoError(t, err)
	require.Equal(t, int64(1), got.HitCount)
	require.JSONEq(t, `{"action":"KEEP"}`, string(got.ResponseJSON))

	stale := &models.AdviceCacheEntry{
		CacheKey:     "test:" + uuid.NewString(),
		ResponseJSON: json.RawMessage(`{}`),
		ExpiresAt:    now.Add(-time.Minute),
	}
	require.NoError(t, s.UpsertAdvice(ctx, stale))

	got, err = s.GetAdvice(ctx, stale.CacheKey)
	require.NoError(t, err)
	require.Zero(t, got.HitCount)

	n, err := s.PurgeExpiredAdvice(ctx, now)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 1)

	_, err = s.GetAdvice(ctx, stale.CacheKey)
	require.ErrorIs(t, err, store.ErrNotFound)
}
