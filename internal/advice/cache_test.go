package advice_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/manatap/triage/internal/advice"
	"github.com/manatap/triage/internal/store"
	"github.com/manatap/triage/pkg/models"
	"github.com/stretchr/testify/require"
)

const validAdvice = `{"action":"KEEP","reasons":["two lands and ramp"],"confidence":72,"suggestedLine":"Forest, Elves"}`

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// failingStore fails every call.
type failingStore struct{}

var errDown = errors.New("store down")

func (failingStore) GetAdvice(context.Context, string) (*models.AdviceCacheEntry, error) {
	return nil, errDown
}
func (failingStore) UpsertAdvice(context.Context, *models.AdviceCacheEntry) error { return errDown }
func (failingStore) PurgeExpiredAdvice(context.Context, time.Time) (int, error) {
	return 0, errDown
}

func newMemStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCache_PutThenGet(t *testing.T) {
	s := newMemStore(t)
	c, err := advice.NewCache(s, advice.CacheOptions{})
	require.NoError(t, err)
	ctx := context.Background()
	key := advice.Key(baseInput())

	_, ok := c.Get(ctx, key)
	require.False(t, ok)

	e, err := c.Put(ctx, key, json.RawMessage(validAdvice), "gpt-4o-mini")
	require.NoError(t, err)
	require.Equal(t, advice.DefaultTTL, e.ExpiresAt.Sub(e.CreatedAt))

	got, ok := c.Get(ctx, key)
	require.True(t, ok)
	require.Equal(t, "gpt-4o-mini", got.ModelUsed)
	require.JSONEq(t, validAdvice, string(got.ResponseJSON))
	require.Equal(t, int64(1), got.HitCount)
}

func TestCache_ExpiredIsMiss(t *testing.T) {
	s := newMemStore(t)
	clk := &clock{now: time.Now()}
	c, err := advice.NewCache(s, advice.CacheOptions{TTL: time.Hour, LocalSize: 8, Now: clk.Now})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Put(ctx, "k", json.RawMessage(validAdvice), "gpt-5")
	require.NoError(t, err)

	_, ok := c.Get(ctx, "k")
	require.True(t, ok)

	clk.Advance(time.Hour)
	_, ok = c.Get(ctx, "k")
	require.False(t, ok, "entry at its expiry should be a miss")
	require.Zero(t, c.Len())
}

func TestCache_LocalTierServesWithoutStore(t *testing.T) {
	s := newMemStore(t)
	c, err := advice.NewCache(s, advice.CacheOptions{LocalSize: 4})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Put(ctx, "k", json.RawMessage(validAdvice), "gpt-5")
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	for i := 0; i < 3; i++ {
		_, ok := c.Get(ctx, "k")
		require.True(t, ok)
	}
	row, err := s.GetAdvice(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, int64(1), row.HitCount, "local hits should not reach the store")
}

func TestCache_InvalidRowIsMiss(t *testing.T) {
	s := newMemStore(t)
	c, err := advice.NewCache(s, advice.CacheOptions{})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.UpsertAdvice(ctx, &models.AdviceCacheEntry{
		CacheKey:     "bad",
		ResponseJSON: json.RawMessage(`{"action":"MAYBE","reasons":[]}`),
		ExpiresAt:    time.Now().Add(time.Hour),
	}))
	_, ok := c.Get(ctx, "bad")
	require.False(t, ok)
}

func TestCache_StoreFailure(t *testing.T) {
	c, err := advice.NewCache(failingStore{}, advice.CacheOptions{LocalSize: 4})
	require.NoError(t, err)
	ctx := context.Background()

	_, ok := c.Get(ctx, "k")
	require.False(t, ok, "store error should read as a miss")

	e, err := c.Put(ctx, "k", json.RawMessage(validAdvice), "gpt-5")
	require.ErrorIs(t, err, errDown)
	require.NotNil(t, e)

	_, ok = c.Get(ctx, "k")
	require.True(t, ok, "local tier should still serve after a failed write")
}

func TestValidateResponse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"valid", validAdvice, true},
		{"minimal", `{"action":"MULLIGAN","reasons":["no lands"]}`, true},
		{"bad action", `{"action":"maybe","reasons":["x"]}`, false},
		{"no reasons", `{"action":"KEEP","reasons":[]}`, false},
		{"too many reasons", `{"action":"KEEP","reasons":["a","b","c","d","e","f"]}`, false},
		{"confidence range", `{"action":"KEEP","reasons":["a"],"confidence":101}`, false},
		{"depends on", `{"action":"KEEP","reasons":["a"],"dependsOn":["x","y","z"]}`, false},
		{"not json", `KEEP`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := advice.ValidateResponse([]byte(tt.raw))
			if (err == nil) != tt.ok {
				t.Errorf("ValidateResponse(%s) error = %v, want ok = %v", tt.raw, err, tt.ok)
			}
		})
	}
}

func TestSweeper_RunOnce(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertAdvice(ctx, &models.AdviceCacheEntry{CacheKey: "old", ExpiresAt: time.Now().Add(-time.Minute)}))
	require.NoError(t, s.UpsertAdvice(ctx, &models.AdviceCacheEntry{CacheKey: "new", ExpiresAt: time.Now().Add(time.Hour)}))

	w := advice.NewSweeper(s, 0)
	require.Equal(t, 1, w.RunOnce(ctx))
	require.Equal(t, 0, advice.NewSweeper(failingStore{}, time.Hour).RunOnce(ctx))
}

func TestSweeper_StartStops(t *testing.T) {
	s := newMemStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		advice.NewSweeper(s, time.Hour).Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}
