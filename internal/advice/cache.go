package advice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/manatap/triage/internal/store"
	"github.com/manatap/triage/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultTTL is how long advice rows stay valid.
const DefaultTTL = 24 * time.Hour

// CacheOptions configures a Cache.
type CacheOptions struct {
	TTL       time.Duration    // 0 = DefaultTTL
	LocalSize int              // in-process LRU entries; 0 disables the local tier
	Now       func() time.Time // nil = time.Now
}

// Cache serves advice rows from an in-process LRU backed by an AdviceStore.
// Local hits do not touch the store, so hit counts reflect store reads only.
type Cache struct {
	store store.AdviceStore
	local *lru.Cache[string, *models.AdviceCacheEntry]
	ttl   time.Duration
	now   func() time.Time
}

// NewCache creates an advice cache over s.
func NewCache(s store.AdviceStore, opts CacheOptions) (*Cache, error) {
	c := &Cache{store: s, ttl: opts.TTL, now: opts.Now}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.now == nil {
		c.now = time.Now
	}
	if opts.LocalSize > 0 {
		local, err := lru.New[string, *models.AdviceCacheEntry](opts.LocalSize)
		if err != nil {
			return nil, fmt.Errorf("advice local cache: %w", err)
		}
		c.local = local
	}
	return c, nil
}

// TTL returns the row lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the live entry for key. Expired rows, rows that fail the
// response schema and store errors all read as a miss.
func (c *Cache) Get(ctx context.Context, key string) (*models.AdviceCacheEntry, bool) {
	now := c.now()

	if c.local != nil {
		if e, ok := c.local.Get(key); ok {
			if e.Live(now) {
				return e, true
			}
			c.local.Remove(key)
		}
	}

	e, err := c.store.GetAdvice(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn().Err(err).Str("key", key).Msg("Advice cache read failed, treating as miss")
		}
		return nil, false
	}
	if !e.Live(now) {
		return nil, false
	}
	if err := ValidateResponse(e.ResponseJSON); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cached advice fails schema, treating as miss")
		return nil, false
	}

	if c.local != nil {
		c.local.Add(key, e)
	}
	return e, true
}

// Put stores response under key with a fresh TTL. A store failure is logged
// and returned; the entry is still kept in the local tier so the caller can
// carry on.
func (c *Cache) Put(ctx context.Context, key string, response json.RawMessage, modelUsed string) (*models.AdviceCacheEntry, error) {
	now := c.now()
	e := &models.AdviceCacheEntry{
		CacheKey:     key,
		ResponseJSON: append(json.RawMessage(nil), response...),
		ModelUsed:    modelUsed,
		CreatedAt:    now,
		ExpiresAt:    now.Add(c.ttl),
	}

	if c.local != nil {
		c.local.Add(key, e)
	}
	if err := c.store.UpsertAdvice(ctx, e); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Advice cache write failed")
		return e, fmt.Errorf("advice put: %w", err)
	}
	return e, nil
}

// Len returns the number of entries in the local tier.
func (c *Cache) Len() int {
	if c.local == nil {
		return 0
	}
	return c.local.Len()
}
