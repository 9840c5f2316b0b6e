// Package store provides the storage interfaces and implementations backing
// the triage core: the operational config rows and the advice cache rows.
//
// Handler and core code depend on these interfaces only, so in-memory (tests,
// local dev), PostgreSQL and Redis backends are interchangeable.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/manatap/triage/pkg/models"
)

// ErrNotFound is returned when a row does not exist (or has expired).
var ErrNotFound = errors.New("not found")

// Store is the primary storage interface.
type Store interface {
	ConfigStore
	AdviceStore

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Config Store ────────────────────────────────────────────

// ConfigStore holds operational config rows keyed by name.
type ConfigStore interface {
	// GetConfigValues reads keys in one batch. Missing keys are absent from
	// the result map; that is not an error.
	GetConfigValues(ctx context.Context, keys []string) (map[string]json.RawMessage, error)
	SetConfigValue(ctx context.Context, key string, value json.RawMessage) error
}

// ── Advice Store ────────────────────────────────────────────

// AdviceStore persists advice cache rows. Implementations provide per-key
// atomic upserts.
type AdviceStore interface {
	// GetAdvice returns the row for key and increments its hit count when the
	// row is live. Missing rows return ErrNotFound; expired rows may still be
	// returned and are filtered by the caller.
	GetAdvice(ctx context.Context, key string) (*models.AdviceCacheEntry, error)
	UpsertAdvice(ctx context.Context, entry *models.AdviceCacheEntry) error
	// PurgeExpiredAdvice deletes rows whose expiry is at or before now.
	PurgeExpiredAdvice(ctx context.Context, now time.Time) (int, error)
}

// ── Composite ───────────────────────────────────────────────

// Composite serves config rows from one store and advice rows from another,
// e.g. PostgreSQL for config and Redis for advice.
type Composite struct {
	ConfigStore
	AdviceStore

	closers []func() error
	pingers []func(context.Context) error
}

// NewComposite combines a primary store with a separate advice store.
func NewComposite(primary Store, advice AdviceStore) *Composite {
	c := &Composite{
		ConfigStore: primary,
		AdviceStore: advice,
		closers:     []func() error{primary.Close},
		pingers:     []func(context.Context) error{primary.Ping},
	}
	if r, ok := advice.(*RedisAdviceStore); ok {
		c.closers = append(c.closers, r.Close)
		c.pingers = append(c.pingers, r.Ping)
	}
	return c
}

func (c *Composite) Ping(ctx context.Context) error {
	for _, p := range c.pingers {
		if err := p(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Composite) Close() error {
	var errs []error
	for _, fn := range c.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
