// Package runtimecfg serves operational config (feature flags, budgets, model
// selection, thresholds) from the config store through a short-TTL cache.
//
// Environment overrides are applied after every load and can only force a
// flag off. A store that cannot be read never fails the caller: the cache
// falls back to models.DefaultRuntimeConfig.
package runtimecfg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/manatap/triage/internal/store"
	"github.com/manatap/triage/pkg/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a loaded config is served before the next refresh.
const DefaultTTL = 30 * time.Second

// DefaultLoadTimeout bounds one shared store read.
const DefaultLoadTimeout = 5 * time.Second

// EnvOverrides maps env variable names to the flag each one can force off.
var EnvOverrides = map[string]string{
	"LLM_LAYER0":           models.FlagLLMLayer0,
	"LLM_TWO_STAGE":        models.FlagLLMTwoStage,
	"LLM_STOP_SEQUENCES":   models.FlagLLMStopSequences,
	"LLM_DYNAMIC_CEILINGS": models.FlagDynamicCeilings,
	"LLM_V2_CONTEXT":       models.FlagLLMV2Context,
}

var (
	primaryKeys = []string{
		models.ConfigKeyFlags,
		models.ConfigKeyLLMBudget,
		models.ConfigKeyLLMModels,
		models.ConfigKeyLLMThresholds,
	}
	routeKeys = []string{
		models.ConfigKeyForceFullRoutes,
		models.ConfigKeyMinTokensPerRoute,
	}
)

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the refresh window. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLoadTimeout bounds each store read. Non-positive values are ignored.
func WithLoadTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.loadTimeout = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLookupEnv injects the environment lookup used for overrides.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(c *Cache) { c.lookupEnv = fn }
}

// Cache memoizes the runtime config for one TTL window.
type Cache struct {
	store       store.ConfigStore
	ttl         time.Duration
	loadTimeout time.Duration
	now         func() time.Time
	lookupEnv   func(string) (string, bool)

	mu        sync.RWMutex
	value     *models.RuntimeConfig
	fetchedAt time.Time

	group singleflight.Group
}

// New creates a cache over the given config store.
func New(s store.ConfigStore, opts ...Option) *Cache {
	c := &Cache{
		store:       s,
		ttl:         DefaultTTL,
		loadTimeout: DefaultLoadTimeout,
		now:         time.Now,
		lookupEnv:   os.LookupEnv,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// TTL returns the configured refresh window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the current runtime config, refreshing it when the cached value
// is older than the TTL. The returned value is shared and must not be mutated.
//
// The refresh is shared by every concurrent caller, so it runs detached from
// the caller's cancellation under its own timeout. When that timeout cuts a
// load short the previous value, if any, is served for another TTL.
func (c *Cache) Get(ctx context.Context) *models.RuntimeConfig {
	c.mu.RLock()
	v, at := c.value, c.fetchedAt
	c.mu.RUnlock()
	if v != nil && c.now().Sub(at) < c.ttl {
		return v
	}

	res, _, _ := c.group.Do("runtime-config", func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()

		cfg, err := c.load(loadCtx)
		c.mu.Lock()
		defer c.mu.Unlock()
		if isContextErr(err) && c.value != nil {
			c.fetchedAt = c.now()
			return c.value, nil
		}
		c.value, c.fetchedAt = cfg, cfg.FetchedAt
		return cfg, nil
	})
	return res.(*models.RuntimeConfig)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Refresh drops the cached value and loads a fresh one.
func (c *Cache) Refresh(ctx context.Context) *models.RuntimeConfig {
	c.Invalidate()
	return c.Get(ctx)
}

// Invalidate drops the cached value; the next Get reloads from the store.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.value, c.fetchedAt = nil, time.Time{}
	c.mu.Unlock()
}

// Snapshot returns the cached value and its age without refreshing. ok is
// false when nothing has been loaded yet.
func (c *Cache) Snapshot() (cfg *models.RuntimeConfig, age time.Duration, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.value == nil {
		return nil, 0, false
	}
	return c.value, c.now().Sub(c.fetchedAt), true
}

// ── Loading ─────────────────────────────────────────────────

// load reads both batches and returns the resulting config. The returned
// error is the store error the defaults were substituted for, if any.
func (c *Cache) load(ctx context.Context) (*models.RuntimeConfig, error) {
	var primary, routes map[string]json.RawMessage

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		primary, err = c.store.GetConfigValues(gctx, primaryKeys)
		return err
	})
	g.Go(func() error {
		var err error
		routes, err = c.store.GetConfigValues(gctx, routeKeys)
		return err
	})

	cfg := models.DefaultRuntimeConfig()
	err := g.Wait()
	if err != nil {
		log.Warn().Err(err).Strs("keys", Keys()).
			Msg("Runtime config store read failed, using defaults")
	} else {
		cfg.Source = "store"
		apply(cfg, primary)
		apply(cfg, routes)
	}

	cfg.EnvOverrides = c.applyEnv(cfg.Flags)
	cfg.FetchedAt = c.now()
	return cfg, err
}

// Keys lists every config store key the cache reads.
func Keys() []string {
	return append(append([]string{}, primaryKeys...), routeKeys...)
}

// ValidateSection reports whether raw decodes as the section stored under key.
func ValidateSection(key string, raw json.RawMessage) error {
	return decodeSection(models.DefaultRuntimeConfig(), key, raw)
}

// apply decodes each stored section over the defaults. A malformed section is
// logged and leaves its defaults in place.
func apply(cfg *models.RuntimeConfig, rows map[string]json.RawMessage) {
	for key, raw := range rows {
		if err := decodeSection(cfg, key, raw); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Malformed runtime config section, keeping defaults")
		}
	}
}

func decodeSection(cfg *models.RuntimeConfig, key string, raw json.RawMessage) error {
	switch key {
	case models.ConfigKeyFlags:
		var flags map[string]bool
		if err := json.Unmarshal(raw, &flags); err != nil {
			return err
		}
		for k, v := range flags {
			cfg.Flags[k] = v
		}
	case models.ConfigKeyLLMBudget:
		b := cfg.LLMBudget
		if err := json.Unmarshal(raw, &b); err != nil {
			return err
		}
		cfg.LLMBudget = b
	case models.ConfigKeyLLMModels:
		m := cfg.LLMModels
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		if m.ByRoute == nil {
			m.ByRoute = map[string]string{}
		}
		cfg.LLMModels = m
	case models.ConfigKeyLLMThresholds:
		t := cfg.LLMThresholds
		if err := json.Unmarshal(raw, &t); err != nil {
			return err
		}
		cfg.LLMThresholds = t
	case models.ConfigKeyForceFullRoutes:
		var routes []string
		if err := json.Unmarshal(raw, &routes); err != nil {
			return err
		}
		cfg.ForceFullRoutes = routes
	case models.ConfigKeyMinTokensPerRoute:
		var floors map[string]int
		if err := json.Unmarshal(raw, &floors); err != nil {
			return err
		}
		cfg.MinTokensPerRoute = floors
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

// applyEnv forces flags off for every override variable that is set to
// anything other than "on". It returns the flags it forced off.
func (c *Cache) applyEnv(flags models.Flags) []string {
	var forced []string
	for env, flag := range EnvOverrides {
		v, ok := c.lookupEnv(env)
		v = strings.TrimSpace(v)
		if !ok || v == "" || strings.EqualFold(v, "on") {
			continue
		}
		flags[flag] = false
		forced = append(forced, flag)
	}
	sort.Strings(forced)
	return forced
}
