package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/manatap/triage/pkg/models"
	"github.com/rs/zerolog/log"
)

// PostgresOptions tunes the connection pool and the startup retry window.
type PostgresOptions struct {
	MaxConns       int32
	ConnectTimeout time.Duration // total time spent retrying the first connection
}

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// ConnectPostgres opens a pool, retrying with exponential backoff until the
// database answers a ping or ConnectTimeout elapses, then runs migrations.
func ConnectPostgres(ctx context.Context, url string, opts PostgresOptions) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("postgres parse url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	var pool *pgxpool.Pool
	op := func() error {
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			log.Warn().Err(err).Msg("PostgreSQL not reachable yet, retrying")
			return err
		}
		pool = p
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 250 * time.Millisecond
	expo.MaxInterval = 5 * time.Second
	expo.MaxElapsedTime = opts.ConnectTimeout
	if expo.MaxElapsedTime <= 0 {
		expo.MaxElapsedTime = 30 * time.Second
	}
	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Int32("max_conns", cfg.MaxConns).Msg("PostgreSQL store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS app_config (
			key        TEXT PRIMARY KEY,
			value      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS mulligan_advice_cache (
			cache_key     TEXT PRIMARY KEY,
			response_json JSONB NOT NULL,
			model_used    TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at    TIMESTAMPTZ NOT NULL,
			hit_count     BIGINT NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_mulligan_advice_expires ON mulligan_advice_cache (expires_at);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// ── Config ──────────────────────────────────────────────────

func (s *PostgresStore) GetConfigValues(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT key, value FROM app_config WHERE key = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("get config values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan config value: %w", err)
		}
		out[key] = json.RawMessage(value)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetConfigValue(ctx context.Context, key string, value json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO app_config (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, []byte(value))
	if err != nil {
		return fmt.Errorf("set config value %s: %w", key, err)
	}
	return nil
}

// ── Advice ──────────────────────────────────────────────────

func (s *PostgresStore) GetAdvice(ctx context.Context, key string) (*models.AdviceCacheEntry, error) {
	// Live rows are counted and returned in one statement; an expired row is
	// still returned so the caller can tell stale from missing.
	row := s.pool.QueryRow(ctx, `
		WITH hit AS (
			UPDATE mulligan_advice_cache SET hit_count = hit_count + 1
			WHERE cache_key = $1 AND expires_at > NOW()
			RETURNING cache_key, response_json, model_used, created_at, expires_at, hit_count
		)
		SELECT * FROM hit
		UNION ALL
		SELECT cache_key, response_json, model_used, created_at, expires_at, hit_count
		FROM mulligan_advice_cache
		WHERE cache_key = $1 AND NOT EXISTS (SELECT 1 FROM hit)`, key)

	var (
		e    models.AdviceCacheEntry
		resp []byte
	)
	err := row.Scan(&e.CacheKey, &resp, &e.ModelUsed, &e.CreatedAt, &e.ExpiresAt, &e.HitCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get advice: %w", err)
	}
	e.ResponseJSON = json.RawMessage(resp)
	return &e, nil
}

func (s *PostgresStore) UpsertAdvice(ctx context.Context, entry *models.AdviceCacheEntry) error {
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mulligan_advice_cache (cache_key, response_json, model_used, created_at, expires_at, hit_count)
		VALUES ($1, $2, $3, $4, $5, 0)
		ON CONFLICT (cache_key) DO UPDATE SET
			response_json = EXCLUDED.response_json,
			model_used = EXCLUDED.model_used,
			expires_at = EXCLUDED.expires_at`,
		entry.CacheKey, []byte(entry.ResponseJSON), entry.ModelUsed, created, entry.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert advice: %w", err)
	}
	return nil
}

func (s *PostgresStore) PurgeExpiredAdvice(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM mulligan_advice_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge advice: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ── Lifecycle ───────────────────────────────────────────────

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
