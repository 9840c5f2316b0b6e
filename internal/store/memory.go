// In-memory Store implementation.
// Used when PostgreSQL is not configured (local dev, tests).
// Config rows can be snapshotted to disk so operator flags survive restarts;
// advice rows are never persisted.

package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/manatap/triage/pkg/models"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Config map[string]json.RawMessage `json:"config"`
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu     sync.RWMutex
	config map[string]json.RawMessage          // key: config key
	advice map[string]*models.AdviceCacheEntry // key: cache key

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
	closeOnce    sync.Once
}

// NewMemoryStore creates a new in-memory store. When dataDir is non-empty the
// config rows are persisted to dataDir/config.json.
func NewMemoryStore(dataDir string) *MemoryStore {
	m := &MemoryStore{
		config: make(map[string]json.RawMessage),
		advice: make(map[string]*models.AdviceCacheEntry),
		saveCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}

	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
		} else {
			m.snapshotPath = filepath.Join(dataDir, "config.json")
			m.loadSnapshot()
			go m.saveLoop()
		}
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// ── Config ──────────────────────────────────────────────────

func (m *MemoryStore) GetConfigValues(_ context.Context, keys []string) (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := m.config[k]; ok {
			out[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out, nil
}

func (m *MemoryStore) SetConfigValue(_ context.Context, key string, value json.RawMessage) error {
	m.mu.Lock()
	m.config[key] = append(json.RawMessage(nil), value...)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Advice ──────────────────────────────────────────────────

func (m *MemoryStore) GetAdvice(_ context.Context, key string) (*models.AdviceCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.advice[key]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Live(time.Now()) {
		e.HitCount++
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) UpsertAdvice(_ context.Context, entry *models.AdviceCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	if existing, ok := m.advice[entry.CacheKey]; ok && cp.CreatedAt.IsZero() {
		cp.CreatedAt = existing.CreatedAt
	}
	m.advice[entry.CacheKey] = &cp
	return nil
}

func (m *MemoryStore) PurgeExpiredAdvice(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int
	for k, e := range m.advice {
		if !e.ExpiresAt.After(now) {
			delete(m.advice, k)
			purged++
		}
	}
	return purged, nil
}

// ── Lifecycle ───────────────────────────────────────────────

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops the background save loop and flushes a final snapshot.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.doneCh)
		if m.snapshotPath != "" {
			m.saveSnapshot()
		}
	})
	return nil
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// saveLoop debounces save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond)
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	data, err := json.MarshalIndent(snapshot{Config: m.config}, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}
	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		}
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}
	for k, v := range snap.Config {
		m.config[k] = v
	}
	log.Info().Int("keys", len(snap.Config)).Str("path", m.snapshotPath).Msg("Config snapshot loaded")
}
