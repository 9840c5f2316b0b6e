// Package handlers implements the HTTP handlers for the triage service.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/manatap/triage/internal/api/middleware"
	"github.com/manatap/triage/internal/capability"
	"github.com/manatap/triage/internal/classifier"
	"github.com/manatap/triage/internal/openaiparams"
	"github.com/manatap/triage/internal/router"
	"github.com/manatap/triage/internal/runtimecfg"
	"github.com/manatap/triage/internal/store"
	"github.com/manatap/triage/pkg/models"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

// healthFlags are reported by the health endpoint.
var healthFlags = []string{
	models.FlagLLMLayer0,
	models.FlagLLMTwoStage,
	models.FlagLLMStopSequences,
	models.FlagDynamicCeilings,
	models.FlagLLMV2Context,
	models.FlagForceMiniOnly,
	models.FlagDisableStream,
}

// Handlers holds all handler dependencies.
type Handlers struct {
	Store        store.Store
	Router       *router.Router
	Config       *runtimecfg.Cache
	Capabilities *capability.Registry
}

// New creates a new Handlers instance with all dependencies.
func New(s store.Store, rt *router.Router, cfg *runtimecfg.Cache, caps *capability.Registry) *Handlers {
	return &Handlers{Store: s, Router: rt, Config: cfg, Capabilities: caps}
}

// ── Health ───────────────────────────────────────────────────

// Health reports store reachability and the effective triage flags.
// GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status, storeStatus := "healthy", "ok"
	if err := h.Store.Ping(r.Context()); err != nil {
		log.Warn().Err(err).Msg("Health check: store unreachable")
		status, storeStatus = "degraded", "unreachable"
	}

	cfg := h.Config.Get(r.Context())
	flags := make(map[string]bool, len(healthFlags))
	for _, f := range healthFlags {
		flags[f] = cfg.Flags.Enabled(f)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"service":       "llm-triage",
		"store":         storeStatus,
		"config_source": cfg.Source,
		"env_overrides": cfg.EnvOverrides,
		"flags":         flags,
	})
}

// ── Triage ───────────────────────────────────────────────────

type classifyRequest struct {
	Text                  string `json:"text"`
	HasDeckContext        bool   `json:"has_deck_context"`
	DeckContextForCompose string `json:"deck_context_for_compose"`
}

// Classify returns the prompt tier without touching config or the model.
// POST /api/v1/triage/classify
func (h *Handlers) Classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if !decode(w, r, &req) {
		return
	}
	respondJSON(w, http.StatusOK, classifier.Classify(req.Text, req.HasDeckContext, req.DeckContextForCompose))
}

// Plan returns the triage plan for a request without calling the model.
// POST /api/v1/triage/plan
func (h *Handlers) Plan(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTriage(w, r)
	if !ok {
		return
	}
	plan, err := h.Router.Plan(r.Context(), req)
	if err != nil {
		respondRouteError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, plan)
}

// Chat plans and executes a chat request.
// POST /api/v1/chat
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTriage(w, r)
	if !ok {
		return
	}
	resp, err := h.Router.Route(r.Context(), req)
	if err != nil {
		respondRouteError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// MulliganAdvice serves cached or fresh mulligan advice.
// POST /api/v1/mulligan/advice
func (h *Handlers) MulliganAdvice(w http.ResponseWriter, r *http.Request) {
	var req models.AdviceRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Hand) == 0 {
		respondError(w, http.StatusBadRequest, "hand is required")
		return
	}
	resp, err := h.Router.MulliganAdvice(r.Context(), &req)
	if err != nil {
		respondRouteError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// ── Model Capabilities ───────────────────────────────────────

// ListCapabilities returns every model the registry knows explicitly.
// GET /api/v1/models/capabilities
func (h *Handlers) ListCapabilities(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"models":             h.Capabilities.ListAll(),
		"responses_suffixes": h.Capabilities.Suffixes(),
	})
}

// GetCapability resolves one model id.
// GET /api/v1/models/capabilities/{modelId}
func (h *Handlers) GetCapability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "modelId")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "model id is required")
		return
	}
	respondJSON(w, http.StatusOK, h.Capabilities.Lookup(id))
}

// ── Admin ────────────────────────────────────────────────────

type runtimeConfigView struct {
	*models.RuntimeConfig
	AgeMs int64 `json:"age_ms"`
	TTLMs int64 `json:"ttl_ms"`
}

func (h *Handlers) configView(cfg *models.RuntimeConfig) runtimeConfigView {
	v := runtimeConfigView{RuntimeConfig: cfg, TTLMs: h.Config.TTL().Milliseconds()}
	if _, age, ok := h.Config.Snapshot(); ok {
		v.AgeMs = age.Milliseconds()
	}
	return v
}

// GetRuntimeConfig returns the effective runtime config.
// GET /api/v1/admin/runtime-config
func (h *Handlers) GetRuntimeConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.configView(h.Config.Get(r.Context())))
}

// RefreshRuntimeConfig drops the cached config and reloads it.
// POST /api/v1/admin/runtime-config/refresh
func (h *Handlers) RefreshRuntimeConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.configView(h.Config.Refresh(r.Context())))
}

// PutRuntimeConfig stores one config section and reloads the cache.
// PUT /api/v1/admin/runtime-config/{key}
func (h *Handlers) PutRuntimeConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !json.Valid(raw) {
		respondError(w, http.StatusBadRequest, "body must be JSON")
		return
	}
	if err := runtimecfg.ValidateSection(key, raw); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.Store.SetConfigValue(r.Context(), key, raw); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info().Str("key", key).Msg("Runtime config section updated")

	respondJSON(w, http.StatusOK, h.configView(h.Config.Refresh(r.Context())))
}

// GetUsage returns token usage since process start.
// GET /api/v1/admin/usage
func (h *Handlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"usage":     h.Router.UsageSummary(),
		"generated": time.Now().UTC(),
	})
}

// ── Helpers ──────────────────────────────────────────────────

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func decodeTriage(w http.ResponseWriter, r *http.Request) (*models.TriageRequest, bool) {
	var req models.TriageRequest
	if !decode(w, r, &req) {
		return nil, false
	}
	if req.Text == "" && len(req.Messages) > 0 {
		req.Text = req.Messages[len(req.Messages)-1].Content
	}
	// Only a validated API key authenticates; the body flag is ignored.
	req.IsAuthenticated = middleware.IsAuthenticated(r.Context())
	return &req, true
}

func respondRouteError(w http.ResponseWriter, err error) {
	var fpe *openaiparams.ForbiddenParamError
	switch {
	case errors.As(err, &fpe):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, router.ErrNoCompleter):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		respondError(w, http.StatusBadGateway, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
