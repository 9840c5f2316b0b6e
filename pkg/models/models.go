// Package models holds the value types shared by the triage core, its stores
// and the HTTP surface.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// ── Prompt Classification ────────────────────────────────────

// Tier is the cost class of a request.
type Tier string

const (
	TierMicro    Tier = "micro"
	TierStandard Tier = "standard"
	TierFull     Tier = "full"
)

// Reason is the taxonomy tag explaining a tier or gate decision.
type Reason string

const (
	ReasonGreeting            Reason = "greeting"
	ReasonSimpleDefinition    Reason = "simple_definition"
	ReasonFormatLegality      Reason = "format_legality"
	ReasonDeckContext         Reason = "deck_context"
	ReasonExplicitListRequest Reason = "explicit_list_request"
	ReasonLongAnswer          Reason = "long_answer"
	ReasonEmptyInput          Reason = "empty_input"
	ReasonDefault             Reason = "default"

	// Gate-only reasons.
	ReasonForceFullRoute Reason = "force_full_route"
	ReasonLayer0Disabled Reason = "layer0_disabled"
)

// PromptClassification is the result of classifying one request.
type PromptClassification struct {
	Tier   Tier   `json:"tier"`
	Reason Reason `json:"reason"`
	Term   string `json:"term,omitempty"` // glossary keyword for simple_definition
}

// ── Layer0 Gate ──────────────────────────────────────────────

type GateMode string

const (
	GateSkipLLM GateMode = "SKIP_LLM"
	GateFullLLM GateMode = "FULL_LLM"
)

// GateInput is everything the Layer0 gate looks at for one request.
type GateInput struct {
	Text                  string
	HasDeckContext        bool
	DeckContextForCompose string
	IsAuthenticated       bool
	Route                 string
}

// GateDecision is computed once per request and never persisted.
type GateDecision struct {
	Mode        GateMode `json:"mode"`
	Reason      Reason   `json:"reason"`
	Tier        Tier     `json:"tier,omitempty"`
	CannedReply string   `json:"canned_reply,omitempty"` // only set for SKIP_LLM
}

// Skipped reports whether the external model must not be called.
func (d GateDecision) Skipped() bool { return d.Mode == GateSkipLLM }

// ── Model Capability ─────────────────────────────────────────

// APISurface is the upstream call shape a model must use.
type APISurface string

const (
	SurfaceChatCompletions APISurface = "chat_completions"
	SurfaceResponses       APISurface = "responses"
)

// ModelCapability is a static fact about a model identifier.
type ModelCapability struct {
	ModelID        string     `json:"model_id"`
	ModelName      string     `json:"model_name"`
	ProviderKind   string     `json:"provider_kind,omitempty"`
	APISurface     APISurface `json:"api_surface"`
	TokenParamName string     `json:"token_param_name"`  // max_completion_tokens | max_output_tokens
	Source         string     `json:"source"`            // override, suffix, builtin, default
	Pattern        string     `json:"pattern,omitempty"` // matched suffix pattern
}

// ── Token Budget ─────────────────────────────────────────────

// UserTier is the billing tier of the caller; it caps token ceilings.
type UserTier string

const (
	UserGuest UserTier = "guest"
	UserFree  UserTier = "free"
	UserPro   UserTier = "pro"
)

// TokenBudgetInputs are computed per request and never persisted.
// MinTokenFloor <= 0 means no floor was supplied. LargeDeckCards <= 0 uses
// the built-in large deck threshold.
type TokenBudgetInputs struct {
	IsComplex      bool
	DeckCardCount  int
	LargeDeckCards int
	MinTokenFloor  int
	IsStreaming    bool
	UserTier       UserTier
	FixedCeilings  bool
}

// ── Runtime Config ───────────────────────────────────────────

// Well-known feature flag names.
const (
	FlagAIAdminEnabled   = "ai_admin_enabled"
	FlagLLMV2Context     = "llm_v2_context"
	FlagLLMLayer0        = "llm_layer0"
	FlagLLMTwoStage      = "llm_two_stage"
	FlagLLMStopSequences = "llm_stop_sequences"
	FlagDynamicCeilings  = "llm_dynamic_ceilings"
	FlagForceMiniOnly    = "llm_force_mini_only"
	FlagDisableStream    = "llm_disable_stream"
	FlagWidgets          = "widgets"
	FlagChatExtras       = "chat_extras"
	FlagRiskyBetas       = "risky_betas"
	FlagAnalyticsClicks  = "analytics_clicks_enabled"
)

// Config store keys.
const (
	ConfigKeyFlags             = "flags"
	ConfigKeyLLMBudget         = "llm_budget"
	ConfigKeyLLMModels         = "llm_models"
	ConfigKeyLLMThresholds     = "llm_thresholds"
	ConfigKeyForceFullRoutes   = "llm_force_full_routes"
	ConfigKeyMinTokensPerRoute = "llm_min_tokens_per_route"
)

// Flags maps feature toggles to their state. Unknown flags read as false.
type Flags map[string]bool

// Enabled reports whether the named flag is on.
func (f Flags) Enabled(name string) bool { return f[name] }

// LLMBudget is the spend ceiling section.
type LLMBudget struct {
	DailyUSD  float64 `json:"daily_usd"`
	WeeklyUSD float64 `json:"weekly_usd"`
}

// LLMModels selects model identifiers per route.
type LLMModels struct {
	Default  string            `json:"default"`
	Mini     string            `json:"mini"`
	Fallback string            `json:"fallback"`
	ByRoute  map[string]string `json:"by_route,omitempty"`
}

// ForRoute returns the configured model for route, falling back to Default.
func (m LLMModels) ForRoute(route string) string {
	if v := strings.TrimSpace(m.ByRoute[route]); v != "" {
		return v
	}
	return m.Default
}

// LLMThresholds holds numeric knobs used by the planner.
type LLMThresholds struct {
	TwoStageMinPredictedTokens int     `json:"two_stage_min_predicted_tokens"`
	NearBudgetCapPct           float64 `json:"near_budget_cap_pct"`
	LargeDeckCards             int     `json:"large_deck_cards"`
}

// RuntimeConfig is the operational config served by the runtime config cache.
type RuntimeConfig struct {
	Flags             Flags          `json:"flags"`
	LLMBudget         LLMBudget      `json:"llm_budget"`
	LLMModels         LLMModels      `json:"llm_models"`
	LLMThresholds     LLMThresholds  `json:"llm_thresholds"`
	ForceFullRoutes   []string       `json:"force_full_routes"`
	MinTokensPerRoute map[string]int `json:"min_tokens_per_route"`
	Source            string         `json:"source"` // "store" or "defaults"
	EnvOverrides      []string       `json:"env_overrides,omitempty"`
	FetchedAt         time.Time      `json:"fetched_at"`
}

// DefaultFlags returns the conservative flag set used when the store has no value.
func DefaultFlags() Flags {
	return Flags{
		FlagAIAdminEnabled:   true,
		FlagLLMV2Context:     true,
		FlagLLMLayer0:        false,
		FlagLLMTwoStage:      false,
		FlagLLMStopSequences: false,
		FlagDynamicCeilings:  true,
		FlagForceMiniOnly:    false,
		FlagDisableStream:    false,
		FlagWidgets:          true,
		FlagChatExtras:       true,
		FlagRiskyBetas:       false,
		FlagAnalyticsClicks:  true,
	}
}

// DefaultRuntimeConfig returns a fully populated config with documented defaults.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		Flags: DefaultFlags(),
		LLMModels: LLMModels{
			Default:  "gpt-5",
			Mini:     "gpt-4o-mini",
			Fallback: "gpt-4o-mini",
			ByRoute:  map[string]string{},
		},
		LLMThresholds: LLMThresholds{
			TwoStageMinPredictedTokens: 350,
			NearBudgetCapPct:           90,
			LargeDeckCards:             60,
		},
		ForceFullRoutes:   []string{},
		MinTokensPerRoute: map[string]int{},
		Source:            "defaults",
	}
}

// IsForceFull reports whether route is on the force-full list.
func (c *RuntimeConfig) IsForceFull(route string) bool {
	route = strings.TrimSpace(route)
	if route == "" {
		return false
	}
	for _, r := range c.ForceFullRoutes {
		if strings.TrimSpace(r) == route {
			return true
		}
	}
	return false
}

// ── Advice Cache ─────────────────────────────────────────────

// DeckCard is one line of a deck list.
type DeckCard struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// AdviceKeyInput is the tuple an advice cache key is derived from.
type AdviceKeyInput struct {
	Deck          []DeckCard `json:"deck"`
	Hand          []string   `json:"hand"`
	PlayDraw      string     `json:"play_draw"`
	MulliganCount int        `json:"mulligan_count"`
	ModelTier     string     `json:"model_tier"`
	Format        string     `json:"format"`
}

// AdviceCacheEntry is a persisted advice row.
type AdviceCacheEntry struct {
	CacheKey     string          `json:"cache_key"`
	ResponseJSON json.RawMessage `json:"response_json"`
	ModelUsed    string          `json:"model_used"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	HitCount     int64           `json:"hit_count"`
}

// Live reports whether the entry is still valid at now.
func (e *AdviceCacheEntry) Live(now time.Time) bool {
	return e != nil && e.ExpiresAt.After(now)
}

// ── Triage Pipeline ──────────────────────────────────────────

// ChatMessage is one message in an OpenAI-style conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TriageRequest is the inbound tuple for one chat/deck-analysis request.
type TriageRequest struct {
	Text                  string        `json:"text"`
	HasDeckContext        bool          `json:"has_deck_context"`
	DeckContextForCompose string        `json:"deck_context_for_compose,omitempty"`
	Route                 string        `json:"route"`
	IsAuthenticated       bool          `json:"is_authenticated"`
	IsStreaming           bool          `json:"is_streaming"`
	DeckCardCount         int           `json:"deck_card_count"`
	UserTier              UserTier      `json:"user_tier,omitempty"`
	Messages              []ChatMessage `json:"messages,omitempty"`
	// Params are caller-supplied provider parameters merged into the outbound
	// body before sanitization.
	Params map[string]any `json:"params,omitempty"`
}

// TriagePlan is the decision for one request: whether and how to call the model.
type TriagePlan struct {
	ID                    string               `json:"id"`
	Route                 string               `json:"route"`
	Classification        PromptClassification `json:"classification"`
	Decision              GateDecision         `json:"decision"`
	Model                 string               `json:"model,omitempty"`
	ModelReason           string               `json:"model_reason,omitempty"` // why the mini model replaced the route's model
	APISurface            APISurface           `json:"api_surface,omitempty"`
	TokenCeiling          int                  `json:"token_ceiling,omitempty"`
	IsStreaming           bool                 `json:"is_streaming"`
	PredictedOutputTokens int                  `json:"predicted_output_tokens,omitempty"`
	TwoStage              bool                 `json:"two_stage"`
	Body                  map[string]any       `json:"body,omitempty"`
}

// TokenUsage reports token counts for one completion.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// CompletionRequest is a sanitized outbound call to the model provider.
type CompletionRequest struct {
	Model   string         `json:"model"`
	Surface APISurface     `json:"surface"`
	Body    map[string]any `json:"body"`
}

// CompletionResponse is what the model client returns.
type CompletionResponse struct {
	ID        string     `json:"id"`
	Model     string     `json:"model"`
	Content   string     `json:"content"`
	Usage     TokenUsage `json:"usage"`
	LatencyMs int64      `json:"latency_ms"`
}

// TriageResponse is the result of executing a plan.
type TriageResponse struct {
	Plan      *TriagePlan `json:"plan"`
	Content   string      `json:"content"`
	LLMUsed   bool        `json:"llm_used"`
	Model     string      `json:"model,omitempty"`
	Usage     TokenUsage  `json:"usage"`
	LatencyMs int64       `json:"latency_ms"`
}

// AdviceRequest is an inbound mulligan advice request.
type AdviceRequest struct {
	AdviceKeyInput
	Commander string   `json:"commander,omitempty"`
	UserTier  UserTier `json:"user_tier,omitempty"`
}

// AdviceResponse is the mulligan advice returned to the caller.
type AdviceResponse struct {
	CacheKey  string          `json:"cache_key"`
	Cached    bool            `json:"cached"`
	ModelUsed string          `json:"model_used"`
	Advice    json.RawMessage `json:"advice"`
	TTL       time.Duration   `json:"ttl"`
}

// UsageSummary accumulates token usage per route and model.
type UsageSummary struct {
	Requests     int64            `json:"requests"`
	Skipped      int64            `json:"skipped"`
	TotalTokens  int64            `json:"total_tokens"`
	EstimatedUSD float64          `json:"estimated_usd"`
	DailyUSD     float64          `json:"daily_usd"`  // estimated spend for the current UTC day
	WeeklyUSD    float64          `json:"weekly_usd"` // estimated spend for the last seven UTC days
	ByRoute      map[string]int64 `json:"by_route"`
	ByModel      map[string]int64 `json:"by_model"`
	SkipByReason map[string]int64 `json:"skip_by_reason"`
}
