// Package router implements the triage pipeline.
//
// For each request the router reads the runtime config, asks the Layer0 gate
// whether the model is needed at all, and when it is picks the model, its API
// surface and an output token ceiling, builds a sanitized outbound body and
// sends it through a Completer. Failed calls fall back to the configured
// fallback model. Token usage and estimated spend are tracked per route and
// model; close to the configured spend cap the router prefers the mini model.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/manatap/triage/internal/advice"
	"github.com/manatap/triage/internal/budget"
	"github.com/manatap/triage/internal/capability"
	"github.com/manatap/triage/internal/classifier"
	"github.com/manatap/triage/internal/gate"
	"github.com/manatap/triage/internal/openaiparams"
	"github.com/manatap/triage/internal/runtimecfg"
	"github.com/manatap/triage/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("triage-router")

// ErrNoCompleter is returned when a request needs the model but no provider
// is configured.
var ErrNoCompleter = errors.New("no model provider configured")

// Completer sends one sanitized request to the model provider.
type Completer interface {
	Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error)
}

// defaultStopSequences are sent on chat completions when llm_stop_sequences is on.
var defaultStopSequences = []string{"\n\nUser:", "\n\nHuman:"}

// Options configures a Router.
type Options struct {
	// Strict rejects forbidden provider params instead of stripping them.
	Strict bool
	// Now is the clock used for spend windows. Defaults to time.Now.
	Now func() time.Time
}

// Router plans and executes triage requests.
type Router struct {
	config    *runtimecfg.Cache
	caps      *capability.Registry
	advice    *advice.Cache
	completer Completer
	strict    bool
	now       func() time.Time

	usageMu sync.RWMutex
	usage   *models.UsageSummary
	spend   *spendLedger
}

// New creates a router. completer may be nil, in which case only requests the
// gate skips can be served.
func New(cfg *runtimecfg.Cache, caps *capability.Registry, adv *advice.Cache, completer Completer, opts Options) *Router {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Router{
		config:    cfg,
		caps:      caps,
		advice:    adv,
		completer: completer,
		strict:    opts.Strict,
		now:       now,
		usage:     newUsageSummary(),
		spend:     newSpendLedger(),
	}
}

// Plan decides whether and how to call the model for req. It never calls the
// provider. In strict mode a forbidden caller param is an error.
func (r *Router) Plan(ctx context.Context, req *models.TriageRequest) (*models.TriagePlan, error) {
	ctx, span := tracer.Start(ctx, "triage.plan")
	defer span.End()

	cfg := r.config.Get(ctx)
	hasDeck := req.HasDeckContext || strings.TrimSpace(req.DeckContextForCompose) != ""

	classification := classifier.Classify(req.Text, req.HasDeckContext, req.DeckContextForCompose)
	decision := gate.DecideClassified(models.GateInput{
		Text:                  req.Text,
		HasDeckContext:        req.HasDeckContext,
		DeckContextForCompose: req.DeckContextForCompose,
		IsAuthenticated:       req.IsAuthenticated,
		Route:                 req.Route,
	}, cfg, classification)

	plan := &models.TriagePlan{
		ID:             uuid.New().String(),
		Route:          req.Route,
		Decision:       decision,
		Classification: classification,
	}
	span.SetAttributes(
		attribute.String("triage.route", req.Route),
		attribute.String("triage.mode", string(decision.Mode)),
		attribute.String("triage.reason", string(decision.Reason)),
	)

	log.Debug().
		Str("plan", plan.ID).
		Str("route", req.Route).
		Str("mode", string(decision.Mode)).
		Str("reason", string(decision.Reason)).
		Str("tier", string(decision.Tier)).
		Msg("Gate decision")

	if decision.Skipped() {
		return plan, nil
	}

	isComplex := budget.IsComplex(req.Text, hasDeck)
	plan.Model, plan.ModelReason = r.selectModel(cfg, req.Route, clearlyFull(req.Text, hasDeck))
	capab := r.caps.Lookup(plan.Model)
	plan.APISurface = capab.APISurface
	plan.IsStreaming = req.IsStreaming && !cfg.Flags.Enabled(models.FlagDisableStream)
	plan.TokenCeiling = budget.Ceiling(models.TokenBudgetInputs{
		IsComplex:      isComplex,
		DeckCardCount:  req.DeckCardCount,
		LargeDeckCards: cfg.LLMThresholds.LargeDeckCards,
		MinTokenFloor:  cfg.MinTokensPerRoute[req.Route],
		IsStreaming:    plan.IsStreaming,
		UserTier:       req.UserTier,
		FixedCeilings:  !cfg.Flags.Enabled(models.FlagDynamicCeilings),
	})
	plan.PredictedOutputTokens = budget.PredictOutputTokens(req.Text, hasDeck, isComplex)
	if cfg.Flags.Enabled(models.FlagLLMTwoStage) {
		plan.TwoStage = budget.UseTwoStage(plan.PredictedOutputTokens, cfg.LLMThresholds.TwoStageMinPredictedTokens)
	}

	body := buildBody(req, plan, capab.TokenParamName)
	if cfg.Flags.Enabled(models.FlagLLMStopSequences) && plan.APISurface == models.SurfaceChatCompletions && !isComplex {
		body["stop"] = defaultStopSequences
	}

	clean, err := openaiparams.Enforce(body, r.strict)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("plan %s: %w", req.Route, err)
	}
	plan.Body = clean

	span.SetAttributes(
		attribute.String("triage.model", plan.Model),
		attribute.String("triage.model_reason", plan.ModelReason),
		attribute.String("triage.surface", string(plan.APISurface)),
		attribute.Int("triage.token_ceiling", plan.TokenCeiling),
	)
	return plan, nil
}

// Route plans req and executes the plan. Skipped requests return the canned
// reply without calling the provider.
func (r *Router) Route(ctx context.Context, req *models.TriageRequest) (*models.TriageResponse, error) {
	plan, err := r.Plan(ctx, req)
	if err != nil {
		return nil, err
	}

	if plan.Decision.Skipped() {
		r.trackSkip(plan.Route, plan.Decision.Reason)
		return &models.TriageResponse{
			Plan:    plan,
			Content: plan.Decision.CannedReply,
		}, nil
	}

	resp, err := r.complete(ctx, plan.Model, plan.APISurface, plan.Body)
	if err != nil {
		return nil, err
	}
	r.trackUsage(plan.Route, resp)

	return &models.TriageResponse{
		Plan:      plan,
		Content:   resp.Content,
		LLMUsed:   true,
		Model:     resp.Model,
		Usage:     resp.Usage,
		LatencyMs: resp.LatencyMs,
	}, nil
}

// complete calls the provider with model and, on failure, once more with the
// configured fallback model.
func (r *Router) complete(ctx context.Context, model string, surface models.APISurface, body map[string]any) (*models.CompletionResponse, error) {
	if r.completer == nil {
		return nil, ErrNoCompleter
	}

	ctx, span := tracer.Start(ctx, "triage.complete")
	defer span.End()

	candidates := []string{model}
	if fb := r.config.Get(ctx).LLMModels.Fallback; fb != "" && fb != model {
		candidates = append(candidates, fb)
	}

	var lastErr error
	for _, m := range candidates {
		req := &models.CompletionRequest{Model: m, Surface: surface, Body: body}
		if m != model {
			req.Surface = r.caps.APISurfaceFor(m)
			req.Body = retarget(body, m, surface, req.Surface)
		}
		span.SetAttributes(attribute.String("triage.model", m), attribute.String("triage.surface", string(req.Surface)))

		start := time.Now()
		resp, err := r.completer.Complete(ctx, req)
		if err != nil {
			log.Warn().Str("model", m).Err(err).Msg("Model call failed, trying next")
			lastErr = err
			continue
		}
		if resp.Model == "" {
			resp.Model = m
		}
		if resp.LatencyMs == 0 {
			resp.LatencyMs = time.Since(start).Milliseconds()
		}
		return resp, nil
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, fmt.Errorf("all models failed, last error: %w", lastErr)
}

// Reasons a plan uses the mini model instead of the route's model.
const (
	ModelReasonForceMini     = "force_mini_only"
	ModelReasonNearBudgetCap = "near_budget_cap"
)

// selectModel picks the configured model for route. The mini model replaces
// it when llm_force_mini_only is on, or when estimated spend is near the cap
// and the request does not clearly need the full model.
func (r *Router) selectModel(cfg *models.RuntimeConfig, route string, needsFull bool) (string, string) {
	if mini := cfg.LLMModels.Mini; mini != "" {
		if cfg.Flags.Enabled(models.FlagForceMiniOnly) {
			return mini, ModelReasonForceMini
		}
		if !needsFull && r.nearBudgetCap(cfg) {
			log.Debug().Str("route", route).Str("model", mini).Msg("Near spend cap, using mini model")
			return mini, ModelReasonNearBudgetCap
		}
	}
	if m := cfg.LLMModels.ForRoute(route); m != "" {
		return m, ""
	}
	return models.DefaultRuntimeConfig().LLMModels.Default, ""
}

// clearlyFull reports whether a request needs the full model even near the
// spend cap: deck context plus an analysis or long-answer request.
func clearlyFull(text string, hasDeck bool) bool {
	return hasDeck && (classifier.IsDeckAnalysisRequest(text) || classifier.IsLongAnswerRequest(text))
}

// ── Body construction ───────────────────────────────────────

func buildBody(req *models.TriageRequest, plan *models.TriagePlan, tokenParam string) map[string]any {
	body := make(map[string]any, len(req.Params)+4)
	for k, v := range req.Params {
		body[k] = v
	}

	msgs := req.Messages
	if len(msgs) == 0 {
		msgs = []models.ChatMessage{{Role: "user", Content: req.Text}}
	}

	body["model"] = plan.Model
	if plan.APISurface == models.SurfaceResponses {
		body["input"] = msgs
	} else {
		body["messages"] = msgs
	}
	body[tokenParam] = plan.TokenCeiling
	if plan.IsStreaming {
		body["stream"] = true
	}
	return body
}

// retarget copies body for a different model, moving the message list, token
// ceiling and JSON output mode to the keys the target surface expects.
func retarget(body map[string]any, model string, from, to models.APISurface) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		out[k] = v
	}
	out["model"] = model
	if from == to {
		return out
	}

	fromMsgs, toMsgs := "messages", "input"
	if from == models.SurfaceResponses {
		fromMsgs, toMsgs = toMsgs, fromMsgs
	}
	if v, ok := out[fromMsgs]; ok {
		delete(out, fromMsgs)
		out[toMsgs] = v
	}

	fromTok, toTok := capability.TokenParamName(from), capability.TokenParamName(to)
	if v, ok := out[fromTok]; ok {
		delete(out, fromTok)
		out[toTok] = v
	}
	if to == models.SurfaceResponses {
		delete(out, "stop")
		if rf, ok := out["response_format"]; ok {
			delete(out, "response_format")
			out["text"] = map[string]any{"format": rf}
		}
	} else if text, ok := out["text"].(map[string]any); ok {
		delete(out, "text")
		if f, ok := text["format"]; ok {
			out["response_format"] = f
		}
	}
	return out
}
