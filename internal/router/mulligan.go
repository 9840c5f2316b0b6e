package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/manatap/triage/internal/advice"
	"github.com/manatap/triage/internal/budget"
	"github.com/manatap/triage/internal/openaiparams"
	"github.com/manatap/triage/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// MulliganRoute is the route name used for advice requests.
const MulliganRoute = "mulligan_advice"

// ErrInvalidAdvice is returned when the model's answer fails the response schema.
var ErrInvalidAdvice = errors.New("model returned invalid mulligan advice")

const mulliganSystemPrompt = `You are a Magic: The Gathering mulligan coach.
Decide whether the player should KEEP or MULLIGAN the opening hand.
Respond with a single JSON object and nothing else:
{"action":"KEEP"|"MULLIGAN","reasons":[1-5 short strings],"confidence":0-100,
"suggestedLine":"optional first turns","warnings":["optional"],"dependsOn":["at most 2 key cards"]}`

// MulliganAdvice serves advice for one opening hand, from the advice cache
// when a live entry exists, otherwise from the model. A failed cache write is
// logged and does not fail the request.
func (r *Router) MulliganAdvice(ctx context.Context, req *models.AdviceRequest) (*models.AdviceResponse, error) {
	ctx, span := tracer.Start(ctx, "triage.advice")
	defer span.End()

	if len(req.Hand) == 0 {
		return nil, fmt.Errorf("mulligan advice: hand is empty")
	}

	key := advice.Key(req.AdviceKeyInput)
	span.SetAttributes(attribute.String("advice.key", key))

	if e, ok := r.advice.Get(ctx, key); ok {
		span.SetAttributes(attribute.Bool("advice.cached", true))
		return &models.AdviceResponse{
			CacheKey:  key,
			Cached:    true,
			ModelUsed: e.ModelUsed,
			Advice:    e.ResponseJSON,
			TTL:       r.advice.TTL(),
		}, nil
	}
	span.SetAttributes(attribute.Bool("advice.cached", false))

	cfg := r.config.Get(ctx)
	model, _ := r.selectModel(cfg, MulliganRoute, false)
	if strings.EqualFold(strings.TrimSpace(req.ModelTier), "mini") && cfg.LLMModels.Mini != "" {
		model = cfg.LLMModels.Mini
	}
	capab := r.caps.Lookup(model)
	span.SetAttributes(attribute.String("triage.model", model))

	ceiling := budget.Ceiling(models.TokenBudgetInputs{
		DeckCardCount:  deckSize(req.Deck),
		LargeDeckCards: cfg.LLMThresholds.LargeDeckCards,
		MinTokenFloor:  cfg.MinTokensPerRoute[MulliganRoute],
		UserTier:       req.UserTier,
		FixedCeilings:  !cfg.Flags.Enabled(models.FlagDynamicCeilings),
	})

	msgs := []models.ChatMessage{
		{Role: "system", Content: mulliganSystemPrompt},
		{Role: "user", Content: mulliganPrompt(req)},
	}
	body := map[string]any{"model": model}
	body[capab.TokenParamName] = ceiling
	if capab.APISurface == models.SurfaceResponses {
		body["input"] = msgs
		body["text"] = map[string]any{"format": map[string]any{"type": "json_object"}}
	} else {
		body["messages"] = msgs
		body["response_format"] = map[string]any{"type": "json_object"}
	}
	clean, err := openaiparams.Enforce(body, r.strict)
	if err != nil {
		return nil, fmt.Errorf("mulligan advice: %w", err)
	}

	resp, err := r.complete(ctx, model, capab.APISurface, clean)
	if err != nil {
		return nil, fmt.Errorf("mulligan advice: %w", err)
	}
	r.trackUsage(MulliganRoute, resp)

	raw := json.RawMessage(stripFences(resp.Content))
	if err := advice.ValidateResponse(raw); err != nil {
		log.Warn().Err(err).Str("key", key).Str("model", resp.Model).Msg("Model advice failed schema, not caching")
		return nil, fmt.Errorf("%w: %v", ErrInvalidAdvice, err)
	}

	// Write failures are logged by the cache; the fresh answer is still served.
	_, _ = r.advice.Put(ctx, key, raw, resp.Model)

	return &models.AdviceResponse{
		CacheKey:  key,
		Cached:    false,
		ModelUsed: resp.Model,
		Advice:    raw,
		TTL:       r.advice.TTL(),
	}, nil
}

func mulliganPrompt(req *models.AdviceRequest) string {
	var sb strings.Builder
	format := req.Format
	if strings.TrimSpace(format) == "" {
		format = advice.DefaultFormat
	}
	fmt.Fprintf(&sb, "Format: %s\n", format)
	if req.Commander != "" {
		fmt.Fprintf(&sb, "Commander: %s\n", req.Commander)
	}
	playDraw := req.PlayDraw
	if playDraw == "" {
		playDraw = "unknown"
	}
	fmt.Fprintf(&sb, "On the: %s\nMulligans taken: %d\n", playDraw, req.MulliganCount)
	fmt.Fprintf(&sb, "Hand (%d): %s\n", len(req.Hand), strings.Join(req.Hand, ", "))
	sb.WriteString("Decklist:\n")
	for _, c := range req.Deck {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		n := c.Count
		if n <= 0 {
			n = 1
		}
		fmt.Fprintf(&sb, "%d %s\n", n, c.Name)
	}
	return sb.String()
}

func deckSize(deck []models.DeckCard) int {
	var n int
	for _, c := range deck {
		if c.Count > 0 {
			n += c.Count
		} else {
			n++
		}
	}
	return n
}

// stripFences removes a surrounding markdown code fence from model output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
