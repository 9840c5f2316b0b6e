// Package gate implements the Layer0 gate: the decision whether a request can
// be answered without calling the external model at all.
package gate

import (
	"github.com/manatap/triage/internal/classifier"
	"github.com/manatap/triage/pkg/models"
)

const (
	greetingReply      = "Hi! Ask me anything about Magic: rules, cards, or your Commander deck. Paste a deck list or link one for tailored advice."
	greetingGuestReply = "Hi! Ask me anything about Magic: rules, cards, or your Commander deck. Sign in to save decks and get tailored analysis."
	definitionFallback = "That's a Magic rules keyword. Ask a follow-up with a card or board state and I'll go into detail."
)

// Decide returns the gate decision for one request. The force-full route list
// short-circuits everything else, then the layer0 flag, then the classifier.
// A nil cfg is treated as the default runtime config.
func Decide(in models.GateInput, cfg *models.RuntimeConfig) models.GateDecision {
	return decide(in, cfg, func() models.PromptClassification {
		return classifier.Classify(in.Text, in.HasDeckContext, in.DeckContextForCompose)
	})
}

// DecideClassified is Decide for a caller that has already classified in.
func DecideClassified(in models.GateInput, cfg *models.RuntimeConfig, c models.PromptClassification) models.GateDecision {
	return decide(in, cfg, func() models.PromptClassification { return c })
}

func decide(in models.GateInput, cfg *models.RuntimeConfig, classify func() models.PromptClassification) models.GateDecision {
	if cfg == nil {
		cfg = models.DefaultRuntimeConfig()
	}

	if cfg.IsForceFull(in.Route) {
		return models.GateDecision{Mode: models.GateFullLLM, Reason: models.ReasonForceFullRoute}
	}
	if !cfg.Flags.Enabled(models.FlagLLMLayer0) {
		return models.GateDecision{Mode: models.GateFullLLM, Reason: models.ReasonLayer0Disabled}
	}

	c := classify()
	if c.Tier == models.TierMicro && !in.HasDeckContext {
		return models.GateDecision{
			Mode:        models.GateSkipLLM,
			Reason:      c.Reason,
			Tier:        c.Tier,
			CannedReply: cannedReply(c, in.IsAuthenticated),
		}
	}
	return models.GateDecision{Mode: models.GateFullLLM, Reason: c.Reason, Tier: c.Tier}
}

// cannedReply picks the reply for a skipped request by classification reason.
func cannedReply(c models.PromptClassification, authenticated bool) string {
	switch c.Reason {
	case models.ReasonGreeting:
		if !authenticated {
			return greetingGuestReply
		}
		return greetingReply
	case models.ReasonSimpleDefinition:
		if def, ok := classifier.DefinitionFor(c.Term); ok {
			return def
		}
		return definitionFallback
	default:
		return greetingReply
	}
}
