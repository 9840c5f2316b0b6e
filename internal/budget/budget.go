// Package budget computes output-token ceilings for model calls.
package budget

import (
	"github.com/manatap/triage/internal/classifier"
	"github.com/manatap/triage/pkg/models"
)

// Base ceilings keyed by (complex, streaming). Streaming ceilings are higher
// because partial output is rendered incrementally.
const (
	baseSimple        = 192
	baseComplex       = 320
	streamBaseSimple  = 768
	streamBaseComplex = 1800

	deckBonusSmall       = 64
	deckBonusLarge       = 128
	streamDeckBonusSmall = 128
	streamDeckBonusLarge = 256

	// LargeDeckThreshold is the default card count at which the large deck
	// bonus applies.
	LargeDeckThreshold = 60
)

var (
	nonStreamCap = map[models.UserTier]int{models.UserGuest: 256, models.UserFree: 384, models.UserPro: 512}
	streamCap    = map[models.UserTier]int{models.UserGuest: 600, models.UserFree: 800, models.UserPro: 2000}
)

// Ceiling returns the output-token ceiling for one model invocation. The result
// is never below in.MinTokenFloor when a floor is supplied.
func Ceiling(in models.TokenBudgetInputs) int {
	tierCap := capFor(in.UserTier, in.IsStreaming)

	var result int
	if in.FixedCeilings {
		result = tierCap
	} else {
		result = min(base(in.IsComplex, in.IsStreaming)+deckBonus(in.DeckCardCount, in.LargeDeckCards, in.IsStreaming), tierCap)
	}

	if in.MinTokenFloor > 0 {
		result = max(result, in.MinTokenFloor)
	}
	return result
}

func base(complex, streaming bool) int {
	switch {
	case streaming && complex:
		return streamBaseComplex
	case streaming:
		return streamBaseSimple
	case complex:
		return baseComplex
	default:
		return baseSimple
	}
}

func deckBonus(cards, largeAt int, streaming bool) int {
	if cards <= 0 {
		return 0
	}
	if largeAt <= 0 {
		largeAt = LargeDeckThreshold
	}
	large := cards >= largeAt
	switch {
	case streaming && large:
		return streamDeckBonusLarge
	case streaming:
		return streamDeckBonusSmall
	case large:
		return deckBonusLarge
	default:
		return deckBonusSmall
	}
}

func capFor(tier models.UserTier, streaming bool) int {
	if tier == "" {
		tier = models.UserPro
	}
	table := nonStreamCap
	if streaming {
		table = streamCap
	}
	if c, ok := table[tier]; ok {
		return c
	}
	return table[models.UserPro]
}

// IsComplex reports whether a request warrants the complex base ceiling:
// deck context combined with an analysis or long-answer request, or an
// explicit list request.
func IsComplex(text string, hasDeckContext bool) bool {
	if classifier.IsExplicitListRequest(text) {
		return true
	}
	return hasDeckContext && (classifier.IsDeckAnalysisRequest(text) || classifier.IsLongAnswerRequest(text))
}
