package budget

import (
	"regexp"
	"strconv"
	"strings"
)

// TwoStageMinPredictedTokens is the default prediction above which an outline
// pass is worth its overhead.
const TwoStageMinPredictedTokens = 350

var (
	listCountRe = regexp.MustCompile(`\b(?:give me|list|suggest|recommend)\s+(\d+)\s+(?:swap|card|upgrade|addition)s?`)
	topCountRe  = regexp.MustCompile(`\b(?:top|best)\s+(\d+)\s+`)
	analysisRe  = regexp.MustCompile(`\b(?:analy[sz]e|analysis|improve|optimi[sz]e|review|what'?s? wrong|suggest improvement)`)
	strategyRe  = regexp.MustCompile(`\b(?:synergy|strategy|game plan|curve|mana base)\b`)
	vagueRe     = regexp.MustCompile(`\b(?:how can i|what should i|help me)\b`)
)

// PredictOutputTokens estimates the answer length for a complex deck request.
// It returns 0 when the request is not complex or has no deck context.
func PredictOutputTokens(text string, hasDeckContext, isComplex bool) int {
	if !isComplex || !hasDeckContext {
		return 0
	}
	q := strings.ToLower(strings.TrimSpace(text))

	if m := listCountRe.FindStringSubmatch(q); m != nil {
		return 80 + atoiOr(m[1], 5)*60
	}
	if m := topCountRe.FindStringSubmatch(q); m != nil {
		return 60 + atoiOr(m[1], 5)*50
	}
	switch {
	case analysisRe.MatchString(q):
		return 400
	case strategyRe.MatchString(q):
		return 350
	case vagueRe.MatchString(q):
		return 320
	}
	return 250
}

// UseTwoStage reports whether the predicted output justifies an outline pass.
// A threshold <= 0 selects TwoStageMinPredictedTokens.
func UseTwoStage(predicted, threshold int) bool {
	if threshold <= 0 {
		threshold = TwoStageMinPredictedTokens
	}
	return predicted > threshold
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
