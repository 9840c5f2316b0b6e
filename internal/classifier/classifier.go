// Package classifier assigns a cost tier to an inbound chat request.
//
// Classification is an ordered list of rules evaluated first-match-wins.
// Deck context and explicit list requests are checked before any brevity
// based rule, so they always resolve to the full tier. Text length is never
// used as a signal: a short question is not a trivial one.
package classifier

import (
	"regexp"
	"strings"

	"github.com/manatap/triage/pkg/models"
)

// subject is the normalized view of one request that rules match against.
type subject struct {
	text           string // lowercased, trimmed
	bare           string // text without trailing punctuation
	hasDeckContext bool
	term           string // set by the definition rule
}

type rule struct {
	reason models.Reason
	tier   models.Tier
	match  func(s *subject) bool
}

// rules is evaluated in order; the first match wins.
var rules = []rule{
	{models.ReasonDeckContext, models.TierFull, func(s *subject) bool { return s.hasDeckContext }},
	{models.ReasonExplicitListRequest, models.TierFull, func(s *subject) bool { return IsExplicitListRequest(s.text) }},
	{models.ReasonEmptyInput, models.TierStandard, func(s *subject) bool { return s.bare == "" }},
	{models.ReasonGreeting, models.TierMicro, func(s *subject) bool { return greetingRe.MatchString(s.bare) }},
	{models.ReasonSimpleDefinition, models.TierMicro, matchDefinition},
	{models.ReasonFormatLegality, models.TierStandard, func(s *subject) bool { return isFormatLegality(s.text) }},
	{models.ReasonLongAnswer, models.TierStandard, func(s *subject) bool { return IsLongAnswerRequest(s.text) }},
}

// Classify returns the tier for a request. It is a pure function of its inputs.
// A non-blank deckContextForCompose counts as deck context.
func Classify(text string, hasDeckContext bool, deckContextForCompose string) models.PromptClassification {
	s := newSubject(text, hasDeckContext || strings.TrimSpace(deckContextForCompose) != "")
	for _, r := range rules {
		if r.match(s) {
			return models.PromptClassification{Tier: r.tier, Reason: r.reason, Term: s.term}
		}
	}
	return models.PromptClassification{Tier: models.TierStandard, Reason: models.ReasonDefault}
}

func newSubject(text string, hasDeckContext bool) *subject {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.Join(strings.Fields(t), " ")
	return &subject{
		text:           t,
		bare:           strings.TrimRight(t, "!?.,~ "),
		hasDeckContext: hasDeckContext,
	}
}

var (
	greetingRe = regexp.MustCompile(`^(?:hi|hello|hey|hiya|howdy|yo|sup|gm|good (?:morning|afternoon|evening|night)|thanks|thank you|thx|ty|cheers|bye|goodbye|see ya|ok thanks|okay thanks)(?: there| so much| a lot| again| all| everyone| friend)?(?: ?[!.:)]+)*$`)

	definitionRes = []*regexp.Regexp{
		regexp.MustCompile(`^what(?:\s+is|'s|s)\s+(?:an?\s+)?(.+)$`),
		regexp.MustCompile(`^what\s+does\s+(.+?)\s+(?:do|mean)$`),
		regexp.MustCompile(`^define\s+(.+)$`),
		regexp.MustCompile(`^how\s+does\s+(.+?)\s+work$`),
	}

	numberWord = `(?:\d+|a few|some|several|one|two|three|four|five|six|seven|eight|nine|ten|twelve|fifteen|twenty)`
	listRes    = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:give me|list|suggest|recommend|show me|find me)\s+` + numberWord + `\s+(?:[a-z'-]+\s+){0,3}?(?:swaps?|cards?|upgrades?|suggestions?|additions?|cuts?|replacements?|includes?)\b`),
		regexp.MustCompile(`\b(?:top|best)\s+\d+\s+\w+`),
	}

	legalityRes = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:legal|banned|restricted|legality)\s+in\s+(?:commander|edh|cedh|modern|standard|pioneer|legacy|vintage|pauper|brawl|historic|oathbreaker)\b`),
		regexp.MustCompile(`^(?:is|are|can i (?:play|use|run))\b.*\b(?:legal|banned|restricted|allowed)$`),
		regexp.MustCompile(`\bban ?list\b`),
	}

	longAnswerRes = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:analy[sz]e|analysis|improve|suggest|recommend|optimi[sz]e|upgrade|what.*wrong|what to change)\b`),
		regexp.MustCompile(`\b(?:how can i|what should i|help me (?:with|improve)|review my deck)\b`),
		regexp.MustCompile(`\b(?:synergy|strategy|game plan|curve|mana base)\b`),
	}

	deckAnalysisRes = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:analy[sz]e|analysis|improve|upgrade|optimi[sz]e|review)\s+(?:my\s+|this\s+)?(?:deck|list)\b`),
		regexp.MustCompile(`\b(?:what'?s? wrong|what is wrong)\s+(?:with\s+)?(?:my\s+)?(?:deck|list)\b`),
		regexp.MustCompile(`\bsuggest\s+(?:swap|card|upgrade)s?\b`),
		regexp.MustCompile(`\bbudget\s+swap|swap\s+suggestions\b`),
		regexp.MustCompile(`\b(?:how can i|what should i)\s+(?:improve|upgrade|fix)\b`),
		regexp.MustCompile(`\b(?:deck|list)\s+(?:analysis|improvement|suggestions)\b`),
	}
)

func matchDefinition(s *subject) bool {
	for _, re := range definitionRes {
		m := re.FindStringSubmatch(s.bare)
		if m == nil {
			continue
		}
		term := strings.TrimSpace(m[1])
		if _, ok := Glossary[term]; ok {
			s.term = term
			return true
		}
		if t := strings.TrimPrefix(term, "the "); t != term {
			if _, ok := Glossary[t]; ok {
				s.term = t
				return true
			}
		}
	}
	return false
}

func anyMatch(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// IsExplicitListRequest reports whether text asks for a counted list of
// cards, e.g. "give me 10 swaps".
func IsExplicitListRequest(text string) bool {
	return anyMatch(listRes, normalize(text))
}

// IsLongAnswerRequest reports whether text likely expects a long structured answer.
func IsLongAnswerRequest(text string) bool {
	return anyMatch(longAnswerRes, normalize(text))
}

// IsDeckAnalysisRequest reports whether text asks for analysis of a deck.
func IsDeckAnalysisRequest(text string) bool {
	return anyMatch(deckAnalysisRes, normalize(text))
}

func isFormatLegality(text string) bool {
	return anyMatch(legalityRes, strings.TrimRight(text, "!?. "))
}
