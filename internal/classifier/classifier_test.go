package classifier_test

import (
	"testing"

	"github.com/manatap/triage/internal/classifier"
	"github.com/manatap/triage/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		deck       bool
		compose    string
		wantTier   models.Tier
		wantReason models.Reason
	}{
		{"hello", "hello", false, "", models.TierMicro, models.ReasonGreeting},
		{"hi", "hi", false, "", models.TierMicro, models.ReasonGreeting},
		{"thanks", "thanks", false, "", models.TierMicro, models.ReasonGreeting},
		{"thank you with punctuation", "  Thank you so much!! ", false, "", models.TierMicro, models.ReasonGreeting},
		{"definition", "what is trample", false, "", models.TierMicro, models.ReasonSimpleDefinition},
		{"definition question mark", "What does lifelink do?", false, "", models.TierMicro, models.ReasonSimpleDefinition},
		{"definition with article", "what is the stack?", false, "", models.TierMicro, models.ReasonSimpleDefinition},
		{"unknown term is not micro", "what is sol ring", false, "", models.TierStandard, models.ReasonDefault},
		{"legality", "is mana crypt banned in commander?", false, "", models.TierStandard, models.ReasonFormatLegality},
		{"long answer", "how can i make this more consistent", false, "", models.TierStandard, models.ReasonLongAnswer},
		{"short question", "best budget ramp?", false, "", models.TierStandard, models.ReasonDefault},
		{"short why", "why no lands?", false, "", models.TierStandard, models.ReasonDefault},
		{"empty", "   ", false, "", models.TierStandard, models.ReasonEmptyInput},
		{"deck context wins over greeting", "hello", true, "", models.TierFull, models.ReasonDeckContext},
		{"compose context counts as deck", "what is trample", false, "Commander: Atraxa\n1 Sol Ring", models.TierFull, models.ReasonDeckContext},
		{"list request without deck", "give me 10 swaps", false, "", models.TierFull, models.ReasonExplicitListRequest},
		{"list request with adjectives", "Suggest 5 budget ramp cards", false, "", models.TierFull, models.ReasonExplicitListRequest},
		{"top n", "top 3 commanders for zombies", false, "", models.TierFull, models.ReasonExplicitListRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifier.Classify(tt.text, tt.deck, tt.compose)
			if got.Tier != tt.wantTier {
				t.Errorf("Classify(%q).Tier = %q, want %q", tt.text, got.Tier, tt.wantTier)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Classify(%q).Reason = %q, want %q", tt.text, got.Reason, tt.wantReason)
			}
		})
	}
}

func TestClassify_DeckContextAlwaysFull(t *testing.T) {
	texts := []string{"", "hi", "thanks", "what is trample", "best budget ramp?", "is sol ring legal in commander", "give me 3 swaps"}
	for _, text := range texts {
		if got := classifier.Classify(text, true, ""); got.Tier != models.TierFull {
			t.Errorf("Classify(%q, deck=true).Tier = %q, want full", text, got.Tier)
		}
	}
}

func TestClassify_BrevityNeverMicro(t *testing.T) {
	for _, text := range []string{"best budget ramp?", "why no lands?", "sol ring?", "ramp", "cEDH?", "combo?"} {
		if got := classifier.Classify(text, false, ""); got.Tier == models.TierMicro {
			t.Errorf("Classify(%q).Tier = micro, short questions must not be micro", text)
		}
	}
}

func TestClassify_Deterministic(t *testing.T) {
	a := classifier.Classify("What is Ward?", false, "")
	b := classifier.Classify("What is Ward?", false, "")
	if a != b {
		t.Errorf("Classify() not deterministic: %+v vs %+v", a, b)
	}
	if a.Term != "ward" {
		t.Errorf("Classify().Term = %q, want %q", a.Term, "ward")
	}
}

func TestDefinitionFor(t *testing.T) {
	if _, ok := classifier.DefinitionFor(" Trample "); !ok {
		t.Error("DefinitionFor(trample) not found")
	}
	if _, ok := classifier.DefinitionFor("sol ring"); ok {
		t.Error("DefinitionFor(sol ring) should not be found")
	}
}

func TestIsDeckAnalysisRequest(t *testing.T) {
	if !classifier.IsDeckAnalysisRequest("Can you analyze my deck?") {
		t.Error("IsDeckAnalysisRequest() = false for analysis request")
	}
	if classifier.IsDeckAnalysisRequest("what is haste") {
		t.Error("IsDeckAnalysisRequest() = true for rules question")
	}
}
