package advice_test

import (
	"strings"
	"testing"

	"github.com/manatap/triage/internal/advice"
	"github.com/manatap/triage/pkg/models"
)

func baseInput() models.AdviceKeyInput {
	return models.AdviceKeyInput{
		Deck: []models.DeckCard{
			{Name: "Sol Ring", Count: 1},
			{Name: "Forest", Count: 30},
			{Name: "Llanowar Elves", Count: 1},
		},
		Hand:          []string{"Forest", "Sol Ring", "Llanowar Elves"},
		PlayDraw:      "play",
		MulliganCount: 0,
		ModelTier:     "mini",
		Format:        "commander",
	}
}

func TestKey_Format(t *testing.T) {
	key := advice.Key(baseInput())
	parts := strings.Split(key, ":")
	if len(parts) != 8 {
		t.Fatalf("Key() = %q, want 8 segments", key)
	}
	if parts[0] != "mulligan" || parts[1] != "v1" {
		t.Errorf("Key() prefix = %q", parts[0]+":"+parts[1])
	}
	if len(parts[2]) != 16 || len(parts[3]) != 16 {
		t.Errorf("Key() hash segments = %q, %q, want 16 hex chars", parts[2], parts[3])
	}
	if got := strings.Join(parts[4:], ":"); got != "play:0:mini:commander" {
		t.Errorf("Key() tail = %q", got)
	}
}

func TestKey_OrderAndCaseIndependent(t *testing.T) {
	a := baseInput()
	b := models.AdviceKeyInput{
		Deck: []models.DeckCard{
			{Name: "llanowar  elves", Count: 1},
			{Name: "FOREST", Count: 30},
			{Name: " sol ring ", Count: 1},
		},
		Hand:          []string{"LLANOWAR ELVES", "forest", "Sol Ring"},
		PlayDraw:      " PLAY ",
		MulliganCount: 0,
		ModelTier:     "Mini",
		Format:        "Commander",
	}
	if advice.Key(a) != advice.Key(b) {
		t.Errorf("Key() differs for reordered/recased input:\n%s\n%s", advice.Key(a), advice.Key(b))
	}
}

func TestKey_DefaultFormat(t *testing.T) {
	in := baseInput()
	in.Format = ""
	if advice.Key(in) != advice.Key(baseInput()) {
		t.Error("empty format should default to commander")
	}
}

func TestKey_Sensitivity(t *testing.T) {
	base := advice.Key(baseInput())

	tests := []struct {
		name   string
		mutate func(*models.AdviceKeyInput)
	}{
		{"play_draw", func(in *models.AdviceKeyInput) { in.PlayDraw = "draw" }},
		{"mulligans", func(in *models.AdviceKeyInput) { in.MulliganCount = 1 }},
		{"model_tier", func(in *models.AdviceKeyInput) { in.ModelTier = "full" }},
		{"format", func(in *models.AdviceKeyInput) { in.Format = "modern" }},
		{"hand", func(in *models.AdviceKeyInput) { in.Hand = in.Hand[:2] }},
		{"deck_count", func(in *models.AdviceKeyInput) { in.Deck[1].Count = 29 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput()
			tt.mutate(&in)
			if advice.Key(in) == base {
				t.Errorf("Key() unchanged after changing %s", tt.name)
			}
		})
	}
}

func TestCanonicalDeck(t *testing.T) {
	deck := []models.DeckCard{
		{Name: "Island", Count: 10},
		{Name: "", Count: 3},
		{Name: "island", Count: 5},
		{Name: "Brainstorm", Count: 0},
	}
	if got, want := advice.CanonicalDeck(deck), "1|brainstorm;15|island"; got != want {
		t.Errorf("CanonicalDeck() = %q, want %q", got, want)
	}
}

func TestCanonicalHand(t *testing.T) {
	got := advice.CanonicalHand([]string{"Island", "Brainstorm", "island", "  "})
	if want := "brainstorm;island;island"; got != want {
		t.Errorf("CanonicalHand() = %q, want %q", got, want)
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  Sol   Ring ", "sol ring"},
		{"ÆTHER VIAL", "æther vial"},
		{"Ｓｏｌ Ring", "sol ring"}, // fullwidth compatibility forms
	}
	for _, tt := range tests {
		if got := advice.NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSegmentHash(t *testing.T) {
	h := advice.SegmentHash("x")
	if len(h) != 16 || h != advice.SegmentHash("x") {
		t.Errorf("SegmentHash() = %q", h)
	}
	if h == advice.SegmentHash("y") {
		t.Error("SegmentHash() collided for different inputs")
	}
}
