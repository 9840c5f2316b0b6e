package gate_test

import (
	"strings"
	"testing"

	"github.com/manatap/triage/internal/classifier"
	"github.com/manatap/triage/internal/gate"
	"github.com/manatap/triage/pkg/models"
)

func layer0On() *models.RuntimeConfig {
	cfg := models.DefaultRuntimeConfig()
	cfg.Flags[models.FlagLLMLayer0] = true
	return cfg
}

func TestDecide_GreetingSkipsLLM(t *testing.T) {
	d := gate.Decide(models.GateInput{Text: "hello", Route: "chat", IsAuthenticated: true}, layer0On())
	if d.Mode != models.GateSkipLLM {
		t.Fatalf("Decide().Mode = %q, want %q", d.Mode, models.GateSkipLLM)
	}
	if d.Reason != models.ReasonGreeting {
		t.Errorf("Decide().Reason = %q, want %q", d.Reason, models.ReasonGreeting)
	}
	if d.CannedReply == "" {
		t.Error("Decide().CannedReply is empty for SKIP_LLM")
	}
}

func TestDecide_GuestGreetingMentionsSignIn(t *testing.T) {
	d := gate.Decide(models.GateInput{Text: "hi", Route: "chat"}, layer0On())
	if !strings.Contains(d.CannedReply, "Sign in") {
		t.Errorf("guest CannedReply = %q, want a sign-in hint", d.CannedReply)
	}
}

func TestDecide_DefinitionUsesGlossary(t *testing.T) {
	d := gate.Decide(models.GateInput{Text: "what is trample", Route: "chat"}, layer0On())
	if d.Mode != models.GateSkipLLM {
		t.Fatalf("Decide().Mode = %q, want %q", d.Mode, models.GateSkipLLM)
	}
	if !strings.Contains(d.CannedReply, "Trample") {
		t.Errorf("Decide().CannedReply = %q, want trample definition", d.CannedReply)
	}
}

func TestDecide_ForceFullRouteWins(t *testing.T) {
	cfg := layer0On()
	cfg.ForceFullRoutes = []string{"chat_stream"}

	d := gate.Decide(models.GateInput{Text: "hello", Route: "chat_stream"}, cfg)
	if d.Mode != models.GateFullLLM {
		t.Fatalf("Decide().Mode = %q, want %q", d.Mode, models.GateFullLLM)
	}
	if d.Reason != models.ReasonForceFullRoute {
		t.Errorf("Decide().Reason = %q, want %q", d.Reason, models.ReasonForceFullRoute)
	}
	if d.CannedReply != "" {
		t.Errorf("Decide().CannedReply = %q, want empty for FULL_LLM", d.CannedReply)
	}

	// Other routes are unaffected.
	if d := gate.Decide(models.GateInput{Text: "hello", Route: "chat"}, cfg); d.Mode != models.GateSkipLLM {
		t.Errorf("Decide(chat).Mode = %q, want %q", d.Mode, models.GateSkipLLM)
	}
}

func TestDecide_Layer0Disabled(t *testing.T) {
	cfg := models.DefaultRuntimeConfig()
	cfg.Flags[models.FlagLLMLayer0] = false

	d := gate.Decide(models.GateInput{Text: "hello", Route: "chat"}, cfg)
	if d.Mode != models.GateFullLLM || d.Reason != models.ReasonLayer0Disabled {
		t.Errorf("Decide() = %+v, want FULL_LLM/layer0_disabled", d)
	}
}

func TestDecide_NilConfigIsConservative(t *testing.T) {
	d := gate.Decide(models.GateInput{Text: "hello", Route: "chat"}, nil)
	if d.Mode != models.GateFullLLM {
		t.Errorf("Decide(nil cfg).Mode = %q, want %q", d.Mode, models.GateFullLLM)
	}
}

func TestDecide_DeckContextNeverSkips(t *testing.T) {
	d := gate.Decide(models.GateInput{Text: "thanks", HasDeckContext: true, Route: "chat"}, layer0On())
	if d.Mode != models.GateFullLLM {
		t.Errorf("Decide().Mode = %q, want %q", d.Mode, models.GateFullLLM)
	}
	if d.Tier != models.TierFull {
		t.Errorf("Decide().Tier = %q, want %q", d.Tier, models.TierFull)
	}
}

func TestDecide_StandardTierCallsLLM(t *testing.T) {
	d := gate.Decide(models.GateInput{Text: "best budget ramp?", Route: "chat"}, layer0On())
	if d.Mode != models.GateFullLLM {
		t.Errorf("Decide().Mode = %q, want %q", d.Mode, models.GateFullLLM)
	}
}

func TestDecideClassified_MatchesDecide(t *testing.T) {
	inputs := []models.GateInput{
		{Text: "thanks!", Route: "chat", IsAuthenticated: true},
		{Text: "what is trample", Route: "chat"},
		{Text: "analyze my deck", HasDeckContext: true, Route: "chat"},
		{Text: "is sol ring legal in commander", Route: "chat"},
	}
	cfg := layer0On()
	for _, in := range inputs {
		c := classifier.Classify(in.Text, in.HasDeckContext, in.DeckContextForCompose)
		if got, want := gate.DecideClassified(in, cfg, c), gate.Decide(in, cfg); got != want {
			t.Errorf("DecideClassified(%q) = %+v, want %+v", in.Text, got, want)
		}
	}
}
