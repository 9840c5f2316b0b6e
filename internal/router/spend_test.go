package router

import (
	"math"
	"testing"
	"time"

	"github.com/manatap/triage/pkg/models"
)

func TestSpendLedger_Windows(t *testing.T) {
	l := newSpendLedger()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	l.add(now.AddDate(0, 0, -8), 5)
	l.add(now.AddDate(0, 0, -6), 2)
	l.add(now.AddDate(0, 0, -1), 1)
	l.add(now, 0.5)

	daily, weekly := l.totals(now)
	if daily != 0.5 {
		t.Errorf("daily = %v, want 0.5", daily)
	}
	if weekly != 3.5 {
		t.Errorf("weekly = %v, want 3.5", weekly)
	}
	if _, ok := l.days[dayKey(now.AddDate(0, 0, -8))]; ok {
		t.Error("spend older than the window was not pruned")
	}
}

func TestEstimateCost(t *testing.T) {
	resp := &models.CompletionResponse{
		Model: "openai/GPT-4o-mini",
		Usage: models.TokenUsage{InputTokens: 2000, OutputTokens: 1000},
	}
	want := 2*0.00015 + 0.0006
	if got := estimateCost(resp); math.Abs(got-want) > 1e-12 {
		t.Errorf("estimateCost() = %v, want %v", got, want)
	}

	resp.Model = "unknown-model"
	if got := estimateCost(resp); math.Abs(got-3*fallbackCostPer1K) > 1e-12 {
		t.Errorf("estimateCost(unknown) = %v, want %v", got, 3*fallbackCostPer1K)
	}
}
