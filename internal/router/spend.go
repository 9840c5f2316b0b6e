package router

import (
	"strings"
	"time"

	"github.com/manatap/triage/pkg/models"
)

// ── Spend Estimation ────────────────────────────────────────

// defaultCosts is the estimated USD per 1K tokens by model and direction.
var defaultCosts = map[string]map[string]float64{
	"gpt-5":        {"input": 0.00125, "output": 0.01},
	"gpt-5-codex":  {"input": 0.00125, "output": 0.01},
	"gpt-5-mini":   {"input": 0.00025, "output": 0.002},
	"gpt-5-nano":   {"input": 0.00005, "output": 0.0004},
	"gpt-4.1":      {"input": 0.002, "output": 0.008},
	"gpt-4.1-mini": {"input": 0.0004, "output": 0.0016},
	"gpt-4o":       {"input": 0.0025, "output": 0.01},
	"gpt-4o-mini":  {"input": 0.00015, "output": 0.0006},
}

// fallbackCostPer1K applies to models without a price entry.
const fallbackCostPer1K = 0.001

// spendWindowDays is the length of the weekly spend window.
const spendWindowDays = 7

func modelCost(model, direction string) float64 {
	m := strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	if costs, ok := defaultCosts[m]; ok {
		return costs[direction]
	}
	return fallbackCostPer1K
}

// estimateCost returns the estimated USD cost of one completion.
func estimateCost(resp *models.CompletionResponse) float64 {
	return float64(resp.Usage.InputTokens)/1000*modelCost(resp.Model, "input") +
		float64(resp.Usage.OutputTokens)/1000*modelCost(resp.Model, "output")
}

// spendLedger sums estimated spend per UTC day. Callers hold usageMu.
type spendLedger struct {
	days map[string]float64
}

func newSpendLedger() *spendLedger {
	return &spendLedger{days: make(map[string]float64)}
}

func dayKey(t time.Time) string { return t.UTC().Format(time.DateOnly) }

func (l *spendLedger) add(now time.Time, usd float64) {
	l.days[dayKey(now)] += usd
	oldest := dayKey(now.AddDate(0, 0, -(spendWindowDays - 1)))
	for k := range l.days {
		if k < oldest {
			delete(l.days, k)
		}
	}
}

// totals returns the spend for the current UTC day and the last seven days.
func (l *spendLedger) totals(now time.Time) (daily, weekly float64) {
	daily = l.days[dayKey(now)]
	for i := 0; i < spendWindowDays; i++ {
		weekly += l.days[dayKey(now.AddDate(0, 0, -i))]
	}
	return daily, weekly
}

// nearBudgetCap reports whether estimated spend has reached
// NearBudgetCapPct percent of the daily or weekly budget. A zero budget or
// percentage disables the check.
func (r *Router) nearBudgetCap(cfg *models.RuntimeConfig) bool {
	pct := cfg.LLMThresholds.NearBudgetCapPct
	if pct <= 0 {
		return false
	}

	r.usageMu.RLock()
	daily, weekly := r.spend.totals(r.now())
	r.usageMu.RUnlock()

	b := cfg.LLMBudget
	if b.DailyUSD > 0 && daily >= b.DailyUSD*pct/100 {
		return true
	}
	return b.WeeklyUSD > 0 && weekly >= b.WeeklyUSD*pct/100
}
