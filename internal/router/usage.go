package router

import "github.com/manatap/triage/pkg/models"

// ── Usage Tracking ──────────────────────────────────────────

func newUsageSummary() *models.UsageSummary {
	return &models.UsageSummary{
		ByRoute:      make(map[string]int64),
		ByModel:      make(map[string]int64),
		SkipByReason: make(map[string]int64),
	}
}

func routeKey(route string) string {
	if route == "" {
		return "default"
	}
	return route
}

func (r *Router) trackUsage(route string, resp *models.CompletionResponse) {
	r.usageMu.Lock()
	defer r.usageMu.Unlock()

	cost := estimateCost(resp)
	r.usage.Requests++
	r.usage.TotalTokens += resp.Usage.TotalTokens
	r.usage.EstimatedUSD += cost
	r.spend.add(r.now(), cost)
	r.usage.ByRoute[routeKey(route)] += resp.Usage.TotalTokens
	r.usage.ByModel[resp.Model] += resp.Usage.TotalTokens
}

func (r *Router) trackSkip(route string, reason models.Reason) {
	r.usageMu.Lock()
	defer r.usageMu.Unlock()

	r.usage.Requests++
	r.usage.Skipped++
	r.usage.SkipByReason[string(reason)]++
	if _, ok := r.usage.ByRoute[routeKey(route)]; !ok {
		r.usage.ByRoute[routeKey(route)] = 0
	}
}

// UsageSummary returns a copy of the accumulated usage since process start.
func (r *Router) UsageSummary() *models.UsageSummary {
	r.usageMu.RLock()
	defer r.usageMu.RUnlock()

	out := &models.UsageSummary{
		Requests:     r.usage.Requests,
		Skipped:      r.usage.Skipped,
		TotalTokens:  r.usage.TotalTokens,
		EstimatedUSD: r.usage.EstimatedUSD,
		ByRoute:      make(map[string]int64, len(r.usage.ByRoute)),
		ByModel:      make(map[string]int64, len(r.usage.ByModel)),
		SkipByReason: make(map[string]int64, len(r.usage.SkipByReason)),
	}
	out.DailyUSD, out.WeeklyUSD = r.spend.totals(r.now())
	for k, v := range r.usage.ByRoute {
		out.ByRoute[k] = v
	}
	for k, v := range r.usage.ByModel {
		out.ByModel[k] = v
	}
	for k, v := range r.usage.SkipByReason {
		out.SkipByReason[k] = v
	}
	return out
}
