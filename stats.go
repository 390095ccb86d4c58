package llmgov

import (
	"github.com/blueberrycongee/llmgov/internal/cache"
	"github.com/blueberrycongee/llmgov/internal/governance"
	"github.com/blueberrycongee/llmgov/internal/metrics"
	"github.com/blueberrycongee/llmgov/internal/resilience"
)

// Stats is a point-in-time view of the governor. Providers only lists
// backends with at least one recorded request.
type Stats struct {
	Providers       map[string]metrics.ProviderStats    `json:"providers"`
	TotalRequests   int                                 `json:"total_requests"`
	TotalCost       float64                             `json:"total_cost"`
	TokenLimiter    governance.TokenSnapshot            `json:"token_limiter"`
	CostLimiter     governance.BudgetSnapshot           `json:"cost_limiter"`
	Cache           cache.Stats                         `json:"cache"`
	CircuitBreakers map[string]resilience.CircuitStats `json:"circuit_breakers"`

	// Backends lists every backend id in selection order.
	Backends []string `json:"backends"`
}

// Stats collects metrics, limiter, cache and breaker snapshots. Reading the
// cache stats sweeps expired entries and reading breaker state may move an
// open circuit to half-open.
func (g *Governor) Stats() Stats {
	return Stats{
		Providers:       g.collector.AllStats(),
		TotalRequests:   g.collector.TotalRequests(),
		TotalCost:       g.collector.TotalCost(),
		TokenLimiter:    g.tokens.Snapshot(),
		CostLimiter:     g.budget.Snapshot(),
		Cache:           g.cache.Stats(),
		CircuitBreakers: g.breakers.Stats(),
		Backends:        g.Backends(),
	}
}

// Records returns every metrics record in arrival order.
func (g *Governor) Records() []metrics.Record {
	return g.collector.Records()
}
