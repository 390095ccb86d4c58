// Package metrics aggregates per-backend request statistics for the governor
// and exports them to Prometheus.
package metrics

import (
	"slices"
	"sync"
	"time"
)

// Metadata carries caller-supplied tracking tags.
type Metadata struct {
	FeatureVersion string `json:"feature_version,omitempty"`
	PromptVersion  string `json:"prompt_version,omitempty"`
	ExperimentID   string `json:"experiment_id,omitempty"`
	VariantID      string `json:"variant_id,omitempty"`
}

// Record is the immutable snapshot of one completed request.
type Record struct {
	RequestID    string    `json:"request_id"`
	Backend      string    `json:"backend"`
	Model        string    `json:"model"`
	LatencyMs    float64   `json:"latency_ms"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Metadata     Metadata  `json:"metadata"`
}

// ProviderStats is the derived view of one backend's aggregate.
type ProviderStats struct {
	TotalRequests      int     `json:"total_requests"`
	SuccessfulRequests int     `json:"successful_requests"`
	FailedRequests     int     `json:"failed_requests"`
	TotalTokens        int     `json:"total_tokens"`
	TotalCost          float64 `json:"total_cost"`
	ErrorRate          float64 `json:"error_rate"`
	AvgLatencyMs       float64 `json:"avg_latency"`
	MinLatencyMs       float64 `json:"min_latency"`
	MaxLatencyMs       float64 `json:"max_latency"`
	P50LatencyMs       float64 `json:"latency_p50"`
	P95LatencyMs       float64 `json:"latency_p95"`
	P99LatencyMs       float64 `json:"latency_p99"`
}

// SuccessRate returns 1 - ErrorRate.
func (s ProviderStats) SuccessRate() float64 {
	return 1 - s.ErrorRate
}

type aggregate struct {
	totalRequests      int
	successfulRequests int
	failedRequests     int
	totalTokens        int
	totalCost          float64
	latencies          []float64
}

// Collector keeps the ordered request log and per-backend aggregates.
// A single lock guards both.
type Collector struct {
	mu       sync.RWMutex
	records  []Record
	backends map[string]*aggregate
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{backends: make(map[string]*aggregate)}
}

// Record appends rec to the log and folds it into its backend's aggregate.
func (c *Collector) Record(rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = append(c.records, rec)

	agg, ok := c.backends[rec.Backend]
	if !ok {
		agg = &aggregate{}
		c.backends[rec.Backend] = agg
	}
	agg.totalRequests++
	agg.totalTokens += rec.TotalTokens
	agg.totalCost += rec.CostUSD
	agg.latencies = append(agg.latencies, rec.LatencyMs)
	if rec.Success {
		agg.successfulRequests++
	} else {
		agg.failedRequests++
	}
}

// ProviderStats returns the stats for backend, or false if it has no aggregate.
func (c *Collector) ProviderStats(backend string) (ProviderStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	agg, ok := c.backends[backend]
	if !ok {
		return ProviderStats{}, false
	}
	return agg.stats(), true
}

// AllStats returns stats for every backend with at least one recorded request.
func (c *Collector) AllStats() map[string]ProviderStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]ProviderStats, len(c.backends))
	for name, agg := range c.backends {
		if agg.totalRequests > 0 {
			out[name] = agg.stats()
		}
	}
	return out
}

// TotalCost sums cost across all backend aggregates.
func (c *Collector) TotalCost() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var total float64
	for _, agg := range c.backends {
		total += agg.totalCost
	}
	return total
}

// TotalRequests returns the number of records ever appended since the last Reset.
func (c *Collector) TotalRequests() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Records returns a copy of the request log, oldest first.
func (c *Collector) Records() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.records)
}

// ResetBackend clears one backend's aggregate. The request log, and therefore
// TotalRequests, is untouched.
func (c *Collector) ResetBackend(backend string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.backends, backend)
}

// Reset clears the log and every aggregate.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = nil
	c.backends = make(map[string]*aggregate)
}

func (a *aggregate) stats() ProviderStats {
	s := ProviderStats{
		TotalRequests:      a.totalRequests,
		SuccessfulRequests: a.successfulRequests,
		FailedRequests:     a.failedRequests,
		TotalTokens:        a.totalTokens,
		TotalCost:          a.totalCost,
	}
	if a.totalRequests > 0 {
		s.ErrorRate = float64(a.failedRequests) / float64(a.totalRequests)
	}

	n := len(a.latencies)
	if n == 0 {
		return s
	}

	sorted := slices.Clone(a.latencies)
	slices.Sort(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	s.AvgLatencyMs = sum / float64(n)
	s.MinLatencyMs = sorted[0]
	s.MaxLatencyMs = sorted[n-1]
	s.P50LatencyMs, s.P95LatencyMs, s.P99LatencyMs = Percentiles(sorted)
	return s
}

// Percentiles returns p50, p95 and p99 of an ascending slice using truncating
// index arithmetic: sorted[n/2], sorted[int(n*0.95)], sorted[int(n*0.99)].
// An empty slice yields zeros.
func Percentiles(sorted []float64) (p50, p95, p99 float64) {
	n := len(sorted)
	if n == 0 {
		return 0, 0, 0
	}
	if n == 1 {
		return sorted[0], sorted[0], sorted[0]
	}
	return sorted[n/2], sorted[int(float64(n)*0.95)], sorted[int(float64(n)*0.99)]
}
