package metrics

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func rec(backend string, latency float64, tokens int, cost float64, ok bool) Record {
	return Record{
		RequestID:   "req",
		Backend:     backend,
		Model:       "gpt-4",
		LatencyMs:   latency,
		TotalTokens: tokens,
		CostUSD:     cost,
		Success:     ok,
	}
}

func TestCollector_Percentiles(t *testing.T) {
	c := NewCollector()
	for _, l := range []float64{300, 100, 500, 200, 400} {
		c.Record(rec("openai", l, 10, 0.01, true))
	}

	stats, ok := c.ProviderStats("openai")
	require.True(t, ok)
	assert.Equal(t, 300.0, stats.P50LatencyMs)
	assert.Equal(t, 500.0, stats.P95LatencyMs)
	assert.Equal(t, 500.0, stats.P99LatencyMs)
	assert.Equal(t, 300.0, stats.AvgLatencyMs)
	assert.Equal(t, 100.0, stats.MinLatencyMs)
	assert.Equal(t, 500.0, stats.MaxLatencyMs)
}

func TestCollector_SingleLatency(t *testing.T) {
	c := NewCollector()
	c.Record(rec("openai", 42, 0, 0, false))

	stats, ok := c.ProviderStats("openai")
	require.True(t, ok)
	assert.Equal(t, 42.0, stats.P50LatencyMs)
	assert.Equal(t, 42.0, stats.P95LatencyMs)
	assert.Equal(t, 42.0, stats.P99LatencyMs)
	assert.Equal(t, 1.0, stats.ErrorRate)
	assert.Equal(t, 0.0, stats.SuccessRate())
}

func TestCollector_Aggregates(t *testing.T) {
	c := NewCollector()
	c.Record(rec("openai", 1000, 100, 0.5, true))
	c.Record(rec("openai", 1200, 0, 0, false))
	c.Record(rec("anthropic", 800, 50, 0.25, true))

	all := c.AllStats()
	require.Len(t, all, 2)

	openai := all["openai"]
	assert.Equal(t, 2, openai.TotalRequests)
	assert.Equal(t, 1, openai.SuccessfulRequests)
	assert.Equal(t, 1, openai.FailedRequests)
	assert.Equal(t, 100, openai.TotalTokens)
	assert.Equal(t, 0.5, openai.ErrorRate)

	assert.InDelta(t, 0.75, c.TotalCost(), 1e-9)
	assert.Equal(t, 3, c.TotalRequests())
	assert.Len(t, c.Records(), 3)
}

func TestCollector_UnknownBackend(t *testing.T) {
	_, ok := NewCollector().ProviderStats("missing")
	assert.False(t, ok)
}

func TestCollector_ResetBackendKeepsTotalRequests(t *testing.T) {
	c := NewCollector()
	c.Record(rec("openai", 100, 10, 0.1, true))
	c.Record(rec("anthropic", 100, 10, 0.2, true))

	c.ResetBackend("openai")

	_, ok := c.ProviderStats("openai")
	assert.False(t, ok)
	assert.Equal(t, 2, c.TotalRequests())
	assert.InDelta(t, 0.2, c.TotalCost(), 1e-9)

	c.Reset()
	assert.Zero(t, c.TotalRequests())
	assert.Empty(t, c.AllStats())
}

func TestCollector_RecordsAreCopies(t *testing.T) {
	c := NewCollector()
	c.Record(rec("openai", 100, 10, 0.1, true))

	records := c.Records()
	records[0].Backend = "mutated"

	assert.Equal(t, "openai", c.Records()[0].Backend)
}

func TestPercentiles_Empty(t *testing.T) {
	p50, p95, p99 := Percentiles(nil)
	assert.Zero(t, p50)
	assert.Zero(t, p95)
	assert.Zero(t, p99)
}

func TestPercentiles_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOfN(rapid.Float64Range(0, 10000), 1, 500).Draw(t, "latencies")
		slices.Sort(values)

		p50, p95, p99 := Percentiles(values)
		if p50 > p95 || p95 > p99 {
			t.Fatalf("percentiles out of order: %v %v %v", p50, p95, p99)
		}
		if p50 < values[0] || p99 > values[len(values)-1] {
			t.Fatalf("percentile outside sample range")
		}
		if p50 != values[len(values)/2] {
			t.Fatalf("p50 = %v, want sorted[n/2] = %v", p50, values[len(values)/2])
		}
	})
}
