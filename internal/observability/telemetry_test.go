package observability

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/llmgov/internal/metrics"
)

func sampleMetricsRecord() metrics.Record {
	return metrics.Record{
		RequestID:    "req-1",
		Backend:      "openai",
		Model:        "gpt-4",
		LatencyMs:    123.45678,
		InputTokens:  100,
		OutputTokens: 150,
		TotalTokens:  250,
		CostUSD:      0.0120004999,
		Success:      true,
		Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600)),
		Metadata: metrics.Metadata{
			FeatureVersion: "1.2.3",
			ExperimentID:   "provider_comparison",
		},
	}
}

func TestNewRecord_Rounding(t *testing.T) {
	rec := NewRecord(sampleMetricsRecord(), RecordInput{CircuitState: "closed", PromptLength: 40, ResponseLength: 512})

	assert.Equal(t, 123.46, rec.LatencyMs)
	assert.Equal(t, 0.012000, rec.CostUSD)
	assert.Equal(t, time.UTC, rec.Timestamp.Location())
	assert.Equal(t, 11, rec.Timestamp.Hour())
	assert.Equal(t, TokenCounts{Input: 100, Output: 150, Total: 250}, rec.Tokens)
	assert.Equal(t, "closed", rec.CircuitBreakerState)
	assert.Equal(t, 40, rec.PromptLength)
	assert.Equal(t, 512, rec.ResponseLength)
	assert.False(t, rec.CacheHit)
}

func TestNewRecord_NullableFields(t *testing.T) {
	rec := NewRecord(sampleMetricsRecord(), RecordInput{CircuitState: "closed"})

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Nil(t, decoded["error"])
	assert.Contains(t, decoded, "error")

	meta := decoded["metadata"].(map[string]any)
	assert.Equal(t, "1.2.3", meta["feature_version"])
	assert.Equal(t, "provider_comparison", meta["experiment_id"])
	assert.Contains(t, meta, "prompt_version")
	assert.Nil(t, meta["prompt_version"])
	assert.Nil(t, meta["variant_id"])

	tokens := decoded["tokens"].(map[string]any)
	assert.Equal(t, float64(250), tokens["total"])
	assert.Equal(t, "openai", decoded["provider"])
	assert.Equal(t, false, decoded["cache_hit"])
}

func TestNewRecord_Failure(t *testing.T) {
	mr := sampleMetricsRecord()
	mr.Success = false
	mr.Error = "backend openai: service unavailable"
	mr.InputTokens, mr.OutputTokens, mr.TotalTokens, mr.CostUSD = 0, 0, 0, 0

	rec := NewRecord(mr, RecordInput{CircuitState: "open"})

	require.NotNil(t, rec.Error)
	assert.Equal(t, "backend openai: service unavailable", *rec.Error)
	assert.False(t, rec.Success)
	assert.Equal(t, "open", rec.CircuitBreakerState)
	assert.Zero(t, rec.CostUSD)
}
