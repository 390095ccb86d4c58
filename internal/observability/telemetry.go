package observability

import (
	"math"
	"time"

	"github.com/blueberrycongee/llmgov/internal/metrics"
)

// TokenCounts is the token block of a telemetry record.
type TokenCounts struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// TelemetryMetadata carries tracking tags. Unset tags encode as null.
type TelemetryMetadata struct {
	FeatureVersion *string `json:"feature_version"`
	PromptVersion  *string `json:"prompt_version"`
	ExperimentID   *string `json:"experiment_id"`
	VariantID      *string `json:"variant_id"`
}

// Record is the structured telemetry entry emitted once per completed request.
type Record struct {
	Timestamp           time.Time         `json:"timestamp"`
	RequestID           string            `json:"request_id"`
	Provider            string            `json:"provider"`
	Model               string            `json:"model"`
	LatencyMs           float64           `json:"latency_ms"`
	Tokens              TokenCounts       `json:"tokens"`
	CostUSD             float64           `json:"cost_usd"`
	Success             bool              `json:"success"`
	Error               *string           `json:"error"`
	CacheHit            bool              `json:"cache_hit"`
	CircuitBreakerState string            `json:"circuit_breaker_state"`
	Metadata            TelemetryMetadata `json:"metadata"`
	PromptLength        int               `json:"prompt_length"`
	ResponseLength      int               `json:"response_length"`
}

// RecordInput is what the governor knows about a request beyond its metrics record.
type RecordInput struct {
	CacheHit       bool
	CircuitState   string
	PromptLength   int
	ResponseLength int
}

// NewRecord builds a telemetry entry from a metrics record. Latency is rounded
// to 2 decimal places and cost to 6; the timestamp is normalised to UTC.
func NewRecord(rec metrics.Record, in RecordInput) *Record {
	out := &Record{
		Timestamp: rec.Timestamp.UTC(),
		RequestID: rec.RequestID,
		Provider:  rec.Backend,
		Model:     rec.Model,
		LatencyMs: round(rec.LatencyMs, 2),
		Tokens: TokenCounts{
			Input:  rec.InputTokens,
			Output: rec.OutputTokens,
			Total:  rec.TotalTokens,
		},
		CostUSD:             round(rec.CostUSD, 6),
		Success:             rec.Success,
		Error:               optional(rec.Error),
		CacheHit:            in.CacheHit,
		CircuitBreakerState: in.CircuitState,
		Metadata: TelemetryMetadata{
			FeatureVersion: optional(rec.Metadata.FeatureVersion),
			PromptVersion:  optional(rec.Metadata.PromptVersion),
			ExperimentID:   optional(rec.Metadata.ExperimentID),
			VariantID:      optional(rec.Metadata.VariantID),
		},
		PromptLength:   in.PromptLength,
		ResponseLength: in.ResponseLength,
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
