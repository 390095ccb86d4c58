package observability

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const createTelemetryTable = `
CREATE TABLE IF NOT EXISTS telemetry (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	latency_ms REAL NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	cost_usd REAL NOT NULL,
	success INTEGER NOT NULL,
	error TEXT,
	cache_hit INTEGER NOT NULL,
	circuit_state TEXT NOT NULL,
	feature_version TEXT,
	prompt_version TEXT,
	experiment_id TEXT,
	variant_id TEXT,
	prompt_length INTEGER NOT NULL,
	response_length INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_telemetry_provider ON telemetry(provider);
CREATE INDEX IF NOT EXISTS idx_telemetry_created ON telemetry(created_at);
`

// ProviderSummary aggregates stored telemetry for one backend.
type ProviderSummary struct {
	Provider     string
	Requests     int64
	Failures     int64
	CacheHits    int64
	TotalTokens  int64
	TotalCostUSD float64
}

// SQLiteSink persists telemetry records to a SQLite database.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) dbPath and runs auto-migration.
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}

	if _, err := db.Exec(createTelemetryTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate telemetry db: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

// Name returns "sqlite".
func (s *SQLiteSink) Name() string { return "sqlite" }

// Emit inserts rec.
func (s *SQLiteSink) Emit(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO telemetry (request_id, provider, model, latency_ms, input_tokens, output_tokens,
			total_tokens, cost_usd, success, error, cache_hit, circuit_state, feature_version,
			prompt_version, experiment_id, variant_id, prompt_length, response_length, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Provider, rec.Model, rec.LatencyMs,
		rec.Tokens.Input, rec.Tokens.Output, rec.Tokens.Total, rec.CostUSD,
		rec.Success, rec.Error, rec.CacheHit, rec.CircuitBreakerState,
		rec.Metadata.FeatureVersion, rec.Metadata.PromptVersion,
		rec.Metadata.ExperimentID, rec.Metadata.VariantID,
		rec.PromptLength, rec.ResponseLength, rec.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert telemetry: %w", err)
	}
	return nil
}

// Summary returns per-provider aggregates ordered by provider.
func (s *SQLiteSink) Summary(ctx context.Context) ([]ProviderSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, COUNT(*), SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END),
			SUM(cache_hit), SUM(total_tokens), SUM(cost_usd)
		 FROM telemetry GROUP BY provider ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var out []ProviderSummary
	for rows.Next() {
		var p ProviderSummary
		if err := rows.Scan(&p.Provider, &p.Requests, &p.Failures, &p.CacheHits, &p.TotalTokens, &p.TotalCostUSD); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Recent returns up to limit of the newest records, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, provider, model, latency_ms, input_tokens, output_tokens, total_tokens,
			cost_usd, success, error, cache_hit, circuit_state, feature_version, prompt_version,
			experiment_id, variant_id, prompt_length, response_length, created_at
		 FROM telemetry ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent telemetry: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                        Record
			errText, feature, prompt sql.NullString
			experiment, variant      sql.NullString
			createdAt                time.Time
		)
		if err := rows.Scan(&r.RequestID, &r.Provider, &r.Model, &r.LatencyMs,
			&r.Tokens.Input, &r.Tokens.Output, &r.Tokens.Total, &r.CostUSD,
			&r.Success, &errText, &r.CacheHit, &r.CircuitBreakerState,
			&feature, &prompt, &experiment, &variant,
			&r.PromptLength, &r.ResponseLength, &createdAt); err != nil {
			return nil, fmt.Errorf("scan telemetry: %w", err)
		}
		r.Error = nullable(errText)
		r.Metadata = TelemetryMetadata{
			FeatureVersion: nullable(feature),
			PromptVersion:  nullable(prompt),
			ExperimentID:   nullable(experiment),
			VariantID:      nullable(variant),
		}
		r.Timestamp = createdAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Shutdown closes the database.
func (s *SQLiteSink) Shutdown(context.Context) error {
	return s.db.Close()
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
