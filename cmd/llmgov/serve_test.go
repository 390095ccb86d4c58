package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/llmgov/internal/config"
	"github.com/blueberrycongee/llmgov/internal/observability"
	"github.com/blueberrycongee/llmgov/providers/mock"
)

func testConfig(backends ...config.BackendConfig) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Backends = backends
	return cfg
}

func TestBuildRuntime(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(
		config.BackendConfig{ID: "openai", Type: "openai"},
		config.BackendConfig{ID: "local", Type: "mock", Model: "llama-3-70b", InputCostPer1K: 0.001, OutputCostPer1K: 0.002},
	)
	cfg.Telemetry.JSONLPath = t.TempDir() + "/telemetry.jsonl"
	cfg.Telemetry.SQLitePath = t.TempDir() + "/telemetry.db"

	rt, err := buildRuntime(ctx, cfg, observability.NopLogger(), observability.NewRedactor(), nil)
	require.NoError(t, err)
	defer func() { _ = rt.close(ctx) }()

	assert.Equal(t, []string{"openai", "local"}, rt.gov.Backends())
	assert.Equal(t, []string{"memory", "jsonl", "sqlite"}, rt.gov.Sinks())
	assert.Nil(t, rt.gov.MetricsRecorder())
}

func TestBuildRuntimeRedisUnreachable(t *testing.T) {
	cfg := testConfig(config.BackendConfig{ID: "openai", Type: "openai"})
	cfg.Telemetry.Redis.Enabled = true
	cfg.Telemetry.Redis.Addr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := buildRuntime(ctx, cfg, observability.NopLogger(), observability.NewRedactor(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect redis")
}

func TestApplyConfigChange(t *testing.T) {
	ctx := context.Background()
	old := testConfig(
		config.BackendConfig{ID: "openai", Type: "openai"},
		config.BackendConfig{ID: "anthropic", Type: "anthropic"},
	)
	rt, err := buildRuntime(ctx, old, observability.NopLogger(), observability.NewRedactor(), nil)
	require.NoError(t, err)
	defer func() { _ = rt.close(ctx) }()

	t.Run("tunable settings only", func(t *testing.T) {
		updated := testConfig(
			config.BackendConfig{ID: "openai", Type: "openai", FailureRate: 0.4},
			config.BackendConfig{ID: "anthropic", Type: "anthropic"},
		)
		restart := applyConfigChange(rt.gov, observability.NopLogger(), old, updated)
		assert.Empty(t, restart)

		b, ok := rt.gov.Backend("openai")
		require.True(t, ok)
		p, ok := b.(*mock.Provider)
		require.True(t, ok)
		assert.InDelta(t, 0.4, p.FailureRate(), 1e-9)
	})

	t.Run("structural changes", func(t *testing.T) {
		updated := testConfig(config.BackendConfig{ID: "openai", Type: "openai"})
		updated.Limits.MonthlyBudgetUSD = 10
		updated.Cache.TTL = time.Minute
		restart := applyConfigChange(rt.gov, observability.NopLogger(), old, updated)
		assert.Equal(t, []string{"backends", "cache", "limits"}, restart)
	})
}
