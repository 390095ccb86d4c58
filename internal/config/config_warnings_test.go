package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func hasWarning(warnings []Warning, code string) bool {
	for _, w := range warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

func TestWarnings(t *testing.T) {
	t.Run("clean config", func(t *testing.T) {
		require.Empty(t, validConfig().Warnings())
	})

	t.Run("high failure rate", func(t *testing.T) {
		cfg := validConfig()
		cfg.Backends[0].FailureRate = 0.8
		require.True(t, hasWarning(cfg.Warnings(), WarningHighFailureRate))
	})

	t.Run("zero budget", func(t *testing.T) {
		cfg := validConfig()
		cfg.Limits.MonthlyBudgetUSD = 0
		require.True(t, hasWarning(cfg.Warnings(), WarningZeroBudget))
	})

	t.Run("short write timeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.WriteTimeout = time.Second
		require.True(t, hasWarning(cfg.Warnings(), WarningShortTimeout))
	})
}
