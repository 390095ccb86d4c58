package llmgov

import (
	"time"

	"github.com/blueberrycongee/llmgov/providers/mock"
)

// Tunable is implemented by backends whose simulated behavior can change at
// runtime, such as the mock backends.
type Tunable interface {
	SetFailureRate(rate float64)
	SetLatency(nominal, jitterMin, jitterMax time.Duration)
}

// ApplyBackendConfigs pushes failure rate and latency settings to running
// tunable backends. It returns the ids it could not apply: unknown backends
// and backends that are not tunable. Adding or removing backends needs a new
// Governor.
func (g *Governor) ApplyBackendConfigs(cfgs []BackendConfig) []string {
	var skipped []string
	for _, cfg := range cfgs {
		t, ok := g.backends[cfg.ID].(Tunable)
		if !ok {
			skipped = append(skipped, cfg.ID)
			continue
		}
		t.SetFailureRate(cfg.FailureRate)
		nominal := cfg.NominalLatency
		if nominal == 0 {
			nominal = g.backends[cfg.ID].Identity().NominalLatency
		}
		jMin, jMax := cfg.JitterMin, cfg.JitterMax
		if jMin == 0 && jMax == 0 {
			jMin, jMax = mock.DefaultJitterMin, mock.DefaultJitterMax
		}
		t.SetLatency(nominal, jMin, jMax)
		g.logger.Info("backend settings applied",
			"backend", cfg.ID,
			"failure_rate", cfg.FailureRate,
			"nominal_latency", nominal,
		)
	}
	if len(skipped) > 0 {
		g.logger.Warn("backend settings not applied, restart required", "backends", skipped)
	}
	return skipped
}
