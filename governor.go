package llmgov

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/llmgov/internal/cache"
	"github.com/blueberrycongee/llmgov/internal/governance"
	"github.com/blueberrycongee/llmgov/internal/metrics"
	"github.com/blueberrycongee/llmgov/internal/observability"
	"github.com/blueberrycongee/llmgov/internal/pricing"
	"github.com/blueberrycongee/llmgov/internal/resilience"
	llmerrors "github.com/blueberrycongee/llmgov/pkg/errors"
	"github.com/blueberrycongee/llmgov/pkg/provider"
	"github.com/blueberrycongee/llmgov/providers"
	"github.com/blueberrycongee/llmgov/providers/mock"
)

const shutdownTimeout = 10 * time.Second

// Rejection reasons reported to metrics and logs.
const (
	rejectTokenLimit  = "token_limit"
	rejectBudget      = "budget"
	rejectUnavailable = "unavailable"
)

// Governor runs every request through token and budget admission, backend
// selection with failover, the response cache and cost accounting.
// It is safe for concurrent use; each shared component guards itself.
type Governor struct {
	backends map[string]Provider
	order    []string

	breakers  *resilience.Manager
	cache     *cache.ResponseCache
	collector *metrics.Collector
	recorder  *metrics.Recorder
	tokens    *governance.TokenLimiter
	budget    *governance.CostLimiter
	pricing   *pricing.Calculator

	telemetry *observability.Dispatcher
	memory    *observability.MemorySink
	tracer    trace.Tracer
	logger    *observability.Logger
	redactor  *observability.Redactor
	now       func() time.Time

	closeOnce sync.Once
	closeErr  error
}

// New creates a Governor. Without any configured backend it uses the two
// built-in simulated backends, "openai" and "anthropic".
func New(opts ...Option) (*Governor, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	if cfg.Redactor == nil {
		cfg.Redactor = observability.NewRedactor()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.LoggerConfig{Level: slog.LevelInfo}, cfg.Redactor)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(observability.TracerName)
	}

	g := &Governor{
		backends:  make(map[string]Provider),
		collector: metrics.NewCollector(),
		tokens:    governance.NewTokenLimiter(cfg.MaxAverageTokens),
		budget:    governance.NewCostLimiter(cfg.MonthlyBudgetUSD, governance.WithClock(cfg.Clock)),
		pricing:   pricing.NewCalculator(cfg.Pricing),
		cache:     cache.New(cache.Config{TTL: cfg.CacheTTL, Now: cfg.Clock}),
		memory:    observability.NewMemorySink(cfg.TelemetryBufferSize),
		telemetry: observability.NewDispatcher(cfg.Logger),
		tracer:    cfg.Tracer,
		logger:    cfg.Logger,
		redactor:  cfg.Redactor,
		now:       cfg.Clock,
	}
	if cfg.Registerer != nil {
		g.recorder = metrics.NewRecorder(cfg.Registerer)
	}
	g.breakers = resilience.NewManager(resilience.ManagerConfig{
		CircuitBreaker: cfg.CircuitBreaker,
		Clock:          cfg.Clock,
		OnStateChange:  g.onCircuitChange,
	})

	backends := append([]Provider{}, cfg.Backends...)
	for _, bc := range cfg.BackendConfigs {
		p, err := providers.Create(bc)
		if err != nil {
			return nil, fmt.Errorf("create backend %s: %w", bc.ID, err)
		}
		backends = append(backends, p)
	}
	if len(backends) == 0 {
		backends = defaultBackends()
	}
	for _, p := range backends {
		if err := g.addBackend(p); err != nil {
			return nil, err
		}
	}

	g.telemetry.Register(g.memory)
	for _, s := range cfg.Sinks {
		g.telemetry.Register(s)
	}
	g.recorder.SetBudget(0, cfg.MonthlyBudgetUSD)

	g.logger.Info("llmgov governor initialized",
		"backends", g.order,
		"monthly_budget_usd", cfg.MonthlyBudgetUSD,
		"max_average_tokens", cfg.MaxAverageTokens,
		"cache_ttl", cfg.CacheTTL,
		"sinks", g.telemetry.Names(),
	)
	return g, nil
}

func defaultBackends() []Provider {
	return []Provider{mock.NewOpenAI(), mock.NewAnthropic()}
}

func validateConfig(cfg *Config) error {
	switch {
	case cfg.MaxAverageTokens <= 0:
		return fmt.Errorf("max average tokens must be positive, got %d", cfg.MaxAverageTokens)
	case cfg.MonthlyBudgetUSD < 0:
		return fmt.Errorf("monthly budget cannot be negative, got %v", cfg.MonthlyBudgetUSD)
	case cfg.CacheTTL <= 0:
		return fmt.Errorf("cache ttl must be positive, got %v", cfg.CacheTTL)
	case cfg.CircuitBreaker.FailureThreshold <= 0:
		return fmt.Errorf("circuit breaker failure threshold must be positive")
	case cfg.CircuitBreaker.ErrorRateThreshold <= 0 || cfg.CircuitBreaker.ErrorRateThreshold > 1:
		return fmt.Errorf("circuit breaker error rate threshold must be in (0, 1]")
	case cfg.CircuitBreaker.RecoveryTimeout <= 0:
		return fmt.Errorf("circuit breaker recovery timeout must be positive")
	}
	return nil
}

func (g *Governor) addBackend(p Provider) error {
	id := p.Identity()
	if id.ID == "" {
		return fmt.Errorf("add backend: empty id")
	}
	if _, exists := g.backends[id.ID]; exists {
		return fmt.Errorf("add backend %s: duplicate id", id.ID)
	}

	price := g.pricing.Register(id.ID, pricing.ModelPricing{
		Model:           id.Model,
		InputCostPer1K:  id.InputCostPer1K,
		OutputCostPer1K: id.OutputCostPer1K,
	})
	if price.IsZero() {
		g.logger.Warn("backend has no pricing, its requests cost nothing", "backend", id.ID, "model", id.Model)
	}

	g.backends[id.ID] = p
	g.order = append(g.order, id.ID)
	g.breakers.Register(id.ID)
	g.recorder.SetCircuitState(id.ID, resilience.StateClosed.String())
	return nil
}

func (g *Governor) onCircuitChange(name string, from, to resilience.CircuitState) {
	g.logger.Warn("circuit breaker state changed", "backend", name, "from", from.String(), "to", to.String())
	g.recorder.SetCircuitState(name, to.String())
}

// Generate runs req through the governance pipeline. Failures are typed:
// match them with errors.Is against the sentinels in pkg/errors.
func (g *Governor) Generate(ctx context.Context, req *Request) (*Result, error) {
	if req == nil {
		return nil, llmerrors.NewInvalidRequestError("request is required")
	}
	ctx, requestID := observability.GetOrCreateRequestID(ctx)
	log := g.logger.WithRequestID(ctx)
	system := systemPromptOf(req)

	ctx, span := observability.StartGenerateSpan(ctx, g.tracer, observability.GenerateSpanAttributes{
		RequestID:        requestID,
		PreferredBackend: req.PreferredBackend,
		EstimatedTokens:  governance.EstimateTokens(system + req.UserProfile + req.JobMarketData),
		HasSystemPrompt:  system != "",
		FeatureVersion:   req.Metadata.FeatureVersion,
		ExperimentID:     req.Metadata.ExperimentID,
	})
	defer span.End()

	validation, err := g.tokens.Validate(req.UserProfile, req.JobMarketData, req.SystemPrompt)
	if err != nil {
		return nil, g.reject(log, span, rejectTokenLimit, err)
	}

	estimated := g.pricing.Estimate(validation.InputTokens, validation.MaxOutputTokens)
	if err := g.budget.Check(estimated); err != nil {
		return nil, g.reject(log, span, rejectBudget, err)
	}

	backendID := g.selectBackend(req.PreferredBackend)
	breaker, _ := g.breakers.Get(backendID)
	if !breaker.CanAttempt() {
		alt, ok := g.breakers.FirstAvailable(backendID)
		if !ok {
			return nil, g.reject(log, span, rejectUnavailable, llmerrors.ErrAllBackendsUnavailable)
		}
		log.Warn("failing over to another backend", "from", backendID, "to", alt)
		g.recorder.ObserveFailover(backendID, alt)
		backendID = alt
		breaker, _ = g.breakers.Get(backendID)
	}
	backend := g.backends[backendID]
	identity := backend.Identity()
	log = log.WithFields("backend", backendID, "model", identity.Model)

	params := cache.KeyParams{
		UserProfile:   req.UserProfile,
		JobMarketData: req.JobMarketData,
		SystemPrompt:  req.SystemPrompt,
	}
	prompt := CombinePrompt(req.UserProfile, req.JobMarketData)

	res := &Result{RequestID: requestID}
	if entry, ok := g.cache.Get(params); ok {
		log.Debug("cache hit")
		res.Content = entry.Content
		res.InputTokens = entry.InputTokens
		res.OutputTokens = entry.OutputTokens
		res.Backend = entry.Backend
		res.Model = entry.Model
		res.LatencyMs = CacheHitLatencyMs
		res.CacheHit = true
	} else {
		log.Debug("cache miss, calling backend", "prompt_preview", g.redactor.Preview(prompt, 60))
		resp, latencyMs, err := g.call(ctx, breaker, backend, prompt, system)
		if err != nil {
			return nil, g.fail(ctx, log, span, failedCall{
				requestID: requestID,
				identity:  identity,
				breaker:   breaker,
				latencyMs: latencyMs,
				metadata:  req.Metadata,
				prompt:    prompt,
				err:       err,
			})
		}
		res.Content = resp.Content
		res.InputTokens = resp.InputTokens
		res.OutputTokens = resp.OutputTokens
		res.Backend = backendID
		res.Model = resp.Model
		res.LatencyMs = latencyMs

		g.cache.Set(params, cache.Value{
			Content:      resp.Content,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			Model:        resp.Model,
			Backend:      backendID,
		})
	}

	// Cache hits are charged and recorded against the selected backend and its
	// model; the Result still reports the backend that produced the content.
	res.CostUSD = g.pricing.Calculate(backendID, res.InputTokens, res.OutputTokens)
	g.budget.Charge(res.CostUSD)
	g.tokens.Track(res.TotalTokens())

	rec := metrics.Record{
		RequestID:    requestID,
		Backend:      backendID,
		Model:        identity.Model,
		LatencyMs:    res.LatencyMs,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		TotalTokens:  res.TotalTokens(),
		CostUSD:      res.CostUSD,
		Success:      true,
		Timestamp:    g.now(),
		Metadata:     req.Metadata,
	}
	g.record(ctx, rec, observability.RecordInput{
		CacheHit:       res.CacheHit,
		CircuitState:   breaker.State().String(),
		PromptLength:   utf8.RuneCountInString(prompt),
		ResponseLength: utf8.RuneCountInString(res.Content),
	})

	observability.RecordGenerateResult(span, backendID, identity.Model, res.InputTokens, res.OutputTokens, res.CostUSD, res.CacheHit)
	log.Debug("request completed",
		"cache_hit", res.CacheHit,
		"latency_ms", res.LatencyMs,
		"tokens", res.TotalTokens(),
		"cost_usd", res.CostUSD,
	)
	return res, nil
}

// selectBackend returns the preferred backend when its circuit admits, else
// the first admitting backend, else the preferred (or first) backend.
func (g *Governor) selectBackend(preferred string) string {
	if cb, ok := g.breakers.Get(preferred); ok && cb.CanAttempt() {
		return preferred
	}
	if id, ok := g.breakers.FirstAvailable(); ok {
		return id
	}
	if _, ok := g.backends[preferred]; ok {
		return preferred
	}
	return g.order[0]
}

// call invokes the backend and records the outcome on its breaker. A
// half-open breaker admits one probe at a time. Errors caused by the caller's
// context ending are not held against the backend.
func (g *Governor) call(ctx context.Context, cb *resilience.CircuitBreaker, backend Provider, prompt, system string) (*provider.Response, float64, error) {
	release, err := cb.Probe(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer release()

	ctx, span := g.tracer.Start(ctx, "llmgov.backend.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gen_ai.system", cb.Name()),
			attribute.String("gen_ai.request.model", backend.Identity().Model),
		),
	)
	defer span.End()

	start := g.now()
	resp, err := backend.Generate(ctx, prompt, system)
	latencyMs := float64(g.now().Sub(start)) / float64(time.Millisecond)
	if err != nil {
		if ctx.Err() == nil {
			cb.RecordFailure()
		}
		observability.RecordError(span, err)
		return nil, latencyMs, err
	}
	cb.RecordSuccess()
	return resp, latencyMs, nil
}

type failedCall struct {
	requestID string
	identity  Identity
	breaker   *resilience.CircuitBreaker
	latencyMs float64
	metadata  Metadata
	prompt    string
	err       error
}

// fail records a zero-token failed attempt and returns the wrapped error.
func (g *Governor) fail(ctx context.Context, log *observability.Logger, span trace.Span, f failedCall) error {
	rec := metrics.Record{
		RequestID: f.requestID,
		Backend:   f.identity.ID,
		Model:     f.identity.Model,
		LatencyMs: f.latencyMs,
		Success:   false,
		Error:     f.err.Error(),
		Timestamp: g.now(),
		Metadata:  f.metadata,
	}
	g.record(ctx, rec, observability.RecordInput{
		CircuitState: f.breaker.State().String(),
		PromptLength: utf8.RuneCountInString(f.prompt),
	})

	log.RedactedWarn("backend call failed", "error", f.err, "latency_ms", f.latencyMs)
	err := fmt.Errorf("generate: %w", &llmerrors.BackendError{
		Backend: f.identity.ID,
		Model:   f.identity.Model,
		Err:     f.err,
	})
	observability.RecordError(span, err)
	return err
}

func (g *Governor) reject(log *observability.Logger, span trace.Span, reason string, err error) error {
	log.Info("request rejected", "reason", reason, "error", err)
	g.recorder.ObserveRejection(reason)
	observability.RecordError(span, err)
	return err
}

func (g *Governor) record(ctx context.Context, rec metrics.Record, in observability.RecordInput) {
	g.collector.Record(rec)
	g.recorder.ObserveRecord(rec, in.CacheHit)
	g.recorder.SetBudget(g.budget.Spending(), g.budget.Budget())
	g.telemetry.Emit(ctx, observability.NewRecord(rec, in))
}

// Backend returns the backend registered under id.
func (g *Governor) Backend(id string) (Provider, bool) {
	p, ok := g.backends[id]
	return p, ok
}

// Backends returns the backend ids in selection order.
func (g *Governor) Backends() []string {
	return append([]string(nil), g.order...)
}

// Ready reports whether at least one backend's circuit admits requests.
func (g *Governor) Ready() bool {
	return g.breakers.AnyAvailable()
}

// Telemetry returns up to n of the most recent telemetry records, oldest
// first. n <= 0 returns the whole buffer.
func (g *Governor) Telemetry(n int) []observability.Record {
	if n <= 0 {
		return g.memory.Entries()
	}
	return g.memory.Recent(n)
}

// Sinks returns the names of the registered telemetry sinks.
func (g *Governor) Sinks() []string {
	return g.telemetry.Names()
}

// ResetBackend clears one backend's aggregate metrics and closes its circuit.
func (g *Governor) ResetBackend(id string) error {
	cb, ok := g.breakers.Get(id)
	if !ok {
		return fmt.Errorf("reset backend %s: unknown backend", id)
	}
	g.collector.ResetBackend(id)
	cb.Reset()
	return nil
}

// ClearCache drops every cached response.
func (g *Governor) ClearCache() {
	g.cache.Clear()
}

// Shutdown flushes and closes every telemetry sink.
func (g *Governor) Shutdown(ctx context.Context) error {
	g.closeOnce.Do(func() {
		g.closeErr = g.telemetry.Shutdown(ctx)
		if g.closeErr != nil {
			g.logger.Error("telemetry shutdown failed", "error", g.closeErr)
		}
	})
	return g.closeErr
}

// Close is Shutdown with a bounded timeout.
func (g *Governor) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// MetricsRecorder returns the Prometheus recorder, or nil when metrics are
// disabled. The HTTP layer uses it for request metrics.
func (g *Governor) MetricsRecorder() *metrics.Recorder {
	return g.recorder
}
