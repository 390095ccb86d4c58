package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "llmgov"

// LatencyBuckets defines histogram buckets for backend latency (in seconds).
var LatencyBuckets = []float64{
	0.0001, 0.005, 0.025, 0.05, 0.1, 0.25, 0.5,
	0.75, 1.0, 1.25, 1.5, 2.0, 2.5, 3.0, 5.0, 10.0, 30.0,
}

// Circuit state gauge values.
const (
	CircuitClosed   = 0
	CircuitOpen     = 1
	CircuitHalfOpen = 2
)

// Recorder exports governor activity as Prometheus series. All series are
// registered on the registerer passed to NewRecorder, so tests can use a
// private registry.
type Recorder struct {
	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	tokens         *prometheus.CounterVec
	spend          *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	failovers      *prometheus.CounterVec
	circuitState   *prometheus.GaugeVec
	budgetSpending prometheus.Gauge
	budgetLimit    prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
}

// NewRecorder registers the governor metrics on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of governed requests by backend, model and status",
		}, []string{"backend", "model", "status"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "Backend latency in seconds, cache hits included",
			Buckets:   LatencyBuckets,
		}, []string{"backend", "model"}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Estimated tokens by type (input, output)",
		}, []string{"backend", "model", "type"}),
		spend: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spend_usd_total",
			Help:      "Total spend in USD",
		}, []string{"backend", "model"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result (hit, miss)",
		}, []string{"result"}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Requests rejected before a backend call, by reason",
		}, []string{"reason"}),
		failovers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failovers_total",
			Help:      "Requests moved from an unavailable backend to another",
		}, []string{"from", "to"}),
		circuitState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"backend"}),
		budgetSpending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_spending_usd",
			Help:      "Spend accumulated in the current monthly window",
		}),
		budgetLimit: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_limit_usd",
			Help:      "Configured monthly budget",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"route"}),
	}
}

// ObserveRecord exports one completed request.
func (r *Recorder) ObserveRecord(rec Record, cacheHit bool) {
	if r == nil {
		return
	}
	model := sanitizeModelLabel(rec.Model)
	status := "success"
	if !rec.Success {
		status = "failure"
	}

	r.requests.WithLabelValues(rec.Backend, model, status).Inc()
	r.latency.WithLabelValues(rec.Backend, model).Observe(rec.LatencyMs / 1000)
	if rec.InputTokens > 0 {
		r.tokens.WithLabelValues(rec.Backend, model, "input").Add(float64(rec.InputTokens))
	}
	if rec.OutputTokens > 0 {
		r.tokens.WithLabelValues(rec.Backend, model, "output").Add(float64(rec.OutputTokens))
	}
	if rec.CostUSD > 0 {
		r.spend.WithLabelValues(rec.Backend, model).Add(rec.CostUSD)
	}
	if rec.Success {
		result := "miss"
		if cacheHit {
			result = "hit"
		}
		r.cacheLookups.WithLabelValues(result).Inc()
	}
}

// ObserveRejection counts a pre-call rejection (token_limit, budget, unavailable).
func (r *Recorder) ObserveRejection(reason string) {
	if r == nil {
		return
	}
	r.rejections.WithLabelValues(reason).Inc()
}

// ObserveFailover counts a switch from one backend to another.
func (r *Recorder) ObserveFailover(from, to string) {
	if r == nil {
		return
	}
	r.failovers.WithLabelValues(from, to).Inc()
}

// SetCircuitState publishes a breaker state. state is the breaker's string form.
func (r *Recorder) SetCircuitState(backend, state string) {
	if r == nil {
		return
	}
	v := CircuitClosed
	switch state {
	case "open":
		v = CircuitOpen
	case "half_open":
		v = CircuitHalfOpen
	}
	r.circuitState.WithLabelValues(backend).Set(float64(v))
}

// SetBudget publishes the current monthly window.
func (r *Recorder) SetBudget(spending, limit float64) {
	if r == nil {
		return
	}
	r.budgetSpending.Set(spending)
	r.budgetLimit.Set(limit)
}

func (r *Recorder) observeHTTP(route string, code string, d time.Duration) {
	r.httpRequests.WithLabelValues(route, code).Inc()
	r.httpLatency.WithLabelValues(route).Observe(d.Seconds())
}

const maxModelLabelLen = 64

func sanitizeModelLabel(model string) string {
	if _, name, ok := strings.Cut(model, "/"); ok {
		model = name
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(min(len(model), maxModelLabelLen))
	for _, r := range model {
		if (r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '-' || r == '_' || r == '.' || r == ':' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		if b.Len() >= maxModelLabelLen {
			break
		}
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unknown"
	}
	return out
}
