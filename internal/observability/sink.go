package observability

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Sink receives one telemetry record per completed request.
type Sink interface {
	// Name identifies the sink in logs.
	Name() string

	// Emit stores or forwards rec. Implementations must not retain rec after
	// returning unless they copy it.
	Emit(ctx context.Context, rec *Record) error

	// Shutdown flushes buffered records and releases resources.
	Shutdown(ctx context.Context) error
}

// Dispatcher fans records out to every registered sink. A failing sink is
// logged and never blocks the others or the caller.
type Dispatcher struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger *Logger
}

// NewDispatcher creates a dispatcher. A nil logger discards sink errors.
func NewDispatcher(logger *Logger) *Dispatcher {
	if logger == nil {
		logger = NopLogger()
	}
	return &Dispatcher{logger: logger}
}

// Register adds a sink.
func (d *Dispatcher) Register(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

// Names returns the registered sink names in registration order.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// Emit sends rec to every sink in registration order.
func (d *Dispatcher) Emit(ctx context.Context, rec *Record) {
	d.mu.RLock()
	sinks := d.sinks
	d.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Emit(ctx, rec); err != nil {
			d.logger.Error("telemetry sink emit failed", "sink", s.Name(), "request_id", rec.RequestID, "error", err)
		}
	}
}

// Shutdown shuts every sink down concurrently and returns the first error.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	sinks := d.sinks
	d.sinks = nil
	d.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range sinks {
		g.Go(func() error {
			if err := s.Shutdown(ctx); err != nil {
				return fmt.Errorf("shutdown sink %s: %w", s.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
