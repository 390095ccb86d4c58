package api

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdempotency_SameKeyNeverRunsConcurrently(t *testing.T) {
	idem := NewIdempotencyCache(time.Minute)

	var active, peak, calls atomic.Int32
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		// Failures are not stored, so every waiter runs the handler in turn.
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	const requests = 20
	var wg sync.WaitGroup
	for range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
			req.Header.Set(IdempotencyKeyHeader, "order-7")
			h.ServeHTTP(httptest.NewRecorder(), req)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, int32(requests), calls.Load())
	assert.Zero(t, idem.Len())
	assert.Zero(t, idem.inflightKeys())
}

func TestIdempotency_WaiterReplaysFirstSuccess(t *testing.T) {
	idem := NewIdempotencyCache(time.Minute)

	var calls atomic.Int32
	release := make(chan struct{})
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	recs := make([]*httptest.ResponseRecorder, 3)
	var wg sync.WaitGroup
	for i := range recs {
		recs[i] = httptest.NewRecorder()
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
			req.Header.Set(IdempotencyKeyHeader, "order-8")
			h.ServeHTTP(recs[i], req)
		}()
	}
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	replayed := 0
	for _, rec := range recs {
		assert.Equal(t, `{"ok":true}`, rec.Body.String())
		if rec.Header().Get(IdempotentReplayHeader) == "true" {
			replayed++
		}
	}
	assert.Equal(t, 2, replayed)
	assert.Zero(t, idem.inflightKeys())
}
