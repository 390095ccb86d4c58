package observability

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(id, provider string, success bool) *Record {
	r := &Record{
		Timestamp:           time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		RequestID:           id,
		Provider:            provider,
		Model:               provider + "-model",
		LatencyMs:           100,
		Tokens:              TokenCounts{Input: 10, Output: 20, Total: 30},
		CostUSD:             0.0015,
		Success:             success,
		CircuitBreakerState: "closed",
	}
	if !success {
		msg := "backend failed"
		r.Error = &msg
		r.Tokens = TokenCounts{}
		r.CostUSD = 0
	}
	return r
}

type fakeSink struct {
	name        string
	emitted     atomic.Int32
	emitErr     error
	shutdownErr error
	shutdown    atomic.Bool
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Emit(context.Context, *Record) error {
	f.emitted.Add(1)
	return f.emitErr
}

func (f *fakeSink) Shutdown(context.Context) error {
	f.shutdown.Store(true)
	return f.shutdownErr
}

func TestMemorySink_Ring(t *testing.T) {
	sink := NewMemorySink(3)
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, sink.Emit(ctx, testRecord(fmt.Sprintf("req-%d", i), "openai", true)))
	}

	assert.Equal(t, 3, sink.Len())
	entries := sink.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "req-2", entries[0].RequestID)
	assert.Equal(t, "req-4", entries[2].RequestID)

	recent := sink.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "req-3", recent[0].RequestID)
	assert.Equal(t, "req-4", recent[1].RequestID)

	assert.Len(t, sink.Recent(0), 3)
	assert.Len(t, sink.Recent(10), 3)
}

func TestMemorySink_CopiesRecord(t *testing.T) {
	sink := NewMemorySink(0)
	rec := testRecord("req-1", "openai", true)
	require.NoError(t, sink.Emit(context.Background(), rec))

	rec.RequestID = "mutated"
	assert.Equal(t, "req-1", sink.Entries()[0].RequestID)
}

func TestJSONLSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.jsonl")
	sink, err := NewJSONLSink(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Emit(ctx, testRecord("req-1", "openai", true)))
	require.NoError(t, sink.Emit(ctx, testRecord("req-2", "anthropic", false)))
	require.NoError(t, sink.Shutdown(ctx))
	require.NoError(t, sink.Shutdown(ctx))

	assert.Error(t, sink.Emit(ctx, testRecord("req-3", "openai", true)))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var got []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		got = append(got, r)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, got, 2)
	assert.Equal(t, "req-1", got[0].RequestID)
	assert.Nil(t, got[0].Error)
	require.NotNil(t, got[1].Error)
	assert.Equal(t, "backend failed", *got[1].Error)
}

func TestJSONLSink_RequiresPath(t *testing.T) {
	_, err := NewJSONLSink("")
	assert.Error(t, err)
}

func newTestSQLiteSink(t *testing.T) *SQLiteSink {
	t.Helper()
	sink, err := NewSQLiteSink(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sink.Shutdown(context.Background()) })
	return sink
}

func TestSQLiteSink_Summary(t *testing.T) {
	sink := newTestSQLiteSink(t)
	ctx := context.Background()

	require.NoError(t, sink.Emit(ctx, testRecord("req-1", "openai", true)))
	require.NoError(t, sink.Emit(ctx, testRecord("req-2", "openai", false)))
	hit := testRecord("req-3", "anthropic", true)
	hit.CacheHit = true
	require.NoError(t, sink.Emit(ctx, hit))

	summary, err := sink.Summary(ctx)
	require.NoError(t, err)
	require.Len(t, summary, 2)

	assert.Equal(t, "anthropic", summary[0].Provider)
	assert.Equal(t, int64(1), summary[0].Requests)
	assert.Equal(t, int64(1), summary[0].CacheHits)

	assert.Equal(t, "openai", summary[1].Provider)
	assert.Equal(t, int64(2), summary[1].Requests)
	assert.Equal(t, int64(1), summary[1].Failures)
	assert.Equal(t, int64(30), summary[1].TotalTokens)
	assert.InDelta(t, 0.0015, summary[1].TotalCostUSD, 1e-9)
}

func TestSQLiteSink_Recent(t *testing.T) {
	sink := newTestSQLiteSink(t)
	ctx := context.Background()

	ok := testRecord("req-1", "openai", true)
	v := "1.2.3"
	ok.Metadata.FeatureVersion = &v
	require.NoError(t, sink.Emit(ctx, ok))
	require.NoError(t, sink.Emit(ctx, testRecord("req-2", "openai", false)))

	recent, err := sink.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	assert.Equal(t, "req-2", recent[0].RequestID)
	assert.False(t, recent[0].Success)
	require.NotNil(t, recent[0].Error)

	assert.Equal(t, "req-1", recent[1].RequestID)
	assert.True(t, recent[1].Success)
	assert.Nil(t, recent[1].Error)
	require.NotNil(t, recent[1].Metadata.FeatureVersion)
	assert.Equal(t, "1.2.3", *recent[1].Metadata.FeatureVersion)
	assert.Nil(t, recent[1].Metadata.VariantID)
	assert.Equal(t, TokenCounts{Input: 10, Output: 20, Total: 30}, recent[1].Tokens)
	assert.True(t, ok.Timestamp.Equal(recent[1].Timestamp))
}

func TestDispatcher_FansOutAndLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Level: slog.LevelInfo, Output: &buf, JSONFormat: true}, nil)
	d := NewDispatcher(logger)

	failing := &fakeSink{name: "broken", emitErr: errors.New("disk full")}
	healthy := &fakeSink{name: "healthy"}
	d.Register(failing)
	d.Register(healthy)

	assert.Equal(t, []string{"broken", "healthy"}, d.Names())

	d.Emit(context.Background(), testRecord("req-1", "openai", true))

	assert.Equal(t, int32(1), failing.emitted.Load())
	assert.Equal(t, int32(1), healthy.emitted.Load())
	assert.Contains(t, buf.String(), `"sink":"broken"`)
	assert.Contains(t, buf.String(), "disk full")
}

func TestDispatcher_Shutdown(t *testing.T) {
	d := NewDispatcher(nil)
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b", shutdownErr: errors.New("flush failed")}
	d.Register(a)
	d.Register(b)

	err := d.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutdown sink b")
	assert.True(t, a.shutdown.Load())
	assert.True(t, b.shutdown.Load())
	assert.Empty(t, d.Names())
}
