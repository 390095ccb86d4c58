package observability

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type s3Upload struct {
	path string
	body []byte
}

type fakeS3 struct {
	mu      sync.Mutex
	uploads []s3Upload
	status  int // when set, every request fails with it
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	if r.Method == http.MethodPut {
		f.mu.Lock()
		f.uploads = append(f.uploads, s3Upload{path: r.URL.Path, body: body})
		f.mu.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

func (f *fakeS3) snapshot() []s3Upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]s3Upload(nil), f.uploads...)
}

// lockedBuffer lets the background flush write logs while the test reads them.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestS3Sink(t *testing.T, batchSize int) (*S3Sink, *fakeS3) {
	t.Helper()
	fake := &fakeS3{}
	return newTestS3SinkWith(t, fake, batchSize, nil), fake
}

func newTestS3SinkWith(t *testing.T, fake *fakeS3, batchSize int, logger *Logger) *S3Sink {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	sink, err := NewS3Sink(context.Background(), S3Config{
		Bucket:        "telemetry",
		Region:        "us-east-1",
		AccessKeyID:   "test",
		SecretKey:     "test",
		Endpoint:      srv.URL,
		PathPrefix:    "llmgov",
		FlushInterval: time.Hour,
		BatchSize:     batchSize,
		Logger:        logger,
	})
	require.NoError(t, err)
	sink.now = func() time.Time { return time.Date(2026, 3, 7, 9, 30, 0, 0, time.UTC) }
	return sink
}

func decodeJSONL(t *testing.T, body []byte) []Record {
	t.Helper()
	var out []Record
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		out = append(out, r)
	}
	return out
}

func TestS3Sink_FlushOnShutdown(t *testing.T) {
	sink, fake := newTestS3Sink(t, 100)
	ctx := context.Background()

	require.NoError(t, sink.Emit(ctx, testRecord("req-1", "openai", true)))
	require.NoError(t, sink.Emit(ctx, testRecord("req-2", "anthropic", false)))
	assert.Equal(t, 2, sink.Pending())
	assert.Empty(t, fake.snapshot())

	require.NoError(t, sink.Shutdown(ctx))
	assert.Zero(t, sink.Pending())

	uploads := fake.snapshot()
	require.Len(t, uploads, 1)
	assert.True(t, strings.HasPrefix(uploads[0].path, "/telemetry/llmgov/year=2026/month=03/day=07/hour=09/telemetry_"), uploads[0].path)
	assert.True(t, strings.HasSuffix(uploads[0].path, ".jsonl"))

	records := decodeJSONL(t, uploads[0].body)
	require.Len(t, records, 2)
	assert.Equal(t, "req-1", records[0].RequestID)
	assert.Equal(t, "req-2", records[1].RequestID)
}

func TestS3Sink_FlushOnFullBatch(t *testing.T) {
	sink, fake := newTestS3Sink(t, 2)
	ctx := context.Background()

	require.NoError(t, sink.Emit(ctx, testRecord("req-1", "openai", true)))
	require.NoError(t, sink.Emit(ctx, testRecord("req-2", "openai", true)))

	assert.Eventually(t, func() bool { return len(fake.snapshot()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, sink.Shutdown(ctx))
	assert.Len(t, fake.snapshot(), 1)
}

func TestS3Sink_LogsFailedBackgroundUpload(t *testing.T) {
	var out lockedBuffer
	logger := NewLogger(LoggerConfig{Level: slog.LevelInfo, Output: &out, JSONFormat: true}, nil)
	sink := newTestS3SinkWith(t, &fakeS3{status: http.StatusForbidden}, 2, logger)
	ctx := context.Background()

	require.NoError(t, sink.Emit(ctx, testRecord("req-1", "openai", true)))
	require.NoError(t, sink.Emit(ctx, testRecord("req-2", "openai", true)))

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "s3 telemetry upload failed")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), `"records":2`)
	assert.Contains(t, out.String(), `"bucket":"telemetry"`)

	require.NoError(t, sink.Shutdown(ctx))
	assert.Zero(t, sink.Pending())
}

func TestS3Sink_ShutdownReturnsUploadError(t *testing.T) {
	sink := newTestS3SinkWith(t, &fakeS3{status: http.StatusForbidden}, 10, nil)
	ctx := context.Background()

	require.NoError(t, sink.Emit(ctx, testRecord("req-1", "openai", true)))
	err := sink.Shutdown(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: upload telemetry")
}

func TestS3Sink_EmptyShutdownUploadsNothing(t *testing.T) {
	sink, fake := newTestS3Sink(t, 10)
	require.NoError(t, sink.Shutdown(context.Background()))
	require.NoError(t, sink.Shutdown(context.Background()))
	assert.Empty(t, fake.snapshot())
}

func TestS3Sink_RequiresBucket(t *testing.T) {
	_, err := NewS3Sink(context.Background(), S3Config{})
	assert.Error(t, err)
}

func TestS3Sink_ObjectKeyWithoutPrefix(t *testing.T) {
	s := &S3Sink{}
	ts := time.Date(2026, 11, 2, 23, 0, 0, 5, time.UTC)
	assert.Equal(t, "year=2026/month=11/day=02/hour=23/telemetry_"+strconv.FormatInt(ts.UnixNano(), 10)+".jsonl", s.objectKey(ts))
}
