package observability

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goccy/go-json"
)

// S3Config contains configuration for archiving telemetry to S3.
type S3Config struct {
	Bucket        string        // S3 bucket name
	Region        string        // AWS region
	AccessKeyID   string        // optional, default credential chain when empty
	SecretKey     string        // optional
	Endpoint      string        // custom endpoint (MinIO, LocalStack); enables path-style addressing
	PathPrefix    string        // key prefix, e.g. "llmgov/telemetry"
	FlushInterval time.Duration // periodic flush
	BatchSize     int           // flush once this many records are queued
	Logger        *Logger       // receives background upload failures; nil discards them
}

// DefaultS3Config returns batching defaults.
func DefaultS3Config() S3Config {
	return S3Config{
		FlushInterval: 10 * time.Second,
		BatchSize:     100,
	}
}

// S3Sink batches telemetry records and uploads them as date-partitioned JSONL objects.
type S3Sink struct {
	cfg    S3Config
	client *s3.Client
	now    func() time.Time

	mu    sync.Mutex
	queue []Record

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewS3Sink builds the S3 client and starts the background flush loop.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	defaults := DefaultS3Config()
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = NopLogger()
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	sink := &S3Sink{
		cfg:    cfg,
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		now:    time.Now,
		queue:  make([]Record, 0, cfg.BatchSize),
		stopCh: make(chan struct{}),
	}

	sink.wg.Add(1)
	go sink.flushLoop()

	return sink, nil
}

// Name returns "s3".
func (s *S3Sink) Name() string { return "s3" }

// Emit queues rec. A full batch is uploaded in the background.
func (s *S3Sink) Emit(_ context.Context, rec *Record) error {
	s.mu.Lock()
	s.queue = append(s.queue, *rec)
	full := len(s.queue) >= s.cfg.BatchSize
	s.mu.Unlock()

	if full {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.backgroundFlush()
		}()
	}
	return nil
}

// Pending returns the number of queued records.
func (s *S3Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Shutdown stops the flush loop and uploads anything still queued.
func (s *S3Sink) Shutdown(ctx context.Context) error {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	_, err := s.flush(ctx)
	return err
}

func (s *S3Sink) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.backgroundFlush()
		case <-s.stopCh:
			return
		}
	}
}

// backgroundFlush uploads the queue with no caller to hand the error to. The
// batch is already dequeued, so a failed upload drops it.
func (s *S3Sink) backgroundFlush() {
	if n, err := s.flush(context.Background()); err != nil {
		s.cfg.Logger.Error("s3 telemetry upload failed", "bucket", s.cfg.Bucket, "records", n, "error", err)
	}
}

// flush uploads and clears the queue, returning how many records it took.
func (s *S3Sink) flush(ctx context.Context) (int, error) {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	entries := s.queue
	s.queue = make([]Record, 0, s.cfg.BatchSize)
	s.mu.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			s.cfg.Logger.Error("s3 telemetry record skipped", "request_id", entries[i].RequestID, "error", err)
		}
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(s.objectKey(s.now().UTC())),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return len(entries), fmt.Errorf("s3: upload telemetry: %w", err)
	}
	return len(entries), nil
}

// objectKey formats prefix/year=YYYY/month=MM/day=DD/hour=HH/telemetry_<unixnano>.jsonl.
func (s *S3Sink) objectKey(t time.Time) string {
	partition := fmt.Sprintf("year=%d/month=%02d/day=%02d/hour=%02d",
		t.Year(), t.Month(), t.Day(), t.Hour())
	filename := fmt.Sprintf("telemetry_%d.jsonl", t.UnixNano())

	if s.cfg.PathPrefix != "" {
		return path.Join(s.cfg.PathPrefix, partition, filename)
	}
	return path.Join(partition, filename)
}
