package observability

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// RedisSink appends telemetry to a Redis stream and keeps per-provider
// counters in a hash so several governor instances can share a view.
type RedisSink struct {
	client    redis.UniversalClient
	keyPrefix string
	maxLen    int64
}

// RedisSinkOption configures RedisSink.
type RedisSinkOption func(*RedisSink)

// WithRedisKeyPrefix sets the key prefix (default: "llmgov:telemetry").
func WithRedisKeyPrefix(prefix string) RedisSinkOption {
	return func(r *RedisSink) {
		r.keyPrefix = prefix
	}
}

// WithRedisStreamMaxLen caps the stream length, trimmed approximately (default: 10000).
func WithRedisStreamMaxLen(n int64) RedisSinkOption {
	return func(r *RedisSink) {
		r.maxLen = n
	}
}

// NewRedisSink creates a sink on an existing client.
func NewRedisSink(client redis.UniversalClient, opts ...RedisSinkOption) *RedisSink {
	s := &RedisSink{
		client:    client,
		keyPrefix: "llmgov:telemetry",
		maxLen:    10000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns "redis".
func (r *RedisSink) Name() string { return "redis" }

// StreamKey is the stream holding raw records.
func (r *RedisSink) StreamKey() string { return r.keyPrefix + ":stream" }

// ProviderKey is the hash holding counters for one provider.
func (r *RedisSink) ProviderKey(provider string) string {
	return r.keyPrefix + ":provider:" + provider
}

// Emit writes rec to the stream and bumps the provider counters atomically.
func (r *RedisSink) Emit(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: encode: %w", err)
	}

	hashKey := r.ProviderKey(rec.Provider)
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.XAdd(ctx, &redis.XAddArgs{
			Stream: r.StreamKey(),
			MaxLen: r.maxLen,
			Approx: true,
			Values: map[string]any{
				"request_id": rec.RequestID,
				"data":       string(data),
			},
		})
		p.HIncrBy(ctx, hashKey, "requests", 1)
		if !rec.Success {
			p.HIncrBy(ctx, hashKey, "failures", 1)
		}
		if rec.CacheHit {
			p.HIncrBy(ctx, hashKey, "cache_hits", 1)
		}
		p.HIncrBy(ctx, hashKey, "tokens", int64(rec.Tokens.Total))
		p.HIncrByFloat(ctx, hashKey, "cost_usd", rec.CostUSD)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: emit %s: %w", rec.RequestID, err)
	}
	return nil
}

// Shutdown leaves the shared client open; the owner closes it.
func (r *RedisSink) Shutdown(context.Context) error { return nil }
