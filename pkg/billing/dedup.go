package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator records processed provider event ids so redelivered events can be
// acknowledged without running reconciliation again. Reconciliation stays idempotent
// without one; a Deduplicator only short-circuits known redeliveries.
type Deduplicator interface {
	// Claim marks the event as in flight.
	// Returns ErrEventAlreadyProcessed for completed events and ErrEventInFlight
	// when another delivery of the same event is currently being processed.
	Claim(ctx context.Context, eventID string) error
	// Complete marks a claimed event as processed.
	Complete(ctx context.Context, eventID string) error
	// Release drops the claim so the sender's retry is processed again.
	Release(ctx context.Context, eventID string) error
}

const (
	dedupStateProcessing = "processing"
	dedupStateDone       = "done"

	defaultDedupTTL      = 72 * time.Hour
	defaultInFlightTTL   = 5 * time.Minute
	defaultDedupKeyPrefx = "billing:webhook:"
)

// RedisDeduplicator implements Deduplicator on top of Redis SETNX.
type RedisDeduplicator struct {
	client      redis.UniversalClient
	prefix      string
	ttl         time.Duration
	inFlightTTL time.Duration
}

// RedisDeduplicatorOption configures a RedisDeduplicator.
type RedisDeduplicatorOption func(*RedisDeduplicator)

// WithDedupTTL sets how long completed event ids are remembered.
func WithDedupTTL(ttl time.Duration) RedisDeduplicatorOption {
	return func(d *RedisDeduplicator) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithInFlightTTL bounds how long a crashed delivery can block retries.
func WithInFlightTTL(ttl time.Duration) RedisDeduplicatorOption {
	return func(d *RedisDeduplicator) {
		if ttl > 0 {
			d.inFlightTTL = ttl
		}
	}
}

// WithDedupKeyPrefix overrides the Redis key prefix.
func WithDedupKeyPrefix(prefix string) RedisDeduplicatorOption {
	return func(d *RedisDeduplicator) {
		if prefix != "" {
			d.prefix = prefix
		}
	}
}

// NewRedisDeduplicator creates a Redis-backed event deduplicator.
// Panics if client is nil.
func NewRedisDeduplicator(client redis.UniversalClient, opts ...RedisDeduplicatorOption) *RedisDeduplicator {
	if client == nil {
		panic("billing: redis client is required")
	}
	d := &RedisDeduplicator{
		client:      client,
		prefix:      defaultDedupKeyPrefx,
		ttl:         defaultDedupTTL,
		inFlightTTL: defaultInFlightTTL,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *RedisDeduplicator) key(eventID string) string {
	return d.prefix + eventID
}

// Claim implements Deduplicator.
func (d *RedisDeduplicator) Claim(ctx context.Context, eventID string) error {
	ok, err := d.client.SetNX(ctx, d.key(eventID), dedupStateProcessing, d.inFlightTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to claim webhook event: %w", err)
	}
	if ok {
		return nil
	}

	state, err := d.client.Get(ctx, d.key(eventID)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Claim expired between the two calls; let the sender retry.
		return ErrEventInFlight
	case err != nil:
		return fmt.Errorf("failed to read webhook event state: %w", err)
	case state == dedupStateDone:
		return ErrEventAlreadyProcessed
	default:
		return ErrEventInFlight
	}
}

// Complete implements Deduplicator.
func (d *RedisDeduplicator) Complete(ctx context.Context, eventID string) error {
	if err := d.client.Set(ctx, d.key(eventID), dedupStateDone, d.ttl).Err(); err != nil {
		return fmt.Errorf("failed to complete webhook event: %w", err)
	}
	return nil
}

// Release implements Deduplicator.
func (d *RedisDeduplicator) Release(ctx context.Context, eventID string) error {
	if err := d.client.Del(ctx, d.key(eventID)).Err(); err != nil {
		return fmt.Errorf("failed to release webhook event: %w", err)
	}
	return nil
}
