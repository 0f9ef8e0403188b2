package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a redis-backed seen-set for gateway callbacks, keyed by
// checkout-request-id. It is a fast-path only: keys are written after the
// terminal transition commits, so a crash mid-processing leaves the callback
// retryable and the database guard stays authoritative.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func key(checkoutRequestID string) string {
	return "callback:seen:" + checkoutRequestID
}

func (s *Store) Seen(ctx context.Context, checkoutRequestID string) (bool, error) {
	err := s.rdb.Get(ctx, key(checkoutRequestID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) MarkSeen(ctx context.Context, checkoutRequestID string) error {
	return s.rdb.Set(ctx, key(checkoutRequestID), "1", s.ttl).Err()
}
