package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	finalizeKeyTTL  = 24 * time.Hour
	inFlightMarker  = "in-flight"
	finalizeKeyRoot = "finalize:"
)

// IdempotencyStore serialises finalisation per gateway payment id.
type IdempotencyStore interface {
	// Acquire claims paymentID. When it is already claimed, orderID is the
	// order recorded for it, or empty while the first caller is still writing.
	Acquire(ctx context.Context, paymentID string) (acquired bool, orderID string, err error)
	// Complete remembers which order paymentID produced.
	Complete(ctx context.Context, paymentID, orderID string) error
	// Release drops the claim so the payment can be retried.
	Release(ctx context.Context, paymentID string) error
}

type RedisIdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisIdempotencyStore(rdb *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{rdb: rdb, ttl: finalizeKeyTTL}
}

func finalizeKey(paymentID string) string {
	return fmt.Sprintf("%s%s", finalizeKeyRoot, paymentID)
}

func (s *RedisIdempotencyStore) Acquire(ctx context.Context, paymentID string) (bool, string, error) {
	key := finalizeKey(paymentID)
	ok, err := s.rdb.SetNX(ctx, key, inFlightMarker, s.ttl).Result()
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, "", nil
	}

	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired or released between the two calls
		return s.Acquire(ctx, paymentID)
	}
	if err != nil {
		return false, "", err
	}
	if val == inFlightMarker {
		return false, "", nil
	}
	return false, val, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, paymentID, orderID string) error {
	return s.rdb.Set(ctx, finalizeKey(paymentID), orderID, s.ttl).Err()
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, paymentID string) error {
	return s.rdb.Del(ctx, finalizeKey(paymentID)).Err()
}
