package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/face10ai/credits-backend/pkg/redis"
)

// Guard marks externally delivered event IDs as in flight using Redis SETNX.
// Keys follow the `f10:idempotency:<consumer>:<event_id>` pattern.
type Guard struct {
	store    redis.IdempotencyStore
	consumer string
	ttl      time.Duration
}

// NewGuard builds a guard scoped to one consumer.
func NewGuard(store redis.IdempotencyStore, consumer string, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if strings.TrimSpace(consumer) == "" {
		return nil, errors.New("consumer name is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{store: store, consumer: consumer, ttl: ttl}, nil
}

// CheckAndMark returns true when eventID was already marked, otherwise marks it.
func (g *Guard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	key, err := g.key(eventID)
	if err != nil {
		return false, err
	}
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Delete clears the mark so a failed delivery can be retried.
func (g *Guard) Delete(ctx context.Context, eventID string) error {
	key, err := g.key(eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *Guard) key(eventID string) (string, error) {
	if strings.TrimSpace(eventID) == "" {
		return "", errors.New("event id is required")
	}
	return g.store.IdempotencyKey(g.consumer, eventID), nil
}
