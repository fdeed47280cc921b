package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DeliveryLedger remembers forge delivery IDs so redelivered webhooks do
// not trigger duplicate runs.
type DeliveryLedger interface {
	// MarkSeen records a delivery and reports whether it was already seen.
	MarkSeen(ctx context.Context, deliveryID string) (bool, error)
	// Forget releases a delivery that could not be acted on, so the
	// forge's redelivery is accepted.
	Forget(ctx context.Context, deliveryID string) error
}

// MemoryLedger keeps deliveries in process memory. Entries expire after
// the TTL; forges retry webhooks within minutes, not days.
type MemoryLedger struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

func (l *MemoryLedger) MarkSeen(_ context.Context, deliveryID string) (bool, error) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for id, expires := range l.seen {
		if now.After(expires) {
			delete(l.seen, id)
		}
	}

	if _, ok := l.seen[deliveryID]; ok {
		return true, nil
	}

	l.seen[deliveryID] = now.Add(l.ttl)

	return false, nil
}

func (l *MemoryLedger) Forget(_ context.Context, deliveryID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.seen, deliveryID)

	return nil
}

// RedisLedger shares delivery state across instances through redis, so a
// webhook redelivered to another replica still counts as seen.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLedger(ctx context.Context, addr, password string, ttl time.Duration) (*RedisLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisLedger{client: client, ttl: ttl}, nil
}

func (l *RedisLedger) MarkSeen(ctx context.Context, deliveryID string) (bool, error) {
	set, err := l.client.SetNX(ctx, "gale:delivery:"+deliveryID, 1, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record delivery: %w", err)
	}

	return !set, nil
}

func (l *RedisLedger) Forget(ctx context.Context, deliveryID string) error {
	return l.client.Del(ctx, "gale:delivery:"+deliveryID).Err()
}

func (l *RedisLedger) Close() error {
	return l.client.Close()
}
