package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes transitions on a single ticket. Tickets are independent
// units of work, so no cross-ticket ordering is implied.
type Locker interface {
	// Acquire blocks until the per-ticket lock is held or ctx is done. The
	// returned release function must be called on every exit path.
	Acquire(ctx context.Context, ticketID string) (func(), error)
}

// MemoryLocker serializes within a single process. Used by tests and by dev
// mode without Redis.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewMemoryLocker returns an empty locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]chan struct{})}
}

func (l *MemoryLocker) Acquire(ctx context.Context, ticketID string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[ticketID]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[ticketID] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RedisLocker serializes across processes with a SET NX PX lease. The lease
// TTL bounds how long a crashed holder can block a ticket.
type RedisLocker struct {
	client   *redis.Client
	ttl      time.Duration
	retryGap time.Duration
}

// NewRedisLocker builds a locker with the given lease TTL.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, retryGap: 50 * time.Millisecond}
}

// releaseScript deletes the lock only when still held by this owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

func (l *RedisLocker) Acquire(ctx context.Context, ticketID string) (func(), error) {
	key := "lock:ticket:" + ticketID
	owner := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			release := func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, l.client, []string{key}, owner).Err()
			}
			return release, nil
		}

		select {
		case <-time.After(l.retryGap):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
