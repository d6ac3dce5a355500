package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// AttemptLimiter counts failed portal logins per access key over a window.
type AttemptLimiter interface {
	// Failures returns the number of failures recorded in the current window.
	Failures(ctx context.Context, key string) (int, error)
	Fail(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

// RedisLimiter keeps counters in redis so every replica sees the same count.
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
	prefix string
}

func NewRedisLimiter(client *redis.Client, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, window: window, prefix: "portal:attempts:"}
}

func (l *RedisLimiter) Failures(ctx context.Context, key string) (int, error) {
	n, err := l.client.Get(ctx, l.prefix+key).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read attempt counter: %w", err)
	}
	return n, nil
}

// Fail increments the counter and restarts the window, so a key stays
// locked until it has seen no failure for a whole window.
func (l *RedisLimiter) Fail(ctx context.Context, key string) error {
	k := l.prefix + key
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, l.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("increment attempt counter: %w", err)
	}
	return nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("reset attempt counter: %w", err)
	}
	return nil
}

type memoryWindow struct {
	count   int
	expires time.Time
}

// MemoryLimiter is the single-process fallback used when no redis is configured.
type MemoryLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]*memoryWindow
	now     func() time.Time
}

func NewMemoryLimiter(window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{window: window, entries: make(map[string]*memoryWindow), now: time.Now}
}

func (l *MemoryLimiter) current(key string) *memoryWindow {
	w, ok := l.entries[key]
	if ok && !l.now().Before(w.expires) {
		delete(l.entries, key)
		return nil
	}
	return w
}

func (l *MemoryLimiter) Failures(_ context.Context, key string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w := l.current(key); w != nil {
		return w.count, nil
	}
	return 0, nil
}

func (l *MemoryLimiter) Fail(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.current(key)
	if w == nil {
		w = &memoryWindow{}
		l.entries[key] = w
	}
	w.count++
	w.expires = l.now().Add(l.window)
	return nil
}

func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
	return nil
}
