package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RedisCounter is a sliding-window Counter shared by every server instance.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter creates a Redis-backed counter.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Hit implements Counter.
func (c *RedisCounter) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Usage, error) {
	windowStart := now.Add(-window)

	pipe := c.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart.UnixMilli(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return Usage{}, err
	}

	count := int(countCmd.Val())
	return Usage{
		Allowed:   count < limit,
		Remaining: max(limit-count-1, 0),
		ResetAt:   now.Add(window),
	}, nil
}

// RedisBlocker keeps blocks and violation tallies in Redis.
type RedisBlocker struct {
	client *redis.Client
}

// NewRedisBlocker creates a Redis-backed blocker.
func NewRedisBlocker(client *redis.Client) *RedisBlocker {
	return &RedisBlocker{client: client}
}

func blockKey(ip string) string {
	return "blocked:ip:" + ip
}

func violationKey(ip string) string {
	return "violations:ip:" + ip
}

// IsBlocked checks if an IP is blocked. Lookup errors count as not blocked.
func (b *RedisBlocker) IsBlocked(ctx context.Context, ip string) bool {
	exists, _ := b.client.Exists(ctx, blockKey(ip)).Result()
	return exists > 0
}

// Block blocks an IP for the specified duration.
func (b *RedisBlocker) Block(ctx context.Context, ip string, duration time.Duration, reason string) {
	b.client.Set(ctx, blockKey(ip), reason, duration)
}

// Unblock removes an IP block.
func (b *RedisBlocker) Unblock(ctx context.Context, ip string) {
	b.client.Del(ctx, blockKey(ip))
}

// Violation implements Blocker.
func (b *RedisBlocker) Violation(ctx context.Context, ip string) (int64, error) {
	key := violationKey(ip)
	count, err := b.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	b.client.Expire(ctx, key, violationWindow)
	return count, nil
}

const memoryKeys = 1 << 16

// MemoryCounter is a process-local Counter. Each key gets a token bucket
// refilled at limit per window with a burst of limit.
type MemoryCounter struct {
	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
}

// NewMemoryCounter creates an in-memory counter. Idle keys are evicted
// after ttl.
func NewMemoryCounter(ttl time.Duration) *MemoryCounter {
	return &MemoryCounter{buckets: expirable.NewLRU[string, *rate.Limiter](memoryKeys, nil, ttl)}
}

// Hit implements Counter.
func (c *MemoryCounter) Hit(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Usage, error) {
	every := window / time.Duration(limit)

	c.mu.Lock()
	lim, ok := c.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(rate.Every(every), limit)
	}
	c.buckets.Add(key, lim)
	c.mu.Unlock()

	allowed := lim.AllowN(now, 1)
	tokens := lim.TokensAt(now)
	missing := float64(limit) - tokens

	return Usage{
		Allowed:   allowed,
		Remaining: max(int(tokens), 0),
		ResetAt:   now.Add(time.Duration(missing * float64(every))),
	}, nil
}

// MemoryBlocker is a process-local Blocker.
type MemoryBlocker struct {
	mu         sync.Mutex
	blocked    *expirable.LRU[string, time.Time]
	violations *expirable.LRU[string, int64]
	now        func() time.Time
}

// NewMemoryBlocker creates an in-memory blocker.
func NewMemoryBlocker() *MemoryBlocker {
	return &MemoryBlocker{
		blocked:    expirable.NewLRU[string, time.Time](memoryKeys, nil, autoBlockDuration),
		violations: expirable.NewLRU[string, int64](memoryKeys, nil, violationWindow),
		now:        time.Now,
	}
}

// IsBlocked implements Blocker.
func (b *MemoryBlocker) IsBlocked(_ context.Context, ip string) bool {
	until, ok := b.blocked.Get(ip)
	return ok && b.now().Before(until)
}

// Block implements Blocker. Blocks longer than a day are capped at a day.
func (b *MemoryBlocker) Block(_ context.Context, ip string, duration time.Duration, _ string) {
	b.blocked.Add(ip, b.now().Add(duration))
}

// Unblock implements Blocker.
func (b *MemoryBlocker) Unblock(_ context.Context, ip string) {
	b.blocked.Remove(ip)
}

// Violation implements Blocker.
func (b *MemoryBlocker) Violation(_ context.Context, ip string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	count, _ := b.violations.Get(ip)
	count++
	b.violations.Add(ip, count)
	return count, nil
}
