package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/chatmesh/internal/ids"
	"github.com/eldtechnologies/chatmesh/internal/metrics"
	"github.com/eldtechnologies/chatmesh/internal/models"
)

// allowScript runs the whole check atomically so concurrent routers share
// one budget per sender and channel.
//
// KEYS[1] sliding-window sorted set, KEYS[2] cooldown marker
// ARGV: now_ms, cutoff_ms, window_ms, limit, cooldown_ms, member
var allowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local cooldown = tonumber(ARGV[5])
if cooldown > 0 then
	local ttl = redis.call('PTTL', KEYS[2])
	if ttl > 0 then
		return {0, ttl, 'cooldown'}
	end
end
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[4]) then
	local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
	return {0, tonumber(oldest[2]) + tonumber(ARGV[3]) - tonumber(ARGV[1]), 'per_minute'}
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[6])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
if cooldown > 0 then
	redis.call('SET', KEYS[2], '1', 'PX', cooldown)
end
return {1, 0, ''}
`)

// Redis is a Limiter shared by every router process using the same Redis.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed limiter.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// windowKey returns the key for a sender's per-channel sliding window.
func windowKey(sender uuid.UUID, channel models.ChannelID) string {
	return fmt.Sprintf("ratelimit:sender:%s:%s", sender, channel)
}

// cooldownKey returns the key marking an active cooldown.
func cooldownKey(sender uuid.UUID, channel models.ChannelID) string {
	return fmt.Sprintf("cooldown:sender:%s:%s", sender, channel)
}

// Allow implements Limiter.
func (r *Redis) Allow(ctx context.Context, sender uuid.UUID, cfg models.ChannelConfig, now time.Time) (Decision, error) {
	if cfg.Unthrottled {
		return allowed(), nil
	}

	start := time.Now()
	res, err := allowScript.Run(ctx, r.client,
		[]string{windowKey(sender, cfg.ID), cooldownKey(sender, cfg.ID)},
		now.UnixMilli(),
		now.Add(-Window).UnixMilli(),
		Window.Milliseconds(),
		cfg.MaxMessagesPerMinute,
		cfg.MessageCooldown.Milliseconds(),
		ids.NewMessageID().String(),
	).Slice()
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return Decision{}, err
	}
	return parseReply(res)
}

func parseReply(res []interface{}) (Decision, error) {
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected reply length %d", len(res))
	}
	ok, okType := res[0].(int64)
	wait, waitType := res[1].(int64)
	reason, reasonType := res[2].(string)
	if !okType || !waitType || !reasonType {
		return Decision{}, fmt.Errorf("ratelimit: unexpected reply %v", res)
	}
	if ok == 1 {
		return allowed(), nil
	}
	return Decision{RetryAfter: time.Duration(wait) * time.Millisecond, Reason: reason}, nil
}
