// Package transport carries envelopes between participants and the routing
// authority over Redis pub/sub.
//
// Channels:
//
//	chat:submit               participant -> authority, wire submission frames
//	chat:inbox:<participant>  authority -> participant, wire envelopes
//	chat:control:requests     participant -> authority, JSON join/leave requests
//	chat:control:<participant> authority -> participant, JSON confirmations and rejections
package transport

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/chatmesh/internal/metrics"
)

const (
	SubmitChannel          = "chat:submit"
	ControlRequestsChannel = "chat:control:requests"
)

// InboxChannel is where envelopes for id are published.
func InboxChannel(id uuid.UUID) string {
	return "chat:inbox:" + id.String()
}

// ControlChannel is where control replies for id are published.
func ControlChannel(id uuid.UUID) string {
	return "chat:control:" + id.String()
}

// Outbound is one message to publish.
type Outbound struct {
	Channel string
	Payload []byte
}

// Bus publishes payloads. Publish returns the number of subscribers that
// received the message.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
	PublishBatch(ctx context.Context, msgs []Outbound) error
}

// RedisBus is a Bus over a Redis client.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus creates a bus over client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

// Publish sends one payload.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	start := time.Now()
	n, err := b.client.Publish(ctx, channel, payload).Result()
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
	return n, err
}

// PublishBatch sends every payload in one pipeline round trip.
func (b *RedisBus) PublishBatch(ctx context.Context, msgs []Outbound) error {
	start := time.Now()
	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range msgs {
			pipe.Publish(ctx, m.Channel, m.Payload)
		}
		return nil
	})
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
	return err
}
