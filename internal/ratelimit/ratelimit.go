// Package ratelimit enforces per sender, per channel send cadence: a
// cooldown between consecutive messages and a cap on messages within any
// rolling minute.
package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/chatmesh/internal/models"
)

// Window is the span MaxMessagesPerMinute applies to.
const Window = time.Minute

const (
	ReasonCooldown  = "cooldown"
	ReasonPerMinute = "per_minute"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Reason     string
}

// Err returns nil for allowed decisions and a *models.RateLimitError otherwise.
func (d Decision) Err(channel models.ChannelID) error {
	if d.Allowed {
		return nil
	}
	return &models.RateLimitError{Channel: channel, RetryAfter: d.RetryAfter, Reason: d.Reason}
}

// Limiter checks and records a send. An allowed decision counts against
// the sender's budget; a rejected one does not.
type Limiter interface {
	Allow(ctx context.Context, sender uuid.UUID, cfg models.ChannelConfig, now time.Time) (Decision, error)
}

func allowed() Decision {
	return Decision{Allowed: true}
}
