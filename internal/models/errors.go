package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidationFailed   = errors.New("validation failed")
	ErrRateLimited        = errors.New("rate limited")
	ErrNotSubscribed      = errors.New("not subscribed")
	ErrRoutingUnavailable = errors.New("routing unavailable")
	ErrDeliveryFailed     = errors.New("delivery failed")
	ErrNotFound           = errors.New("not found")
	ErrNotReady           = errors.New("not ready")
	ErrInvalidConfig      = errors.New("invalid channel config")
)

// RateLimitError reports a rejected send and when it may be retried.
type RateLimitError struct {
	Channel    ChannelID
	RetryAfter time.Duration
	Reason     string // "cooldown" or "per_minute"
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s on %s (%s), retry after %s", ErrRateLimited, e.Channel, e.Reason, e.RetryAfter)
}

// Unwrap lets errors.Is match ErrRateLimited.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
