// Package validation decides whether an envelope may enter routing.
package validation

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatmesh/internal/catalog"
	"github.com/eldtechnologies/chatmesh/internal/metrics"
	"github.com/eldtechnologies/chatmesh/internal/models"
	"github.com/eldtechnologies/chatmesh/internal/ratelimit"
)

// SignalOriginPosition marks a proximity envelope sent from (0,0,0).
const SignalOriginPosition = "origin_position"

// Result is the outcome of Validate. Suspicious signals are reported for
// monitoring and never cause a rejection on their own.
type Result struct {
	Err        error
	Suspicious []string
}

// OK reports whether the envelope was accepted.
func (r Result) OK() bool { return r.Err == nil }

// Policy validates envelopes against the channel catalog and enforces
// per sender, per channel rate limits.
type Policy struct {
	catalog *catalog.Catalog
	limiter ratelimit.Limiter
	logger  zerolog.Logger
	now     func() time.Time
}

// Option configures a Policy.
type Option func(*Policy)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) { p.now = now }
}

// NewPolicy creates a validation policy.
func NewPolicy(cat *catalog.Catalog, limiter ratelimit.Limiter, logger zerolog.Logger, opts ...Option) *Policy {
	p := &Policy{
		catalog: cat,
		limiter: limiter,
		logger:  logger.With().Str("component", "validation").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Validate checks env as sent by claimed. Checks run in order and stop at
// the first failure: identity, channel, content, display name,
// channel-specific rules, rate limit. Only an envelope that passes every
// check counts against the sender's rate budget.
func (p *Policy) Validate(ctx context.Context, env models.Envelope, claimed uuid.UUID) Result {
	if claimed == uuid.Nil {
		return invalid("sender identity is required")
	}
	if env.SenderID != uuid.Nil && env.SenderID != claimed {
		return invalid("envelope sender does not match the submitting participant")
	}

	cfg, ok := p.catalog.GetOrDefault(env.Channel)
	if !ok {
		return invalid(fmt.Sprintf("unknown channel %s", env.Channel))
	}
	if !cfg.Enabled {
		return invalid(fmt.Sprintf("channel %s is disabled", env.Channel))
	}
	if !env.Priority.Valid() {
		return invalid("unknown priority")
	}

	content := strings.TrimSpace(env.Content)
	if content == "" {
		return invalid("content is required")
	}
	if n := utf8.RuneCountInString(env.Content); n > cfg.MaxMessageLength {
		return invalid(fmt.Sprintf("content too long (%d > %d)", n, cfg.MaxMessageLength))
	}

	name := strings.TrimSpace(env.SenderDisplayName)
	if name == "" {
		return invalid("sender display name is required")
	}
	if utf8.RuneCountInString(env.SenderDisplayName) > models.MaxDisplayNameLength {
		return invalid("sender display name too long")
	}

	var res Result
	switch env.Channel {
	case models.Area:
		if env.AreaID <= 0 {
			return invalid(fmt.Sprintf("area id must be positive, got %d", env.AreaID))
		}
	case models.Proximity:
		if env.SenderPosition.IsOrigin() {
			res.Suspicious = append(res.Suspicious, SignalOriginPosition)
			metrics.SuspiciousInputs.WithLabelValues(env.Channel.String(), SignalOriginPosition).Inc()
			p.logger.Warn().
				Str("event", "suspicious_input").
				Str("signal", SignalOriginPosition).
				Str("sender", claimed.String()).
				Str("message_id", env.ID.String()).
				Msg("proximity message sent from origin")
		}
	}

	decision, err := p.limiter.Allow(ctx, claimed, cfg, p.now())
	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("event", "rate_limiter_unavailable").
			Str("sender", claimed.String()).
			Str("channel", env.Channel.String()).
			Msg("rate limiter failed, allowing message")
		return res
	}
	if !decision.Allowed {
		p.logger.Info().
			Str("event", "rate_limit_exceeded").
			Str("sender", claimed.String()).
			Str("channel", env.Channel.String()).
			Str("reason", decision.Reason).
			Dur("retry_after", decision.RetryAfter).
			Msg("rate limit exceeded")
		res.Err = decision.Err(env.Channel)
	}
	return res
}

func invalid(reason string) Result {
	return Result{Err: fmt.Errorf("%w: %s", models.ErrValidationFailed, reason)}
}
