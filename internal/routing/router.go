// Package routing computes which participants are eligible to receive an
// envelope. The router keeps no per-participant state of its own: every
// decision reads live position and area data through a Locator.
package routing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatmesh/internal/catalog"
	"github.com/eldtechnologies/chatmesh/internal/metrics"
	"github.com/eldtechnologies/chatmesh/internal/models"
)

// Locator answers live spatial queries. Implementations must be safe for
// concurrent use. Unknown participants yield models.ErrNotFound; an
// unreachable backing service yields models.ErrRoutingUnavailable.
type Locator interface {
	Position(ctx context.Context, id uuid.UUID) (models.Vec3, error)
	Area(ctx context.Context, id uuid.UUID) (int64, error)
}

// Rule decides eligibility of one recipient for one envelope.
type Rule func(ctx context.Context, r *Router, recipient uuid.UUID, env models.Envelope, cfg models.ChannelConfig) bool

// Router evaluates the per-channel rule table.
type Router struct {
	catalog   *catalog.Catalog
	locator   Locator
	logger    zerolog.Logger
	rules     map[models.ChannelID]Rule
	lastKnown *expirable.LRU[uuid.UUID, models.Vec3]
}

// Option configures a Router.
type Option func(*Router)

// WithRule replaces the rule for one channel, e.g. to plug in guild membership.
func WithRule(channel models.ChannelID, rule Rule) Option {
	return func(r *Router) { r.rules[channel] = rule }
}

// WithPositionCache sizes the last-known position cache used when live
// position lookups fail.
func WithPositionCache(size int, ttl time.Duration) Option {
	return func(r *Router) { r.lastKnown = expirable.NewLRU[uuid.UUID, models.Vec3](size, nil, ttl) }
}

// NewRouter creates a router over the given catalog and locator.
func NewRouter(cat *catalog.Catalog, locator Locator, logger zerolog.Logger, opts ...Option) *Router {
	r := &Router{
		catalog:   cat,
		locator:   locator,
		logger:    logger.With().Str("component", "router").Logger(),
		rules:     defaultRules(),
		lastKnown: expirable.NewLRU[uuid.UUID, models.Vec3](4096, nil, 30*time.Second),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func defaultRules() map[models.ChannelID]Rule {
	return map[models.ChannelID]Rule{
		models.Global:    everyone,
		models.System:    everyone,
		models.Area:      sameArea,
		models.Proximity: withinRange,
		models.Guild:     notAvailable, // needs an organization-membership collaborator
		models.Whisper:   notAvailable, // needs an addressee field on the envelope
	}
}

// IsEligible reports whether recipient should receive env.
func (r *Router) IsEligible(ctx context.Context, recipient uuid.UUID, env models.Envelope) bool {
	rule, cfg, ok := r.resolve(env.Channel)
	if !ok {
		return false
	}
	return rule(ctx, r, recipient, env, cfg)
}

// EligibleRecipients filters candidates through the same rule IsEligible
// applies, preserving candidate order. The channel config is read once so
// every candidate is judged against the same snapshot. The result is never
// nil.
func (r *Router) EligibleRecipients(ctx context.Context, env models.Envelope, candidates []uuid.UUID) []uuid.UUID {
	start := time.Now()
	defer func() { metrics.RoutingDuration.Observe(time.Since(start).Seconds()) }()

	out := make([]uuid.UUID, 0, len(candidates))
	rule, cfg, ok := r.resolve(env.Channel)
	if !ok {
		return out
	}
	for _, id := range candidates {
		if rule(ctx, r, id, env, cfg) {
			out = append(out, id)
		}
	}
	return out
}

func (r *Router) resolve(channel models.ChannelID) (Rule, models.ChannelConfig, bool) {
	rule, ok := r.rules[channel]
	if !ok {
		return nil, models.ChannelConfig{}, false
	}
	cfg, ok := r.catalog.GetOrDefault(channel)
	if !ok {
		return nil, models.ChannelConfig{}, false
	}
	return rule, cfg, true
}

func everyone(context.Context, *Router, uuid.UUID, models.Envelope, models.ChannelConfig) bool {
	return true
}

func notAvailable(context.Context, *Router, uuid.UUID, models.Envelope, models.ChannelConfig) bool {
	return false
}

// sameArea delivers when the recipient's current area matches the
// envelope's. Unknown areas are ineligible; an unreachable area service
// fails open so area chat keeps flowing during an outage.
func sameArea(ctx context.Context, r *Router, recipient uuid.UUID, env models.Envelope, _ models.ChannelConfig) bool {
	area, err := r.locator.Area(ctx, recipient)
	switch {
	case err == nil:
		return area == env.AreaID
	case errors.Is(err, models.ErrNotFound):
		return false
	default:
		metrics.DegradedRoutingDecisions.WithLabelValues(env.Channel.String(), "fail_open").Inc()
		r.logger.Warn().
			Err(err).
			Str("event", "routing_degraded").
			Str("recipient", recipient.String()).
			Str("decision", "fail_open").
			Msg("area lookup failed")
		return true
	}
}

// withinRange delivers when the recipient is within the channel's
// proximity range of the sender, boundary inclusive. Unknown recipients are
// ineligible. An unavailable locator falls back to the last known position;
// with none cached it fails closed.
func withinRange(ctx context.Context, r *Router, recipient uuid.UUID, env models.Envelope, cfg models.ChannelConfig) bool {
	if cfg.ProximityRange.Unbounded() {
		return true
	}

	pos, err := r.locator.Position(ctx, recipient)
	if err == nil {
		r.lastKnown.Add(recipient, pos)
		return cfg.ProximityRange.Contains(pos.Distance(env.SenderPosition))
	}

	if errors.Is(err, models.ErrNotFound) {
		r.lastKnown.Remove(recipient)
		return false
	}

	cached, ok := r.lastKnown.Get(recipient)
	if !ok {
		metrics.DegradedRoutingDecisions.WithLabelValues(env.Channel.String(), "fail_closed").Inc()
		r.logger.Warn().
			Err(err).
			Str("event", "routing_degraded").
			Str("recipient", recipient.String()).
			Str("decision", "fail_closed").
			Msg("position lookup failed")
		return false
	}

	metrics.DegradedRoutingDecisions.WithLabelValues(env.Channel.String(), "last_known").Inc()
	return cfg.ProximityRange.Contains(cached.Distance(env.SenderPosition))
}
