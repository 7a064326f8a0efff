// Package dispatch is the routing authority's pipeline: validate a
// submitted envelope, stamp the sender, compute eligible recipients and
// hand the result to the transport.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatmesh/internal/metrics"
	"github.com/eldtechnologies/chatmesh/internal/models"
	"github.com/eldtechnologies/chatmesh/internal/routing"
	"github.com/eldtechnologies/chatmesh/internal/validation"
)

// Roster lists the participants that may receive envelopes.
type Roster interface {
	Roster() []uuid.UUID
}

// Deliverer sends one envelope to each recipient.
type Deliverer interface {
	Deliver(ctx context.Context, env models.Envelope, recipients []uuid.UUID) error
}

// Receipt describes an accepted envelope.
type Receipt struct {
	Envelope   models.Envelope
	Recipients []uuid.UUID
	Suspicious []string
}

// Dispatcher runs submitted envelopes through validation and routing.
type Dispatcher struct {
	policy    *validation.Policy
	router    *routing.Router
	roster    Roster
	deliverer Deliverer
	logger    zerolog.Logger
}

// New creates a dispatcher.
func New(policy *validation.Policy, router *routing.Router, roster Roster, deliverer Deliverer, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		policy:    policy,
		router:    router,
		roster:    roster,
		deliverer: deliverer,
		logger:    logger.With().Str("component", "dispatch").Logger(),
	}
}

// Dispatch accepts env as submitted by claimed. Validation and rate limit
// failures are returned unchanged; transport failures wrap
// models.ErrDeliveryFailed.
func (d *Dispatcher) Dispatch(ctx context.Context, claimed uuid.UUID, env models.Envelope) (Receipt, error) {
	channel := env.Channel.String()

	res := d.policy.Validate(ctx, env, claimed)
	if !res.OK() {
		metrics.MessagesRejected.WithLabelValues(channel, rejectReason(res.Err)).Inc()
		return Receipt{}, res.Err
	}
	env.SenderID = claimed

	recipients := d.router.EligibleRecipients(ctx, env, d.roster.Roster())
	metrics.RecipientsPerMessage.WithLabelValues(channel).Observe(float64(len(recipients)))

	if len(recipients) > 0 {
		if err := d.deliverer.Deliver(ctx, env, recipients); err != nil {
			metrics.MessagesRejected.WithLabelValues(channel, "delivery").Inc()
			d.logger.Error().
				Err(err).
				Str("message_id", env.ID.String()).
				Str("channel", channel).
				Int("recipients", len(recipients)).
				Msg("delivery failed")
			return Receipt{}, fmt.Errorf("%w: %w", models.ErrDeliveryFailed, err)
		}
	}

	metrics.MessagesDispatched.WithLabelValues(channel).Inc()
	d.logger.Debug().
		Str("message_id", env.ID.String()).
		Str("sender", claimed.String()).
		Str("channel", channel).
		Int("recipients", len(recipients)).
		Msg("envelope dispatched")

	return Receipt{Envelope: env, Recipients: recipients, Suspicious: res.Suspicious}, nil
}

func rejectReason(err error) string {
	if errors.Is(err, models.ErrRateLimited) {
		return "rate_limited"
	}
	return "validation"
}
