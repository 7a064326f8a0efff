package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatmesh/internal/models"
	"github.com/eldtechnologies/chatmesh/internal/wire"
)

// ErrNoAuthority is returned when nothing is listening for submissions.
var ErrNoAuthority = errors.New("transport: no routing authority listening")

// Sink is the participant state updated by incoming traffic.
type Sink interface {
	Receive(env models.Envelope) bool
	Subscribe(channel models.ChannelID) (bool, error)
	Unsubscribe(channel models.ChannelID) (bool, error)
}

// Client is the participant side of the transport.
type Client struct {
	client   *redis.Client
	bus      Bus
	logger   zerolog.Logger
	onReject func(ControlMessage)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRejectHandler is called for every rejection and refused join/leave.
func WithRejectHandler(fn func(ControlMessage)) ClientOption {
	return func(c *Client) { c.onReject = fn }
}

// NewClient creates a transport client.
func NewClient(client *redis.Client, bus Bus, logger zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		client: client,
		bus:    bus,
		logger: logger.With().Str("component", "transport_client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit publishes env for the authority to dispatch.
func (c *Client) Submit(ctx context.Context, claimed uuid.UUID, env models.Envelope) error {
	payload, err := wire.EncodeSubmission(claimed, env)
	if err != nil {
		return err
	}
	return c.publish(ctx, SubmitChannel, payload)
}

// RequestJoinChannel asks the authority to confirm a subscription.
func (c *Client) RequestJoinChannel(ctx context.Context, claimed uuid.UUID, channel models.ChannelID) error {
	return c.publishControl(ctx, ControlMessage{Op: OpJoin, Participant: claimed, Channel: channel})
}

// RequestLeaveChannel asks the authority to confirm an unsubscription.
func (c *Client) RequestLeaveChannel(ctx context.Context, claimed uuid.UUID, channel models.ChannelID) error {
	return c.publishControl(ctx, ControlMessage{Op: OpLeave, Participant: claimed, Channel: channel})
}

func (c *Client) publishControl(ctx context.Context, m ControlMessage) error {
	payload, err := encodeControl(m)
	if err != nil {
		return err
	}
	return c.publish(ctx, ControlRequestsChannel, payload)
}

func (c *Client) publish(ctx context.Context, channel string, payload []byte) error {
	n, err := c.bus.Publish(ctx, channel, payload)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoAuthority
	}
	return nil
}

// Listen feeds the participant's inbox and control replies into sink until
// ctx is cancelled. ready, if non-nil, is closed once the subscription is
// active.
func (c *Client) Listen(ctx context.Context, id uuid.UUID, sink Sink, ready chan<- struct{}) error {
	ps := c.client.Subscribe(ctx, InboxChannel(id), ControlChannel(id))
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if ready != nil {
		close(ready)
	}

	inbox := InboxChannel(id)
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg.Channel == inbox {
				c.handleInbox([]byte(msg.Payload), sink)
			} else {
				c.handleControl([]byte(msg.Payload), sink)
			}
		}
	}
}

func (c *Client) handleInbox(payload []byte, sink Sink) {
	env, err := wire.Decode(payload)
	if err != nil {
		c.logger.Warn().Err(err).Str("event", "malformed_envelope").Msg("dropping undecodable envelope")
		return
	}
	sink.Receive(env)
}

func (c *Client) handleControl(payload []byte, sink Sink) {
	m, err := decodeControl(payload)
	if err != nil {
		c.logger.Warn().Err(err).Str("event", "malformed_control").Msg("dropping control reply")
		return
	}

	if m.Op == OpRejected || !m.OK {
		if c.onReject != nil {
			c.onReject(m)
		}
		return
	}

	switch m.Op {
	case OpJoin:
		_, err = sink.Subscribe(m.Channel)
	case OpLeave:
		_, err = sink.Unsubscribe(m.Channel)
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("op", m.Op).Str("channel", m.Channel.String()).Msg("applying control reply")
	}
}
