package transport

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatmesh/internal/catalog"
	"github.com/eldtechnologies/chatmesh/internal/dispatch"
	"github.com/eldtechnologies/chatmesh/internal/models"
	"github.com/eldtechnologies/chatmesh/internal/wire"
)

// Dispatcher accepts submitted envelopes.
type Dispatcher interface {
	Dispatch(ctx context.Context, claimed uuid.UUID, env models.Envelope) (dispatch.Receipt, error)
}

// Publisher delivers routed envelopes to participant inboxes.
type Publisher struct {
	bus Bus
}

// NewPublisher creates a publisher over bus.
func NewPublisher(bus Bus) *Publisher {
	return &Publisher{bus: bus}
}

// Deliver publishes env to every recipient's inbox in one batch.
func (p *Publisher) Deliver(ctx context.Context, env models.Envelope, recipients []uuid.UUID) error {
	payload, err := wire.Encode(env)
	if err != nil {
		return err
	}
	msgs := make([]Outbound, len(recipients))
	for i, id := range recipients {
		msgs[i] = Outbound{Channel: InboxChannel(id), Payload: payload}
	}
	return p.bus.PublishBatch(ctx, msgs)
}

// Server is the authority side of the transport. It feeds submissions
// into the dispatcher and answers join/leave requests from the catalog.
type Server struct {
	client     *redis.Client
	bus        Bus
	dispatcher Dispatcher
	catalog    *catalog.Catalog
	logger     zerolog.Logger
}

// NewServer creates a transport server.
func NewServer(client *redis.Client, bus Bus, dispatcher Dispatcher, cat *catalog.Catalog, logger zerolog.Logger) *Server {
	return &Server{
		client:     client,
		bus:        bus,
		dispatcher: dispatcher,
		catalog:    cat,
		logger:     logger.With().Str("component", "transport_server").Logger(),
	}
}

// Run consumes submissions and control requests until ctx is cancelled.
// Messages are handled one at a time, so envelopes from one sender are
// dispatched in the order they were published.
func (s *Server) Run(ctx context.Context) error {
	ps := s.client.Subscribe(ctx, SubmitChannel, ControlRequestsChannel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.logger.Info().Msg("transport server listening")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}

func (s *Server) handle(ctx context.Context, channel string, payload []byte) {
	switch channel {
	case SubmitChannel:
		s.handleSubmit(ctx, payload)
	case ControlRequestsChannel:
		s.handleControl(ctx, payload)
	}
}

func (s *Server) handleSubmit(ctx context.Context, payload []byte) {
	claimed, env, err := wire.DecodeSubmission(payload)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("event", "malformed_submission").
			Int("bytes", len(payload)).
			Msg("dropping undecodable submission")
		if claimed != uuid.Nil {
			s.reply(ctx, ControlMessage{Op: OpRejected, Participant: claimed, Channel: models.NoChannel, Error: err.Error()})
		}
		return
	}

	if _, err := s.dispatcher.Dispatch(ctx, claimed, env); err != nil {
		channel := env.Channel
		if !channel.Known() {
			channel = models.NoChannel
		}
		s.reply(ctx, ControlMessage{
			Op:          OpRejected,
			Participant: claimed,
			Channel:     channel,
			MessageID:   env.ID.String(),
			Error:       err.Error(),
		})
	}
}

func (s *Server) handleControl(ctx context.Context, payload []byte) {
	req, err := decodeControl(payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("event", "malformed_control").Msg("dropping control request")
		return
	}
	if req.Op != OpJoin && req.Op != OpLeave {
		return
	}

	resp := ControlMessage{Op: req.Op, Participant: req.Participant, Channel: req.Channel, OK: true}
	cfg, err := s.catalog.Get(req.Channel)
	switch {
	case err != nil:
		resp.OK = false
		resp.Error = err.Error()
	case !cfg.Enabled && req.Op == OpJoin:
		resp.OK = false
		resp.Error = fmt.Sprintf("channel %s is disabled", req.Channel)
	}

	s.logger.Info().
		Str("op", req.Op).
		Str("participant", req.Participant.String()).
		Str("channel", req.Channel.String()).
		Bool("ok", resp.OK).
		Msg("control request")
	s.reply(ctx, resp)
}

func (s *Server) reply(ctx context.Context, m ControlMessage) {
	payload, err := encodeControl(m)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode control reply")
		return
	}
	if _, err := s.bus.Publish(ctx, ControlChannel(m.Participant), payload); err != nil {
		s.logger.Error().
			Err(err).
			Str("participant", m.Participant.String()).
			Msg("publish control reply")
	}
}
