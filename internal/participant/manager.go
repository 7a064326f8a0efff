// Package participant owns one participant's view of the chat: which
// channels it is subscribed to, which one is active, and the bounded
// history of what it has received.
package participant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatmesh/internal/catalog"
	"github.com/eldtechnologies/chatmesh/internal/history"
	"github.com/eldtechnologies/chatmesh/internal/models"
)

// State is the manager lifecycle state.
type State int

const (
	Uninitialized State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "uninitialized"
}

// Display receives notifications for rendering. Calls are made without the
// manager lock held and must not block for long.
type Display interface {
	OnEnvelopeReceived(env models.Envelope)
	OnSubscriptionChanged(channel models.ChannelID, subscribed bool)
	OnActiveChannelChanged(channel models.ChannelID)
}

// Identity answers live questions about a participant. It is queried on
// every send and never cached.
type Identity interface {
	DisplayName(ctx context.Context, id uuid.UUID) (string, error)
	Position(ctx context.Context, id uuid.UUID) (models.Vec3, error)
	Area(ctx context.Context, id uuid.UUID) (int64, error)
}

// Transport carries envelopes and join/leave requests to the routing
// authority. Join and leave are asynchronous; the authority confirms them
// by calling Subscribe or Unsubscribe.
type Transport interface {
	Submit(ctx context.Context, claimed uuid.UUID, env models.Envelope) error
	RequestJoinChannel(ctx context.Context, claimed uuid.UUID, channel models.ChannelID) error
	RequestLeaveChannel(ctx context.Context, claimed uuid.UUID, channel models.ChannelID) error
}

// Manager is the subscription and delivery manager for one participant.
// All methods are safe for concurrent use.
type Manager struct {
	id        uuid.UUID
	identity  Identity
	transport Transport
	logger    zerolog.Logger

	historySize int
	displays    []Display

	mu         sync.Mutex
	state      State
	catalog    *catalog.Catalog
	subscribed map[models.ChannelID]struct{}
	active     models.ChannelID
	histories  map[models.ChannelID]*history.Store
}

// Option configures a Manager.
type Option func(*Manager)

// WithHistorySize sets the per-channel history capacity.
func WithHistorySize(n int) Option {
	return func(m *Manager) { m.historySize = n }
}

// WithDisplay registers a display observer.
func WithDisplay(d Display) Option {
	return func(m *Manager) { m.displays = append(m.displays, d) }
}

// NewManager creates an uninitialized manager for participant id.
func NewManager(id uuid.UUID, identity Identity, transport Transport, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		id:          id,
		identity:    identity,
		transport:   transport,
		logger:      logger.With().Str("component", "participant").Str("participant", id.String()).Logger(),
		historySize: history.DefaultCapacity,
		subscribed:  make(map[models.ChannelID]struct{}),
		active:      models.NoChannel,
		histories:   make(map[models.ChannelID]*history.Store),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func knownChannel(cat *catalog.Catalog, id models.ChannelID) bool {
	if _, err := cat.Get(id); err == nil {
		return true
	}
	_, ok := catalog.DefaultFor(id)
	return ok
}

// ID returns the participant id.
func (m *Manager) ID() uuid.UUID { return m.id }

// Initialize replaces all subscription and history state with the given
// defaults and moves the manager to Ready. Defaults that are neither
// registered nor built in are skipped. If active is not among the
// remaining defaults the lowest subscribed channel becomes active.
func (m *Manager) Initialize(defaults []models.ChannelID, active models.ChannelID, cat *catalog.Catalog) {
	var unknown []models.ChannelID
	m.mu.Lock()
	m.catalog = cat
	m.subscribed = make(map[models.ChannelID]struct{}, len(defaults))
	m.histories = make(map[models.ChannelID]*history.Store, len(defaults))
	for _, ch := range defaults {
		if !knownChannel(cat, ch) {
			unknown = append(unknown, ch)
			continue
		}
		m.subscribed[ch] = struct{}{}
		m.historyLocked(ch)
	}
	if _, ok := m.subscribed[active]; ok {
		m.active = active
	} else {
		m.active = m.lowestLocked()
	}
	m.state = Ready
	subs := m.subscriptionsLocked()
	current := m.active
	m.mu.Unlock()

	for _, ch := range unknown {
		m.logger.Warn().
			Str("event", "unknown_default_channel").
			Str("channel", ch.String()).
			Msg("skipping unknown default subscription")
	}
	m.logger.Info().
		Int("subscriptions", len(subs)).
		Str("active", current.String()).
		Msg("participant ready")

	m.notify(func(d Display) {
		for _, ch := range subs {
			d.OnSubscriptionChanged(ch, true)
		}
		d.OnActiveChannelChanged(current)
	})
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe adds channel to the subscription set. It returns false when
// the channel was already subscribed.
func (m *Manager) Subscribe(channel models.ChannelID) (bool, error) {
	m.mu.Lock()
	if err := m.readyLocked("subscribe"); err != nil {
		m.mu.Unlock()
		return false, err
	}
	if _, ok := m.catalog.GetOrDefault(channel); !ok {
		m.mu.Unlock()
		return false, fmt.Errorf("%w: channel %s", models.ErrNotFound, channel)
	}
	if _, ok := m.subscribed[channel]; ok {
		m.mu.Unlock()
		return false, nil
	}

	m.subscribed[channel] = struct{}{}
	m.historyLocked(channel)
	activated := m.active == models.NoChannel
	if activated {
		m.active = channel
	}
	m.mu.Unlock()

	m.notify(func(d Display) {
		d.OnSubscriptionChanged(channel, true)
		if activated {
			d.OnActiveChannelChanged(channel)
		}
	})
	return true, nil
}

// Unsubscribe removes channel from the subscription set. When the active
// channel is removed the lowest remaining channel becomes active, or
// models.NoChannel when none remain. It returns false when the channel was
// not subscribed.
func (m *Manager) Unsubscribe(channel models.ChannelID) (bool, error) {
	m.mu.Lock()
	if err := m.readyLocked("unsubscribe"); err != nil {
		m.mu.Unlock()
		return false, err
	}
	if _, ok := m.subscribed[channel]; !ok {
		m.mu.Unlock()
		return false, nil
	}

	delete(m.subscribed, channel)
	reassigned := m.active == channel
	if reassigned {
		m.active = m.lowestLocked()
	}
	current := m.active
	m.mu.Unlock()

	m.notify(func(d Display) {
		d.OnSubscriptionChanged(channel, false)
		if reassigned {
			d.OnActiveChannelChanged(current)
		}
	})
	return true, nil
}

// SetActiveChannel makes channel the default for composing.
func (m *Manager) SetActiveChannel(channel models.ChannelID) error {
	m.mu.Lock()
	if err := m.readyLocked("set_active"); err != nil {
		m.mu.Unlock()
		return err
	}
	if _, ok := m.subscribed[channel]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", models.ErrNotSubscribed, channel)
	}
	changed := m.active != channel
	m.active = channel
	m.mu.Unlock()

	if changed {
		m.notify(func(d Display) { d.OnActiveChannelChanged(channel) })
	}
	return nil
}

// Join asks the authority to subscribe this participant to channel.
func (m *Manager) Join(ctx context.Context, channel models.ChannelID) error {
	if err := m.checkReady("join"); err != nil {
		return err
	}
	if err := m.transport.RequestJoinChannel(ctx, m.id, channel); err != nil {
		return fmt.Errorf("%w: %w", models.ErrDeliveryFailed, err)
	}
	return nil
}

// Leave asks the authority to unsubscribe this participant from channel.
func (m *Manager) Leave(ctx context.Context, channel models.ChannelID) error {
	if err := m.checkReady("leave"); err != nil {
		return err
	}
	if err := m.transport.RequestLeaveChannel(ctx, m.id, channel); err != nil {
		return fmt.Errorf("%w: %w", models.ErrDeliveryFailed, err)
	}
	return nil
}

// Receive records an envelope delivered by the authority. Only envelopes
// for subscribed channels are kept; anything else, and anything arriving
// before Ready, is dropped. It reports whether the envelope was recorded.
func (m *Manager) Receive(env models.Envelope) bool {
	m.mu.Lock()
	if m.state != Ready {
		m.mu.Unlock()
		m.logger.Warn().
			Str("event", "dropped_before_ready").
			Str("message_id", env.ID.String()).
			Str("channel", env.Channel.String()).
			Msg("envelope received before initialization")
		return false
	}

	if _, ok := m.subscribed[env.Channel]; !ok {
		m.mu.Unlock()
		m.logger.Debug().
			Str("event", "dropped_not_subscribed").
			Str("message_id", env.ID.String()).
			Str("channel", env.Channel.String()).
			Msg("envelope for unsubscribed channel")
		return false
	}
	m.historyLocked(env.Channel).Append(env)
	m.mu.Unlock()

	m.notify(func(d Display) { d.OnEnvelopeReceived(env) })
	return true
}

// Send builds an envelope for content on channel and hands it to the
// transport. The sender id is left unset for the authority to assign.
func (m *Manager) Send(ctx context.Context, content string, channel models.ChannelID) (models.Envelope, error) {
	content = strings.TrimSpace(content)

	m.mu.Lock()
	if err := m.readyLocked("send"); err != nil {
		m.mu.Unlock()
		return models.Envelope{}, err
	}
	cat := m.catalog
	_, subscribed := m.subscribed[channel]
	m.mu.Unlock()

	if content == "" {
		return models.Envelope{}, m.rejectSend(channel, fmt.Errorf("%w: content is empty", models.ErrValidationFailed))
	}
	limit := models.MaxContentLength
	if cfg, ok := cat.GetOrDefault(channel); ok {
		limit = cfg.MaxMessageLength
	}
	if n := utf8.RuneCountInString(content); n > limit {
		return models.Envelope{}, m.rejectSend(channel,
			fmt.Errorf("%w: content is %d characters, limit is %d", models.ErrValidationFailed, n, limit))
	}
	if !subscribed {
		return models.Envelope{}, m.rejectSend(channel, fmt.Errorf("%w: %s", models.ErrNotSubscribed, channel))
	}

	name, err := m.identity.DisplayName(ctx, m.id)
	if err != nil {
		return models.Envelope{}, m.rejectSend(channel,
			fmt.Errorf("%w: display name unavailable: %w", models.ErrValidationFailed, err))
	}
	opts := make([]models.EnvelopeOption, 0, 2)
	if pos, err := m.identity.Position(ctx, m.id); err == nil {
		opts = append(opts, models.WithPosition(pos))
	} else {
		m.logger.Debug().Err(err).Msg("sender position unavailable")
	}
	if area, err := m.identity.Area(ctx, m.id); err == nil {
		opts = append(opts, models.WithArea(area))
	} else {
		m.logger.Debug().Err(err).Msg("sender area unavailable")
	}

	env := models.NewEnvelope(channel, name, content, opts...)
	if err := m.transport.Submit(ctx, m.id, env); err != nil {
		return models.Envelope{}, m.rejectSend(channel, fmt.Errorf("%w: %w", models.ErrDeliveryFailed, err))
	}
	return env, nil
}

// History returns a copy of the channel's history, oldest first. The
// result is never nil.
func (m *Manager) History(channel models.ChannelID) []models.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.histories[channel]
	if !ok {
		return []models.Envelope{}
	}
	return h.All()
}

// ClearHistory empties the channel's history.
func (m *Manager) ClearHistory(channel models.ChannelID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.histories[channel]; ok {
		h.Clear()
	}
}

// Active returns the active channel, or models.NoChannel.
func (m *Manager) Active() models.ChannelID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Subscriptions returns the subscribed channels in ordinal order.
func (m *Manager) Subscriptions() []models.ChannelID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptionsLocked()
}

// IsSubscribed reports whether channel is subscribed.
func (m *Manager) IsSubscribed(channel models.ChannelID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subscribed[channel]
	return ok
}

// Available returns the channels a participant may subscribe to.
func (m *Manager) Available() []models.ChannelConfig {
	m.mu.Lock()
	cat := m.catalog
	m.mu.Unlock()
	if cat == nil {
		return nil
	}
	return cat.Subscribable()
}

func (m *Manager) checkReady(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readyLocked(op)
}

func (m *Manager) readyLocked(op string) error {
	if m.state == Ready {
		return nil
	}
	m.logger.Warn().
		Str("event", "not_ready").
		Str("op", op).
		Msg("operation before initialization ignored")
	return fmt.Errorf("%w: %s", models.ErrNotReady, op)
}

func (m *Manager) rejectSend(channel models.ChannelID, err error) error {
	ev := m.logger.Warn()
	if errors.Is(err, models.ErrDeliveryFailed) {
		ev = m.logger.Error()
	}
	ev.Err(err).
		Str("event", "send_rejected").
		Str("channel", channel.String()).
		Msg("send rejected")
	return err
}

func (m *Manager) historyLocked(channel models.ChannelID) *history.Store {
	h, ok := m.histories[channel]
	if !ok {
		h = history.New(m.historySize)
		m.histories[channel] = h
	}
	return h
}

func (m *Manager) lowestLocked() models.ChannelID {
	lowest := models.NoChannel
	for ch := range m.subscribed {
		if ch < lowest {
			lowest = ch
		}
	}
	return lowest
}

func (m *Manager) subscriptionsLocked() []models.ChannelID {
	out := make([]models.ChannelID, 0, len(m.subscribed))
	for ch := range m.subscribed {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Manager) notify(fn func(Display)) {
	for _, d := range m.displays {
		fn(d)
	}
}
