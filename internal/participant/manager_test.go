package participant

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatmesh/internal/catalog"
	"github.com/eldtechnologies/chatmesh/internal/models"
	"github.com/eldtechnologies/chatmesh/internal/presence"
)

type submission struct {
	claimed uuid.UUID
	env     models.Envelope
}

type fakeTransport struct {
	mu          sync.Mutex
	submissions []submission
	joins       []models.ChannelID
	leaves      []models.ChannelID
	err         error
}

func (f *fakeTransport) Submit(_ context.Context, claimed uuid.UUID, env models.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.submissions = append(f.submissions, submission{claimed, env})
	return nil
}

func (f *fakeTransport) RequestJoinChannel(_ context.Context, _ uuid.UUID, ch models.ChannelID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, ch)
	return f.err
}

func (f *fakeTransport) RequestLeaveChannel(_ context.Context, _ uuid.UUID, ch models.ChannelID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, ch)
	return f.err
}

type recordingDisplay struct {
	mu       sync.Mutex
	received []models.Envelope
	subs     []string
	active   []models.ChannelID
}

func (d *recordingDisplay) OnEnvelopeReceived(env models.Envelope) {
	d.mu.Lock()
	d.received = append(d.received, env)
	d.mu.Unlock()
}

func (d *recordingDisplay) OnSubscriptionChanged(ch models.ChannelID, subscribed bool) {
	d.mu.Lock()
	sign := "-"
	if subscribed {
		sign = "+"
	}
	d.subs = append(d.subs, sign+ch.String())
	d.mu.Unlock()
}

func (d *recordingDisplay) OnActiveChannelChanged(ch models.ChannelID) {
	d.mu.Lock()
	d.active = append(d.active, ch)
	d.mu.Unlock()
}

type fixture struct {
	mgr       *Manager
	transport *fakeTransport
	display   *recordingDisplay
	registry  *presence.Registry
	catalog   *catalog.Catalog
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	cat, err := catalog.NewStatic(zerolog.Nop(), catalog.Defaults()...)
	require.NoError(t, err)

	id := uuid.New()
	reg := presence.NewRegistry()
	require.NoError(t, reg.Upsert(presence.Participant{
		ID: id, DisplayName: "Ava", Position: models.Vec3{X: 3, Y: 4}, AreaID: 7,
	}))

	f := &fixture{transport: &fakeTransport{}, display: &recordingDisplay{}, registry: reg, catalog: cat}
	opts = append([]Option{WithDisplay(f.display)}, opts...)
	f.mgr = NewManager(id, reg, f.transport, zerolog.Nop(), opts...)
	return f
}

func (f *fixture) ready() *fixture {
	f.mgr.Initialize(catalog.DefaultSubscriptions, catalog.DefaultActiveChannel, f.catalog)
	return f
}

func assertInvariant(t *testing.T, m *Manager) {
	t.Helper()
	subs := m.Subscriptions()
	if len(subs) == 0 {
		assert.Equal(t, models.NoChannel, m.Active())
		return
	}
	assert.Contains(t, subs, m.Active())
}

func TestOperationsBeforeReady(t *testing.T) {
	f := newFixture(t)
	m := f.mgr
	ctx := context.Background()

	assert.Equal(t, Uninitialized, m.State())

	_, err := m.Send(ctx, "hello", models.Global)
	assert.ErrorIs(t, err, models.ErrNotReady)
	_, err = m.Subscribe(models.Guild)
	assert.ErrorIs(t, err, models.ErrNotReady)
	_, err = m.Unsubscribe(models.Global)
	assert.ErrorIs(t, err, models.ErrNotReady)
	assert.ErrorIs(t, m.SetActiveChannel(models.Global), models.ErrNotReady)
	assert.ErrorIs(t, m.Join(ctx, models.Guild), models.ErrNotReady)

	assert.False(t, m.Receive(models.NewEnvelope(models.Global, "Bo", "early")))
	assert.Empty(t, m.History(models.Global))
	assert.Empty(t, f.transport.submissions)
	assert.Nil(t, m.Available())
}

func TestInitialize(t *testing.T) {
	f := newFixture(t).ready()
	m := f.mgr

	assert.Equal(t, Ready, m.State())
	assert.Equal(t, []models.ChannelID{models.Global, models.Area, models.Proximity, models.System}, m.Subscriptions())
	assert.Equal(t, models.Global, m.Active())
	assert.Equal(t, []string{"+global", "+area", "+proximity", "+system"}, f.display.subs)
	assert.Equal(t, []models.ChannelID{models.Global}, f.display.active)

	// Re-initialization replaces all state.
	require.True(t, m.Receive(models.NewEnvelope(models.Global, "Bo", "hi")))
	m.Initialize([]models.ChannelID{models.Proximity, models.Area}, models.Guild, f.catalog)
	assert.Equal(t, []models.ChannelID{models.Area, models.Proximity}, m.Subscriptions())
	assert.Equal(t, models.Area, m.Active(), "active not in defaults falls back to the lowest")
	assert.Empty(t, m.History(models.Global))
}

func TestInitializeSkipsUnknownChannels(t *testing.T) {
	f := newFixture(t)
	m := f.mgr

	m.Initialize([]models.ChannelID{models.Global, models.ChannelID(42)}, models.ChannelID(42), f.catalog)
	assert.Equal(t, []models.ChannelID{models.Global}, m.Subscriptions())
	assert.Equal(t, models.Global, m.Active())
	assert.False(t, m.IsSubscribed(models.ChannelID(42)))
	assert.False(t, m.Receive(models.NewEnvelope(models.ChannelID(42), "Bo", "?")))
	assertInvariant(t, m)
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t).ready()
	m := f.mgr

	added, err := m.Subscribe(models.Guild)
	require.NoError(t, err)
	assert.True(t, added)
	assert.True(t, m.IsSubscribed(models.Guild))

	added, err = m.Subscribe(models.Guild)
	require.NoError(t, err)
	assert.False(t, added, "already subscribed")

	_, err = m.Subscribe(models.ChannelID(77))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUnsubscribeReassignsToLowest(t *testing.T) {
	f := newFixture(t).ready()
	m := f.mgr

	require.NoError(t, m.SetActiveChannel(models.Proximity))
	removed, err := m.Unsubscribe(models.Proximity)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, models.Global, m.Active())

	_, err = m.Unsubscribe(models.Area)
	require.NoError(t, err)
	assert.Equal(t, models.Global, m.Active(), "removing a non-active channel keeps the active one")

	_, err = m.Unsubscribe(models.Global)
	require.NoError(t, err)
	assert.Equal(t, models.System, m.Active())

	_, err = m.Unsubscribe(models.System)
	require.NoError(t, err)
	assert.Equal(t, models.NoChannel, m.Active())
	assert.Empty(t, m.Subscriptions())

	removed, err = m.Unsubscribe(models.System)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = m.Subscribe(models.Whisper)
	require.NoError(t, err)
	assert.Equal(t, models.Whisper, m.Active(), "first subscription becomes active")
}

func TestSubscriptionInvariantUnderRandomOps(t *testing.T) {
	f := newFixture(t).ready()
	m := f.mgr
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		ch := models.AllChannels[rng.Intn(len(models.AllChannels))]
		switch rng.Intn(3) {
		case 0:
			_, err := m.Subscribe(ch)
			require.NoError(t, err)
		case 1:
			wasActive := m.Active() == ch
			_, err := m.Unsubscribe(ch)
			require.NoError(t, err)
			if wasActive && len(m.Subscriptions()) > 0 {
				assert.Equal(t, m.Subscriptions()[0], m.Active())
			}
		case 2:
			err := m.SetActiveChannel(ch)
			if !m.IsSubscribed(ch) {
				assert.ErrorIs(t, err, models.ErrNotSubscribed)
			}
		}
		assertInvariant(t, m)
	}
}

func TestSetActiveChannel(t *testing.T) {
	f := newFixture(t).ready()
	m := f.mgr

	assert.ErrorIs(t, m.SetActiveChannel(models.Guild), models.ErrNotSubscribed)
	assert.Equal(t, models.Global, m.Active())

	require.NoError(t, m.SetActiveChannel(models.Area))
	assert.Equal(t, models.Area, m.Active())
	assert.Equal(t, []models.ChannelID{models.Global, models.Area}, f.display.active)
}

func TestReceive(t *testing.T) {
	f := newFixture(t).ready()
	m := f.mgr

	env := models.NewEnvelope(models.Area, "Bo", "hi", models.WithArea(7))
	assert.True(t, m.Receive(env))
	assert.Equal(t, []models.Envelope{env}, m.History(models.Area))
	assert.Equal(t, []models.Envelope{env}, f.display.received)

	// Guild requires opt-in.
	assert.False(t, m.Receive(models.NewEnvelope(models.Guild, "Bo", "raid")))
	assert.Empty(t, m.History(models.Guild))

	assert.False(t, m.Receive(models.NewEnvelope(models.ChannelID(90), "Bo", "?")))
}

func TestReceiveAfterUnsubscribe(t *testing.T) {
	for _, ch := range catalog.DefaultSubscriptions {
		t.Run(ch.String(), func(t *testing.T) {
			f := newFixture(t).ready()
			m := f.mgr

			left, err := m.Unsubscribe(ch)
			require.NoError(t, err)
			require.True(t, left)

			assert.False(t, m.Receive(models.NewEnvelope(ch, "Bo", "still here", models.WithArea(7))))
			assert.Empty(t, m.History(ch))
			assert.Empty(t, f.display.received)
		})
	}
}

func TestHistoryBound(t *testing.T) {
	f := newFixture(t, WithHistorySize(5)).ready()
	m := f.mgr

	var sent []string
	for i := 0; i < 8; i++ {
		env := models.NewEnvelope(models.Global, "Bo", strings.Repeat("x", i+1))
		sent = append(sent, env.Content)
		require.True(t, m.Receive(env))
	}
	got := m.History(models.Global)
	require.Len(t, got, 5)
	for i, env := range got {
		assert.Equal(t, sent[3+i], env.Content)
	}

	got[0].Content = "mutated"
	assert.NotEqual(t, "mutated", m.History(models.Global)[0].Content)

	m.ClearHistory(models.Global)
	assert.Empty(t, m.History(models.Global))
	assert.NotNil(t, m.History(models.Whisper))
}

func TestSend(t *testing.T) {
	f := newFixture(t).ready()
	m := f.mgr

	env, err := m.Send(context.Background(), "  hello there  ", models.Area)
	require.NoError(t, err)
	require.Len(t, f.transport.submissions, 1)

	sub := f.transport.submissions[0]
	assert.Equal(t, m.ID(), sub.claimed)
	assert.Equal(t, env, sub.env)
	assert.Equal(t, uuid.Nil, env.SenderID, "sender id is assigned by the authority")
	assert.Equal(t, "hello there", env.Content)
	assert.Equal(t, "Ava", env.SenderDisplayName)
	assert.Equal(t, int64(7), env.AreaID)
	assert.Equal(t, models.Vec3{X: 3, Y: 4}, env.SenderPosition)
	assert.Empty(t, m.History(models.Area), "sending does not record locally")
}

func TestSendRejections(t *testing.T) {
	f := newFixture(t).ready()
	m := f.mgr
	ctx := context.Background()
	_, err := m.Unsubscribe(models.Area)
	require.NoError(t, err)

	tests := []struct {
		name    string
		content string
		channel models.ChannelID
		wantErr error
	}{
		{"empty", "", models.Global, models.ErrValidationFailed},
		{"whitespace", "   \t", models.Global, models.ErrValidationFailed},
		{"too long", strings.Repeat("a", 257), models.Global, models.ErrValidationFailed},
		{"not subscribed", "hello", models.Area, models.ErrNotSubscribed},
		{"opt-in not joined", "hello", models.Guild, models.ErrNotSubscribed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Send(ctx, tt.content, tt.channel)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Empty(t, f.transport.submissions)
	for _, ch := range models.AllChannels {
		assert.Empty(t, m.History(ch))
	}
}

func TestSendDeliveryFailure(t *testing.T) {
	f := newFixture(t).ready()
	transportErr := errors.New("redis: connection refused")
	f.transport.err = transportErr

	_, err := f.mgr.Send(context.Background(), "hello", models.Global)
	assert.ErrorIs(t, err, models.ErrDeliveryFailed)
	assert.ErrorIs(t, err, transportErr)
	assert.Empty(t, f.mgr.History(models.Global))
}

func TestSendUnknownSender(t *testing.T) {
	f := newFixture(t).ready()
	f.registry.Remove(f.mgr.ID())

	_, err := f.mgr.Send(context.Background(), "hello", models.Global)
	assert.ErrorIs(t, err, models.ErrValidationFailed)
}

func TestJoinLeave(t *testing.T) {
	f := newFixture(t).ready()
	ctx := context.Background()

	require.NoError(t, f.mgr.Join(ctx, models.Guild))
	require.NoError(t, f.mgr.Leave(ctx, models.Area))
	assert.Equal(t, []models.ChannelID{models.Guild}, f.transport.joins)
	assert.Equal(t, []models.ChannelID{models.Area}, f.transport.leaves)
	assert.False(t, f.mgr.IsSubscribed(models.Guild), "join waits for confirmation")

	f.transport.err = errors.New("down")
	assert.ErrorIs(t, f.mgr.Join(ctx, models.Whisper), models.ErrDeliveryFailed)
}

func TestAvailable(t *testing.T) {
	f := newFixture(t).ready()
	var names []string
	for _, cfg := range f.mgr.Available() {
		names = append(names, cfg.Name)
	}
	assert.NotContains(t, names, "System")
	assert.Len(t, names, 5)
}

func TestConcurrentReceiveAndSend(t *testing.T) {
	f := newFixture(t, WithHistorySize(50)).ready()
	m := f.mgr

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Receive(models.NewEnvelope(models.Global, "Bo", "x"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = m.Send(context.Background(), "y", models.Proximity)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = m.Subscribe(models.Guild)
				_, _ = m.Unsubscribe(models.Guild)
				_ = m.History(models.Global)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, m.History(models.Global), 50)
	assertInvariant(t, m)
}
