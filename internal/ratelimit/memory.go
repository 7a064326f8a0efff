package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/eldtechnologies/chatmesh/internal/models"
)

const sweepEvery = 1024

type key struct {
	sender  uuid.UUID
	channel models.ChannelID
}

type window struct {
	cooldown      *rate.Limiter // nil when the channel has no cooldown
	cooldownEvery time.Duration
	sent          []time.Time // oldest first, all within Window of the last check
	lastSeen      time.Time
}

// Memory is a process-local Limiter. All state sits behind one mutex.
type Memory struct {
	mu      sync.Mutex
	windows map[key]*window
	calls   int
}

// NewMemory creates an empty in-memory limiter.
func NewMemory() *Memory {
	return &Memory{windows: make(map[key]*window)}
}

// Allow implements Limiter.
func (m *Memory) Allow(_ context.Context, sender uuid.UUID, cfg models.ChannelConfig, now time.Time) (Decision, error) {
	if cfg.Unthrottled {
		return allowed(), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.calls%sweepEvery == 0 {
		m.sweep(now)
	}

	k := key{sender: sender, channel: cfg.ID}
	w, ok := m.windows[k]
	if !ok {
		w = &window{}
		m.windows[k] = w
	}
	w.lastSeen = now

	// Catalog reloads may change the cooldown under a live window.
	if w.cooldownEvery != cfg.MessageCooldown {
		w.cooldownEvery = cfg.MessageCooldown
		w.cooldown = nil
		if cfg.MessageCooldown > 0 {
			w.cooldown = rate.NewLimiter(rate.Every(cfg.MessageCooldown), 1)
		}
	}

	if w.cooldown != nil {
		if tokens := w.cooldown.TokensAt(now); tokens < 1 {
			wait := time.Duration((1 - tokens) * float64(cfg.MessageCooldown))
			return Decision{RetryAfter: wait, Reason: ReasonCooldown}, nil
		}
	}

	cutoff := now.Add(-Window)
	drop := 0
	for drop < len(w.sent) && !w.sent[drop].After(cutoff) {
		drop++
	}
	w.sent = w.sent[drop:]

	if len(w.sent) >= cfg.MaxMessagesPerMinute {
		return Decision{RetryAfter: w.sent[0].Add(Window).Sub(now), Reason: ReasonPerMinute}, nil
	}

	if w.cooldown != nil {
		w.cooldown.AllowN(now, 1)
	}
	w.sent = append(w.sent, now)
	return allowed(), nil
}

// Len returns the number of tracked (sender, channel) windows.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// Sweep drops windows idle for longer than Window plus their cooldown.
func (m *Memory) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep(now)
}

func (m *Memory) sweep(now time.Time) {
	for k, w := range m.windows {
		if now.Sub(w.lastSeen) > Window+w.cooldownEvery {
			delete(m.windows, k)
		}
	}
}
