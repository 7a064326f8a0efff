package models

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/chatmesh/internal/ids"
)

const (
	// MaxContentLength bounds any channel's max message length, in runes.
	MaxContentLength = 1024
	// MaxDisplayNameLength bounds sender display names, in runes.
	MaxDisplayNameLength = 32
)

// Priority orders envelopes for presentation.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PrioritySystem
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PrioritySystem:
		return "system"
	default:
		return "unknown"
	}
}

// Valid reports whether p is a defined priority.
func (p Priority) Valid() bool { return p <= PrioritySystem }

// Vec3 is a position in world space.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Distance returns the straight-line distance between v and o.
func (v Vec3) Distance(o Vec3) float64 {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// IsOrigin reports whether v is exactly (0,0,0).
func (v Vec3) IsOrigin() bool {
	return v.X == 0 && v.Y == 0 && v.Z == 0
}

// Envelope is one chat message. Envelopes are identified solely by ID;
// SenderID is uuid.Nil until the accepting authority assigns it.
type Envelope struct {
	ID                ulid.ULID `json:"id"`
	SenderID          uuid.UUID `json:"sender_id"`
	SenderDisplayName string    `json:"sender_name"`
	Content           string    `json:"content"`
	Channel           ChannelID `json:"channel"`
	Priority          Priority  `json:"priority"`
	Timestamp         time.Time `json:"ts"`
	SenderPosition    Vec3      `json:"position"` // Proximity only
	AreaID            int64     `json:"area_id"`  // Area only
}

// EnvelopeOption customizes NewEnvelope.
type EnvelopeOption func(*Envelope)

// WithPriority overrides the default priority.
func WithPriority(p Priority) EnvelopeOption {
	return func(e *Envelope) { e.Priority = p }
}

// WithPosition sets the sender position hint.
func WithPosition(pos Vec3) EnvelopeOption {
	return func(e *Envelope) { e.SenderPosition = pos }
}

// WithArea sets the area hint.
func WithArea(areaID int64) EnvelopeOption {
	return func(e *Envelope) { e.AreaID = areaID }
}

// WithSender sets the sender id.
func WithSender(id uuid.UUID) EnvelopeOption {
	return func(e *Envelope) { e.SenderID = id }
}

// WithTimestamp overrides the construction time.
func WithTimestamp(ts time.Time) EnvelopeOption {
	return func(e *Envelope) { e.Timestamp = ts.UTC() }
}

// NewEnvelope builds an envelope with a fresh message id. Content is
// trimmed; System channel envelopes default to system priority.
func NewEnvelope(channel ChannelID, displayName, content string, opts ...EnvelopeOption) Envelope {
	e := Envelope{
		ID:                ids.NewMessageID(),
		SenderDisplayName: strings.TrimSpace(displayName),
		Content:           strings.TrimSpace(content),
		Channel:           channel,
		Priority:          PriorityNormal,
		Timestamp:         time.Now().UTC(),
	}
	if channel == System {
		e.Priority = PrioritySystem
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Equal compares envelopes by message id only.
func (e Envelope) Equal(o Envelope) bool {
	return e.ID == o.ID
}
