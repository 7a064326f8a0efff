package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ChannelID identifies a logical delivery scope. Values are encoded as a
// single byte on the wire, so existing ordinals must never be renumbered.
type ChannelID uint8

const (
	Global ChannelID = iota
	Area
	Proximity
	Guild
	Whisper
	System

	// NoChannel is the active channel of a participant with no subscriptions.
	NoChannel ChannelID = math.MaxUint8
)

// AllChannels lists every known channel in ordinal order.
var AllChannels = []ChannelID{Global, Area, Proximity, Guild, Whisper, System}

var channelNames = map[ChannelID]string{
	Global:    "global",
	Area:      "area",
	Proximity: "proximity",
	Guild:     "guild",
	Whisper:   "whisper",
	System:    "system",
}

// String returns the lowercase channel name.
func (c ChannelID) String() string {
	if name, ok := channelNames[c]; ok {
		return name
	}
	if c == NoChannel {
		return "none"
	}
	return "channel(" + strconv.Itoa(int(c)) + ")"
}

// Known reports whether c is one of the defined channels.
func (c ChannelID) Known() bool {
	_, ok := channelNames[c]
	return ok
}

// ParseChannelID parses a channel name, case-insensitively.
func ParseChannelID(s string) (ChannelID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for id, name := range channelNames {
		if name == s {
			return id, nil
		}
	}
	return NoChannel, fmt.Errorf("%w: unknown channel %q", ErrNotFound, s)
}

// MarshalText encodes the channel as its name.
func (c ChannelID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a channel name.
func (c *ChannelID) UnmarshalText(b []byte) error {
	if string(b) == "none" {
		*c = NoChannel
		return nil
	}
	id, err := ParseChannelID(string(b))
	if err != nil {
		return err
	}
	*c = id
	return nil
}

// Radius is a delivery distance. The zero value is invalid; use
// UnboundedRadius for channels without a distance limit.
type Radius struct {
	limit     float64
	unbounded bool
}

// UnboundedRadius returns a radius that contains every distance.
func UnboundedRadius() Radius {
	return Radius{unbounded: true}
}

// RadiusOf returns a radius limited to d units.
func RadiusOf(d float64) Radius {
	return Radius{limit: d}
}

// Unbounded reports whether the radius has no limit.
func (r Radius) Unbounded() bool { return r.unbounded }

// Limit returns the distance limit. Meaningless when Unbounded.
func (r Radius) Limit() float64 { return r.limit }

// Contains reports whether distance d is within the radius (inclusive).
func (r Radius) Contains(d float64) bool {
	return r.unbounded || d <= r.limit
}

// Valid reports whether the radius is usable.
func (r Radius) Valid() bool {
	return r.unbounded || (r.limit > 0 && !math.IsInf(r.limit, 0) && !math.IsNaN(r.limit))
}

func (r Radius) String() string {
	if r.unbounded {
		return "unbounded"
	}
	return strconv.FormatFloat(r.limit, 'f', -1, 64)
}

// ParseRadius accepts a positive number or "unbounded".
func ParseRadius(s string) (Radius, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "unbounded") {
		return UnboundedRadius(), nil
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Radius{}, fmt.Errorf("invalid radius %q: %w", s, err)
	}
	return RadiusOf(d), nil
}

// MarshalJSON encodes a bounded radius as a number and an unbounded one as "unbounded".
func (r Radius) MarshalJSON() ([]byte, error) {
	if r.unbounded {
		return []byte(`"unbounded"`), nil
	}
	return json.Marshal(r.limit)
}

// UnmarshalJSON accepts a number or the string "unbounded".
func (r *Radius) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := ParseRadius(s)
		if err != nil {
			return err
		}
		*r = parsed
		return nil
	}
	var d float64
	if err := json.Unmarshal(b, &d); err != nil {
		return fmt.Errorf("invalid radius: %w", err)
	}
	*r = RadiusOf(d)
	return nil
}

// UnmarshalYAML accepts a number or the scalar "unbounded".
func (r *Radius) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: radius must be a scalar", node.Line)
	}
	parsed, err := ParseRadius(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*r = parsed
	return nil
}

// ChannelConfig holds the delivery policy of one channel.
type ChannelConfig struct {
	ID                   ChannelID     `json:"id" yaml:"id"`
	Name                 string        `json:"name" yaml:"name"`
	Prefix               string        `json:"prefix" yaml:"prefix"` // display only
	Enabled              bool          `json:"enabled" yaml:"enabled"`
	RequiresOptIn        bool          `json:"requires_opt_in" yaml:"requires_opt_in"`
	Listed               bool          `json:"listed" yaml:"listed"` // shown in the subscribable list
	ProximityRange       Radius        `json:"proximity_range" yaml:"proximity_range"`
	MaxMessageLength     int           `json:"max_message_length" yaml:"max_message_length"`
	MessageCooldown      time.Duration `json:"message_cooldown" yaml:"cooldown"`
	MaxMessagesPerMinute int           `json:"max_messages_per_minute" yaml:"max_messages_per_minute"`
	Unthrottled          bool          `json:"unthrottled" yaml:"unthrottled"` // no rate limit at all
}

// Validate checks the config invariants.
func (c ChannelConfig) Validate() error {
	switch {
	case !c.ID.Known():
		return fmt.Errorf("%w: unknown channel id %d", ErrInvalidConfig, c.ID)
	case strings.TrimSpace(c.Name) == "":
		return fmt.Errorf("%w: %s: name is required", ErrInvalidConfig, c.ID)
	case strings.TrimSpace(c.Prefix) == "":
		return fmt.Errorf("%w: %s: prefix is required", ErrInvalidConfig, c.ID)
	case !c.ProximityRange.Valid():
		return fmt.Errorf("%w: %s: proximity range must be positive or unbounded", ErrInvalidConfig, c.ID)
	case c.MaxMessageLength <= 0 || c.MaxMessageLength > MaxContentLength:
		return fmt.Errorf("%w: %s: max message length must be in 1..%d", ErrInvalidConfig, c.ID, MaxContentLength)
	case c.MaxMessagesPerMinute <= 0:
		return fmt.Errorf("%w: %s: max messages per minute must be positive", ErrInvalidConfig, c.ID)
	case c.MessageCooldown < 0:
		return fmt.Errorf("%w: %s: cooldown must not be negative", ErrInvalidConfig, c.ID)
	}
	return nil
}
