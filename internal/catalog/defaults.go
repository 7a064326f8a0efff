package catalog

import (
	"time"

	"github.com/eldtechnologies/chatmesh/internal/models"
)

// Defaults returns the built-in channel table in ordinal order.
func Defaults() []models.ChannelConfig {
	return []models.ChannelConfig{
		{
			ID:                   models.Global,
			Name:                 "Global",
			Prefix:               "[Global]",
			Enabled:              true,
			Listed:               true,
			ProximityRange:       models.UnboundedRadius(),
			MaxMessageLength:     256,
			MessageCooldown:      5 * time.Second,
			MaxMessagesPerMinute: 6,
		},
		{
			ID:                   models.Area,
			Name:                 "Area",
			Prefix:               "[Area]",
			Enabled:              true,
			Listed:               true,
			ProximityRange:       models.UnboundedRadius(),
			MaxMessageLength:     256,
			MessageCooldown:      time.Second,
			MaxMessagesPerMinute: 20,
		},
		{
			ID:                   models.Proximity,
			Name:                 "Proximity",
			Prefix:               "[Say]",
			Enabled:              true,
			Listed:               true,
			ProximityRange:       models.RadiusOf(50),
			MaxMessageLength:     200,
			MessageCooldown:      2 * time.Second,
			MaxMessagesPerMinute: 10,
		},
		{
			ID:                   models.Guild,
			Name:                 "Guild",
			Prefix:               "[Guild]",
			Enabled:              true,
			RequiresOptIn:        true,
			Listed:               true,
			ProximityRange:       models.UnboundedRadius(),
			MaxMessageLength:     512,
			MessageCooldown:      time.Second,
			MaxMessagesPerMinute: 30,
		},
		{
			ID:                   models.Whisper,
			Name:                 "Whisper",
			Prefix:               "[Whisper]",
			Enabled:              true,
			RequiresOptIn:        true,
			Listed:               true,
			ProximityRange:       models.UnboundedRadius(),
			MaxMessageLength:     512,
			MaxMessagesPerMinute: 30,
		},
		{
			ID:                   models.System,
			Name:                 "System",
			Prefix:               "[System]",
			Enabled:              true,
			ProximityRange:       models.UnboundedRadius(),
			MaxMessageLength:     models.MaxContentLength,
			MaxMessagesPerMinute: 600,
			Unthrottled:          true,
		},
	}
}

// DefaultFor returns the built-in config for id, if there is one.
func DefaultFor(id models.ChannelID) (models.ChannelConfig, bool) {
	for _, cfg := range Defaults() {
		if cfg.ID == id {
			return cfg, true
		}
	}
	return models.ChannelConfig{}, false
}

// DefaultSubscriptions is the channel set a participant starts with.
var DefaultSubscriptions = []models.ChannelID{models.Global, models.Area, models.Proximity, models.System}

// DefaultActiveChannel is the active channel right after initialization.
const DefaultActiveChannel = models.Global
