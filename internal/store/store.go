package store

import (
	"context"
	"time"

	"github.com/eldtechnologies/chatmesh/internal/models"
)

// ChannelStore is a durable channel registry. Both PostgresStore and
// SQLiteStore implement this interface and can back the channel catalog.
type ChannelStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Channel registry operations
	LoadChannelConfigs(ctx context.Context) ([]models.ChannelConfig, error)
	UpsertChannelConfig(ctx context.Context, cfg models.ChannelConfig) error
	SeedChannelConfigs(ctx context.Context, configs []models.ChannelConfig) (int, error)
}

// channelRow is the column layout shared by both SQL backends. A NULL
// proximity range means unbounded.
type channelRow struct {
	ID                   int
	Name                 string
	Prefix               string
	Enabled              bool
	RequiresOptIn        bool
	Listed               bool
	ProximityRange       *float64
	MaxMessageLength     int
	CooldownMillis       int64
	MaxMessagesPerMinute int
	Unthrottled          bool
}

func rowFromConfig(cfg models.ChannelConfig) channelRow {
	row := channelRow{
		ID:                   int(cfg.ID),
		Name:                 cfg.Name,
		Prefix:               cfg.Prefix,
		Enabled:              cfg.Enabled,
		RequiresOptIn:        cfg.RequiresOptIn,
		Listed:               cfg.Listed,
		MaxMessageLength:     cfg.MaxMessageLength,
		CooldownMillis:       cfg.MessageCooldown.Milliseconds(),
		MaxMessagesPerMinute: cfg.MaxMessagesPerMinute,
		Unthrottled:          cfg.Unthrottled,
	}
	if !cfg.ProximityRange.Unbounded() {
		limit := cfg.ProximityRange.Limit()
		row.ProximityRange = &limit
	}
	return row
}

func (r channelRow) config() models.ChannelConfig {
	cfg := models.ChannelConfig{
		ID:                   models.ChannelID(r.ID),
		Name:                 r.Name,
		Prefix:               r.Prefix,
		Enabled:              r.Enabled,
		RequiresOptIn:        r.RequiresOptIn,
		Listed:               r.Listed,
		ProximityRange:       models.UnboundedRadius(),
		MaxMessageLength:     r.MaxMessageLength,
		MessageCooldown:      millis(r.CooldownMillis),
		MaxMessagesPerMinute: r.MaxMessagesPerMinute,
		Unthrottled:          r.Unthrottled,
	}
	if r.ProximityRange != nil {
		cfg.ProximityRange = models.RadiusOf(*r.ProximityRange)
	}
	return cfg
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
