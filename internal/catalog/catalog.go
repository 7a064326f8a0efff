// Package catalog holds the channel registry. The registry is loaded once
// from a Source and read without locks afterwards; reloads build a new
// immutable snapshot and swap it in atomically.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatmesh/internal/metrics"
	"github.com/eldtechnologies/chatmesh/internal/models"
)

// Source supplies channel configs. Implementations: DefaultSource,
// FileSource, store.PostgresStore and store.SQLiteStore.
type Source interface {
	LoadChannelConfigs(ctx context.Context) ([]models.ChannelConfig, error)
}

// DefaultSource serves the built-in channel table.
type DefaultSource struct{}

// LoadChannelConfigs returns Defaults().
func (DefaultSource) LoadChannelConfigs(context.Context) ([]models.ChannelConfig, error) {
	return Defaults(), nil
}

type snapshot struct {
	byID    map[models.ChannelID]models.ChannelConfig
	ordered []models.ChannelConfig
}

// Catalog is the channel registry.
type Catalog struct {
	source Source
	logger zerolog.Logger
	snap   atomic.Pointer[snapshot]
}

// New creates an empty catalog backed by source. Call Reload before use.
func New(source Source, logger zerolog.Logger) *Catalog {
	c := &Catalog{
		source: source,
		logger: logger.With().Str("component", "catalog").Logger(),
	}
	c.snap.Store(&snapshot{byID: map[models.ChannelID]models.ChannelConfig{}})
	return c
}

// NewStatic builds a loaded catalog from fixed configs.
func NewStatic(logger zerolog.Logger, configs ...models.ChannelConfig) (*Catalog, error) {
	c := New(staticSource(configs), logger)
	if err := c.Reload(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

type staticSource []models.ChannelConfig

func (s staticSource) LoadChannelConfigs(context.Context) ([]models.ChannelConfig, error) {
	return append([]models.ChannelConfig(nil), s...), nil
}

// Reload reads the source and replaces the snapshot. If any entry is
// invalid or duplicated the previous snapshot stays in place.
func (c *Catalog) Reload(ctx context.Context) error {
	configs, err := c.source.LoadChannelConfigs(ctx)
	if err != nil {
		metrics.CatalogReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("load channel configs: %w", err)
	}

	next, err := buildSnapshot(configs)
	if err != nil {
		metrics.CatalogReloads.WithLabelValues("invalid").Inc()
		return err
	}

	c.snap.Store(next)
	metrics.CatalogReloads.WithLabelValues("ok").Inc()
	c.logger.Info().Int("channels", len(next.ordered)).Msg("channel catalog loaded")
	return nil
}

func buildSnapshot(configs []models.ChannelConfig) (*snapshot, error) {
	s := &snapshot{
		byID:    make(map[models.ChannelID]models.ChannelConfig, len(configs)),
		ordered: make([]models.ChannelConfig, 0, len(configs)),
	}
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.byID[cfg.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate entry for %s", models.ErrInvalidConfig, cfg.ID)
		}
		s.byID[cfg.ID] = cfg
		s.ordered = append(s.ordered, cfg)
	}
	sort.Slice(s.ordered, func(i, j int) bool { return s.ordered[i].ID < s.ordered[j].ID })
	return s, nil
}

// Get returns the config for id, or ErrNotFound when it is not registered.
func (c *Catalog) Get(id models.ChannelID) (models.ChannelConfig, error) {
	cfg, ok := c.snap.Load().byID[id]
	if !ok {
		return models.ChannelConfig{}, fmt.Errorf("%w: channel %s is not registered", models.ErrNotFound, id)
	}
	return cfg, nil
}

// GetOrDefault returns the registered config for id, falling back to the
// built-in default with a warning. The second result is false only when
// neither exists.
func (c *Catalog) GetOrDefault(id models.ChannelID) (models.ChannelConfig, bool) {
	if cfg, err := c.Get(id); err == nil {
		return cfg, true
	}
	cfg, ok := DefaultFor(id)
	if !ok {
		return models.ChannelConfig{}, false
	}
	metrics.CatalogFallbacks.WithLabelValues(id.String()).Inc()
	c.logger.Warn().
		Str("event", "catalog_fallback").
		Str("channel", id.String()).
		Msg("channel not registered, using built-in default")
	return cfg, true
}

// All returns every registered config in channel ordinal order.
func (c *Catalog) All() []models.ChannelConfig {
	return append([]models.ChannelConfig(nil), c.snap.Load().ordered...)
}

// Subscribable returns enabled, listed channels in ordinal order.
func (c *Catalog) Subscribable() []models.ChannelConfig {
	var out []models.ChannelConfig
	for _, cfg := range c.snap.Load().ordered {
		if cfg.Enabled && cfg.Listed {
			out = append(out, cfg)
		}
	}
	return out
}

// Len returns the number of registered channels.
func (c *Catalog) Len() int {
	return len(c.snap.Load().ordered)
}

// IsValid reports whether cfg satisfies the config invariants.
func IsValid(cfg models.ChannelConfig) bool {
	return cfg.Validate() == nil
}
