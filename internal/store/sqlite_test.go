package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatmesh/internal/models"
)

func testConfigs() []models.ChannelConfig {
	return []models.ChannelConfig{
		{
			ID:                   models.Global,
			Name:                 "Global",
			Prefix:               "[G]",
			Enabled:              true,
			Listed:               true,
			ProximityRange:       models.UnboundedRadius(),
			MaxMessageLength:     256,
			MessageCooldown:      5 * time.Second,
			MaxMessagesPerMinute: 6,
		},
		{
			ID:                   models.Proximity,
			Name:                 "Proximity",
			Prefix:               "[Say]",
			Enabled:              true,
			Listed:               true,
			ProximityRange:       models.RadiusOf(42.5),
			MaxMessageLength:     200,
			MessageCooldown:      1500 * time.Millisecond,
			MaxMessagesPerMinute: 10,
		},
	}
}

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSQLiteSeedAndLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	added, err := s.SeedChannelConfigs(ctx, testConfigs())
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	added, err = s.SeedChannelConfigs(ctx, testConfigs())
	require.NoError(t, err)
	assert.Equal(t, 0, added, "seeding is insert-if-missing")

	got, err := s.LoadChannelConfigs(ctx)
	require.NoError(t, err)
	assert.Equal(t, testConfigs(), got)
}

func TestSQLiteUpsert(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	_, err := s.SeedChannelConfigs(ctx, testConfigs())
	require.NoError(t, err)

	cfg := testConfigs()[1]
	cfg.ProximityRange = models.UnboundedRadius()
	cfg.Enabled = false
	require.NoError(t, s.UpsertChannelConfig(ctx, cfg))

	got, err := s.LoadChannelConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, cfg, got[1])

	cfg.MaxMessagesPerMinute = 0
	assert.ErrorIs(t, s.UpsertChannelConfig(ctx, cfg), models.ErrInvalidConfig)
}

func TestRowConversion(t *testing.T) {
	for _, cfg := range testConfigs() {
		assert.Equal(t, cfg, rowFromConfig(cfg).config())
	}
}
