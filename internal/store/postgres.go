package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/chatmesh/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS channel_configs (
	id                      SMALLINT PRIMARY KEY,
	name                    TEXT NOT NULL,
	prefix                  TEXT NOT NULL,
	enabled                 BOOLEAN NOT NULL DEFAULT TRUE,
	requires_opt_in         BOOLEAN NOT NULL DEFAULT FALSE,
	listed                  BOOLEAN NOT NULL DEFAULT TRUE,
	proximity_range         DOUBLE PRECISION,
	max_message_length      INTEGER NOT NULL,
	cooldown_ms             BIGINT NOT NULL DEFAULT 0,
	max_messages_per_minute INTEGER NOT NULL,
	unthrottled             BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// PostgresStore handles the channel registry in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool
// and makes sure the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// LoadChannelConfigs reads every registered channel.
func (s *PostgresStore) LoadChannelConfigs(ctx context.Context) ([]models.ChannelConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, prefix, enabled, requires_opt_in, listed, proximity_range,
		       max_message_length, cooldown_ms, max_messages_per_minute, unthrottled
		FROM channel_configs
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []models.ChannelConfig
	for rows.Next() {
		var r channelRow
		err := rows.Scan(
			&r.ID,
			&r.Name,
			&r.Prefix,
			&r.Enabled,
			&r.RequiresOptIn,
			&r.Listed,
			&r.ProximityRange,
			&r.MaxMessageLength,
			&r.CooldownMillis,
			&r.MaxMessagesPerMinute,
			&r.Unthrottled,
		)
		if err != nil {
			return nil, err
		}
		configs = append(configs, r.config())
	}
	return configs, rows.Err()
}

// UpsertChannelConfig inserts or replaces one channel.
func (s *PostgresStore) UpsertChannelConfig(ctx context.Context, cfg models.ChannelConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r := rowFromConfig(cfg)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO channel_configs (id, name, prefix, enabled, requires_opt_in, listed, proximity_range,
		                             max_message_length, cooldown_ms, max_messages_per_minute, unthrottled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			prefix = EXCLUDED.prefix,
			enabled = EXCLUDED.enabled,
			requires_opt_in = EXCLUDED.requires_opt_in,
			listed = EXCLUDED.listed,
			proximity_range = EXCLUDED.proximity_range,
			max_message_length = EXCLUDED.max_message_length,
			cooldown_ms = EXCLUDED.cooldown_ms,
			max_messages_per_minute = EXCLUDED.max_messages_per_minute,
			unthrottled = EXCLUDED.unthrottled,
			updated_at = NOW()
	`, r.ID, r.Name, r.Prefix, r.Enabled, r.RequiresOptIn, r.Listed, r.ProximityRange,
		r.MaxMessageLength, r.CooldownMillis, r.MaxMessagesPerMinute, r.Unthrottled)
	return err
}

// SeedChannelConfigs inserts configs whose id is not registered yet and
// returns how many rows were added.
func (s *PostgresStore) SeedChannelConfigs(ctx context.Context, configs []models.ChannelConfig) (int, error) {
	batch := &pgx.Batch{}
	for _, cfg := range configs {
		r := rowFromConfig(cfg)
		batch.Queue(`
			INSERT INTO channel_configs (id, name, prefix, enabled, requires_opt_in, listed, proximity_range,
			                             max_message_length, cooldown_ms, max_messages_per_minute, unthrottled)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.Name, r.Prefix, r.Enabled, r.RequiresOptIn, r.Listed, r.ProximityRange,
			r.MaxMessageLength, r.CooldownMillis, r.MaxMessagesPerMinute, r.Unthrottled)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	added := 0
	for range configs {
		tag, err := results.Exec()
		if err != nil {
			return added, err
		}
		added += int(tag.RowsAffected())
	}
	return added, nil
}
