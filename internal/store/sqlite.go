package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/chatmesh/internal/models"
)

// SQLiteStore handles the channel registry in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chatmesh.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chatmesh.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS channel_configs (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		prefix TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		requires_opt_in INTEGER NOT NULL DEFAULT 0,
		listed INTEGER NOT NULL DEFAULT 1,
		proximity_range REAL,
		max_message_length INTEGER NOT NULL,
		cooldown_ms INTEGER NOT NULL DEFAULT 0,
		max_messages_per_minute INTEGER NOT NULL,
		unthrottled INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadChannelConfigs reads every registered channel.
func (s *SQLiteStore) LoadChannelConfigs(ctx context.Context) ([]models.ChannelConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
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
		var proximity sql.NullFloat64
		err := rows.Scan(
			&r.ID,
			&r.Name,
			&r.Prefix,
			&r.Enabled,
			&r.RequiresOptIn,
			&r.Listed,
			&proximity,
			&r.MaxMessageLength,
			&r.CooldownMillis,
			&r.MaxMessagesPerMinute,
			&r.Unthrottled,
		)
		if err != nil {
			return nil, err
		}
		if proximity.Valid {
			r.ProximityRange = &proximity.Float64
		}
		configs = append(configs, r.config())
	}
	return configs, rows.Err()
}

const sqliteInsert = `
	INSERT INTO channel_configs (id, name, prefix, enabled, requires_opt_in, listed, proximity_range,
	                             max_message_length, cooldown_ms, max_messages_per_minute, unthrottled)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// UpsertChannelConfig inserts or replaces one channel.
func (s *SQLiteStore) UpsertChannelConfig(ctx context.Context, cfg models.ChannelConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r := rowFromConfig(cfg)
	_, err := s.db.ExecContext(ctx, sqliteInsert+`
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			prefix = excluded.prefix,
			enabled = excluded.enabled,
			requires_opt_in = excluded.requires_opt_in,
			listed = excluded.listed,
			proximity_range = excluded.proximity_range,
			max_message_length = excluded.max_message_length,
			cooldown_ms = excluded.cooldown_ms,
			max_messages_per_minute = excluded.max_messages_per_minute,
			unthrottled = excluded.unthrottled,
			updated_at = CURRENT_TIMESTAMP
	`, r.ID, r.Name, r.Prefix, r.Enabled, r.RequiresOptIn, r.Listed, r.ProximityRange,
		r.MaxMessageLength, r.CooldownMillis, r.MaxMessagesPerMinute, r.Unthrottled)
	return err
}

// SeedChannelConfigs inserts configs whose id is not registered yet and
// returns how many rows were added.
func (s *SQLiteStore) SeedChannelConfigs(ctx context.Context, configs []models.ChannelConfig) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	added := 0
	for _, cfg := range configs {
		r := rowFromConfig(cfg)
		res, err := tx.ExecContext(ctx, sqliteInsert+` ON CONFLICT(id) DO NOTHING`,
			r.ID, r.Name, r.Prefix, r.Enabled, r.RequiresOptIn, r.Listed, r.ProximityRange,
			r.MaxMessageLength, r.CooldownMillis, r.MaxMessagesPerMinute, r.Unthrottled)
		if err != nil {
			return added, err
		}
		n, _ := res.RowsAffected()
		added += int(n)
	}
	return added, tx.Commit()
}
