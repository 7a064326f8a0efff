package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/eldtechnologies/chatmesh/internal/ids"
)

// Rate limiter backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all configuration for the server and the chat client.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	RedisURL    string
	SQLitePath  string
	CatalogFile string

	// Channel rate limiting
	RateLimitBackend string

	// HTTP rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations

	// Routing
	PositionCacheSize int
	PositionCacheTTL  time.Duration

	// Participant
	HistorySize   int
	ParticipantID uuid.UUID
	DisplayName   string
	ServerURL     string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg, err := fromEnv()
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

func fromEnv() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		SQLitePath:       os.Getenv("SQLITE_PATH"),
		CatalogFile:      os.Getenv("CATALOG_FILE"),
		RateLimitBackend: strings.ToLower(getEnv("RATE_LIMIT_BACKEND", BackendMemory)),
		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
		DisplayName:      os.Getenv("DISPLAY_NAME"),
	}
	cfg.ServerURL = strings.TrimRight(getEnv("SERVER_URL", "http://localhost:"+cfg.Port), "/")

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	var err error
	if cfg.HistorySize, err = getInt("HISTORY_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.PositionCacheSize, err = getInt("POSITION_CACHE_SIZE", 4096); err != nil {
		return nil, err
	}
	if cfg.PositionCacheTTL, err = getDuration("POSITION_CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if raw := os.Getenv("PARTICIPANT_ID"); raw != "" {
		if cfg.ParticipantID, err = ids.ParseParticipantID(raw); err != nil {
			return nil, fmt.Errorf("PARTICIPANT_ID: %w", err)
		}
	}

	switch cfg.RateLimitBackend {
	case BackendMemory, BackendRedis:
	default:
		return nil, fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q, got %q", BackendMemory, BackendRedis, cfg.RateLimitBackend)
	}
	if cfg.RateLimitBackend == BackendRedis && cfg.RedisURL == "" {
		return nil, fmt.Errorf("RATE_LIMIT_BACKEND=redis requires REDIS_URL")
	}

	// In production, require redis; it carries the transport
	if cfg.Env == "production" && cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required in production")
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, value)
	}
	return n, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, value)
	}
	return d, nil
}
