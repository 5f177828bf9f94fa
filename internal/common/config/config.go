// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Session  SessionConfig  `mapstructure:"session"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Reaper   ReaperConfig   `mapstructure:"reaper"`
	Stats    StatsConfig    `mapstructure:"stats"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address         string   `mapstructure:"address"`
	ReadTimeout     int      `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int      `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int      `mapstructure:"shutdown_timeout"` // milliseconds
	MaxUploadMB     int64    `mapstructure:"max_upload_mb"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	UploadRateLimit int      `mapstructure:"upload_rate_limit"` // requests per minute per IP, 0 disables
}

// SessionConfig selects the session store backend.
type SessionConfig struct {
	Backend    string `mapstructure:"backend"` // redis | sql | memory
	TTLMinutes int    `mapstructure:"ttl_minutes"`
}

func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLMinutes) * time.Minute
}

// StorageConfig selects the event store backend.
type StorageConfig struct {
	Driver     string `mapstructure:"driver"` // postgres | sqlite | memory
	SQLitePath string `mapstructure:"sqlite_path"`
	BatchSize  int    `mapstructure:"batch_size"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// IngestConfig holds the normalization and chunk reassembly settings.
type IngestConfig struct {
	MinDurationMs int64  `mapstructure:"min_duration_ms"`
	FilePattern   string `mapstructure:"file_pattern"`
	Timezone      string `mapstructure:"timezone"`
	LockBackend   string `mapstructure:"lock_backend"` // memory | redis
	LockWaitMs    int    `mapstructure:"lock_wait_ms"`
	LockLeaseMs   int    `mapstructure:"lock_lease_ms"`
}

type ReaperConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalMinutes int  `mapstructure:"interval_minutes"`
}

func (r ReaperConfig) Interval() time.Duration {
	return time.Duration(r.IntervalMinutes) * time.Minute
}

type StatsConfig struct {
	TopN int `mapstructure:"top_n"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// UsesRedis reports whether any configured component needs a Redis client.
func (c *Config) UsesRedis() bool {
	return c.Session.Backend == "redis" || c.Ingest.LockBackend == "redis"
}

// UsesSQL reports whether any configured component needs a relational database.
func (c *Config) UsesSQL() bool {
	return c.Storage.Driver == "postgres" || c.Storage.Driver == "sqlite" || c.Session.Backend == "sql"
}
