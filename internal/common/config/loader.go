package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml on top
// and applies environment overrides.
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")
	bindEnv(v)
	setDefaults(v)

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	// 1. base config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// 2. environment config
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // ignore error if not found

	return finalize(v)
}

// LoadFromFile reads a single YAML file with the same override rules as Load.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	bindEnv(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finalize(v)
}

func finalize(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func bindEnv(v *viper.Viper) {
	// SESSION_BACKEND overrides session.backend
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// setDefaults registers every key so AutomaticEnv can override keys absent
// from the YAML files.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "rewindify")
	v.SetDefault("app.version", "dev")
	v.SetDefault("app.environment", "development")

	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.read_timeout", 30000)
	v.SetDefault("server.write_timeout", 60000)
	v.SetDefault("server.shutdown_timeout", 15000)
	v.SetDefault("server.max_upload_mb", 256)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:5174"})
	v.SetDefault("server.upload_rate_limit", 0)

	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.ttl_minutes", 45)

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.sqlite_path", "rewindify.db")
	v.SetDefault("storage.batch_size", 500)

	v.SetDefault("database.postgres.host", "")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "")
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.redis.address", "")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("ingest.min_duration_ms", 45000)
	v.SetDefault("ingest.file_pattern", "Streaming_History_Audio_*.json")
	v.SetDefault("ingest.timezone", "UTC")
	v.SetDefault("ingest.lock_backend", "memory")
	v.SetDefault("ingest.lock_wait_ms", 30000)
	v.SetDefault("ingest.lock_lease_ms", 120000)

	v.SetDefault("reaper.enabled", true)
	v.SetDefault("reaper.interval_minutes", 10)

	v.SetDefault("stats.top_n", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

func overrideEmptyConfig(cfg *Config) {
	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
	if cfg.Database.Redis.Password == "" {
		if val := os.Getenv("REDIS_PASSWORD"); val != "" {
			cfg.Database.Redis.Password = val
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Session.TTLMinutes <= 0 {
		cfg.Session.TTLMinutes = 45
	}
	if cfg.Storage.BatchSize <= 0 {
		cfg.Storage.BatchSize = 500
	}
	if cfg.Ingest.MinDurationMs <= 0 {
		cfg.Ingest.MinDurationMs = minPlayDurationMs
	}
	if cfg.Ingest.Timezone == "" {
		cfg.Ingest.Timezone = "UTC"
	}
	if cfg.Ingest.LockWaitMs <= 0 {
		cfg.Ingest.LockWaitMs = 30000
	}
	if cfg.Ingest.LockLeaseMs <= 0 {
		cfg.Ingest.LockLeaseMs = 120000
	}
	if cfg.Reaper.IntervalMinutes <= 0 {
		cfg.Reaper.IntervalMinutes = 10
	}
	if cfg.Stats.TopN <= 0 {
		cfg.Stats.TopN = 10
	}

	// Database defaults
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Redis.PoolSize == 0 {
		cfg.Database.Redis.PoolSize = 10
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Session.Backend {
	case "redis", "sql", "memory":
	default:
		return fmt.Errorf("session.backend must be one of redis, sql, memory (got %q)", cfg.Session.Backend)
	}

	switch cfg.Storage.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("storage.driver must be one of postgres, sqlite, memory (got %q)", cfg.Storage.Driver)
	}

	switch cfg.Ingest.LockBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("ingest.lock_backend must be one of redis, memory (got %q)", cfg.Ingest.LockBackend)
	}

	if cfg.Session.Backend == "sql" && cfg.Storage.Driver == "memory" {
		return fmt.Errorf("session.backend sql requires storage.driver postgres or sqlite")
	}

	if cfg.Storage.Driver == "postgres" {
		if cfg.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
		if cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
		if cfg.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.user is required")
		}
	}

	if cfg.Storage.Driver == "sqlite" && cfg.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required")
	}

	if cfg.UsesRedis() && cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if cfg.Ingest.MinDurationMs < minPlayDurationMs {
		return fmt.Errorf("ingest.min_duration_ms must be at least %d (got %d)", minPlayDurationMs, cfg.Ingest.MinDurationMs)
	}

	if _, err := time.LoadLocation(cfg.Ingest.Timezone); err != nil {
		return fmt.Errorf("ingest.timezone: %w", err)
	}

	return nil
}

// minPlayDurationMs is the shortest play that counts as a listen.
const minPlayDurationMs = 45000

func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
