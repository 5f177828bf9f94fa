package ingest

import (
	"fmt"
	"path/filepath"
	"time"
	_ "time/tzdata" // zone data for minimal images

	"github.com/navinbhat12/rewindify/internal/common/config"
	"github.com/navinbhat12/rewindify/internal/models"
)

const (
	DefaultFilePattern = "Streaming_History_Audio_*.json"
	DefaultLockWait    = 30 * time.Second
)

// Config controls normalization and chunk reassembly.
type Config struct {
	MinDurationMs int64 // raised only; never below models.MinPlayDurationMs
	FilePattern   string // empty accepts every file name
	Location      *time.Location
	LockWait      time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinDurationMs: models.MinPlayDurationMs,
		FilePattern:   DefaultFilePattern,
		Location:      time.UTC,
		LockWait:      DefaultLockWait,
	}
}

// NewConfig converts the application ingest section.
func NewConfig(c config.IngestConfig) (Config, error) {
	cfg := DefaultConfig()
	if c.MinDurationMs > 0 {
		if c.MinDurationMs < models.MinPlayDurationMs {
			return Config{}, fmt.Errorf("ingest.min_duration_ms %d is below the %d ms floor", c.MinDurationMs, models.MinPlayDurationMs)
		}
		cfg.MinDurationMs = c.MinDurationMs
	}
	cfg.FilePattern = c.FilePattern
	if _, err := filepath.Match(cfg.FilePattern, ""); err != nil {
		return Config{}, fmt.Errorf("ingest.file_pattern %q: %w", cfg.FilePattern, err)
	}
	if c.Timezone != "" {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return Config{}, fmt.Errorf("ingest.timezone: %w", err)
		}
		cfg.Location = loc
	}
	if c.LockWaitMs > 0 {
		cfg.LockWait = config.GetDuration(c.LockWaitMs)
	}
	return cfg, nil
}
