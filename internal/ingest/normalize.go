package ingest

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"

	apperrors "github.com/navinbhat12/rewindify/internal/common/errors"
	"github.com/navinbhat12/rewindify/internal/common/logger"
	"github.com/navinbhat12/rewindify/internal/common/metrics"
	"github.com/navinbhat12/rewindify/internal/common/validation"
	"github.com/navinbhat12/rewindify/internal/models"
)

type recordOutcome int

const (
	recordAccepted recordOutcome = iota
	recordSkipped
	recordFiltered
)

// Normalizer turns uploaded export files into canonical play events.
type Normalizer struct {
	cfg    Config
	logger logger.Logger
}

func NewNormalizer(cfg Config, log logger.Logger) *Normalizer {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MinDurationMs < models.MinPlayDurationMs {
		cfg.MinDurationMs = models.MinPlayDurationMs
	}
	return &Normalizer{cfg: cfg, logger: logger.Component(log, "normalizer")}
}

// Accepts reports whether a file name matches the configured pattern.
func (n *Normalizer) Accepts(name string) bool {
	if n.cfg.FilePattern == "" {
		return true
	}
	ok, err := filepath.Match(n.cfg.FilePattern, filepath.Base(name))
	return err == nil && ok
}

// Normalize processes every file independently. A file that cannot be
// decoded is reported as failed and never aborts the batch.
func (n *Normalizer) Normalize(sessionID string, files []File) Batch {
	batch := Batch{
		Events: make([]models.PlayEvent, 0),
		Files:  make([]FileReport, 0, len(files)),
	}

	for _, f := range files {
		evs, report := n.normalizeFile(sessionID, f)
		metrics.IngestFiles.WithLabelValues(string(report.Status)).Inc()
		if report.Status == FileProcessed {
			batch.FilesProcessed++
			batch.Events = append(batch.Events, evs...)
		}
		batch.Files = append(batch.Files, report)
	}
	return batch
}

func (n *Normalizer) normalizeFile(sessionID string, f File) ([]models.PlayEvent, FileReport) {
	report := FileReport{Name: f.Name}

	if !n.Accepts(f.Name) {
		report.Status = FileSkipped
		report.Error = fmt.Sprintf("file name does not match %q", n.cfg.FilePattern)
		n.logger.Debug("Skipping file", map[string]interface{}{"file": f.Name})
		return nil, report
	}

	if result := validation.ValidateRecordArray(f.Data); !result.Valid {
		report.Status = FileFailed
		report.Error = result.Summary(3)
		n.logger.Warn("Rejected upload file", map[string]interface{}{
			"file":  f.Name,
			"error": report.Error,
		})
		return nil, report
	}

	var records []RawRecord
	if err := json.Unmarshal(f.Data, &records); err != nil {
		report.Status = FileFailed
		report.Error = fmt.Sprintf("decode: %v", err)
		n.logger.Warn("Rejected upload file", map[string]interface{}{
			"file":  f.Name,
			"error": report.Error,
		})
		return nil, report
	}

	report.Status = FileProcessed
	report.RecordsTotal = len(records)
	evs := make([]models.PlayEvent, 0, len(records))
	for i, rec := range records {
		ev, outcome, reason := n.normalizeRecord(sessionID, rec)
		switch outcome {
		case recordAccepted:
			evs = append(evs, ev)
			report.RecordsAccepted++
		case recordFiltered:
			report.RecordsFiltered++
			metrics.IngestRecords.WithLabelValues("filtered").Inc()
		case recordSkipped:
			report.RecordsSkipped++
			metrics.IngestRecords.WithLabelValues("skipped").Inc()
			n.logger.Debug("Skipping record", map[string]interface{}{
				"file":   f.Name,
				"index":  i,
				"reason": reason,
			})
		}
	}

	if report.RecordsSkipped > 0 {
		warning := apperrors.NewPartialParseWarning(f.Name, report.RecordsSkipped)
		n.logger.Warn(warning.Message, map[string]interface{}{
			"file":    f.Name,
			"skipped": report.RecordsSkipped,
			"total":   report.RecordsTotal,
		})
	}
	return evs, report
}

func (n *Normalizer) normalizeRecord(sessionID string, rec RawRecord) (models.PlayEvent, recordOutcome, string) {
	if rec.Ts == nil {
		return models.PlayEvent{}, recordSkipped, "missing ts"
	}
	playedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(*rec.Ts))
	if err != nil {
		return models.PlayEvent{}, recordSkipped, "unparseable ts"
	}
	if rec.MsPlayed == nil {
		return models.PlayEvent{}, recordSkipped, "missing ms_played"
	}
	if *rec.MsPlayed < 0 {
		return models.PlayEvent{}, recordSkipped, "negative ms_played"
	}

	durationMs := int64(*rec.MsPlayed)
	if durationMs < n.cfg.MinDurationMs {
		return models.PlayEvent{}, recordFiltered, ""
	}

	playedAt = playedAt.UTC()
	local := playedAt.In(n.cfg.Location)
	return models.PlayEvent{
		SessionID:  sessionID,
		TrackName:  orDefault(rec.TrackName, models.UnknownTrack),
		ArtistName: orDefault(rec.ArtistName, models.UnknownArtist),
		AlbumName:  orDefault(rec.AlbumName, models.UnknownAlbum),
		PlayedAt:   playedAt,
		DurationMs: durationMs,
		Date:       local.Format(models.DateLayout),
		Year:       local.Year(),
		Month:      int(local.Month()),
		DayOfWeek:  models.MondayIndex(local.Weekday()),
	}, recordAccepted, ""
}

func orDefault(s *string, fallback string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return fallback
	}
	return *s
}
