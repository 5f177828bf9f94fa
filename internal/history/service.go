// Package history exposes the session-scoped operations of the listening
// history engine. Every call except CreateSession is gated on a valid
// session and slides that session's expiry forward when it completes.
package history

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apperrors "github.com/navinbhat12/rewindify/internal/common/errors"
	"github.com/navinbhat12/rewindify/internal/common/logger"
	"github.com/navinbhat12/rewindify/internal/common/metrics"
	"github.com/navinbhat12/rewindify/internal/common/observability"
	"github.com/navinbhat12/rewindify/internal/events"
	"github.com/navinbhat12/rewindify/internal/ingest"
	"github.com/navinbhat12/rewindify/internal/models"
	"github.com/navinbhat12/rewindify/internal/session"
	"github.com/navinbhat12/rewindify/internal/stats"
)

const (
	OpCreateSession = "create_session"
	OpEndSession    = "end_session"
	OpIngest        = "ingest"
	OpDailySeries   = "daily_series"
	OpEventsForDate = "events_for_date"
	OpAllTimeStats  = "all_time_stats"
	OpClear         = "clear"
)

// SessionInfo is returned when a session is created.
type SessionInfo struct {
	SessionID  string    `json:"session_id"`
	TTLMinutes int       `json:"ttl_minutes"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// IngestResult is the chunk outcome plus the refreshed daily series.
type IngestResult struct {
	ingest.Result
	DailySeries []models.DailyTotal `json:"daily_series"`
}

type Service struct {
	sessions    *session.Manager
	reassembler *ingest.Reassembler
	stats       *stats.Engine
	obs         *observability.Observability
	logger      logger.Logger
}

func NewService(
	sessions *session.Manager,
	reassembler *ingest.Reassembler,
	engine *stats.Engine,
	obs *observability.Observability,
	log logger.Logger,
) *Service {
	return &Service{
		sessions:    sessions,
		reassembler: reassembler,
		stats:       engine,
		obs:         obs,
		logger:      logger.Component(log, "history"),
	}
}

func (s *Service) CreateSession(ctx context.Context) (*SessionInfo, error) {
	var info *SessionInfo
	err := s.run(ctx, OpCreateSession, "", func(ctx context.Context) error {
		sess, err := s.sessions.Create(ctx)
		if err != nil {
			return err
		}
		info = &SessionInfo{
			SessionID:  sess.ID,
			TTLMinutes: int(s.sessions.TTL() / time.Minute),
			ExpiresAt:  sess.ExpiresAt,
		}
		return nil
	})
	return info, err
}

// EndSession marks the session inactive. Its data is removed by the next
// reaper sweep.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	return s.run(ctx, OpEndSession, sessionID, func(ctx context.Context) error {
		if err := s.authorize(ctx, sessionID); err != nil {
			return err
		}
		return s.sessions.Invalidate(ctx, sessionID)
	})
}

func (s *Service) Ingest(ctx context.Context, req ingest.ChunkRequest) (*IngestResult, error) {
	var out *IngestResult
	err := s.run(ctx, OpIngest, req.SessionID, func(ctx context.Context) error {
		res, err := s.reassembler.Ingest(ctx, req)
		if err != nil {
			return err
		}
		s.obs.RecordRecordsInserted(ctx, res.RecordsInserted)

		// the chunk is committed; a failed read here must not make the
		// client resend it
		series, err := s.stats.DailySeries(ctx, req.SessionID)
		if err != nil {
			s.logger.Warn("Daily series unavailable after ingest", map[string]interface{}{
				"sessionId": req.SessionID,
				"error":     err.Error(),
			})
			series = []models.DailyTotal{}
		}
		out = &IngestResult{Result: *res, DailySeries: series}
		return nil
	})
	return out, err
}

func (s *Service) DailySeries(ctx context.Context, sessionID string) ([]models.DailyTotal, error) {
	var out []models.DailyTotal
	err := s.run(ctx, OpDailySeries, sessionID, func(ctx context.Context) error {
		if err := s.authorize(ctx, sessionID); err != nil {
			return err
		}
		var err error
		out, err = s.stats.DailySeries(ctx, sessionID)
		return err
	})
	return out, err
}

func (s *Service) EventsForDate(ctx context.Context, sessionID, date string) ([]models.TrackPlay, error) {
	var out []models.TrackPlay
	err := s.run(ctx, OpEventsForDate, sessionID, func(ctx context.Context) error {
		if err := s.authorize(ctx, sessionID); err != nil {
			return err
		}
		var err error
		out, err = s.stats.EventsForDate(ctx, sessionID, date)
		return err
	})
	return out, err
}

func (s *Service) AllTimeStats(ctx context.Context, sessionID string) (*models.AllTimeStats, error) {
	var out *models.AllTimeStats
	err := s.run(ctx, OpAllTimeStats, sessionID, func(ctx context.Context) error {
		if err := s.authorize(ctx, sessionID); err != nil {
			return err
		}
		var err error
		out, err = s.stats.AllTimeStats(ctx, sessionID)
		return err
	})
	return out, err
}

func (s *Service) Clear(ctx context.Context, sessionID string) (events.ClearResult, error) {
	var out events.ClearResult
	err := s.run(ctx, OpClear, sessionID, func(ctx context.Context) error {
		if err := s.authorize(ctx, sessionID); err != nil {
			return err
		}
		var err error
		out, err = s.reassembler.Clear(ctx, sessionID)
		return err
	})
	if err == nil {
		s.logger.Info("Session history cleared", map[string]interface{}{
			"sessionId":        sessionID,
			"historyDeleted":   out.HistoryDeleted,
			"summariesDeleted": out.SummariesDeleted,
		})
	}
	return out, err
}

// ValidateSession checks a session without touching its expiry, so callers
// can reject a request before reading its body.
func (s *Service) ValidateSession(ctx context.Context, sessionID string) error {
	return s.authorize(ctx, sessionID)
}

func (s *Service) authorize(ctx context.Context, sessionID string) error {
	ok, err := s.sessions.Validate(ctx, sessionID)
	if err != nil {
		return apperrors.NewStorageError("validate session", err)
	}
	if !ok {
		return apperrors.NewSessionInvalidError(sessionID)
	}
	return nil
}

// run wraps one operation with tracing, metrics, error classification and
// the trailing sliding-expiry refresh.
func (s *Service) run(ctx context.Context, op, sessionID string, fn func(context.Context) error) error {
	ctx, span := s.obs.StartSpan(ctx, "history."+op)
	defer span.End()
	span.SetAttributes(attribute.String("operation", op))
	start := time.Now()

	err := fn(ctx)
	var stdErr *apperrors.StandardError
	if err != nil {
		stdErr = classify(op, sessionID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(stdErr.Code))
	}

	if sessionID != "" && op != OpEndSession && (stdErr == nil || stdErr.Code != apperrors.ErrCodeSessionInvalid) {
		s.extend(ctx, sessionID)
	}

	status := "success"
	if stdErr != nil {
		status = "error"
		metrics.OperationErrors.WithLabelValues(op, string(stdErr.Code)).Inc()
	}
	s.obs.RecordOperation(ctx, op, status, time.Since(start))

	if stdErr != nil {
		return stdErr
	}
	return nil
}

// extend failures are logged only: the operation itself already completed.
func (s *Service) extend(ctx context.Context, sessionID string) {
	if err := s.sessions.Extend(ctx, sessionID); err != nil {
		s.logger.Warn("Failed to extend session", map[string]interface{}{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
	}
}

// classify maps lower-layer errors onto the error taxonomy.
func classify(op, sessionID string, err error) *apperrors.StandardError {
	if stdErr, ok := apperrors.AsStandardError(err); ok {
		return stdErr
	}

	switch {
	case errors.Is(err, ingest.ErrSessionInvalid):
		return apperrors.NewSessionInvalidError(sessionID)
	case errors.Is(err, ingest.ErrInvalidChunk),
		errors.Is(err, ingest.ErrNoValidFiles),
		errors.Is(err, stats.ErrInvalidDate):
		return apperrors.NewValidationError(err.Error())
	case errors.Is(err, ingest.ErrLockTimeout):
		return apperrors.NewConflictError(sessionID)
	case errors.Is(err, context.Canceled):
		return apperrors.NewInternalError(err)
	default:
		// everything else surfaced from the stores
		return apperrors.NewStorageError(op, err)
	}
}
