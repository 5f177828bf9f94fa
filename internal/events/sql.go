package events

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/navinbhat12/rewindify/internal/common/database"
	"github.com/navinbhat12/rewindify/internal/common/logger"
	"github.com/navinbhat12/rewindify/internal/models"
)

const (
	eventsTable      = "play_events"
	summariesTable   = "daily_summaries"
	defaultBatchSize = 500
)

var eventColumns = []string{
	"session_id", "track_name", "artist_name", "album_name", "played_at",
	"duration_ms", "date", "year", "month", "day_of_week",
}

// SQLStore implements Store on Postgres or SQLite.
type SQLStore struct {
	db        *sql.DB
	dialect   database.Dialect
	sb        sq.StatementBuilderType
	batchSize int
	logger    logger.Logger
}

func NewSQLStore(db *sql.DB, dialect database.Dialect, batchSize int, log logger.Logger) *SQLStore {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &SQLStore{
		db:        db,
		dialect:   dialect,
		sb:        dialect.Builder(),
		batchSize: batchSize,
		logger:    logger.Component(log, "events"),
	}
}

func (s *SQLStore) ApplyBatch(ctx context.Context, sessionID string, replace bool, batch []models.PlayEvent) (BatchResult, error) {
	var res BatchResult

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if replace {
			cleared, err := s.clear(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			res.Cleared = cleared
		}

		inserted, err := s.insert(ctx, tx, sessionID, batch)
		if err != nil {
			return err
		}
		res.Inserted = inserted

		days, err := s.recompute(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		res.Days = days
		return nil
	})
	if err != nil {
		return BatchResult{}, fmt.Errorf("apply batch: %w", err)
	}

	s.logger.Debug("Batch applied", map[string]interface{}{
		"sessionId": sessionID,
		"replace":   replace,
		"inserted":  res.Inserted,
		"days":      res.Days,
	})
	return res, nil
}

func (s *SQLStore) insert(ctx context.Context, ex database.Execer, sessionID string, batch []models.PlayEvent) (int, error) {
	inserted := 0
	for start := 0; start < len(batch); start += s.batchSize {
		end := start + s.batchSize
		if end > len(batch) {
			end = len(batch)
		}

		ib := s.sb.Insert(eventsTable).Columns(eventColumns...)
		for _, ev := range batch[start:end] {
			ib = ib.Values(
				sessionID, ev.TrackName, ev.ArtistName, ev.AlbumName, ev.PlayedAt.UTC(),
				ev.DurationMs, ev.Date, ev.Year, ev.Month, ev.DayOfWeek,
			)
		}

		query, args, err := ib.ToSql()
		if err != nil {
			return inserted, fmt.Errorf("building insert query: %w", err)
		}
		if _, err := ex.ExecContext(ctx, query, args...); err != nil {
			return inserted, fmt.Errorf("inserting events: %w", err)
		}
		inserted += end - start
	}
	return inserted, nil
}

func (s *SQLStore) clear(ctx context.Context, ex database.Execer, sessionID string) (ClearResult, error) {
	var res ClearResult

	history, err := s.deleteBySession(ctx, ex, eventsTable, sessionID)
	if err != nil {
		return res, err
	}
	summaries, err := s.deleteBySession(ctx, ex, summariesTable, sessionID)
	if err != nil {
		return res, err
	}

	res.HistoryDeleted = history
	res.SummariesDeleted = summaries
	return res, nil
}

func (s *SQLStore) deleteBySession(ctx context.Context, ex database.Execer, table, sessionID string) (int64, error) {
	query, args, err := s.sb.Delete(table).Where(sq.Eq{"session_id": sessionID}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building delete query: %w", err)
	}

	result, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting from %s: %w", table, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted %s rows: %w", table, err)
	}
	return n, nil
}

// recompute replaces every summary of the session with a fresh GROUP BY.
func (s *SQLStore) recompute(ctx context.Context, ex database.Execer, sessionID string) (int, error) {
	if _, err := s.deleteBySession(ctx, ex, summariesTable, sessionID); err != nil {
		return 0, err
	}

	query, args, err := s.sb.Insert(summariesTable).
		Columns("session_id", "date", "total_seconds", "total_tracks", "unique_artists", "unique_tracks").
		Select(s.sb.Select(
			"session_id",
			"date",
			"SUM(duration_ms) / 1000.0",
			"COUNT(*)",
			"COUNT(DISTINCT artist_name)",
			"COUNT(DISTINCT track_name)",
		).
			From(eventsTable).
			Where(sq.Eq{"session_id": sessionID}).
			GroupBy("session_id", "date")).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building summary query: %w", err)
	}

	result, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("recomputing daily summaries: %w", err)
	}
	days, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting daily summaries: %w", err)
	}
	return int(days), nil
}

func (s *SQLStore) Clear(ctx context.Context, sessionID string) (ClearResult, error) {
	var res ClearResult
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		res, err = s.clear(ctx, tx, sessionID)
		return err
	})
	if err != nil {
		return ClearResult{}, fmt.Errorf("clear session: %w", err)
	}
	return res, nil
}

func (s *SQLStore) RecomputeDaily(ctx context.Context, sessionID string) (int, error) {
	var days int
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		days, err = s.recompute(ctx, tx, sessionID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("recompute daily: %w", err)
	}
	return days, nil
}

func (s *SQLStore) DailySeries(ctx context.Context, sessionID string) ([]models.DailySummary, error) {
	query, args, err := s.sb.Select("date", "total_seconds", "total_tracks", "unique_artists", "unique_tracks").
		From(summariesTable).
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("date ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building daily query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying daily summaries: %w", err)
	}
	defer rows.Close()

	out := make([]models.DailySummary, 0)
	for rows.Next() {
		d := models.DailySummary{SessionID: sessionID}
		if err := rows.Scan(&d.Date, &d.TotalSeconds, &d.TotalTracks, &d.UniqueArtists, &d.UniqueTracks); err != nil {
			return nil, fmt.Errorf("scanning daily summary: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating daily summaries: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Query(ctx context.Context, sessionID string, filter Filter) ([]models.PlayEvent, error) {
	qb := s.sb.Select(append([]string{"id"}, eventColumns...)...).
		From(eventsTable).
		Where(sq.Eq{"session_id": sessionID})

	if filter.Date != "" {
		qb = qb.Where(sq.Eq{"date": filter.Date})
	}
	if !filter.From.IsZero() {
		qb = qb.Where(sq.GtOrEq{"played_at": filter.From.UTC()})
	}
	if !filter.To.IsZero() {
		qb = qb.Where(sq.Lt{"played_at": filter.To.UTC()})
	}
	if filter.Artist != "" {
		qb = qb.Where(sq.Eq{"artist_name": filter.Artist})
	}
	qb = qb.OrderBy("played_at ASC", "id ASC")
	if filter.Limit > 0 {
		qb = qb.Limit(uint64(filter.Limit))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building events query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	out := make([]models.PlayEvent, 0)
	for rows.Next() {
		var ev models.PlayEvent
		if err := rows.Scan(
			&ev.ID, &ev.SessionID, &ev.TrackName, &ev.ArtistName, &ev.AlbumName, &ev.PlayedAt,
			&ev.DurationMs, &ev.Date, &ev.Year, &ev.Month, &ev.DayOfWeek,
		); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.PlayedAt = ev.PlayedAt.UTC()
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return out, nil
}

// textOrder returns an ascending ORDER BY term with byte-wise comparison so
// ties resolve the same way on every backend.
func (s *SQLStore) textOrder(expr string) string {
	if s.dialect == database.DialectPostgres {
		return expr + ` COLLATE "C" ASC`
	}
	return expr + " ASC"
}

func (s *SQLStore) TopN(ctx context.Context, sessionID string, dim models.Dimension, metric models.Metric, limit int) ([]models.RankedGroup, error) {
	return s.topN(ctx, s.db, sessionID, dim, metric, limit)
}

func (s *SQLStore) TopNBoards(ctx context.Context, sessionID string, boards []Board, limit int) ([][]models.RankedGroup, error) {
	out := make([][]models.RankedGroup, len(boards))
	err := database.WithTxOptions(ctx, s.db, s.dialect.ReadSnapshot(), func(tx *sql.Tx) error {
		for i, b := range boards {
			groups, err := s.topN(ctx, tx, sessionID, b.Dimension, b.Metric, limit)
			if err != nil {
				return err
			}
			out[i] = groups
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLStore) topN(ctx context.Context, q database.Execer, sessionID string, dim models.Dimension, metric models.Metric, limit int) ([]models.RankedGroup, error) {
	nameCol, artistCol, err := dimensionColumns(dim)
	if err != nil {
		return nil, err
	}

	agg := "SUM(duration_ms)"
	if metric == models.MetricCount {
		agg = "COUNT(*)"
	} else if err := metric.Validate(); err != nil {
		return nil, err
	}

	qb := s.sb.Select(nameCol + " AS name")
	groupBy := []string{nameCol}
	orderBy := []string{"value DESC", s.textOrder(nameCol)}
	if artistCol != "" {
		qb = qb.Column(artistCol + " AS artist")
		groupBy = append(groupBy, artistCol)
		orderBy = append(orderBy, s.textOrder(artistCol))
	}
	qb = qb.Column(agg + " AS value").
		From(eventsTable).
		Where(sq.Eq{"session_id": sessionID}).
		GroupBy(groupBy...).
		OrderBy(orderBy...)
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building top-n query: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying top %s by %s: %w", dim, metric, err)
	}
	defer rows.Close()

	out := make([]models.RankedGroup, 0)
	for rows.Next() {
		var g models.RankedGroup
		dest := []interface{}{&g.Name}
		if artistCol != "" {
			dest = append(dest, &g.ArtistName)
		}
		dest = append(dest, &g.Value)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning top-n row: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating top-n rows: %w", err)
	}
	return out, nil
}

func dimensionColumns(dim models.Dimension) (name, artist string, err error) {
	switch dim {
	case models.DimensionArtist:
		return "artist_name", "", nil
	case models.DimensionTrack:
		return "track_name", "artist_name", nil
	case models.DimensionAlbum:
		return "album_name", "artist_name", nil
	default:
		return "", "", dim.Validate()
	}
}

var _ Store = (*SQLStore)(nil)
