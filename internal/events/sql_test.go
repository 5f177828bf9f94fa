package events

import (
	"context"
	"database/sql/driver"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navinbhat12/rewindify/internal/common/database"
	"github.com/navinbhat12/rewindify/internal/common/database/migrate"
	"github.com/navinbhat12/rewindify/internal/common/logger"
	"github.com/navinbhat12/rewindify/internal/models"
)

func setupMockDB(t *testing.T, batchSize int) (*SQLStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db, database.DialectPostgres, batchSize, logger.NewTestLogger(t)), mock
}

func expectRecompute(mock sqlmock.Sqlmock, sessionID string, days int64) {
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM daily_summaries WHERE session_id = $1")).
		WithArgs(sessionID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO daily_summaries (session_id,date,total_seconds,total_tracks,unique_artists,unique_tracks) SELECT session_id, date, SUM(duration_ms) / 1000.0")).
		WithArgs(sessionID).
		WillReturnResult(sqlmock.NewResult(0, days))
}

func TestSQLStore_ApplyBatchReplace(t *testing.T) {
	store, mock := setupMockDB(t, 500)
	evs := fixture()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM play_events WHERE session_id = $1")).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 7))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM daily_summaries WHERE session_id = $1")).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO play_events (session_id,track_name,artist_name,album_name,played_at,duration_ms,date,year,month,day_of_week) VALUES")).
		WillReturnResult(sqlmock.NewResult(0, int64(len(evs))))
	expectRecompute(mock, "s1", 2)
	mock.ExpectCommit()

	res, err := store.ApplyBatch(context.Background(), "s1", true, evs)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{
		Inserted: 4,
		Cleared:  ClearResult{HistoryDeleted: 7, SummariesDeleted: 3},
		Days:     2,
	}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ApplyBatchSplitsInserts(t *testing.T) {
	store, mock := setupMockDB(t, 3)
	evs := fixture()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO play_events").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO play_events").WillReturnResult(sqlmock.NewResult(0, 1))
	expectRecompute(mock, "s1", 2)
	mock.ExpectCommit()

	res, err := store.ApplyBatch(context.Background(), "s1", false, evs)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ApplyBatchRollsBack(t *testing.T) {
	store, mock := setupMockDB(t, 500)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM play_events").WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("DELETE FROM daily_summaries").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO play_events").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := store.ApplyBatch(context.Background(), "s1", true, fixture())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_DailySeries(t *testing.T) {
	store, mock := setupMockDB(t, 500)

	rows := sqlmock.NewRows([]string{"date", "total_seconds", "total_tracks", "unique_artists", "unique_tracks"}).
		AddRow("2024-01-01", 180.0, 2, 2, 2).
		AddRow("2024-01-02", 150.0, 2, 1, 2)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT date, total_seconds, total_tracks, unique_artists, unique_tracks FROM daily_summaries WHERE session_id = $1 ORDER BY date ASC")).
		WithArgs("s1").
		WillReturnRows(rows)

	got, err := store.DailySeries(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, ComputeDailySummaries("s1", fixture()), got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_TopNQuery(t *testing.T) {
	tests := []struct {
		name     string
		dim      models.Dimension
		metric   models.Metric
		query    string
		columns  []string
		row      []driver.Value
		expected models.RankedGroup
	}{
		{
			name:     "artists by time",
			dim:      models.DimensionArtist,
			metric:   models.MetricTime,
			query:    `SELECT artist_name AS name, SUM(duration_ms) AS value FROM play_events WHERE session_id = $1 GROUP BY artist_name ORDER BY value DESC, artist_name COLLATE "C" ASC LIMIT 10`,
			columns:  []string{"name", "value"},
			row:      []driver.Value{"Artist X", int64(210000)},
			expected: models.RankedGroup{Name: "Artist X", Value: 210000},
		},
		{
			name:     "songs by count",
			dim:      models.DimensionTrack,
			metric:   models.MetricCount,
			query:    `SELECT track_name AS name, artist_name AS artist, COUNT(*) AS value FROM play_events WHERE session_id = $1 GROUP BY track_name, artist_name ORDER BY value DESC, track_name COLLATE "C" ASC, artist_name COLLATE "C" ASC LIMIT 10`,
			columns:  []string{"name", "artist", "value"},
			row:      []driver.Value{"Song A", "Artist X", int64(2)},
			expected: models.RankedGroup{Name: "Song A", ArtistName: "Artist X", Value: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := setupMockDB(t, 500)
			mock.ExpectQuery(regexp.QuoteMeta(tt.query)).
				WithArgs("s1").
				WillReturnRows(sqlmock.NewRows(tt.columns).AddRow(tt.row...))

			got, err := store.TopN(context.Background(), "s1", tt.dim, tt.metric, 10)
			require.NoError(t, err)
			assert.Equal(t, []models.RankedGroup{tt.expected}, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLStore_TopNRejectsUnknownDimension(t *testing.T) {
	store, _ := setupMockDB(t, 500)
	_, err := store.TopN(context.Background(), "s1", models.Dimension("genre"), models.MetricTime, 10)
	assert.Error(t, err)
}

func setupSQLite(t *testing.T) *SQLStore {
	client, err := database.NewSQLite(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, migrate.Run(client, logger.NewTestLogger(t)))
	return NewSQLStore(client.DB, client.Dialect, 2, logger.NewTestLogger(t))
}

// The SQLite store must agree with the in-memory reference implementation.
func TestSQLStore_SQLiteMatchesMemory(t *testing.T) {
	sqlStore := setupSQLite(t)
	memStore := NewMemoryStore()
	ctx := context.Background()
	evs := fixture()

	for _, store := range []Store{sqlStore, memStore} {
		_, err := store.ApplyBatch(ctx, "s1", true, evs[:3])
		require.NoError(t, err)
		_, err = store.ApplyBatch(ctx, "s1", false, evs[3:])
		require.NoError(t, err)
		_, err = store.ApplyBatch(ctx, "s2", true, evs[:1])
		require.NoError(t, err)
	}

	sqlDaily, err := sqlStore.DailySeries(ctx, "s1")
	require.NoError(t, err)
	memDaily, err := memStore.DailySeries(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, memDaily, sqlDaily)

	for _, dim := range []models.Dimension{models.DimensionArtist, models.DimensionTrack, models.DimensionAlbum} {
		for _, metric := range []models.Metric{models.MetricTime, models.MetricCount} {
			sqlTop, err := sqlStore.TopN(ctx, "s1", dim, metric, 10)
			require.NoError(t, err)
			memTop, err := memStore.TopN(ctx, "s1", dim, metric, 10)
			require.NoError(t, err)
			assert.Equal(t, memTop, sqlTop, "%s by %s", dim, metric)
		}
	}

	sqlBoards, err := sqlStore.TopNBoards(ctx, "s1", AllBoards, 10)
	require.NoError(t, err)
	memBoards, err := memStore.TopNBoards(ctx, "s1", AllBoards, 10)
	require.NoError(t, err)
	assert.Equal(t, memBoards, sqlBoards)

	day, err := sqlStore.Query(ctx, "s1", Filter{Date: "2024-01-01"})
	require.NoError(t, err)
	require.Len(t, day, 2)
	assert.Equal(t, "Song B", day[0].TrackName)
	assert.True(t, day[0].PlayedAt.Equal(evs[1].PlayedAt))

	cleared, err := sqlStore.Clear(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, ClearResult{HistoryDeleted: 4, SummariesDeleted: 2}, cleared)

	other, err := sqlStore.Query(ctx, "s2", Filter{})
	require.NoError(t, err)
	assert.Len(t, other, 1, "clearing one session leaves others intact")
}

func TestSQLStore_TopNBoardsSharesOneTransaction(t *testing.T) {
	store, mock := setupMockDB(t, 500)
	boards := []Board{
		{models.DimensionArtist, models.MetricTime},
		{models.DimensionTrack, models.MetricCount},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT artist_name AS name, SUM(duration_ms) AS value FROM play_events")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"name", "value"}).AddRow("Artist X", int64(210000)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT track_name AS name, artist_name AS artist, COUNT(*) AS value FROM play_events")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"name", "artist", "value"}).AddRow("Song A", "Artist X", int64(2)))
	mock.ExpectCommit()

	got, err := store.TopNBoards(context.Background(), "s1", boards, 10)
	require.NoError(t, err)
	assert.Equal(t, [][]models.RankedGroup{
		{{Name: "Artist X", Value: 210000}},
		{{Name: "Song A", ArtistName: "Artist X", Value: 2}},
	}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_TopNBoardsRollsBackOnError(t *testing.T) {
	store, mock := setupMockDB(t, 500)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT artist_name").WithArgs("s1").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := store.TopNBoards(context.Background(), "s1", AllBoards, 10)
	assert.ErrorContains(t, err, "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}
