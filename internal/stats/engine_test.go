package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navinbhat12/rewindify/internal/common/logger"
	"github.com/navinbhat12/rewindify/internal/events"
	"github.com/navinbhat12/rewindify/internal/models"
)

func play(track, artist, album, ts string, ms int64) models.PlayEvent {
	at, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	return models.PlayEvent{
		TrackName:  track,
		ArtistName: artist,
		AlbumName:  album,
		PlayedAt:   at.UTC(),
		DurationMs: ms,
		Date:       at.UTC().Format(models.DateLayout),
	}
}

func seededEngine(t *testing.T, topN int) *Engine {
	store := events.NewMemoryStore()
	_, err := store.ApplyBatch(context.Background(), "s1", true, []models.PlayEvent{
		play("Song A", "Artist X", "Album 1", "2024-01-01T10:00:00Z", 61234),
		play("Song B", "Artist Y", "Album 2", "2024-01-01T09:00:00Z", 120000),
		play("Song A", "Artist X", "Album 1", "2024-01-02T10:00:00Z", 60000),
		play("Song C", "Artist X", "Album 1", "2024-01-02T11:00:00Z", 90000),
	})
	require.NoError(t, err)
	return NewEngine(store, topN, logger.NewTestLogger(t))
}

type brokenStore struct {
	*events.MemoryStore
}

func (brokenStore) TopN(context.Context, string, models.Dimension, models.Metric, int) ([]models.RankedGroup, error) {
	return nil, errors.New("connection reset")
}

func (brokenStore) TopNBoards(context.Context, string, []events.Board, int) ([][]models.RankedGroup, error) {
	return nil, errors.New("connection reset")
}

func (brokenStore) DailySeries(context.Context, string) ([]models.DailySummary, error) {
	return nil, errors.New("connection reset")
}

func TestEngine_DailySeries(t *testing.T) {
	e := seededEngine(t, 10)

	got, err := e.DailySeries(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []models.DailyTotal{
		{Date: "2024-01-01", TotalSeconds: 181.23},
		{Date: "2024-01-02", TotalSeconds: 150},
	}, got)

	empty, err := e.DailySeries(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestEngine_EventsForDate(t *testing.T) {
	e := seededEngine(t, 10)
	ctx := context.Background()

	got, err := e.EventsForDate(ctx, "s1", "2024-01-01")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Song B", got[0].TrackName)
	assert.Equal(t, "Artist Y", got[0].ArtistName)
	assert.Equal(t, int64(120000), got[0].DurationMs)
	assert.Equal(t, "Song A", got[1].TrackName)

	none, err := e.EventsForDate(ctx, "s1", "2023-05-05")
	require.NoError(t, err)
	assert.Empty(t, none)

	for _, bad := range []string{"", "2024-13-01", "01/02/2024", "2024-1-1"} {
		_, err := e.EventsForDate(ctx, "s1", bad)
		assert.ErrorIs(t, err, ErrInvalidDate, bad)
	}
}

func TestEngine_AllTimeStats(t *testing.T) {
	e := seededEngine(t, 10)

	got, err := e.AllTimeStats(context.Background(), "s1")
	require.NoError(t, err)

	assert.Equal(t, []models.LeaderboardEntry{
		{Name: "Artist X", Value: 3.5},
		{Name: "Artist Y", Value: 2},
	}, got.Artists.Time)
	assert.Equal(t, []models.LeaderboardEntry{
		{Name: "Artist X", Value: 3},
		{Name: "Artist Y", Value: 1},
	}, got.Artists.Count)
	assert.Equal(t, []models.LeaderboardEntry{
		{Name: "Song A", ArtistName: "Artist X", Value: 2},
		{Name: "Song B", ArtistName: "Artist Y", Value: 1},
		{Name: "Song C", ArtistName: "Artist X", Value: 1},
	}, got.Songs.Count)
	assert.Equal(t, "Song A", got.Songs.Time[0].Name)
	assert.Equal(t, 2.0, got.Songs.Time[0].Value)
	assert.Equal(t, []models.LeaderboardEntry{
		{Name: "Album 1", ArtistName: "Artist X", Value: 3.5},
		{Name: "Album 2", ArtistName: "Artist Y", Value: 2},
	}, got.Albums.Time)

	empty, err := e.AllTimeStats(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty.Artists.Time)
	assert.NotNil(t, empty.Albums.Count)
}

func TestEngine_LeaderboardLimit(t *testing.T) {
	e := seededEngine(t, 1)

	got, err := e.Leaderboard(context.Background(), "s1", models.DimensionTrack, models.MetricCount)
	require.NoError(t, err)
	assert.Equal(t, []models.LeaderboardEntry{{Name: "Song A", ArtistName: "Artist X", Value: 2}}, got)

	_, err = e.Leaderboard(context.Background(), "s1", models.Dimension("genre"), models.MetricCount)
	assert.Error(t, err)
	_, err = e.Leaderboard(context.Background(), "s1", models.DimensionTrack, models.Metric("skips"))
	assert.Error(t, err)
}

func TestEngine_StoreErrors(t *testing.T) {
	e := NewEngine(brokenStore{events.NewMemoryStore()}, 10, logger.NewTestLogger(t))

	_, err := e.AllTimeStats(context.Background(), "s1")
	assert.ErrorContains(t, err, "connection reset")
	_, err = e.DailySeries(context.Background(), "s1")
	assert.ErrorContains(t, err, "connection reset")
}

func TestEngine_RecomputeDaily(t *testing.T) {
	e := seededEngine(t, 10)
	days, err := e.RecomputeDaily(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, days)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 181.23, round(181.234, 2))
	assert.Equal(t, 1.0, round(1.0166, 1))
	assert.Equal(t, 3.5, round(3.52, 1))
}

func TestEngine_AllTimeStatsReadsOneSnapshot(t *testing.T) {
	store := events.NewMemoryStore()
	e := NewEngine(store, 10, logger.NewTestLogger(t))
	ctx := context.Background()

	dataset := func(tag string) []models.PlayEvent {
		return []models.PlayEvent{
			play("Track "+tag, "Artist "+tag, "Album "+tag, "2024-01-01T10:00:00Z", 60000),
			play("Track "+tag, "Artist "+tag, "Album "+tag, "2024-01-01T11:00:00Z", 60000),
		}
	}
	_, err := store.ApplyBatch(ctx, "s1", true, dataset("A"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			tag := "A"
			if i%2 == 0 {
				tag = "B"
			}
			if _, err := store.ApplyBatch(ctx, "s1", true, dataset(tag)); err != nil {
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		stats, err := e.AllTimeStats(ctx, "s1")
		require.NoError(t, err)

		tag := stats.Artists.Time[0].Name[len("Artist "):]
		assert.Equal(t, "Artist "+tag, stats.Artists.Count[0].Name)
		assert.Equal(t, "Track "+tag, stats.Songs.Time[0].Name)
		assert.Equal(t, "Track "+tag, stats.Songs.Count[0].Name)
		assert.Equal(t, "Album "+tag, stats.Albums.Time[0].Name)
		assert.Equal(t, "Album "+tag, stats.Albums.Count[0].Name)
	}
	<-done
}
