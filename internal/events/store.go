// Package events persists normalized play events and their daily summaries,
// partitioned by session id.
package events

import (
	"context"
	"sort"
	"time"

	"github.com/navinbhat12/rewindify/internal/models"
)

// Filter narrows Query results. Zero values leave a bound open.
type Filter struct {
	Date   string    // exact calendar day, YYYY-MM-DD
	From   time.Time // inclusive
	To     time.Time // exclusive
	Artist string
	Limit  int
}

// ClearResult counts the rows removed for a session.
type ClearResult struct {
	HistoryDeleted   int64 `json:"history_deleted"`
	SummariesDeleted int64 `json:"summaries_deleted"`
}

// BatchResult describes one applied ingestion batch.
type BatchResult struct {
	Inserted int
	Cleared  ClearResult
	Days     int
}

// Board names one leaderboard.
type Board struct {
	Dimension models.Dimension
	Metric    models.Metric
}

// AllBoards lists the six all-time leaderboards.
var AllBoards = []Board{
	{models.DimensionArtist, models.MetricTime},
	{models.DimensionArtist, models.MetricCount},
	{models.DimensionTrack, models.MetricTime},
	{models.DimensionTrack, models.MetricCount},
	{models.DimensionAlbum, models.MetricTime},
	{models.DimensionAlbum, models.MetricCount},
}

// Store is the session-partitioned event store.
//
// ApplyBatch is atomic: the optional clear, the insert and the daily
// recompute either all become visible or none do.
type Store interface {
	ApplyBatch(ctx context.Context, sessionID string, replace bool, batch []models.PlayEvent) (BatchResult, error)
	Clear(ctx context.Context, sessionID string) (ClearResult, error)
	RecomputeDaily(ctx context.Context, sessionID string) (int, error)
	DailySeries(ctx context.Context, sessionID string) ([]models.DailySummary, error)
	Query(ctx context.Context, sessionID string, filter Filter) ([]models.PlayEvent, error)
	TopN(ctx context.Context, sessionID string, dim models.Dimension, metric models.Metric, limit int) ([]models.RankedGroup, error)
	// TopNBoards ranks every board from one snapshot, so a concurrent batch
	// is seen by all of them or by none. Results follow the order of boards.
	TopNBoards(ctx context.Context, sessionID string, boards []Board, limit int) ([][]models.RankedGroup, error)
}

// ComputeDailySummaries groups events by date, ordered by date ascending.
func ComputeDailySummaries(sessionID string, evs []models.PlayEvent) []models.DailySummary {
	type acc struct {
		ms      int64
		tracks  int
		artists map[string]struct{}
		songs   map[string]struct{}
	}

	byDate := make(map[string]*acc)
	for _, ev := range evs {
		a, ok := byDate[ev.Date]
		if !ok {
			a = &acc{artists: make(map[string]struct{}), songs: make(map[string]struct{})}
			byDate[ev.Date] = a
		}
		a.ms += ev.DurationMs
		a.tracks++
		a.artists[ev.ArtistName] = struct{}{}
		a.songs[ev.TrackName] = struct{}{}
	}

	out := make([]models.DailySummary, 0, len(byDate))
	for date, a := range byDate {
		out = append(out, models.DailySummary{
			SessionID:     sessionID,
			Date:          date,
			TotalSeconds:  float64(a.ms) / 1000,
			TotalTracks:   a.tracks,
			UniqueArtists: len(a.artists),
			UniqueTracks:  len(a.songs),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// RankGroups computes a top-N leaderboard over evs, ordered by value
// descending, then name and artist ascending.
func RankGroups(evs []models.PlayEvent, dim models.Dimension, metric models.Metric, limit int) []models.RankedGroup {
	type key struct{ name, artist string }

	totals := make(map[key]int64)
	for _, ev := range evs {
		var k key
		switch dim {
		case models.DimensionArtist:
			k = key{name: ev.ArtistName}
		case models.DimensionTrack:
			k = key{name: ev.TrackName, artist: ev.ArtistName}
		case models.DimensionAlbum:
			k = key{name: ev.AlbumName, artist: ev.ArtistName}
		}
		if metric == models.MetricCount {
			totals[k]++
		} else {
			totals[k] += ev.DurationMs
		}
	}

	out := make([]models.RankedGroup, 0, len(totals))
	for k, v := range totals {
		out = append(out, models.RankedGroup{Name: k.name, ArtistName: k.artist, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ArtistName < out[j].ArtistName
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
