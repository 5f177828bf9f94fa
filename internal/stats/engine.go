// Package stats serves the read-side aggregates of a session's history.
package stats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/navinbhat12/rewindify/internal/common/logger"
	"github.com/navinbhat12/rewindify/internal/events"
	"github.com/navinbhat12/rewindify/internal/models"
)

const DefaultTopN = 10

var ErrInvalidDate = errors.New("date must be YYYY-MM-DD")

type Engine struct {
	store  events.Store
	topN   int
	logger logger.Logger
}

func NewEngine(store events.Store, topN int, log logger.Logger) *Engine {
	if topN <= 0 {
		topN = DefaultTopN
	}
	return &Engine{store: store, topN: topN, logger: logger.Component(log, "stats")}
}

// DailySeries returns per-day listening totals ordered by date. Seconds are
// rounded to two decimals.
func (e *Engine) DailySeries(ctx context.Context, sessionID string) ([]models.DailyTotal, error) {
	summaries, err := e.store.DailySeries(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("daily series: %w", err)
	}

	out := make([]models.DailyTotal, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, models.DailyTotal{
			Date:         s.Date,
			TotalSeconds: round(s.TotalSeconds, 2),
		})
	}
	return out, nil
}

// EventsForDate lists the plays of one calendar day ordered by played_at.
func (e *Engine) EventsForDate(ctx context.Context, sessionID, date string) ([]models.TrackPlay, error) {
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	evs, err := e.store.Query(ctx, sessionID, events.Filter{Date: date})
	if err != nil {
		return nil, fmt.Errorf("events for %s: %w", date, err)
	}

	out := make([]models.TrackPlay, 0, len(evs))
	for _, ev := range evs {
		out = append(out, models.TrackPlay{
			TrackName:  ev.TrackName,
			ArtistName: ev.ArtistName,
			DurationMs: ev.DurationMs,
			PlayedAt:   ev.PlayedAt,
		})
	}
	return out, nil
}

// Leaderboard returns one top-N ranking. Time is reported in minutes with
// one decimal, counts as plays.
func (e *Engine) Leaderboard(ctx context.Context, sessionID string, dim models.Dimension, metric models.Metric) ([]models.LeaderboardEntry, error) {
	if err := dim.Validate(); err != nil {
		return nil, err
	}
	if err := metric.Validate(); err != nil {
		return nil, err
	}

	groups, err := e.store.TopN(ctx, sessionID, dim, metric, e.topN)
	if err != nil {
		return nil, fmt.Errorf("top %s by %s: %w", dim, metric, err)
	}
	return toEntries(groups, metric), nil
}

// toEntries reports time in minutes with one decimal and counts as plays.
func toEntries(groups []models.RankedGroup, metric models.Metric) []models.LeaderboardEntry {
	out := make([]models.LeaderboardEntry, 0, len(groups))
	for _, g := range groups {
		value := float64(g.Value)
		if metric == models.MetricTime {
			value = round(value/60000, 1)
		}
		out = append(out, models.LeaderboardEntry{
			Name:       g.Name,
			ArtistName: g.ArtistName,
			Value:      value,
		})
	}
	return out
}

// AllTimeStats computes the six leaderboards from one store snapshot.
func (e *Engine) AllTimeStats(ctx context.Context, sessionID string) (*models.AllTimeStats, error) {
	boards, err := e.store.TopNBoards(ctx, sessionID, events.AllBoards, e.topN)
	if err != nil {
		return nil, fmt.Errorf("all-time stats: %w", err)
	}

	stats := &models.AllTimeStats{}
	dst := []*[]models.LeaderboardEntry{
		&stats.Artists.Time, &stats.Artists.Count,
		&stats.Songs.Time, &stats.Songs.Count,
		&stats.Albums.Time, &stats.Albums.Count,
	}
	for i, b := range events.AllBoards {
		*dst[i] = toEntries(boards[i], b.Metric)
	}
	return stats, nil
}

// RecomputeDaily rebuilds the daily summaries of a session from its events.
func (e *Engine) RecomputeDaily(ctx context.Context, sessionID string) (int, error) {
	days, err := e.store.RecomputeDaily(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("recompute daily: %w", err)
	}
	e.logger.Debug("Daily summaries recomputed", map[string]interface{}{
		"sessionId": sessionID,
		"days":      days,
	})
	return days, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
