package models

import "fmt"

// Dimension is what a leaderboard groups plays by
type Dimension string

const (
	DimensionArtist Dimension = "artist"
	DimensionTrack  Dimension = "track"
	DimensionAlbum  Dimension = "album"
)

// Metric is how a leaderboard ranks a group
type Metric string

const (
	MetricTime  Metric = "time"
	MetricCount Metric = "count"
)

func (d Dimension) Validate() error {
	switch d {
	case DimensionArtist, DimensionTrack, DimensionAlbum:
		return nil
	}
	return fmt.Errorf("unknown dimension %q", string(d))
}

func (m Metric) Validate() error {
	switch m {
	case MetricTime, MetricCount:
		return nil
	}
	return fmt.Errorf("unknown metric %q", string(m))
}

// RankedGroup is a raw top-N row: Value is total milliseconds for MetricTime
// and play count for MetricCount. ArtistName is empty for DimensionArtist.
type RankedGroup struct {
	Name       string
	ArtistName string
	Value      int64
}

// LeaderboardEntry is one reported leaderboard row
type LeaderboardEntry struct {
	Name       string  `json:"name"`
	ArtistName string  `json:"artist_name,omitempty"`
	Value      float64 `json:"value"`
}

// Leaderboards pairs the by-time and by-count rankings of one dimension
type Leaderboards struct {
	Time  []LeaderboardEntry `json:"time"`
	Count []LeaderboardEntry `json:"count"`
}

// AllTimeStats is the six all-time leaderboards of a session
type AllTimeStats struct {
	Artists Leaderboards `json:"artists"`
	Songs   Leaderboards `json:"songs"`
	Albums  Leaderboards `json:"albums"`
}
