package models

import "time"

const (
	UnknownTrack  = "Unknown Track"
	UnknownArtist = "Unknown Artist"
	UnknownAlbum  = "Unknown Album"

	// MinPlayDurationMs is the shortest play kept by normalization.
	MinPlayDurationMs int64 = 45000

	// DateLayout is the calendar-day format used for PlayEvent.Date.
	DateLayout = "2006-01-02"
)

// PlayEvent is one normalized playback record owned by a session
type PlayEvent struct {
	ID         int64     `json:"-" db:"id"`
	SessionID  string    `json:"-" db:"session_id"`
	TrackName  string    `json:"track_name" db:"track_name"`
	ArtistName string    `json:"artist_name" db:"artist_name"`
	AlbumName  string    `json:"album_name" db:"album_name"`
	PlayedAt   time.Time `json:"played_at" db:"played_at"`
	DurationMs int64     `json:"duration_ms" db:"duration_ms"`
	Date       string    `json:"date" db:"date"`
	Year       int       `json:"year" db:"year"`
	Month      int       `json:"month" db:"month"`
	DayOfWeek  int       `json:"day_of_week" db:"day_of_week"` // 0 = Monday
}

// DailySummary holds the per-day aggregates of one session
type DailySummary struct {
	SessionID     string  `json:"-" db:"session_id"`
	Date          string  `json:"date" db:"date"`
	TotalSeconds  float64 `json:"total_seconds" db:"total_seconds"`
	TotalTracks   int     `json:"total_tracks" db:"total_tracks"`
	UniqueArtists int     `json:"unique_artists" db:"unique_artists"`
	UniqueTracks  int     `json:"unique_tracks" db:"unique_tracks"`
}

// DailyTotal is one point of the daily listening series
type DailyTotal struct {
	Date         string  `json:"date"`
	TotalSeconds float64 `json:"total_seconds"`
}

// TrackPlay is one play listed for a single day
type TrackPlay struct {
	TrackName  string    `json:"track_name"`
	ArtistName string    `json:"artist_name"`
	DurationMs int64     `json:"duration_ms"`
	PlayedAt   time.Time `json:"played_at"`
}

// MondayIndex converts time.Weekday (Sunday = 0) to a Monday = 0 index.
func MondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}
