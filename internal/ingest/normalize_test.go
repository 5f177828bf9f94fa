package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navinbhat12/rewindify/internal/common/logger"
	"github.com/navinbhat12/rewindify/internal/models"
)

const sampleExport = `[
  {"ts": "2024-01-01T10:00:00Z", "ms_played": 60000,
   "master_metadata_track_name": "Song A",
   "master_metadata_album_artist_name": "Artist X",
   "master_metadata_album_album_name": "Album 1"},
  {"ts": "2024-01-01T10:05:00Z", "ms_played": 30000,
   "master_metadata_track_name": "Short", "master_metadata_album_artist_name": "Artist X"},
  {"ts": "2024-01-01T10:10:00Z", "ms_played": 45000,
   "master_metadata_track_name": null, "master_metadata_album_artist_name": "",
   "master_metadata_album_album_name": null},
  {"ts": "not a time", "ms_played": 90000},
  {"ts": "2024-01-01T10:20:00Z"},
  {"ts": "2024-01-07T23:30:00Z", "ms_played": 120000.7,
   "master_metadata_track_name": "Song B",
   "master_metadata_album_artist_name": "Artist Y",
   "master_metadata_album_album_name": "Album 2"}
]`

func newTestNormalizer(t *testing.T, mutate func(*Config)) *Normalizer {
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewNormalizer(cfg, logger.NewTestLogger(t))
}

func TestNormalizer_Normalize(t *testing.T) {
	n := newTestNormalizer(t, nil)

	batch := n.Normalize("s1", []File{{Name: "Streaming_History_Audio_2024.json", Data: []byte(sampleExport)}})

	require.Equal(t, 1, batch.FilesProcessed)
	require.Len(t, batch.Files, 1)
	assert.Equal(t, FileReport{
		Name:            "Streaming_History_Audio_2024.json",
		Status:          FileProcessed,
		RecordsTotal:    6,
		RecordsAccepted: 3,
		RecordsSkipped:  2,
		RecordsFiltered: 1,
	}, batch.Files[0])

	require.Len(t, batch.Events, 3)
	first := batch.Events[0]
	assert.Equal(t, "s1", first.SessionID)
	assert.Equal(t, "Song A", first.TrackName)
	assert.Equal(t, int64(60000), first.DurationMs)
	assert.Equal(t, "2024-01-01", first.Date)
	assert.Equal(t, 2024, first.Year)
	assert.Equal(t, 1, first.Month)
	assert.Equal(t, 0, first.DayOfWeek, "2024-01-01 is a Monday")
	assert.Equal(t, time.UTC, first.PlayedAt.Location())

	unknown := batch.Events[1]
	assert.Equal(t, models.UnknownTrack, unknown.TrackName)
	assert.Equal(t, models.UnknownArtist, unknown.ArtistName)
	assert.Equal(t, models.UnknownAlbum, unknown.AlbumName)
	assert.Equal(t, int64(45000), unknown.DurationMs, "the minimum itself is kept")

	sunday := batch.Events[2]
	assert.Equal(t, 6, sunday.DayOfWeek)
	assert.Equal(t, int64(120000), sunday.DurationMs)

	for _, ev := range batch.Events {
		assert.GreaterOrEqual(t, ev.DurationMs, models.MinPlayDurationMs)
	}
}

func TestNormalizer_FileFailures(t *testing.T) {
	n := newTestNormalizer(t, nil)

	batch := n.Normalize("s1", []File{
		{Name: "Streaming_History_Audio_1.json", Data: []byte(`{"ts": "2024-01-01T10:00:00Z"}`)},
		{Name: "Streaming_History_Audio_2.json", Data: []byte(`[{"ts": `)},
		{Name: "Streaming_History_Video_1.json", Data: []byte(`[]`)},
		{Name: "Streaming_History_Audio_3.json", Data: []byte(`[]`)},
	})

	assert.Equal(t, 1, batch.FilesProcessed)
	assert.Empty(t, batch.Events)
	require.Len(t, batch.Files, 4)
	assert.Equal(t, FileFailed, batch.Files[0].Status)
	assert.NotEmpty(t, batch.Files[0].Error)
	assert.Equal(t, FileFailed, batch.Files[1].Status)
	assert.Equal(t, FileSkipped, batch.Files[2].Status)
	assert.Equal(t, FileProcessed, batch.Files[3].Status)
}

func TestNormalizer_Accepts(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		file    string
		want    bool
	}{
		{"default pattern", DefaultFilePattern, "Streaming_History_Audio_2023_1.json", true},
		{"nested path", DefaultFilePattern, "my_spotify_data/Streaming_History_Audio_2023.json", true},
		{"video history", DefaultFilePattern, "Streaming_History_Video_2023.json", false},
		{"wrong extension", DefaultFilePattern, "Streaming_History_Audio_2023.txt", false},
		{"empty pattern accepts all", "", "anything.json", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNormalizer(t, func(c *Config) { c.FilePattern = tt.pattern })
			assert.Equal(t, tt.want, n.Accepts(tt.file))
		})
	}
}

func TestNormalizer_Timezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	n := newTestNormalizer(t, func(c *Config) { c.Location = loc })

	data := `[{"ts": "2024-01-01T03:00:00Z", "ms_played": 60000}]`
	batch := n.Normalize("s1", []File{{Name: "Streaming_History_Audio_1.json", Data: []byte(data)}})

	require.Len(t, batch.Events, 1)
	ev := batch.Events[0]
	assert.Equal(t, "2023-12-31", ev.Date)
	assert.Equal(t, 2023, ev.Year)
	assert.Equal(t, 12, ev.Month)
	assert.Equal(t, 6, ev.DayOfWeek)
	assert.Equal(t, 3, ev.PlayedAt.Hour(), "played_at stays in UTC")
}

func TestNormalizer_MinDuration(t *testing.T) {
	tests := []struct {
		name         string
		minDuration  int64
		wantAccepted int
		wantFiltered int
	}{
		{"raised threshold filters more", 100000, 1, 3},
		{"lowered threshold is clamped", 1000, 3, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNormalizer(t, func(c *Config) { c.MinDurationMs = tt.minDuration })

			batch := n.Normalize("s1", []File{{Name: "Streaming_History_Audio_1.json", Data: []byte(sampleExport)}})
			assert.Equal(t, tt.wantAccepted, batch.Files[0].RecordsAccepted)
			assert.Equal(t, tt.wantFiltered, batch.Files[0].RecordsFiltered)
			for _, ev := range batch.Events {
				assert.GreaterOrEqual(t, ev.DurationMs, models.MinPlayDurationMs)
			}
		})
	}
}
