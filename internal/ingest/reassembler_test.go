package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navinbhat12/rewindify/internal/common/config"
	"github.com/navinbhat12/rewindify/internal/common/logger"
	"github.com/navinbhat12/rewindify/internal/events"
	"github.com/navinbhat12/rewindify/internal/models"
)

type staticValidator struct {
	valid bool
	err   error
}

func (v staticValidator) Validate(context.Context, string) (bool, error) {
	return v.valid, v.err
}

type failingStore struct {
	*events.MemoryStore
	err error
}

func (s *failingStore) ApplyBatch(context.Context, string, bool, []models.PlayEvent) (events.BatchResult, error) {
	return events.BatchResult{}, s.err
}

func exportFile(name string, plays ...string) File {
	data := "["
	for i, ts := range plays {
		if i > 0 {
			data += ","
		}
		data += fmt.Sprintf(`{"ts": %q, "ms_played": 60000, "master_metadata_track_name": "Song %d", "master_metadata_album_artist_name": "Artist"}`, ts, i)
	}
	data += "]"
	return File{Name: name, Data: []byte(data)}
}

func chunk(index, total int, files ...File) ChunkRequest {
	return ChunkRequest{SessionID: "s1", ChunkIndex: index, ChunkTotal: total, Files: files}
}

func newTestReassembler(t *testing.T, store events.Store) (*Reassembler, *MemoryLocker) {
	locker := NewMemoryLocker()
	cfg := DefaultConfig()
	cfg.LockWait = 50 * time.Millisecond
	return NewReassembler(staticValidator{valid: true}, store, locker, cfg, logger.NewTestLogger(t)), locker
}

func countEvents(t *testing.T, store events.Store) int {
	evs, err := store.Query(context.Background(), "s1", events.Filter{})
	require.NoError(t, err)
	return len(evs)
}

func TestTransition(t *testing.T) {
	tests := []struct {
		name    string
		state   UploadState
		index   int
		total   int
		want    Decision
		wantErr bool
	}{
		{"single chunk", StateAwaitingFirstChunk, 0, 1, Decision{Action: ActionReplace, Next: StateAwaitingFirstChunk}, false},
		{"first of many", StateAwaitingFirstChunk, 0, 3, Decision{Action: ActionReplace, Next: StateAccumulating}, false},
		{"restart", StateAccumulating, 0, 2, Decision{Action: ActionReplace, Next: StateAccumulating}, false},
		{"middle", StateAccumulating, 1, 3, Decision{Action: ActionAppend, Next: StateAccumulating}, false},
		{"last", StateAccumulating, 2, 3, Decision{Action: ActionAppend, Next: StateAwaitingFirstChunk}, false},
		{"orphan", StateAwaitingFirstChunk, 1, 3, Decision{Action: ActionAppend, Orphaned: true, Next: StateAwaitingFirstChunk}, false},
		{"negative index", StateAwaitingFirstChunk, -1, 3, Decision{}, true},
		{"zero total", StateAwaitingFirstChunk, 0, 0, Decision{}, true},
		{"index past total", StateAccumulating, 3, 3, Decision{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transition(tt.state, tt.index, tt.total)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidChunk)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReassembler_ReplaceThenAppend(t *testing.T) {
	store := events.NewMemoryStore()
	r, _ := newTestReassembler(t, store)
	ctx := context.Background()

	res, err := r.Ingest(ctx, chunk(0, 2, exportFile("Streaming_History_Audio_0.json", "2024-01-01T10:00:00Z", "2024-01-01T11:00:00Z")))
	require.NoError(t, err)
	assert.Equal(t, 2, res.RecordsInserted)
	assert.Equal(t, ActionReplace, res.Chunk.Action)
	assert.Equal(t, "ACCUMULATING", res.Chunk.State)
	assert.Equal(t, StateAccumulating, r.Tracker().State("s1"))

	res, err = r.Ingest(ctx, chunk(1, 2, exportFile("Streaming_History_Audio_1.json", "2024-01-02T10:00:00Z")))
	require.NoError(t, err)
	assert.Equal(t, ActionAppend, res.Chunk.Action)
	assert.False(t, res.Chunk.Orphaned)
	assert.Equal(t, StateAwaitingFirstChunk, r.Tracker().State("s1"))
	assert.Equal(t, 0, r.Tracker().Len())
	assert.Equal(t, 3, countEvents(t, store))

	daily, err := store.DailySeries(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, daily, 2)

	// a new upload replaces the previous one
	_, err = r.Ingest(ctx, chunk(0, 1, exportFile("Streaming_History_Audio_0.json", "2024-02-01T10:00:00Z")))
	require.NoError(t, err)
	assert.Equal(t, 1, countEvents(t, store))
}

func TestReassembler_OrphanedChunkAppends(t *testing.T) {
	store := events.NewMemoryStore()
	r, _ := newTestReassembler(t, store)
	ctx := context.Background()

	_, err := r.Ingest(ctx, chunk(0, 1, exportFile("Streaming_History_Audio_0.json", "2024-01-01T10:00:00Z")))
	require.NoError(t, err)

	res, err := r.Ingest(ctx, chunk(1, 3, exportFile("Streaming_History_Audio_1.json", "2024-01-02T10:00:00Z")))
	require.NoError(t, err)
	assert.True(t, res.Chunk.Orphaned)
	assert.Equal(t, ActionAppend, res.Chunk.Action)
	assert.Equal(t, 2, countEvents(t, store))
}

func TestReassembler_RejectsWithoutStateChange(t *testing.T) {
	valid := exportFile("Streaming_History_Audio_0.json", "2024-01-01T10:00:00Z")

	tests := []struct {
		name      string
		validator staticValidator
		req       ChunkRequest
		wantErr   error
	}{
		{"invalid session", staticValidator{valid: false}, chunk(0, 1, valid), ErrSessionInvalid},
		{"session backend down", staticValidator{err: errors.New("redis down")}, chunk(0, 1, valid), ErrStorage},
		{"index past total", staticValidator{valid: true}, chunk(2, 2, valid), ErrInvalidChunk},
		{"no files", staticValidator{valid: true}, chunk(0, 1), ErrInvalidChunk},
		{"no valid files", staticValidator{valid: true}, chunk(0, 1, File{Name: "Streaming_History_Audio_0.json", Data: []byte("nope")}), ErrNoValidFiles},
		{"only skipped files", staticValidator{valid: true}, chunk(0, 1, File{Name: "notes.txt", Data: []byte("[]")}), ErrNoValidFiles},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := events.NewMemoryStore()
			_, err := store.ApplyBatch(context.Background(), "s1", true, []models.PlayEvent{{TrackName: "kept", DurationMs: 60000, Date: "2024-01-01"}})
			require.NoError(t, err)

			r := NewReassembler(tt.validator, store, NewMemoryLocker(), DefaultConfig(), logger.NewTestLogger(t))
			_, err = r.Ingest(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 1, countEvents(t, store))
			assert.Equal(t, 0, r.Tracker().Len())
		})
	}
}

func TestReassembler_StorageFailureKeepsState(t *testing.T) {
	mem := events.NewMemoryStore()
	r, _ := newTestReassembler(t, mem)
	ctx := context.Background()

	_, err := r.Ingest(ctx, chunk(0, 3, exportFile("Streaming_History_Audio_0.json", "2024-01-01T10:00:00Z")))
	require.NoError(t, err)

	r.store = &failingStore{MemoryStore: mem, err: errors.New("disk full")}
	_, err = r.Ingest(ctx, chunk(1, 3, exportFile("Streaming_History_Audio_1.json", "2024-01-02T10:00:00Z")))
	assert.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, StateAccumulating, r.Tracker().State("s1"))
	assert.Equal(t, 1, countEvents(t, mem))

	// the retried chunk is still treated as part of the upload
	r.store = mem
	res, err := r.Ingest(ctx, chunk(1, 3, exportFile("Streaming_History_Audio_1.json", "2024-01-02T10:00:00Z")))
	require.NoError(t, err)
	assert.False(t, res.Chunk.Orphaned)
}

func TestReassembler_LockTimeout(t *testing.T) {
	r, locker := newTestReassembler(t, events.NewMemoryStore())
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "s1", time.Second)
	require.NoError(t, err)
	defer release()

	_, err = r.Ingest(ctx, chunk(0, 1, exportFile("Streaming_History_Audio_0.json", "2024-01-01T10:00:00Z")))
	assert.ErrorIs(t, err, ErrLockTimeout)

	_, err = r.Clear(ctx, "s1")
	assert.ErrorIs(t, err, ErrLockTimeout)

	purged, err := r.Purge(ctx, "s1", nil)
	require.NoError(t, err)
	assert.False(t, purged)
}

func TestReassembler_ClearAndPurge(t *testing.T) {
	store := events.NewMemoryStore()
	r, _ := newTestReassembler(t, store)
	ctx := context.Background()

	_, err := r.Ingest(ctx, chunk(0, 2, exportFile("Streaming_History_Audio_0.json", "2024-01-01T10:00:00Z", "2024-01-02T10:00:00Z")))
	require.NoError(t, err)

	cleared, err := r.Clear(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, events.ClearResult{HistoryDeleted: 2, SummariesDeleted: 2}, cleared)
	assert.Equal(t, StateAwaitingFirstChunk, r.Tracker().State("s1"))

	_, err = r.Ingest(ctx, chunk(0, 2, exportFile("Streaming_History_Audio_0.json", "2024-01-01T10:00:00Z")))
	require.NoError(t, err)

	called := false
	purged, err := r.Purge(ctx, "s1", func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, purged)
	assert.True(t, called)
	assert.Equal(t, 0, countEvents(t, store))
	assert.Equal(t, 0, r.Tracker().Len())
}

func TestNewConfig(t *testing.T) {
	cfg, err := NewConfig(config.IngestConfig{
		MinDurationMs: 60000,
		FilePattern:   "*.json",
		Timezone:      "Europe/Berlin",
		LockWaitMs:    500,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(60000), cfg.MinDurationMs)
	assert.Equal(t, "Europe/Berlin", cfg.Location.String())
	assert.Equal(t, 500*time.Millisecond, cfg.LockWait)

	defaults, err := NewConfig(config.IngestConfig{})
	require.NoError(t, err)
	assert.Equal(t, models.MinPlayDurationMs, defaults.MinDurationMs)
	assert.Equal(t, time.UTC, defaults.Location)
	assert.Equal(t, "", defaults.FilePattern)

	_, err = NewConfig(config.IngestConfig{Timezone: "Mars/Olympus"})
	assert.Error(t, err)

	_, err = NewConfig(config.IngestConfig{FilePattern: "[bad"})
	assert.Error(t, err)

	_, err = NewConfig(config.IngestConfig{MinDurationMs: 1000})
	assert.ErrorContains(t, err, "ingest.min_duration_ms")
}

// sequenceValidator answers Validate calls in order, repeating the last answer.
type sequenceValidator struct {
	mu      sync.Mutex
	answers []bool
	calls   int
}

func (v *sequenceValidator) Validate(context.Context, string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := v.calls
	if i >= len(v.answers) {
		i = len(v.answers) - 1
	}
	v.calls++
	return v.answers[i], nil
}

func TestReassembler_RechecksSessionUnderLock(t *testing.T) {
	store := events.NewMemoryStore()
	validator := &sequenceValidator{answers: []bool{true, false}}
	r := NewReassembler(validator, store, NewMemoryLocker(), DefaultConfig(), logger.NewTestLogger(t))

	_, err := r.Ingest(context.Background(), chunk(0, 1, exportFile("Streaming_History_Audio_0.json", "2024-01-01T10:00:00Z")))
	assert.ErrorIs(t, err, ErrSessionInvalid)
	assert.Equal(t, 2, validator.calls)
	assert.Equal(t, 0, countEvents(t, store))
	assert.Equal(t, 0, r.Tracker().Len())
}

func TestReassembler_ClearRejectsInvalidSession(t *testing.T) {
	store := events.NewMemoryStore()
	_, err := store.ApplyBatch(context.Background(), "s1", true, []models.PlayEvent{{TrackName: "Song", DurationMs: 60000, Date: "2024-01-01"}})
	require.NoError(t, err)

	r := NewReassembler(staticValidator{valid: false}, store, NewMemoryLocker(), DefaultConfig(), logger.NewTestLogger(t))
	_, err = r.Clear(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrSessionInvalid)
	assert.Equal(t, 1, countEvents(t, store))
}
