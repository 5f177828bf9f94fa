package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/navinbhat12/rewindify/internal/common/logger"
	"github.com/navinbhat12/rewindify/internal/common/metrics"
	"github.com/navinbhat12/rewindify/internal/common/validation"
	"github.com/navinbhat12/rewindify/internal/events"
)

var (
	ErrSessionInvalid = errors.New("session is invalid or expired")
	ErrInvalidChunk   = errors.New("invalid chunk parameters")
	ErrNoValidFiles   = errors.New("no valid files in upload")
	ErrStorage        = errors.New("storage failure")
)

// UploadState is the per-session position in a multi-chunk upload.
type UploadState int

const (
	StateAwaitingFirstChunk UploadState = iota
	StateAccumulating
)

func (s UploadState) String() string {
	switch s {
	case StateAwaitingFirstChunk:
		return "AWAITING_FIRST_CHUNK"
	case StateAccumulating:
		return "ACCUMULATING"
	default:
		return fmt.Sprintf("UploadState(%d)", int(s))
	}
}

type Action string

const (
	ActionReplace Action = "replace"
	ActionAppend  Action = "append"
)

// Decision is the outcome of feeding one chunk to the state machine.
type Decision struct {
	Action   Action
	Orphaned bool
	Next     UploadState
}

// metricLabel distinguishes orphaned appends in the chunk counters.
func (d Decision) metricLabel() string {
	if d.Orphaned {
		return "orphan_append"
	}
	return string(d.Action)
}

// Transition decides how chunk index of total is applied from state.
func Transition(state UploadState, index, total int) (Decision, error) {
	if total < 1 || index < 0 || index >= total {
		return Decision{}, fmt.Errorf("%w: chunk_index=%d chunk_total=%d", ErrInvalidChunk, index, total)
	}

	if index == 0 {
		next := StateAwaitingFirstChunk
		if total > 1 {
			next = StateAccumulating
		}
		return Decision{Action: ActionReplace, Next: next}, nil
	}

	if state != StateAccumulating {
		return Decision{Action: ActionAppend, Orphaned: true, Next: StateAwaitingFirstChunk}, nil
	}

	next := StateAccumulating
	if index == total-1 {
		next = StateAwaitingFirstChunk
	}
	return Decision{Action: ActionAppend, Next: next}, nil
}

type progress struct {
	state     UploadState
	total     int
	lastIndex int
	updatedAt time.Time
}

// Tracker holds upload state per session. Sessions without an entry are
// awaiting their first chunk. State lives in this process only, even when
// the locker is shared between instances.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]progress
}

func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]progress)}
}

func (t *Tracker) State(sessionID string) UploadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[sessionID].state
}

func (t *Tracker) commit(sessionID string, d Decision, index, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d.Next == StateAwaitingFirstChunk {
		delete(t.sessions, sessionID)
		return
	}
	t.sessions[sessionID] = progress{
		state:     d.Next,
		total:     total,
		lastIndex: index,
		updatedAt: time.Now().UTC(),
	}
}

func (t *Tracker) Forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// SessionValidator is satisfied by session.Manager.
type SessionValidator interface {
	Validate(ctx context.Context, id string) (bool, error)
}

// Reassembler applies upload chunks to the event store, one session at a
// time.
type Reassembler struct {
	sessions   SessionValidator
	store      events.Store
	normalizer *Normalizer
	locker     Locker
	tracker    *Tracker
	lockWait   time.Duration
	logger     logger.Logger
}

func NewReassembler(sessions SessionValidator, store events.Store, locker Locker, cfg Config, log logger.Logger) *Reassembler {
	if cfg.LockWait <= 0 {
		cfg.LockWait = DefaultLockWait
	}
	return &Reassembler{
		sessions:   sessions,
		store:      store,
		normalizer: NewNormalizer(cfg, log),
		locker:     locker,
		tracker:    NewTracker(),
		lockWait:   cfg.LockWait,
		logger:     logger.Component(log, "reassembler"),
	}
}

func (r *Reassembler) Tracker() *Tracker {
	return r.tracker
}

func (r *Reassembler) Normalizer() *Normalizer {
	return r.normalizer
}

// Ingest normalizes and stores one chunk. Nothing is written unless the
// session is valid, the chunk parameters are sane and at least one file
// decoded.
func (r *Reassembler) Ingest(ctx context.Context, req ChunkRequest) (*Result, error) {
	start := time.Now()

	if err := r.checkSession(ctx, req.SessionID); err != nil {
		return nil, err
	}

	if err := validation.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChunk, err)
	}

	batch := r.normalizer.Normalize(req.SessionID, req.Files)
	if batch.FilesProcessed == 0 {
		return nil, fmt.Errorf("%w: %d file(s) rejected", ErrNoValidFiles, len(req.Files))
	}

	release, err := r.locker.Acquire(ctx, req.SessionID, r.lockWait)
	if err != nil {
		return nil, err
	}
	defer release()

	// the reaper may have purged the session while we waited for the lock
	if err := r.checkSession(ctx, req.SessionID); err != nil {
		return nil, err
	}
	metrics.IngestsActive.Inc()
	defer metrics.IngestsActive.Dec()

	decision, err := Transition(r.tracker.State(req.SessionID), req.ChunkIndex, req.ChunkTotal)
	if err != nil {
		return nil, err
	}

	applied, err := r.store.ApplyBatch(ctx, req.SessionID, decision.Action == ActionReplace, batch.Events)
	if err != nil {
		r.logger.Error("Chunk rolled back", map[string]interface{}{
			"sessionId":  req.SessionID,
			"chunkIndex": req.ChunkIndex,
			"chunkTotal": req.ChunkTotal,
			"error":      err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	r.tracker.commit(req.SessionID, decision, req.ChunkIndex, req.ChunkTotal)

	label := decision.metricLabel()
	metrics.IngestChunks.WithLabelValues(label).Inc()
	metrics.IngestRecords.WithLabelValues("inserted").Add(float64(applied.Inserted))
	metrics.IngestDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

	fields := map[string]interface{}{
		"sessionId":       req.SessionID,
		"chunkIndex":      req.ChunkIndex,
		"chunkTotal":      req.ChunkTotal,
		"action":          label,
		"filesProcessed":  batch.FilesProcessed,
		"recordsInserted": applied.Inserted,
		"days":            applied.Days,
		"duration":        time.Since(start).String(),
	}
	if req.FilePartTotal > 0 {
		fields["filePart"] = fmt.Sprintf("%d/%d", req.FilePartIndex+1, req.FilePartTotal)
	}
	if decision.Orphaned {
		r.logger.Warn("Orphaned chunk appended without a first chunk", fields)
	} else {
		r.logger.Info("Chunk ingested", fields)
	}

	return &Result{
		FilesProcessed:  batch.FilesProcessed,
		RecordsInserted: applied.Inserted,
		Files:           batch.Files,
		Chunk: ChunkInfo{
			Index:         req.ChunkIndex,
			Total:         req.ChunkTotal,
			Action:        decision.Action,
			Orphaned:      decision.Orphaned,
			State:         decision.Next.String(),
			FilePartIndex: req.FilePartIndex,
			FilePartTotal: req.FilePartTotal,
		},
	}, nil
}

func (r *Reassembler) checkSession(ctx context.Context, sessionID string) error {
	ok, err := r.sessions.Validate(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !ok {
		return ErrSessionInvalid
	}
	return nil
}

// Clear removes every event and summary of a session and resets its upload
// state. It takes the session lock like an ingest.
func (r *Reassembler) Clear(ctx context.Context, sessionID string) (events.ClearResult, error) {
	release, err := r.locker.Acquire(ctx, sessionID, r.lockWait)
	if err != nil {
		return events.ClearResult{}, err
	}
	defer release()

	if err := r.checkSession(ctx, sessionID); err != nil {
		return events.ClearResult{}, err
	}

	res, err := r.store.Clear(ctx, sessionID)
	if err != nil {
		return events.ClearResult{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	r.tracker.Forget(sessionID)
	return res, nil
}

// Purge is Clear for the reaper: it never waits, and reports false when
// another writer holds the session.
func (r *Reassembler) Purge(ctx context.Context, sessionID string, fn func(context.Context) error) (bool, error) {
	release, ok, err := r.locker.TryAcquire(ctx, sessionID)
	if err != nil || !ok {
		return false, err
	}
	defer release()

	if _, err := r.store.Clear(ctx, sessionID); err != nil {
		return false, fmt.Errorf("purge events: %w", err)
	}
	if fn != nil {
		if err := fn(ctx); err != nil {
			return false, err
		}
	}
	r.tracker.Forget(sessionID)
	return true, nil
}
