package events

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/navinbhat12/rewindify/internal/models"
)

type sessionData struct {
	events    []models.PlayEvent
	summaries []models.DailySummary
	nextID    int64
}

// MemoryStore keeps each session's events in its own arena. Batches are
// applied by swapping in freshly built slices under the write lock, so
// readers observe either the old or the new state.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionData
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*sessionData)}
}

func (s *MemoryStore) ApplyBatch(_ context.Context, sessionID string, replace bool, batch []models.PlayEvent) (BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res BatchResult
	current := s.sessions[sessionID]
	if current == nil {
		current = &sessionData{}
	}

	next := &sessionData{nextID: current.nextID}
	if replace {
		res.Cleared = ClearResult{
			HistoryDeleted:   int64(len(current.events)),
			SummariesDeleted: int64(len(current.summaries)),
		}
		next.events = make([]models.PlayEvent, 0, len(batch))
	} else {
		next.events = make([]models.PlayEvent, 0, len(current.events)+len(batch))
		next.events = append(next.events, current.events...)
	}

	for _, ev := range batch {
		next.nextID++
		ev.ID = next.nextID
		ev.SessionID = sessionID
		next.events = append(next.events, ev)
	}
	next.summaries = ComputeDailySummaries(sessionID, next.events)

	s.sessions[sessionID] = next

	res.Inserted = len(batch)
	res.Days = len(next.summaries)
	return res, nil
}

func (s *MemoryStore) Clear(_ context.Context, sessionID string) (ClearResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.sessions[sessionID]
	if !ok {
		return ClearResult{}, nil
	}
	delete(s.sessions, sessionID)
	return ClearResult{
		HistoryDeleted:   int64(len(data.events)),
		SummariesDeleted: int64(len(data.summaries)),
	}, nil
}

func (s *MemoryStore) RecomputeDaily(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.sessions[sessionID]
	if !ok {
		return 0, nil
	}
	data.summaries = ComputeDailySummaries(sessionID, data.events)
	return len(data.summaries), nil
}

func (s *MemoryStore) DailySeries(_ context.Context, sessionID string) ([]models.DailySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.sessions[sessionID]
	if !ok {
		return []models.DailySummary{}, nil
	}
	out := make([]models.DailySummary, len(data.summaries))
	copy(out, data.summaries)
	return out, nil
}

func (s *MemoryStore) Query(_ context.Context, sessionID string, filter Filter) ([]models.PlayEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.PlayEvent, 0)
	data, ok := s.sessions[sessionID]
	if !ok {
		return out, nil
	}

	for _, ev := range data.events {
		if matches(ev, filter) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].PlayedAt.Equal(out[j].PlayedAt) {
			return out[i].PlayedAt.Before(out[j].PlayedAt)
		}
		return out[i].ID < out[j].ID
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matches(ev models.PlayEvent, f Filter) bool {
	if f.Date != "" && ev.Date != f.Date {
		return false
	}
	if !f.From.IsZero() && ev.PlayedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !ev.PlayedAt.Before(f.To) {
		return false
	}
	if f.Artist != "" && ev.ArtistName != f.Artist {
		return false
	}
	return true
}

func (s *MemoryStore) TopN(_ context.Context, sessionID string, dim models.Dimension, metric models.Metric, limit int) ([]models.RankedGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.sessions[sessionID]
	if !ok {
		return []models.RankedGroup{}, nil
	}
	return RankGroups(data.events, dim, metric, limit), nil
}

// TopNBoards ranks all boards from the arena published at call time. A
// published arena's event slice is never mutated, so the rankings run in
// parallel outside the lock.
func (s *MemoryStore) TopNBoards(ctx context.Context, sessionID string, boards []Board, limit int) ([][]models.RankedGroup, error) {
	for _, b := range boards {
		if err := b.Dimension.Validate(); err != nil {
			return nil, err
		}
		if err := b.Metric.Validate(); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	data := s.sessions[sessionID]
	s.mu.RUnlock()

	out := make([][]models.RankedGroup, len(boards))
	if data == nil {
		for i := range out {
			out[i] = []models.RankedGroup{}
		}
		return out, nil
	}

	g, _ := errgroup.WithContext(ctx)
	for i, b := range boards {
		g.Go(func() error {
			out[i] = RankGroups(data.events, b.Dimension, b.Metric, limit)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Sessions returns the ids holding data, for diagnostics and tests.
func (s *MemoryStore) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var _ Store = (*MemoryStore)(nil)
