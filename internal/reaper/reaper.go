// Package reaper periodically deletes expired sessions together with their
// events and daily summaries.
package reaper

import (
	"context"
	"sync"
	"time"

	"github.com/navinbhat12/rewindify/internal/common/logger"
	"github.com/navinbhat12/rewindify/internal/common/metrics"
)

const DefaultInterval = 10 * time.Minute

// SessionSource is satisfied by session.Manager.
type SessionSource interface {
	Expired(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) error
}

// Purger removes a session's data under its lock without waiting. fn runs
// while the lock is held. Satisfied by ingest.Reassembler.
type Purger interface {
	Purge(ctx context.Context, sessionID string, fn func(context.Context) error) (bool, error)
}

type SweepResult struct {
	Candidates int
	Reaped     int
	Busy       int
	Failed     int
}

type Reaper struct {
	sessions SessionSource
	purger   Purger
	interval time.Duration
	logger   logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(sessions SessionSource, purger Purger, interval time.Duration, log logger.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reaper{
		sessions: sessions,
		purger:   purger,
		interval: interval,
		logger:   logger.Component(log, "reaper"),
	}
}

// Sweep deletes every expired session that is not currently being written.
// Busy or failing sessions are left for the next sweep.
func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	defer func() {
		metrics.ReaperSweepDuration.Observe(time.Since(start).Seconds())
	}()

	ids, err := r.sessions.Expired(ctx)
	if err != nil {
		r.logger.Error("Listing expired sessions failed", map[string]interface{}{"error": err.Error()})
		return SweepResult{}, err
	}

	res := SweepResult{Candidates: len(ids)}
	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		sessionID := id
		ok, err := r.purger.Purge(ctx, sessionID, func(ctx context.Context) error {
			return r.sessions.Delete(ctx, sessionID)
		})
		switch {
		case err != nil:
			res.Failed++
			r.logger.Warn("Failed to reap session", map[string]interface{}{
				"sessionId": sessionID,
				"error":     err.Error(),
			})
		case !ok:
			res.Busy++
			r.logger.Debug("Session busy, deferring reap", map[string]interface{}{"sessionId": sessionID})
		default:
			res.Reaped++
			metrics.SessionsReaped.Inc()
		}
	}

	if res.Candidates > 0 {
		r.logger.Info("Reaper sweep completed", map[string]interface{}{
			"candidates": res.Candidates,
			"reaped":     res.Reaped,
			"busy":       res.Busy,
			"failed":     res.Failed,
			"duration":   time.Since(start).String(),
		})
	}
	return res, nil
}

// Start runs Sweep every interval until Stop is called or ctx ends.
// Calling Start on a running reaper is a no-op.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.logger.Info("Reaper started", map[string]interface{}{"interval": r.interval.String()})
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = r.Sweep(ctx)
			}
		}
	}(r.done)
}

// Stop cancels the loop and waits for an in-flight sweep to return.
func (r *Reaper) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.logger.Info("Reaper stopped", nil)
}
