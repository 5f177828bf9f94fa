package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/navinbhat12/rewindify/internal/common/logger"
	"github.com/navinbhat12/rewindify/internal/common/metrics"
	"github.com/navinbhat12/rewindify/internal/models"
)

// DefaultTTL is the sliding inactivity window of a session.
const DefaultTTL = 45 * time.Minute

// Manager applies session lifecycle rules on top of a Store.
type Manager struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger logger.Logger
}

func NewManager(store Store, ttl time.Duration, log logger.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.Component(log, "session"),
	}
}

// WithClock replaces the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create issues a new active session expiring one TTL from now.
func (m *Manager) Create(ctx context.Context) (*models.Session, error) {
	now := m.now().UTC()
	sess := &models.Session{
		ID:             uuid.NewString(),
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(m.ttl),
		Active:         true,
	}

	if err := m.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	metrics.SessionsCreated.Inc()
	m.logger.Info("Session created", map[string]interface{}{
		"sessionId": sess.ID,
		"expiresAt": sess.ExpiresAt,
	})
	return sess, nil
}

// Validate reports whether id names an active, unexpired session. Unknown
// and malformed ids are invalid, not errors.
func (m *Manager) Validate(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}

	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("validate session: %w", err)
	}
	return sess.IsValid(m.now()), nil
}

// Extend slides the expiry of id forward. Unknown ids are ignored.
func (m *Manager) Extend(ctx context.Context, id string) error {
	now := m.now().UTC()
	if err := m.store.Touch(ctx, id, now, now.Add(m.ttl)); err != nil {
		return fmt.Errorf("extend session: %w", err)
	}
	return nil
}

// Invalidate marks id inactive. Its data stays until the reaper runs.
func (m *Manager) Invalidate(ctx context.Context, id string) error {
	if err := m.store.Deactivate(ctx, id, m.now().UTC()); err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}
	m.logger.Info("Session invalidated", map[string]interface{}{"sessionId": id})
	return nil
}

func (m *Manager) Get(ctx context.Context, id string) (*models.Session, error) {
	return m.store.Get(ctx, id)
}

// Expired lists sessions that are past expiry or inactive.
func (m *Manager) Expired(ctx context.Context) ([]string, error) {
	return m.store.Expired(ctx, m.now().UTC())
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
