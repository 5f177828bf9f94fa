// Package session manages anonymous, sliding-expiry sessions that scope every
// listening-history operation.
package session

import (
	"context"
	"time"

	"github.com/navinbhat12/rewindify/internal/models"
)

// Store persists session lifecycle state.
//
// Get returns nil, nil when the id is unknown. Touch and Deactivate are
// no-ops for unknown ids. Expired lists sessions that are past their expiry
// or inactive at now; expiry is judged by the store, validity by the Manager.
type Store interface {
	Create(ctx context.Context, sess *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Touch(ctx context.Context, id string, lastActivity, expiresAt time.Time) error
	Deactivate(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	Expired(ctx context.Context, now time.Time) ([]string, error)
}
