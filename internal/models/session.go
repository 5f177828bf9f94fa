package models

import "time"

// Session represents an anonymous listening-history session
type Session struct {
	ID             string    `json:"session_id" db:"id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at" db:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at" db:"expires_at"`
	Active         bool      `json:"active" db:"active"`
}

// IsExpired checks if the session has expired at now
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// IsValid reports whether the session can authorize a request at now
func (s *Session) IsValid(now time.Time) bool {
	return s != nil && s.Active && !s.IsExpired(now)
}

// Touch slides the expiry window forward from now
func (s *Session) Touch(now time.Time, ttl time.Duration) {
	s.LastActivityAt = now
	s.ExpiresAt = now.Add(ttl)
}
