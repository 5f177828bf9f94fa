package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/navinbhat12/rewindify/internal/common/database"
	"github.com/navinbhat12/rewindify/internal/models"
)

const sessionsTable = "sessions"

// SQLStore implements Store on the relational sessions table. Expired rows
// are found by a periodic scan instead of native expiry.
type SQLStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

func NewSQLStore(db *sql.DB, dialect database.Dialect) *SQLStore {
	return &SQLStore{db: db, sb: dialect.Builder()}
}

func (s *SQLStore) Create(ctx context.Context, sess *models.Session) error {
	query, args, err := s.sb.Insert(sessionsTable).
		Columns("id", "created_at", "last_activity_at", "expires_at", "active").
		Values(sess.ID, sess.CreatedAt.UTC(), sess.LastActivityAt.UTC(), sess.ExpiresAt.UTC(), sess.Active).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*models.Session, error) {
	query, args, err := s.sb.Select("id", "created_at", "last_activity_at", "expires_at", "active").
		From(sessionsTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}

	var sess models.Session
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&sess.ID, &sess.CreatedAt, &sess.LastActivityAt, &sess.ExpiresAt, &sess.Active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return &sess, nil
}

func (s *SQLStore) Touch(ctx context.Context, id string, lastActivity, expiresAt time.Time) error {
	query, args, err := s.sb.Update(sessionsTable).
		Set("last_activity_at", lastActivity.UTC()).
		Set("expires_at", expiresAt.UTC()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

func (s *SQLStore) Deactivate(ctx context.Context, id string, _ time.Time) error {
	query, args, err := s.sb.Update(sessionsTable).
		Set("active", false).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deactivating session: %w", err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	query, args, err := s.sb.Delete(sessionsTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (s *SQLStore) Expired(ctx context.Context, now time.Time) ([]string, error) {
	query, args, err := s.sb.Select("id").
		From(sessionsTable).
		Where(sq.Or{sq.Lt{"expires_at": now.UTC()}, sq.Eq{"active": false}}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying expired sessions: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expired sessions: %w", err)
	}
	return ids, nil
}

var _ Store = (*SQLStore)(nil)
