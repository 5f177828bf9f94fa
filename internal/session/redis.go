package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/navinbhat12/rewindify/internal/models"
)

const (
	defaultRedisPrefix = "rewindify:"
	fieldCreatedAt     = "created_at"
	fieldLastActivity  = "last_activity_at"
	fieldExpiresAt     = "expires_at"
	fieldActive        = "active"
)

// touchScript slides an existing session without resurrecting a key that
// expired or was deleted between calls.
var touchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'last_activity_at', ARGV[1], 'expires_at', ARGV[2])
redis.call('PEXPIREAT', KEYS[1], ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[5])
return 1
`)

var deactivateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'active', '0')
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// RedisStore keeps each session in a hash with native key expiry, plus a
// sorted set scored by expiry time so the reaper can find sessions whose
// hash Redis already evicted.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: defaultRedisPrefix}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + "session:" + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "sessions:expiry"
}

func (s *RedisStore) Create(ctx context.Context, sess *models.Session) error {
	active := "0"
	if sess.Active {
		active = "1"
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(sess.ID), map[string]interface{}{
			fieldCreatedAt:    formatTime(sess.CreatedAt),
			fieldLastActivity: formatTime(sess.LastActivityAt),
			fieldExpiresAt:    formatTime(sess.ExpiresAt),
			fieldActive:       active,
		})
		pipe.PExpireAt(ctx, s.key(sess.ID), sess.ExpiresAt)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(sess.ExpiresAt.Unix()), Member: sess.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis create session: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Session, error) {
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	sess := &models.Session{ID: id, Active: fields[fieldActive] == "1"}
	if sess.CreatedAt, err = parseTime(fields[fieldCreatedAt]); err != nil {
		return nil, fmt.Errorf("redis session %s created_at: %w", id, err)
	}
	if sess.LastActivityAt, err = parseTime(fields[fieldLastActivity]); err != nil {
		return nil, fmt.Errorf("redis session %s last_activity_at: %w", id, err)
	}
	if sess.ExpiresAt, err = parseTime(fields[fieldExpiresAt]); err != nil {
		return nil, fmt.Errorf("redis session %s expires_at: %w", id, err)
	}
	return sess, nil
}

func (s *RedisStore) Touch(ctx context.Context, id string, lastActivity, expiresAt time.Time) error {
	err := touchScript.Run(ctx, s.client,
		[]string{s.key(id), s.indexKey()},
		formatTime(lastActivity),
		formatTime(expiresAt),
		expiresAt.UnixMilli(),
		expiresAt.Unix(),
		id,
	).Err()
	if err != nil {
		return fmt.Errorf("redis touch session: %w", err)
	}
	return nil
}

func (s *RedisStore) Deactivate(ctx context.Context, id string, at time.Time) error {
	err := deactivateScript.Run(ctx, s.client,
		[]string{s.key(id), s.indexKey()},
		at.Unix(),
		id,
	).Err()
	if err != nil {
		return fmt.Errorf("redis deactivate session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) Expired(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list expired sessions: %w", err)
	}
	return ids, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

var _ Store = (*RedisStore)(nil)
