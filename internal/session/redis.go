package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"flowbot/internal/model"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each session as a JSON document under
// session:{workflowId}:{channelUserId}, with a session-id:{id} index.
// Saves run in a WATCH/MULTI transaction on the session key.
type RedisStore struct {
	rdb *redis.Client
	// ttl expires idle documents; zero keeps them forever.
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func sessionKey(key model.SessionKey) string {
	return fmt.Sprintf("session:%s:%s", key.WorkflowID, key.ChannelUserID)
}

func sessionIDKey(id string) string {
	return "session-id:" + id
}

func (r *RedisStore) Load(ctx context.Context, key model.SessionKey) (*model.Session, error) {
	return r.get(ctx, r.rdb, sessionKey(key), "session.Load")
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisStore) get(ctx context.Context, c getter, redisKey, op string) (*model.Session, error) {
	data, err := c.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(op, "no session at %s", redisKey)
	}
	if err != nil {
		return nil, storeError(op, err)
	}
	var s model.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, storeError(op, fmt.Errorf("failed to decode session: %w", err))
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *model.Session) error {
	key := s.Key()
	redisKey := sessionKey(key)

	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		var current int64
		var prevID string
		prev, err := r.get(ctx, tx, redisKey, "session.Save")
		switch {
		case err == nil:
			current, prevID = prev.Revision, prev.ID
		case !errors.Is(err, model.ErrNotFound):
			return err
		}
		if current != s.Revision {
			return conflict("session.Save", key, s.Revision, current)
		}

		stored := s.Clone()
		stored.Revision++
		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("failed to encode session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, data, r.ttl)
			pipe.Set(ctx, sessionIDKey(stored.ID), redisKey, r.ttl)
			if prevID != "" && prevID != stored.ID {
				pipe.Del(ctx, sessionIDKey(prevID))
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.Revision = stored.Revision
		return nil
	}, redisKey)

	if errors.Is(err, redis.TxFailedErr) {
		return model.E("session.Save", model.ErrConflict, fmt.Errorf("session %s changed during save", key))
	}
	return storeError("session.Save", err)
}

func (r *RedisStore) Delete(ctx context.Context, key model.SessionKey) error {
	redisKey := sessionKey(key)
	s, err := r.get(ctx, r.rdb, redisKey, "session.Delete")
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := r.rdb.Del(ctx, redisKey, sessionIDKey(s.ID)).Err(); err != nil {
		return storeError("session.Delete", err)
	}
	return nil
}

func (r *RedisStore) FindByID(ctx context.Context, sessionID string) (*model.Session, error) {
	redisKey, err := r.rdb.Get(ctx, sessionIDKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, notFound("session.FindByID", "no session %s", sessionID)
	}
	if err != nil {
		return nil, storeError("session.FindByID", err)
	}
	s, err := r.get(ctx, r.rdb, redisKey, "session.FindByID")
	if err != nil {
		return nil, err
	}
	if s.ID != sessionID {
		return nil, notFound("session.FindByID", "session %s was replaced", sessionID)
	}
	return s, nil
}
