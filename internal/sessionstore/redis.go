package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ride-agent/internal/domain"
)

const defaultKeyPrefix = "ride:session:"

// Redis is the primary SessionStore. Sessions are stored as one JSON value
// per key with a server-side TTL that slides on every read. Update runs the
// version check inside WATCH/MULTI so two concurrent writers to the same
// session cannot both succeed.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisOption func(*Redis)

// WithRedisPrefix overrides the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// NewRedis creates a store on an existing client. A non-positive ttl keeps
// sessions forever.
func NewRedis(client *redis.Client, ttl time.Duration, opts ...RedisOption) (*Redis, error) {
	if client == nil {
		return nil, errors.New("sessionstore: redis client must not be nil")
	}
	r := &Redis{
		client: client,
		prefix: defaultKeyPrefix,
		ttl:    ttl,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Redis) key(id string) string {
	return r.prefix + id
}

func (r *Redis) Create(ctx context.Context, sess *domain.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("sessionstore: marshal session: %w", err)
	}
	if err := r.client.Set(ctx, r.key(sess.ID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("sessionstore: redis set: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (*domain.Session, error) {
	val, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("sessionstore: redis get: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal(val, &sess); err != nil {
		return nil, fmt.Errorf("sessionstore: unmarshal session: %w", err)
	}

	// Slide the TTL on access; a failure here only shortens the session's
	// remaining life, so it is logged by the caller's layer, not fatal.
	if r.ttl > 0 {
		_ = r.client.Expire(ctx, r.key(id), r.ttl).Err()
	}
	return &sess, nil
}

func (r *Redis) Update(ctx context.Context, sess *domain.Session) error {
	key := r.key(sess.ID)
	expected := sess.Version

	txn := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return domain.ErrSessionNotFound
			}
			return fmt.Errorf("sessionstore: redis get: %w", err)
		}

		var current domain.Session
		if err := json.Unmarshal(val, &current); err != nil {
			return fmt.Errorf("sessionstore: unmarshal session: %w", err)
		}
		if current.Version != expected {
			return domain.ErrVersionConflict
		}

		next := *sess
		next.Version = expected + 1
		payload, err := json.Marshal(&next)
		if err != nil {
			return fmt.Errorf("sessionstore: marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, r.ttl)
			return nil
		})
		return err
	}

	err := r.client.Watch(ctx, txn, key)
	switch {
	case err == nil:
		sess.Version = expected + 1
		return nil
	case errors.Is(err, redis.TxFailedErr):
		// Another writer touched the key between WATCH and EXEC.
		return domain.ErrVersionConflict
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrSessionNotFound):
		return err
	default:
		return fmt.Errorf("sessionstore: redis update: %w", err)
	}
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("sessionstore: redis del: %w", err)
	}
	return nil
}
