package store

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/celo-org/snark-setup-coordinator/ceremony"
	"github.com/celo-org/snark-setup-coordinator/log"
)

// DefaultRedisKey holds the document when no key is configured.
const DefaultRedisKey = "coordinator:ceremony"

// RedisStore keeps the document under one redis key. Writes WATCH the key so
// that a concurrent writer on any process aborts the transaction.
type RedisStore struct {
	client *redis.Client
	key    string
	log    log.Logger
}

// NewRedisStore connects to the server described by url, for instance
// redis://localhost:6379/0.
func NewRedisStore(ctx context.Context, l log.Logger, url, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parsing redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "connecting to redis")
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key, log: l.Named("redisStore")}, nil
}

func (r *RedisStore) Read(ctx context.Context) (*ceremony.Ceremony, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func (r *RedisStore) CompareAndSwap(ctx context.Context, expected int64, doc *ceremony.Ceremony) error {
	return r.transaction(ctx, func(current []byte) ([]byte, error) {
		return swap(current, expected, doc)
	})
}

func (r *RedisStore) Initialize(ctx context.Context, doc *ceremony.Ceremony, force bool) (bool, error) {
	var written bool
	err := r.transaction(ctx, func(current []byte) ([]byte, error) {
		ok, err := shouldInitialize(current, doc, force)
		if err != nil || !ok {
			return nil, err
		}
		written = true
		return encode(doc)
	})
	if err != nil {
		return false, err
	}
	return written, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// transaction writes the bytes returned by next, unless next returns nil.
func (r *RedisStore) transaction(ctx context.Context, next func(current []byte) ([]byte, error)) error {
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, r.key).Bytes()
		if errors.Is(err, redis.Nil) {
			current = nil
		} else if err != nil {
			return err
		}
		data, err := next(current)
		if err != nil || data == nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.key, data, 0)
			return nil
		})
		return err
	}, r.key)
	if errors.Is(err, redis.TxFailedErr) {
		r.log.Debugw("redis transaction aborted by a concurrent writer", "key", r.key)
		return ceremony.ErrVersionConflict
	}
	return err
}
