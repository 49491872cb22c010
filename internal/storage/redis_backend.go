package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	storagecommon "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/storage/common"
)

const (
	redisFieldValue   = "v"
	redisFieldVersion = "ver"
)

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// RedisBackend stores each entry as a hash {v, ver} under prefix+key.
// CheckAndSet relies on WATCH so a concurrent writer aborts the transaction.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a new Redis storage backend
func NewRedisBackend(addr, password string, db int, prefix string) *RedisBackend {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	return NewRedisBackendWithClient(client, prefix)
}

// NewRedisBackendWithClient wraps an existing client.
func NewRedisBackendWithClient(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "poolproxy:"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) Initialize(ctx context.Context) error {
	ctx, cancel := storagecommon.Bound(ctx, storagecommon.OpConnect)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

func (r *RedisBackend) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *RedisBackend) Health(ctx context.Context) error {
	ctx, cancel := storagecommon.Bound(ctx, storagecommon.OpProbe)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *RedisBackend) key(k string) string { return r.prefix + k }

func (r *RedisBackend) Get(ctx context.Context, key string) (Entry, error) {
	return r.read(ctx, r.client, key)
}

type hashReader interface {
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
}

func (r *RedisBackend) read(ctx context.Context, c hashReader, key string) (Entry, error) {
	vals, err := c.HMGet(ctx, r.key(key), redisFieldValue, redisFieldVersion).Result()
	if err != nil {
		return Entry{}, err
	}
	return decodeRedisEntry(key, vals)
}

func decodeRedisEntry(key string, vals []interface{}) (Entry, error) {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return Entry{}, &ErrNotFound{Key: key}
	}
	value, _ := vals[0].(string)
	verStr, _ := vals[1].(string)
	version, err := strconv.ParseInt(verStr, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("corrupt version for %s: %w", key, err)
	}
	return Entry{Key: key, Value: []byte(value), Version: version}, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key(key), redisFieldValue, value)
		pipe.HIncrBy(ctx, r.key(key), redisFieldVersion, 1)
		return nil
	})
	return err
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *RedisBackend) List(ctx context.Context, prefix string) ([]Entry, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, globEscaper.Replace(r.prefix+prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(r.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)

	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		e, err := r.Get(ctx, k)
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *RedisBackend) CheckAndSet(ctx context.Context, key string, expectedVersion int64, value []byte) (int64, error) {
	var newVersion int64
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := r.read(ctx, tx, key)
		switch {
		case IsNotFound(err):
			current = Entry{}
		case err != nil:
			return err
		}
		if current.Version != expectedVersion {
			return ErrVersionConflict
		}
		newVersion = expectedVersion + 1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.key(key), redisFieldValue, value, redisFieldVersion, newVersion)
			return nil
		})
		return err
	}, r.key(key))
	if errors.Is(err, redis.TxFailedErr) {
		return 0, ErrVersionConflict
	}
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

func (r *RedisBackend) ApplyBatch(ctx context.Context, mutations []Mutation) error {
	if len(mutations) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range mutations {
			if m.Delete {
				pipe.Del(ctx, r.key(m.Key))
				continue
			}
			pipe.HSet(ctx, r.key(m.Key), redisFieldValue, m.Value)
			pipe.HIncrBy(ctx, r.key(m.Key), redisFieldVersion, 1)
		}
		return nil
	})
	return err
}
