package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is the key/value surface the dialer needs: OAuth state nonces, the
// provider token, the report cache and revoked session ids.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Take returns the value and deletes the key in one step.
	Take(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore accepts a redis:// URL or a bare host:port.
func NewRedisStore(addr string) *RedisStore {
	opt, err := redis.ParseURL(addr)
	var rdb *redis.Client
	if err != nil {
		rdb = redis.NewClient(&redis.Options{
			Addr: addr,
		})
	} else {
		rdb = redis.NewClient(opt)
	}
	return &RedisStore{rdb: rdb}
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisStore) Close() error { return r.rdb.Close() }

func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrMiss
	} else if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

func (r *RedisStore) Take(ctx context.Context, key string) (string, error) {
	val, err := r.rdb.GetDel(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrMiss
	} else if err != nil {
		return "", fmt.Errorf("redis getdel %s: %w", key, err)
	}
	return val, nil
}

func (r *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, keys...).Err()
}

// Open returns a redis-backed store when url is set and reachable, else an in-memory one.
func Open(ctx context.Context, url string) Store {
	if url == "" {
		log.Printf("[Cache] REDIS_URL not set, using in-memory store")
		return NewMemoryStore()
	}
	rs := NewRedisStore(url)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rs.Ping(pingCtx); err != nil {
		log.Printf("[Cache] Redis unreachable (%v), falling back to in-memory store", err)
		rs.Close()
		return NewMemoryStore()
	}
	log.Printf("[Cache] Using redis")
	return rs
}
