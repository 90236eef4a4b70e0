package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "wqbot/pkg/logx"
)

type redisBackend struct {
	rdb *redis.Client
	key string
	log logx.Logger
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Backend, error) {
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		return nil, errors.New("state.redis.addr is required for redis driver")
	}
	key := cfg.Redis.Key
	if key == "" {
		key = "wqbot:state"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}
	return newRedisBackend(rdb, key, log), nil
}

func newRedisBackend(rdb *redis.Client, key string, log logx.Logger) *redisBackend {
	return &redisBackend{rdb: rdb, key: key, log: log.With(logx.String("driver", "redis"))}
}

func (b *redisBackend) Load(ctx context.Context) (Snapshot, error) {
	data, err := b.rdb.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	return DecodeSnapshot(data)
}

// Save overwrites the key with a single SET, which Redis applies atomically.
func (b *redisBackend) Save(ctx context.Context, s Snapshot) error {
	data, err := s.Encode()
	if err != nil {
		return err
	}
	return b.rdb.Set(ctx, b.key, data, 0).Err()
}

func (b *redisBackend) Close() error { return b.rdb.Close() }
