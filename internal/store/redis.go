// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chargelink/sessiond/internal/log"
)

const redisSessionKey = "sessiond:session:current"

// redisTTL bounds how long a stale snapshot survives a device that never
// comes back; comfortably above the hard timeout.
const redisTTL = 12 * time.Hour

// RedisStore is an alternative SessionStore for head-unit deployments that
// share a local redis instance between services.
type RedisStore struct {
	client *redis.Client
}

// RedisConfig holds redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects and pings the redis server.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	lg := log.WithComponent("store")

	lg.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to redis session store")

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Save(ctx context.Context, snap PersistedSession) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisSessionKey, data, redisTTL).Err()
}

func (s *RedisStore) Load(ctx context.Context) (PersistedSession, bool, error) {
	val, err := s.client.Get(ctx, redisSessionKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return PersistedSession{}, false, nil
	}
	if err != nil {
		return PersistedSession{}, false, err
	}
	var snap PersistedSession
	if err := json.Unmarshal(val, &snap); err != nil {
		lg := log.WithComponent("store")
		lg.Warn().Err(err).Msg("discarding corrupt session snapshot")
		return PersistedSession{}, false, nil
	}
	return snap, true, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, redisSessionKey).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }
