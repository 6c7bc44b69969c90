package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"karma-impact/internal/domain"
	"karma-impact/internal/infra/metrics"
)

// ErrLockTimeout возвращается, если ключ не удалось захватить до истечения ожидания.
var ErrLockTimeout = errors.New("не удалось захватить блокировку")

const lockRetryInterval = 50 * time.Millisecond

// unlockScript удаляет ключ, только если он всё ещё принадлежит владельцу.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore реализует domain.UserStoreFactory и domain.Locker через Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var (
	_ domain.UserStoreFactory = (*RedisStore)(nil)
	_ domain.Locker           = (*RedisStore)(nil)
	_ domain.OnceRunner       = (*RedisStore)(nil)
)

// NewRedis создаёт хранилище с общим префиксом ключей.
func NewRedis(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "karma"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// ForUser возвращает хранилище в пространстве ключей пользователя.
func (s *RedisStore) ForUser(userID int64) domain.KVStore {
	return &redisUserStore{client: s.client, namespace: s.prefix + ":" + strconv.FormatInt(userID, 10) + ":"}
}

// Lock захватывает ключ через SET NX, повторяя попытки до истечения ttl или ctx.
func (s *RedisStore) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	fullKey := s.prefix + ":" + key
	token := uuid.NewString()
	deadline := time.Now().Add(ttl)
	for {
		start := time.Now()
		ok, err := s.client.SetNX(ctx, fullKey, token, ttl).Result()
		metrics.ObserveNetworkRequest("redis", "lock", "karma_lock", start, err)
		if err != nil {
			return nil, fmt.Errorf("захват блокировки: %w", err)
		}
		if ok {
			return func() {
				// Освобождаем даже при отменённом контексте вызывающего.
				_ = unlockScript.Run(context.Background(), s.client, []string{fullKey}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// Once выполняет функцию, если ключ ещё не задан.
func (s *RedisStore) Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	fullKey := s.prefix + ":" + key
	start := time.Now()
	ok, err := s.client.SetNX(ctx, fullKey, "1", ttl).Result()
	metrics.ObserveNetworkRequest("redis", "once", "karma_once", start, err)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := fn(); err != nil {
		_ = s.client.Del(context.Background(), fullKey).Err()
		return err
	}
	return nil
}

type redisUserStore struct {
	client    *redis.Client
	namespace string
}

// Get возвращает значение.
func (s *redisUserStore) Get(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	value, err := s.client.Get(ctx, s.namespace+key).Result()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "get", target(key), start, nil)
		return "", false, nil
	}
	metrics.ObserveNetworkRequest("redis", "get", target(key), start, err)
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set задаёт значение; ttl=0 означает бессрочное хранение.
func (s *redisUserStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	start := time.Now()
	err := s.client.Set(ctx, s.namespace+key, value, ttl).Err()
	metrics.ObserveNetworkRequest("redis", "set", target(key), start, err)
	return err
}

// Remove удаляет ключи.
func (s *redisUserStore) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, s.namespace+k)
	}
	start := time.Now()
	err := s.client.Del(ctx, full...).Err()
	metrics.ObserveNetworkRequest("redis", "del", target(keys[0]), start, err)
	return err
}

// target сворачивает ключи с датой в метку с ограниченной кардинальностью.
func target(key string) string {
	for _, prefix := range []string{"karma_processed_units_", "karma_daily_"} {
		if strings.HasPrefix(key, prefix) {
			return prefix
		}
	}
	return key
}
