package queue

import (
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"karma-impact/internal/domain"
)

// Драйверы очереди событий.
const (
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
	DriverNone     = "none"
)

// ErrUnknownDriver возвращается для неизвестного драйвера очереди.
var ErrUnknownDriver = errors.New("неизвестный драйвер очереди")

// Open создаёт очередь событий выбранного драйвера. Для "none" возвращается nil.
// Возвращаемая функция закрывает соединения очереди.
func Open(driver string, client *redis.Client, rabbitURL, key string) (domain.ImpactEventQueue, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverNone, "":
		return nil, noop, nil
	case DriverRedis:
		if client == nil {
			return nil, noop, errors.New("для очереди redis нужен REDIS_ADDR")
		}
		return NewRedisImpactQueue(client, key), noop, nil
	case DriverRabbitMQ:
		q, err := NewRabbitImpactQueue(rabbitURL, key)
		if err != nil {
			return nil, noop, err
		}
		return q, q.Close, nil
	default:
		return nil, noop, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
