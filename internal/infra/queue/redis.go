package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"karma-impact/internal/domain"
	"karma-impact/internal/infra/metrics"
)

// RedisImpactQueue реализует очередь событий на базе Redis lists.
// Полученное событие переносится в список обработки до подтверждения.
type RedisImpactQueue struct {
	client     *redis.Client
	key        string
	processing string
}

var _ domain.ImpactEventQueue = (*RedisImpactQueue)(nil)

// NewRedisImpactQueue создаёт очередь по указанному ключу.
func NewRedisImpactQueue(client *redis.Client, key string) *RedisImpactQueue {
	return &RedisImpactQueue{client: client, key: key, processing: key + ":processing"}
}

// Publish публикует событие в очередь.
func (q *RedisImpactQueue) Publish(ctx context.Context, event domain.ImpactCreditedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "publish", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	return nil
}

// Receive блокирующе читает событие из очереди.
func (q *RedisImpactQueue) Receive(ctx context.Context) (domain.ImpactCreditedEvent, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.ImpactCreditedEvent{}, nil, err
		}

		raw, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", time.Second).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.ImpactCreditedEvent{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.ImpactCreditedEvent{}, nil, err
		}
		var event domain.ImpactCreditedEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			_ = q.client.LRem(context.Background(), q.processing, 1, raw).Err()
			return domain.ImpactCreditedEvent{}, nil, fmt.Errorf("decode event: %w", err)
		}
		return event, q.ackFunc(raw), nil
	}
}

func (q *RedisImpactQueue) ackFunc(raw string) domain.AckFunc {
	return func(success bool) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, q.processing, 1, raw)
		if !success {
			pipe.RPush(ctx, q.key, raw)
		}
		start := time.Now()
		_, err := pipe.Exec(ctx)
		metrics.ObserveNetworkRequest("redis", "ack", q.key, start, err)
		return err
	}
}
