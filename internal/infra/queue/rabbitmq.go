package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"karma-impact/internal/domain"
	"karma-impact/internal/infra/metrics"
)

// RabbitImpactQueue реализует очередь событий через AMQP.
type RabbitImpactQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	publishMu  sync.Mutex
	consumeMu  sync.Mutex
	deliveries <-chan amqp.Delivery
}

var _ domain.ImpactEventQueue = (*RabbitImpactQueue)(nil)

// NewRabbitImpactQueue подключается к брокеру и объявляет durable-очередь.
func NewRabbitImpactQueue(amqpURL, queue string) (*RabbitImpactQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &RabbitImpactQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Publish публикует событие в очередь.
func (q *RabbitImpactQueue) Publish(ctx context.Context, event domain.ImpactCreditedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	q.publishMu.Lock()
	defer q.publishMu.Unlock()
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Receive блокирующе читает событие из очереди.
func (q *RabbitImpactQueue) Receive(ctx context.Context) (domain.ImpactCreditedEvent, domain.AckFunc, error) {
	deliveries, err := q.consume()
	if err != nil {
		return domain.ImpactCreditedEvent{}, nil, err
	}
	select {
	case <-ctx.Done():
		return domain.ImpactCreditedEvent{}, nil, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			return domain.ImpactCreditedEvent{}, nil, errors.New("rabbitmq: delivery channel closed")
		}
		var event domain.ImpactCreditedEvent
		if err := json.Unmarshal(d.Body, &event); err != nil {
			_ = d.Nack(false, false)
			return domain.ImpactCreditedEvent{}, nil, fmt.Errorf("decode event: %w", err)
		}
		return event, func(success bool) error {
			if success {
				return d.Ack(false)
			}
			return d.Nack(false, true)
		}, nil
	}
}

func (q *RabbitImpactQueue) consume() (<-chan amqp.Delivery, error) {
	q.consumeMu.Lock()
	defer q.consumeMu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

// Close закрывает канал и соединение.
func (q *RabbitImpactQueue) Close() error {
	if err := q.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}
