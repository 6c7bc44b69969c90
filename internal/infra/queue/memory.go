package queue

import (
	"context"
	"errors"

	"karma-impact/internal/domain"
)

var errQueueFull = errors.New("очередь переполнена")

// MemoryImpactQueue — очередь в памяти процесса; неподтверждённые события возвращаются в конец.
type MemoryImpactQueue struct {
	events chan domain.ImpactCreditedEvent
}

var _ domain.ImpactEventQueue = (*MemoryImpactQueue)(nil)

// NewMemoryImpactQueue создаёт очередь с буфером size.
func NewMemoryImpactQueue(size int) *MemoryImpactQueue {
	if size <= 0 {
		size = 128
	}
	return &MemoryImpactQueue{events: make(chan domain.ImpactCreditedEvent, size)}
}

// Publish кладёт событие в буфер, блокируясь при переполнении.
func (q *MemoryImpactQueue) Publish(ctx context.Context, event domain.ImpactCreditedEvent) error {
	select {
	case q.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive ждёт следующее событие.
func (q *MemoryImpactQueue) Receive(ctx context.Context) (domain.ImpactCreditedEvent, domain.AckFunc, error) {
	select {
	case <-ctx.Done():
		return domain.ImpactCreditedEvent{}, nil, ctx.Err()
	case event := <-q.events:
		return event, func(success bool) error {
			if success {
				return nil
			}
			select {
			case q.events <- event:
				return nil
			default:
				return errQueueFull
			}
		}, nil
	}
}
