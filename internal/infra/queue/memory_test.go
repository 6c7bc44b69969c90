package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"karma-impact/internal/domain"
)

func TestMemoryQueueRedeliversNacked(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryImpactQueue(4)
	event := domain.ImpactCreditedEvent{ID: "e1", UserID: 42, Entry: domain.ImpactLedgerEntry{Units: 21}}
	if err := q.Publish(ctx, event); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got, ack, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.ID != "e1" {
		t.Fatalf("ожидали e1, получили %s", got.ID)
	}
	if err := ack(false); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	again, ack, err := q.Receive(ctx)
	if err != nil || again.ID != "e1" {
		t.Fatalf("ожидали повторную доставку e1, получили %s %v", again.ID, err)
	}
	if err := ack(true); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, _, err := q.Receive(waitCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("после подтверждения очередь должна быть пустой, получили %v", err)
	}
}
