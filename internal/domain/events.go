package domain

import (
	"context"
	"time"
)

// ImpactCreditedEvent публикуется после успешного начисления единиц.
type ImpactCreditedEvent struct {
	ID         string            `json:"event_id"`
	UserID     int64             `json:"user_id"`
	ChatID     int64             `json:"chat_id,omitempty"`
	Entry      ImpactLedgerEntry `json:"entry"`
	TotalUnits int64             `json:"total_units"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// ImpactEventQueue описывает очередь событий начисления.
type ImpactEventQueue interface {
	Publish(ctx context.Context, event ImpactCreditedEvent) error
	Receive(ctx context.Context) (ImpactCreditedEvent, AckFunc, error)
}

// AckFunc подтверждает успешную обработку или запрашивает повтор доставки события.
type AckFunc func(success bool) error
