package domain

import (
	"context"
	"time"
)

// BusinessMetric описывает бизнесовое событие, которое сохраняется для последующего анализа.
type BusinessMetric struct {
	Event      string
	UserID     *int64
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventImpactCredited фиксирует начисление новых единиц за неделю.
	BusinessMetricEventImpactCredited = "impact_credited"
	// BusinessMetricEventHistoryCleared фиксирует сброс истории пользователем.
	BusinessMetricEventHistoryCleared = "impact_history_cleared"
	// BusinessMetricEventNotified фиксирует доставку уведомления о начислении.
	BusinessMetricEventNotified = "impact_notified"
)

// BusinessMetricRepo сохраняет бизнесовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}
