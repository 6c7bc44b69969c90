package domain

import (
	"context"
	"time"
)

// KVStore — долговременное хранилище строковых значений по ключу.
// Get возвращает ok=false, если ключ отсутствует или истёк.
type KVStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Remove(ctx context.Context, keys ...string) error
}

// Locker обеспечивает взаимное исключение между процессами.
type Locker interface {
	// Lock захватывает ключ на ttl и возвращает функцию освобождения.
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// OnceRunner выполняет функцию не более одного раза для ключа в пределах ttl.
// При ошибке fn ключ освобождается, и следующий вызов повторит попытку.
type OnceRunner interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}

// UserStoreFactory выдаёт хранилище, изолированное пространством ключей пользователя.
type UserStoreFactory interface {
	ForUser(userID int64) KVStore
}

// NutritionSource отдаёт агрегаты питания.
type NutritionSource interface {
	// WeeklySummary суммирует дни из полуинтервала [from, to).
	WeeklySummary(ctx context.Context, userID int64, from, to time.Time) (NutritionSnapshot, error)
	DailyNutrition(ctx context.Context, userID int64, day time.Time) (NutritionSnapshot, error)
}

// WorkoutSource отдаёт журнал тренировок.
type WorkoutSource interface {
	ListWorkouts(ctx context.Context, userID int64, since time.Time) ([]WorkoutSession, error)
}

// NutritionWriter сохраняет дневные итоги и цель питания.
type NutritionWriter interface {
	UpsertNutritionDay(ctx context.Context, userID int64, day time.Time, totalCalories float64) error
	SetDailyGoal(ctx context.Context, userID int64, goalCalories float64) error
}

// WorkoutWriter добавляет тренировки.
type WorkoutWriter interface {
	AddWorkout(ctx context.Context, userID int64, workout WorkoutSession) (WorkoutSession, error)
}

// LedgerMirror хранит аудиторскую копию начислений.
type LedgerMirror interface {
	AppendImpactEntry(ctx context.Context, userID int64, entry ImpactLedgerEntry) error
}

// ActiveUserSource перечисляет пользователей с активностью начиная с момента since.
type ActiveUserSource interface {
	ListActiveUsers(ctx context.Context, since time.Time) ([]int64, error)
}

// LedgerReader читает полный аудиторский журнал начислений, новые записи сначала.
type LedgerReader interface {
	ListImpactEntries(ctx context.Context, userID int64, limit int) ([]ImpactLedgerEntry, error)
}
