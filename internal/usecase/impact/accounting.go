package impact

import (
	"math"
	"time"

	"karma-impact/internal/domain"
)

// KcalPerUnit — сколько сэкономленных калорий составляют одну единицу.
const KcalPerUnit = 100

// BurnedWithin суммирует калории тренировок из [from, to) и сообщает, были ли такие тренировки.
func BurnedWithin(workouts []domain.WorkoutSession, from, to time.Time) (float64, bool) {
	var (
		burned float64
		found  bool
	)
	for _, w := range workouts {
		if w.Timestamp.Before(from) || !w.Timestamp.Before(to) {
			continue
		}
		found = true
		if w.Calories > 0 {
			burned += w.Calories
		}
	}
	return burned, found
}

// SavedCalories считает сэкономленные калории за окно.
// Без потребления и без тренировок в окне результат нулевой: отсутствие данных не считается экономией.
func SavedCalories(nutrition domain.NutritionSnapshot, workouts []domain.WorkoutSession, from, to time.Time) int64 {
	burned, hasWorkouts := BurnedWithin(workouts, from, to)
	if nutrition.TotalCalories <= 0 && !hasWorkouts {
		return 0
	}
	skipped := math.Max(0, nutrition.GoalCalories-nutrition.TotalCalories)
	return int64(math.Round(skipped + burned))
}

// UnitsFor переводит калории в целые единицы.
func UnitsFor(saved int64) int64 {
	if saved <= 0 {
		return 0
	}
	return saved / KcalPerUnit
}

// CompareTrend сравнивает сегодняшнюю экономию со вчерашней.
func CompareTrend(today, yesterday int64) domain.Trend {
	switch {
	case today > yesterday:
		return domain.TrendUp
	case today < yesterday:
		return domain.TrendDown
	default:
		return domain.TrendStable
	}
}
