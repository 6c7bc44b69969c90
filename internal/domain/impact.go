package domain

import "time"

// WeekKey — дата начала недели в формате YYYY-MM-DD, ключ агрегации и идемпотентности.
type WeekKey string

// weekKeyLayout задаёт формат WeekKey и дневных ключей.
const weekKeyLayout = "2006-01-02"

// NewWeekKey строит ключ по началу недели.
func NewWeekKey(start time.Time) WeekKey {
	return WeekKey(start.Format(weekKeyLayout))
}

// DayKey возвращает ключ календарного дня.
func DayKey(day time.Time) string {
	return day.Format(weekKeyLayout)
}

// NutritionSnapshot содержит суммарное потребление и цель за период.
type NutritionSnapshot struct {
	TotalCalories float64 `json:"total_calories"`
	GoalCalories  float64 `json:"goal_calories"`
}

// WorkoutSession описывает одну тренировку.
type WorkoutSession struct {
	ID        int64     `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Calories  float64   `json:"calories"`
}

// ImpactAction — символическое действие, которое «покупают» сэкономленные калории.
type ImpactAction string

const (
	// ImpactActionDonation — пожертвование, базовый уровень.
	ImpactActionDonation ImpactAction = "donation"
	// ImpactActionCarbonOffset — компенсация выбросов, от 8 единиц.
	ImpactActionCarbonOffset ImpactAction = "carbon_offset"
	// ImpactActionReforestation — посадка деревьев, от 12 единиц.
	ImpactActionReforestation ImpactAction = "reforestation"
)

// Valid сообщает, известно ли действие.
func (a ImpactAction) Valid() bool {
	switch a {
	case ImpactActionDonation, ImpactActionCarbonOffset, ImpactActionReforestation:
		return true
	}
	return false
}

// Trend показывает изменение дневной экономии относительно вчерашней.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// ImpactLedgerEntry — неизменяемая запись о начислении единиц за неделю.
type ImpactLedgerEntry struct {
	ID        string       `json:"id"`
	WeekStart WeekKey      `json:"week_start"`
	KcalSaved int64        `json:"kcal_saved"`
	Units     int64        `json:"units"`
	Action    ImpactAction `json:"action"`
	Message   string       `json:"message"`
	CreatedAt time.Time    `json:"created_at"`
}

// ImpactState — производное состояние, пересчитываемое при каждом триггере.
type ImpactState struct {
	WeekStart      WeekKey             `json:"week_start"`
	KcalSavedWeek  int64               `json:"kcal_saved_week"`
	UnitsWeek      int64               `json:"units_week"`
	TotalUnits     int64               `json:"total_units"`
	LastAction     *ImpactLedgerEntry  `json:"last_action"`
	History        []ImpactLedgerEntry `json:"history"`
	DailySaved     int64               `json:"daily_saved"`
	YesterdaySaved int64               `json:"yesterday_saved"`
	DailyTrend     Trend               `json:"daily_trend"`
}
