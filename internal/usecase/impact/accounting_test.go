package impact

import (
	"strings"
	"testing"
	"time"

	"karma-impact/internal/domain"
)

func TestSavedCalories(t *testing.T) {
	from := time.Date(2026, time.October, 18, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)
	inside := domain.WorkoutSession{Timestamp: from.Add(48 * time.Hour), Calories: 150}
	before := domain.WorkoutSession{Timestamp: from.Add(-time.Second), Calories: 500}
	atEnd := domain.WorkoutSession{Timestamp: to, Calories: 700}

	tests := []struct {
		name      string
		nutrition domain.NutritionSnapshot
		workouts  []domain.WorkoutSession
		want      int64
	}{
		{name: "no activity", nutrition: domain.NutritionSnapshot{GoalCalories: 14000}, want: 0},
		{name: "only out of window workouts", nutrition: domain.NutritionSnapshot{GoalCalories: 14000}, workouts: []domain.WorkoutSession{before, atEnd}, want: 0},
		{name: "example week", nutrition: domain.NutritionSnapshot{TotalCalories: 12000, GoalCalories: 14000}, workouts: []domain.WorkoutSession{inside, before, atEnd}, want: 2150},
		{name: "over goal keeps burn", nutrition: domain.NutritionSnapshot{TotalCalories: 15000, GoalCalories: 14000}, workouts: []domain.WorkoutSession{inside}, want: 150},
		{name: "workout alone counts skipped goal", nutrition: domain.NutritionSnapshot{GoalCalories: 2000}, workouts: []domain.WorkoutSession{inside}, want: 2150},
		{name: "rounding", nutrition: domain.NutritionSnapshot{TotalCalories: 1000.4, GoalCalories: 1100}, want: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SavedCalories(tt.nutrition, tt.workouts, from, to); got != tt.want {
				t.Fatalf("SavedCalories = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestUnitsFor(t *testing.T) {
	cases := map[int64]int64{0: 0, -50: 0, 99: 0, 100: 1, 2150: 21, 1299: 12}
	for saved, want := range cases {
		if got := UnitsFor(saved); got != want {
			t.Fatalf("UnitsFor(%d) = %d, want %d", saved, got, want)
		}
	}
}

func TestCompareTrend(t *testing.T) {
	if got := CompareTrend(500, 100); got != domain.TrendUp {
		t.Fatalf("ожидали up, получили %s", got)
	}
	if got := CompareTrend(100, 500); got != domain.TrendDown {
		t.Fatalf("ожидали down, получили %s", got)
	}
	if got := CompareTrend(300, 300); got != domain.TrendStable {
		t.Fatalf("ожидали stable, получили %s", got)
	}
}

func TestSelectAction(t *testing.T) {
	tests := []struct {
		units int64
		want  domain.ImpactAction
	}{
		{1, domain.ImpactActionDonation},
		{3, domain.ImpactActionDonation},
		{7, domain.ImpactActionDonation},
		{8, domain.ImpactActionCarbonOffset},
		{11, domain.ImpactActionCarbonOffset},
		{12, domain.ImpactActionReforestation},
		{21, domain.ImpactActionReforestation},
	}
	for _, tt := range tests {
		if got := SelectAction(tt.units); got != tt.want {
			t.Fatalf("SelectAction(%d) = %s, want %s", tt.units, got, tt.want)
		}
	}
}

func TestFormatMessageUsesWeekUnits(t *testing.T) {
	for _, action := range []domain.ImpactAction{domain.ImpactActionDonation, domain.ImpactActionCarbonOffset, domain.ImpactActionReforestation} {
		msg := FormatMessage(action, 21)
		if !strings.Contains(msg, "2100") {
			t.Fatalf("сообщение %q должно содержать 2100", msg)
		}
	}
}
