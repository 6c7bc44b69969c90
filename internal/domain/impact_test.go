package domain

import (
	"testing"
	"time"
)

func TestNewWeekKey(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	start := time.Date(2026, time.October, 18, 0, 0, 0, 0, loc)
	if got := NewWeekKey(start); got != "2026-10-18" {
		t.Fatalf("ожидали 2026-10-18, получили %s", got)
	}
	if got := DayKey(start.AddDate(0, 0, 1)); got != "2026-10-19" {
		t.Fatalf("ожидали 2026-10-19, получили %s", got)
	}
}

func TestImpactActionValid(t *testing.T) {
	tests := []struct {
		action ImpactAction
		want   bool
	}{
		{ImpactActionDonation, true},
		{ImpactActionCarbonOffset, true},
		{ImpactActionReforestation, true},
		{ImpactAction("lottery"), false},
		{ImpactAction(""), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			if got := tt.action.Valid(); got != tt.want {
				t.Fatalf("Valid(%q) = %v, want %v", tt.action, got, tt.want)
			}
		})
	}
}
