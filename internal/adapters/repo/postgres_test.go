package repo

import (
	"testing"
	"time"
)

func TestDaysBetween(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("нет базы часовых поясов: %v", err)
	}
	tests := []struct {
		name string
		from time.Time
		to   time.Time
		want int
	}{
		{name: "week", from: time.Date(2026, time.October, 18, 0, 0, 0, 0, time.UTC), to: time.Date(2026, time.October, 25, 0, 0, 0, 0, time.UTC), want: 7},
		{name: "week across dst", from: time.Date(2026, time.October, 25, 0, 0, 0, 0, berlin), to: time.Date(2026, time.November, 1, 0, 0, 0, 0, berlin), want: 7},
		{name: "empty", from: time.Date(2026, time.October, 18, 0, 0, 0, 0, time.UTC), to: time.Date(2026, time.October, 18, 0, 0, 0, 0, time.UTC), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := daysBetween(tt.from, tt.to); got != tt.want {
				t.Fatalf("daysBetween = %d, want %d", got, tt.want)
			}
		})
	}
}
