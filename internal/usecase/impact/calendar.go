package impact

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidWeekday возвращается для неизвестного дня начала недели.
var ErrInvalidWeekday = errors.New("некорректный день начала недели")

// StartOfDay обрезает момент до локальной полуночи в его часовом поясе.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// WeekWindow возвращает полуинтервал [start, start+7d), где start — последнее
// наступление weekStart не позже now, обрезанное до полуночи.
func WeekWindow(now time.Time, weekStart time.Weekday) (time.Time, time.Time) {
	day := StartOfDay(now)
	offset := (int(day.Weekday()) - int(weekStart) + 7) % 7
	start := day.AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 7)
}

// DayWindow возвращает календарные сутки, содержащие now.
func DayWindow(now time.Time) (time.Time, time.Time) {
	start := StartOfDay(now)
	return start, start.AddDate(0, 0, 1)
}

// ParseWeekday разбирает название дня недели (sunday, mon, ...).
func ParseWeekday(raw string) (time.Weekday, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return time.Sunday, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if value == name || value == name[:3] {
			return d, nil
		}
	}
	return time.Sunday, ErrInvalidWeekday
}
