package schedule

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"karma-impact/internal/domain"
)

type stubUsers struct {
	users []int64
	err   error
	since time.Time
}

func (s *stubUsers) ListActiveUsers(_ context.Context, since time.Time) ([]int64, error) {
	s.since = since
	return s.users, s.err
}

type recordingEngine struct {
	mu    sync.Mutex
	users []int64
}

func (e *recordingEngine) Recompute(_ context.Context, userID int64) domain.ImpactState {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.users = append(e.users, userID)
	return domain.ImpactState{}
}

func TestSweepWeekRecomputesActiveUsers(t *testing.T) {
	users := &stubUsers{users: []int64{3, 1, 2}}
	engine := &recordingEngine{}
	s := NewService(users, engine, time.UTC, time.Sunday, 2, zerolog.Nop())
	s.now = func() time.Time { return time.Date(2026, 10, 21, 15, 0, 0, 0, time.UTC) }

	n, err := s.SweepWeek(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if n != 3 {
		t.Fatalf("ожидали 3 пользователя, получили %d", n)
	}
	if want := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC); !users.since.Equal(want) {
		t.Fatalf("ожидали начало недели %v, получили %v", want, users.since)
	}
	sort.Slice(engine.users, func(i, j int) bool { return engine.users[i] < engine.users[j] })
	if len(engine.users) != 3 || engine.users[0] != 1 || engine.users[2] != 3 {
		t.Fatalf("неожиданные пересчёты %v", engine.users)
	}
}

func TestSweepWeekPropagatesListError(t *testing.T) {
	s := NewService(&stubUsers{err: errors.New("postgres недоступен")}, &recordingEngine{}, time.UTC, time.Monday, 0, zerolog.Nop())
	if _, err := s.SweepWeek(context.Background()); err == nil {
		t.Fatalf("ожидали ошибку выборки")
	}
}
