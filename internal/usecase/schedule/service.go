package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"karma-impact/internal/domain"
	"karma-impact/internal/usecase/impact"
)

// Recomputer пересчитывает состояние пользователя.
type Recomputer interface {
	Recompute(ctx context.Context, userID int64) domain.ImpactState
}

// Service периодически пересчитывает состояние пользователей, активных в текущей неделе.
type Service struct {
	users       domain.ActiveUserSource
	engine      Recomputer
	loc         *time.Location
	weekStart   time.Weekday
	concurrency int
	log         zerolog.Logger
	now         func() time.Time
}

// NewService создаёт планировщик.
func NewService(users domain.ActiveUserSource, engine Recomputer, loc *time.Location, weekStart time.Weekday, concurrency int, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Service{
		users:       users,
		engine:      engine,
		loc:         loc,
		weekStart:   weekStart,
		concurrency: concurrency,
		log:         logger,
		now:         time.Now,
	}
}

// SweepWeek пересчитывает всех пользователей с активностью в текущей неделе.
func (s *Service) SweepWeek(ctx context.Context) (int, error) {
	from, _ := impact.WeekWindow(s.now().In(s.loc), s.weekStart)
	users, err := s.users.ListActiveUsers(ctx, from)
	if err != nil {
		return 0, fmt.Errorf("выборка активных пользователей: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, userID := range users {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			state := s.engine.Recompute(gctx, userID)
			s.log.Debug().Int64("user", userID).Int64("units_week", state.UnitsWeek).Msg("scheduler: пересчитан")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(users), nil
}

// Run запускает SweepWeek каждые interval до отмены контекста.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := s.SweepWeek(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("scheduler: ошибка обхода")
		} else {
			s.log.Info().Int("users", n).Msg("scheduler: обход завершён")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
