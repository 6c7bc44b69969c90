package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"karma-impact/internal/domain"
)

type stubEngine struct {
	state       domain.ImpactState
	history     []domain.ImpactLedgerEntry
	historyErr  error
	recomputes  int
	afterChange int
	cleared     []int64
}

func (s *stubEngine) Recompute(_ context.Context, _ int64) domain.ImpactState {
	s.recomputes++
	return s.state
}

func (s *stubEngine) RecomputeAfterChange(_ context.Context, _ int64) domain.ImpactState {
	s.afterChange++
	return s.state
}

func (s *stubEngine) History(context.Context, int64) ([]domain.ImpactLedgerEntry, error) {
	return s.history, s.historyErr
}

func (s *stubEngine) ClearHistory(_ context.Context, userID int64) error {
	s.cleared = append(s.cleared, userID)
	return nil
}

type stubWriters struct {
	days     map[string]float64
	goal     float64
	workouts []domain.WorkoutSession
	ledger   []domain.ImpactLedgerEntry
	limit    int
}

func (s *stubWriters) ListImpactEntries(_ context.Context, _ int64, limit int) ([]domain.ImpactLedgerEntry, error) {
	s.limit = limit
	return s.ledger, nil
}

func (s *stubWriters) UpsertNutritionDay(_ context.Context, _ int64, day time.Time, total float64) error {
	s.days[domain.DayKey(day)] = total
	return nil
}

func (s *stubWriters) SetDailyGoal(_ context.Context, _ int64, goal float64) error {
	s.goal = goal
	return nil
}

func (s *stubWriters) AddWorkout(_ context.Context, _ int64, w domain.WorkoutSession) (domain.WorkoutSession, error) {
	w.ID = int64(len(s.workouts) + 1)
	s.workouts = append(s.workouts, w)
	return w, nil
}

func newTestRouter(engine *stubEngine, writers *stubWriters, userID int64) chi.Router {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if userID != 0 {
				req = req.WithContext(WithUserID(req.Context(), userID))
			}
			next.ServeHTTP(w, req)
		})
	})
	NewAPI(engine, writers, writers, writers, time.UTC, zerolog.Nop()).Mount(r)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestAPIGetImpact(t *testing.T) {
	engine := &stubEngine{state: domain.ImpactState{WeekStart: "2026-10-18", KcalSavedWeek: 2150, UnitsWeek: 21, History: []domain.ImpactLedgerEntry{}}}
	r := newTestRouter(engine, &stubWriters{days: map[string]float64{}}, 42)

	rec := do(r, http.MethodGet, "/api/v1/impact", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	var state domain.ImpactState
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatalf("не удалось разобрать ответ: %v", err)
	}
	if state.UnitsWeek != 21 || state.WeekStart != "2026-10-18" || engine.recomputes != 1 {
		t.Fatalf("неожиданное состояние %+v", state)
	}
}

func TestAPIRequiresUser(t *testing.T) {
	r := newTestRouter(&stubEngine{}, &stubWriters{days: map[string]float64{}}, 0)
	if rec := do(r, http.MethodGet, "/api/v1/impact", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("ожидали 401, получили %d", rec.Code)
	}
}

func TestAPIHistory(t *testing.T) {
	engine := &stubEngine{}
	r := newTestRouter(engine, &stubWriters{days: map[string]float64{}}, 42)

	rec := do(r, http.MethodGet, "/api/v1/impact/history", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"history":[]`) {
		t.Fatalf("ожидали пустую историю, получили %d %s", rec.Code, rec.Body.String())
	}

	engine.historyErr = errors.New("redis недоступен")
	if rec := do(r, http.MethodGet, "/api/v1/impact/history", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("ожидали 500, получили %d", rec.Code)
	}

	if rec := do(r, http.MethodDelete, "/api/v1/impact/history", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("ожидали 204, получили %d", rec.Code)
	}
	if len(engine.cleared) != 1 || engine.cleared[0] != 42 {
		t.Fatalf("ожидали сброс истории пользователя 42, получили %v", engine.cleared)
	}
}

func TestAPIPutNutritionDay(t *testing.T) {
	engine := &stubEngine{}
	writers := &stubWriters{days: map[string]float64{}}
	r := newTestRouter(engine, writers, 42)

	rec := do(r, http.MethodPut, "/api/v1/nutrition/2026-10-20", `{"total_calories": 1800}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d %s", rec.Code, rec.Body.String())
	}
	if writers.days["2026-10-20"] != 1800 || engine.afterChange != 1 {
		t.Fatalf("ожидали запись дня и пересчёт, получили %v и %d", writers.days, engine.afterChange)
	}

	bad := []struct {
		path string
		body string
	}{
		{"/api/v1/nutrition/20-10-2026", `{"total_calories": 1}`},
		{"/api/v1/nutrition/2026-10-20", `{"total_calories": -5}`},
		{"/api/v1/nutrition/2026-10-20", `{}`},
		{"/api/v1/nutrition/2026-10-20", `{"calories": 5}`},
		{"/api/v1/nutrition/2026-10-20", `не json`},
	}
	for _, tc := range bad {
		if rec := do(r, http.MethodPut, tc.path, tc.body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s %s: ожидали 400, получили %d", tc.path, tc.body, rec.Code)
		}
	}
	if engine.afterChange != 1 {
		t.Fatalf("некорректные запросы не должны запускать пересчёт")
	}
}

func TestAPIPutGoal(t *testing.T) {
	engine := &stubEngine{}
	writers := &stubWriters{days: map[string]float64{}}
	r := newTestRouter(engine, writers, 42)

	if rec := do(r, http.MethodPut, "/api/v1/nutrition/goal", `{"daily_goal_calories": 2000}`); rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	if writers.goal != 2000 || len(writers.days) != 0 {
		t.Fatalf("ожидали сохранение цели, а не дня: цель %v, дни %v", writers.goal, writers.days)
	}
}

func TestAPIPostWorkout(t *testing.T) {
	engine := &stubEngine{}
	writers := &stubWriters{days: map[string]float64{}}
	r := newTestRouter(engine, writers, 42)

	rec := do(r, http.MethodPost, "/api/v1/workouts", `{"calories": 300, "timestamp": "2026-10-20T08:00:00Z"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("ожидали 201, получили %d %s", rec.Code, rec.Body.String())
	}
	var resp workoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("не удалось разобрать ответ: %v", err)
	}
	want := time.Date(2026, 10, 20, 8, 0, 0, 0, time.UTC)
	if resp.Workout.ID != 1 || resp.Workout.Calories != 300 || !resp.Workout.Timestamp.Equal(want) {
		t.Fatalf("неожиданная тренировка %+v", resp.Workout)
	}
	if engine.afterChange != 1 {
		t.Fatalf("ожидали пересчёт после тренировки")
	}

	if rec := do(r, http.MethodPost, "/api/v1/workouts", `{"calories": -1}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидали 400, получили %d", rec.Code)
	}
}

func TestAPIFullHistoryReadsLedger(t *testing.T) {
	engine := &stubEngine{history: []domain.ImpactLedgerEntry{{ID: "recent"}}}
	writers := &stubWriters{days: map[string]float64{}}
	for i := 0; i < 25; i++ {
		writers.ledger = append(writers.ledger, domain.ImpactLedgerEntry{ID: "e", Units: int64(i)})
	}
	r := newTestRouter(engine, writers, 42)

	rec := do(r, http.MethodGet, "/api/v1/impact/history?all=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	var resp struct {
		History []domain.ImpactLedgerEntry `json:"history"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("не удалось разобрать ответ: %v", err)
	}
	if len(resp.History) != 25 || writers.limit != FullHistoryLimit {
		t.Fatalf("ожидали 25 записей из журнала с лимитом %d, получили %d и %d", FullHistoryLimit, len(resp.History), writers.limit)
	}

	rec = do(r, http.MethodGet, "/api/v1/impact/history", "")
	if !strings.Contains(rec.Body.String(), `"recent"`) {
		t.Fatalf("без all ожидали недавнюю историю, получили %s", rec.Body.String())
	}
}
