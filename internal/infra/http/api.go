package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"karma-impact/internal/domain"
)

var (
	errUnauthorized   = errors.New("пользователь не определён")
	errInvalidBody    = errors.New("некорректное тело запроса")
	errInvalidDate    = errors.New("дата должна быть в формате YYYY-MM-DD")
	errInvalidCalorie = errors.New("калории должны быть неотрицательным числом")
)

// ImpactEngine — операции учёта, доступные через API.
type ImpactEngine interface {
	Recompute(ctx context.Context, userID int64) domain.ImpactState
	RecomputeAfterChange(ctx context.Context, userID int64) domain.ImpactState
	History(ctx context.Context, userID int64) ([]domain.ImpactLedgerEntry, error)
	ClearHistory(ctx context.Context, userID int64) error
}

// FullHistoryLimit ограничивает выдачу полного журнала.
const FullHistoryLimit = 500

// API обслуживает маршруты /api/v1.
type API struct {
	engine    ImpactEngine
	nutrition domain.NutritionWriter
	workouts  domain.WorkoutWriter
	ledger    domain.LedgerReader
	loc       *time.Location
	log       zerolog.Logger
}

// NewAPI создаёт обработчики API. ledger может быть nil, тогда ?all=1 отдаёт недавнюю историю.
func NewAPI(engine ImpactEngine, nutrition domain.NutritionWriter, workouts domain.WorkoutWriter, ledger domain.LedgerReader, loc *time.Location, logger zerolog.Logger) *API {
	if loc == nil {
		loc = time.Local
	}
	return &API{engine: engine, nutrition: nutrition, workouts: workouts, ledger: ledger, loc: loc, log: logger}
}

// Mount регистрирует маршруты. Ожидается, что r уже защищён WebAppAuthMiddleware.
func (a *API) Mount(r chi.Router) {
	r.Get("/api/v1/impact", a.getImpact)
	r.Get("/api/v1/impact/history", a.getHistory)
	r.Delete("/api/v1/impact/history", a.clearHistory)
	r.Put("/api/v1/nutrition/goal", a.putGoal)
	r.Put("/api/v1/nutrition/{date}", a.putNutritionDay)
	r.Post("/api/v1/workouts", a.postWorkout)
}

type nutritionDayRequest struct {
	TotalCalories *float64 `json:"total_calories"`
}

type goalRequest struct {
	DailyGoalCalories *float64 `json:"daily_goal_calories"`
}

type workoutRequest struct {
	Calories  *float64   `json:"calories"`
	Timestamp *time.Time `json:"timestamp"`
}

type workoutResponse struct {
	Workout domain.WorkoutSession `json:"workout"`
	State   domain.ImpactState    `json:"state"`
}

func (a *API) getImpact(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, errUnauthorized)
		return
	}
	WriteJSON(w, http.StatusOK, a.engine.Recompute(r.Context(), userID))
}

func (a *API) getHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, errUnauthorized)
		return
	}
	var (
		history []domain.ImpactLedgerEntry
		err     error
	)
	if all := r.URL.Query().Get("all"); (all == "1" || all == "true") && a.ledger != nil {
		history, err = a.ledger.ListImpactEntries(r.Context(), userID, FullHistoryLimit)
	} else {
		history, err = a.engine.History(r.Context(), userID)
	}
	if err != nil {
		a.log.Error().Err(err).Int64("user", userID).Str("request_id", RequestID(r)).Msg("api: чтение истории")
		WriteError(w, http.StatusInternalServerError, errors.New("не удалось прочитать историю"))
		return
	}
	if history == nil {
		history = []domain.ImpactLedgerEntry{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (a *API) clearHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, errUnauthorized)
		return
	}
	if err := a.engine.ClearHistory(r.Context(), userID); err != nil {
		a.log.Error().Err(err).Int64("user", userID).Str("request_id", RequestID(r)).Msg("api: сброс истории")
		WriteError(w, http.StatusInternalServerError, errors.New("не удалось сбросить историю"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) putNutritionDay(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, errUnauthorized)
		return
	}
	day, err := time.ParseInLocation("2006-01-02", chi.URLParam(r, "date"), a.loc)
	if err != nil {
		WriteError(w, http.StatusBadRequest, errInvalidDate)
		return
	}
	var req nutritionDayRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, errInvalidBody)
		return
	}
	if !validCalories(req.TotalCalories) {
		WriteError(w, http.StatusBadRequest, errInvalidCalorie)
		return
	}
	if err := a.nutrition.UpsertNutritionDay(r.Context(), userID, day, *req.TotalCalories); err != nil {
		a.log.Error().Err(err).Int64("user", userID).Str("day", domain.DayKey(day)).Msg("api: сохранение питания")
		WriteError(w, http.StatusInternalServerError, errors.New("не удалось сохранить питание"))
		return
	}
	WriteJSON(w, http.StatusOK, a.engine.RecomputeAfterChange(r.Context(), userID))
}

func (a *API) putGoal(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, errUnauthorized)
		return
	}
	var req goalRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, errInvalidBody)
		return
	}
	if !validCalories(req.DailyGoalCalories) {
		WriteError(w, http.StatusBadRequest, errInvalidCalorie)
		return
	}
	if err := a.nutrition.SetDailyGoal(r.Context(), userID, *req.DailyGoalCalories); err != nil {
		a.log.Error().Err(err).Int64("user", userID).Msg("api: сохранение цели")
		WriteError(w, http.StatusInternalServerError, errors.New("не удалось сохранить цель"))
		return
	}
	WriteJSON(w, http.StatusOK, a.engine.RecomputeAfterChange(r.Context(), userID))
}

func (a *API) postWorkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, errUnauthorized)
		return
	}
	var req workoutRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, errInvalidBody)
		return
	}
	if !validCalories(req.Calories) {
		WriteError(w, http.StatusBadRequest, errInvalidCalorie)
		return
	}
	workout := domain.WorkoutSession{Calories: *req.Calories, Timestamp: time.Now().UTC()}
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		workout.Timestamp = *req.Timestamp
	}
	saved, err := a.workouts.AddWorkout(r.Context(), userID, workout)
	if err != nil {
		a.log.Error().Err(err).Int64("user", userID).Msg("api: сохранение тренировки")
		WriteError(w, http.StatusInternalServerError, errors.New("не удалось сохранить тренировку"))
		return
	}
	WriteJSON(w, http.StatusCreated, workoutResponse{
		Workout: saved,
		State:   a.engine.RecomputeAfterChange(r.Context(), userID),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("разбор тела: %w", err)
	}
	return nil
}

func validCalories(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0) && *v >= 0
}
