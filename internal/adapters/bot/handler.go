package bot

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"karma-impact/internal/domain"
	"karma-impact/internal/infra/metrics"
)

const (
	resetConfirmWindow = 5 * time.Minute
	historyPreview     = 10
)

// API — часть tgbotapi.BotAPI, которой пользуется обработчик.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Engine — операции учёта, доступные из бота.
type Engine interface {
	Recompute(ctx context.Context, userID int64) domain.ImpactState
	RecomputeAfterChange(ctx context.Context, userID int64) domain.ImpactState
	History(ctx context.Context, userID int64) ([]domain.ImpactLedgerEntry, error)
	ClearHistory(ctx context.Context, userID int64) error
}

// Handler обслуживает вебхук бота.
type Handler struct {
	bot       API
	log       zerolog.Logger
	engine    Engine
	nutrition domain.NutritionWriter
	workouts  domain.WorkoutWriter
	loc       *time.Location
	now       func() time.Time

	mu           sync.Mutex
	pendingReset map[int64]time.Time
}

// NewHandler создаёт обработчик.
func NewHandler(bot API, log zerolog.Logger, engine Engine, nutrition domain.NutritionWriter, workouts domain.WorkoutWriter, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		bot:          bot,
		log:          log,
		engine:       engine,
		nutrition:    nutrition,
		workouts:     workouts,
		loc:          loc,
		now:          time.Now,
		pendingReset: make(map[int64]time.Time),
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil && upd.Message.From != nil {
		h.handleMessage(ctx, upd.Message)
	} else if upd.CallbackQuery != nil && upd.CallbackQuery.Message != nil {
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID, userID := msg.Chat.ID, msg.From.ID
	args := strings.TrimSpace(msg.CommandArguments())
	switch msg.Command() {
	case "start", "help":
		h.reply(chatID, helpMessage, mainKeyboard())
	case "impact":
		h.handleImpact(ctx, chatID, userID)
	case "history":
		h.handleHistory(ctx, chatID, userID)
	case "workout":
		h.handleWorkout(ctx, chatID, userID, args)
	case "eaten":
		h.handleEaten(ctx, chatID, userID, args)
	case "goal":
		h.handleGoal(ctx, chatID, userID, args)
	case "reset":
		h.handleResetRequest(chatID, userID)
	case "reset_confirm":
		h.handleResetConfirm(ctx, chatID, userID)
	default:
		h.reply(chatID, "Unknown command. Send /help to see what I can do.", nil)
	}
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	chatID := cb.Message.Chat.ID
	switch cb.Data {
	case "impact":
		h.handleImpact(ctx, chatID, cb.From.ID)
	case "history":
		h.handleHistory(ctx, chatID, cb.From.ID)
	case "reset":
		h.handleResetRequest(chatID, cb.From.ID)
	case "reset_confirm":
		h.handleResetConfirm(ctx, chatID, cb.From.ID)
	case "help":
		h.reply(chatID, helpMessage, mainKeyboard())
	}
	start := time.Now()
	_, err := h.bot.Request(tgbotapi.NewCallback(cb.ID, ""))
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", "callback", start, err)
	if err != nil {
		h.log.Error().Err(err).Msg("bot: не удалось ответить на callback")
	}
}

func (h *Handler) handleImpact(ctx context.Context, chatID, userID int64) {
	h.reply(chatID, RenderState(h.engine.Recompute(ctx, userID)), mainKeyboard())
}

func (h *Handler) handleHistory(ctx context.Context, chatID, userID int64) {
	history, err := h.engine.History(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Int64("user", userID).Msg("bot: чтение истории")
		h.reply(chatID, "Could not load your history, try again later.", nil)
		return
	}
	h.reply(chatID, RenderHistory(history), nil)
}

func (h *Handler) handleWorkout(ctx context.Context, chatID, userID int64, args string) {
	kcal, err := parseCalories(args)
	if err != nil {
		h.reply(chatID, "Usage: /workout <kcal>, e.g. /workout 350", nil)
		return
	}
	workout := domain.WorkoutSession{Timestamp: h.now().UTC(), Calories: kcal}
	if _, err := h.workouts.AddWorkout(ctx, userID, workout); err != nil {
		h.log.Error().Err(err).Int64("user", userID).Msg("bot: сохранение тренировки")
		h.reply(chatID, "Could not save the workout, try again later.", nil)
		return
	}
	h.reply(chatID, RenderState(h.engine.RecomputeAfterChange(ctx, userID)), mainKeyboard())
}

func (h *Handler) handleEaten(ctx context.Context, chatID, userID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 || len(fields) > 2 {
		h.reply(chatID, "Usage: /eaten <kcal> [YYYY-MM-DD]", nil)
		return
	}
	kcal, err := parseCalories(fields[0])
	if err != nil {
		h.reply(chatID, "Usage: /eaten <kcal> [YYYY-MM-DD]", nil)
		return
	}
	day := h.now().In(h.loc)
	if len(fields) == 2 {
		day, err = time.ParseInLocation("2006-01-02", fields[1], h.loc)
		if err != nil {
			h.reply(chatID, "Date must look like 2026-10-21", nil)
			return
		}
	}
	if err := h.nutrition.UpsertNutritionDay(ctx, userID, day, kcal); err != nil {
		h.log.Error().Err(err).Int64("user", userID).Msg("bot: сохранение питания")
		h.reply(chatID, "Could not save your intake, try again later.", nil)
		return
	}
	h.reply(chatID, RenderState(h.engine.RecomputeAfterChange(ctx, userID)), mainKeyboard())
}

func (h *Handler) handleGoal(ctx context.Context, chatID, userID int64, args string) {
	kcal, err := parseCalories(args)
	if err != nil {
		h.reply(chatID, "Usage: /goal <daily kcal>, e.g. /goal 2000", nil)
		return
	}
	if err := h.nutrition.SetDailyGoal(ctx, userID, kcal); err != nil {
		h.log.Error().Err(err).Int64("user", userID).Msg("bot: сохранение цели")
		h.reply(chatID, "Could not save your goal, try again later.", nil)
		return
	}
	h.reply(chatID, RenderState(h.engine.RecomputeAfterChange(ctx, userID)), mainKeyboard())
}

func (h *Handler) handleResetRequest(chatID, userID int64) {
	h.mu.Lock()
	h.pendingReset[userID] = h.now()
	h.mu.Unlock()
	confirm := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Yes, clear it", "reset_confirm"),
	))
	h.reply(chatID, "This clears your impact history and total. Confirm within 5 minutes.", &confirm)
}

func (h *Handler) handleResetConfirm(ctx context.Context, chatID, userID int64) {
	h.mu.Lock()
	requested, ok := h.pendingReset[userID]
	delete(h.pendingReset, userID)
	h.mu.Unlock()
	if !ok || h.now().Sub(requested) > resetConfirmWindow {
		h.reply(chatID, "No pending request. Send /reset first.", nil)
		return
	}
	if err := h.engine.ClearHistory(ctx, userID); err != nil {
		h.log.Error().Err(err).Int64("user", userID).Msg("bot: сброс истории")
		h.reply(chatID, "Could not clear your history, try again later.", nil)
		return
	}
	h.reply(chatID, "History cleared. Weeks already credited will not be credited again.", mainKeyboard())
}

func (h *Handler) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	if keyboard != nil {
		msg.ReplyMarkup = keyboard
	}
	start := time.Now()
	_, err := h.bot.Send(msg)
	metrics.ObserveNetworkRequest("telegram_bot", "send_message", "chat", start, err)
	if err != nil {
		h.log.Error().Err(err).Int64("chat", chatID).Msg("bot: не удалось отправить сообщение")
	}
}

func mainKeyboard() *tgbotapi.InlineKeyboardMarkup {
	buttons := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🌱 My impact", "impact"),
			tgbotapi.NewInlineKeyboardButtonData("📜 History", "history"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("ℹ️ Help", "help"),
		),
	)
	return &buttons
}

const helpMessage = `Every 100 kcal you save turns into one impact unit.

/impact - this week's impact
/history - credited weeks
/eaten <kcal> [YYYY-MM-DD] - log daily intake
/goal <kcal> - set daily calorie goal
/workout <kcal> - log a workout
/reset - clear history`

// RenderState формирует текст с состоянием пользователя.
func RenderState(state domain.ImpactState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🌱 Week of %s\n", state.WeekStart)
	fmt.Fprintf(&b, "Saved: %d kcal, %d units\n", state.KcalSavedWeek, state.UnitsWeek)
	fmt.Fprintf(&b, "All time: %d units\n", state.TotalUnits)
	fmt.Fprintf(&b, "Today: %d kcal (%s, yesterday %d)", state.DailySaved, trendLabel(state.DailyTrend), state.YesterdaySaved)
	if state.LastAction != nil {
		fmt.Fprintf(&b, "\n\n%s", state.LastAction.Message)
	}
	return b.String()
}

// RenderHistory формирует список последних начислений.
func RenderHistory(history []domain.ImpactLedgerEntry) string {
	if len(history) == 0 {
		return "No credited weeks yet."
	}
	var b strings.Builder
	b.WriteString("📜 Recent credits")
	for i, entry := range history {
		if i == historyPreview {
			fmt.Fprintf(&b, "\n…and %d more", len(history)-historyPreview)
			break
		}
		fmt.Fprintf(&b, "\n%s: %d units, %s", entry.WeekStart, entry.Units, strings.ReplaceAll(string(entry.Action), "_", " "))
	}
	return b.String()
}

func trendLabel(trend domain.Trend) string {
	switch trend {
	case domain.TrendUp:
		return "↑ up"
	case domain.TrendDown:
		return "↓ down"
	default:
		return "→ stable"
	}
}

func parseCalories(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, err
	}
	if v < 0 || math.IsNaN(v) || v > 1e6 {
		return 0, fmt.Errorf("недопустимое значение калорий: %v", v)
	}
	return v, nil
}
