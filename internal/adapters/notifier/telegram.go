package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"karma-impact/internal/domain"
	"karma-impact/internal/infra/metrics"
)

// ErrNoChat возвращается, если событию не назначен чат.
var ErrNoChat = errors.New("у события нет чата получателя")

// Sender — часть tgbotapi.BotAPI, нужная для отправки.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram отправляет уведомления о начислениях в чат пользователя.
type Telegram struct {
	bot Sender
	log zerolog.Logger
}

// NewTelegram создаёт нотификатор.
func NewTelegram(bot Sender, logger zerolog.Logger) *Telegram {
	return &Telegram{bot: bot, log: logger}
}

// NotifyCredit отправляет сообщение о начислении.
func (t *Telegram) NotifyCredit(ctx context.Context, event domain.ImpactCreditedEvent) error {
	chatID := event.ChatID
	if chatID == 0 {
		chatID = event.UserID
	}
	if chatID == 0 {
		return ErrNoChat
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, FormatCredit(event))
	msg.ParseMode = tgbotapi.ModeHTML
	start := time.Now()
	_, err := t.bot.Send(msg)
	metrics.ObserveNetworkRequest("telegram_bot", "send_message", "impact_credit", start, err)
	if err != nil {
		metrics.NotifySendErrors.Inc()
		return fmt.Errorf("отправка уведомления: %w", err)
	}
	t.log.Debug().Int64("chat", chatID).Str("entry", event.Entry.ID).Msg("notifier: уведомление отправлено")
	return nil
}

var actionTitles = map[domain.ImpactAction]string{
	domain.ImpactActionDonation:      "💚 Donation",
	domain.ImpactActionCarbonOffset:  "🌍 Carbon offset",
	domain.ImpactActionReforestation: "🌳 Reforestation",
}

// FormatCredit строит HTML-текст уведомления.
func FormatCredit(event domain.ImpactCreditedEvent) string {
	title, ok := actionTitles[event.Entry.Action]
	if !ok {
		title = "✨ Impact"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", escape(title))
	b.WriteString(escape(event.Entry.Message))
	fmt.Fprintf(&b, "\n\nWeek of %s: %d units · all time: %d units", escape(string(event.Entry.WeekStart)), event.Entry.Units, event.TotalUnits)
	return b.String()
}

func escape(text string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeHTML, text)
}
