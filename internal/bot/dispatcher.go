package bot

import (
	"context"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"flight-price-alerts/internal/alerting"
)

// Dispatcher routes Telegram updates from the operator chat and sends the replies.
type Dispatcher struct {
	router *Router
	sender alerting.Sender
	chatID int64
	logger zerolog.Logger
}

// NewDispatcher builds a Dispatcher that only answers chatID.
func NewDispatcher(router *Router, sender alerting.Sender, chatID int64, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		router: router,
		sender: sender,
		chatID: chatID,
		logger: logger.With().Str("component", "bot_dispatcher").Logger(),
	}
}

// HandleUpdate processes one update. It reports whether a reply was sent.
func (d *Dispatcher) HandleUpdate(ctx context.Context, update tgbotapi.Update) bool {
	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil || msg.Chat == nil || msg.Text == "" {
		return false
	}
	if msg.Chat.ID != d.chatID {
		d.logger.Warn().Int64("chat_id", msg.Chat.ID).Msg("ignoring message from unknown chat")
		return false
	}

	reply := d.router.Handle(ctx, msg.Text)
	if err := d.sender.SendText(ctx, strconv.FormatInt(msg.Chat.ID, 10), reply); err != nil {
		d.logger.Error().Err(err).Int("update_id", update.UpdateID).Msg("failed to send reply")
		return false
	}
	return true
}
