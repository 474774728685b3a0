// Package bot answers chat commands.
package bot

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"flight-price-alerts/internal/alerting"
	"flight-price-alerts/internal/storage"
)

// HistoryLimit is the number of records /history returns.
const HistoryLimit = 10

// Trigger runs an immediate search cycle.
type Trigger interface {
	Trigger(ctx context.Context) alerting.SearchOutcome
}

// HistoryLister reads the cheapest stored records.
type HistoryLister interface {
	TopN(ctx context.Context, n int) ([]storage.HistoryRecord, error)
}

// Router maps command text to a reply. It keeps no state between commands.
type Router struct {
	trigger Trigger
	history HistoryLister
	logger  zerolog.Logger
}

// NewRouter builds a Router.
func NewRouter(trigger Trigger, history HistoryLister, logger zerolog.Logger) *Router {
	return &Router{trigger: trigger, history: history, logger: logger.With().Str("component", "bot_router").Logger()}
}

// Handle returns the reply for text. Every input gets a reply.
func (r *Router) Handle(ctx context.Context, text string) string {
	cmd := command(text)
	r.logger.Debug().Str("command", cmd).Msg("handling command")

	switch cmd {
	case "/start":
		return alerting.FormatSearchOutcome(r.trigger.Trigger(ctx))
	case "/history":
		records, err := r.history.TopN(ctx, HistoryLimit)
		if err != nil {
			r.logger.Error().Err(err).Msg("history lookup failed")
			return "⚠️ Could not load history: " + err.Error()
		}
		return alerting.FormatHistory(records)
	case "/help":
		return alerting.FormatHelp()
	default:
		return alerting.FormatUnknown()
	}
}

// command extracts the lower-cased first token without a @botname suffix.
func command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(cmd)
}
