package bot

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"flight-price-alerts/internal/logging"
	"flight-price-alerts/internal/transport"
)

const (
	connectRetryMin = 2 * time.Second
	connectRetryMax = 5 * time.Minute
)

// Poller receives updates by long polling getUpdates. It connects lazily, so an
// unreachable Bot API delays command handling without stopping anything else.
type Poller struct {
	connect    func() (*tgbotapi.BotAPI, error)
	dispatcher *Dispatcher
	timeout    time.Duration
	logger     zerolog.Logger

	retryMin, retryMax time.Duration
}

// NewBotAPI connects to the Bot API at apiBase, verifying the token with getMe.
// Errors never contain the token.
func NewBotAPI(token, apiBase string, logger zerolog.Logger) (*tgbotapi.BotAPI, error) {
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}
	if err := tgbotapi.SetLogger(logging.BotLogger{Logger: logger.With().Str("component", "tgbotapi").Logger()}); err != nil {
		logger.Warn().Err(err).Msg("keeping default telegram client logger")
	}
	endpoint := strings.TrimRight(apiBase, "/") + "/bot%s/%s"
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, transport.WrapRedacted("telegram", "getMe", err, token)
	}
	return api, nil
}

// NewPoller builds a Poller for the bot identified by token.
func NewPoller(token, apiBase string, dispatcher *Dispatcher, timeout time.Duration, logger zerolog.Logger) *Poller {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger = logger.With().Str("component", "bot_poller").Logger()
	return &Poller{
		connect:    func() (*tgbotapi.BotAPI, error) { return NewBotAPI(token, apiBase, logger) },
		dispatcher: dispatcher,
		timeout:    timeout,
		logger:     logger,
		retryMin:   connectRetryMin,
		retryMax:   connectRetryMax,
	}
}

// Run dispatches updates until ctx is cancelled. Commands are handled one at a time.
func (p *Poller) Run(ctx context.Context) error {
	api, err := p.dial(ctx)
	if err != nil {
		return err
	}

	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = int(p.timeout.Seconds())
	cfg.AllowedUpdates = []string{"message", "edited_message"}

	updates := api.GetUpdatesChan(cfg)
	p.logger.Info().Str("bot", api.Self.UserName).Msg("polling for commands")

	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			p.dispatcher.HandleUpdate(ctx, update)
		}
	}
}

// dial retries the connection with exponential backoff until it succeeds or ctx ends.
func (p *Poller) dial(ctx context.Context) (*tgbotapi.BotAPI, error) {
	wait := p.retryMin
	for attempt := 1; ; attempt++ {
		api, err := p.connect()
		if err == nil {
			return api, nil
		}
		p.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("telegram bot api unreachable")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if wait *= 2; wait > p.retryMax {
			wait = p.retryMax
		}
	}
}
