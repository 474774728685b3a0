package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"flight-price-alerts/internal/transport"
)

// MaxMessageRunes keeps each sendMessage call below Telegram's 4096 character limit.
const MaxMessageRunes = 4000

// Notifier 定义告警输送接口，发往运维会话。
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Sender delivers text to an arbitrary chat, used for command replies.
type Sender interface {
	SendText(ctx context.Context, chatID string, text string) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

// TelegramOptions configures a TelegramNotifier.
type TelegramOptions struct {
	BotToken   string
	ChatID     string
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64
}

// NewTelegramNotifier 构造带限速的 Telegram 告警器。
func NewTelegramNotifier(opts TelegramOptions, logger zerolog.Logger) *TelegramNotifier {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.telegram.org"
	}
	limit := rate.Inf
	burst := 1
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
		if b := int(opts.RatePerSec); b > 1 {
			burst = b
		}
	}

	return &TelegramNotifier{
		botToken: opts.BotToken,
		chatID:   opts.ChatID,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		client:   transport.NewClient(opts.Timeout),
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, text string) error {
	return n.SendText(ctx, n.chatID, text)
}

// SendText sends text to chatID, split into several messages when it is too long.
func (n *TelegramNotifier) SendText(ctx context.Context, chatID string, text string) error {
	parts := Split(text, MaxMessageRunes)
	for _, part := range parts {
		if err := n.limiter.Wait(ctx); err != nil {
			return transport.Wrap("telegram", "sendMessage", err)
		}
		if err := n.send(ctx, chatID, part); err != nil {
			return err
		}
	}
	n.logger.Debug().Str("chat_id", chatID).Int("parts", len(parts)).Msg("消息已发送 (Telegram)")
	return nil
}

func (n *TelegramNotifier) send(ctx context.Context, chatID, text string) error {
	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", transport.WrapRedacted("telegram", "sendMessage", err, n.botToken))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return transport.WrapRedacted("telegram", "sendMessage", err, n.botToken)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return transport.Status("telegram", "sendMessage", resp.StatusCode, result.Description)
	}
	if decodeErr == nil && !result.OK {
		return transport.Status("telegram", "sendMessage", resp.StatusCode, "ok=false "+result.Description)
	}
	return nil
}

// Split breaks text into chunks of at most limit runes, preferring newline boundaries.
func Split(text string, limit int) []string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > 0; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Sender   = (*TelegramNotifier)(nil)
)
