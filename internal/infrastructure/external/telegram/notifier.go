// Package telegram delivers request notices to a coordinator chat through the
// Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
	"github.com/bloodlink/bloodlink-hub/pkg/logger"
	"github.com/bloodlink/bloodlink-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the Telegram notifier.
type Config struct {
	Token  string
	ChatID int64

	// APIEndpoint overrides tgbotapi.APIEndpoint, e.g. for a local Bot API server.
	APIEndpoint string

	Retry retry.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(token string, chatID int64) Config {
	return Config{
		Token:       token,
		ChatID:      chatID,
		APIEndpoint: tgbotapi.APIEndpoint,
		Retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     10 * time.Second,
			Multiplier:   2,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFIER
// ══════════════════════════════════════════════════════════════════════════════

// sender is the slice of tgbotapi.BotAPI the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier posts request notices to one chat.
type Notifier struct {
	api    sender
	chatID int64
	retry  retry.Config
	log    *logger.Logger
}

// NewNotifier authorizes the bot and returns a notifier for cfg.ChatID.
func NewNotifier(cfg Config, log *logger.Logger) (*Notifier, error) {
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	n := newNotifier(api, cfg.ChatID, cfg.Retry, log)
	n.log.Info("telegram bot authorized", logger.String("account", api.Self.UserName))
	return n, nil
}

func newNotifier(api sender, chatID int64, rc retry.Config, log *logger.Logger) *Notifier {
	if log == nil {
		log = logger.NewNop()
	}
	return &Notifier{api: api, chatID: chatID, retry: rc, log: log.Named("telegram")}
}

// Handle is an event bus handler for request notices.
func (n *Notifier) Handle(ctx context.Context, event shared.Event) error {
	msg := tgbotapi.NewMessage(n.chatID, FormatNotice(event))
	msg.DisableWebPagePreview = true

	cfg := n.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		n.log.Warn("telegram send failed, retrying",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Err(err))
	}

	err := retry.Do(ctx, cfg, func(context.Context) error {
		_, err := n.api.Send(msg)
		if err != nil && !isRetryable(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("send telegram notice: %w", err)
	}
	return nil
}

// FormatNotice renders the chat message of an event.
func FormatNotice(event shared.Event) string {
	var b strings.Builder
	if event.EventType() == shared.EventRequestExpired {
		b.WriteString("⏰ ")
	} else {
		b.WriteString("🩸 ")
	}
	b.WriteString("Blood request ")
	b.WriteString(event.AggregateID())
	b.WriteString("\n")

	if msg, ok := event.Payload()["message"].(string); ok && msg != "" {
		b.WriteString(msg)
	} else {
		b.WriteString(string(event.EventType()))
	}
	return b.String()
}

// isRetryable treats rate limits, server errors and transport failures as
// transient. Other API errors (bad chat id, blocked bot) are not.
func isRetryable(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return true
}
