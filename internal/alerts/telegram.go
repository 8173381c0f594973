package alerts

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// TelegramAlerter sends alerts via Telegram bot
type TelegramAlerter struct {
	api     *tgbotapi.BotAPI
	chatIDs []int64
}

// NewTelegramAlerter creates a new Telegram-based alerter.
// endpoint is the Bot API URL format ("https://api.telegram.org/bot%s/%s"); empty uses the public API.
func NewTelegramAlerter(botToken, endpoint string, chatIDs []int64) (*TelegramAlerter, error) {
	if botToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(botToken, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	log.Info().
		Str("bot_username", api.Self.UserName).
		Int("chat_count", len(chatIDs)).
		Msg("Telegram alerter initialized")

	return &TelegramAlerter{
		api:     api,
		chatIDs: chatIDs,
	}, nil
}

// Send sends an alert to every configured chat
func (t *TelegramAlerter) Send(ctx context.Context, alert Alert) error {
	if len(t.chatIDs) == 0 {
		log.Warn().Msg("No Telegram chat IDs configured, skipping alert")
		return nil
	}

	message := formatAlert(alert)

	var lastErr error
	successCount := 0

	for _, chatID := range t.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg := tgbotapi.NewMessage(chatID, message)
		msg.ParseMode = tgbotapi.ModeMarkdown

		if _, err := t.api.Send(msg); err != nil {
			log.Error().
				Err(err).
				Int64("chat_id", chatID).
				Str("alert_kind", string(alert.Kind)).
				Msg("Failed to send Telegram alert")
			lastErr = err
			continue
		}

		successCount++
	}

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("failed to send alert to any chat: %w", lastErr)
	}

	log.Debug().
		Int("success_count", successCount).
		Int("total_chats", len(t.chatIDs)).
		Str("alert_kind", string(alert.Kind)).
		Msg("Telegram alert sent")

	return nil
}

// ChatIDs returns the configured chat IDs
func (t *TelegramAlerter) ChatIDs() []int64 {
	return t.chatIDs
}

// formatAlert renders an alert as Telegram markdown
func formatAlert(alert Alert) string {
	var emoji string
	switch alert.Severity {
	case SeverityCritical:
		emoji = "🚨"
	case SeverityWarning:
		emoji = "⚠️"
	case SeverityInfo:
		emoji = "ℹ️"
	default:
		emoji = "📢"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s *%s*\n\n%s", emoji, escape(alert.Title), escape(alert.Message))

	sb.WriteString("\n\n*Details:*")
	for _, f := range alert.Fields() {
		fmt.Fprintf(&sb, "\n• %s: `%s`", escape(f.Name), f.Value)
	}

	fmt.Fprintf(&sb, "\n\n_Time: %s_", alert.Timestamp.Format("2006-01-02 15:04:05"))

	return sb.String()
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}
