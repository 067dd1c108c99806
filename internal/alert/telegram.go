package alert

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram delivers alerts to one chat via the Bot API, Markdown-formatted
// with a severity emoji.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram authenticates against the Bot API. Fails fast on a bad token
// so misconfiguration surfaces at startup, not at the first alert.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Telegram{api: api, chatID: chatID}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, msg AlertMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := tgbotapi.NewMessage(t.chatID, renderMarkdown(msg))
	m.ParseMode = "Markdown"
	if _, err := t.api.Send(m); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// renderMarkdown lays the alert out as emoji + bold title, the body, then
// fields as `key`: value lines in stable (sorted) order.
func renderMarkdown(msg AlertMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*", severityEmoji(msg.Severity), msg.Title)
	if msg.Body != "" {
		b.WriteString("\n\n")
		b.WriteString(msg.Body)
	}
	if len(msg.Fields) > 0 {
		b.WriteString("\n")
		keys := make([]string, 0, len(msg.Fields))
		for k := range msg.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n`%s`: %s", k, msg.Fields[k])
		}
	}
	return b.String()
}

func severityEmoji(s Severity) string {
	switch s {
	case SeverityCritical:
		return "🚨"
	case SeverityWarning:
		return "⚠️"
	case SeverityInfo:
		return "ℹ️"
	default:
		return "🔍"
	}
}
