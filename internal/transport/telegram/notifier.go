package telegram

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	changeDomain "github.com/reshetovitsme/wikiscan/internal/modules/change/domain"
	"github.com/samber/oops"
)

// maxMessageLength is Telegram's limit for a text message, in characters
const maxMessageLength = 4096

// Notifier posts every match to a Telegram chat
type Notifier struct {
	bot    *bot.Bot
	chatID int64
}

// New creates a notifier for chatID. opts are passed to the bot client.
func New(token string, chatID int64, opts ...bot.Option) (*Notifier, error) {
	opts = append([]bot.Option{bot.WithSkipGetMe()}, opts...)
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, oops.In("telegram").With("context", "failed to create telegram bot").Wrap(err)
	}
	return &Notifier{bot: b, chatID: chatID}, nil
}

func (n *Notifier) Notify(ctx context.Context, c *changeDomain.Change, message string) error {
	text := truncate(fmt.Sprintf("%s\n%s", c.Summary(), message), maxMessageLength)

	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   text,
	})
	if err != nil {
		return oops.In("telegram").With("chat_id", n.chatID, "title", c.Title).Wrap(err)
	}
	return nil
}

// Listen registers the command handler and polls for updates until ctx is done
func (n *Notifier) Listen(ctx context.Context, h *Handler) {
	h.RegisterCommands(n.bot)
	n.bot.Start(ctx)
}

// truncate shortens text to at most limit characters without splitting one
func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-3]) + "..."
}
