package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	flagDomain "github.com/reshetovitsme/wikiscan/internal/modules/flag/domain"
	pipelineService "github.com/reshetovitsme/wikiscan/internal/modules/pipeline/service"
	"github.com/samber/lo"
)

const recentLimit = 5

// StatusSource reports the pipeline's progress
type StatusSource interface {
	State() pipelineService.State
	Stats() (processed, matches int64)
}

// FlagReader gives read access to the flagged changes log
type FlagReader interface {
	Read() ([]flagDomain.Entry, error)
}

// Handler answers operator commands in the notification chat
type Handler struct {
	chatID int64
	filter string
	status StatusSource
	flags  FlagReader
}

// NewHandler creates a command handler. Commands from any chat other than
// chatID are ignored.
func NewHandler(chatID int64, filter string, status StatusSource, flags FlagReader) *Handler {
	return &Handler{
		chatID: chatID,
		filter: filter,
		status: status,
		flags:  flags,
	}
}

// RegisterCommands registers bot commands
func (h *Handler) RegisterCommands(b *bot.Bot) {
	b.RegisterHandler(bot.HandlerTypeMessageText, "/status", bot.MatchTypeExact, h.handleStatus)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/recent", bot.MatchTypeExact, h.handleRecent)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypeExact, h.handleHelp)
}

func (h *Handler) authorized(update *models.Update) bool {
	return update.Message != nil && update.Message.Chat.ID == h.chatID
}

func (h *Handler) handleStatus(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !h.authorized(update) {
		return
	}
	h.reply(ctx, b, h.StatusText())
}

func (h *Handler) handleRecent(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !h.authorized(update) {
		return
	}
	text, err := h.RecentText()
	if err != nil {
		slog.Error("Failed to read flagged changes", "error", err)
		text = fmt.Sprintf("❌ Failed to read flagged changes: %v", err)
	}
	h.reply(ctx, b, text)
}

func (h *Handler) handleHelp(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !h.authorized(update) {
		return
	}
	h.reply(ctx, b, "/status - Show scanner status\n/recent - Show the most recently flagged changes")
}

// StatusText renders the /status reply
func (h *Handler) StatusText() string {
	processed, matches := h.status.Stats()
	return fmt.Sprintf("📊 Scanner status\n\nFilter: %s\nState: %s\nProcessed: %d\nMatches: %d",
		h.filter, h.status.State(), processed, matches)
}

// RecentText renders the /recent reply
func (h *Handler) RecentText() (string, error) {
	entries, err := h.flags.Read()
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "No flagged changes yet.", nil
	}

	recent := lo.Reverse(lo.Subset(entries, -recentLimit, recentLimit))
	lines := lo.Map(recent, func(e flagDomain.Entry, _ int) string {
		return fmt.Sprintf("• [%s] %s\n  %s", e.Filter, e.Change.Summary(), e.Change.Meta.URI)
	})
	return "🚩 Recently flagged\n\n" + strings.Join(lines, "\n"), nil
}

func (h *Handler) reply(ctx context.Context, b *bot.Bot, text string) {
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: h.chatID,
		Text:   text,
	}); err != nil {
		slog.Error("Failed to send reply", "chat_id", h.chatID, "error", err)
	}
}
