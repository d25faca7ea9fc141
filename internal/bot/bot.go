// Package bot delivers Telegram notifications and processes inbound filter
// commands.
package bot

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"crous_bot/internal/filter"
	"crous_bot/internal/model"
	"crous_bot/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

// Bot sends listing notifications to a fixed chat and processes filter
// commands arriving from the allowed chats.
type Bot struct {
	api     telegramAPI
	store   storage.Storage
	chatID  int64
	allowed map[int64]bool
	static  filter.Rules
	limiter *rate.Limiter
	log     *slog.Logger
}

// New creates a Bot with the given Telegram token. Messages are delivered
// to chatID; commands are honored from chatID plus allowedChats.
func New(token string, store storage.Storage, chatID int64, allowedChats []int64, static filter.Rules, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newWithAPI(api, store, chatID, allowedChats, static, log), nil
}

func newWithAPI(api telegramAPI, store storage.Storage, chatID int64, allowedChats []int64, static filter.Rules, log *slog.Logger) *Bot {
	allowed := make(map[int64]bool, len(allowedChats)+1)
	allowed[chatID] = true
	for _, id := range allowedChats {
		allowed[id] = true
	}
	return &Bot{
		api:     api,
		store:   store,
		chatID:  chatID,
		allowed: allowed,
		static:  static,
		// Telegram caps bots around 30 messages/second; stay well under.
		limiter: rate.NewLimiter(rate.Limit(20), 1),
		log:     log,
	}
}

// SendListing notifies the configured chat about a newly observed listing.
func (b *Bot) SendListing(ctx context.Context, l model.Listing) error {
	return b.send(ctx, b.chatID, FormatListing(l))
}

// SendText delivers a plain text message (heartbeat, error alert) to the
// configured chat.
func (b *Bot) SendText(ctx context.Context, text string) error {
	return b.send(ctx, b.chatID, text)
}

func (b *Bot) send(ctx context.Context, chatID int64, text string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.send(ctx, chatID, text); err != nil {
		b.log.Error("send reply", "chat_id", chatID, "error", err)
	}
}
