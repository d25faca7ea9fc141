package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"crous_bot/internal/filter"
	"crous_bot/internal/storage"
)

// updateBatchLimit bounds one command sync to a cheap, fixed batch.
const updateBatchLimit = 25

const helpText = `Filter commands:
/showfilters — show the effective filters
/setmaxprice <price> — only alert for listings at or under this price in €
/clearmaxprice — remove the max price override
/setkeywords word1,word2,... — only alert for listings matching a keyword
/clearkeywords — remove the keyword override
/help — this message`

// SyncCommands fetches one bounded batch of pending Telegram updates and
// applies any filter commands they carry. The persisted offset advances only
// past fully processed updates; a storage failure stops the batch so the
// remaining updates are fetched again next time.
func (b *Bot) SyncCommands(ctx context.Context) error {
	raw, err := b.store.GetMeta(ctx, storage.MetaUpdateOffset)
	if err != nil {
		return fmt.Errorf("read update offset: %w", err)
	}
	offset := 0
	if raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			offset = v
		}
	}

	cfg := tgbotapi.NewUpdate(offset)
	cfg.Limit = updateBatchLimit

	updates, err := b.api.GetUpdates(cfg)
	if err != nil {
		return fmt.Errorf("get updates: %w", err)
	}

	for _, update := range updates {
		if update.Message != nil {
			b.handleMessage(ctx, update.Message)
		}
		if err := b.store.SetMeta(ctx, storage.MetaUpdateOffset, strconv.Itoa(update.UpdateID+1)); err != nil {
			return fmt.Errorf("advance update offset: %w", err)
		}
	}
	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !b.allowed[chatID] {
		b.log.Warn("ignoring message from unconfigured chat", "chat_id", chatID)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	cmd, args, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	args = strings.TrimSpace(args)

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "/showfilters":
		b.replyFilters(ctx, chatID)
	case "/setmaxprice":
		b.handleSetMaxPrice(ctx, chatID, args)
	case "/clearmaxprice":
		b.handleClearOverride(ctx, chatID, storage.MetaMaxPriceOverride)
	case "/setkeywords":
		b.handleSetKeywords(ctx, chatID, args)
	case "/clearkeywords":
		b.handleClearOverride(ctx, chatID, storage.MetaKeywordsOverride)
	case "/help":
		b.reply(ctx, chatID, helpText)
	default:
		b.reply(ctx, chatID, "Unknown command. Use /help for the available commands.")
	}
}

func (b *Bot) handleSetMaxPrice(ctx context.Context, chatID int64, args string) {
	v, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil || v <= 0 {
		b.reply(ctx, chatID, "Usage: /setmaxprice <price in €>")
		return
	}
	if err := b.store.SetMeta(ctx, storage.MetaMaxPriceOverride, strconv.Itoa(v)); err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("Failed to save max price: %v", err))
		return
	}
	b.replyFilters(ctx, chatID)
}

func (b *Bot) handleSetKeywords(ctx context.Context, chatID int64, args string) {
	keywords := filter.NormalizeKeywords(args)
	if len(keywords) == 0 {
		b.reply(ctx, chatID, "Usage: /setkeywords word1,word2,...")
		return
	}
	if err := b.store.SetMeta(ctx, storage.MetaKeywordsOverride, strings.Join(keywords, ",")); err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("Failed to save keywords: %v", err))
		return
	}
	b.replyFilters(ctx, chatID)
}

func (b *Bot) handleClearOverride(ctx context.Context, chatID int64, key string) {
	if err := b.store.SetMeta(ctx, key, ""); err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("Failed to clear override: %v", err))
		return
	}
	b.replyFilters(ctx, chatID)
}

func (b *Bot) replyFilters(ctx context.Context, chatID int64) {
	effective, err := filter.Resolve(ctx, b.store, b.static)
	if err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("Failed to read filters: %v", err))
		return
	}
	b.reply(ctx, chatID, FormatFilters(effective, b.overrides(ctx)))
}

// overrideState records which runtime overrides are currently active, for
// display purposes only.
type overrideState struct {
	maxPrice bool
	keywords bool
}

func (b *Bot) overrides(ctx context.Context) overrideState {
	mp, _ := b.store.GetMeta(ctx, storage.MetaMaxPriceOverride)
	kw, _ := b.store.GetMeta(ctx, storage.MetaKeywordsOverride)
	return overrideState{maxPrice: mp != "", keywords: kw != ""}
}
