package bot

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"crous_bot/internal/filter"
	"crous_bot/internal/model"
	"crous_bot/internal/storage"
)

// --- mocks ---

type sentMsg struct {
	ChatID int64
	Text   string
}

type mockAPI struct {
	mu        sync.Mutex
	sent      []sentMsg
	updates   []tgbotapi.Update
	reqOffset int
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.mu.Lock()
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Text})
		m.mu.Unlock()
	}
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqOffset = config.Offset
	var batch []tgbotapi.Update
	for _, u := range m.updates {
		if u.UpdateID >= config.Offset {
			batch = append(batch, u)
		}
	}
	return batch, nil
}

func (m *mockAPI) lastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].Text
}

func (m *mockAPI) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func commandUpdate(id int, chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: id,
		Message: &tgbotapi.Message{
			Text: text,
			Chat: &tgbotapi.Chat{ID: chatID},
		},
	}
}

// --- helpers ---

const testChatID = int64(100)

func newTestBot(t *testing.T, static filter.Rules) (*Bot, *mockAPI, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	api := &mockAPI{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := newWithAPI(api, store, testChatID, nil, static, log)
	return b, api, store
}

func syncBatch(t *testing.T, b *Bot, api *mockAPI, updates ...tgbotapi.Update) {
	t.Helper()
	api.mu.Lock()
	api.updates = updates
	api.mu.Unlock()
	if err := b.SyncCommands(context.Background()); err != nil {
		t.Fatalf("sync commands: %v", err)
	}
}

// --- tests ---

func TestSetMaxPriceThenShowFilters(t *testing.T) {
	b, api, _ := newTestBot(t, filter.Rules{})

	syncBatch(t, b, api,
		commandUpdate(1, testChatID, "/setmaxprice 500"),
		commandUpdate(2, testChatID, "/showfilters"),
	)

	reply := api.lastText()
	if !strings.Contains(reply, "Max price: <= 500 €") {
		t.Errorf("expected max price in reply, got:\n%s", reply)
	}
	if !strings.Contains(reply, "(override)") {
		t.Errorf("expected override marker, got:\n%s", reply)
	}
}

func TestClearMaxPriceRevertsToStatic(t *testing.T) {
	b, api, _ := newTestBot(t, filter.Rules{MaxPriceEUR: 600})

	syncBatch(t, b, api,
		commandUpdate(1, testChatID, "/setmaxprice 500"),
		commandUpdate(2, testChatID, "/clearmaxprice"),
	)

	reply := api.lastText()
	if !strings.Contains(reply, "Max price: <= 600 €") {
		t.Errorf("expected static max price after clear, got:\n%s", reply)
	}
	if strings.Contains(reply, "(override)") {
		t.Errorf("override marker should be gone after clear, got:\n%s", reply)
	}
}

func TestClearMaxPriceWithoutStaticShowsNone(t *testing.T) {
	b, api, _ := newTestBot(t, filter.Rules{})

	syncBatch(t, b, api,
		commandUpdate(1, testChatID, "/setmaxprice 500"),
		commandUpdate(2, testChatID, "/clearmaxprice"),
	)

	if reply := api.lastText(); !strings.Contains(reply, "Max price: none") {
		t.Errorf("expected none after clearing with no static value, got:\n%s", reply)
	}
}

func TestSetAndClearKeywords(t *testing.T) {
	b, api, _ := newTestBot(t, filter.Rules{Keywords: []string{"studio"}})

	syncBatch(t, b, api, commandUpdate(1, testChatID, "/setkeywords T1, Lyon ,t1"))
	if reply := api.lastText(); !strings.Contains(reply, "Keywords: t1, lyon") {
		t.Errorf("expected normalized override keywords, got:\n%s", reply)
	}

	syncBatch(t, b, api, commandUpdate(2, testChatID, "/clearkeywords"))
	if reply := api.lastText(); !strings.Contains(reply, "Keywords: studio") {
		t.Errorf("expected static keywords after clear, got:\n%s", reply)
	}
}

func TestSetMaxPriceRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		args string
	}{
		{name: "missing argument", args: "/setmaxprice"},
		{name: "not a number", args: "/setmaxprice cheap"},
		{name: "negative", args: "/setmaxprice -5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, api, store := newTestBot(t, filter.Rules{})
			syncBatch(t, b, api, commandUpdate(1, testChatID, tt.args))

			if reply := api.lastText(); !strings.Contains(reply, "Usage: /setmaxprice") {
				t.Errorf("expected usage reply, got:\n%s", reply)
			}
			if v, _ := store.GetMeta(context.Background(), storage.MetaMaxPriceOverride); v != "" {
				t.Errorf("no override should be stored, got %q", v)
			}
		})
	}
}

func TestUnknownCommand(t *testing.T) {
	b, api, _ := newTestBot(t, filter.Rules{})

	syncBatch(t, b, api, commandUpdate(1, testChatID, "/frobnicate"))

	if reply := api.lastText(); !strings.Contains(reply, "Unknown command") {
		t.Errorf("expected unknown-command reply, got:\n%s", reply)
	}
}

func TestHelpCommand(t *testing.T) {
	b, api, _ := newTestBot(t, filter.Rules{})

	syncBatch(t, b, api, commandUpdate(1, testChatID, "/help"))

	if reply := api.lastText(); !strings.Contains(reply, "/setmaxprice") {
		t.Errorf("expected command reference, got:\n%s", reply)
	}
}

func TestPlainTextIgnored(t *testing.T) {
	b, api, _ := newTestBot(t, filter.Rules{})

	syncBatch(t, b, api, commandUpdate(1, testChatID, "bonjour"))

	if n := api.sentCount(); n != 0 {
		t.Errorf("plain text should not produce a reply, got %d messages", n)
	}
}

func TestDisallowedChatIgnoredButOffsetAdvances(t *testing.T) {
	b, api, store := newTestBot(t, filter.Rules{})

	syncBatch(t, b, api, commandUpdate(7, 999, "/setmaxprice 100"))

	if n := api.sentCount(); n != 0 {
		t.Errorf("unconfigured chat should get no reply, got %d messages", n)
	}
	if v, _ := store.GetMeta(context.Background(), storage.MetaMaxPriceOverride); v != "" {
		t.Errorf("unconfigured chat must not mutate filters, got override %q", v)
	}

	offset, err := store.GetMeta(context.Background(), storage.MetaUpdateOffset)
	if err != nil {
		t.Fatalf("get offset: %v", err)
	}
	if diff := cmp.Diff("8", offset); diff != "" {
		t.Errorf("offset mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncUsesPersistedOffset(t *testing.T) {
	b, api, _ := newTestBot(t, filter.Rules{})

	syncBatch(t, b, api,
		commandUpdate(3, testChatID, "/help"),
		commandUpdate(4, testChatID, "/help"),
	)

	// A second sync must ask Telegram for updates after the last one seen.
	syncBatch(t, b, api)
	if api.reqOffset != 5 {
		t.Errorf("requested offset = %d, want 5", api.reqOffset)
	}
}

func TestCommandWithBotMention(t *testing.T) {
	b, api, _ := newTestBot(t, filter.Rules{})

	syncBatch(t, b, api, commandUpdate(1, testChatID, "/showfilters@crous_bot"))

	if reply := api.lastText(); !strings.Contains(reply, "Current filters:") {
		t.Errorf("expected filter summary, got:\n%s", reply)
	}
}

func TestFormatListing(t *testing.T) {
	tests := []struct {
		name    string
		listing model.Listing
		want    string
	}{
		{
			name: "all fields",
			listing: model.Listing{
				Title:     "Studio 18m²",
				URL:       "https://site/r/42",
				PriceEUR:  model.Price(420),
				City:      "Lyon",
				Residence: "Les Capucins",
			},
			want: "🏠 Nouveau logement CROUS détecté\n\n" +
				"Titre: Studio 18m²\nPrix: 420 €\nVille: Lyon\nRésidence: Les Capucins\n\n" +
				"Voir: https://site/r/42",
		},
		{
			name:    "minimal fields",
			listing: model.Listing{Title: "Chambre", URL: "https://site/r/1"},
			want:    "🏠 Nouveau logement CROUS détecté\n\nTitre: Chambre\n\nVoir: https://site/r/1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FormatListing(tt.listing)); diff != "" {
				t.Errorf("FormatListing mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
