package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/mediatrends/internal/db"
)

// fakeBotAPI serves queued getUpdates batches and records sendMessage calls.
type fakeBotAPI struct {
	mu        sync.Mutex
	batches   [][]update
	failFirst bool
	offsets   []int64
	replies   []sendMessageRequest
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/getUpdates"):
		var req getUpdatesRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		f.offsets = append(f.offsets, req.Offset)
		if f.failFirst {
			f.failFirst = false
			f.mu.Unlock()
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var batch []update
		if len(f.batches) > 0 {
			batch, f.batches = f.batches[0], f.batches[1:]
		}
		f.mu.Unlock()

		if len(batch) == 0 {
			select {
			case <-r.Context().Done():
			case <-time.After(20 * time.Millisecond):
			}
		}
		result, _ := json.Marshal(batch)
		_ = json.NewEncoder(w).Encode(apiResponse{OK: true, Result: result})
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		var req sendMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.replies = append(f.replies, req)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeBotAPI) waitReplies(t *testing.T, n int) []sendMessageRequest {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.replies) >= n {
			out := append([]sendMessageRequest(nil), f.replies...)
			f.mu.Unlock()
			return out
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d replies", n)
	return nil
}

type memoryKeywords struct {
	mu      sync.Mutex
	nextID  int64
	records []db.KeywordRecord
	removed []int64
}

func (m *memoryKeywords) Add(_ context.Context, userID int64, canonical string) (db.KeywordRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, record := range m.records {
		if record.UserID == userID && strings.EqualFold(record.Canonical, canonical) {
			m.records[i].Active = true
			return m.records[i], false, nil
		}
	}
	m.nextID++
	record := db.KeywordRecord{KeywordID: m.nextID, UserID: userID, Canonical: canonical, Aliases: []string{canonical, "Baku"}, Active: true}
	m.records = append(m.records, record)
	return record, true, nil
}

func (m *memoryKeywords) Remove(_ context.Context, keywordID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].KeywordID == keywordID {
			m.records[i].Active = false
		}
	}
	m.removed = append(m.removed, keywordID)
	return nil
}

func (m *memoryKeywords) List(_ context.Context, userID int64) ([]db.KeywordRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.KeywordRecord
	for _, record := range m.records {
		if record.UserID == userID {
			out = append(out, record)
		}
	}
	return out, nil
}

type memoryBotStore struct {
	mu          sync.Mutex
	subscribers map[int64]db.SubscriberRecord
	deliveries  []db.DeliveryRecord
}

func (s *memoryBotStore) GetSubscriber(_ context.Context, userID int64) (db.SubscriberRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscribers[userID]
	if !ok {
		return db.SubscriberRecord{}, db.ErrNoRows
	}
	return sub, nil
}

func (s *memoryBotStore) UpsertSubscriber(_ context.Context, sub db.SubscriberRecord) (db.SubscriberRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[sub.UserID] = sub
	return sub, nil
}

func (s *memoryBotStore) ListRecentDeliveries(_ context.Context, userID int64, _ time.Time, limit int) ([]db.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.deliveries) > limit {
		return s.deliveries[:limit], nil
	}
	return s.deliveries, nil
}

func textMessage(updateID, userID int64, text string) update {
	return update{UpdateID: updateID, Message: &message{
		From: &user{ID: userID, FirstName: "Aysel"},
		Chat: chat{ID: userID, Type: "private", FirstName: "Aysel"},
		Text: text,
	}}
}

func runBot(t *testing.T, api *fakeBotAPI, keywords Keywords, store BotStore) {
	t.Helper()
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	bot := NewBot(New(server.URL, "TOKEN"), keywords, store, BotOptions{
		PollTimeout:  time.Second,
		RetryDelay:   10 * time.Millisecond,
		HandlerLimit: 1,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("bot did not stop after cancel")
		}
	})
}

func TestBotHandlesSubscriberCommands(t *testing.T) {
	t.Parallel()

	email := "aysel@example.com"
	store := &memoryBotStore{
		subscribers: map[int64]db.SubscriberRecord{42: {UserID: 42, Email: &email, Active: false}},
		deliveries: []db.DeliveryRecord{{
			ArticleID: 9, Title: "Baku <hosts> forum", URL: "https://news.example/9", Keyword: "Bakı", Score: 0.95,
		}},
	}
	keywords := &memoryKeywords{}
	api := &fakeBotAPI{batches: [][]update{{
		textMessage(100, 42, "/start"),
		textMessage(101, 42, "/add_keyword@MediaTrendsBot Bakı"),
		textMessage(102, 42, "/add_keyword bakı"),
		textMessage(103, 42, "/my_keywords"),
		textMessage(104, 42, "/latest_news"),
		textMessage(105, 42, "/remove_keyword bakı"),
		textMessage(106, 42, "/remove_keyword Gəncə"),
		textMessage(107, 42, "/add_keyword"),
		textMessage(108, 42, "/weather"),
		textMessage(109, 42, "just chatting"),
	}}}
	runBot(t, api, keywords, store)

	replies := api.waitReplies(t, 9)
	want := []string{
		"Welcome to Media Trends Bot, Aysel!",
		"Keyword Added!",
		"already in your tracking list",
		"1. Bakı (🌐 2 langs)",
		`<a href="https://news.example/9">Baku &lt;hosts&gt; forum</a>`,
		"Keyword Removed!",
		"Keyword <b>Gəncə</b> not found",
		"Please provide a keyword",
		"Unknown command",
	}
	for i, fragment := range want {
		if replies[i].ChatID != 42 || !strings.Contains(replies[i].Text, fragment) {
			t.Fatalf("reply %d = %q (chat %d), want it to contain %q", i, replies[i].Text, replies[i].ChatID, fragment)
		}
	}

	sub, err := store.GetSubscriber(context.Background(), 42)
	if err != nil || sub.TelegramChatID == nil || *sub.TelegramChatID != 42 || !sub.Active {
		t.Fatalf("subscriber after /start = %+v, %v", sub, err)
	}
	if sub.Email == nil || *sub.Email != email || sub.DisplayName != "Aysel" {
		t.Fatalf("/start dropped stored fields: %+v", sub)
	}
	if len(keywords.removed) != 1 || keywords.removed[0] != 1 {
		t.Fatalf("removed keywords = %v", keywords.removed)
	}
}

func TestBotRetriesFailedPollAndAdvancesOffset(t *testing.T) {
	t.Parallel()

	api := &fakeBotAPI{
		failFirst: true,
		batches:   [][]update{{textMessage(7, 5, "/help")}},
	}
	runBot(t, api, &memoryKeywords{}, &memoryBotStore{subscribers: map[int64]db.SubscriberRecord{}})

	replies := api.waitReplies(t, 1)
	if !strings.Contains(replies[0].Text, "Help Guide") || !replies[0].DisableWebPagePreview {
		t.Fatalf("help reply = %+v", replies[0])
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		api.mu.Lock()
		offsets := append([]int64(nil), api.offsets...)
		api.mu.Unlock()
		if len(offsets) >= 3 {
			if offsets[0] != 0 || offsets[1] != 0 || offsets[len(offsets)-1] != 8 {
				t.Fatalf("offsets = %v, want retry at 0 then 8", offsets)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("bot did not keep polling after the failed call")
}

func TestBotRunRequiresToken(t *testing.T) {
	t.Parallel()

	bot := NewBot(New("", ""), &memoryKeywords{}, &memoryBotStore{}, BotOptions{}, zerolog.Nop())
	if err := bot.Run(context.Background()); err == nil {
		t.Fatalf("expected error without a bot token")
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, command, arg string
	}{
		{"/start", "start", ""},
		{"  /Add_Keyword   Baku city ", "add_keyword", "Baku city"},
		{"/add_keyword@MediaTrendsBot Şəki", "add_keyword", "Şəki"},
		{"/add_keyword\nneft qiyməti", "add_keyword", "neft qiyməti"},
		{"hello /start", "", ""},
		{"", "", ""},
	}
	for _, tc := range cases {
		command, arg := parseCommand(tc.in)
		if command != tc.command || arg != tc.arg {
			t.Fatalf("parseCommand(%q) = %q, %q; want %q, %q", tc.in, command, arg, tc.command, tc.arg)
		}
	}
}

func TestLatestNewsMessageEmpty(t *testing.T) {
	t.Parallel()

	if msg := latestNewsMessage(nil); !strings.Contains(msg, "No articles matched") {
		t.Fatalf("empty latest news = %q", msg)
	}
	msg := latestNewsMessage([]db.DeliveryRecord{{Title: "A", URL: "https://x", Score: 1}})
	if !strings.Contains(msg, "📊 100%") || !strings.Contains(msg, fmt.Sprintf("Showing %d", 1)) {
		t.Fatalf("latest news = %q", msg)
	}
}
