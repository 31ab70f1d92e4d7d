package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"horse.fit/mediatrends/internal/dispatch"
)

func chat(id int64) *int64 { return &id }

func testPayload() dispatch.Payload {
	return dispatch.Payload{
		Title:        "Azerbaijan signs <new> trade deal",
		URL:          "https://news.example/a?x=1&y=2",
		SourceName:   "Example News",
		Description:  "Officials met in Baku.",
		Keyword:      "Azərbaycan",
		MatchedAlias: "Azerbaijan",
		Snippet:      "Azerbaijan signs <new> trade deal",
		Score:        1.0,
		Kind:         "text",
		Tier:         "A",
		Field:        "title",
	}
}

func TestSendPostsHTMLMessage(t *testing.T) {
	t.Parallel()

	var got sendMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer server.Close()

	err := New(server.URL, "TOKEN").Send(context.Background(), dispatch.Recipient{UserID: 5, TelegramChatID: chat(5)}, testPayload())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.ChatID != 5 || got.ParseMode != "HTML" {
		t.Fatalf("unexpected request %+v", got)
	}
	if !strings.Contains(got.Text, "Azerbaijan signs &lt;new&gt; trade deal") {
		t.Fatalf("title not escaped: %q", got.Text)
	}
}

func TestSendClassifiesFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name          string
		status        int
		body          string
		wantPermanent bool
	}{
		{name: "blocked", status: http.StatusForbidden, body: `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`, wantPermanent: true},
		{name: "chat not found", status: http.StatusBadRequest, body: `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`, wantPermanent: true},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 5"}`},
		{name: "server error", status: http.StatusBadGateway, body: `bad gateway`},
		{name: "bad token", status: http.StatusUnauthorized, body: `{"ok":false,"error_code":401,"description":"Unauthorized"}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			err := New(server.URL, "T").Send(context.Background(), dispatch.Recipient{TelegramChatID: chat(1)}, testPayload())
			if err == nil {
				t.Fatalf("expected error")
			}
			if dispatch.IsPermanent(err) != tc.wantPermanent {
				t.Fatalf("IsPermanent(%v) = %v, want %v", err, dispatch.IsPermanent(err), tc.wantPermanent)
			}
		})
	}
}

func TestSendNetworkErrorIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	err := New(server.URL, "T").Send(context.Background(), dispatch.Recipient{TelegramChatID: chat(1)}, testPayload())
	if err == nil || dispatch.IsPermanent(err) {
		t.Fatalf("err = %v, want transient", err)
	}
}

func TestSendErrorOmitsBotToken(t *testing.T) {
	t.Parallel()

	const token = "123456:SECRET-BOT-TOKEN"
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	err := New(server.URL, token).Send(context.Background(), dispatch.Recipient{TelegramChatID: chat(1)}, testPayload())
	if err == nil {
		t.Fatalf("expected error from closed server")
	}
	if strings.Contains(err.Error(), "SECRET-BOT-TOKEN") || strings.Contains(err.Error(), "/bot") {
		t.Fatalf("error leaks the bot token: %v", err)
	}
	if !strings.Contains(err.Error(), "sendMessage") {
		t.Fatalf("error lost the method name: %v", err)
	}
}

func TestSendWithoutChatID(t *testing.T) {
	t.Parallel()

	err := New("", "T").Send(context.Background(), dispatch.Recipient{Email: "a@example.com"}, testPayload())
	if !dispatch.IsPermanent(err) {
		t.Fatalf("err = %v, want permanent no-address", err)
	}
}

func TestFormatMessage(t *testing.T) {
	t.Parallel()

	msg := FormatMessage(testPayload())
	for _, want := range []string{
		"<b>Azərbaycan</b>",
		"Score: <b>100%</b>",
		"Text match (title)",
		"Source: Example News",
		`Found &#34;Azerbaijan&#34; (translation &#34;Azerbaijan&#34;) in title`,
		`<a href="https://news.example/a?x=1&amp;y=2">Read full article</a>`,
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}

	semantic := testPayload()
	semantic.Kind = "semantic"
	semantic.Score = 0.71
	semantic.Snippet = ""
	msg = FormatMessage(semantic)
	if !strings.Contains(msg, "Semantic match") || !strings.Contains(msg, "71%") || strings.Contains(msg, "Why this matched") {
		t.Fatalf("unexpected semantic message:\n%s", msg)
	}
}
