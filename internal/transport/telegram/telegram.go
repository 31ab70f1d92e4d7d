// Package telegram delivers notifications through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"horse.fit/mediatrends/internal/dispatch"
)

const DefaultAPIBase = "https://api.telegram.org"

// Transport posts HTML messages with sendMessage. Request deadlines come from
// the caller's context.
type Transport struct {
	apiBase  string
	botToken string
	client   *http.Client
}

func New(apiBase, botToken string) *Transport {
	apiBase = strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &Transport{
		apiBase:  apiBase,
		botToken: strings.TrimSpace(botToken),
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *Transport) Name() string {
	return "telegram"
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (t *Transport) Send(ctx context.Context, recipient dispatch.Recipient, payload dispatch.Payload) error {
	if recipient.TelegramChatID == nil {
		return dispatch.ErrNoAddress
	}
	return t.sendText(ctx, *recipient.TelegramChatID, FormatMessage(payload), true)
}

func (t *Transport) sendText(ctx context.Context, chatID int64, text string, preview bool) error {
	return t.call(ctx, t.client, "sendMessage", sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: !preview,
	}, nil)
}

// call posts one Bot API method and decodes its result into out when out is
// not nil. Failures come back classified for the dispatcher.
func (t *Transport) call(ctx context.Context, client *http.Client, method string, request, out any) error {
	if t.botToken == "" {
		return fmt.Errorf("telegram bot token is not configured")
	}

	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshal telegram %s: %w", method, err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", t.apiBase, t.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", redactURLError(method, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", redactURLError(method, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read telegram response: %w", err)
	}
	var parsed apiResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode != http.StatusOK || !parsed.OK {
		return classify(resp.StatusCode, parsed.Description)
	}
	if out != nil {
		if err := json.Unmarshal(parsed.Result, out); err != nil {
			return fmt.Errorf("decode telegram %s result: %w", method, err)
		}
	}
	return nil
}

// redactURLError strips the request URL, which embeds the bot token, from a
// transport error. The wrapped cause is kept so timeouts still classify.
func redactURLError(method string, err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	return fmt.Errorf("%s %s: %w", uerr.Op, method, uerr.Err)
}

// classify maps Bot API failures onto the dispatch taxonomy. A blocked bot,
// a missing chat or a rejected request will not improve with retries; rate
// limits, server errors and auth problems (usually a config fix away) will.
func classify(status int, description string) error {
	description = strings.TrimSpace(description)
	if description == "" {
		description = http.StatusText(status)
	}
	err := fmt.Errorf("telegram status %d: %s", status, description)
	switch {
	case status == http.StatusForbidden:
		return dispatch.Permanent(err)
	case status == http.StatusBadRequest:
		return dispatch.Permanent(err)
	default:
		return err
	}
}
