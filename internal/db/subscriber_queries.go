package db

import (
	"context"
	"fmt"
	"strings"
)

// SubscriberRecord holds the delivery addresses of one user.
type SubscriberRecord struct {
	UserID         int64   `json:"user_id"`
	DisplayName    string  `json:"display_name"`
	TelegramChatID *int64  `json:"telegram_chat_id,omitempty"`
	Email          *string `json:"email,omitempty"`
	Active         bool    `json:"active"`
}

func (p *Pool) UpsertSubscriber(ctx context.Context, sub SubscriberRecord) (SubscriberRecord, error) {
	if sub.UserID == 0 {
		return SubscriberRecord{}, fmt.Errorf("user id is required")
	}
	var email *string
	if sub.Email != nil {
		if trimmed := strings.TrimSpace(*sub.Email); trimmed != "" {
			email = &trimmed
		}
	}

	const q = `
INSERT INTO mediatrends.subscribers (user_id, display_name, telegram_chat_id, email, active)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE
SET display_name = EXCLUDED.display_name,
    telegram_chat_id = EXCLUDED.telegram_chat_id,
    email = EXCLUDED.email,
    active = EXCLUDED.active,
    updated_at = now()
RETURNING user_id, display_name, telegram_chat_id, email, active
`
	var out SubscriberRecord
	err := p.QueryRow(ctx, q, sub.UserID, strings.TrimSpace(sub.DisplayName), sub.TelegramChatID, email, sub.Active).
		Scan(&out.UserID, &out.DisplayName, &out.TelegramChatID, &out.Email, &out.Active)
	if err != nil {
		return SubscriberRecord{}, fmt.Errorf("upsert subscriber: %w", err)
	}
	return out, nil
}

// GetSubscriber returns ErrNoRows when the user never registered addresses.
func (p *Pool) GetSubscriber(ctx context.Context, userID int64) (SubscriberRecord, error) {
	const q = `
SELECT user_id, display_name, telegram_chat_id, email, active
FROM mediatrends.subscribers
WHERE user_id = $1
`
	var out SubscriberRecord
	err := p.QueryRow(ctx, q, userID).
		Scan(&out.UserID, &out.DisplayName, &out.TelegramChatID, &out.Email, &out.Active)
	if err != nil {
		if IsNoRows(err) {
			return SubscriberRecord{}, ErrNoRows
		}
		return SubscriberRecord{}, fmt.Errorf("query subscriber %d: %w", userID, err)
	}
	return out, nil
}
