package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"horse.fit/mediatrends/internal/db"
)

// RecipientResolver looks up delivery addresses for a user.
type RecipientResolver interface {
	Recipient(ctx context.Context, userID int64) (Recipient, error)
}

type SubscriberStore interface {
	GetSubscriber(ctx context.Context, userID int64) (db.SubscriberRecord, error)
}

// StoreResolver reads the subscribers table. Users without a row are Telegram
// users whose chat id equals their user id.
type StoreResolver struct {
	store SubscriberStore
}

func NewStoreResolver(store SubscriberStore) *StoreResolver {
	return &StoreResolver{store: store}
}

func (r *StoreResolver) Recipient(ctx context.Context, userID int64) (Recipient, error) {
	sub, err := r.store.GetSubscriber(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			chatID := userID
			return Recipient{UserID: userID, TelegramChatID: &chatID}, nil
		}
		return Recipient{}, fmt.Errorf("resolve recipient %d: %w", userID, err)
	}
	if !sub.Active {
		return Recipient{}, Permanent(fmt.Errorf("subscriber %d is inactive", userID))
	}

	recipient := Recipient{
		UserID:         sub.UserID,
		DisplayName:    sub.DisplayName,
		TelegramChatID: sub.TelegramChatID,
	}
	if sub.Email != nil {
		recipient.Email = strings.TrimSpace(*sub.Email)
	}
	if recipient.TelegramChatID == nil && recipient.Email == "" {
		return Recipient{}, Permanent(fmt.Errorf("subscriber %d has no delivery address", userID))
	}
	return recipient, nil
}
