package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// Recipient is where one user's notifications go.
type Recipient struct {
	UserID         int64
	DisplayName    string
	TelegramChatID *int64
	Email          string
}

// Payload is the message content for one match.
type Payload struct {
	ArticleID    int64
	Title        string
	URL          string
	SourceName   string
	Description  string
	Keyword      string
	MatchedAlias string
	Snippet      string
	Score        float64
	Kind         string
	Tier         string
	Field        string
}

// Transport delivers a payload. A nil error means delivered; wrap failures
// with Permanent when they will never succeed.
type Transport interface {
	Name() string
	Send(ctx context.Context, recipient Recipient, payload Payload) error
}

// Fanout sends through every transport. The result is delivered when any
// transport delivers, transient when none delivered but at least one failed
// transiently, and permanent otherwise.
func Fanout(transports ...Transport) Transport {
	return fanout(transports)
}

type fanout []Transport

func (f fanout) Name() string {
	return "fanout"
}

func (f fanout) Send(ctx context.Context, recipient Recipient, payload Payload) error {
	if len(f) == 0 {
		return Permanent(errors.New("no transports configured"))
	}

	var transient, permanent []error
	delivered := false
	for _, transport := range f {
		err := transport.Send(ctx, recipient, payload)
		switch {
		case err == nil:
			delivered = true
		case IsPermanent(err):
			permanent = append(permanent, fmt.Errorf("%s: %w", transport.Name(), err))
		default:
			transient = append(transient, fmt.Errorf("%s: %w", transport.Name(), err))
		}
	}
	if delivered {
		return nil
	}
	if len(transient) > 0 {
		return errors.Join(transient...)
	}
	return errors.Join(permanent...)
}
