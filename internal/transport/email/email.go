// Package email delivers notifications over SMTP.
package email

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/textproto"
	"strings"
	"time"

	gomail "gopkg.in/mail.v2"

	"horse.fit/mediatrends/internal/dispatch"
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Host) != "" && strings.TrimSpace(c.From) != ""
}

type mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

type Transport struct {
	from   string
	mailer mailer
}

func New(cfg Config) *Transport {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	dialer.Timeout = 10 * time.Second
	return &Transport{from: cfg.From, mailer: dialer}
}

func (t *Transport) Name() string {
	return "email"
}

// Send builds the message and dials SMTP. gomail has no context support, so
// the dial runs in a goroutine and the caller's deadline wins the race.
func (t *Transport) Send(ctx context.Context, recipient dispatch.Recipient, payload dispatch.Payload) error {
	to := strings.TrimSpace(recipient.Email)
	if to == "" {
		return dispatch.ErrNoAddress
	}

	m := gomail.NewMessage()
	m.SetHeader("From", t.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", Subject(payload))
	m.SetBody("text/plain", PlainBody(payload))
	m.AddAlternative("text/html", HTMLBody(payload))

	done := make(chan error, 1)
	go func() {
		done <- t.mailer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("smtp send to %s: %w", to, ctx.Err())
	case err := <-done:
		if err != nil {
			return classify(fmt.Errorf("smtp send to %s: %w", to, err))
		}
		return nil
	}
}

// classify treats mailbox-level rejections (550-553) as permanent. Other SMTP
// replies, including auth failures, are left transient.
func classify(err error) error {
	cause := err
	var sendErr *gomail.SendError
	if errors.As(err, &sendErr) && sendErr.Cause != nil {
		cause = sendErr.Cause
	}
	var protoErr *textproto.Error
	if errors.As(cause, &protoErr) && protoErr.Code >= 550 && protoErr.Code <= 553 {
		return dispatch.Permanent(err)
	}
	return err
}

func Subject(p dispatch.Payload) string {
	return fmt.Sprintf("[%s] %s", p.Keyword, p.Title)
}

func PlainBody(p dispatch.Payload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", p.Title)
	fmt.Fprintf(&b, "Keyword: %s\n", p.Keyword)
	fmt.Fprintf(&b, "Score: %.0f%%\n", p.Score*100)
	if p.SourceName != "" {
		fmt.Fprintf(&b, "Source: %s\n", p.SourceName)
	}
	if p.Snippet != "" {
		fmt.Fprintf(&b, "\n%s\n", p.Snippet)
	}
	fmt.Fprintf(&b, "\n%s\n", p.URL)
	return b.String()
}

func HTMLBody(p dispatch.Payload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>%s</h2>", html.EscapeString(p.Title))
	fmt.Fprintf(&b, "<p>Keyword: <b>%s</b> &middot; Score: <b>%.0f%%</b>", html.EscapeString(p.Keyword), p.Score*100)
	if p.SourceName != "" {
		fmt.Fprintf(&b, " &middot; Source: %s", html.EscapeString(p.SourceName))
	}
	b.WriteString("</p>")
	if p.Snippet != "" {
		fmt.Fprintf(&b, "<blockquote>%s</blockquote>", html.EscapeString(p.Snippet))
	}
	fmt.Fprintf(&b, `<p><a href="%s">Read full article</a></p>`, html.EscapeString(p.URL))
	return b.String()
}
