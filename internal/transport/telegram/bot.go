package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/mediatrends/internal/db"
	"horse.fit/mediatrends/internal/globaltime"
	"horse.fit/mediatrends/internal/keyword"
	"horse.fit/mediatrends/internal/logging"
)

const (
	defaultPollTimeout    = 30 * time.Second
	defaultRetryDelay     = 5 * time.Second
	defaultCommandTimeout = 5 * time.Minute
	defaultHandlerLimit   = 4

	latestWindow = 24 * time.Hour
	latestLimit  = 10
)

// Keywords is the keyword lifecycle the bot drives. keyword.Service
// implements it.
type Keywords interface {
	Add(ctx context.Context, userID int64, canonical string) (db.KeywordRecord, bool, error)
	Remove(ctx context.Context, keywordID int64) error
	List(ctx context.Context, userID int64) ([]db.KeywordRecord, error)
}

// BotStore is the storage the bot reads and writes directly. db.Pool
// implements it.
type BotStore interface {
	GetSubscriber(ctx context.Context, userID int64) (db.SubscriberRecord, error)
	UpsertSubscriber(ctx context.Context, sub db.SubscriberRecord) (db.SubscriberRecord, error)
	ListRecentDeliveries(ctx context.Context, userID int64, since time.Time, limit int) ([]db.DeliveryRecord, error)
}

type BotOptions struct {
	// PollTimeout is the long-poll wait passed to getUpdates.
	PollTimeout time.Duration
	// RetryDelay is the pause after a failed getUpdates call.
	RetryDelay time.Duration
	// CommandTimeout bounds one command, including the immediate match a
	// new keyword triggers.
	CommandTimeout time.Duration
	// HandlerLimit caps commands handled concurrently.
	HandlerLimit int
}

// Bot long-polls getUpdates and answers subscriber commands: /start, /help,
// /add_keyword, /remove_keyword, /my_keywords and /latest_news.
type Bot struct {
	transport *Transport
	client    *http.Client
	keywords  Keywords
	store     BotStore
	opts      BotOptions
	logger    zerolog.Logger
}

func NewBot(transport *Transport, keywords Keywords, store BotStore, opts BotOptions, logger zerolog.Logger) *Bot {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultPollTimeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	if opts.HandlerLimit <= 0 {
		opts.HandlerLimit = defaultHandlerLimit
	}
	return &Bot{
		transport: transport,
		// The long poll holds the request open for PollTimeout.
		client:   &http.Client{Timeout: opts.PollTimeout + 10*time.Second},
		keywords: keywords,
		store:    store,
		opts:     opts,
		logger:   logging.Component(logger, "telegram_bot"),
	}
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

type update struct {
	UpdateID int64    `json:"update_id"`
	Message  *message `json:"message"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	From      *user  `json:"from"`
	Chat      chat   `json:"chat"`
	Text      string `json:"text"`
}

type user struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

type chat struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	FirstName string `json:"first_name"`
}

// Run polls until ctx is cancelled, then waits for commands in flight.
func (b *Bot) Run(ctx context.Context) error {
	if b.transport == nil || b.transport.botToken == "" {
		return fmt.Errorf("telegram bot token is not configured")
	}
	b.logger.Info().Dur("poll_timeout", b.opts.PollTimeout).Msg("telegram bot polling started")

	g := new(errgroup.Group)
	g.SetLimit(b.opts.HandlerLimit)
	defer func() { _ = g.Wait() }()

	var offset int64
	for {
		if ctx.Err() != nil {
			b.logger.Info().Msg("telegram bot polling stopped")
			return ctx.Err()
		}

		updates, err := b.poll(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			b.logger.Warn().Err(err).Dur("retry_in", b.opts.RetryDelay).Msg("getUpdates failed")
			select {
			case <-ctx.Done():
			case <-time.After(b.opts.RetryDelay):
			}
			continue
		}

		for _, u := range updates {
			offset = max(offset, u.UpdateID+1)
			if u.Message == nil {
				continue
			}
			msg := *u.Message
			g.Go(func() error {
				cmdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.opts.CommandTimeout)
				defer cancel()
				b.handle(cmdCtx, msg)
				return nil
			})
		}
	}
}

func (b *Bot) poll(ctx context.Context, offset int64) ([]update, error) {
	var updates []update
	err := b.transport.call(ctx, b.client, "getUpdates", getUpdatesRequest{
		Offset:         offset,
		Timeout:        int(b.opts.PollTimeout / time.Second),
		AllowedUpdates: []string{"message"},
	}, &updates)
	return updates, err
}

// handle answers one message. Failures are reported to the user and logged;
// they never stop the polling loop.
func (b *Bot) handle(ctx context.Context, msg message) {
	command, arg := parseCommand(msg.Text)
	if command == "" {
		return
	}
	userID := msg.Chat.ID
	if msg.From != nil && msg.From.ID != 0 {
		userID = msg.From.ID
	}
	log := b.logger.With().
		Str("command", command).
		Int64("user_id", userID).
		Int64("chat_id", msg.Chat.ID).
		Logger()

	var (
		reply string
		err   error
	)
	switch command {
	case "start":
		reply, err = b.start(ctx, userID, msg)
	case "help":
		reply = helpMessage()
	case "add_keyword", "add":
		reply, err = b.addKeyword(ctx, userID, arg)
	case "remove_keyword", "remove":
		reply, err = b.removeKeyword(ctx, userID, arg)
	case "my_keywords", "list":
		reply, err = b.listKeywords(ctx, userID)
	case "latest_news", "latest":
		reply, err = b.latestNews(ctx, userID)
	default:
		reply = "❓ Unknown command. Use /help to see available commands."
	}
	if err != nil {
		log.Error().Err(err).Msg("bot command failed")
		reply = "❌ Something went wrong. Please try again."
	} else {
		log.Debug().Msg("bot command handled")
	}

	if err := b.transport.sendText(ctx, msg.Chat.ID, reply, false); err != nil {
		log.Warn().Err(err).Msg("bot reply not delivered")
	}
}

// start registers the chat as the user's Telegram address. An email address
// set through the CLI or API is kept.
func (b *Bot) start(ctx context.Context, userID int64, msg message) (string, error) {
	name := msg.Chat.FirstName
	if msg.From != nil && msg.From.FirstName != "" {
		name = msg.From.FirstName
	}

	sub, err := b.store.GetSubscriber(ctx, userID)
	if err != nil && !errors.Is(err, db.ErrNoRows) {
		return "", err
	}
	chatID := msg.Chat.ID
	sub.UserID = userID
	sub.TelegramChatID = &chatID
	sub.Active = true
	if strings.TrimSpace(sub.DisplayName) == "" {
		sub.DisplayName = name
	}
	if _, err := b.store.UpsertSubscriber(ctx, sub); err != nil {
		return "", err
	}
	return welcomeMessage(name), nil
}

func (b *Bot) addKeyword(ctx context.Context, userID int64, text string) (string, error) {
	if keyword.Clean(text) == "" {
		return usageMessage("add_keyword", "Şəki", "climate change", "neft qiyməti"), nil
	}
	record, created, err := b.keywords.Add(ctx, userID, text)
	if err != nil {
		if errors.Is(err, keyword.ErrEmptyKeyword) {
			return usageMessage("add_keyword", "Şəki"), nil
		}
		return "", err
	}
	if !created {
		return fmt.Sprintf("ℹ️ Keyword <b>%s</b> is already in your tracking list.", escape(record.Canonical)), nil
	}
	return keywordAddedMessage(record), nil
}

func (b *Bot) removeKeyword(ctx context.Context, userID int64, text string) (string, error) {
	wanted := keyword.Clean(text)
	if wanted == "" {
		return usageMessage("remove_keyword", "Şəki"), nil
	}
	records, err := b.keywords.List(ctx, userID)
	if err != nil {
		return "", err
	}
	for _, record := range records {
		if !record.Active || !strings.EqualFold(record.Canonical, wanted) {
			continue
		}
		if err := b.keywords.Remove(ctx, record.KeywordID); err != nil {
			return "", err
		}
		return fmt.Sprintf("✅ <b>Keyword Removed!</b>\n\nRemoved: <b>%s</b>\n\n<i>Remaining keywords: %d</i>",
			escape(record.Canonical), countActive(records)-1), nil
	}
	return fmt.Sprintf("❌ Keyword <b>%s</b> not found.\n\nUse /my_keywords to see your current keywords.", escape(wanted)), nil
}

func (b *Bot) listKeywords(ctx context.Context, userID int64) (string, error) {
	records, err := b.keywords.List(ctx, userID)
	if err != nil {
		return "", err
	}
	return keywordListMessage(records), nil
}

func (b *Bot) latestNews(ctx context.Context, userID int64) (string, error) {
	deliveries, err := b.store.ListRecentDeliveries(ctx, userID, globaltime.Cutoff(latestWindow), latestLimit)
	if err != nil {
		return "", err
	}
	return latestNewsMessage(deliveries), nil
}

// parseCommand splits "/add_keyword@SomeBot Baku city" into "add_keyword" and
// "Baku city". Text that is not a command yields an empty command.
func parseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	head, arg, _ := strings.Cut(text, " ")
	if i := strings.IndexAny(head, "\n\t"); i >= 0 {
		arg = head[i+1:] + " " + arg
		head = head[:i]
	}
	head, _, _ = strings.Cut(strings.TrimPrefix(head, "/"), "@")
	return strings.ToLower(head), strings.TrimSpace(arg)
}

func countActive(records []db.KeywordRecord) int {
	n := 0
	for _, record := range records {
		if record.Active {
			n++
		}
	}
	return n
}
