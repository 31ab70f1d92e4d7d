package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/mediatrends/internal/cli"
	"horse.fit/mediatrends/internal/db"
)

func runSubscriber(args []string) int {
	if len(args) == 0 {
		printSubscriberUsage()
		return 2
	}

	action := strings.ToLower(strings.TrimSpace(args[0]))
	switch action {
	case "help", "-h", "--help":
		printSubscriberUsage()
		return 0
	case "show", "set":
		return runSubscriberAction(action, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subscriber action: %s\n\n", args[0])
		printSubscriberUsage()
		return 2
	}
}

func runSubscriberAction(action string, args []string) int {
	fs := flag.NewFlagSet("subscriber "+action, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	userID := fs.Int64("user", 0, "Subscriber user id")
	name := fs.String("name", "", "Display name (set)")
	chatID := fs.Int64("telegram-chat", 0, "Telegram chat id (set)")
	email := fs.String("email", "", "Email address (set)")
	inactive := fs.Bool("inactive", false, "Pause deliveries to this subscriber (set)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "--user must be a positive integer")
		return 2
	}

	var sub db.SubscriberRecord
	if action == "set" {
		var err error
		sub, err = subscriberFromFlags(*userID, *name, *chatID, *email, !*inactive)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid subscriber: %v\n", err)
			return 2
		}
	}

	rt, err := openRuntime(envLoader, "subscriber "+action, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var record db.SubscriberRecord
	if action == "set" {
		record, err = rt.pool.UpsertSubscriber(ctx, sub)
	} else {
		record, err = rt.pool.GetSubscriber(ctx, *userID)
	}
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			fmt.Fprintf(os.Stderr, "subscriber %d not found; notifications go to telegram chat %d\n", *userID, *userID)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Subscriber %s failed: %v\n", action, err)
		return 1
	}
	return emit(formatJSON, record, nil, nil)
}

func subscriberFromFlags(userID int64, name string, chatID int64, email string, active bool) (db.SubscriberRecord, error) {
	sub := db.SubscriberRecord{
		UserID:      userID,
		DisplayName: strings.TrimSpace(name),
		Active:      active,
	}
	if chatID != 0 {
		sub.TelegramChatID = &chatID
	}
	if trimmed := strings.TrimSpace(email); trimmed != "" {
		if !strings.Contains(trimmed, "@") {
			return db.SubscriberRecord{}, fmt.Errorf("email %q is not an address", trimmed)
		}
		sub.Email = &trimmed
	}
	if sub.TelegramChatID == nil && sub.Email == nil {
		return db.SubscriberRecord{}, fmt.Errorf("--telegram-chat or --email is required")
	}
	return sub, nil
}

func printSubscriberUsage() {
	fmt.Fprintln(os.Stderr, "mediatrends subscriber")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  mediatrends subscriber show --user <id>")
	fmt.Fprintln(os.Stderr, "  mediatrends subscriber set --user <id> [--telegram-chat <id>] [--email <addr>] [--name N] [--inactive]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Users without a subscriber row receive Telegram messages at chat id = user id.")
}
