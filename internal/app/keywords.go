package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"horse.fit/mediatrends/internal/cli"
	"horse.fit/mediatrends/internal/db"
	"horse.fit/mediatrends/internal/keyword"
)

func runKeyword(args []string) int {
	if len(args) == 0 {
		printKeywordUsage()
		return 2
	}

	action := strings.ToLower(strings.TrimSpace(args[0]))
	switch action {
	case "help", "-h", "--help":
		printKeywordUsage()
		return 0
	case "add", "list", "refresh", "remove":
		return runKeywordAction(action, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown keyword action: %s\n\n", args[0])
		printKeywordUsage()
		return 2
	}
}

func runKeywordAction(action string, args []string) int {
	fs := flag.NewFlagSet("keyword "+action, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 3*time.Minute, "Command timeout")
	userID := fs.Int64("user", 0, "Subscriber user id (add, list)")
	format := fs.String("format", string(formatTable), formatUsage)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	out, err := parseOutputFormat(*format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	var (
		canonical string
		keywordID int64
	)
	switch action {
	case "add":
		canonical = strings.TrimSpace(strings.Join(fs.Args(), " "))
		if *userID <= 0 || canonical == "" {
			fmt.Fprintln(os.Stderr, "usage: mediatrends keyword add --user <id> <keyword>")
			return 2
		}
	case "list":
		if *userID <= 0 || fs.NArg() != 0 {
			fmt.Fprintln(os.Stderr, "usage: mediatrends keyword list --user <id>")
			return 2
		}
	default:
		if fs.NArg() != 1 {
			fmt.Fprintf(os.Stderr, "usage: mediatrends keyword %s <keyword-id>\n", action)
			return 2
		}
		keywordID, err = strconv.ParseInt(strings.TrimSpace(fs.Arg(0)), 10, 64)
		if err != nil || keywordID <= 0 {
			fmt.Fprintln(os.Stderr, "keyword id must be a positive integer")
			return 2
		}
	}

	return withServices(envLoader, "keyword "+action, *timeout, func(ctx context.Context, rt *runtimeEnv, svc *services) int {
		var records []db.KeywordRecord
		switch action {
		case "add":
			record, created, err := svc.keywords.Add(ctx, *userID, canonical)
			if err != nil {
				return keywordFailure(action, err)
			}
			if created {
				fmt.Fprintf(os.Stderr, "created keyword %d\n", record.KeywordID)
			} else {
				fmt.Fprintf(os.Stderr, "keyword %d already existed; reactivated\n", record.KeywordID)
			}
			records = []db.KeywordRecord{record}
		case "list":
			records, err = svc.keywords.List(ctx, *userID)
			if err != nil {
				return keywordFailure(action, err)
			}
		case "refresh":
			record, err := svc.keywords.Refresh(ctx, keywordID)
			if err != nil {
				return keywordFailure(action, err)
			}
			records = []db.KeywordRecord{record}
		case "remove":
			if err := svc.keywords.Remove(ctx, keywordID); err != nil {
				return keywordFailure(action, err)
			}
			fmt.Printf("keyword %d deactivated\n", keywordID)
			return 0
		}

		return emit(out, records, []string{"id", "user", "keyword", "active", "aliases"}, func() [][]string {
			return keywordRows(records)
		})
	})
}

func keywordFailure(action string, err error) int {
	switch {
	case errors.Is(err, keyword.ErrEmptyKeyword):
		fmt.Fprintln(os.Stderr, "keyword must not be empty")
		return 2
	case errors.Is(err, keyword.ErrKeywordNotFound):
		fmt.Fprintln(os.Stderr, "keyword not found")
		return 1
	default:
		fmt.Fprintf(os.Stderr, "Keyword %s failed: %v\n", action, err)
		return 1
	}
}

func keywordRows(records []db.KeywordRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			strconv.FormatInt(r.KeywordID, 10),
			strconv.FormatInt(r.UserID, 10),
			r.Canonical,
			strconv.FormatBool(r.Active),
			truncateForTable(strings.Join(r.Aliases, ", "), 80),
		})
	}
	return rows
}

func printKeywordUsage() {
	fmt.Fprintln(os.Stderr, "mediatrends keyword")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  mediatrends keyword add --user <id> <keyword>")
	fmt.Fprintln(os.Stderr, "  mediatrends keyword list --user <id>")
	fmt.Fprintln(os.Stderr, "  mediatrends keyword refresh <keyword-id>")
	fmt.Fprintln(os.Stderr, "  mediatrends keyword remove <keyword-id>")
}
