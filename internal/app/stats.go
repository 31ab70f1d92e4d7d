package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"horse.fit/mediatrends/internal/cli"
	"horse.fit/mediatrends/internal/db"
	"horse.fit/mediatrends/internal/globaltime"
)

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	format := fs.String("format", string(formatTable), formatUsage)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "stats does not accept positional arguments")
		return 2
	}

	out, err := parseOutputFormat(*format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	rt, err := openRuntime(envLoader, "stats", *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	dayStart, dayEnd := utcDay(globaltime.UTC())
	stats, err := rt.pool.QueryPipelineStats(ctx, dayStart, dayEnd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query pipeline stats: %v\n", err)
		return 1
	}
	return emit(out, stats, []string{"metric", "value"}, func() [][]string {
		return statsRows(stats)
	})
}

func statsRows(stats *db.PipelineStats) [][]string {
	rows := [][]string{
		{"day", stats.Day},
		{"sources", strconv.FormatInt(stats.Sources, 10)},
		{"active_sources", strconv.FormatInt(stats.ActiveSources, 10)},
		{"articles", strconv.FormatInt(stats.Articles, 10)},
		{"articles_ingested_today", strconv.FormatInt(stats.ArticlesIngestedToday, 10)},
		{"pending_not_embedded", strconv.FormatInt(stats.PendingNotEmbedded, 10)},
		{"active_keywords", strconv.FormatInt(stats.ActiveKeywords, 10)},
		{"dedup_records", strconv.FormatInt(stats.DedupRecords, 10)},
	}
	for _, bucket := range stats.NotificationsToday {
		rows = append(rows, []string{"notifications_today." + bucket.Outcome, strconv.FormatInt(bucket.Count, 10)})
	}
	return rows
}
