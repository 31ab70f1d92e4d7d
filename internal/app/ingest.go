package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/mediatrends/internal/cli"
	"horse.fit/mediatrends/internal/ingest"
)

type ingestSummary struct {
	Files    int
	Inserted int
	Existing int
	Invalid  int
	Failed   int
}

// runIngest inserts article payload files. Invalid files are reported and
// skipped; storage failures stop the run.
func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	dir := fs.String("dir", "", "Directory of .json article payloads")
	recursive := fs.Bool("recursive", true, "Recursively scan --dir")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	files := fs.Args()
	if root := strings.TrimSpace(*dir); root != "" {
		found, err := collectJSONFiles(root, *recursive)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ingest setup failed: %v\n", err)
			return 1
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: mediatrends ingest [--dir D] [file.json ...]")
		return 2
	}

	return withServices(envLoader, "ingest", *timeout, func(ctx context.Context, rt *runtimeEnv, svc *services) int {
		summary := ingestSummary{}
		for _, path := range files {
			summary.Files++

			raw, err := os.ReadFile(path)
			if err != nil {
				summary.Invalid++
				fmt.Fprintf(os.Stderr, "INVALID %s: read failed: %v\n", path, err)
				continue
			}

			result, err := svc.ingest.IngestPayload(ctx, json.RawMessage(raw))
			switch {
			case errors.Is(err, ingest.ErrInvalidArticle):
				summary.Invalid++
				fmt.Fprintf(os.Stderr, "INVALID %s: %v\n", path, err)
			case err != nil:
				summary.Failed++
				rt.logger.Error().Err(err).Str("file", path).Msg("ingest failed")
				fmt.Fprintf(os.Stderr, "Ingest failed at %s: %v\n", path, err)
				printIngestSummary(summary)
				return 1
			case result.Inserted:
				summary.Inserted++
				fmt.Printf("inserted article_id=%d lang=%s url=%s\n", result.ArticleID, result.Language, result.URL)
			default:
				summary.Existing++
			}
		}

		printIngestSummary(summary)
		if summary.Invalid > 0 {
			return 1
		}
		return 0
	})
}

func printIngestSummary(s ingestSummary) {
	fmt.Printf("ingest files=%d inserted=%d existing=%d invalid=%d failed=%d\n", s.Files, s.Inserted, s.Existing, s.Invalid, s.Failed)
}
