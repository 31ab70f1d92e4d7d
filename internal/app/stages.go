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
	"horse.fit/mediatrends/internal/ingest"
	"horse.fit/mediatrends/internal/matching"
	"horse.fit/mediatrends/internal/scheduler"
)

const defaultEmbedLimit = 1000

func runScrape(args []string) int {
	fs := flag.NewFlagSet("scrape", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	concurrency := fs.Int("concurrency", ingest.DefaultScrapeConcurrency, "Sources scraped in parallel")
	maxLinks := fs.Int("max-links", 0, "Article links followed per source (0 uses the default)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "--concurrency must be > 0")
		return 2
	}
	if *maxLinks < 0 {
		fmt.Fprintln(os.Stderr, "--max-links must be >= 0")
		return 2
	}

	return withServices(envLoader, "scrape", *timeout, func(ctx context.Context, rt *runtimeEnv, svc *services) int {
		result, err := svc.ingest.ScrapeDue(ctx, ingest.ScrapeOptions{Concurrency: *concurrency, MaxLinks: *maxLinks})
		if err != nil {
			rt.logger.Error().Err(err).Msg("scrape failed")
			fmt.Fprintf(os.Stderr, "Scrape failed: %v\n", err)
			return 1
		}
		fmt.Printf(
			"scrape sources=%d failed_sources=%d links=%d inserted=%d existing=%d rejected=%d errors=%d\n",
			result.Sources,
			result.FailedSources,
			result.LinksSeen,
			result.Inserted,
			result.Existing,
			result.Rejected,
			result.ArticleErrors,
		)
		return 0
	})
}

func runEmbed(args []string) int {
	fs := flag.NewFlagSet("embed", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	limit := fs.Int("limit", defaultEmbedLimit, "Maximum pending articles and keywords to embed")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}

	return withServices(envLoader, "embed", *timeout, func(ctx context.Context, rt *runtimeEnv, svc *services) int {
		result, err := svc.pipeline.EmbedPending(ctx, *limit)
		if err != nil {
			rt.logger.Error().Err(err).Int("limit", *limit).Msg("embed failed")
			fmt.Fprintf(os.Stderr, "Embed failed: %v\n", err)
			return 1
		}
		fmt.Printf(
			"embed processed=%d embedded=%d skipped=%d failed=%d limit=%d model=%s\n",
			result.Processed,
			result.Embedded,
			result.Skipped,
			result.Failed,
			*limit,
			rt.cfg.EmbeddingModel,
		)
		return 0
	})
}

func runMatch(args []string) int {
	fs := flag.NewFlagSet("match", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 4*time.Minute, "Command timeout")
	keywordIDs := fs.String("keyword-ids", "", "Comma-separated keyword ids to restrict the tick to")
	lookback := fs.Duration("lookback", 0, "Article lookback window (0 uses MATCH_LOOKBACK_WINDOW)")
	maxCandidates := fs.Int("max-candidates", 0, "Candidate cap for this tick (0 uses MATCH_MAX_CANDIDATES_PER_TICK)")
	dryRun := fs.Bool("dry-run", false, "Score and print candidates without sending or recording anything")
	format := fs.String("format", string(formatTable), "Dry-run "+strings.ToLower(formatUsage))

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	ids, err := parseIDList(*keywordIDs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --keyword-ids: %v\n", err)
		return 2
	}
	if *lookback < 0 || *maxCandidates < 0 {
		fmt.Fprintln(os.Stderr, "--lookback and --max-candidates must be >= 0")
		return 2
	}
	out, err := parseOutputFormat(*format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	return withServices(envLoader, "match", *timeout, func(ctx context.Context, rt *runtimeEnv, svc *services) int {
		stats, err := svc.engine.RunTick(ctx, matching.Options{
			KeywordIDs:    ids,
			Lookback:      *lookback,
			MaxCandidates: *maxCandidates,
			DryRun:        *dryRun,
		})
		if err != nil {
			rt.logger.Error().Err(err).Msg("match tick failed")
			fmt.Fprintf(os.Stderr, "Match failed: %v\n", err)
			return 1
		}

		if *dryRun {
			return emit(out, stats.Preview, []string{"user", "keyword", "article", "score", "kind", "title"}, func() [][]string {
				rows := make([][]string, 0, len(stats.Preview))
				for _, c := range stats.Preview {
					rows = append(rows, []string{
						strconv.FormatInt(c.UserID, 10),
						c.Keyword,
						strconv.FormatInt(c.ArticleID, 10),
						fmt.Sprintf("%.3f", c.Score.Value),
						string(c.Score.Kind),
						truncateForTable(c.Article.Title, 60),
					})
				}
				return rows
			})
		}

		fmt.Printf(
			"match tick=%s keywords=%d articles=%d pairs=%d candidates=%d delivered=%d permanent=%d transient=%d deferred=%d errors=%d\n",
			stats.TickID,
			stats.Keywords,
			stats.Articles,
			stats.PairsEvaluated,
			stats.Candidates,
			stats.Delivered,
			stats.PermanentFailures,
			stats.TransientFailures,
			stats.Deferred,
			stats.Errors,
		)
		return 0
	})
}

func runCleanup(args []string) int {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	retention := fs.Duration("retention", 0, "Override ARTICLE_RETENTION")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *retention < 0 {
		fmt.Fprintln(os.Stderr, "--retention must be >= 0")
		return 2
	}

	return withServices(envLoader, "cleanup", *timeout, func(ctx context.Context, rt *runtimeEnv, svc *services) int {
		keep := rt.cfg.ArticleRetention
		if *retention > 0 {
			keep = *retention
		}
		result, err := svc.pipeline.Cleanup(ctx, keep, rt.cfg.LookbackWindow)
		if err != nil {
			rt.logger.Error().Err(err).Msg("cleanup failed")
			fmt.Fprintf(os.Stderr, "Cleanup failed: %v\n", err)
			return 1
		}
		fmt.Printf("cleanup deleted=%d cutoff=%s\n", result.Deleted, result.Cutoff.Format(time.RFC3339))
		return 0
	})
}

// stageRunners adapts the services to the scheduler. Each runner logs its own
// counters; the scheduler logs duration and failure.
func stageRunners(rt *runtimeEnv, svc *services) scheduler.Runners {
	logger := rt.logger
	return scheduler.Runners{
		Scrape: func(ctx context.Context) error {
			result, err := svc.ingest.ScrapeDue(ctx, ingest.ScrapeOptions{})
			if err != nil {
				return err
			}
			logger.Debug().Int("inserted", result.Inserted).Int("failed_sources", result.FailedSources).Msg("scrape counters")
			return nil
		},
		Embed: func(ctx context.Context) error {
			result, err := svc.pipeline.EmbedPending(ctx, defaultEmbedLimit)
			if err != nil {
				return err
			}
			logger.Debug().Int("embedded", result.Embedded).Int("failed", result.Failed).Msg("embed counters")
			return nil
		},
		Match: func(ctx context.Context) error {
			_, err := svc.engine.RunTick(ctx, matching.Options{})
			return err
		},
		Cleanup: func(ctx context.Context) error {
			_, err := svc.pipeline.Cleanup(ctx, rt.cfg.ArticleRetention, rt.cfg.LookbackWindow)
			return err
		},
	}
}

// withServices opens the runtime, wires the services and runs fn under the
// command timeout.
func withServices(envLoader *cli.EnvLoader, command string, timeout time.Duration, fn func(ctx context.Context, rt *runtimeEnv, svc *services) int) int {
	rt, err := openRuntime(envLoader, command, timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	svc, err := buildServices(ctx, rt)
	if err != nil {
		rt.logger.Error().Err(err).Str("command", command).Msg("service wiring failed")
		fmt.Fprintf(os.Stderr, "Failed to initialize services: %v\n", err)
		return 1
	}
	defer svc.Close()

	return fn(ctx, rt, svc)
}

func parseIDList(raw string) ([]int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%q is not a positive integer", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
