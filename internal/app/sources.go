package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"horse.fit/mediatrends/internal/cli"
	"horse.fit/mediatrends/internal/db"
)

const defaultSourceIntervalMinutes = 15

// sourceSeedFile is the YAML layout accepted by `source import`:
//
//	sources:
//	  - name: APA
//	    url: https://apa.az
//	    interval_minutes: 10
type sourceSeedFile struct {
	Sources []sourceSeed `yaml:"sources"`
}

type sourceSeed struct {
	Name            string `yaml:"name"`
	URL             string `yaml:"url"`
	IntervalMinutes int    `yaml:"interval_minutes"`
	Active          *bool  `yaml:"active"`
}

func runSource(args []string) int {
	if len(args) == 0 {
		printSourceUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printSourceUsage()
		return 0
	case "list":
		return runSourceList(args[1:])
	case "add":
		return runSourceAdd(args[1:])
	case "import":
		return runSourceImport(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown source action: %s\n\n", args[0])
		printSourceUsage()
		return 2
	}
}

func runSourceList(args []string) int {
	fs := flag.NewFlagSet("source list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	activeOnly := fs.Bool("active", false, "Only list active sources")
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

	rt, err := openRuntime(envLoader, "source list", *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sources, err := rt.pool.ListSources(ctx, *activeOnly)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list sources: %v\n", err)
		return 1
	}

	return emit(out, sources, []string{"id", "name", "url", "active", "every_min", "status", "last_scraped", "articles"}, func() [][]string {
		rows := make([][]string, 0, len(sources))
		for _, s := range sources {
			rows = append(rows, []string{
				strconv.FormatInt(s.SourceID, 10),
				truncateForTable(s.Name, 30),
				s.URL,
				strconv.FormatBool(s.Active),
				strconv.Itoa(s.ScrapeIntervalMinutes),
				s.ScrapeStatus,
				formatTimestamp(s.LastScrapedAt),
				strconv.FormatInt(s.TotalArticles, 10),
			})
		}
		return rows
	})
}

func runSourceAdd(args []string) int {
	fs := flag.NewFlagSet("source add", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	name := fs.String("name", "", "Display name (defaults to the host)")
	interval := fs.Int("interval", defaultSourceIntervalMinutes, "Scrape interval in minutes")
	inactive := fs.Bool("inactive", false, "Register the source without scraping it")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mediatrends source add [--name N] [--interval M] <url>")
		return 2
	}

	params, err := sourceSeed{
		Name:            *name,
		URL:             fs.Arg(0),
		IntervalMinutes: *interval,
		Active:          boolPtr(!*inactive),
	}.params()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid source: %v\n", err)
		return 2
	}

	rt, err := openRuntime(envLoader, "source add", *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	record, err := rt.pool.UpsertSource(ctx, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save source: %v\n", err)
		return 1
	}
	fmt.Printf("source_id=%d url=%s active=%t interval=%d\n", record.SourceID, record.URL, record.Active, record.ScrapeIntervalMinutes)
	return 0
}

func runSourceImport(args []string) int {
	fs := flag.NewFlagSet("source import", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", time.Minute, "Command timeout")
	file := fs.String("file", "sources.yaml", "YAML source list")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	raw, err := os.ReadFile(strings.TrimSpace(*file))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", *file, err)
		return 1
	}
	seeds, err := parseSourceSeeds(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid source file %s: %v\n", *file, err)
		return 2
	}

	rt, err := openRuntime(envLoader, "source import", *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	for _, params := range seeds {
		if _, err := rt.pool.UpsertSource(ctx, params); err != nil {
			rt.logger.Error().Err(err).Str("url", params.URL).Msg("source import failed")
			fmt.Fprintf(os.Stderr, "Failed to save %s: %v\n", params.URL, err)
			return 1
		}
	}

	rt.logger.Info().Int("sources", len(seeds)).Str("file", *file).Msg("sources imported")
	fmt.Printf("source import upserted=%d file=%s\n", len(seeds), *file)
	return 0
}

// parseSourceSeeds decodes and validates a source list. Duplicate URLs are an
// error rather than a silent last-wins.
func parseSourceSeeds(raw []byte) ([]db.UpsertSourceParams, error) {
	var file sourceSeedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if len(file.Sources) == 0 {
		return nil, fmt.Errorf("no sources listed")
	}

	seen := make(map[string]int, len(file.Sources))
	out := make([]db.UpsertSourceParams, 0, len(file.Sources))
	for i, seed := range file.Sources {
		params, err := seed.params()
		if err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		if prev, dup := seen[params.URL]; dup {
			return nil, fmt.Errorf("sources[%d]: duplicate of sources[%d] (%s)", i, prev, params.URL)
		}
		seen[params.URL] = i
		out = append(out, params)
	}
	return out, nil
}

func (s sourceSeed) params() (db.UpsertSourceParams, error) {
	rawURL := strings.TrimSpace(s.URL)
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return db.UpsertSourceParams{}, fmt.Errorf("url %q must be an absolute http(s) URL", rawURL)
	}
	if s.IntervalMinutes < 0 {
		return db.UpsertSourceParams{}, fmt.Errorf("interval_minutes must be >= 0")
	}

	interval := s.IntervalMinutes
	if interval == 0 {
		interval = defaultSourceIntervalMinutes
	}
	name := strings.TrimSpace(s.Name)
	if name == "" {
		name = strings.TrimPrefix(parsed.Hostname(), "www.")
	}
	active := true
	if s.Active != nil {
		active = *s.Active
	}
	return db.UpsertSourceParams{
		Name:                  name,
		URL:                   rawURL,
		Active:                active,
		ScrapeIntervalMinutes: interval,
	}, nil
}

func boolPtr(v bool) *bool {
	return &v
}

func printSourceUsage() {
	fmt.Fprintln(os.Stderr, "mediatrends source")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  mediatrends source list [--active] [--format table|json]")
	fmt.Fprintln(os.Stderr, "  mediatrends source add [--name N] [--interval M] [--inactive] <url>")
	fmt.Fprintln(os.Stderr, "  mediatrends source import --file sources.yaml")
}
