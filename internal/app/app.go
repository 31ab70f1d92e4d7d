package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "serve":
		return runServe(args[1:])
	case "daemon":
		return runDaemon(args[1:])
	case "scrape":
		return runScrape(args[1:])
	case "embed":
		return runEmbed(args[1:])
	case "match":
		return runMatch(args[1:])
	case "cleanup":
		return runCleanup(args[1:])
	case "keyword", "keywords":
		return runKeyword(args[1:])
	case "source", "sources":
		return runSource(args[1:])
	case "subscriber":
		return runSubscriber(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "stats":
		return runStats(args[1:])
	case "hash-token":
		return runHashToken(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "mediatrends CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  mediatrends <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health      Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  serve       Start the admin API")
	fmt.Fprintln(os.Stderr, "  daemon      Run the stage scheduler or manage its systemd unit")
	fmt.Fprintln(os.Stderr, "  scrape      Scrape sources that are due")
	fmt.Fprintln(os.Stderr, "  embed       Embed pending articles and keywords")
	fmt.Fprintln(os.Stderr, "  match       Run one match-and-notify tick")
	fmt.Fprintln(os.Stderr, "  cleanup     Delete articles past retention")
	fmt.Fprintln(os.Stderr, "  keyword     Add, list, refresh or remove keywords")
	fmt.Fprintln(os.Stderr, "  source      List, add or import news sources")
	fmt.Fprintln(os.Stderr, "  subscriber  Show or set a subscriber's delivery addresses")
	fmt.Fprintln(os.Stderr, "  ingest      Insert article JSON files")
	fmt.Fprintln(os.Stderr, "  validate    Validate article JSON files against the payload schema")
	fmt.Fprintln(os.Stderr, "  stats       Show pipeline counters")
	fmt.Fprintln(os.Stderr, "  hash-token  Generate an admin token and its ADMIN_TOKEN_HASH")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"mediatrends <command> -h\" for command-specific flags.")
}
