package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"
)

type outputFormat string

const (
	formatTable outputFormat = "table"
	formatJSON  outputFormat = "json"
)

const formatUsage = "Output format: table or json"

func parseOutputFormat(raw string) (outputFormat, error) {
	switch format := outputFormat(strings.ToLower(strings.TrimSpace(raw))); format {
	case "":
		return formatTable, nil
	case formatTable, formatJSON:
		return format, nil
	default:
		return "", fmt.Errorf("--format must be table or json, got %q", raw)
	}
}

// emit writes value as indented JSON, or headers and rows as an aligned table.
// rows is only evaluated for table output.
func emit(format outputFormat, value any, headers []string, rows func() [][]string) int {
	if err := render(os.Stdout, format, value, headers, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write %s output: %v\n", format, err)
		return 1
	}
	return 0
}

func render(w io.Writer, format outputFormat, value any, headers []string, rows func() [][]string) error {
	if format == formatJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(value)
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	lines := append([][]string{headers}, rows()...)
	for _, line := range lines {
		if _, err := fmt.Fprintln(tw, strings.Join(line, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// utcDay returns the [start, end) bounds of the UTC calendar day holding t.
func utcDay(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

func truncateForTable(value string, maxRunes int) string {
	trimmed := strings.TrimSpace(value)
	if maxRunes <= 0 || utf8.RuneCountInString(trimmed) <= maxRunes {
		return trimmed
	}
	runes := []rune(trimmed)
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

func formatTimestamp(value *time.Time) string {
	if value == nil || value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
