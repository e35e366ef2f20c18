// Package format writes session listings in the supported output modes.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sdeture/claude-conversation-converter/internal/model"
)

// WriteSessions writes session infos to w in the requested format:
// "plain" (tab-separated), "table", or "json".
func WriteSessions(w io.Writer, items []model.SessionInfo, includeHeader bool, format string) error {
	switch format {
	case "plain":
		return writeSessionsPlain(w, items, includeHeader)
	case "table":
		return writeSessionsTable(w, items, includeHeader)
	case "json":
		return writeSessionsJSON(w, items)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func writeSessionsPlain(w io.Writer, items []model.SessionInfo, includeHeader bool) error {
	if includeHeader {
		if _, err := fmt.Fprintln(w, "timestamp\tsession_id\tcwd\tmessage_count\tsummary"); err != nil {
			return err
		}
	}

	for _, item := range items {
		line := fmt.Sprintf(
			"%s\t%s\t%s\t%d\t%s",
			item.StartedAt.Format(time.RFC3339),
			item.ID,
			item.CWD,
			item.MessageCount,
			escapeNewlines(item.Summary),
		)
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func writeSessionsTable(w io.Writer, items []model.SessionInfo, includeHeader bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if includeHeader {
		if _, err := fmt.Fprintln(tw, "TIMESTAMP\tSESSION_ID\tCWD\tMSGS\tSUMMARY"); err != nil {
			return err
		}
	}

	for _, item := range items {
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			item.StartedAt.Format(time.RFC3339),
			item.ID,
			item.CWD,
			item.MessageCount,
			escapeNewlines(item.Summary),
		); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func writeSessionsJSON(w io.Writer, items []model.SessionInfo) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

func escapeNewlines(text string) string {
	return strings.ReplaceAll(text, "\n", "\\n")
}
