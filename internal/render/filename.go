package render

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// maxSlugLen caps the summary portion of derived filenames.
const maxSlugLen = 50

var (
	invalidCharsRE = regexp.MustCompile(`[<>:"/\\|?*]`)
	nonWordRE      = regexp.MustCompile(`[^\w\s-]`)
	whitespaceRE   = regexp.MustCompile(`\s+`)
	hyphenRunRE    = regexp.MustCompile(`-+`)
)

// Filename derives a stable, sortable base name from the thread start
// time and summary: "2025-01-02-150405-<slug>.md". It is a pure function
// of its inputs; collision handling belongs to the caller.
func Filename(start time.Time, summary string) string {
	date := start.Format("2006-01-02")
	clock := start.Format("150405")
	return fmt.Sprintf("%s-%s-%s.md", date, clock, CleanSummary(summary))
}

// CleanSummary reduces free text to a filename-safe slug: invalid and
// non-word characters stripped, whitespace collapsed to single hyphens,
// length capped. An empty result falls back to "conversation".
func CleanSummary(text string) string {
	text = invalidCharsRE.ReplaceAllString(text, "")
	text = nonWordRE.ReplaceAllString(text, "")
	text = whitespaceRE.ReplaceAllString(text, "-")
	text = hyphenRunRE.ReplaceAllString(text, "-")
	text = strings.Trim(text, "-")

	runes := []rune(text)
	if len(runes) > maxSlugLen {
		text = strings.TrimRight(string(runes[:maxSlugLen]), "-")
	}

	if text == "" {
		return "conversation"
	}
	return text
}
