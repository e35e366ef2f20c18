// claudemd converts Claude conversation JSONL files into readable
// markdown documents.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sdeture/claude-conversation-converter/internal/assemble"
	"github.com/sdeture/claude-conversation-converter/internal/format"
	"github.com/sdeture/claude-conversation-converter/internal/model"
	"github.com/sdeture/claude-conversation-converter/internal/parser"
	"github.com/sdeture/claude-conversation-converter/internal/render"
	"github.com/sdeture/claude-conversation-converter/internal/store"
	"github.com/sdeture/claude-conversation-converter/internal/view"
)

var rootCmd = &cobra.Command{
	Use:   "claudemd",
	Short: "Convert Claude conversation logs to markdown",
}

func init() {
	rootCmd.AddCommand(newConvertCmd())
	rootCmd.AddCommand(newViewCmd())
	rootCmd.AddCommand(newListCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", styleError.Render("claudemd:"), err)
		os.Exit(1)
	}
}

func newConvertCmd() *cobra.Command {
	var (
		outputDir   string
		customName  string
		toStdout    bool
		sessionsDir string
	)

	cmd := &cobra.Command{
		Use:   "convert <input.jsonl|session-id> [output-dir]",
		Short: "Convert a conversation file to a markdown document",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := resolveInputPath(args[0], sessionsDir)
			if err != nil {
				return err
			}

			dir := outputDir
			if dir == "" && len(args) > 1 {
				dir = args[1]
			}
			if dir == "" {
				dir = filepath.Dir(input)
			}

			thread, warnings, err := loadThread(input)
			if err != nil {
				return err
			}
			reportWarnings(cmd, warnings)
			if len(thread.Turns) == 0 && len(thread.Orphans) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), styleWarning.Render("warning: no conversation turns found, writing header-only document"))
			}

			doc := render.Document(thread, render.DefaultOptions())

			if toStdout {
				_, err := fmt.Fprint(cmd.OutOrStdout(), doc)
				return err
			}

			name := customName
			if name == "" {
				name = deriveFilename(thread, input)
			}

			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}

			path := resolveCollision(dir, name)
			if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
				return fmt.Errorf("write document: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", styleSuccess.Render("Conversion complete:"), path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "directory to write the document into (default: input directory)")
	cmd.Flags().StringVar(&customName, "name", "", "output filename (default: derived from timestamp and summary)")
	cmd.Flags().BoolVar(&toStdout, "stdout", false, "write the document to stdout instead of a file")
	cmd.Flags().StringVar(&sessionsDir, "sessions-dir", "", "projects root for session-id lookup (default: ~/.claude/projects)")

	return cmd
}

func newViewCmd() *cobra.Command {
	var (
		wrap        int
		plain       bool
		color       bool
		noColor     bool
		sessionsDir string
	)

	cmd := &cobra.Command{
		Use:   "view <input.jsonl|session-id>",
		Short: "Convert and render a conversation in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if color && noColor {
				return errors.New("--color cannot be used with --no-color")
			}

			input, err := resolveInputPath(args[0], sessionsDir)
			if err != nil {
				return err
			}

			thread, warnings, err := loadThread(input)
			if err != nil {
				return err
			}
			reportWarnings(cmd, warnings)

			opts := view.Options{
				Wrap:         wrap,
				Plain:        plain,
				ForceColor:   color,
				ForceNoColor: noColor,
				Out:          cmd.OutOrStdout(),
			}
			if file, ok := opts.Out.(*os.File); ok {
				opts.OutFile = file
			}

			return view.Run(thread, opts)
		},
	}

	cmd.Flags().IntVar(&wrap, "wrap", 0, "wrap width (default: terminal width)")
	cmd.Flags().BoolVar(&plain, "plain", false, "print the raw markdown without styling")
	cmd.Flags().BoolVar(&color, "color", false, "force styled output")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable styled output")
	cmd.Flags().StringVar(&sessionsDir, "sessions-dir", "", "projects root for session-id lookup (default: ~/.claude/projects)")

	return cmd
}

func newListCmd() *cobra.Command {
	var (
		sessionsDir  string
		cwd          string
		all          bool
		afterStr     string
		beforeStr    string
		limit        int
		formatFlag   string
		noHeader     bool
		summaryWidth int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations in reverse chronological order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all && cwd != "" {
				return errors.New("--cwd cannot be used with --all")
			}

			root, err := projectsRoot(sessionsDir)
			if err != nil {
				return err
			}

			var after, before *time.Time
			if afterStr != "" {
				t, err := time.Parse(time.RFC3339, afterStr)
				if err != nil {
					return fmt.Errorf("invalid --after value: %w", err)
				}
				after = &t
			}
			if beforeStr != "" {
				t, err := time.Parse(time.RFC3339, beforeStr)
				if err != nil {
					return fmt.Errorf("invalid --before value: %w", err)
				}
				before = &t
			}

			opts := store.ListOptions{
				Root:       root,
				After:      after,
				Before:     before,
				Limit:      limit,
				MaxSummary: summaryWidth,
			}

			if !all {
				if cwd != "" {
					opts.CWD = cwd
				} else {
					wd, err := os.Getwd()
					if err != nil {
						return fmt.Errorf("determine current directory: %w", err)
					}
					opts.CWD = wd
				}
				opts.ExactCWD = true
			}

			result, err := store.ListSessions(opts)
			if err != nil {
				return err
			}
			for _, warning := range result.Warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), styleWarning.Render("warning: ")+warning.Error())
			}
			if len(result.Sessions) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), styleHint.Render("no sessions found under "+root))
			}

			for i := range result.Sessions {
				result.Sessions[i].Summary = collapseWhitespace(result.Sessions[i].Summary)
			}

			return format.WriteSessions(cmd.OutOrStdout(), result.Sessions, !noHeader, formatFlag)
		},
	}

	cmd.Flags().StringVar(&sessionsDir, "dir", "", "projects root to scan (default: ~/.claude/projects)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "only sessions whose working directory matches")
	cmd.Flags().BoolVar(&all, "all", false, "list sessions for all working directories")
	cmd.Flags().StringVar(&afterStr, "after", "", "only sessions started after this RFC3339 time")
	cmd.Flags().StringVar(&beforeStr, "before", "", "only sessions started before this RFC3339 time")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of sessions to list")
	cmd.Flags().StringVar(&formatFlag, "format", "table", "output format: table, plain, or json")
	cmd.Flags().BoolVar(&noHeader, "no-header", false, "omit the header row")
	cmd.Flags().IntVar(&summaryWidth, "summary-width", 80, "clip summaries to this many characters")

	return cmd
}

// resolveInputPath accepts either a path to a JSONL file or a session id.
// Session ids are located under the projects root.
func resolveInputPath(input, sessionsDir string) (string, error) {
	if _, err := os.Stat(input); err == nil {
		return input, nil
	}
	if strings.ContainsRune(input, os.PathSeparator) || strings.HasSuffix(input, ".jsonl") {
		return "", fmt.Errorf("open input: no such file: %s", input)
	}

	root, err := projectsRoot(sessionsDir)
	if err != nil {
		return "", err
	}
	return store.FindSessionPath(root, input)
}

// projectsRoot returns dir unchanged when set, otherwise the default
// ~/.claude/projects location.
func projectsRoot(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "projects"), nil
}

// loadThread runs the conversion pipeline on one input file.
func loadThread(path string) (*model.Thread, []parser.Warning, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	records, warnings, err := parser.ParseRecords(file)
	if err != nil {
		return nil, warnings, err
	}

	return assemble.BuildThread(records), warnings, nil
}

func reportWarnings(cmd *cobra.Command, warnings []parser.Warning) {
	for _, warning := range warnings {
		fmt.Fprintln(cmd.ErrOrStderr(), styleWarning.Render("warning: ")+warning.String())
	}
}

// deriveFilename picks the output name: timestamp plus summary slug, with
// the first user message standing in when no summary record exists, and
// the input stem when the log has no timestamp at all.
func deriveFilename(thread *model.Thread, input string) string {
	if thread.StartedAt.IsZero() {
		stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		return stem + "-converted.md"
	}

	summary := ""
	if len(thread.Summaries) > 0 {
		summary = thread.Summaries[0]
	}
	if summary == "" {
		summary = firstUserText(thread)
	}

	return render.Filename(thread.StartedAt, summary)
}

func firstUserText(thread *model.Thread) string {
	for _, turn := range thread.Turns {
		if turn.Role != string(model.RecordUser) {
			continue
		}
		for _, block := range turn.Blocks {
			if block.Kind == model.BlockText && block.Text != "" {
				return clipSummary(collapseWhitespace(block.Text), 100)
			}
		}
	}
	return ""
}

// resolveCollision suffixes the base name until it does not clash with an
// existing file.
func resolveCollision(dir, name string) string {
	path := filepath.Join(dir, name)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for counter := 1; ; counter++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s-%02d%s", base, counter, ext))
	}
}

func clipSummary(text string, max int) string {
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-1]) + "…"
}

func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
