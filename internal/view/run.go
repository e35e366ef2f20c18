// Package view renders a converted conversation to the terminal, with
// styled markdown on a tty and the raw document otherwise.
package view

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/sdeture/claude-conversation-converter/internal/model"
	"github.com/sdeture/claude-conversation-converter/internal/render"
)

// Options defines the configurable parameters for a terminal view.
type Options struct {
	Wrap         int
	Plain        bool
	ForceColor   bool
	ForceNoColor bool
	Render       render.Options
	Out          io.Writer
	OutFile      *os.File
}

// Run renders the thread according to the provided options.
func Run(thread *model.Thread, opts Options) error {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	defaults := render.DefaultOptions()
	if opts.Render.MaxToolDetail == 0 {
		opts.Render.MaxToolDetail = defaults.MaxToolDetail
	}
	if opts.Render.MaxResultLen == 0 {
		opts.Render.MaxResultLen = defaults.MaxResultLen
	}

	markdown := render.Document(thread, opts.Render)

	if opts.Plain || !resolveColorChoice(opts) {
		_, err := io.WriteString(opts.Out, markdown)
		return err
	}

	width := determineWidth(opts.OutFile, opts.Wrap)
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fmt.Errorf("create markdown renderer: %w", err)
	}

	pretty, err := renderer.Render(markdown)
	if err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}

	if opts.OutFile != nil && isatty.IsTerminal(opts.OutFile.Fd()) {
		return pipeThroughPager(pretty)
	}

	_, err = io.WriteString(opts.Out, pretty)
	return err
}

func determineWidth(out *os.File, wrap int) int {
	if wrap > 0 {
		return wrap
	}
	if out != nil {
		if w, _, err := term.GetSize(int(out.Fd())); err == nil && w > 0 {
			return w
		}
	}
	if colsStr := os.Getenv("COLUMNS"); colsStr != "" {
		if v, err := strconv.Atoi(colsStr); err == nil && v > 0 {
			return v
		}
	}
	return 80
}

func pipeThroughPager(text string) error {
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	pagerCmd := os.Getenv("PAGER")
	var cmd *exec.Cmd
	if pagerCmd == "" {
		cmd = exec.Command("less", "-R")
	} else {
		cmd = exec.Command("sh", "-c", pagerCmd)
	}

	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create pager pipe: %w", err)
	}
	go func() {
		defer stdin.Close()         //nolint:errcheck
		io.WriteString(stdin, text) //nolint:errcheck
	}()

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run pager: %w", err)
	}

	return nil
}

func resolveColorChoice(opts Options) bool {
	if opts.ForceColor {
		return true
	}
	if opts.ForceNoColor {
		return false
	}
	return shouldUseColorAuto(opts.Out)
}

func shouldUseColorAuto(out io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := out.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
