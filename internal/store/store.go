// Package store enumerates conversation files under a projects root
// (typically ~/.claude/projects) without converting them.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sdeture/claude-conversation-converter/internal/model"
	"github.com/sdeture/claude-conversation-converter/internal/parser"
)

var errStop = errors.New("stop iteration")

// ListOptions controls how sessions are enumerated.
type ListOptions struct {
	Root       string
	CWD        string
	ExactCWD   bool
	After      *time.Time
	Before     *time.Time
	Limit      int
	MaxSummary int
}

// ListResult contains session summaries and non-fatal warnings.
type ListResult struct {
	Sessions []model.SessionInfo
	Warnings []error
}

// ListSessions enumerates conversation files under Root according to
// options, newest first. Files that cannot be read become warnings, not
// failures.
func ListSessions(opts ListOptions) (ListResult, error) {
	root := opts.Root
	if root == "" {
		return ListResult{}, errors.New("root directory is required")
	}

	var result ListResult

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			result.Warnings = append(result.Warnings, fmt.Errorf("walk %s: %w", path, walkErr))
			return nil
		}

		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}

		info, err := parser.ScanSessionInfo(path)
		if err != nil {
			if !errors.Is(err, parser.ErrEmptySession) {
				result.Warnings = append(result.Warnings, fmt.Errorf("scan %s: %w", path, err))
			}
			return nil
		}

		if opts.CWD != "" {
			if opts.ExactCWD {
				if info.CWD != opts.CWD {
					return nil
				}
			} else if !strings.HasPrefix(info.CWD, opts.CWD) {
				return nil
			}
		}
		if opts.After != nil && info.StartedAt.Before(*opts.After) {
			return nil
		}
		if opts.Before != nil && info.StartedAt.After(*opts.Before) {
			return nil
		}

		if opts.MaxSummary > 0 {
			info.Summary = truncate(info.Summary, opts.MaxSummary)
		}

		result.Sessions = append(result.Sessions, info)
		return nil
	})
	if err != nil {
		return result, err
	}

	sort.SliceStable(result.Sessions, func(i, j int) bool {
		return result.Sessions[i].StartedAt.After(result.Sessions[j].StartedAt)
	})

	if opts.Limit > 0 && len(result.Sessions) > opts.Limit {
		result.Sessions = result.Sessions[:opts.Limit]
	}

	return result, nil
}

// FindSessionPath locates the conversation file whose session id matches
// id.
func FindSessionPath(root, id string) (string, error) {
	if root == "" {
		return "", errors.New("root directory is required")
	}
	if id == "" {
		return "", errors.New("session id is required")
	}

	var matched string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		info, err := parser.ScanSessionInfo(path)
		if err != nil {
			return nil
		}
		if info.ID == id {
			matched = path
			return errStop
		}
		return nil
	})

	if matched != "" {
		return matched, nil
	}
	if err != nil && !errors.Is(err, errStop) {
		return "", err
	}
	return "", fmt.Errorf("session id %s not found under %s", id, root)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
