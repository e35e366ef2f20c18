// Package render produces the formatted markdown document from an
// assembled thread. Rendering is deterministic: the same thread always
// yields byte-identical output.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sdeture/claude-conversation-converter/internal/model"
)

// Options controls rendering limits. The zero value is not usable;
// callers start from DefaultOptions.
type Options struct {
	// MaxToolDetail caps the compact tool-input rendering.
	MaxToolDetail int
	// MaxResultLen caps tool-result excerpts.
	MaxResultLen int
}

// DefaultOptions returns the limits used by the CLI.
func DefaultOptions() Options {
	return Options{MaxToolDetail: 100, MaxResultLen: 200}
}

// Document renders the whole thread as markdown.
func Document(thread *model.Thread, opts Options) string {
	var lines []string

	lines = append(lines, "# "+thread.Summary(), "")
	lines = append(lines, "## Thread Header")
	for i, summary := range thread.Summaries {
		lines = append(lines, fmt.Sprintf("**Summary %d:** %s", i+1, summary))
	}
	if !thread.StartedAt.IsZero() {
		lines = append(lines, "**Date:** "+thread.StartedAt.Format("January 02, 2006"))
	}
	if thread.Model != "" {
		lines = append(lines, "**Model:** "+thread.Model)
	}
	if thread.CWD != "" {
		lines = append(lines, "**Working Directory:** "+thread.CWD)
	}
	if thread.SessionID != "" {
		lines = append(lines, "**Session ID:** "+thread.SessionID)
	}
	lines = append(lines, "", "---", "")

	for i, exchange := range groupExchanges(thread.Turns) {
		lines = append(lines, fmt.Sprintf("## Message Turn %d", i+1))

		first := exchange[0]
		if !first.Timestamp.IsZero() {
			lines = append(lines, "**Time:** "+first.Timestamp.Format("3:04:05 PM"))
		}

		var usage model.Usage
		for _, turn := range exchange {
			usage = usage.Add(turn.Usage)
		}
		if !usage.IsZero() {
			lines = append(lines, "**Tokens:** "+FormatTokens(usage))
		}
		lines = append(lines, "")

		for _, turn := range exchange {
			lines = writeTurn(lines, turn, opts, true)
		}

		lines = append(lines, "---", "")
	}

	if len(thread.Orphans) > 0 {
		lines = append(lines, "## Orphaned Agent Sessions", "")
		for _, session := range thread.Orphans {
			lines = writeAgentSession(lines, session, opts)
			lines = append(lines, "")
		}
	}

	return strings.Join(lines, "\n") + "\n"
}

// groupExchanges clusters turns for display: a user turn opens a new
// message-turn section and the assistant turns answering it follow inside
// the same section. Input order is preserved.
func groupExchanges(turns []model.Turn) [][]model.Turn {
	var groups [][]model.Turn
	for _, turn := range turns {
		if turn.Role == string(model.RecordUser) || len(groups) == 0 {
			groups = append(groups, []model.Turn{turn})
			continue
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], turn)
	}
	return groups
}

// writeTurn renders one turn's labeled content. Agent sessions attached
// to tool invocations are rendered inline when allowAgent is set; inside
// an agent block they cannot occur, sessions do not nest.
func writeTurn(lines []string, turn model.Turn, opts Options, allowAgent bool) []string {
	if turn.ModelChange != nil {
		lines = append(lines, fmt.Sprintf("**Model changed:** %s → %s", turn.ModelChange.From, turn.ModelChange.To), "")
	}

	texts := collectTexts(turn.Blocks, model.BlockText)
	thinking := collectTexts(turn.Blocks, model.BlockThinking)
	tools := collectTools(turn.Blocks)

	if turn.Role == string(model.RecordUser) {
		if len(texts) > 0 {
			lines = append(lines, "**User:**", strings.Join(texts, " "), "")
		}
		return lines
	}

	if len(thinking) > 0 {
		lines = append(lines, "**Thinking:**")
		lines = append(lines, thinking...)
		lines = append(lines, "")
	}

	if len(tools) > 0 {
		lines = append(lines, "**Tools:**")
		for _, tool := range tools {
			line := "- " + FormatToolUse(tool, opts.MaxToolDetail)
			if allowAgent && tool.Agent != nil {
				lines = append(lines, line, "")
				lines = writeAgentSession(lines, *tool.Agent, opts)
				continue
			}
			if tool.Result != nil {
				line += " " + FormatToolResult(*tool.Result, opts.MaxResultLen)
			}
			lines = append(lines, line)
		}
		lines = append(lines, "")
	}

	if len(texts) > 0 {
		lines = append(lines, "**Assistant:**", strings.Join(texts, " "), "")
	}

	return lines
}

// writeAgentSession renders a visually bounded agent block: its own
// header with time, tokens, working directory and session id, then the
// session's turns under the same content rules.
func writeAgentSession(lines []string, session model.AgentSession, opts Options) []string {
	lines = append(lines,
		"```",
		"╭─ AGENT START ─────────────────────────────────────")

	if !session.StartedAt.IsZero() {
		lines = append(lines, "│ Time: "+session.StartedAt.Format("3:04:05 PM"))
	}
	if !session.Usage.IsZero() {
		lines = append(lines, "│ Tokens: "+FormatTokens(session.Usage))
	}
	if session.CWD != "" {
		lines = append(lines, "│ Working Directory: "+session.CWD)
	}
	if session.SessionID != "" {
		lines = append(lines, "│ Session ID: "+session.SessionID+" (sidechain)")
	}

	lines = append(lines,
		"├─────────────────────────────────────────────────",
		"")

	for _, turn := range session.Turns {
		lines = writeTurn(lines, turn, opts, false)
	}

	lines = append(lines, "╰─ AGENT END ───────────────────────────────────────", "```")
	return lines
}

func collectTexts(blocks []model.ContentBlock, kind model.BlockKind) []string {
	var out []string
	for _, b := range blocks {
		if b.Kind == kind && b.Text != "" {
			out = append(out, b.Text)
		}
	}
	return out
}

func collectTools(blocks []model.ContentBlock) []model.ContentBlock {
	var out []model.ContentBlock
	for _, b := range blocks {
		if b.Kind == model.BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// FormatTokens renders a usage line like "50 in → 150 out", with a cache
// suffix when cache counters are present.
func FormatTokens(u model.Usage) string {
	result := fmt.Sprintf("%d in → %d out", u.Input, u.Output)

	if u.CacheCreation > 0 || u.CacheRead > 0 {
		var parts []string
		if u.CacheCreation > 0 {
			parts = append(parts, fmt.Sprintf("+%d created", u.CacheCreation))
		}
		if u.CacheRead > 0 {
			parts = append(parts, fmt.Sprintf("%d read", u.CacheRead))
		}
		result += fmt.Sprintf(" (cache: %s)", strings.Join(parts, ", "))
	}

	return result
}

// FormatToolUse renders a tool invocation with its arguments compacted:
// shell commands are backticked, queries and prompts quoted, anything
// else shown as truncated compact JSON with sorted keys.
func FormatToolUse(block model.ContentBlock, maxDetail int) string {
	name := block.ToolName
	if name == "" {
		name = "Unknown"
	}

	detail := toolDetail(block.ToolInput, maxDetail)
	if detail == "" {
		return fmt.Sprintf("**%s:**", name)
	}
	return fmt.Sprintf("**%s:** %s", name, detail)
}

func toolDetail(input json.RawMessage, maxDetail int) string {
	if len(input) == 0 {
		return ""
	}

	var fields map[string]any
	if err := json.Unmarshal(input, &fields); err != nil {
		return clip(string(input), maxDetail)
	}

	if cmd, ok := fields["command"].(string); ok && cmd != "" {
		return "`" + clip(cmd, maxDetail) + "`"
	}
	if query, ok := fields["query"].(string); ok && query != "" {
		return fmt.Sprintf("%q", clip(query, maxDetail))
	}
	if prompt, ok := fields["prompt"].(string); ok && prompt != "" {
		return fmt.Sprintf("%q", clip(prompt, maxDetail))
	}
	if path, ok := fields["file_path"].(string); ok && path != "" {
		return clip(path, maxDetail)
	}

	// json.Marshal sorts map keys, keeping the fallback deterministic.
	compact, err := json.Marshal(fields)
	if err != nil {
		return clip(string(input), maxDetail)
	}
	return clip(string(compact), maxDetail)
}

// FormatToolResult renders a resolved result as a quoted excerpt, and an
// unresolved one as an explicit marker. Results are never fabricated.
func FormatToolResult(result model.ToolResult, maxLen int) string {
	if !result.Resolved {
		return "→ (unresolved)"
	}

	content := strings.ReplaceAll(result.Content, "\n", "\\n")
	content = clip(content, maxLen)
	if result.IsError {
		return fmt.Sprintf("→ [error] %q", content)
	}
	return fmt.Sprintf("→ %q", content)
}

// clip truncates text to max runes, appending an ellipsis marker.
func clip(text string, max int) string {
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}
