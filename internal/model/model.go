// Package model defines the data structures shared across the conversion
// pipeline: raw log records, assembled turns, agent sessions, and the
// final thread.
package model

import (
	"encoding/json"
	"time"
)

// RecordKind identifies the top-level type tag of a log record.
type RecordKind string

const (
	RecordUser      RecordKind = "user"
	RecordAssistant RecordKind = "assistant"
	RecordSummary   RecordKind = "summary"
	// RecordOther covers tags this converter does not interpret
	// (system, file-history-snapshot, future kinds). They are retained
	// so the assembler can skip them explicitly.
	RecordOther RecordKind = "other"
)

// BlockKind identifies a content-block variant within a message.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockThinking   BlockKind = "thinking"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
)

// Usage holds token counters from an assistant message. Absent counters
// are zero.
type Usage struct {
	Input         int
	Output        int
	CacheCreation int
	CacheRead     int
}

// IsZero reports whether all counters are zero.
func (u Usage) IsZero() bool {
	return u.Input == 0 && u.Output == 0 && u.CacheCreation == 0 && u.CacheRead == 0
}

// Add returns the element-wise sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		Input:         u.Input + other.Input,
		Output:        u.Output + other.Output,
		CacheCreation: u.CacheCreation + other.CacheCreation,
		CacheRead:     u.CacheRead + other.CacheRead,
	}
}

// ToolResult is the resolved outcome of a tool invocation. Resolved is
// false when no source supplied a result; such blocks render as
// explicitly unresolved rather than being fabricated.
type ToolResult struct {
	Resolved bool
	IsError  bool
	Content  string
}

// ContentBlock is one typed fragment of a message payload.
type ContentBlock struct {
	Kind BlockKind

	// Text carries the payload of text and thinking blocks.
	Text string

	// Tool invocation fields (BlockToolUse).
	ToolName  string
	ToolInput json.RawMessage
	ToolUseID string
	Result    *ToolResult
	Agent     *AgentSession

	// Tool result fields (BlockToolResult).
	ResultFor string
	IsError   bool
}

// Record is the atomic unit read from the log, immutable once loaded.
type Record struct {
	Kind       RecordKind
	UUID       string
	ParentUUID string
	Timestamp  time.Time
	SessionID  string
	CWD        string
	Version    string
	RequestID  string
	Sidechain  bool

	// Summary record payload.
	Summary  string
	LeafUUID string

	// Message payload (user/assistant records).
	MessageID string
	Role      string
	Model     string
	Usage     Usage
	HasUsage  bool
	Blocks    []ContentBlock

	// ToolUseResult is the raw side payload some records attach next to
	// a tool result (stdout, todo lists). Kept raw; the resolver chain
	// interprets it.
	ToolUseResult json.RawMessage
}

// ModelChange marks the point where the active model identifier changed.
type ModelChange struct {
	From string
	To   string
}

// Turn is one assembled unit of conversation: a single role, merged from
// one or more records sharing continuity.
type Turn struct {
	Role        string
	Timestamp   time.Time
	Usage       Usage
	Blocks      []ContentBlock
	ModelChange *ModelChange
}

// HasContent reports whether the turn carries anything worth rendering.
func (t Turn) HasContent() bool {
	for _, b := range t.Blocks {
		switch b.Kind {
		case BlockText, BlockThinking:
			if b.Text != "" {
				return true
			}
		case BlockToolUse:
			return true
		}
	}
	return t.ModelChange != nil
}

// AgentSession is a nested turn sequence spawned by a tool invocation,
// rendered inline but visually bounded.
type AgentSession struct {
	SessionID  string
	ParentUUID string
	CWD        string
	StartedAt  time.Time
	Usage      Usage
	Turns      []Turn
}

// Thread is the whole assembled document.
type Thread struct {
	Summaries []string
	StartedAt time.Time
	Model     string
	CWD       string
	SessionID string
	Turns     []Turn
	Orphans   []AgentSession
}

// Summary returns the primary summary, falling back to a placeholder so
// an empty log still yields a valid document.
func (t *Thread) Summary() string {
	if len(t.Summaries) > 0 && t.Summaries[0] != "" {
		return t.Summaries[0]
	}
	return "Conversation"
}

// SessionInfo holds lightweight metadata about one session file, used by
// the list command without assembling the full thread.
type SessionInfo struct {
	ID           string
	Path         string
	CWD          string
	Version      string
	StartedAt    time.Time
	Summary      string
	MessageCount int
	LastSeen     time.Time
}

// DurationSeconds is the span between the first and last record.
func (s SessionInfo) DurationSeconds() int {
	if s.StartedAt.IsZero() || s.LastSeen.IsZero() || s.LastSeen.Before(s.StartedAt) {
		return 0
	}
	return int(s.LastSeen.Sub(s.StartedAt) / time.Second)
}
