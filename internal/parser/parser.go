// Package parser loads Claude conversation JSONL into records. Parsing is
// line-tolerant: a malformed line yields a warning and is skipped, never
// aborting the whole load.
package parser

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sdeture/claude-conversation-converter/internal/model"
)

// ErrEmptySession is returned by ScanSessionInfo when a file contains no
// usable conversation records.
var ErrEmptySession = errors.New("no conversation records found")

// Warning describes one skipped input line.
type Warning struct {
	Line   int
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("line %d: %s", w.Line, w.Reason)
}

// ParseRecords reads newline-delimited records from r. Malformed lines are
// reported as warnings and skipped; empty lines are skipped silently.
// Records with an unrecognized type tag are retained as RecordOther so
// future record kinds pass through untouched. The only fatal condition is
// a failure of the underlying reader.
func ParseRecords(r io.Reader) ([]model.Record, []Warning, error) {
	scanner := newScanner(r)

	var records []model.Record
	var warnings []Warning

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}

		rec, err := parseRecord(raw)
		if err != nil {
			warnings = append(warnings, Warning{Line: line, Reason: err.Error()})
			continue
		}
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, warnings, fmt.Errorf("scan input: %w", err)
	}

	return records, warnings, nil
}

// ScanSessionInfo extracts lightweight session metadata from path without
// assembling the full thread. Used by session listing.
func ScanSessionInfo(path string) (model.SessionInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return model.SessionInfo{}, fmt.Errorf("open session file: %w", err)
	}
	defer file.Close()

	records, _, err := ParseRecords(file)
	if err != nil {
		return model.SessionInfo{}, err
	}

	info := model.SessionInfo{Path: path}
	var firstUserText string

	for _, rec := range records {
		if info.ID == "" && rec.SessionID != "" {
			info.ID = rec.SessionID
		}
		if info.CWD == "" && rec.CWD != "" {
			info.CWD = rec.CWD
		}
		if info.Version == "" && rec.Version != "" {
			info.Version = rec.Version
		}
		if !rec.Timestamp.IsZero() {
			if info.StartedAt.IsZero() {
				info.StartedAt = rec.Timestamp
			}
			if rec.Timestamp.After(info.LastSeen) {
				info.LastSeen = rec.Timestamp
			}
		}

		switch rec.Kind {
		case model.RecordSummary:
			if info.Summary == "" {
				info.Summary = rec.Summary
			}
		case model.RecordUser, model.RecordAssistant:
			info.MessageCount++
			if firstUserText == "" && rec.Kind == model.RecordUser && !rec.Sidechain {
				firstUserText = firstText(rec.Blocks)
			}
		}
	}

	if info.ID == "" && info.MessageCount == 0 && info.Summary == "" {
		return model.SessionInfo{}, ErrEmptySession
	}
	if info.Summary == "" {
		info.Summary = firstUserText
	}

	return info, nil
}

// firstText returns the first non-empty text block, trimmed.
func firstText(blocks []model.ContentBlock) string {
	for _, b := range blocks {
		if b.Kind == model.BlockText && b.Text != "" {
			return strings.TrimSpace(b.Text)
		}
	}
	return ""
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	// Allow large payloads such as pasted files and tool output.
	const maxCapacity = 8 * 1024 * 1024
	buf := make([]byte, 1024)
	scanner.Buffer(buf, maxCapacity)
	return scanner
}

type rawRecord struct {
	Type          string          `json:"type"`
	UUID          string          `json:"uuid"`
	ParentUUID    string          `json:"parentUuid"`
	Timestamp     string          `json:"timestamp"`
	SessionID     string          `json:"sessionId"`
	CWD           string          `json:"cwd"`
	Version       string          `json:"version"`
	RequestID     string          `json:"requestId"`
	IsSidechain   bool            `json:"isSidechain"`
	Summary       string          `json:"summary"`
	LeafUUID      string          `json:"leafUuid"`
	Message       json.RawMessage `json:"message"`
	ToolUseResult json.RawMessage `json:"toolUseResult"`
}

type rawMessage struct {
	ID      string          `json:"id"`
	Role    string          `json:"role"`
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
	Usage   *rawUsage       `json:"usage"`
}

type rawUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

type rawBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

func parseRecord(raw []byte) (model.Record, error) {
	var rec rawRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.Record{}, fmt.Errorf("unmarshal record: %v", err)
	}

	record := model.Record{
		UUID:          rec.UUID,
		ParentUUID:    rec.ParentUUID,
		SessionID:     rec.SessionID,
		CWD:           rec.CWD,
		Version:       rec.Version,
		RequestID:     rec.RequestID,
		Sidechain:     rec.IsSidechain,
		Summary:       rec.Summary,
		LeafUUID:      rec.LeafUUID,
		ToolUseResult: rec.ToolUseResult,
	}

	if rec.Timestamp != "" {
		if ts, err := parseTimestamp(rec.Timestamp); err == nil {
			record.Timestamp = ts
		}
	}

	switch rec.Type {
	case "user":
		record.Kind = model.RecordUser
	case "assistant":
		record.Kind = model.RecordAssistant
	case "summary":
		record.Kind = model.RecordSummary
		return record, nil
	default:
		record.Kind = model.RecordOther
		return record, nil
	}

	if len(rec.Message) > 0 {
		var msg rawMessage
		if err := json.Unmarshal(rec.Message, &msg); err != nil {
			return model.Record{}, fmt.Errorf("unmarshal message payload: %v", err)
		}
		record.MessageID = msg.ID
		record.Role = msg.Role
		record.Model = msg.Model
		record.Blocks = decodeContentBlocks(msg.Content)
		if msg.Usage != nil {
			record.HasUsage = true
			record.Usage = model.Usage{
				Input:         msg.Usage.InputTokens,
				Output:        msg.Usage.OutputTokens,
				CacheCreation: msg.Usage.CacheCreationInputTokens,
				CacheRead:     msg.Usage.CacheReadInputTokens,
			}
		}
	}

	return record, nil
}

// decodeContentBlocks accepts the content field in any of its observed
// shapes: a plain string, an array of typed blocks, or an array mixing
// raw strings with blocks.
func decodeContentBlocks(raw json.RawMessage) []model.ContentBlock {
	if len(raw) == 0 {
		return nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "" {
			return nil
		}
		return []model.ContentBlock{{Kind: model.BlockText, Text: asString}}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}

	blocks := make([]model.ContentBlock, 0, len(items))
	for _, item := range items {
		var itemString string
		if err := json.Unmarshal(item, &itemString); err == nil {
			blocks = append(blocks, model.ContentBlock{Kind: model.BlockText, Text: itemString})
			continue
		}

		var block rawBlock
		if err := json.Unmarshal(item, &block); err != nil {
			continue
		}

		switch block.Type {
		case "text":
			blocks = append(blocks, model.ContentBlock{Kind: model.BlockText, Text: block.Text})
		case "thinking":
			blocks = append(blocks, model.ContentBlock{Kind: model.BlockThinking, Text: block.Thinking})
		case "tool_use":
			blocks = append(blocks, model.ContentBlock{
				Kind:      model.BlockToolUse,
				ToolName:  block.Name,
				ToolInput: block.Input,
				ToolUseID: block.ID,
			})
		case "tool_result":
			blocks = append(blocks, model.ContentBlock{
				Kind:      model.BlockToolResult,
				Text:      FlattenResultContent(block.Content),
				ResultFor: block.ToolUseID,
				IsError:   block.IsError,
			})
		}
	}
	return blocks
}

// FlattenResultContent reduces a tool_result content field (string or
// array of text blocks) to a single string.
func FlattenResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var items []rawBlock
	if err := json.Unmarshal(raw, &items); err != nil {
		return string(raw)
	}

	var builder strings.Builder
	for _, item := range items {
		if item.Text == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteRune('\n')
		}
		builder.WriteString(item.Text)
	}
	return builder.String()
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("missing timestamp")
	}

	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}
