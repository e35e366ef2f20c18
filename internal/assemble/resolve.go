package assemble

import (
	"encoding/json"
	"fmt"

	"github.com/sdeture/claude-conversation-converter/internal/model"
	"github.com/sdeture/claude-conversation-converter/internal/parser"
)

// A resolverFunc attempts to locate the result of one tool invocation.
// The second return value reports whether this source matched.
type resolverFunc func(rec model.Record, block model.ContentBlock) (model.ToolResult, bool)

// resultResolver finds tool-invocation results. The payload may live on
// the invocation record itself, on a separate record correlated by the
// tool_use id, or on a user record that echoes the result; the sources
// are tried in that priority order. An invocation no source matches stays
// unresolved and is rendered as such.
type resultResolver struct {
	chain []resolverFunc
}

func newResultResolver(records []model.Record) *resultResolver {
	byResultID := make(map[string]model.ContentBlock)
	echoByParent := make(map[string]model.Record)

	for _, rec := range records {
		for _, block := range rec.Blocks {
			if block.Kind != model.BlockToolResult || block.ResultFor == "" {
				continue
			}
			if _, ok := byResultID[block.ResultFor]; !ok {
				byResultID[block.ResultFor] = block
			}
		}
		if rec.Kind == model.RecordUser && len(rec.ToolUseResult) > 0 && rec.ParentUUID != "" {
			if _, ok := echoByParent[rec.ParentUUID]; !ok {
				echoByParent[rec.ParentUUID] = rec
			}
		}
	}

	ownRecord := func(rec model.Record, _ model.ContentBlock) (model.ToolResult, bool) {
		if len(rec.ToolUseResult) == 0 {
			return model.ToolResult{}, false
		}
		return model.ToolResult{Resolved: true, Content: summarizeToolUseResult(rec.ToolUseResult)}, true
	}

	correlated := func(_ model.Record, block model.ContentBlock) (model.ToolResult, bool) {
		result, ok := byResultID[block.ToolUseID]
		if !ok {
			return model.ToolResult{}, false
		}
		return model.ToolResult{Resolved: true, IsError: result.IsError, Content: result.Text}, true
	}

	userEcho := func(rec model.Record, _ model.ContentBlock) (model.ToolResult, bool) {
		echo, ok := echoByParent[rec.UUID]
		if !ok {
			return model.ToolResult{}, false
		}
		return model.ToolResult{Resolved: true, Content: summarizeToolUseResult(echo.ToolUseResult)}, true
	}

	return &resultResolver{chain: []resolverFunc{ownRecord, correlated, userEcho}}
}

func (r *resultResolver) resolve(rec model.Record, block model.ContentBlock) model.ToolResult {
	for _, fn := range r.chain {
		if result, ok := fn(rec, block); ok {
			return result
		}
	}
	return model.ToolResult{}
}

// summarizeToolUseResult reduces a raw toolUseResult payload to display
// text, preferring command stdout, then todo-list summaries, then the
// flattened content.
func summarizeToolUseResult(raw json.RawMessage) string {
	var payload struct {
		Stdout   string            `json:"stdout"`
		NewTodos []json.RawMessage `json:"newTodos"`
		Content  json.RawMessage   `json:"content"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Stdout != "" {
			return payload.Stdout
		}
		if len(payload.NewTodos) > 0 {
			return fmt.Sprintf("Updated todos: %d items", len(payload.NewTodos))
		}
		if len(payload.Content) > 0 {
			return parser.FlattenResultContent(payload.Content)
		}
	}

	return parser.FlattenResultContent(raw)
}
