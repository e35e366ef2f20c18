package assemble

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sdeture/claude-conversation-converter/internal/model"
	"github.com/sdeture/claude-conversation-converter/internal/parser"
)

func loadFixture(t *testing.T, name string) []model.Record {
	t.Helper()
	path := filepath.Join("..", "..", "testdata", "sessions", name)
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer file.Close()

	records, warnings, err := parser.ParseRecords(file)
	if err != nil {
		t.Fatalf("ParseRecords returned error: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	return records
}

func TestBuildThreadSimple(t *testing.T) {
	thread := BuildThread(loadFixture(t, "sample-simple.jsonl"))

	if thread.SessionID != "sess-main" {
		t.Fatalf("unexpected session id: %s", thread.SessionID)
	}
	if thread.CWD != "/home/dev/webapp" {
		t.Fatalf("unexpected cwd: %s", thread.CWD)
	}
	if thread.Summary() != "Fix the failing build" {
		t.Fatalf("unexpected summary: %q", thread.Summary())
	}
	if thread.Model != "claude-sonnet-4" {
		t.Fatalf("unexpected model: %s", thread.Model)
	}
	if got := thread.StartedAt.Format(time.RFC3339); got != "2025-07-15T14:30:00Z" {
		t.Fatalf("unexpected start time: %s", got)
	}

	if len(thread.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(thread.Turns))
	}
	if thread.Turns[0].Role != "user" || thread.Turns[1].Role != "assistant" {
		t.Fatalf("unexpected roles: %s %s", thread.Turns[0].Role, thread.Turns[1].Role)
	}
	if thread.Turns[1].Usage.Input != 50 || thread.Turns[1].Usage.Output != 150 {
		t.Fatalf("unexpected usage: %+v", thread.Turns[1].Usage)
	}
	if thread.Turns[1].ModelChange != nil {
		t.Fatal("first model sighting must not be annotated as a change")
	}
}

func TestBuildThreadEmpty(t *testing.T) {
	thread := BuildThread(nil)

	if thread.Summary() != "Conversation" {
		t.Fatalf("expected placeholder summary, got %q", thread.Summary())
	}
	if len(thread.Turns) != 0 || len(thread.Orphans) != 0 {
		t.Fatalf("expected empty thread, got %d turns %d orphans", len(thread.Turns), len(thread.Orphans))
	}
}

func TestAssistantRecordsFoldByMessageID(t *testing.T) {
	ts := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	records := []model.Record{
		{Kind: model.RecordUser, UUID: "u1", SessionID: "s", Timestamp: ts,
			Blocks: []model.ContentBlock{{Kind: model.BlockText, Text: "go"}}},
		{Kind: model.RecordAssistant, UUID: "a1", SessionID: "s", MessageID: "m1", Timestamp: ts.Add(time.Second),
			HasUsage: true, Usage: model.Usage{Input: 10, Output: 5},
			Blocks:   []model.ContentBlock{{Kind: model.BlockThinking, Text: "first"}}},
		{Kind: model.RecordAssistant, UUID: "a2", SessionID: "s", MessageID: "m1", Timestamp: ts.Add(2 * time.Second),
			HasUsage: true, Usage: model.Usage{Input: 3, Output: 7, CacheRead: 100},
			Blocks:   []model.ContentBlock{{Kind: model.BlockText, Text: "second"}}},
		{Kind: model.RecordAssistant, UUID: "a3", SessionID: "s", MessageID: "m2", Timestamp: ts.Add(3 * time.Second),
			Blocks: []model.ContentBlock{{Kind: model.BlockText, Text: "third"}}},
	}

	thread := BuildThread(records)

	if len(thread.Turns) != 3 {
		t.Fatalf("expected 3 turns (user, folded assistant, assistant), got %d", len(thread.Turns))
	}

	folded := thread.Turns[1]
	if len(folded.Blocks) != 2 {
		t.Fatalf("expected folded blocks, got %d", len(folded.Blocks))
	}
	want := model.Usage{Input: 13, Output: 12, CacheRead: 100}
	if folded.Usage != want {
		t.Fatalf("usage not summed: %+v", folded.Usage)
	}

	if thread.Turns[2].Role != "assistant" {
		t.Fatalf("different message id must open a new turn, got %s", thread.Turns[2].Role)
	}
}

func TestAgentSessionAttachment(t *testing.T) {
	thread := BuildThread(loadFixture(t, "sample-agent.jsonl"))

	if len(thread.Orphans) != 0 {
		t.Fatalf("expected no orphans, got %d", len(thread.Orphans))
	}
	if len(thread.Turns) != 4 {
		t.Fatalf("expected 4 top-level turns, got %d", len(thread.Turns))
	}

	var task *model.ContentBlock
	for i := range thread.Turns[1].Blocks {
		if thread.Turns[1].Blocks[i].Kind == model.BlockToolUse {
			task = &thread.Turns[1].Blocks[i]
		}
	}
	if task == nil || task.ToolName != "Task" {
		t.Fatalf("expected Task tool block in second turn: %+v", thread.Turns[1].Blocks)
	}
	if task.Agent == nil {
		t.Fatal("expected agent session attached to Task invocation")
	}

	session := task.Agent
	if len(session.Turns) != 3 {
		t.Fatalf("expected 3 agent turns, got %d", len(session.Turns))
	}
	if session.Turns[0].Role != "user" {
		t.Fatalf("unexpected first agent role: %s", session.Turns[0].Role)
	}
	wantUsage := model.Usage{Input: 70, Output: 80}
	if session.Usage != wantUsage {
		t.Fatalf("unexpected session usage: %+v", session.Usage)
	}
	if session.CWD != "/home/dev/webapp" {
		t.Fatalf("unexpected session cwd: %s", session.CWD)
	}

	// The Task result comes from the correlated tool_result record.
	if task.Result == nil || !task.Result.Resolved {
		t.Fatalf("expected resolved task result: %+v", task.Result)
	}
	if task.Result.Content != "The error is logged in server/log.go." {
		t.Fatalf("unexpected task result: %q", task.Result.Content)
	}

	// Model changed on the final assistant turn.
	final := thread.Turns[3]
	if final.ModelChange == nil || final.ModelChange.From != "claude-sonnet-4" || final.ModelChange.To != "claude-opus-4" {
		t.Fatalf("unexpected model change: %+v", final.ModelChange)
	}
	if thread.Model != "claude-opus-4" {
		t.Fatalf("unexpected active model: %s", thread.Model)
	}
}

func TestOrphanedSessionKept(t *testing.T) {
	thread := BuildThread(loadFixture(t, "sample-orphan.jsonl"))

	if len(thread.Turns) != 2 {
		t.Fatalf("expected 2 top-level turns, got %d", len(thread.Turns))
	}
	if len(thread.Orphans) != 1 {
		t.Fatalf("expected 1 orphaned session, got %d", len(thread.Orphans))
	}
	if got := len(thread.Orphans[0].Turns); got != 2 {
		t.Fatalf("expected 2 orphan turns, got %d", got)
	}
}

func TestRecordAccounting(t *testing.T) {
	records := loadFixture(t, "sample-agent.jsonl")
	thread := BuildThread(records)

	conversational := 0
	for _, rec := range records {
		if rec.Kind == model.RecordUser || rec.Kind == model.RecordAssistant {
			conversational++
		}
	}

	// The agent fixture has no folded assistant records, so every
	// conversational record maps to exactly one turn.
	placed := len(thread.Turns)
	for _, turn := range thread.Turns {
		for _, block := range turn.Blocks {
			if block.Agent != nil {
				placed += len(block.Agent.Turns)
			}
		}
	}
	for _, orphan := range thread.Orphans {
		placed += len(orphan.Turns)
	}

	if placed != conversational {
		t.Fatalf("record accounting mismatch: %d placed, %d conversational records", placed, conversational)
	}
}

func TestResolverPriority(t *testing.T) {
	own := json.RawMessage(`{"stdout":"own record wins"}`)
	records := []model.Record{
		{Kind: model.RecordAssistant, UUID: "a1", SessionID: "s", MessageID: "m1",
			ToolUseResult: own,
			Blocks: []model.ContentBlock{
				{Kind: model.BlockToolUse, ToolName: "Bash", ToolUseID: "t1"},
			}},
		{Kind: model.RecordUser, UUID: "u1", ParentUUID: "a1", SessionID: "s",
			Blocks: []model.ContentBlock{
				{Kind: model.BlockToolResult, ResultFor: "t1", Text: "correlated result"},
			}},
	}

	resolver := newResultResolver(records)

	got := resolver.resolve(records[0], records[0].Blocks[0])
	if !got.Resolved || got.Content != "own record wins" {
		t.Fatalf("own-record source must win: %+v", got)
	}

	// Without the own-record payload the correlated block is next.
	records[0].ToolUseResult = nil
	resolver = newResultResolver(records)
	got = resolver.resolve(records[0], records[0].Blocks[0])
	if !got.Resolved || got.Content != "correlated result" {
		t.Fatalf("correlated source expected: %+v", got)
	}

	// No source at all stays unresolved.
	records[1].Blocks = nil
	records[1].ParentUUID = ""
	resolver = newResultResolver(records)
	got = resolver.resolve(records[0], records[0].Blocks[0])
	if got.Resolved {
		t.Fatalf("expected unresolved result: %+v", got)
	}
}

func TestUserEchoResolution(t *testing.T) {
	records := []model.Record{
		{Kind: model.RecordAssistant, UUID: "a1", SessionID: "s", MessageID: "m1",
			Blocks: []model.ContentBlock{
				{Kind: model.BlockToolUse, ToolName: "TodoWrite", ToolUseID: "t9"},
			}},
		{Kind: model.RecordUser, UUID: "u1", ParentUUID: "a1", SessionID: "s",
			ToolUseResult: json.RawMessage(`{"newTodos":[{"content":"a"},{"content":"b"},{"content":"c"}]}`)},
	}

	resolver := newResultResolver(records)
	got := resolver.resolve(records[0], records[0].Blocks[0])
	if !got.Resolved {
		t.Fatalf("expected echo resolution: %+v", got)
	}
	if got.Content != "Updated todos: 3 items" {
		t.Fatalf("unexpected todo summary: %q", got.Content)
	}
}

func TestNestedSidechainCollapsesToAncestorSession(t *testing.T) {
	ts := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	records := []model.Record{
		{Kind: model.RecordUser, UUID: "u1", SessionID: "main", Timestamp: ts,
			Blocks: []model.ContentBlock{{Kind: model.BlockText, Text: "find the bug"}}},
		{Kind: model.RecordAssistant, UUID: "a1", ParentUUID: "u1", SessionID: "main", MessageID: "m1", Timestamp: ts.Add(time.Second),
			Blocks: []model.ContentBlock{{Kind: model.BlockToolUse, ToolName: "Task", ToolUseID: "t1"}}},
		{Kind: model.RecordUser, UUID: "s1", ParentUUID: "a1", SessionID: "main", Sidechain: true, Timestamp: ts.Add(2 * time.Second),
			Blocks: []model.ContentBlock{{Kind: model.BlockText, Text: "inspect the logs"}}},
		// Parented to another sidechain record, not to the spawning turn.
		{Kind: model.RecordAssistant, UUID: "s2", ParentUUID: "s1", SessionID: "main", Sidechain: true, MessageID: "m2", Timestamp: ts.Add(3 * time.Second),
			Blocks: []model.ContentBlock{{Kind: model.BlockText, Text: "found it"}}},
	}

	thread := BuildThread(records)

	if len(thread.Orphans) != 0 {
		t.Fatalf("expected no orphans, got %d", len(thread.Orphans))
	}
	if len(thread.Turns) != 2 {
		t.Fatalf("expected 2 top-level turns, got %d", len(thread.Turns))
	}

	agent := thread.Turns[1].Blocks[0].Agent
	if agent == nil {
		t.Fatal("expected one session attached to the Task invocation")
	}
	if got := len(agent.Turns); got != 2 {
		t.Fatalf("nested record must join its ancestor's session, got %d turns", got)
	}
	if agent.Turns[0].Role != "user" || agent.Turns[1].Role != "assistant" {
		t.Fatalf("unexpected agent roles: %s %s", agent.Turns[0].Role, agent.Turns[1].Role)
	}
}

func TestDistinctSessionIDTreatedAsSidechain(t *testing.T) {
	ts := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	records := []model.Record{
		{Kind: model.RecordUser, UUID: "u1", SessionID: "main", Timestamp: ts,
			Blocks: []model.ContentBlock{{Kind: model.BlockText, Text: "hi"}}},
		{Kind: model.RecordAssistant, UUID: "a1", ParentUUID: "u1", SessionID: "main", MessageID: "m1", Timestamp: ts.Add(time.Second),
			Blocks: []model.ContentBlock{{Kind: model.BlockToolUse, ToolName: "Task", ToolUseID: "t1"}}},
		{Kind: model.RecordUser, UUID: "x1", ParentUUID: "a1", SessionID: "nested", Timestamp: ts.Add(2 * time.Second),
			Blocks: []model.ContentBlock{{Kind: model.BlockText, Text: "sub prompt"}}},
	}

	thread := BuildThread(records)

	if len(thread.Turns) != 2 {
		t.Fatalf("expected 2 top-level turns, got %d", len(thread.Turns))
	}
	agent := thread.Turns[1].Blocks[0].Agent
	if agent == nil {
		t.Fatal("expected session attached via session-id lookup")
	}
	if agent.SessionID != "nested" {
		t.Fatalf("unexpected session id: %s", agent.SessionID)
	}
}
