// Package assemble turns loaded records into an ordered thread: top-level
// turns, agent sessions attached to the tool invocations that spawned
// them, and an orphan bucket for sessions whose parent cannot be found.
package assemble

import (
	"github.com/sdeture/claude-conversation-converter/internal/model"
)

// BuildThread assembles the full record sequence into a Thread. Records
// are consumed in input order and never re-sorted. Summary records feed
// the header, sidechain records become agent sessions, and records with
// unrecognized kinds are skipped.
func BuildThread(records []model.Record) *model.Thread {
	thread := &model.Thread{}

	top, side := partition(records, thread)

	resolver := newResultResolver(records)
	tracker := &modelTracker{}

	var byUUID map[string]int
	thread.Turns, byUUID = assembleTurns(top, resolver, tracker)
	thread.Model = tracker.current

	for _, group := range groupSessions(side, thread.SessionID) {
		session := buildSession(group, resolver)
		if !attachSession(thread.Turns, byUUID, session) {
			thread.Orphans = append(thread.Orphans, *session)
		}
	}

	return thread
}

// partition splits records into top-level and sidechain sets while
// collecting thread metadata. A record is sidechain when flagged, or when
// it carries a session id different from the top-level one.
func partition(records []model.Record, thread *model.Thread) (top, side []model.Record) {
	for _, rec := range records {
		if rec.Kind == model.RecordSummary {
			if rec.Summary != "" {
				thread.Summaries = append(thread.Summaries, rec.Summary)
			}
			continue
		}
		if !rec.Sidechain && thread.SessionID == "" && rec.SessionID != "" {
			thread.SessionID = rec.SessionID
		}
	}

	for _, rec := range records {
		if rec.Kind != model.RecordUser && rec.Kind != model.RecordAssistant {
			continue
		}

		sidechain := rec.Sidechain
		if !sidechain && rec.SessionID != "" && thread.SessionID != "" && rec.SessionID != thread.SessionID {
			sidechain = true
		}

		if sidechain {
			side = append(side, rec)
			continue
		}

		if thread.CWD == "" && rec.CWD != "" {
			thread.CWD = rec.CWD
		}
		if thread.StartedAt.IsZero() && !rec.Timestamp.IsZero() {
			thread.StartedAt = rec.Timestamp
		}
		top = append(top, rec)
	}

	return top, side
}

// modelTracker records the active model identifier. A change is only
// registered when a previous model was explicitly seen; it is never
// inferred.
type modelTracker struct {
	current string
}

func (t *modelTracker) observe(next string) *model.ModelChange {
	if next == "" || next == t.current {
		return nil
	}
	prev := t.current
	t.current = next
	if prev == "" {
		return nil
	}
	return &model.ModelChange{From: prev, To: next}
}

// assembleTurns merges an ordered record sequence into turns. A user
// record always opens a turn; consecutive assistant records sharing a
// message id fold into one turn, summing usage counters. The returned map
// links each record uuid to the index of the turn it merged into.
func assembleTurns(records []model.Record, resolver *resultResolver, tracker *modelTracker) ([]model.Turn, map[string]int) {
	var turns []model.Turn
	byUUID := make(map[string]int)

	lastMessageID := ""
	for _, rec := range records {
		switch rec.Kind {
		case model.RecordUser, model.RecordAssistant:
		default:
			continue
		}

		blocks := turnBlocks(rec, resolver)

		fold := rec.Kind == model.RecordAssistant &&
			len(turns) > 0 &&
			turns[len(turns)-1].Role == string(model.RecordAssistant) &&
			rec.MessageID != "" &&
			rec.MessageID == lastMessageID

		if fold {
			turn := &turns[len(turns)-1]
			turn.Blocks = append(turn.Blocks, blocks...)
			if rec.HasUsage {
				turn.Usage = turn.Usage.Add(rec.Usage)
			}
			if change := tracker.observe(rec.Model); change != nil && turn.ModelChange == nil {
				turn.ModelChange = change
			}
			byUUID[rec.UUID] = len(turns) - 1
			continue
		}

		turn := model.Turn{
			Role:      string(rec.Kind),
			Timestamp: rec.Timestamp,
			Blocks:    blocks,
		}
		if rec.HasUsage {
			turn.Usage = rec.Usage
		}
		if rec.Kind == model.RecordAssistant {
			turn.ModelChange = tracker.observe(rec.Model)
			lastMessageID = rec.MessageID
		} else {
			lastMessageID = ""
		}

		turns = append(turns, turn)
		byUUID[rec.UUID] = len(turns) - 1
	}

	return turns, byUUID
}

// turnBlocks copies the displayable blocks of a record, resolving tool
// invocation results. Raw tool_result blocks are carriers consumed by the
// resolver, not displayed on their own.
func turnBlocks(rec model.Record, resolver *resultResolver) []model.ContentBlock {
	var blocks []model.ContentBlock
	for _, block := range rec.Blocks {
		switch block.Kind {
		case model.BlockToolResult:
			continue
		case model.BlockToolUse:
			result := resolver.resolve(rec, block)
			block.Result = &result
		}
		blocks = append(blocks, block)
	}
	return blocks
}

type sessionGroup struct {
	sessionID  string
	parentLink string
	records    []model.Record
}

// groupSessions clusters sidechain records into agent sessions. Records
// carrying a distinct session id group by that id; records sharing the
// top-level session id group by the root of their parentUuid chain within
// the sidechain set, so nesting deeper than one level collapses into the
// nearest non-sidechain ancestor.
func groupSessions(side []model.Record, topSession string) []*sessionGroup {
	byUUID := make(map[string]model.Record, len(side))
	for _, rec := range side {
		if rec.UUID != "" {
			byUUID[rec.UUID] = rec
		}
	}

	var groups []*sessionGroup
	index := make(map[string]*sessionGroup)

	for _, rec := range side {
		root := chainRoot(rec, byUUID)

		key := "root:" + root.UUID
		sessionID := rec.SessionID
		if rec.SessionID != "" && rec.SessionID != topSession {
			key = "sid:" + rec.SessionID
		}

		group, ok := index[key]
		if !ok {
			group = &sessionGroup{
				sessionID:  sessionID,
				parentLink: root.ParentUUID,
				records:    nil,
			}
			index[key] = group
			groups = append(groups, group)
		}
		group.records = append(group.records, rec)
	}

	return groups
}

// chainRoot walks parentUuid links while they stay inside the sidechain
// set, returning the earliest sidechain ancestor.
func chainRoot(rec model.Record, byUUID map[string]model.Record) model.Record {
	seen := map[string]bool{rec.UUID: true}
	cur := rec
	for {
		parent, ok := byUUID[cur.ParentUUID]
		if !ok || seen[parent.UUID] {
			return cur
		}
		seen[parent.UUID] = true
		cur = parent
	}
}

// buildSession assembles one agent session, reusing the same turn
// assembly as the top-level thread. Model tracking is session-local so a
// change is never inferred from the parent thread.
func buildSession(group *sessionGroup, resolver *resultResolver) *model.AgentSession {
	turns, _ := assembleTurns(group.records, resolver, &modelTracker{})

	session := &model.AgentSession{
		SessionID:  group.sessionID,
		ParentUUID: group.parentLink,
		Turns:      turns,
	}

	for _, rec := range group.records {
		if session.CWD == "" && rec.CWD != "" {
			session.CWD = rec.CWD
		}
		if session.StartedAt.IsZero() && !rec.Timestamp.IsZero() {
			session.StartedAt = rec.Timestamp
		}
	}
	for _, turn := range turns {
		session.Usage = session.Usage.Add(turn.Usage)
	}

	return session
}

// attachSession hooks a session onto the tool-use block that spawned it,
// preferring the Task tool. Returns false when no spawning invocation can
// be located; the caller keeps such sessions in the orphan bucket.
func attachSession(turns []model.Turn, byUUID map[string]int, session *model.AgentSession) bool {
	idx, ok := byUUID[session.ParentUUID]
	if !ok || idx >= len(turns) {
		return false
	}

	blocks := turns[idx].Blocks
	slot := -1
	for i, block := range blocks {
		if block.Kind != model.BlockToolUse || block.Agent != nil {
			continue
		}
		if block.ToolName == "Task" {
			slot = i
			break
		}
		if slot < 0 {
			slot = i
		}
	}
	if slot < 0 {
		return false
	}

	blocks[slot].Agent = session
	return true
}
