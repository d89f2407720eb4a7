// Package checkpoint turns workflow checkpoint snapshots into incremental
// text deltas. The service resends the full chat log with every checkpoint;
// the differ compares each agent entry against the previous snapshot and
// emits only what grew. Per-session scan state lives in State.
package checkpoint

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/duoflow/bridge/protocol"
)

// Message types that drive the scan. Entries carrying any other type are
// retained for index alignment but never produce output.
const (
	TypeAgent   = "agent"
	TypeRequest = "request"
)

type (
	// Entry is one ui_chat_log element retained between scans.
	Entry struct {
		// MessageType is the entry's message_type field.
		MessageType string
		// Content is the entry text.
		Content string
		// CorrelationID links a request entry to its tool request, when set.
		CorrelationID string
		// HasToolInfo reports whether the entry carried a tool_info block.
		HasToolInfo bool
		// ToolName is tool_info.name.
		ToolName string
		// ToolArgs is the raw JSON of tool_info.args.
		ToolArgs string
	}

	// State tracks the previous snapshot and the request entries already
	// emitted. One State per workflow session; not safe for concurrent use.
	State struct {
		log       []Entry
		processed map[int]bool
	}
)

// NewState returns an empty scan state.
func NewState() *State {
	return &State{processed: make(map[int]bool)}
}

// AgentTextDeltas parses a checkpoint snapshot and returns the text newly
// produced by agent entries since the last scan. For each agent entry the
// delta is the suffix past the previously seen content when the entry grew
// as a prefix, or the full content when the entry is new or diverged. The
// snapshot replaces the retained log afterwards.
func (s *State) AgentTextDeltas(raw string) []string {
	entries := parseLog(raw)
	var deltas []string
	for i, e := range entries {
		if e.MessageType != TypeAgent {
			continue
		}
		var prev *Entry
		if i < len(s.log) {
			prev = &s.log[i]
		}
		switch {
		case prev == nil || prev.MessageType != TypeAgent:
			if e.Content != "" {
				deltas = append(deltas, e.Content)
			}
		case e.Content == prev.Content:
			// No growth.
		case strings.HasPrefix(e.Content, prev.Content):
			deltas = append(deltas, e.Content[len(prev.Content):])
		default:
			// Divergence restarts the entry.
			if e.Content != "" {
				deltas = append(deltas, e.Content)
			}
		}
	}
	s.log = entries
	return deltas
}

// ToolRequests returns the tool requests embedded in request entries that
// have not been emitted before. Entries are identified by log index; the
// request ID comes from correlation_id, or a fresh UUID when absent. The
// session drives tools from standalone actions instead, so this scan is
// unused on the hot path.
func (s *State) ToolRequests(raw string) []protocol.ToolRequest {
	entries := parseLog(raw)
	var reqs []protocol.ToolRequest
	for i, e := range entries {
		if e.MessageType != TypeRequest || !e.HasToolInfo || s.processed[i] {
			continue
		}
		s.processed[i] = true
		id := e.CorrelationID
		if id == "" {
			id = uuid.NewString()
		}
		reqs = append(reqs, protocol.ToolRequest{
			RequestID: id,
			ToolName:  e.ToolName,
			Args:      decodeToolArgs(e.ToolArgs),
		})
	}
	return reqs
}

// parseLog extracts channel_values.ui_chat_log from a snapshot, keeping
// only entries whose message_type is a string.
func parseLog(raw string) []Entry {
	if !gjson.Valid(raw) {
		return nil
	}
	list := gjson.Get(raw, "channel_values.ui_chat_log")
	if !list.IsArray() {
		return nil
	}
	var entries []Entry
	list.ForEach(func(_, item gjson.Result) bool {
		mt := item.Get("message_type")
		if mt.Type != gjson.String {
			return true
		}
		e := Entry{
			MessageType:   mt.String(),
			Content:       item.Get("content").String(),
			CorrelationID: item.Get("correlation_id").String(),
		}
		if ti := item.Get("tool_info"); ti.Exists() {
			e.HasToolInfo = true
			e.ToolName = ti.Get("name").String()
			e.ToolArgs = ti.Get("args").Raw
		}
		entries = append(entries, e)
		return true
	})
	return entries
}

// decodeToolArgs decodes tool_info.args, tolerating both an inline object
// and a JSON string wrapping one. Undecodable args yield an empty map so
// the request stays actionable.
func decodeToolArgs(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var asString string
	if err := json.Unmarshal([]byte(raw), &asString); err == nil {
		raw = asString
	}
	args := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	return args
}
