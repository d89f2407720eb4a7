// Package prompt extracts what the workflow service needs from a host turn:
// the goal text, the system prompt, agent reminders and normalized tool
// results. Host messages carry content either as a plain string or as a
// typed part list; both forms decode into Message.
package prompt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Part types.
const (
	PartText       = "text"
	PartToolResult = "tool-result"
	PartToolError  = "tool-error"
)

// Output types carried by structured tool-result parts.
const (
	OutputText      = "text"
	OutputJSON      = "json"
	OutputErrorText = "error-text"
	OutputErrorJSON = "error-json"
	OutputContent   = "content"
)

// SystemRules is the user_rule context item sent with every start request.
const SystemRules = `- Use the available tools to inspect the repository instead of guessing; read files before editing them.
- Prefer small, verifiable changes and keep edits scoped to the request.
- Report blocking problems in the final answer rather than asking follow-up questions mid-run.`

type (
	// Message is one entry of the host prompt.
	Message struct {
		// Role is system, user or assistant.
		Role string `json:"role"`
		// Content holds plain string content, exclusive with Parts.
		Content string `json:"-"`
		// Parts holds typed content parts, exclusive with Content.
		Parts []Part `json:"-"`
	}

	// Part is a typed fragment of message content.
	Part struct {
		// Type discriminates the part.
		Type string `json:"type"`
		// Text is the text of a text part.
		Text string `json:"text,omitempty"`
		// Synthetic marks host-injected text that is a reminder rather
		// than something the user typed.
		Synthetic bool `json:"synthetic,omitempty"`
		// ToolCallID correlates a tool part with its call.
		ToolCallID string `json:"toolCallId,omitempty"`
		// ToolName is the tool that produced a tool part.
		ToolName string `json:"toolName,omitempty"`
		// Output is the structured result shape, when present.
		Output *Output `json:"output,omitempty"`
		// Result is the legacy flat result shape.
		Result any `json:"result,omitempty"`
	}

	// Output is the structured tool output envelope.
	Output struct {
		// Type is one of the Output* constants.
		Type string `json:"type"`
		// Value holds the payload; its shape depends on Type.
		Value any `json:"value"`
	}

	// ToolResult is a tool part normalized across both result shapes.
	ToolResult struct {
		// ID is the host tool-call ID.
		ID string
		// Output is the success text.
		Output string
		// Error is the failure text. Empty on success.
		Error string
	}
)

// messageWire mirrors Message for decoding; content needs a two-shape pass.
type messageWire struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// UnmarshalJSON decodes a message whose content is either a string or a
// part list.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Role = w.Role
	m.Content = ""
	m.Parts = nil
	if len(w.Content) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(w.Content, &s); err == nil {
		m.Content = s
		return nil
	}
	var parts []Part
	if err := json.Unmarshal(w.Content, &parts); err != nil {
		return fmt.Errorf("decode message content: %w", err)
	}
	m.Parts = parts
	return nil
}

// MarshalJSON encodes content back into whichever shape the message holds.
func (m Message) MarshalJSON() ([]byte, error) {
	w := struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	}{Role: m.Role}
	if m.Parts != nil {
		w.Content = m.Parts
	} else {
		w.Content = m.Content
	}
	return json.Marshal(w)
}

// Text returns the message's text content: the plain string, or the text
// parts joined with newlines.
func (m Message) Text() string {
	if m.Content != "" {
		return m.Content
	}
	var parts []string
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var (
	reminderRE = regexp.MustCompile(`(?s)<system-reminder>(.*?)</system-reminder>`)
	// wrappedUserRE recognizes a reminder that carries a queued user
	// message; its inner text survives goal extraction.
	wrappedUserRE = regexp.MustCompile(`(?s)^\s*The user sent the following message:\n(.*)\nPlease address this message and continue with your tasks\.\s*$`)
)

// Goal returns the text of the last user message with reminder blocks
// removed. A reminder that wraps a queued user message is replaced by the
// wrapped text instead.
func Goal(messages []Message) string {
	msg := lastUser(messages)
	if msg == nil {
		return ""
	}
	text := reminderRE.ReplaceAllStringFunc(msg.Text(), func(block string) string {
		inner := reminderRE.FindStringSubmatch(block)[1]
		if sub := wrappedUserRE.FindStringSubmatch(inner); sub != nil {
			return sub[1]
		}
		return ""
	})
	return strings.TrimSpace(text)
}

// SystemPrompt concatenates the plain-string content of system messages.
func SystemPrompt(messages []Message) string {
	var parts []string
	for _, m := range messages {
		if m.Role == RoleSystem && m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// AgentReminders returns the reminders attached to the last user message:
// synthetic text parts verbatim, plus every reminder block found in the
// remaining text parts. Wrapped user messages are goal text, not reminders.
func AgentReminders(messages []Message) []string {
	msg := lastUser(messages)
	if msg == nil {
		return nil
	}
	var reminders []string
	add := func(text string) {
		text = strings.TrimSpace(text)
		if text != "" {
			reminders = append(reminders, text)
		}
	}
	for _, p := range msg.Parts {
		if p.Type != PartText {
			continue
		}
		if p.Synthetic {
			if sub := reminderRE.FindStringSubmatch(p.Text); sub != nil && wrappedUserRE.MatchString(sub[1]) {
				continue
			}
			add(p.Text)
			continue
		}
		for _, match := range reminderRE.FindAllStringSubmatch(p.Text, -1) {
			if wrappedUserRE.MatchString(match[1]) {
				continue
			}
			add(match[1])
		}
	}
	return reminders
}

// ToolResults normalizes every tool part across all messages.
func ToolResults(messages []Message) []ToolResult {
	var results []ToolResult
	for _, m := range messages {
		for _, p := range m.Parts {
			if p.Type != PartToolResult && p.Type != PartToolError {
				continue
			}
			if res, ok := normalizeResult(p); ok {
				results = append(results, res)
			}
		}
	}
	return results
}

func lastUser(messages []Message) *Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return &messages[i]
		}
	}
	return nil
}

// normalizeResult flattens the two tool-result shapes into ToolResult.
// Parts without a tool-call ID cannot be correlated and are dropped.
func normalizeResult(p Part) (ToolResult, bool) {
	if p.ToolCallID == "" {
		return ToolResult{}, false
	}
	res := ToolResult{ID: p.ToolCallID}
	if p.Output != nil {
		switch p.Output.Type {
		case OutputErrorText, OutputErrorJSON:
			res.Error = stringValue(p.Output.Value)
		case OutputContent:
			res.Output = joinContent(p.Output.Value)
		default:
			res.Output = stringValue(p.Output.Value)
		}
		return res, true
	}
	text := stringValue(p.Result)
	if p.Type == PartToolError {
		res.Error = text
	} else {
		res.Output = text
	}
	return res, true
}

// joinContent joins the text sub-parts of a content-typed output.
func joinContent(v any) string {
	items, ok := v.([]any)
	if !ok {
		return stringValue(v)
	}
	var parts []string
	for _, item := range items {
		sub, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if sub["type"] == PartText {
			if text, ok := sub["text"].(string); ok {
				parts = append(parts, text)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// stringValue renders a result value as text; non-strings keep their JSON
// form.
func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}
