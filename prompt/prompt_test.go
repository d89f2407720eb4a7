package prompt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageDecodeBothShapes(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"system","content":"be brief"}`), &m))
	require.Equal(t, RoleSystem, m.Role)
	require.Equal(t, "be brief", m.Content)
	require.Nil(t, m.Parts)

	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":[{"type":"text","text":"hi"},{"type":"tool-result","toolCallId":"t1","result":"ok"}]}`), &m))
	require.Equal(t, RoleUser, m.Role)
	require.Empty(t, m.Content)
	require.Len(t, m.Parts, 2)
	require.Equal(t, "hi", m.Parts[0].Text)
	require.Equal(t, "t1", m.Parts[1].ToolCallID)

	require.Error(t, json.Unmarshal([]byte(`{"role":"user","content":42}`), &m))
}

func TestMessageEncodeRoundTrip(t *testing.T) {
	in := Message{Role: RoleUser, Parts: []Part{{Type: PartText, Text: "hello"}}}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Message
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, in, out)
}

func TestGoal(t *testing.T) {
	cases := []struct {
		name     string
		messages []Message
		want     string
	}{
		{
			name: "last user message wins",
			messages: []Message{
				{Role: RoleUser, Content: "first"},
				{Role: RoleAssistant, Content: "reply"},
				{Role: RoleUser, Content: "second"},
			},
			want: "second",
		},
		{
			name: "reminders are stripped",
			messages: []Message{
				{Role: RoleUser, Content: "fix the bug <system-reminder>check the lint output</system-reminder>"},
			},
			want: "fix the bug",
		},
		{
			name: "wrapped user message is preserved",
			messages: []Message{
				{Role: RoleUser, Content: "<system-reminder>The user sent the following message:\nalso update the docs\nPlease address this message and continue with your tasks.</system-reminder>"},
			},
			want: "also update the docs",
		},
		{
			name: "text parts join with newlines",
			messages: []Message{
				{Role: RoleUser, Parts: []Part{
					{Type: PartText, Text: "line one"},
					{Type: PartText, Text: "line two"},
				}},
			},
			want: "line one\nline two",
		},
		{
			name:     "no user message",
			messages: []Message{{Role: RoleSystem, Content: "rules"}},
			want:     "",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, Goal(c.messages))
		})
	}
}

func TestSystemPrompt(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "one"},
		{Role: RoleUser, Content: "goal"},
		{Role: RoleSystem, Content: "two"},
		{Role: RoleSystem, Parts: []Part{{Type: PartText, Text: "parts are skipped"}}},
	}
	require.Equal(t, "one\ntwo", SystemPrompt(messages))
}

func TestSanitizeSystemPrompt(t *testing.T) {
	in := "You are opencode, an interactive coding agent.\n\n\n" +
		"Docs live at https://opencode.ai/docs/config and https://github.com/sst/opencode/tree/main.\n" +
		"When in doubt, opencode reads the file first."
	out := SanitizeSystemPrompt(in)

	require.NotContains(t, out, "opencode")
	require.NotContains(t, out, "https://")
	require.NotContains(t, out, "\n\n\n")
	require.Contains(t, out, "GitLab Duo reads the file first")
}

func TestAgentReminders(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Parts: []Part{
			{Type: PartText, Text: "  the lint config changed  ", Synthetic: true},
			{Type: PartText, Text: "do the thing <system-reminder>branch is protected</system-reminder> now <system-reminder>ci is red</system-reminder>"},
			{Type: PartText, Text: "<system-reminder>The user sent the following message:\nqueued text\nPlease address this message and continue with your tasks.</system-reminder>", Synthetic: true},
		}},
	}
	require.Equal(t,
		[]string{"the lint config changed", "branch is protected", "ci is red"},
		AgentReminders(messages))

	require.Nil(t, AgentReminders([]Message{{Role: RoleAssistant, Content: "x"}}))
}

func TestToolResults(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Parts: []Part{
			{Type: PartToolResult, ToolCallID: "a", Output: &Output{Type: OutputText, Value: "file contents"}},
			{Type: PartToolResult, ToolCallID: "b", Output: &Output{Type: OutputJSON, Value: map[string]any{"ok": true}}},
			{Type: PartToolError, ToolCallID: "c", Output: &Output{Type: OutputErrorText, Value: "no such file"}},
			{Type: PartToolResult, ToolCallID: "d", Output: &Output{Type: OutputContent, Value: []any{
				map[string]any{"type": "text", "text": "part one"},
				map[string]any{"type": "image", "data": "..."},
				map[string]any{"type": "text", "text": "part two"},
			}}},
			{Type: PartToolResult, ToolCallID: "e", Result: "legacy ok"},
			{Type: PartToolError, ToolCallID: "f", Result: "legacy boom"},
			{Type: PartToolResult, Output: &Output{Type: OutputText, Value: "no id, dropped"}},
			{Type: PartText, Text: "not a tool part"},
		}},
	}

	results := ToolResults(messages)
	require.Equal(t, []ToolResult{
		{ID: "a", Output: "file contents"},
		{ID: "b", Output: `{"ok":true}`},
		{ID: "c", Error: "no such file"},
		{ID: "d", Output: "part one\npart two"},
		{ID: "e", Output: "legacy ok"},
		{ID: "f", Error: "legacy boom"},
	}, results)
}
