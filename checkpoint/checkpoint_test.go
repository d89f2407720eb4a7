package checkpoint

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func snapshot(t *testing.T, entries ...map[string]any) string {
	t.Helper()
	doc := map[string]any{"channel_values": map[string]any{"ui_chat_log": entries}}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(data)
}

func agentEntry(content string) map[string]any {
	return map[string]any{"message_type": "agent", "content": content}
}

func userEntry(content string) map[string]any {
	return map[string]any{"message_type": "user", "content": content}
}

func TestAgentTextDeltasGrowth(t *testing.T) {
	st := NewState()

	require.Equal(t, []string{"Hel"}, st.AgentTextDeltas(snapshot(t, agentEntry("Hel"))))
	require.Equal(t, []string{"lo"}, st.AgentTextDeltas(snapshot(t, agentEntry("Hello"))))
	require.Empty(t, st.AgentTextDeltas(snapshot(t, agentEntry("Hello"))))
}

func TestAgentTextDeltasDivergenceRestarts(t *testing.T) {
	st := NewState()

	st.AgentTextDeltas(snapshot(t, agentEntry("draft one")))
	require.Equal(t, []string{"take two"}, st.AgentTextDeltas(snapshot(t, agentEntry("take two"))))
}

func TestAgentTextDeltasEmptyContent(t *testing.T) {
	st := NewState()

	require.Empty(t, st.AgentTextDeltas(snapshot(t, agentEntry(""))))
	require.Equal(t, []string{"hi"}, st.AgentTextDeltas(snapshot(t, agentEntry("hi"))))
	require.Empty(t, st.AgentTextDeltas(snapshot(t, agentEntry(""))))
}

func TestAgentTextDeltasIndexAlignment(t *testing.T) {
	st := NewState()

	raw := snapshot(t, userEntry("question"), agentEntry("a"))
	require.Equal(t, []string{"a"}, st.AgentTextDeltas(raw))

	raw = snapshot(t, userEntry("question"), agentEntry("ab"))
	require.Equal(t, []string{"b"}, st.AgentTextDeltas(raw))
}

func TestAgentTextDeltasTypeChange(t *testing.T) {
	st := NewState()

	st.AgentTextDeltas(snapshot(t, userEntry("note")))
	require.Equal(t, []string{"fresh"}, st.AgentTextDeltas(snapshot(t, agentEntry("fresh"))))
}

func TestAgentTextDeltasSkipsUntypedEntries(t *testing.T) {
	st := NewState()

	raw := snapshot(t,
		agentEntry("a"),
		map[string]any{"content": "untyped"},
		agentEntry("b"),
	)
	require.Equal(t, []string{"a", "b"}, st.AgentTextDeltas(raw))

	raw = snapshot(t, agentEntry("a"), agentEntry("bc"))
	require.Equal(t, []string{"c"}, st.AgentTextDeltas(raw))
}

func TestAgentTextDeltasMalformedSnapshot(t *testing.T) {
	st := NewState()

	st.AgentTextDeltas(snapshot(t, agentEntry("kept")))
	require.Empty(t, st.AgentTextDeltas("{not json"))
	// The malformed snapshot reset the log, so everything reads as new.
	require.Equal(t, []string{"kept"}, st.AgentTextDeltas(snapshot(t, agentEntry("kept"))))
}

func TestToolRequests(t *testing.T) {
	st := NewState()

	raw := snapshot(t,
		agentEntry("working"),
		map[string]any{
			"message_type":   "request",
			"correlation_id": "req-1",
			"tool_info":      map[string]any{"name": "read_file", "args": map[string]any{"file_path": "a.go"}},
		},
		map[string]any{
			"message_type": "request",
			"tool_info":    map[string]any{"name": "grep", "args": `{"pattern":"x"}`},
		},
		map[string]any{"message_type": "request", "content": "no tool info"},
	)

	reqs := st.ToolRequests(raw)
	require.Len(t, reqs, 2)

	require.Equal(t, "req-1", reqs[0].RequestID)
	require.Equal(t, "read_file", reqs[0].ToolName)
	require.Equal(t, map[string]any{"file_path": "a.go"}, reqs[0].Args)

	_, err := uuid.Parse(reqs[1].RequestID)
	require.NoError(t, err)
	require.Equal(t, "grep", reqs[1].ToolName)
	require.Equal(t, map[string]any{"pattern": "x"}, reqs[1].Args)

	// A second scan of the same snapshot emits nothing.
	require.Empty(t, st.ToolRequests(raw))
}

func TestToolRequestsUndecodableArgs(t *testing.T) {
	st := NewState()

	raw := snapshot(t, map[string]any{
		"message_type":   "request",
		"correlation_id": "req-9",
		"tool_info":      map[string]any{"name": "grep", "args": "{broken"},
	})

	reqs := st.ToolRequests(raw)
	require.Len(t, reqs, 1)
	require.Equal(t, map[string]any{}, reqs[0].Args)
}

func TestAgentTextDeltasProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("deltas of a prefix-monotone entry concatenate to its final content", prop.ForAll(
		func(content string, rawCuts []int) bool {
			cuts := append([]int(nil), rawCuts...)
			for i, c := range cuts {
				if c < 0 {
					c = -c
				}
				cuts[i] = c % (len(content) + 1)
			}
			sort.Ints(cuts)
			cuts = append(cuts, len(content))

			st := NewState()
			var got string
			for _, c := range cuts {
				doc := map[string]any{"channel_values": map[string]any{"ui_chat_log": []map[string]any{
					{"message_type": "user", "content": "goal"},
					{"message_type": "agent", "content": content[:c]},
				}}}
				data, err := json.Marshal(doc)
				if err != nil {
					return false
				}
				for _, d := range st.AgentTextDeltas(string(data)) {
					got += d
				}
			}
			return got == content
		},
		gen.AlphaString(),
		gen.SliceOf(gen.IntRange(0, 1<<20)),
	))

	properties.TestingRun(t)
}
