package protocol

import "encoding/json"

// ToolRequest is a standalone tool invocation normalized out of an Action.
// Args preserves the service's field names; the tool mapper resolves the
// per-tool alternates when translating to a host call.
type ToolRequest struct {
	// RequestID is the service request identifier the eventual result must
	// be correlated with.
	RequestID string
	// ToolName is the service-side tool name, e.g. "read_files".
	ToolName string
	// Args holds the decoded action payload.
	Args map[string]any
}

// toolActions maps each tool action variant to its service tool name, in the
// order variants are probed. Checkpoint and HTTP request actions are not tool
// requests and are absent by construction.
var toolActions = []struct {
	tool    string
	payload func(*Action) json.RawMessage
}{
	{"read_file", func(a *Action) json.RawMessage { return a.RunReadFile }},
	{"read_files", func(a *Action) json.RawMessage { return a.RunReadFiles }},
	{"create_file_with_contents", func(a *Action) json.RawMessage { return a.RunWriteFile }},
	{"edit_file", func(a *Action) json.RawMessage { return a.RunEditFile }},
	{"shell_command", func(a *Action) json.RawMessage { return a.RunShellCommand }},
	{"run_command", func(a *Action) json.RawMessage { return a.RunCommand }},
	{"run_git_command", func(a *Action) json.RawMessage { return a.RunGitCommand }},
	{"list_dir", func(a *Action) json.RawMessage { return a.ListDirectory }},
	{"grep", func(a *Action) json.RawMessage { return a.Grep }},
	{"find_files", func(a *Action) json.RawMessage { return a.FindFiles }},
	{"mkdir", func(a *Action) json.RawMessage { return a.Mkdir }},
}

// MapAction translates a standalone tool action into a ToolRequest. It
// returns false when the action carries no requestID, no recognized tool
// payload, or a payload that is not a JSON object. Checkpoints and HTTP
// requests return false: the session handles those directly.
func MapAction(a *Action) (*ToolRequest, bool) {
	if a == nil || a.RequestID == "" {
		return nil, false
	}
	if a.RunMCPTool != nil {
		if a.RunMCPTool.Name == "" {
			return nil, false
		}
		args := make(map[string]any)
		if raw := a.RunMCPTool.Args; raw != "" {
			// Args arrives JSON-encoded as a string. A payload that does
			// not decode leaves the call with empty args rather than
			// dropping it: the tool name alone is still actionable.
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				args = make(map[string]any)
			}
		}
		return &ToolRequest{RequestID: a.RequestID, ToolName: a.RunMCPTool.Name, Args: args}, true
	}
	for _, ta := range toolActions {
		raw := ta.payload(a)
		if len(raw) == 0 {
			continue
		}
		args := make(map[string]any)
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, false
		}
		return &ToolRequest{RequestID: a.RequestID, ToolName: ta.tool, Args: args}, true
	}
	return nil, false
}
