// Package protocol defines the wire types exchanged with the workflow
// service: actions received over the socket, client events sent back, and
// the checkpoint payloads embedded in them. Frames are JSON tagged unions
// with exactly one variant key set; the types here decode them into strict
// structs at the boundary so the rest of the bridge operates on typed data.
package protocol

import (
	"encoding/json"

	"github.com/duoflow/bridge/bridgeerr"
)

type (
	// Action is a frame from the service. Exactly one variant field is set:
	// either a checkpoint snapshot, an HTTP passthrough request, or one of
	// the tool payloads. Tool payloads are kept raw because their field
	// names vary across service versions; the tool mapper resolves the
	// alternates.
	Action struct {
		// RequestID correlates the action with its eventual actionResponse.
		// Checkpoints may omit it.
		RequestID string `json:"requestID,omitempty"`

		NewCheckpoint   *Checkpoint     `json:"newCheckpoint,omitempty"`
		RunHTTPRequest  *HTTPRequest    `json:"runHTTPRequest,omitempty"`
		RunMCPTool      *MCPToolCall    `json:"runMCPTool,omitempty"`
		RunReadFile     json.RawMessage `json:"runReadFile,omitempty"`
		RunReadFiles    json.RawMessage `json:"runReadFiles,omitempty"`
		RunWriteFile    json.RawMessage `json:"runWriteFile,omitempty"`
		RunEditFile     json.RawMessage `json:"runEditFile,omitempty"`
		RunShellCommand json.RawMessage `json:"runShellCommand,omitempty"`
		RunCommand      json.RawMessage `json:"runCommand,omitempty"`
		RunGitCommand   json.RawMessage `json:"runGitCommand,omitempty"`
		ListDirectory   json.RawMessage `json:"listDirectory,omitempty"`
		Grep            json.RawMessage `json:"grep,omitempty"`
		FindFiles       json.RawMessage `json:"findFiles,omitempty"`
		Mkdir           json.RawMessage `json:"mkdir,omitempty"`
	}

	// Checkpoint is the newCheckpoint action payload. Checkpoint carries the
	// cumulative workflow state document as a raw JSON string; the differ in
	// the checkpoint package extracts text deltas from it.
	Checkpoint struct {
		// Status is one of the CheckpointStatus constants.
		Status CheckpointStatus `json:"status"`
		// Checkpoint is the state document, JSON encoded as a string.
		Checkpoint string `json:"checkpoint"`
		// Goal echoes the goal the workflow is executing.
		Goal string `json:"goal,omitempty"`
		// Errors lists workflow errors reported with the snapshot.
		Errors []string `json:"errors,omitempty"`
	}

	// HTTPRequest is the runHTTPRequest action payload. The bridge performs
	// the request against the instance API itself instead of routing it to
	// the host.
	HTTPRequest struct {
		Method string `json:"method"`
		Path   string `json:"path"`
		Body   string `json:"body,omitempty"`
	}

	// MCPToolCall is the runMCPTool action payload. Args is a JSON-encoded
	// string, decoded by the action mapper.
	MCPToolCall struct {
		Name string `json:"name"`
		Args string `json:"args,omitempty"`
	}

	// ClientEvent is a frame sent to the service. Exactly one field is set.
	ClientEvent struct {
		StartRequest   *StartRequest   `json:"startRequest,omitempty"`
		ActionResponse *ActionResponse `json:"actionResponse,omitempty"`
		Heartbeat      *Heartbeat      `json:"heartbeat,omitempty"`
		StopWorkflow   *StopWorkflow   `json:"stopWorkflow,omitempty"`
	}

	// StartRequest starts or resumes a workflow on a freshly opened socket.
	StartRequest struct {
		WorkflowID         string `json:"workflowID"`
		ClientVersion      string `json:"clientVersion"`
		WorkflowDefinition string `json:"workflowDefinition"`
		// Goal is the user goal. Empty on approval reconnects.
		Goal             string `json:"goal"`
		WorkflowMetadata string `json:"workflowMetadata,omitempty"`
		// ClientCapabilities advertises what the host can execute locally.
		ClientCapabilities []string  `json:"clientCapabilities,omitempty"`
		MCPTools           []MCPTool `json:"mcpTools,omitempty"`
		// AdditionalContext is always present on the wire, even when empty.
		AdditionalContext []ContextItem `json:"additional_context"`
		PreapprovedTools  []string      `json:"preapproved_tools,omitempty"`
		// FlowConfig carries the flow configuration document, currently the
		// sanitized system prompt. Omitted when no prompt was installed.
		FlowConfig              map[string]any `json:"flowConfig,omitempty"`
		FlowConfigSchemaVersion string         `json:"flowConfigSchemaVersion,omitempty"`
		// Approval is set only on the reconnect that follows a
		// TOOL_CALL_APPROVAL_REQUIRED checkpoint.
		Approval *Approval `json:"approval,omitempty"`
	}

	// MCPTool describes a host tool advertised to the service.
	MCPTool struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	}

	// ContextItem is one additional_context entry on a start request.
	ContextItem struct {
		Category string `json:"category"`
		ID       string `json:"id"`
		Content  string `json:"content"`
	}

	// Approval is the approval decision sent on reconnect. The wire shape is
	// {"approval":{"approval":{}}}: the outer key selects the start-request
	// field, the inner key selects the granted variant.
	Approval struct {
		Granted *ApprovalGranted `json:"approval,omitempty"`
	}

	// ApprovalGranted marks the pending tool calls as approved.
	ApprovalGranted struct{}

	// ActionResponse answers an action by requestID. Exactly one of
	// PlainTextResponse and HTTPResponse is set.
	ActionResponse struct {
		RequestID         string             `json:"requestID"`
		PlainTextResponse *PlainTextResponse `json:"plainTextResponse,omitempty"`
		HTTPResponse      *HTTPResponse      `json:"httpResponse,omitempty"`
	}

	// PlainTextResponse carries a tool execution result.
	PlainTextResponse struct {
		Response string `json:"response"`
		Error    string `json:"error"`
	}

	// HTTPResponse carries the outcome of an API passthrough request.
	// Failures are encoded with StatusCode zero and a non-empty Error.
	HTTPResponse struct {
		StatusCode int               `json:"statusCode"`
		Headers    map[string]string `json:"headers"`
		Body       string            `json:"body"`
		Error      string            `json:"error,omitempty"`
	}

	// Heartbeat keeps the workflow service side of the socket alive.
	Heartbeat struct {
		// Timestamp is the client clock in milliseconds since the epoch.
		Timestamp int64 `json:"timestamp"`
	}

	// StopWorkflow asks the service to stop the running workflow.
	StopWorkflow struct {
		Reason string `json:"reason"`
	}
)

// CheckpointStatus is the lifecycle status reported with a checkpoint.
type CheckpointStatus string

const (
	// StatusCreated is reported before the workflow starts executing.
	StatusCreated CheckpointStatus = "CREATED"
	// StatusRunning is reported while the workflow is executing.
	StatusRunning CheckpointStatus = "RUNNING"
	// StatusFinished is reported when the workflow completed successfully.
	StatusFinished CheckpointStatus = "FINISHED"
	// StatusFailed is reported when the workflow failed.
	StatusFailed CheckpointStatus = "FAILED"
	// StatusStopped is reported when the workflow was stopped.
	StatusStopped CheckpointStatus = "STOPPED"
	// StatusInputRequired is reported when the workflow needs user input.
	StatusInputRequired CheckpointStatus = "INPUT_REQUIRED"
	// StatusPlanApprovalRequired is reported when the workflow needs the
	// user to approve a plan.
	StatusPlanApprovalRequired CheckpointStatus = "PLAN_APPROVAL_REQUIRED"
	// StatusToolCallApprovalRequired is reported when the workflow needs
	// the user to approve a protected tool call. The service closes the
	// socket after this status and expects an approval reconnect.
	StatusToolCallApprovalRequired CheckpointStatus = "TOOL_CALL_APPROVAL_REQUIRED"
)

// Terminal reports whether the status ends the workflow.
func (s CheckpointStatus) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// TurnBoundary reports whether the status ends the current turn without
// terminating the workflow.
func (s CheckpointStatus) TurnBoundary() bool {
	return s == StatusInputRequired || s == StatusPlanApprovalRequired
}

// NeedsToolApproval reports whether the status starts the approval-reconnect
// handshake.
func (s CheckpointStatus) NeedsToolApproval() bool {
	return s == StatusToolCallApprovalRequired
}

// DecodeAction parses a socket frame into an Action. The frame must be a
// JSON object; anything else fails with KindDecodeFailed.
func DecodeAction(data []byte) (*Action, error) {
	var a Action
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindDecodeFailed, "socket frame is not valid JSON", err)
	}
	return &a, nil
}

// EncodeClientEvent serializes a client event for the socket.
func EncodeClientEvent(ev *ClientEvent) ([]byte, error) {
	return json.Marshal(ev)
}
