// Package stream defines the host-facing events emitted while a turn runs:
// text blocks arriving as deltas, tool calls with their streamed input, and
// the finish marker that ends the turn. All concrete event types embed Base;
// consumers switch on Type or type-assert for structured access, and sinks
// marshal Payload for the wire.
package stream

type (
	// Event is one host-facing streaming update. Implementations are
	// immutable after construction.
	Event interface {
		// Type returns the event type constant.
		Type() EventType
		// Payload returns the wire payload for generic marshaling.
		Payload() any
	}

	// Base provides the default Event implementation. Embed it in concrete
	// event types.
	Base struct {
		t EventType
		p any
	}

	// StreamStart opens a turn. It is always the first event.
	StreamStart struct {
		Base
		Data StreamStartPayload
	}

	// TextStart opens a text block. Subsequent TextDelta events carry the
	// block's content incrementally.
	TextStart struct {
		Base
		Data TextPayload
	}

	// TextDelta appends text to an open block.
	TextDelta struct {
		Base
		Data TextDeltaPayload
	}

	// TextEnd closes a text block.
	TextEnd struct {
		Base
		Data TextPayload
	}

	// ToolInputStart announces a tool call whose input follows as deltas.
	ToolInputStart struct {
		Base
		Data ToolInputStartPayload
	}

	// ToolInputDelta carries a fragment of a tool call's input JSON.
	ToolInputDelta struct {
		Base
		Data ToolInputDeltaPayload
	}

	// ToolInputEnd marks a tool call's input as complete.
	ToolInputEnd struct {
		Base
		Data ToolInputEndPayload
	}

	// ToolCall is the finalized tool invocation the host must execute.
	ToolCall struct {
		Base
		Data ToolCallPayload
	}

	// Finish ends the turn. Exactly one Finish is emitted per turn.
	Finish struct {
		Base
		Data FinishPayload
	}

	// Error reports a turn failure. It is followed by Finish with reason
	// error; the host never sees a raised error from within the stream.
	Error struct {
		Base
		Data ErrorPayload
	}

	// StreamStartPayload carries turn-level warnings. Always present, never
	// null on the wire.
	StreamStartPayload struct {
		Warnings []string `json:"warnings"`
	}

	// TextPayload identifies a text block.
	TextPayload struct {
		ID string `json:"id"`
	}

	// TextDeltaPayload appends Delta to the block identified by ID.
	TextDeltaPayload struct {
		ID    string `json:"id"`
		Delta string `json:"delta"`
	}

	// ToolInputStartPayload names the tool whose input is about to stream.
	ToolInputStartPayload struct {
		ID       string `json:"id"`
		ToolName string `json:"toolName"`
	}

	// ToolInputDeltaPayload carries an input JSON fragment.
	ToolInputDeltaPayload struct {
		ID    string `json:"id"`
		Delta string `json:"delta"`
	}

	// ToolInputEndPayload closes the input stream for a tool call.
	ToolInputEndPayload struct {
		ID string `json:"id"`
	}

	// ToolCallPayload is the complete tool invocation.
	ToolCallPayload struct {
		ToolCallID string         `json:"toolCallId"`
		ToolName   string         `json:"toolName"`
		Input      map[string]any `json:"input"`
	}

	// FinishPayload closes the turn with a reason and usage accounting.
	FinishPayload struct {
		FinishReason FinishReason `json:"finishReason"`
		Usage        Usage        `json:"usage"`
	}

	// Usage reports token counts when known. The bridge performs no usage
	// accounting, so all fields are typically absent.
	Usage struct {
		In    *int64 `json:"in,omitempty"`
		Out   *int64 `json:"out,omitempty"`
		Total *int64 `json:"total,omitempty"`
	}

	// ErrorPayload describes the failure that ended the turn.
	ErrorPayload struct {
		Error string `json:"error"`
	}
)

// EventType enumerates host-facing event flavors.
type EventType string

const (
	// EventStreamStart opens a turn.
	EventStreamStart EventType = "stream-start"
	// EventTextStart opens a text block.
	EventTextStart EventType = "text-start"
	// EventTextDelta appends to an open text block.
	EventTextDelta EventType = "text-delta"
	// EventTextEnd closes a text block.
	EventTextEnd EventType = "text-end"
	// EventToolInputStart announces a tool call's streaming input.
	EventToolInputStart EventType = "tool-input-start"
	// EventToolInputDelta carries a tool input fragment.
	EventToolInputDelta EventType = "tool-input-delta"
	// EventToolInputEnd completes a tool call's input.
	EventToolInputEnd EventType = "tool-input-end"
	// EventToolCall is the finalized tool invocation.
	EventToolCall EventType = "tool-call"
	// EventFinish ends the turn.
	EventFinish EventType = "finish"
	// EventError reports a turn failure.
	EventError EventType = "error"
)

// FinishReason explains why a turn ended.
type FinishReason string

const (
	// FinishStop marks a turn that ended with a complete text response.
	FinishStop FinishReason = "stop"
	// FinishToolCalls marks a turn that ended by requesting tool execution.
	FinishToolCalls FinishReason = "tool-calls"
	// FinishError marks a turn that ended with a failure.
	FinishError FinishReason = "error"
)

// Type implements Event.Type.
func (e Base) Type() EventType { return e.t }

// Payload implements Event.Payload.
func (e Base) Payload() any { return e.p }

// NewStreamStart returns the turn-opening event with an empty warning list.
func NewStreamStart() *StreamStart {
	data := StreamStartPayload{Warnings: []string{}}
	return &StreamStart{Base: Base{t: EventStreamStart, p: data}, Data: data}
}

// NewTextStart opens the text block identified by id.
func NewTextStart(id string) *TextStart {
	data := TextPayload{ID: id}
	return &TextStart{Base: Base{t: EventTextStart, p: data}, Data: data}
}

// NewTextDelta appends delta to the block identified by id.
func NewTextDelta(id, delta string) *TextDelta {
	data := TextDeltaPayload{ID: id, Delta: delta}
	return &TextDelta{Base: Base{t: EventTextDelta, p: data}, Data: data}
}

// NewTextEnd closes the text block identified by id.
func NewTextEnd(id string) *TextEnd {
	data := TextPayload{ID: id}
	return &TextEnd{Base: Base{t: EventTextEnd, p: data}, Data: data}
}

// NewToolInputStart announces streaming input for a tool call.
func NewToolInputStart(id, toolName string) *ToolInputStart {
	data := ToolInputStartPayload{ID: id, ToolName: toolName}
	return &ToolInputStart{Base: Base{t: EventToolInputStart, p: data}, Data: data}
}

// NewToolInputDelta carries an input JSON fragment for a tool call.
func NewToolInputDelta(id, delta string) *ToolInputDelta {
	data := ToolInputDeltaPayload{ID: id, Delta: delta}
	return &ToolInputDelta{Base: Base{t: EventToolInputDelta, p: data}, Data: data}
}

// NewToolInputEnd completes the input for a tool call.
func NewToolInputEnd(id string) *ToolInputEnd {
	data := ToolInputEndPayload{ID: id}
	return &ToolInputEnd{Base: Base{t: EventToolInputEnd, p: data}, Data: data}
}

// NewToolCall returns the finalized tool invocation.
func NewToolCall(toolCallID, toolName string, input map[string]any) *ToolCall {
	data := ToolCallPayload{ToolCallID: toolCallID, ToolName: toolName, Input: input}
	return &ToolCall{Base: Base{t: EventToolCall, p: data}, Data: data}
}

// NewFinish ends the turn with the given reason.
func NewFinish(reason FinishReason) *Finish {
	data := FinishPayload{FinishReason: reason}
	return &Finish{Base: Base{t: EventFinish, p: data}, Data: data}
}

// NewError reports the failure that ended the turn.
func NewError(err error) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	data := ErrorPayload{Error: msg}
	return &Error{Base: Base{t: EventError, p: data}, Data: data}
}
