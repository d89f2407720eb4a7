// Package session owns the per-session bridge between the host and one
// remote workflow: it creates or resumes the workflow, keeps the socket and
// its event queue paired, absorbs checkpoint snapshots, answers HTTP
// passthrough actions and drives the approval-reconnect handshake. The
// socket read loop never touches session state directly; frames flow over an
// internal queue drained by a single goroutine per connection.
package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/duoflow/bridge/bridgeerr"
	"github.com/duoflow/bridge/checkpoint"
	"github.com/duoflow/bridge/gitlab"
	"github.com/duoflow/bridge/protocol"
	"github.com/duoflow/bridge/queue"
	"github.com/duoflow/bridge/socket"
	"github.com/duoflow/bridge/telemetry"
	"github.com/duoflow/bridge/token"
)

// SocketPath is the workflow-service socket endpoint under the instance.
const SocketPath = "ai/duo_workflows/ws"

// StopReasonAborted is sent with stopWorkflow when the host aborts a turn.
const StopReasonAborted = "ABORTED"

// DefaultPassthroughTimeout bounds HTTP passthrough fetches.
const DefaultPassthroughTimeout = 30 * time.Second

// clientCapabilities advertises what the host can execute locally.
var clientCapabilities = []string{"shell_command"}

type (
	// Key identifies a session: one host chat bound to one workflow on one
	// instance.
	Key struct {
		// InstanceURL is the instance base URL.
		InstanceURL string
		// ModelID is the workflow definition the host selected as its model.
		ModelID string
		// HostSessionID is the host chat session identifier.
		HostSessionID string
	}

	// EventType discriminates the events a session queues for the adapter.
	EventType string

	// Event is one host-bound update produced by the session's action loop.
	Event struct {
		// Type discriminates the event.
		Type EventType
		// Delta carries text for EventTextDelta.
		Delta string
		// Request carries the tool request for EventToolRequest.
		Request *protocol.ToolRequest
		// Err carries the failure for EventError.
		Err error
	}

	// Session is the per-key state machine. All exported methods are safe
	// for concurrent use, though the host serializes turns in practice.
	Session struct {
		key     Key
		cfg     Config
		gl      *gitlab.Client
		tokens  *token.Service
		log     telemetry.Logger
		metrics telemetry.Metrics
		debug   *debugFile

		// onWorkflowCreated is notified once when a workflow is created, so
		// the registry can persist the key → ID mapping.
		onWorkflowCreated func(ctx context.Context, workflowID string)

		connectMu sync.Mutex

		mu         sync.Mutex
		workflowID string
		sock       *socket.Client
		frames     *queue.Queue[frame]
		events     *queue.Queue[Event]
		ckpt       *checkpoint.State
		mcpTools   []protocol.MCPTool
		flowConfig map[string]any
		flowVer    string

		startRequestSent bool
		pendingApproval  bool
		resumed          bool
	}

	// Config carries the collaborators and tunables a session needs. The
	// registry fills it from the bridge configuration.
	Config struct {
		// Client talks to the instance REST surface.
		Client *gitlab.Client
		// Tokens issues direct-access credentials for the socket.
		Tokens *token.Service
		// ClientVersion is reported on start requests.
		ClientVersion string
		// CWD is the host working directory.
		CWD string
		// ProjectPath is the project the workflow runs against, when known.
		ProjectPath string
		// RootNamespaceID scopes direct-access token issuance.
		RootNamespaceID string
		// MCPTools advertises host tools to the service.
		MCPTools []protocol.MCPTool
		// WorkflowID resumes an existing workflow when non-empty.
		WorkflowID string

		// ConnectTimeout, HeartbeatInterval and KeepaliveInterval tune the
		// socket; zero values use the socket defaults.
		ConnectTimeout    time.Duration
		HeartbeatInterval time.Duration
		KeepaliveInterval time.Duration
		// PassthroughTimeout bounds HTTP passthrough fetches.
		PassthroughTimeout time.Duration

		// DebugLogPath enables best-effort protocol logging to a file.
		DebugLogPath string

		// Logger and Metrics default to the Clue/OTEL implementations.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
	}

	// frame is one unit handed from the socket callbacks to the drain loop.
	frame struct {
		action *protocol.Action
		err    error
		closed bool
		code   int
		reason string
	}
)

// Session event types.
const (
	// EventTextDelta carries newly produced agent text.
	EventTextDelta EventType = "text-delta"
	// EventToolRequest carries a normalized standalone tool request.
	EventToolRequest EventType = "tool-request"
	// EventError carries a non-fatal session failure, such as a frame that
	// did not decode.
	EventError EventType = "error"
)

// New constructs a session for the given key. A non-empty Config.WorkflowID
// marks the session resumed: the first checkpoint absorbs history without
// re-emitting it.
func New(key Key, cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewMetrics()
	}
	if cfg.PassthroughTimeout <= 0 {
		cfg.PassthroughTimeout = DefaultPassthroughTimeout
	}
	return &Session{
		key:        key,
		cfg:        cfg,
		gl:         cfg.Client,
		tokens:     cfg.Tokens,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		debug:      newDebugFile(cfg.DebugLogPath),
		workflowID: cfg.WorkflowID,
		ckpt:       checkpoint.NewState(),
		mcpTools:   cfg.MCPTools,
		resumed:    cfg.WorkflowID != "",
	}
}

// String renders the key in its stable persisted form.
func (k Key) String() string {
	return k.InstanceURL + "|" + k.ModelID + "|" + k.HostSessionID
}

// WorkflowID returns the remote workflow ID, empty until created.
func (s *Session) WorkflowID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workflowID
}

// StartRequestSent reports whether a start request went out on the current
// connection.
func (s *Session) StartRequestSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startRequestSent
}

// SetFlowConfig installs the flow configuration document sent with the next
// start request. A nil cfg clears it.
func (s *Session) SetFlowConfig(cfg map[string]any, schemaVersion string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flowConfig = cfg
	s.flowVer = schemaVersion
}

// EnsureConnected makes the session ready to exchange events: it creates the
// workflow on first use, then opens a socket paired with a fresh event
// queue. Goal seeds the workflow creation request only; nothing is sent on
// the socket yet.
func (s *Session) EnsureConnected(ctx context.Context, goal string) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	connected := s.sock != nil
	workflowID := s.workflowID
	s.mu.Unlock()
	if connected {
		return nil
	}

	if workflowID == "" {
		id, err := s.gl.CreateWorkflow(ctx, gitlab.CreateWorkflowRequest{
			Goal:                    goal,
			WorkflowDefinition:      s.key.ModelID,
			Environment:             "ide",
			AllowAgentToRequestUser: true,
			ProjectID:               s.cfg.ProjectPath,
		})
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.workflowID = id
		s.mu.Unlock()
		s.log.Debug(ctx, "workflow created", "workflow_id", id, "session", s.key.HostSessionID)
		s.debug.printf("workflow %s created", id)
		if s.onWorkflowCreated != nil {
			s.onWorkflowCreated(ctx, id)
		}
	}

	events := queue.New[Event]()
	if err := s.openSocket(ctx, events); err != nil {
		events.Close()
		return err
	}
	return nil
}

// openSocket dials the workflow service and installs the socket, its frame
// queue and the given event queue as the live connection. Frames flow from
// the socket callbacks through the frame queue to a drain goroutine; the
// callbacks never touch session state.
func (s *Session) openSocket(ctx context.Context, events *queue.Queue[Event]) error {
	opts := []socket.Option{
		socket.WithLogger(s.log),
		socket.WithMetrics(s.metrics),
	}
	if s.cfg.ConnectTimeout > 0 {
		opts = append(opts, socket.WithConnectTimeout(s.cfg.ConnectTimeout))
	}
	if s.cfg.HeartbeatInterval > 0 {
		opts = append(opts, socket.WithHeartbeatInterval(s.cfg.HeartbeatInterval))
	}
	if s.cfg.KeepaliveInterval > 0 {
		opts = append(opts, socket.WithKeepaliveInterval(s.cfg.KeepaliveInterval))
	}

	base := s.key.InstanceURL
	tok, err := s.tokens.Get(ctx, s.cfg.RootNamespaceID)
	if err != nil {
		// Soft failure: connect without extended metadata.
		s.log.Debug(ctx, "direct access token unavailable", "error", err.Error())
	} else {
		if tok.BaseURL != "" {
			base = tok.BaseURL
		}
		opts = append(opts, socket.WithBearerToken(tok.Value), socket.WithHeaders(tok.Headers))
	}

	frames := queue.New[frame]()
	cb := socket.Callbacks{
		OnAction: func(a *protocol.Action) {
			frames.Push(frame{action: a})
		},
		OnError: func(err error) {
			frames.Push(frame{err: err})
		},
		OnClose: func(code int, reason string) {
			frames.Push(frame{closed: true, code: code, reason: reason})
			frames.Close()
		},
	}

	sock, err := socket.Dial(ctx, socketURL(base), cb, opts...)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sock = sock
	s.frames = frames
	s.events = events
	s.mu.Unlock()

	go s.drain(frames, events)
	s.debug.printf("socket opened for workflow %s", s.WorkflowID())
	return nil
}

// SendStartRequest starts or resumes the workflow on the current socket.
func (s *Session) SendStartRequest(ctx context.Context, goal string, additionalContext []protocol.ContextItem) error {
	s.mu.Lock()
	sock := s.sock
	req := s.startRequestLocked(goal, additionalContext)
	s.mu.Unlock()

	if sock == nil {
		return bridgeerr.New(bridgeerr.KindNotConnected, "send start request: no open socket")
	}
	if req.WorkflowID == "" {
		return bridgeerr.New(bridgeerr.KindNotConnected, "send start request: no workflow id")
	}
	if !sock.Send(&protocol.ClientEvent{StartRequest: req}) {
		return bridgeerr.New(bridgeerr.KindNotConnected, "send start request: socket write failed")
	}

	s.mu.Lock()
	s.startRequestSent = true
	s.mu.Unlock()
	s.log.Debug(ctx, "start request sent", "workflow_id", req.WorkflowID, "goal_len", len(goal))
	s.debug.printf("start request sent for workflow %s", req.WorkflowID)
	s.metrics.IncCounter("bridge_start_requests", 1)
	return nil
}

// startRequestLocked builds the start request from current session state.
// Callers must hold mu.
func (s *Session) startRequestLocked(goal string, additionalContext []protocol.ContextItem) *protocol.StartRequest {
	if additionalContext == nil {
		additionalContext = []protocol.ContextItem{}
	}
	req := &protocol.StartRequest{
		WorkflowID:         s.workflowID,
		ClientVersion:      s.cfg.ClientVersion,
		WorkflowDefinition: s.key.ModelID,
		Goal:               goal,
		WorkflowMetadata:   workflowMetadata(),
		ClientCapabilities: clientCapabilities,
		MCPTools:           s.mcpTools,
		AdditionalContext:  additionalContext,
		PreapprovedTools:   toolNames(s.mcpTools),
	}
	if s.flowConfig != nil {
		req.FlowConfig = s.flowConfig
		req.FlowConfigSchemaVersion = s.flowVer
	}
	return req
}

// SendToolResult forwards a host tool result to the service.
func (s *Session) SendToolResult(ctx context.Context, requestID, output, errText string) error {
	ev := &protocol.ClientEvent{ActionResponse: &protocol.ActionResponse{
		RequestID: requestID,
		PlainTextResponse: &protocol.PlainTextResponse{
			Response: output,
			Error:    errText,
		},
	}}
	if !s.send(ev) {
		return bridgeerr.Errorf(bridgeerr.KindNotConnected, "send tool result %s: no open socket", requestID)
	}
	s.log.Debug(ctx, "tool result sent", "request_id", requestID, "failed", errText != "")
	s.debug.printf("tool result sent for request %s", requestID)
	return nil
}

// WaitForEvent blocks until the session produces the next event. ok is false
// once the current connection's queue is closed and drained; err is non-nil
// only for context cancellation.
func (s *Session) WaitForEvent(ctx context.Context) (Event, bool, error) {
	s.mu.Lock()
	events := s.events
	s.mu.Unlock()
	if events == nil {
		return Event{}, false, nil
	}
	return events.Take(ctx)
}

// Abort stops the workflow best-effort and tears the connection down.
// Idempotent.
func (s *Session) Abort(ctx context.Context) {
	s.mu.Lock()
	sock, frames, events := s.sock, s.frames, s.events
	s.sock, s.frames = nil, nil
	s.startRequestSent = false
	s.pendingApproval = false
	s.mu.Unlock()

	if sock != nil {
		sock.Send(&protocol.ClientEvent{StopWorkflow: &protocol.StopWorkflow{Reason: StopReasonAborted}})
		sock.Close()
		s.log.Debug(ctx, "session aborted", "workflow_id", s.WorkflowID())
		s.debug.printf("workflow %s aborted", s.WorkflowID())
	}
	if frames != nil {
		frames.Close()
	}
	if events != nil {
		events.Close()
	}
}

// drain is the per-connection action loop: it applies every frame the socket
// produced, in order, until the frame queue closes. It is the only goroutine
// that mutates session state on the service side.
func (s *Session) drain(frames *queue.Queue[frame], events *queue.Queue[Event]) {
	ctx := context.Background()
	for {
		f, ok, err := frames.Take(ctx)
		if err != nil || !ok {
			return
		}
		switch {
		case f.action != nil:
			s.handleAction(ctx, f.action, events)
		case f.err != nil:
			events.Push(Event{Type: EventError, Err: f.err})
		case f.closed:
			s.handleSocketClosed(ctx, events, f.code, f.reason)
		}
	}
}

// handleAction dispatches one decoded service action.
func (s *Session) handleAction(ctx context.Context, a *protocol.Action, events *queue.Queue[Event]) {
	switch {
	case a.NewCheckpoint != nil:
		s.handleCheckpoint(ctx, a.NewCheckpoint, events)
	case a.RunHTTPRequest != nil:
		// Served locally; never routed to the host. Run it off the action
		// loop so a slow instance cannot stall checkpoint processing.
		req := *a.RunHTTPRequest
		go s.handleHTTPRequest(ctx, a.RequestID, req)
	default:
		req, ok := protocol.MapAction(a)
		if !ok {
			s.log.Debug(ctx, "dropping unrecognized action", "request_id", a.RequestID)
			return
		}
		s.metrics.IncCounter("bridge_tool_requests", 1, "tool", req.ToolName)
		s.debug.printf("tool request %s (%s)", req.RequestID, req.ToolName)
		events.Push(Event{Type: EventToolRequest, Request: req})
	}
}

// handleCheckpoint absorbs a snapshot and applies the status transition.
func (s *Session) handleCheckpoint(ctx context.Context, cp *protocol.Checkpoint, events *queue.Queue[Event]) {
	s.mu.Lock()
	deltas := s.ckpt.AgentTextDeltas(cp.Checkpoint)
	discard := s.resumed
	s.resumed = false
	s.mu.Unlock()

	// A resumed session's first checkpoint is history the host already saw:
	// absorb it into state without re-emitting.
	if !discard {
		for _, d := range deltas {
			events.Push(Event{Type: EventTextDelta, Delta: d})
		}
	}
	s.debug.printf("checkpoint %s (%d deltas, discard=%v)", cp.Status, len(deltas), discard)

	switch {
	case cp.Status.NeedsToolApproval():
		// The service closes the socket next; the close handler reconnects
		// with the approval on the same queue. Keep the queue open.
		s.mu.Lock()
		s.pendingApproval = true
		s.mu.Unlock()
		s.log.Debug(ctx, "tool approval required", "workflow_id", s.WorkflowID())
	case cp.Status.Terminal() || cp.Status.TurnBoundary():
		s.log.Debug(ctx, "checkpoint ends turn", "status", string(cp.Status))
		s.teardown(events)
	}
}

// handleHTTPRequest performs an api/v4 fetch on behalf of the service and
// reports the outcome, encoding failures in the response instead of
// propagating them.
func (s *Session) handleHTTPRequest(ctx context.Context, requestID string, req protocol.HTTPRequest) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.PassthroughTimeout)
	defer cancel()

	var resp *protocol.HTTPResponse
	out, err := s.gl.Passthrough(fetchCtx, req.Method, req.Path, req.Body)
	if err != nil {
		s.log.Debug(ctx, "http passthrough failed", "path", req.Path, "error", err.Error())
		resp = &protocol.HTTPResponse{
			StatusCode: 0,
			Headers:    map[string]string{},
			Body:       "",
			Error:      bridgeerr.Wrap(bridgeerr.KindHTTPPassthrough, "passthrough "+req.Path, err).Error(),
		}
	} else {
		resp = &protocol.HTTPResponse{
			StatusCode: out.StatusCode,
			Headers:    out.Headers,
			Body:       out.Body,
		}
	}

	s.send(&protocol.ClientEvent{ActionResponse: &protocol.ActionResponse{
		RequestID:    requestID,
		HTTPResponse: resp,
	}})
	s.debug.printf("http passthrough %s %s -> %d", req.Method, req.Path, resp.StatusCode)
}

// handleSocketClosed reacts to a remote close: normally the connection and
// queue end together, but a close while an approval is pending starts the
// reconnect handshake on the same queue.
func (s *Session) handleSocketClosed(ctx context.Context, events *queue.Queue[Event], code int, reason string) {
	s.mu.Lock()
	pending := s.pendingApproval
	s.pendingApproval = false
	s.sock = nil
	s.frames = nil
	s.startRequestSent = false
	s.mu.Unlock()

	if pending {
		s.log.Debug(ctx, "socket closed for approval, reconnecting", "code", code)
		s.reconnectWithApproval(ctx, events)
		return
	}
	s.log.Debug(ctx, "workflow socket closed", "code", code, "reason", reason)
	events.Close()
}

// reconnectWithApproval opens a replacement socket on the same event queue
// and sends the approval start request. Failure closes the queue.
func (s *Session) reconnectWithApproval(ctx context.Context, events *queue.Queue[Event]) {
	if err := s.openSocket(ctx, events); err != nil {
		s.log.Error(ctx, "approval reconnect failed", "error", err.Error())
		events.Close()
		return
	}

	s.mu.Lock()
	sock := s.sock
	req := s.startRequestLocked("", []protocol.ContextItem{})
	req.FlowConfig = nil
	req.FlowConfigSchemaVersion = ""
	req.Approval = &protocol.Approval{Granted: &protocol.ApprovalGranted{}}
	s.mu.Unlock()

	if sock == nil || !sock.Send(&protocol.ClientEvent{StartRequest: req}) {
		s.log.Error(ctx, "approval start request failed", "workflow_id", req.WorkflowID)
		s.teardown(events)
		return
	}
	s.mu.Lock()
	s.startRequestSent = true
	s.mu.Unlock()
	s.metrics.IncCounter("bridge_approval_reconnects", 1)
	s.debug.printf("approval reconnect for workflow %s", req.WorkflowID)
}

// teardown closes the connection and ends the event queue. The queue keeps
// delivering anything buffered before the close.
func (s *Session) teardown(events *queue.Queue[Event]) {
	s.mu.Lock()
	sock, frames := s.sock, s.frames
	s.sock, s.frames = nil, nil
	s.startRequestSent = false
	s.mu.Unlock()

	if sock != nil {
		sock.Close()
	}
	if frames != nil {
		frames.Close()
	}
	events.Close()
}

// send writes a client event to the current socket, reporting delivery.
func (s *Session) send(ev *protocol.ClientEvent) bool {
	s.mu.Lock()
	sock := s.sock
	s.mu.Unlock()
	if sock == nil {
		return false
	}
	return sock.Send(ev)
}

// workflowMetadata renders the metadata document embedded in start requests.
func workflowMetadata() string {
	data, _ := json.Marshal(map[string]bool{"extended_logging": false})
	return string(data)
}

// toolNames lists the advertised tool names, preapproved as a set.
func toolNames(tools []protocol.MCPTool) []string {
	if len(tools) == 0 {
		return nil
	}
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

// socketURL converts an instance or service base URL to the socket endpoint.
func socketURL(base string) string {
	u := strings.TrimSuffix(base, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/" + SocketPath
}
