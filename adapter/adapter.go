// Package adapter turns host chat turns into workflow exchanges. Each call
// to StreamTurn runs one turn: forward the results of the previous turn's
// tool calls, start the workflow when a new goal arrives, then relay session
// events as the host-facing stream until text settles or the first tool
// request ends the turn.
//
// The adapter carries the cross-turn correlation state: which tool calls are
// outstanding, which result IDs were already consumed, the fan-out groups
// awaiting aggregation and the last goal sent. State belongs to one host
// session at a time; a turn from a different host session resets it.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duoflow/bridge/bridgeerr"
	"github.com/duoflow/bridge/prompt"
	"github.com/duoflow/bridge/protocol"
	"github.com/duoflow/bridge/queue"
	"github.com/duoflow/bridge/session"
	"github.com/duoflow/bridge/stream"
	"github.com/duoflow/bridge/telemetry"
	"github.com/duoflow/bridge/toolmap"
)

// HeaderSessionID is the fallback transport for the host session ID when the
// provider options carry none.
const HeaderSessionID = "x-opencode-session"

// flowConfigSchemaVersion versions the flow configuration document.
const flowConfigSchemaVersion = "v1"

// Additional-context categories sent with a new goal.
const (
	contextOSInformation = "os_information"
	contextUserRule      = "user_rule"
	contextAgentContext  = "agent_context"
)

type (
	// Config assembles an Adapter.
	Config struct {
		// Registry resolves workflow sessions by key.
		Registry *session.Registry
		// ProviderID namespaces the provider-options block that carries the
		// workflow session ID.
		ProviderID string
		// ModelID is the workflow definition this adapter drives.
		ModelID string
		// InstanceURL is the instance base URL; it keys sessions and grounds
		// API commands produced by the tool mapper.
		InstanceURL string

		Logger  telemetry.Logger
		Metrics telemetry.Metrics
	}

	// Adapter bridges one host model registration onto workflow sessions.
	// Safe for concurrent use.
	Adapter struct {
		providerID  string
		modelID     string
		instanceURL string
		registry    *session.Registry
		mapper      *toolmap.Mapper
		log         telemetry.Logger
		metrics     telemetry.Metrics

		mu             sync.Mutex
		stateSessionID string
		pending        map[string]bool
		groups         map[string]*multiCallGroup
		sentResults    map[string]bool
		lastSentGoal   string
	}

	// TurnRequest is one host turn handed to StreamTurn.
	TurnRequest struct {
		// Messages is the structured prompt, oldest first.
		Messages []prompt.Message
		// ProviderOptions carries provider-scoped option blocks keyed by
		// provider ID.
		ProviderOptions map[string]map[string]any
		// Headers carries the host request headers.
		Headers map[string]string
	}

	// TurnStream delivers the events of one turn. Recv blocks for the next
	// event and returns io.EOF after the finish event. Close aborts the
	// turn; the stream still ends with a finish event.
	TurnStream struct {
		events *queue.Queue[stream.Event]
		cancel context.CancelFunc
	}

	// multiCallGroup tracks one fan-out expansion until every sub-result
	// arrived.
	multiCallGroup struct {
		subIDs []string
		labels []string
		// collected maps sub ID to its result value.
		collected map[string]string
	}
)

// New constructs an Adapter.
func New(cfg Config) *Adapter {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewMetrics()
	}
	return &Adapter{
		providerID:  cfg.ProviderID,
		modelID:     cfg.ModelID,
		instanceURL: cfg.InstanceURL,
		registry:    cfg.Registry,
		mapper:      toolmap.New(toolmap.WithInstanceURL(cfg.InstanceURL)),
		log:         cfg.Logger,
		metrics:     cfg.Metrics,
		pending:     make(map[string]bool),
		groups:      make(map[string]*multiCallGroup),
		sentResults: make(map[string]bool),
	}
}

// StreamTurn starts one turn. It fails synchronously when the request
// carries no host session ID; every later failure is reported on the stream
// as an error event followed by finish.
func (a *Adapter) StreamTurn(ctx context.Context, req *TurnRequest) (*TurnStream, error) {
	hostSessionID, err := a.hostSessionID(req)
	if err != nil {
		return nil, err
	}

	turnCtx, cancel := context.WithCancel(ctx)
	ts := &TurnStream{events: queue.New[stream.Event](), cancel: cancel}
	go a.run(turnCtx, req, hostSessionID, ts.events)
	return ts, nil
}

// Recv returns the next turn event, or io.EOF once the turn finished.
func (s *TurnStream) Recv() (stream.Event, error) {
	ev, ok, err := s.events.Take(context.Background())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, io.EOF
	}
	return ev, nil
}

// Close aborts the turn. Safe to call at any time, including after EOF.
func (s *TurnStream) Close() {
	s.cancel()
}

// hostSessionID resolves the host session ID from the provider options or
// the transport header.
func (a *Adapter) hostSessionID(req *TurnRequest) (string, error) {
	if block, ok := req.ProviderOptions[a.providerID]; ok {
		if raw, ok := block["workflowSessionID"]; ok {
			if s, ok := raw.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					return s, nil
				}
			}
		}
	}
	for name, value := range req.Headers {
		if strings.EqualFold(name, HeaderSessionID) {
			if v := strings.TrimSpace(value); v != "" {
				return v, nil
			}
		}
	}
	return "", bridgeerr.New(bridgeerr.KindMissingSessionID, "turn carries no workflow session ID")
}

// run is the turn producer. It owns the output queue and always closes it.
func (a *Adapter) run(ctx context.Context, req *TurnRequest, hostSessionID string, out *queue.Queue[stream.Event]) {
	defer out.Close()
	started := time.Now()
	defer func() { a.metrics.RecordTimer("bridge_turn_duration", time.Since(started)) }()
	a.metrics.IncCounter("bridge_turns", 1)

	goal := prompt.Goal(req.Messages)
	results := prompt.ToolResults(req.Messages)

	key := session.Key{InstanceURL: a.instanceURL, ModelID: a.modelID, HostSessionID: hostSessionID}
	sess := a.registry.Resolve(ctx, key)
	a.resetForSession(ctx, hostSessionID)

	out.Push(stream.NewStreamStart())

	// A session that has not started cannot have outstanding calls from a
	// previous process: results for unknown IDs are stale, not fresh.
	if !sess.StartRequestSent() {
		a.absorbStale(results)
	}

	if err := sess.EnsureConnected(ctx, goal); err != nil {
		a.endTurn(ctx, sess, out, "", err)
		return
	}

	resultsSent := a.forwardResults(ctx, sess, results)

	if !resultsSent && goal != "" && !sess.StartRequestSent() && goal != a.lastGoal() {
		if err := a.startWorkflow(ctx, sess, req.Messages, goal); err != nil {
			a.endTurn(ctx, sess, out, "", err)
			return
		}
	}

	a.relay(ctx, sess, out)
}

// relay consumes session events until the turn ends: the first tool request,
// an error, queue end, or host abort.
func (a *Adapter) relay(ctx context.Context, sess *session.Session, out *queue.Queue[stream.Event]) {
	textID := ""
	for {
		ev, ok, err := sess.WaitForEvent(ctx)
		if err != nil || !ok {
			a.endTurn(ctx, sess, out, textID, err)
			return
		}
		switch ev.Type {
		case session.EventTextDelta:
			if textID == "" {
				textID = uuid.NewString()
				out.Push(stream.NewTextStart(textID))
			}
			out.Push(stream.NewTextDelta(textID, ev.Delta))
		case session.EventToolRequest:
			if textID != "" {
				out.Push(stream.NewTextEnd(textID))
				textID = ""
			}
			a.emitToolCalls(out, ev.Request)
			out.Push(stream.NewFinish(stream.FinishToolCalls))
			return
		case session.EventError:
			out.Push(stream.NewError(ev.Err))
			out.Push(stream.NewFinish(stream.FinishError))
			return
		}
	}
}

// endTurn closes out a turn that produced no tool call. A host abort tears
// the session down and still finishes cleanly; any other error surfaces as
// an error event before the finish.
func (a *Adapter) endTurn(ctx context.Context, sess *session.Session, out *queue.Queue[stream.Event], textID string, err error) {
	if ctx.Err() != nil {
		a.log.Debug(ctx, "turn aborted by host", "model", a.modelID)
		sess.Abort(context.WithoutCancel(ctx))
		err = nil
	}
	if textID != "" {
		out.Push(stream.NewTextEnd(textID))
	}
	if err != nil {
		out.Push(stream.NewError(err))
		out.Push(stream.NewFinish(stream.FinishError))
		return
	}
	out.Push(stream.NewFinish(stream.FinishStop))
}

// resetForSession rebinds the correlation state when the host session
// changes.
func (a *Adapter) resetForSession(ctx context.Context, hostSessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stateSessionID == hostSessionID {
		return
	}
	if a.stateSessionID != "" {
		a.log.Debug(ctx, "host session changed, resetting correlation state",
			"from", a.stateSessionID, "to", hostSessionID)
	}
	a.stateSessionID = hostSessionID
	a.pending = make(map[string]bool)
	a.groups = make(map[string]*multiCallGroup)
	a.sentResults = make(map[string]bool)
	a.lastSentGoal = ""
}

// absorbStale consumes result IDs that cannot belong to this workflow
// connection so they are never forwarded, and forces the next goal to count
// as new.
func (a *Adapter) absorbStale(results []prompt.ToolResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range results {
		if !a.pending[r.ID] {
			a.sentResults[r.ID] = true
		}
	}
	a.lastSentGoal = ""
}

// forwardResults runs the result phase: every fresh result is either
// recorded into its fan-out group, forwarded to the service, or consumed
// silently when nothing is waiting for it. Reports whether any fresh result
// was processed.
func (a *Adapter) forwardResults(ctx context.Context, sess *session.Session, results []prompt.ToolResult) bool {
	sent := false
	for _, r := range results {
		a.mu.Lock()
		if a.sentResults[r.ID] {
			a.mu.Unlock()
			continue
		}
		if origID, ok := subCallID(r.ID); ok && a.groups[origID] != nil {
			aggregate, done := a.recordSubResultLocked(origID, r)
			a.mu.Unlock()
			sent = true
			if done {
				if err := sess.SendToolResult(ctx, origID, aggregate, ""); err != nil {
					a.log.Warn(ctx, "aggregate result not delivered", "request_id", origID, "error", err.Error())
				}
			}
			continue
		}
		if a.pending[r.ID] {
			a.sentResults[r.ID] = true
			delete(a.pending, r.ID)
			a.mu.Unlock()
			if err := sess.SendToolResult(ctx, r.ID, r.Output, r.Error); err != nil {
				a.log.Warn(ctx, "tool result not delivered", "request_id", r.ID, "error", err.Error())
			}
			sent = true
			continue
		}
		// Unknown ID: consume without forwarding.
		a.sentResults[r.ID] = true
		a.mu.Unlock()
	}
	return sent
}

// recordSubResultLocked files one fan-out sub-result into its group. When
// the group is complete it returns the aggregate JSON for the original
// request and drops the group. Callers must hold mu and have checked the
// group exists.
func (a *Adapter) recordSubResultLocked(origID string, r prompt.ToolResult) (string, bool) {
	a.sentResults[r.ID] = true
	delete(a.pending, r.ID)
	g := a.groups[origID]
	value := r.Output
	if value == "" {
		value = r.Error
	}
	g.collected[r.ID] = value
	if len(g.collected) < len(g.subIDs) {
		return "", false
	}
	delete(a.groups, origID)
	delete(a.pending, origID)
	return g.aggregate(), true
}

// aggregate renders the group as one JSON object keyed by the labels
// captured at expansion time.
func (g *multiCallGroup) aggregate() string {
	obj := make(map[string]any, len(g.subIDs))
	for i, id := range g.subIDs {
		label := g.labels[i]
		if label == "" {
			label = fmt.Sprintf("file_%d", i)
		}
		obj[label] = map[string]any{"content": g.collected[id]}
	}
	data, _ := json.Marshal(obj)
	return string(data)
}

// startWorkflow installs the flow configuration and sends the start request
// for a new goal.
func (a *Adapter) startWorkflow(ctx context.Context, sess *session.Session, messages []prompt.Message, goal string) error {
	sys := prompt.SystemPrompt(messages)
	if sys == "" {
		sys = prompt.DefaultSystemPrompt
	}
	sess.SetFlowConfig(map[string]any{"prompt": prompt.SanitizeSystemPrompt(sys)}, flowConfigSchemaVersion)

	if err := sess.SendStartRequest(ctx, goal, contextItems(messages)); err != nil {
		return err
	}
	a.mu.Lock()
	a.lastSentGoal = goal
	a.mu.Unlock()
	return nil
}

// emitToolCalls translates a service tool request into host tool-call
// events, recording the IDs a future turn will answer. Fan-outs emit one
// call per element under derived sub IDs.
func (a *Adapter) emitToolCalls(out *queue.Queue[stream.Event], req *protocol.ToolRequest) {
	mapped := a.mapper.Map(req.ToolName, req.Args)

	if mapped.Expanded {
		n := len(mapped.Calls)
		g := &multiCallGroup{
			subIDs:    make([]string, n),
			labels:    make([]string, n),
			collected: make(map[string]string, n),
		}
		a.mu.Lock()
		for i, call := range mapped.Calls {
			id := fmt.Sprintf("%s_sub_%d", req.RequestID, i)
			g.subIDs[i] = id
			g.labels[i] = call.Label
			a.pending[id] = true
		}
		a.pending[req.RequestID] = true
		a.groups[req.RequestID] = g
		a.mu.Unlock()

		for i, call := range mapped.Calls {
			a.emitCall(out, g.subIDs[i], call)
		}
		return
	}

	a.mu.Lock()
	a.pending[req.RequestID] = true
	a.mu.Unlock()
	a.emitCall(out, req.RequestID, mapped.Calls[0])
}

// emitCall streams the four-event tool invocation sequence for one call.
func (a *Adapter) emitCall(out *queue.Queue[stream.Event], id string, call toolmap.HostCall) {
	input, _ := json.Marshal(call.Args)
	out.Push(stream.NewToolInputStart(id, call.Name))
	out.Push(stream.NewToolInputDelta(id, string(input)))
	out.Push(stream.NewToolInputEnd(id))
	out.Push(stream.NewToolCall(id, call.Name, call.Args))
	a.metrics.IncCounter("bridge_tool_calls_emitted", 1, "tool", call.Name)
}

func (a *Adapter) lastGoal() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSentGoal
}

// contextItems builds the additional-context block sent with a new goal.
func contextItems(messages []prompt.Message) []protocol.ContextItem {
	items := []protocol.ContextItem{
		{Category: contextOSInformation, ID: uuid.NewString(), Content: osInformation()},
		{Category: contextUserRule, ID: uuid.NewString(), Content: prompt.SystemRules},
	}
	if reminders := prompt.AgentReminders(messages); len(reminders) > 0 {
		items = append(items, protocol.ContextItem{
			Category: contextAgentContext,
			ID:       uuid.NewString(),
			Content:  strings.Join(reminders, "\n\n"),
		})
	}
	return items
}

func osInformation() string {
	return fmt.Sprintf("Operating system: %s\nArchitecture: %s", runtime.GOOS, runtime.GOARCH)
}

// subCallID splits a fan-out result ID into the original request ID. Only
// IDs of the form <origID>_sub_<n> with a numeric suffix qualify.
func subCallID(id string) (string, bool) {
	i := strings.LastIndex(id, "_sub_")
	if i <= 0 {
		return "", false
	}
	suffix := id[i+len("_sub_"):]
	if suffix == "" {
		return "", false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return id[:i], true
}
