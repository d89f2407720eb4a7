package session

import (
	"context"
	"sync"
	"time"

	"github.com/duoflow/bridge/gitlab"
	"github.com/duoflow/bridge/protocol"
	"github.com/duoflow/bridge/telemetry"
	"github.com/duoflow/bridge/token"
)

type (
	// WorkflowStore persists the session-key to workflow-ID mapping across
	// process restarts. *store.Store implements it; failures must be
	// swallowed by the implementation, the registry treats every call as
	// best-effort.
	WorkflowStore interface {
		Lookup(ctx context.Context, key string) (string, bool)
		Record(ctx context.Context, key, workflowID string)
	}

	// RegistryConfig carries the process-wide collaborators shared by all
	// sessions.
	RegistryConfig struct {
		// Client talks to the configured instance.
		Client *gitlab.Client
		// Store resumes workflows across restarts. Optional.
		Store WorkflowStore
		// ClientVersion is reported on start requests.
		ClientVersion string
		// CWD is the host working directory.
		CWD string
		// ProjectPath is the project workflows run against, when known.
		ProjectPath string
		// RootNamespaceID scopes direct-access token issuance.
		RootNamespaceID string
		// MCPTools advertises host tools to the service.
		MCPTools []protocol.MCPTool

		ConnectTimeout     time.Duration
		HeartbeatInterval  time.Duration
		KeepaliveInterval  time.Duration
		PassthroughTimeout time.Duration

		// DebugLogPath enables best-effort protocol logging.
		DebugLogPath string

		Logger  telemetry.Logger
		Metrics telemetry.Metrics
	}

	// Registry is the process-wide session map. Sessions are created on
	// first resolve and live until disposed.
	Registry struct {
		cfg RegistryConfig

		mu       sync.Mutex
		sessions map[string]*Session
		tokens   map[string]*token.Service
	}
)

// NewRegistry builds an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewMetrics()
	}
	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		tokens:   make(map[string]*token.Service),
	}
}

// Resolve returns the session for key, creating it on first use. A stored
// workflow ID for the key marks the new session resumed.
func (r *Registry) Resolve(ctx context.Context, key Key) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key.String()]; ok {
		return s
	}

	cfg := Config{
		Client:             r.cfg.Client,
		Tokens:             r.tokensLocked(key.ModelID),
		ClientVersion:      r.cfg.ClientVersion,
		CWD:                r.cfg.CWD,
		ProjectPath:        r.cfg.ProjectPath,
		RootNamespaceID:    r.cfg.RootNamespaceID,
		MCPTools:           r.cfg.MCPTools,
		ConnectTimeout:     r.cfg.ConnectTimeout,
		HeartbeatInterval:  r.cfg.HeartbeatInterval,
		KeepaliveInterval:  r.cfg.KeepaliveInterval,
		PassthroughTimeout: r.cfg.PassthroughTimeout,
		DebugLogPath:       r.cfg.DebugLogPath,
		Logger:             r.cfg.Logger,
		Metrics:            r.cfg.Metrics,
	}
	if r.cfg.Store != nil {
		if id, ok := r.cfg.Store.Lookup(ctx, key.String()); ok {
			cfg.WorkflowID = id
			r.cfg.Logger.Debug(ctx, "resuming stored workflow", "workflow_id", id, "session", key.HostSessionID)
		}
	}

	s := New(key, cfg)
	if r.cfg.Store != nil {
		store := r.cfg.Store
		s.onWorkflowCreated = func(ctx context.Context, workflowID string) {
			store.Record(ctx, key.String(), workflowID)
		}
	}
	r.sessions[key.String()] = s
	r.cfg.Metrics.IncCounter("bridge_sessions_created", 1)
	return s
}

// tokensLocked returns the token service for a workflow definition,
// creating it on first use. Callers must hold mu.
func (r *Registry) tokensLocked(workflowDefinition string) *token.Service {
	if svc, ok := r.tokens[workflowDefinition]; ok {
		return svc
	}
	svc := token.NewService(r.cfg.Client, workflowDefinition, token.WithLogger(r.cfg.Logger))
	r.tokens[workflowDefinition] = svc
	return svc
}

// Dispose aborts and forgets the session for key, if any. The stored
// workflow mapping survives so a later process can resume.
func (r *Registry) Dispose(ctx context.Context, key Key) {
	r.mu.Lock()
	s, ok := r.sessions[key.String()]
	delete(r.sessions, key.String())
	r.mu.Unlock()

	if ok {
		s.Abort(ctx)
		s.debug.close()
	}
}

// Close disposes every live session. Used at process shutdown.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Abort(ctx)
		s.debug.close()
	}
}
