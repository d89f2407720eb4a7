// Package bridge assembles the workflow bridge: a host-facing model adapter
// backed by per-session connections to a GitLab Duo Workflow service. New
// wires the REST client, the workflow-ID store, the session registry and the
// adapter from one configuration; everything underneath is also usable on
// its own.
package bridge

import (
	"context"

	"github.com/duoflow/bridge/adapter"
	"github.com/duoflow/bridge/config"
	"github.com/duoflow/bridge/gitlab"
	"github.com/duoflow/bridge/protocol"
	"github.com/duoflow/bridge/session"
	"github.com/duoflow/bridge/store"
	"github.com/duoflow/bridge/telemetry"
)

type (
	// Option adjusts bridge assembly.
	Option func(*options)

	options struct {
		logger   telemetry.Logger
		metrics  telemetry.Metrics
		mcpTools []protocol.MCPTool
		cwd      string
		noStore  bool
	}
)

// WithLogger overrides the default Clue-backed logger.
func WithLogger(l telemetry.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics overrides the default OTEL-backed metrics.
func WithMetrics(m telemetry.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithMCPTools advertises host tools to the workflow service.
func WithMCPTools(tools []protocol.MCPTool) Option {
	return func(o *options) {
		o.mcpTools = tools
	}
}

// WithCWD reports the host working directory to new sessions.
func WithCWD(dir string) Option {
	return func(o *options) {
		o.cwd = dir
	}
}

// WithoutStore disables workflow-ID persistence; every process start then
// creates fresh workflows.
func WithoutStore() Option {
	return func(o *options) {
		o.noStore = true
	}
}

// New builds the model adapter for cfg and returns it with a cleanup
// function that aborts every live session. The configuration must validate.
func New(cfg *config.Config, opts ...Option) (*adapter.Adapter, func(context.Context), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	o := options{
		logger:  telemetry.NewLogger(),
		metrics: telemetry.NewMetrics(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	client := gitlab.New(cfg.InstanceURL, gitlab.WithBearerToken(cfg.PrivateToken))

	var workflows session.WorkflowStore
	if !o.noStore {
		path := cfg.StorePath
		if path == "" {
			path = store.DefaultPath()
		}
		workflows = store.New(path, store.WithLogger(o.logger))
	}

	registry := session.NewRegistry(session.RegistryConfig{
		Client:             client,
		Store:              workflows,
		ClientVersion:      cfg.ClientVersion,
		CWD:                o.cwd,
		ProjectPath:        cfg.ProjectID,
		RootNamespaceID:    cfg.RootNamespaceID,
		MCPTools:           o.mcpTools,
		ConnectTimeout:     cfg.ConnectTimeout.Std(),
		HeartbeatInterval:  cfg.HeartbeatInterval.Std(),
		KeepaliveInterval:  cfg.KeepaliveInterval.Std(),
		PassthroughTimeout: cfg.PassthroughTimeout.Std(),
		DebugLogPath:       cfg.DebugLogPath,
		Logger:             o.logger,
		Metrics:            o.metrics,
	})

	a := adapter.New(adapter.Config{
		Registry:    registry,
		ProviderID:  cfg.ProviderID,
		ModelID:     cfg.WorkflowDefinition,
		InstanceURL: cfg.InstanceURL,
		Logger:      o.logger,
		Metrics:     o.metrics,
	})

	cleanup := func(ctx context.Context) {
		registry.Close(ctx)
	}
	return a, cleanup, nil
}
