// Package token caches the short-lived direct-access credentials issued
// for workflow sessions. Each namespace gets its own entry; the cached
// credential is served until shortly before the instance-reported expiry.
// Issuance failures are soft — callers treat them as credential absence and
// proceed without extended metadata.
package token

import (
	"context"
	"sync"
	"time"

	"github.com/duoflow/bridge/bridgeerr"
	"github.com/duoflow/bridge/gitlab"
	"github.com/duoflow/bridge/telemetry"
)

const (
	// DefaultMargin is subtracted from the reported expiry so a credential
	// never dies mid-handshake.
	DefaultMargin = 60 * time.Second
	// DefaultTTL applies when the instance reports no finite expiry.
	DefaultTTL = 5 * time.Minute
)

type (
	// Issuer requests fresh credentials. *gitlab.Client implements it.
	Issuer interface {
		DirectAccess(ctx context.Context, req gitlab.DirectAccessRequest) (*gitlab.DirectAccessResponse, error)
	}

	// Token is one cached credential set for the workflow service.
	Token struct {
		// Value is the bearer token.
		Value string
		// BaseURL is the workflow-service endpoint the credential targets.
		BaseURL string
		// Headers carries extra handshake headers issued with the token.
		Headers map[string]string
		// ExpiresAt is when the entry stops being served from cache.
		ExpiresAt time.Time
	}

	// Service caches tokens per namespace ID.
	Service struct {
		issuer             Issuer
		workflowDefinition string
		margin             time.Duration
		now                func() time.Time
		log                telemetry.Logger

		mu    sync.Mutex
		cache map[string]*Token
	}

	// Option configures the Service.
	Option func(*Service)
)

// WithMargin overrides the safety margin subtracted from reported expiry.
func WithMargin(d time.Duration) Option {
	return func(s *Service) {
		s.margin = d
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger overrides the logger.
func WithLogger(l telemetry.Logger) Option {
	return func(s *Service) {
		s.log = l
	}
}

// NewService constructs a Service issuing credentials for the given
// workflow definition.
func NewService(issuer Issuer, workflowDefinition string, opts ...Option) *Service {
	s := &Service{
		issuer:             issuer,
		workflowDefinition: workflowDefinition,
		margin:             DefaultMargin,
		now:                time.Now,
		log:                telemetry.NewLogger(),
		cache:              make(map[string]*Token),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Get returns a live credential for the namespace, issuing a fresh one when
// the cache has none or the cached entry expired. Errors carry
// KindTokenUnavailable and are soft: treat them as credential absence.
func (s *Service) Get(ctx context.Context, namespaceID string) (*Token, error) {
	s.mu.Lock()
	if tok, ok := s.cache[namespaceID]; ok && tok.ExpiresAt.After(s.now()) {
		s.mu.Unlock()
		return tok, nil
	}
	s.mu.Unlock()

	access, err := s.issuer.DirectAccess(ctx, gitlab.DirectAccessRequest{
		WorkflowDefinition: s.workflowDefinition,
		RootNamespaceID:    namespaceID,
	})
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindTokenUnavailable, "issue direct access token", err)
	}
	if access.WorkflowService.Token == "" {
		return nil, bridgeerr.New(bridgeerr.KindTokenUnavailable, "direct access response carries no token")
	}

	tok := &Token{
		Value:     access.WorkflowService.Token,
		BaseURL:   access.WorkflowService.BaseURL,
		Headers:   access.WorkflowService.Headers,
		ExpiresAt: s.expiry(access),
	}
	s.mu.Lock()
	s.cache[namespaceID] = tok
	s.mu.Unlock()
	s.log.Debug(ctx, "issued direct access token", "namespace", namespaceID, "expires_at", tok.ExpiresAt)
	return tok, nil
}

// expiry picks the earlier of the two expiry channels the instance reports,
// minus the margin, floored at one second from now. Without a finite expiry
// the default TTL applies.
func (s *Service) expiry(access *gitlab.DirectAccessResponse) time.Time {
	now := s.now()
	var candidates []time.Time
	if secs := access.WorkflowService.TokenExpiresAt; secs > 0 {
		candidates = append(candidates, time.Unix(secs, 0))
	}
	if raw := access.GitLabRails.TokenExpiresAt; raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return now.Add(DefaultTTL)
	}
	exp := candidates[0]
	for _, c := range candidates[1:] {
		if c.Before(exp) {
			exp = c
		}
	}
	exp = exp.Add(-s.margin)
	if floor := now.Add(time.Second); exp.Before(floor) {
		return floor
	}
	return exp
}
