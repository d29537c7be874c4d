// Package token caches and refreshes short-lived Service-access tokens
// keyed by namespace, fetching new tokens through the Service's
// direct_access REST endpoint.
package token

import (
	"context"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/duo-workflow-bridge/bridge/pkg/bridgelog"
)

// DefaultSafetyMargin is subtracted from a token's computed expiry so
// refresh happens slightly ahead of actual expiration.
const DefaultSafetyMargin = 60 * time.Second

// DefaultWindow is used when neither expiry field in the direct_access
// response is finite and the token carries no readable "exp" claim.
const DefaultWindow = 5 * time.Minute

// DirectAccessResponse is the decoded body of a direct_access call.
type DirectAccessResponse struct {
	Token                     string
	WorkflowServiceExpiresAt  *int64  // unix seconds
	GitlabRailsTokenExpiresAt *string // ISO-8601
}

// FetchFunc performs the direct_access REST call for a given workflow
// definition and (optional) root namespace ID.
type FetchFunc func(ctx context.Context, workflowDefinition, rootNamespaceID string) (*DirectAccessResponse, error)

// Token is a cached Service-access token.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Service caches tokens per namespace ID (the empty string is a valid
// namespace key, meaning "no namespace scoping").
type Service struct {
	mu                 sync.Mutex
	cache              map[string]Token
	fetch              FetchFunc
	workflowDefinition string
	safetyMargin       time.Duration
	defaultWindow      time.Duration
	now                func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithSafetyMargin overrides DefaultSafetyMargin.
func WithSafetyMargin(d time.Duration) Option {
	return func(s *Service) { s.safetyMargin = d }
}

// WithDefaultWindow overrides DefaultWindow.
func WithDefaultWindow(d time.Duration) Option {
	return func(s *Service) { s.defaultWindow = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service that fetches tokens for workflowDefinition via
// fetch.
func New(workflowDefinition string, fetch FetchFunc, opts ...Option) *Service {
	s := &Service{
		cache:              make(map[string]Token),
		fetch:              fetch,
		workflowDefinition: workflowDefinition,
		safetyMargin:       DefaultSafetyMargin,
		defaultWindow:      DefaultWindow,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a cached, unexpired token for namespaceID, fetching and
// caching a fresh one otherwise. On fetch failure it returns (nil, nil):
// token acquisition failure is soft, per spec — callers proceed without
// extended metadata rather than failing the turn.
func (s *Service) Get(ctx context.Context, namespaceID string) (*Token, error) {
	s.mu.Lock()
	if cached, ok := s.cache[namespaceID]; ok && cached.ExpiresAt.After(s.now()) {
		s.mu.Unlock()
		return &cached, nil
	}
	s.mu.Unlock()

	resp, err := s.fetch(ctx, s.workflowDefinition, namespaceID)
	if err != nil {
		bridgelog.Warn(ctx, "token fetch failed, proceeding without token", "error", err, "namespace_id", namespaceID)
		return nil, nil
	}

	expiresAt := s.computeExpiry(resp)
	tok := Token{Value: resp.Token, ExpiresAt: expiresAt}

	s.mu.Lock()
	s.cache[namespaceID] = tok
	s.mu.Unlock()
	return &tok, nil
}

func (s *Service) computeExpiry(resp *DirectAccessResponse) time.Time {
	now := s.now()
	var candidates []time.Time

	if resp.WorkflowServiceExpiresAt != nil {
		candidates = append(candidates, time.Unix(*resp.WorkflowServiceExpiresAt, 0))
	}
	if resp.GitlabRailsTokenExpiresAt != nil {
		if t, err := time.Parse(time.RFC3339, *resp.GitlabRailsTokenExpiresAt); err == nil {
			candidates = append(candidates, t)
		}
	}
	// Fall back to peeking at the token's own "exp" claim (unverified —
	// the Service is already our trusted issuer at this point) when the
	// REST envelope omitted both explicit expiry fields.
	if len(candidates) == 0 {
		if tok, err := jwt.Parse([]byte(resp.Token), jwt.WithVerify(false), jwt.WithValidate(false)); err == nil {
			if exp, ok := tok.Expiration(); ok {
				candidates = append(candidates, exp)
			}
		}
	}

	if len(candidates) == 0 {
		return now.Add(s.defaultWindow)
	}

	earliest := candidates[0]
	for _, c := range candidates[1:] {
		if c.Before(earliest) {
			earliest = c
		}
	}

	expiry := earliest.Add(-s.safetyMargin)
	floor := now.Add(1 * time.Second)
	if expiry.Before(floor) {
		return floor
	}
	return expiry
}
