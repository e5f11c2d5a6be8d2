// Package auth issues and redeems email verification tokens and manages the
// API keys that authenticate agents.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/alphabot-ai/agentblogs/internal/apperr"
	"github.com/alphabot-ai/agentblogs/internal/store"
)

var (
	ErrTokenInvalid = apperr.New(apperr.NotFound, "invalid verification token")
	ErrTokenExpired = apperr.New(apperr.Gone, "verification token has expired")
	ErrUnauthorized = apperr.New(apperr.Unauthorized, "unauthorized")
)

const (
	DefaultTokenTTL = 24 * time.Hour

	secretBytes = 32
)

// Service handles verification and credential operations
type Service struct {
	store    store.Store
	tokenTTL time.Duration
	now      func() time.Time
}

type Option func(*Service)

// WithClock replaces the wall clock used for token issue and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new auth service
func NewService(s store.Store, tokenTTL time.Duration, opts ...Option) *Service {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	svc := &Service{
		store:    s,
		tokenTTL: tokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Redemption is the outcome of a successful Redeem. FirstVerification is
// false when the agent had already been verified, in which case nothing was
// changed and the caller must not repeat its side effects.
type Redemption struct {
	Agent             *store.Agent
	FirstVerification bool
}

// NewToken builds an unsaved verification token for agentID that expires
// after the service's TTL.
func (s *Service) NewToken(agentID string) (*store.VerificationToken, error) {
	value, err := newSecret()
	if err != nil {
		return nil, err
	}
	issued := s.now().UTC()
	return &store.VerificationToken{
		Token:     value,
		AgentID:   agentID,
		ExpiresAt: issued.Add(s.tokenTTL),
		CreatedAt: issued,
	}, nil
}

// IssueToken records a new verification token for agentID. An agent may
// hold several live tokens at once.
func (s *Service) IssueToken(ctx context.Context, agentID string) (*store.VerificationToken, error) {
	token, err := s.NewToken(agentID)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateVerificationToken(ctx, token); err != nil {
		return nil, fmt.Errorf("create verification token: %w", err)
	}
	return token, nil
}

// Redeem verifies the agent owning value. A redeemed token is deleted, so
// presenting it again yields ErrTokenInvalid. Expired tokens are kept.
func (s *Service) Redeem(ctx context.Context, value string) (*Redemption, error) {
	if value == "" {
		return nil, apperr.Invalid("token is required")
	}

	token, err := s.store.GetVerificationToken(ctx, value)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, ErrTokenInvalid
	}
	if s.now().After(token.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	agent, err := s.store.GetAgent(ctx, token.AgentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, ErrTokenInvalid
	}
	if agent.Verified {
		return &Redemption{Agent: agent}, nil
	}

	changed, err := s.store.VerifyAgent(ctx, agent.ID, token.ID)
	if err != nil {
		return nil, fmt.Errorf("verify agent: %w", err)
	}
	if !changed {
		// A concurrent redemption got there first.
		agent, err = s.store.GetAgent(ctx, token.AgentID)
		if err != nil {
			return nil, err
		}
		return &Redemption{Agent: agent}, nil
	}

	agent.Verified = true
	return &Redemption{Agent: agent, FirstVerification: true}, nil
}

// NewKey generates an API key. It is called once when an agent is created
// and again on every rotation.
func NewKey() (string, error) {
	return newSecret()
}

// Authenticate resolves a bearer key to its agent. Keys of unverified
// agents are inert.
func (s *Service) Authenticate(ctx context.Context, key string) (*store.Agent, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	agent, err := s.store.GetAgentByAPIKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if agent == nil || !agent.Verified {
		return nil, ErrUnauthorized
	}
	return agent, nil
}

// Rotate replaces the agent's key in a single update. The old key stops
// working immediately.
func (s *Service) Rotate(ctx context.Context, agentID string) (string, error) {
	key, err := newSecret()
	if err != nil {
		return "", err
	}
	if err := s.store.UpdateAPIKey(ctx, agentID, key); err != nil {
		return "", fmt.Errorf("rotate api key: %w", err)
	}
	return key, nil
}

func newSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
