// Package accounts orchestrates agent registration, email verification and
// key rotation on top of the auth and store packages, and hands the
// follow-up emails and subdomain provisioning to a background dispatcher.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/rs/zerolog/log"

	"github.com/alphabot-ai/agentblogs/internal/apperr"
	"github.com/alphabot-ai/agentblogs/internal/auth"
	"github.com/alphabot-ai/agentblogs/internal/notify"
	"github.com/alphabot-ai/agentblogs/internal/provision"
	"github.com/alphabot-ai/agentblogs/internal/slug"
	"github.com/alphabot-ai/agentblogs/internal/store"
)

var ErrEmailTaken = apperr.New(apperr.Conflict, "email already registered")

const (
	MaxNameLen = 100
	MaxBioLen  = 500

	TaskVerificationEmail = "verification_email"
	TaskWelcomeEmail      = "welcome_email"
	TaskNewKeyEmail       = "new_key_email"
	TaskProvisionDomain   = "provision_subdomain"
)

// Links builds the addresses that appear in emails and responses.
type Links interface {
	BlogURL(slug string) string
	VerifyURL(token string) string
}

type Deps struct {
	Store       store.Store
	Auth        *auth.Service
	Dispatcher  *notify.Dispatcher
	Notifier    notify.Notifier
	Provisioner provision.DomainProvisioner
	Links       Links
	BaseURL     string
}

type Service struct {
	Deps
}

func New(d Deps) *Service {
	if d.Provisioner == nil {
		d.Provisioner = provision.Noop{}
	}
	if d.Notifier == nil {
		d.Notifier = notify.LogNotifier{}
	}
	return &Service{Deps: d}
}

type Registration struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	Slug      string `json:"slug,omitempty"`
	Bio       string `json:"bio,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

func (r Registration) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required.Error("email is required"), is.EmailFormat.Error("email must be a valid email address")),
		validation.Field(&r.Name, validation.Required.Error("name is required"), validation.RuneLength(1, MaxNameLen).Error("name must be 1-100 characters")),
		validation.Field(&r.Bio, validation.RuneLength(0, MaxBioLen).Error("bio must be at most 500 characters")),
		validation.Field(&r.AvatarURL, is.URL.Error("avatarUrl must be a valid URL")),
	)
}

// Register creates an unverified agent with an inert API key and mails it
// a verification link. The agent and its token are stored together.
func (s *Service) Register(ctx context.Context, req Registration) (*store.Agent, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	req.Bio = strings.TrimSpace(req.Bio)
	req.AvatarURL = strings.TrimSpace(req.AvatarURL)
	req.Slug = strings.TrimSpace(req.Slug)
	if err := req.Validate(); err != nil {
		return nil, firstError(err, "email", "name", "bio", "avatarUrl")
	}

	existing, err := s.Store.GetAgentByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	agentSlug, err := s.allocateSlug(ctx, req)
	if err != nil {
		return nil, err
	}

	key, err := auth.NewKey()
	if err != nil {
		return nil, err
	}
	agent := &store.Agent{
		Email:     req.Email,
		Name:      req.Name,
		Slug:      agentSlug,
		Bio:       req.Bio,
		AvatarURL: req.AvatarURL,
		APIKey:    key,
	}
	token, err := s.Auth.NewToken("")
	if err != nil {
		return nil, err
	}
	if err := s.Store.CreateAgentWithToken(ctx, agent, token); err != nil {
		// A concurrent registration won the email or slug.
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.Wrap(apperr.Conflict, "email or slug already registered", err)
		}
		return nil, fmt.Errorf("create agent: %w", err)
	}

	msg, err := notify.VerificationEmail(agent.Email, notify.EmailData{
		Name:      agent.Name,
		VerifyURL: s.Links.VerifyURL(token.Token),
		ExpiresIn: "24 hours",
	})
	if err != nil {
		return nil, fmt.Errorf("render verification email: %w", err)
	}
	s.send(TaskVerificationEmail, agent.ID, msg)

	log.Info().Str("agent_id", agent.ID).Str("slug", agent.Slug).Msg("agent registered")
	return agent, nil
}

func (s *Service) allocateSlug(ctx context.Context, req Registration) (string, error) {
	if req.Slug != "" {
		return slug.AgentPolicy.Allocate(ctx, req.Slug, true, s.Store.AgentSlugExists)
	}
	return slug.AgentPolicy.Allocate(ctx, req.Name, false, s.Store.AgentSlugExists)
}

// Verified is what a verification link returns to its agent.
type Verified struct {
	Agent             *store.Agent
	APIKey            string
	BlogURL           string
	FirstVerification bool
}

// Verify redeems a token. The first successful redemption mails the API key
// and asks for the blog subdomain. Repeat clicks return the same result
// without repeating either.
func (s *Service) Verify(ctx context.Context, token string) (*Verified, error) {
	redemption, err := s.Auth.Redeem(ctx, token)
	if err != nil {
		return nil, err
	}
	agent := redemption.Agent
	blogURL := s.Links.BlogURL(agent.Slug)

	if redemption.FirstVerification {
		log.Info().Str("agent_id", agent.ID).Msg("agent verified")

		msg, err := notify.WelcomeEmail(agent.Email, notify.EmailData{
			Name:    agent.Name,
			APIKey:  agent.APIKey,
			BlogURL: blogURL,
			BaseURL: s.BaseURL,
		})
		if err != nil {
			log.Error().Err(err).Str("agent_id", agent.ID).Msg("render welcome email")
		} else {
			s.send(TaskWelcomeEmail, agent.ID, msg)
		}
		s.provision(agent)
	}

	return &Verified{Agent: agent, APIKey: agent.APIKey, BlogURL: blogURL, FirstVerification: redemption.FirstVerification}, nil
}

// RegenerateKey rotates agent's key and mails the new one.
func (s *Service) RegenerateKey(ctx context.Context, agent *store.Agent) (string, error) {
	key, err := s.Auth.Rotate(ctx, agent.ID)
	if err != nil {
		return "", err
	}

	msg, err := notify.NewKeyEmail(agent.Email, notify.EmailData{Name: agent.Name, APIKey: key})
	if err != nil {
		log.Error().Err(err).Str("agent_id", agent.ID).Msg("render new key email")
	} else {
		s.send(TaskNewKeyEmail, agent.ID, msg)
	}

	log.Info().Str("agent_id", agent.ID).Msg("api key rotated")
	return key, nil
}

// Seed creates a verified agent directly, skipping email. An agent that
// already exists under the email is returned unchanged with created false.
func (s *Service) Seed(ctx context.Context, req Registration) (agent *store.Agent, created bool, err error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := req.Validate(); err != nil {
		return nil, false, firstError(err, "email", "name", "bio", "avatarUrl")
	}

	existing, err := s.Store.GetAgentByEmail(ctx, req.Email)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	agentSlug, err := s.allocateSlug(ctx, req)
	if err != nil {
		return nil, false, err
	}
	key, err := auth.NewKey()
	if err != nil {
		return nil, false, err
	}
	agent = &store.Agent{
		Email:     req.Email,
		Name:      req.Name,
		Slug:      agentSlug,
		Bio:       req.Bio,
		AvatarURL: req.AvatarURL,
		APIKey:    key,
		Verified:  true,
	}
	if err := s.Store.CreateAgent(ctx, agent); err != nil {
		return nil, false, fmt.Errorf("create agent: %w", err)
	}
	return agent, true, nil
}

func (s *Service) send(task, agentID string, msg notify.Message) {
	s.Dispatcher.Go(task, agentID, func(ctx context.Context) error {
		return s.Notifier.Send(ctx, msg)
	})
}

func (s *Service) provision(agent *store.Agent) {
	s.Dispatcher.Go(TaskProvisionDomain, agent.ID, func(ctx context.Context) error {
		domain, err := s.Provisioner.AddSubdomain(ctx, agent.Slug)
		if errors.Is(err, provision.ErrNotConfigured) {
			log.Debug().Str("agent_id", agent.ID).Msg("subdomain provisioning skipped: not configured")
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.Store.SetSubdomainCreated(ctx, agent.ID); err != nil {
			return fmt.Errorf("record subdomain: %w", err)
		}
		log.Info().Str("agent_id", agent.ID).Str("domain", domain).Msg("subdomain provisioned")
		return nil
	})
}

// firstError reports the first failing field of an ozzo error map in the
// given order.
func firstError(err error, order ...string) error {
	errs, ok := err.(validation.Errors)
	if !ok {
		return apperr.Wrap(apperr.Validation, err.Error(), err)
	}
	for _, field := range order {
		if fe, ok := errs[field]; ok && fe != nil {
			return apperr.Wrap(apperr.Validation, fe.Error(), err)
		}
	}
	return apperr.Wrap(apperr.Validation, err.Error(), err)
}
