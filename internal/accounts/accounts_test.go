package accounts

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alphabot-ai/agentblogs/internal/apperr"
	"github.com/alphabot-ai/agentblogs/internal/auth"
	"github.com/alphabot-ai/agentblogs/internal/notify"
	"github.com/alphabot-ai/agentblogs/internal/provision"
	"github.com/alphabot-ai/agentblogs/internal/slug"
	"github.com/alphabot-ai/agentblogs/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type links struct{}

func (links) BlogURL(s string) string   { return "https://" + s + ".eggbrt.com" }
func (links) VerifyURL(t string) string { return "https://eggbrt.com/api/verify?token=" + t }

type fakeProvisioner struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (p *fakeProvisioner) AddSubdomain(_ context.Context, s string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, s)
	if p.err != nil {
		return "", p.err
	}
	return s + ".eggbrt.com", nil
}

func (p *fakeProvisioner) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type fixture struct {
	svc         *Service
	store       *store.SQLStore
	outbox      *notify.Outbox
	provisioner *fakeProvisioner
	dispatcher  *notify.Dispatcher
}

func setup(t *testing.T) *fixture {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "agentblogs-accounts-test-*.db")
	require.NoError(t, err)
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	s, err := store.NewSQLiteStore(tmpFile.Name())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		store:       s,
		outbox:      &notify.Outbox{},
		provisioner: &fakeProvisioner{},
		dispatcher:  notify.NewDispatcher(time.Second),
	}
	f.svc = New(Deps{
		Store:       s,
		Auth:        auth.NewService(s, auth.DefaultTokenTTL),
		Dispatcher:  f.dispatcher,
		Notifier:    f.outbox,
		Provisioner: f.provisioner,
		Links:       links{},
		BaseURL:     "https://eggbrt.com",
	})
	return f
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.dispatcher.Wait(ctx))
}

// tokenFromEmail pulls the verification token out of the mailed link.
func tokenFromEmail(t *testing.T, msg notify.Message) string {
	t.Helper()
	_, rest, ok := strings.Cut(msg.HTML, "token=")
	require.True(t, ok, "verification link missing")
	end := strings.IndexAny(rest, `"<`)
	require.Positive(t, end)
	return rest[:end]
}

func TestRegister(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	agent, err := f.svc.Register(ctx, Registration{Email: "  A@X.com ", Name: "Bot A"})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", agent.Email)
	assert.Equal(t, "bot-a", agent.Slug)
	assert.False(t, agent.Verified)
	assert.NotEmpty(t, agent.APIKey)

	f.drain(t)
	sent := f.outbox.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "a@x.com", sent[0].To)
	assert.Equal(t, "Verify your AI Agent Blog", sent[0].Subject)
	assert.Contains(t, sent[0].HTML, "24 hours")

	second, err := f.svc.Register(ctx, Registration{Email: "b@x.com", Name: "Bot A"})
	require.NoError(t, err)
	assert.Equal(t, "bot-a-1", second.Slug)
}

// reusedToken stores the next registration with a token value that is
// already taken, so the token insert fails after the agent insert.
type reusedToken struct {
	*store.SQLStore
	value string
}

func (r *reusedToken) CreateAgentWithToken(ctx context.Context, agent *store.Agent, token *store.VerificationToken) error {
	if r.value != "" {
		token.Token, r.value = r.value, ""
	}
	return r.SQLStore.CreateAgentWithToken(ctx, agent, token)
}

func TestRegisterFailedTokenLeavesNoAgent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, Registration{Email: "first@x.com", Name: "First"})
	require.NoError(t, err)
	f.drain(t)
	require.Len(t, f.outbox.Sent(), 1)

	clash := &reusedToken{SQLStore: f.store, value: tokenFromEmail(t, f.outbox.Sent()[0])}
	svc := New(Deps{
		Store:      clash,
		Auth:       auth.NewService(clash, auth.DefaultTokenTTL),
		Dispatcher: f.dispatcher,
		Notifier:   f.outbox,
		Links:      links{},
	})

	_, err = svc.Register(ctx, Registration{Email: "second@x.com", Name: "Second"})
	require.Error(t, err)
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))

	orphan, err := f.store.GetAgentByEmail(ctx, "second@x.com")
	require.NoError(t, err)
	assert.Nil(t, orphan)

	again, err := svc.Register(ctx, Registration{Email: "second@x.com", Name: "Second"})
	require.NoError(t, err)
	assert.Equal(t, "second", again.Slug)

	f.drain(t)
	sent := f.outbox.Sent()
	require.Len(t, sent, 2)
	token, err := f.store.GetVerificationToken(ctx, tokenFromEmail(t, sent[1]))
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, again.ID, token.AgentID)
}

func TestRegisterSlugGrammar(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	names := []string{"Hello World!!", "admin", "x", "___", "Émile Zola", strings.Repeat("long name ", 9)}
	for i, name := range names {
		agent, err := f.svc.Register(ctx, Registration{Email: string(rune('a'+i)) + "@x.com", Name: name})
		require.NoError(t, err, name)
		assert.NoError(t, slug.AgentPolicy.Check(agent.Slug), "slug %q from %q", agent.Slug, name)
		assert.False(t, slug.AgentPolicy.IsReserved(agent.Slug))
	}
}

func TestRegisterErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, Registration{Email: "a@x.com", Name: "Bot A", Slug: "taken-one"})
	require.NoError(t, err)

	tests := []struct {
		name     string
		req      Registration
		wantKind apperr.Kind
		wantMsg  string
	}{
		{"missing email", Registration{Name: "x"}, apperr.Validation, "email is required"},
		{"bad email", Registration{Email: "nope", Name: "x"}, apperr.Validation, "email must be a valid email address"},
		{"missing name", Registration{Email: "n@x.com", Name: "   "}, apperr.Validation, "name is required"},
		{"long name", Registration{Email: "n@x.com", Name: strings.Repeat("n", 101)}, apperr.Validation, "name must be 1-100 characters"},
		{"long bio", Registration{Email: "n@x.com", Name: "x", Bio: strings.Repeat("b", 501)}, apperr.Validation, "bio must be at most 500 characters"},
		{"bad avatar", Registration{Email: "n@x.com", Name: "x", AvatarURL: "not a url"}, apperr.Validation, "avatarUrl must be a valid URL"},
		{"email taken", Registration{Email: "A@x.com", Name: "Other"}, apperr.Conflict, "email already registered"},
		{"slug taken", Registration{Email: "n@x.com", Name: "x", Slug: "Taken-One"}, apperr.Conflict, "slug is already taken"},
		{"slug reserved", Registration{Email: "n@x.com", Name: "x", Slug: "api"}, apperr.Validation, `slug "api" is reserved`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))
			assert.Equal(t, tt.wantMsg, apperr.Message(err))
		})
	}

	var invalid *slug.InvalidError
	_, err = f.svc.Register(ctx, Registration{Email: "n@x.com", Name: "x", Slug: "www"})
	require.ErrorAs(t, err, &invalid)
	assert.True(t, invalid.Reserved)
}

func TestVerify(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	agent, err := f.svc.Register(ctx, Registration{Email: "a@x.com", Name: "Bot A"})
	require.NoError(t, err)
	f.drain(t)
	token := tokenFromEmail(t, f.outbox.Sent()[0])

	got, err := f.svc.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, agent.APIKey, got.APIKey)
	assert.Equal(t, "https://bot-a.eggbrt.com", got.BlogURL)
	assert.True(t, got.Agent.Verified)

	f.drain(t)
	sent := f.outbox.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "Your AI Agent Blog is Ready!", sent[1].Subject)
	assert.Contains(t, sent[1].HTML, agent.APIKey)
	assert.Equal(t, []string{"bot-a"}, f.provisioner.Calls())

	stored, err := f.store.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.True(t, stored.SubdomainCreated)

	// The token is gone after redemption.
	_, err = f.svc.Verify(ctx, token)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestVerifySideEffectFailuresAreSwallowed(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	agent, err := f.svc.Register(ctx, Registration{Email: "a@x.com", Name: "Bot A"})
	require.NoError(t, err)
	f.drain(t)
	token := tokenFromEmail(t, f.outbox.Sent()[0])

	f.outbox.Fail(errors.New("smtp down"))
	f.provisioner.err = errors.New("vercel down")

	got, err := f.svc.Verify(ctx, token)
	require.NoError(t, err)
	assert.True(t, got.Agent.Verified)
	f.drain(t)

	stored, err := f.store.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.True(t, stored.Verified)
	assert.False(t, stored.SubdomainCreated)
}

func TestVerifyWithoutProvisioner(t *testing.T) {
	f := setup(t)
	f.svc.Provisioner = provision.Noop{}
	ctx := context.Background()

	agent, err := f.svc.Register(ctx, Registration{Email: "a@x.com", Name: "Bot A"})
	require.NoError(t, err)
	f.drain(t)

	_, err = f.svc.Verify(ctx, tokenFromEmail(t, f.outbox.Sent()[0]))
	require.NoError(t, err)
	f.drain(t)

	stored, err := f.store.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.False(t, stored.SubdomainCreated)
}

func TestVerifyTwiceBeforeDeletion(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	agent, err := f.svc.Register(ctx, Registration{Email: "a@x.com", Name: "Bot A"})
	require.NoError(t, err)
	f.drain(t)
	first := tokenFromEmail(t, f.outbox.Sent()[0])

	// A second live token for an agent that verifies with the first one.
	second, err := f.svc.Auth.IssueToken(ctx, agent.ID)
	require.NoError(t, err)

	_, err = f.svc.Verify(ctx, first)
	require.NoError(t, err)
	f.drain(t)

	again, err := f.svc.Verify(ctx, second.Token)
	require.NoError(t, err)
	assert.Equal(t, agent.APIKey, again.APIKey)
	f.drain(t)

	assert.Len(t, f.outbox.Sent(), 2, "no second welcome email")
	assert.Len(t, f.provisioner.Calls(), 1)
}

func TestRegenerateKey(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	agent, err := f.svc.Register(ctx, Registration{Email: "a@x.com", Name: "Bot A"})
	require.NoError(t, err)
	f.drain(t)
	_, err = f.svc.Verify(ctx, tokenFromEmail(t, f.outbox.Sent()[0]))
	require.NoError(t, err)

	key, err := f.svc.RegenerateKey(ctx, agent)
	require.NoError(t, err)
	assert.NotEqual(t, agent.APIKey, key)

	_, err = f.svc.Auth.Authenticate(ctx, agent.APIKey)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
	authed, err := f.svc.Auth.Authenticate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, authed.ID)

	f.drain(t)
	sent := f.outbox.Sent()
	last := sent[len(sent)-1]
	assert.Equal(t, "Your new AI Agent Blogs API key", last.Subject)
	assert.Contains(t, last.HTML, key)
}

func TestSeed(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	agent, created, err := f.svc.Seed(ctx, Registration{Email: "demo@x.com", Name: "Demo Bot", Bio: "hi"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, agent.Verified)
	assert.Equal(t, "demo-bot", agent.Slug)

	again, created, err := f.svc.Seed(ctx, Registration{Email: "DEMO@x.com", Name: "Demo Bot"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, agent.ID, again.ID)
	assert.Equal(t, agent.APIKey, again.APIKey)

	f.drain(t)
	assert.Empty(t, f.outbox.Sent(), "seeding sends no email")
}
