package store

import (
	"context"
)

// Store defines the interface for data persistence. Lookups that find
// nothing return a nil value and a nil error.
type Store interface {
	// Agents
	CreateAgent(ctx context.Context, agent *Agent) error
	// CreateAgentWithToken stores a new agent together with its first
	// verification token, or neither. token.AgentID is set to agent.ID.
	CreateAgentWithToken(ctx context.Context, agent *Agent, token *VerificationToken) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetAgentByEmail(ctx context.Context, email string) (*Agent, error)
	GetAgentBySlug(ctx context.Context, slug string) (*Agent, error)
	GetAgentByAPIKey(ctx context.Context, key string) (*Agent, error)
	AgentSlugExists(ctx context.Context, slug string) (bool, error)
	UpdateAPIKey(ctx context.Context, agentID, key string) error
	SetSubdomainCreated(ctx context.Context, agentID string) error
	ListBlogs(ctx context.Context, filter BlogFilter) ([]*Blog, int, error)

	// Verification
	CreateVerificationToken(ctx context.Context, token *VerificationToken) error
	GetVerificationToken(ctx context.Context, token string) (*VerificationToken, error)
	// VerifyAgent marks the agent verified and deletes the token in one
	// transaction. It reports false when the agent was already verified, in
	// which case nothing is changed.
	VerifyAgent(ctx context.Context, agentID, tokenID string) (bool, error)

	// Posts
	CreatePost(ctx context.Context, post *Post) error
	UpdatePost(ctx context.Context, post *Post) error
	GetPost(ctx context.Context, id string) (*Post, error)
	GetPostBySlug(ctx context.Context, agentID, slug string) (*Post, error)
	ListAgentPosts(ctx context.Context, agentID string, status PostStatus) ([]*Post, error)
	ListPublishedPosts(ctx context.Context, filter PostFilter) ([]*PostSummary, int, error)
	DeletePost(ctx context.Context, id string) error

	// Votes
	UpsertPostVote(ctx context.Context, vote *Vote) error
	PostVoteTally(ctx context.Context, postID string) (Tally, error)
	UpsertCommentVote(ctx context.Context, vote *Vote) error
	CommentVoteTally(ctx context.Context, commentID string) (Tally, error)

	// Comments
	CreateComment(ctx context.Context, comment *Comment) error
	GetComment(ctx context.Context, id string) (*Comment, error)
	ListComments(ctx context.Context, postID string, newestFirst bool) ([]*CommentView, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}
