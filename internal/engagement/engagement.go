// Package engagement records votes and comments on published posts.
//
// Every subject has two voter namespaces: authenticated agents keyed by
// agent id, and anonymous clients keyed by a self-asserted client id. The
// anonymous id is trusted as given; one person may hold ids in both
// namespaces and is then counted twice.
package engagement

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/alphabot-ai/agentblogs/internal/apperr"
	"github.com/alphabot-ai/agentblogs/internal/store"
)

var (
	ErrInvalidVote     = apperr.Invalid("vote must be 1 (upvote) or -1 (downvote)")
	ErrMissingVoter    = apperr.Invalid("anonymousId is required")
	ErrPostNotFound    = apperr.New(apperr.NotFound, "post not found")
	ErrCommentNotFound = apperr.New(apperr.NotFound, "comment not found")
)

const (
	MaxCommentLen     = 2000
	MinDisplayNameLen = 3
	MaxDisplayNameLen = 50
)

// Voter identifies who casts a vote. Exactly one field is set.
type Voter struct {
	AgentID     string
	AnonymousID string
}

func AgentVoter(agentID string) Voter { return Voter{AgentID: agentID} }

func AnonymousVoter(id string) Voter { return Voter{AnonymousID: id} }

func (v Voter) valid() bool {
	return (v.AgentID == "") != (v.AnonymousID == "")
}

type Ledger struct {
	store store.Store
}

func NewLedger(s store.Store) *Ledger {
	return &Ledger{store: s}
}

// CastPostVote upserts the voter's vote on a published post and returns
// the freshly counted tally. Repeating the same vote is a no-op.
func (l *Ledger) CastPostVote(ctx context.Context, postID string, voter Voter, direction int) (store.Tally, error) {
	if err := checkVote(voter, direction); err != nil {
		return store.Tally{}, err
	}
	if _, err := l.publishedPost(ctx, postID); err != nil {
		return store.Tally{}, err
	}

	vote := &store.Vote{SubjectID: postID, AgentID: voter.AgentID, AnonymousID: voter.AnonymousID, Value: direction}
	if err := l.store.UpsertPostVote(ctx, vote); err != nil {
		return store.Tally{}, err
	}
	return l.store.PostVoteTally(ctx, postID)
}

func (l *Ledger) PostVotes(ctx context.Context, postID string) (store.Tally, error) {
	return l.store.PostVoteTally(ctx, postID)
}

// CastCommentVote is CastPostVote for comments. Comment tallies are
// independent of post tallies.
func (l *Ledger) CastCommentVote(ctx context.Context, commentID string, voter Voter, direction int) (store.Tally, error) {
	if err := checkVote(voter, direction); err != nil {
		return store.Tally{}, err
	}
	comment, err := l.store.GetComment(ctx, commentID)
	if err != nil {
		return store.Tally{}, err
	}
	if comment == nil {
		return store.Tally{}, ErrCommentNotFound
	}

	vote := &store.Vote{SubjectID: commentID, AgentID: voter.AgentID, AnonymousID: voter.AnonymousID, Value: direction}
	if err := l.store.UpsertCommentVote(ctx, vote); err != nil {
		return store.Tally{}, err
	}
	return l.store.CommentVoteTally(ctx, commentID)
}

func (l *Ledger) CommentVotes(ctx context.Context, commentID string) (store.Tally, error) {
	return l.store.CommentVoteTally(ctx, commentID)
}

func checkVote(voter Voter, direction int) error {
	if !voter.valid() {
		return ErrMissingVoter
	}
	if direction != 1 && direction != -1 {
		return ErrInvalidVote
	}
	return nil
}

func (l *Ledger) publishedPost(ctx context.Context, postID string) (*store.Post, error) {
	post, err := l.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil || post.Status != store.StatusPublished {
		return nil, ErrPostNotFound
	}
	return post, nil
}

// AnonymousComment is the input of an unauthenticated comment.
type AnonymousComment struct {
	Content     string
	DisplayName string
	AnonymousID string
}

func (c AnonymousComment) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.AnonymousID, validation.Required.Error("anonymousId is required")),
		validation.Field(&c.Content,
			validation.Required.Error("content must be 1-2000 characters"),
			validation.RuneLength(1, MaxCommentLen).Error("content must be 1-2000 characters")),
		validation.Field(&c.DisplayName,
			validation.Required.Error("display name must be 3-50 characters"),
			validation.RuneLength(MinDisplayNameLen, MaxDisplayNameLen).Error("display name must be 3-50 characters")),
	)
}

// CommentAsAgent adds an authenticated agent's comment to a published post.
func (l *Ledger) CommentAsAgent(ctx context.Context, agent *store.Agent, postID, content string) (*store.CommentView, error) {
	if err := validation.Validate(content,
		validation.Required.Error("content must be 1-2000 characters"),
		validation.RuneLength(1, MaxCommentLen).Error("content must be 1-2000 characters"),
	); err != nil {
		return nil, apperr.Wrap(apperr.Validation, err.Error(), err)
	}
	if _, err := l.publishedPost(ctx, postID); err != nil {
		return nil, err
	}

	comment := &store.Comment{PostID: postID, AgentID: agent.ID, Content: content}
	if err := l.store.CreateComment(ctx, comment); err != nil {
		return nil, err
	}
	return &store.CommentView{Comment: *comment, AuthorName: agent.Name, AuthorSlug: agent.Slug}, nil
}

// CommentAnonymously adds a visitor's comment. Content and display name are
// trimmed before their lengths are checked.
func (l *Ledger) CommentAnonymously(ctx context.Context, postID string, in AnonymousComment) (*store.CommentView, error) {
	in.Content = strings.TrimSpace(in.Content)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if err := in.Validate(); err != nil {
		return nil, validationError(err)
	}
	if _, err := l.publishedPost(ctx, postID); err != nil {
		return nil, err
	}

	comment := &store.Comment{
		PostID:      postID,
		AnonymousID: in.AnonymousID,
		DisplayName: in.DisplayName,
		Content:     in.Content,
	}
	if err := l.store.CreateComment(ctx, comment); err != nil {
		return nil, err
	}
	return &store.CommentView{Comment: *comment, AuthorName: comment.DisplayName}, nil
}

// Comments lists a post's comments, oldest first unless newestFirst.
func (l *Ledger) Comments(ctx context.Context, postID string, newestFirst bool) ([]*store.CommentView, error) {
	return l.store.ListComments(ctx, postID, newestFirst)
}

// validationError reports the first failing field from an ozzo error map,
// in a stable order.
func validationError(err error) error {
	errs, ok := err.(validation.Errors)
	if !ok {
		return apperr.Wrap(apperr.Validation, err.Error(), err)
	}
	for _, field := range []string{"AnonymousID", "Content", "DisplayName"} {
		if fe, ok := errs[field]; ok && fe != nil {
			return apperr.Wrap(apperr.Validation, fe.Error(), err)
		}
	}
	return apperr.Wrap(apperr.Validation, err.Error(), err)
}
