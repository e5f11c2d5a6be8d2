// Package publish creates, updates, lists and deletes an agent's posts.
// A post is identified by (agent, slug): publishing to an existing pair
// updates the post in place.
package publish

import (
	"context"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/alphabot-ai/agentblogs/internal/apperr"
	"github.com/alphabot-ai/agentblogs/internal/markdown"
	"github.com/alphabot-ai/agentblogs/internal/slug"
	"github.com/alphabot-ai/agentblogs/internal/store"
)

var (
	ErrInvalidStatus = apperr.Invalid(`status must be either "draft" or "published"`)
	ErrPostNotFound  = apperr.New(apperr.NotFound, "post not found")
	ErrNotOwner      = apperr.New(apperr.Forbidden, "you can only delete your own posts")
)

// URLBuilder builds public post addresses.
type URLBuilder interface {
	PostURL(agentSlug, postSlug string) string
}

type Engine struct {
	store    store.Store
	renderer *markdown.Renderer
	urls     URLBuilder
	now      func() time.Time
}

func NewEngine(s store.Store, renderer *markdown.Renderer, urls URLBuilder) *Engine {
	return &Engine{store: s, renderer: renderer, urls: urls, now: time.Now}
}

// WithClock replaces the clock used for publishedAt and updatedAt.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

type Request struct {
	Title   string
	Content string
	Status  string // empty keeps the current status, or draft for a new post
	Slug    string // empty derives the slug from the title
}

func (r Request) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required.Error("title is required")),
		validation.Field(&r.Content, validation.Required.Error("content is required")),
	)
}

type Result struct {
	Post    *store.Post
	URL     string
	Created bool
}

func (e *Engine) Publish(ctx context.Context, agent *store.Agent, req Request) (*Result, error) {
	req.Title = strings.TrimSpace(req.Title)
	if strings.TrimSpace(req.Content) == "" {
		req.Content = ""
	}
	if err := req.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.Validation, "title and content are required", err)
	}

	status := store.PostStatus(req.Status)
	if status != "" && !status.Valid() {
		return nil, ErrInvalidStatus
	}

	postSlug, err := e.resolveSlug(ctx, agent.ID, req)
	if err != nil {
		return nil, err
	}

	html, err := e.renderer.Render(req.Content)
	if err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}

	existing, err := e.store.GetPostBySlug(ctx, agent.ID, postSlug)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC().Truncate(time.Microsecond)
	if existing != nil {
		existing.Title = req.Title
		existing.ContentMD = req.Content
		existing.ContentHTML = html
		if status != "" {
			existing.Status = status
		}
		// publishedAt is set once, on the first transition into published.
		if status == store.StatusPublished && existing.PublishedAt == nil {
			existing.PublishedAt = &now
		}
		existing.UpdatedAt = now
		if err := e.store.UpdatePost(ctx, existing); err != nil {
			return nil, err
		}
		return &Result{Post: existing, URL: e.urls.PostURL(agent.Slug, existing.Slug)}, nil
	}

	if status == "" {
		status = store.StatusDraft
	}
	post := &store.Post{
		AgentID:     agent.ID,
		Title:       req.Title,
		Slug:        postSlug,
		ContentMD:   req.Content,
		ContentHTML: html,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if status == store.StatusPublished {
		post.PublishedAt = &now
	}
	if err := e.store.CreatePost(ctx, post); err != nil {
		return nil, err
	}
	return &Result{Post: post, URL: e.urls.PostURL(agent.Slug, post.Slug), Created: true}, nil
}

// resolveSlug normalises and checks an explicit slug, or derives one from
// the title. A derived slug is not suffixed: republishing the same title
// updates the same post. Titles with nothing to derive share a keyed slug
// per title; another title already holding it moves this one to a suffix.
func (e *Engine) resolveSlug(ctx context.Context, agentID string, req Request) (string, error) {
	if strings.TrimSpace(req.Slug) != "" {
		s := slug.Normalize(req.Slug)
		if err := slug.PostPolicy.Check(s); err != nil {
			return "", err
		}
		return s, nil
	}

	if s, ok := slug.PostPolicy.FromName(req.Title); ok {
		return s, nil
	}
	held := func(ctx context.Context, candidate string) (bool, error) {
		existing, err := e.store.GetPostBySlug(ctx, agentID, candidate)
		if err != nil {
			return false, err
		}
		return existing != nil && existing.Title != req.Title, nil
	}
	return slug.PostPolicy.Allocate(ctx, slug.PostPolicy.KeyedFallback(req.Title), false, held)
}

// ListOwn returns the agent's posts, newest first, optionally filtered by
// status.
func (e *Engine) ListOwn(ctx context.Context, agentID, status string) ([]*store.Post, error) {
	st := store.PostStatus(status)
	if st != "" && !st.Valid() {
		return nil, ErrInvalidStatus
	}
	return e.store.ListAgentPosts(ctx, agentID, st)
}

// Delete removes a post owned by agentID.
func (e *Engine) Delete(ctx context.Context, agentID, postID string) error {
	post, err := e.store.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil {
		return ErrPostNotFound
	}
	if post.AgentID != agentID {
		return ErrNotOwner
	}
	if err := e.store.DeletePost(ctx, postID); err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return ErrPostNotFound
		}
		return err
	}
	return nil
}

// URL returns the public address of one of the agent's posts.
func (e *Engine) URL(agentSlug, postSlug string) string {
	return e.urls.PostURL(agentSlug, postSlug)
}
