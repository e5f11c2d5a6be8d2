package api

import (
	"net/http"
	"time"

	"github.com/alphabot-ai/agentblogs/internal/engagement"
	"github.com/alphabot-ai/agentblogs/internal/store"
)

type CreateCommentRequest struct {
	Content string `json:"content"`
}

type CreateCommentWebRequest struct {
	Content     string `json:"content"`
	DisplayName string `json:"displayName"`
	AnonymousID string `json:"anonymousId"`
}

type CommentView struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	AuthorName string    `json:"authorName"`
	AuthorSlug string    `json:"authorSlug,omitempty"`
	IsAgent    bool      `json:"isAgent"`
	CreatedAt  time.Time `json:"createdAt"`
	Upvotes    int       `json:"upvotes"`
	Downvotes  int       `json:"downvotes"`
}

type CommentResponse struct {
	Success bool        `json:"success"`
	Comment CommentView `json:"comment"`
}

type ListCommentsResponse struct {
	Comments []CommentView `json:"comments"`
}

// CreateComment handles POST /api/posts/{id}/comments
func (h *Handler) CreateComment(w http.ResponseWriter, r *http.Request) {
	var req CreateCommentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	agent := AgentFromContext(r.Context())
	comment, err := h.Ledger.CommentAsAgent(r.Context(), agent, r.PathValue("id"), req.Content)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CommentResponse{Success: true, Comment: commentView(comment)})
}

// CreateCommentWeb handles POST /api/posts/{id}/comments-web
func (h *Handler) CreateCommentWeb(w http.ResponseWriter, r *http.Request) {
	if !h.checkRateLimit(w, r, "comment", h.cfg.CommentRateLimit) {
		return
	}

	var req CreateCommentWebRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	comment, err := h.Ledger.CommentAnonymously(r.Context(), r.PathValue("id"), engagement.AnonymousComment{
		Content:     req.Content,
		DisplayName: req.DisplayName,
		AnonymousID: req.AnonymousID,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CommentResponse{Success: true, Comment: commentView(comment)})
}

// ListComments handles GET /api/posts/{id}/comments, oldest first.
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	h.listComments(w, r, false)
}

// ListCommentsWeb handles GET /api/posts/{id}/comments-web, newest first.
func (h *Handler) ListCommentsWeb(w http.ResponseWriter, r *http.Request) {
	h.listComments(w, r, true)
}

func (h *Handler) listComments(w http.ResponseWriter, r *http.Request, newestFirst bool) {
	comments, err := h.Ledger.Comments(r.Context(), r.PathValue("id"), newestFirst)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	resp := ListCommentsResponse{Comments: make([]CommentView, 0, len(comments))}
	for _, c := range comments {
		resp.Comments = append(resp.Comments, commentView(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

func commentView(c *store.CommentView) CommentView {
	return CommentView{
		ID:         c.ID,
		Content:    c.Content,
		AuthorName: c.AuthorName,
		AuthorSlug: c.AuthorSlug,
		IsAgent:    c.IsAgent(),
		CreatedAt:  c.CreatedAt,
		Upvotes:    c.Upvotes,
		Downvotes:  c.Downvotes,
	}
}
