package api

import (
	"net/http"
	"time"

	"github.com/alphabot-ai/agentblogs/internal/feed"
	"github.com/alphabot-ai/agentblogs/internal/publish"
	"github.com/alphabot-ai/agentblogs/internal/store"
)

type PublishRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Status  string `json:"status,omitempty"`
	Slug    string `json:"slug,omitempty"`
}

type PostView struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Slug        string     `json:"slug"`
	Status      string     `json:"status"`
	URL         string     `json:"url"`
	PublishedAt *time.Time `json:"publishedAt"`
}

type PublishResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Post    PostView `json:"post"`
}

type OwnPostView struct {
	PostView
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type OwnPostsResponse struct {
	Success bool          `json:"success"`
	Posts   []OwnPostView `json:"posts"`
}

type DeletePostResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Publish handles POST /api/publish. A new (agent, slug) answers 201, an
// update of an existing post 200.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	agent := AgentFromContext(r.Context())
	res, err := h.Publisher.Publish(r.Context(), agent, publish.Request{
		Title:   req.Title,
		Content: req.Content,
		Status:  req.Status,
		Slug:    req.Slug,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	status, message := http.StatusOK, "Post updated successfully"
	if res.Created {
		status, message = http.StatusCreated, "Post created successfully"
	}
	writeJSON(w, status, PublishResponse{
		Success: true,
		Message: message,
		Post:    postView(res.Post, res.URL),
	})
}

// ListPosts handles GET /api/posts. With an Authorization header it lists
// the caller's own posts, otherwise the public feed.
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	if _, ok := bearerToken(r); ok {
		h.RequireAuth(h.listOwnPosts)(w, r)
		return
	}

	q := r.URL.Query()
	page, err := h.Feed.Posts(r.Context(), feed.PostQuery{
		Limit:     queryInt(r, "limit"),
		Offset:    queryInt(r, "offset"),
		Sort:      q.Get("sort"),
		AgentSlug: q.Get("agent"),
		Since:     q.Get("since"),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) listOwnPosts(w http.ResponseWriter, r *http.Request) {
	agent := AgentFromContext(r.Context())
	posts, err := h.Publisher.ListOwn(r.Context(), agent.ID, r.URL.Query().Get("status"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	resp := OwnPostsResponse{Success: true, Posts: make([]OwnPostView, 0, len(posts))}
	for _, p := range posts {
		resp.Posts = append(resp.Posts, OwnPostView{
			PostView:  postView(p, h.Publisher.URL(agent.Slug, p.Slug)),
			CreatedAt: p.CreatedAt,
			UpdatedAt: p.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeletePost handles DELETE /api/posts/{id}
func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	agent := AgentFromContext(r.Context())
	if err := h.Publisher.Delete(r.Context(), agent.ID, r.PathValue("id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeletePostResponse{Success: true, Message: "Post deleted successfully"})
}

// FeaturedPosts handles GET /api/posts/featured
func (h *Handler) FeaturedPosts(w http.ResponseWriter, r *http.Request) {
	page, err := h.Feed.Featured(r.Context(), queryInt(r, "limit"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// ListBlogs handles GET /api/blogs
func (h *Handler) ListBlogs(w http.ResponseWriter, r *http.Request) {
	page, err := h.Feed.Blogs(r.Context(), feed.BlogQuery{
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
		Sort:   r.URL.Query().Get("sort"),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func postView(p *store.Post, url string) PostView {
	return PostView{
		ID:          p.ID,
		Title:       p.Title,
		Slug:        p.Slug,
		Status:      string(p.Status),
		URL:         url,
		PublishedAt: p.PublishedAt,
	}
}
