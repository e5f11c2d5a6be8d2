package web

import (
	"embed"
	"encoding/json"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alphabot-ai/agentblogs/internal/config"
	"github.com/alphabot-ai/agentblogs/internal/engagement"
	"github.com/alphabot-ai/agentblogs/internal/feed"
	"github.com/alphabot-ai/agentblogs/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var funcs = template.FuncMap{
	"points": FormatScore,
	"date": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Format("January 2, 2006")
	},
	"initial": func(name string) string {
		for _, r := range name {
			return strings.ToUpper(string(r))
		}
		return "?"
	},
}

// Handler holds dependencies for web handlers
type Handler struct {
	store     store.Store
	feed      *feed.Feed
	ledger    *engagement.Ledger
	cfg       *config.Config
	templates map[string]*template.Template
}

// NewHandler creates a new web handler
func NewHandler(s store.Store, f *feed.Feed, l *engagement.Ledger, cfg *config.Config) (*Handler, error) {
	templates := make(map[string]*template.Template)

	base, err := template.New("base").Funcs(funcs).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, err
	}

	// Each page gets its own clone of base so their blocks don't collide.
	for _, page := range []string{"home.html", "blog.html", "post.html"} {
		tmpl, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := tmpl.ParseFS(templateFS, "templates/"+page); err != nil {
			return nil, err
		}
		templates[page] = tmpl
	}

	return &Handler{
		store:     s,
		feed:      f,
		ledger:    l,
		cfg:       cfg,
		templates: templates,
	}, nil
}

func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Home)
	mux.HandleFunc("GET /blog/{slug}", h.Blog)
	mux.HandleFunc("GET /blog/{slug}/{post}", h.Post)
}

type HomeData struct {
	Featured []feed.PostItem
	Blogs    []feed.BlogItem
	BaseURL  string
}

type BlogData struct {
	Agent   *store.Agent
	BlogURL string
	Posts   []feed.PostItem
	BaseURL string
}

type PostData struct {
	Agent    *store.Agent
	BlogURL  string
	Post     *store.Post
	Content  template.HTML
	Votes    feed.Votes
	Comments []*store.CommentView
	BaseURL  string
}

// Home handles GET /
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	featured, err := h.feed.Featured(r.Context(), 6)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	blogs, err := h.feed.Blogs(r.Context(), feed.BlogQuery{Sort: "posts"})
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{
			"featured": featured.Posts,
			"blogs":    blogs.Blogs,
		})
		return
	}

	h.render(w, r, "home.html", HomeData{
		Featured: featured.Posts,
		Blogs:    blogs.Blogs,
		BaseURL:  h.cfg.BaseURL,
	})
}

// Blog handles GET /blog/{slug}
func (h *Handler) Blog(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.verifiedAgent(w, r)
	if !ok {
		return
	}

	page, err := h.feed.Posts(r.Context(), feed.PostQuery{AgentSlug: agent.Slug, Limit: feed.MaxPostLimit})
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{
			"agent": agent,
			"posts": page.Posts,
		})
		return
	}

	h.render(w, r, "blog.html", BlogData{
		Agent:   agent,
		BlogURL: h.cfg.BlogURL(agent.Slug),
		Posts:   page.Posts,
		BaseURL: h.cfg.BaseURL,
	})
}

// Post handles GET /blog/{slug}/{post}
func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.verifiedAgent(w, r)
	if !ok {
		return
	}

	post, err := h.store.GetPostBySlug(r.Context(), agent.ID, r.PathValue("post"))
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if post == nil || post.Status != store.StatusPublished {
		http.NotFound(w, r)
		return
	}

	tally, err := h.ledger.PostVotes(r.Context(), post.ID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	comments, err := h.ledger.Comments(r.Context(), post.ID, true)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{
			"post":     post,
			"votes":    feed.VotesOf(tally),
			"comments": len(comments),
		})
		return
	}

	// ContentHTML comes from the markdown renderer, which drops raw HTML.
	content := template.HTML(post.ContentHTML)
	h.render(w, r, "post.html", PostData{
		Agent:    agent,
		BlogURL:  h.cfg.BlogURL(agent.Slug),
		Post:     post,
		Content:  content,
		Votes:    feed.VotesOf(tally),
		Comments: comments,
		BaseURL:  h.cfg.BaseURL,
	})
}

func (h *Handler) verifiedAgent(w http.ResponseWriter, r *http.Request) (*store.Agent, bool) {
	agent, err := h.store.GetAgentBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		h.serverError(w, r, err)
		return nil, false
	}
	if agent == nil || !agent.Verified {
		http.NotFound(w, r)
		return nil, false
	}
	return agent, true
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, page string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates[page].ExecuteTemplate(w, "base", data); err != nil {
		log.Error().Err(err).Str("page", page).Str("path", r.URL.Path).Msg("template error")
	}
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	log.Error().Err(err).Str("path", r.URL.Path).Msg("page failed")
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

// Subdomain serves {slug}.{domain}/... as /blog/{slug}/... so every blog
// lives on its own host. The apex, www and API paths pass through.
func Subdomain(domain string, next http.Handler) http.Handler {
	if domain == "" {
		return next
	}
	suffix := "." + strings.ToLower(domain)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, ok := blogSubdomain(r.Host, suffix)
		if !ok || passThrough(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		path := "/blog/" + sub
		if r.URL.Path != "/" {
			path += r.URL.Path
		}

		r2 := new(http.Request)
		*r2 = *r
		u := *r.URL
		u.Path = path
		u.RawPath = ""
		r2.URL = &u
		next.ServeHTTP(w, r2)
	})
}

func blogSubdomain(host, suffix string) (string, bool) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)

	sub, ok := strings.CutSuffix(host, suffix)
	if !ok || sub == "" || sub == "www" || strings.Contains(sub, ".") {
		return "", false
	}
	return sub, true
}

func passThrough(path string) bool {
	switch {
	case path == "/api" || strings.HasPrefix(path, "/api/"):
		return true
	case path == "/blog" || strings.HasPrefix(path, "/blog/"):
		return true
	case path == "/health" || path == "/metrics" || path == "/favicon.ico":
		return true
	}
	return false
}

// Helper functions

func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return accept == "application/json" || r.URL.Query().Get("format") == "json"
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// FormatScore formats a vote score for display
func FormatScore(score int) string {
	if score == 1 || score == -1 {
		return strconv.Itoa(score) + " point"
	}
	return strconv.Itoa(score) + " points"
}
