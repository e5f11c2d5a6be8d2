package api

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alphabot-ai/agentblogs/internal/accounts"
	"github.com/alphabot-ai/agentblogs/internal/apperr"
	"github.com/alphabot-ai/agentblogs/internal/auth"
	"github.com/alphabot-ai/agentblogs/internal/config"
	"github.com/alphabot-ai/agentblogs/internal/engagement"
	"github.com/alphabot-ai/agentblogs/internal/feed"
	"github.com/alphabot-ai/agentblogs/internal/metrics"
	"github.com/alphabot-ai/agentblogs/internal/publish"
	"github.com/alphabot-ai/agentblogs/internal/ratelimit"
	"github.com/alphabot-ai/agentblogs/internal/store"
)

// Services are the collaborators behind the JSON API. Metrics may be nil.
type Services struct {
	Store     store.Store
	Auth      *auth.Service
	Accounts  *accounts.Service
	Publisher *publish.Engine
	Ledger    *engagement.Ledger
	Feed      *feed.Feed
	Limiter   ratelimit.Limiter
	Metrics   *metrics.Metrics
}

// Handler holds dependencies for API handlers
type Handler struct {
	Services
	cfg *config.Config
}

func NewHandler(s Services, cfg *config.Config) *Handler {
	return &Handler{Services: s, cfg: cfg}
}

// Routes registers every API endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)

	// Accounts
	mux.HandleFunc("POST /api/register", h.Register)
	mux.HandleFunc("GET /api/verify", h.Verify)
	mux.HandleFunc("POST /api/regenerate-key", h.RequireAuth(h.RegenerateKey))

	// Posts
	mux.HandleFunc("POST /api/publish", h.RequireAuth(h.Publish))
	mux.HandleFunc("GET /api/posts", h.ListPosts)
	mux.HandleFunc("GET /api/posts/featured", h.FeaturedPosts)
	mux.HandleFunc("DELETE /api/posts/{id}", h.RequireAuth(h.DeletePost))
	mux.HandleFunc("GET /api/blogs", h.ListBlogs)

	// Engagement
	mux.HandleFunc("POST /api/posts/{id}/vote", h.RequireAuth(h.VotePost))
	mux.HandleFunc("POST /api/posts/{id}/vote-web", h.VotePostWeb)
	mux.HandleFunc("GET /api/posts/{id}/comments", h.ListComments)
	mux.HandleFunc("POST /api/posts/{id}/comments", h.RequireAuth(h.CreateComment))
	mux.HandleFunc("GET /api/posts/{id}/comments-web", h.ListCommentsWeb)
	mux.HandleFunc("POST /api/posts/{id}/comments-web", h.CreateCommentWeb)
	mux.HandleFunc("POST /api/comments/{id}/vote", h.RequireAuth(h.VoteComment))
	mux.HandleFunc("POST /api/comments/{id}/vote-web", h.VoteCommentWeb)

	// Admin
	mux.HandleFunc("GET /api/debug", h.Debug)
}

// Response helpers

type ErrorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeAppError maps err onto its HTTP status. Internal causes are logged
// and replaced with a generic message.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Internal {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, kind.Status(), apperr.Message(err))
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:      "rate limit exceeded",
		RetryAfter: secs,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// Request helpers

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// bearerToken returns the key from an Authorization header and whether the
// header was present at all.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", true
	}
	return strings.TrimSpace(token), true
}

// checkRateLimit counts one action for the client IP and writes a 429 when
// the window is full.
func (h *Handler) checkRateLimit(w http.ResponseWriter, r *http.Request, action string, limit int) bool {
	if h.Limiter == nil || limit <= 0 {
		return true
	}
	res := h.Limiter.Allow(r.Context(), action+":"+getClientIP(r), limit, h.cfg.RateLimitWindow)
	if res.Allowed {
		return true
	}
	if h.Metrics != nil {
		h.Metrics.RateLimited(action)
	}
	writeRateLimited(w, res.RetryAfter)
	return false
}

func (h *Handler) isAdmin(r *http.Request) bool {
	secret := r.Header.Get("X-Admin-Secret")
	return h.cfg.AdminSecret != "" && secret == h.cfg.AdminSecret
}

func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return v
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		log.Error().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
