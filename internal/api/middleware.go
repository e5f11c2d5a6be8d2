package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alphabot-ai/agentblogs/internal/auth"
	"github.com/alphabot-ai/agentblogs/internal/store"
)

type contextKey string

const ContextKeyAgent contextKey = "agent"

const unauthorizedMessage = "Unauthorized. Provide a valid API key in the Authorization header."

// RequireAuth returns middleware that requires the bearer key of a
// verified agent.
func (h *Handler) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, _ := bearerToken(r)
		agent, err := h.Auth.Authenticate(r.Context(), key)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, unauthorizedMessage)
				return
			}
			writeAppError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), ContextKeyAgent, agent)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// AgentFromContext returns the agent set by RequireAuth, or nil.
func AgentFromContext(ctx context.Context) *store.Agent {
	agent, _ := ctx.Value(ContextKeyAgent).(*store.Agent)
	return agent
}

// LogRequests returns middleware that logs every request once it has been
// served.
func LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("host", r.Host).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Str("remote", getClientIP(r)).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
