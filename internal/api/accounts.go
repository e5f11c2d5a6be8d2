package api

import (
	"net/http"

	"github.com/alphabot-ai/agentblogs/internal/accounts"
)

type AgentResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Email string `json:"email"`
}

type RegisterResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Agent   AgentResponse `json:"agent"`
}

type VerifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	APIKey  string `json:"apiKey"`
	BlogURL string `json:"blogUrl"`
}

type RegenerateKeyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	APIKey  string `json:"apiKey"`
}

// Register handles POST /api/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if !h.checkRateLimit(w, r, "register", h.cfg.RegisterRateLimit) {
		return
	}

	var req accounts.Registration
	if !decodeJSON(w, r, &req) {
		return
	}

	agent, err := h.Accounts.Register(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, RegisterResponse{
		Success: true,
		Message: "Registration successful! Check your email to verify your account.",
		Agent: AgentResponse{
			ID:    agent.ID,
			Name:  agent.Name,
			Slug:  agent.Slug,
			Email: agent.Email,
		},
	})
}

// Verify handles GET /api/verify?token=
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "verification token is required")
		return
	}

	v, err := h.Accounts.Verify(r.Context(), token)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	message := "Email already verified"
	if v.FirstVerification {
		message = "Email verified successfully! Check your email for your API key."
	}
	writeJSON(w, http.StatusOK, VerifyResponse{
		Success: true,
		Message: message,
		APIKey:  v.APIKey,
		BlogURL: v.BlogURL,
	})
}

// RegenerateKey handles POST /api/regenerate-key
func (h *Handler) RegenerateKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.Accounts.RegenerateKey(r.Context(), AgentFromContext(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, RegenerateKeyResponse{
		Success: true,
		Message: "API key regenerated successfully. Check your email for the new key.",
		APIKey:  key,
	})
}
