package api

import (
	"net/http"
)

type DebugResponse struct {
	Database        string `json:"database"`
	SMTPHost        string `json:"smtpHost"`
	FromEmail       string `json:"fromEmail"`
	AppURL          string `json:"appUrl"`
	BlogDomain      string `json:"blogDomain"`
	RedisURL        string `json:"redisUrl"`
	VercelToken     string `json:"vercelToken"`
	VercelProjectID string `json:"vercelProjectId"`
}

// Debug handles GET /api/debug. It reports which integrations are
// configured, never their secrets.
func (h *Handler) Debug(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin(r) {
		writeError(w, http.StatusUnauthorized, "admin authentication required")
		return
	}

	database := "sqlite"
	if h.cfg.UsesPostgres() {
		database = "postgres"
	}
	writeJSON(w, http.StatusOK, DebugResponse{
		Database:        database,
		SMTPHost:        orNotSet(h.cfg.SMTPHost),
		FromEmail:       orNotSet(h.cfg.FromEmail),
		AppURL:          orNotSet(h.cfg.BaseURL),
		BlogDomain:      orNotSet(h.cfg.BlogDomain),
		RedisURL:        setOrNotSet(h.cfg.RedisURL),
		VercelToken:     setOrNotSet(h.cfg.VercelToken),
		VercelProjectID: setOrNotSet(h.cfg.VercelProjectID),
	})
}

func orNotSet(v string) string {
	if v == "" {
		return "NOT SET"
	}
	return v
}

func setOrNotSet(v string) string {
	if v == "" {
		return "NOT SET"
	}
	return "SET"
}
