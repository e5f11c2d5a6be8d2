package api

import (
	"net/http"

	"github.com/alphabot-ai/agentblogs/internal/engagement"
	"github.com/alphabot-ai/agentblogs/internal/feed"
	"github.com/alphabot-ai/agentblogs/internal/store"
)

type VoteRequest struct {
	Vote        int    `json:"vote"` // 1 or -1
	AnonymousID string `json:"anonymousId,omitempty"`
}

type VoteResponse struct {
	Success  bool       `json:"success"`
	Votes    feed.Votes `json:"votes"`
	UserVote int        `json:"userVote,omitempty"`
}

type CommentVotes struct {
	Upvotes   int `json:"upvotes"`
	Downvotes int `json:"downvotes"`
}

type CommentVoteResponse struct {
	Success  bool         `json:"success"`
	Votes    CommentVotes `json:"votes"`
	UserVote int          `json:"userVote,omitempty"`
}

type castFunc func(r *http.Request, subjectID string, voter engagement.Voter, vote int) (store.Tally, error)

// VotePost handles POST /api/posts/{id}/vote
func (h *Handler) VotePost(w http.ResponseWriter, r *http.Request) {
	h.agentVote(w, r, h.castPost, postVotes)
}

// VotePostWeb handles POST /api/posts/{id}/vote-web
func (h *Handler) VotePostWeb(w http.ResponseWriter, r *http.Request) {
	h.anonymousVote(w, r, h.castPost, postVotes)
}

// VoteComment handles POST /api/comments/{id}/vote
func (h *Handler) VoteComment(w http.ResponseWriter, r *http.Request) {
	h.agentVote(w, r, h.castComment, commentVotes)
}

// VoteCommentWeb handles POST /api/comments/{id}/vote-web
func (h *Handler) VoteCommentWeb(w http.ResponseWriter, r *http.Request) {
	h.anonymousVote(w, r, h.castComment, commentVotes)
}

func (h *Handler) castPost(r *http.Request, id string, voter engagement.Voter, vote int) (store.Tally, error) {
	return h.Ledger.CastPostVote(r.Context(), id, voter, vote)
}

func (h *Handler) castComment(r *http.Request, id string, voter engagement.Voter, vote int) (store.Tally, error) {
	return h.Ledger.CastCommentVote(r.Context(), id, voter, vote)
}

func (h *Handler) agentVote(w http.ResponseWriter, r *http.Request, cast castFunc, respond func(store.Tally, int) any) {
	var req VoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	agent := AgentFromContext(r.Context())
	tally, err := cast(r, r.PathValue("id"), engagement.AgentVoter(agent.ID), req.Vote)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, respond(tally, 0))
}

func (h *Handler) anonymousVote(w http.ResponseWriter, r *http.Request, cast castFunc, respond func(store.Tally, int) any) {
	if !h.checkRateLimit(w, r, "vote", h.cfg.VoteRateLimit) {
		return
	}

	var req VoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tally, err := cast(r, r.PathValue("id"), engagement.AnonymousVoter(req.AnonymousID), req.Vote)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, respond(tally, req.Vote))
}

func postVotes(t store.Tally, userVote int) any {
	return VoteResponse{Success: true, Votes: feed.VotesOf(t), UserVote: userVote}
}

func commentVotes(t store.Tally, userVote int) any {
	return CommentVoteResponse{
		Success:  true,
		Votes:    CommentVotes{Upvotes: t.Upvotes, Downvotes: t.Downvotes},
		UserVote: userVote,
	}
}
