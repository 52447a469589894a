package api

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/recelilious/Anicargo/internal/apierr"
	"github.com/recelilious/Anicargo/internal/auth"
)

type enqueuedJobResponse struct {
	JobID int64 `json:"job_id"`
}

// handleAutoMatch implements `POST /api/matches/auto` :
// the request body supplies optional overrides for auto_match_all's
// tunable parameters, forwarded as the queued job's payload.
func (a *API) handleAutoMatch(w http.ResponseWriter, r *http.Request) {
	a.requireAdmin(func(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
		body, err := decodeOptionalJSON(r)
		if err != nil {
			writeError(w, r, apierr.InputInvalid("malformed request body"))
			return
		}
		jobID, err := a.store.Enqueue(r.Context(), "auto-match", body, a.cfg.JobMaxAttempts, nil)
		if err != nil {
			writeError(w, r, apierr.Internal("enqueue auto-match job", err))
			return
		}
		writeJSON(w, http.StatusAccepted, enqueuedJobResponse{JobID: jobID})
	})(w, r)
}

type setMatchRequest struct {
	SubjectID int64 `json:"subject_id"`
	EpisodeID *int64 `json:"episode_id,omitempty"`
}

// handleSetMatch implements `POST /api/matches/:id` :
// persists a sticky manual override, validated against the local cache.
func (a *API) handleSetMatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a.requireAdmin(func(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
		if id == "" {
			writeError(w, r, apierr.InputInvalid("empty media id"))
			return
		}
		var req setMatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, apierr.InputInvalid("malformed request body"))
			return
		}
		if req.SubjectID == 0 {
			writeError(w, r, apierr.InputInvalid("subject_id is required"))
			return
		}
		if err := a.store.SetManualMatch(r.Context(), id, req.SubjectID, req.EpisodeID); err != nil {
			writeError(w, r, apierr.InputInvalid(err.Error()))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})(w, r)
}

type currentMatchResponse struct {
	Current *matchView `json:"current"`
}

type matchView struct {
	MediaID string `json:"media_id"`
	SubjectID int64 `json:"subject_id"`
	EpisodeID *int64 `json:"episode_id,omitempty"`
	Method string `json:"method"`
	Confidence *float64 `json:"confidence,omitempty"`
	Reason string `json:"reason,omitempty"`
	UpdatedAt int64 `json:"updated_at"`
}

// handleGetMatch implements `GET /api/matches/:id`.
func (a *API) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	a.requireAuth(func(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
		id := chi.URLParam(r, "id")
		m, err := a.store.GetMatch(r.Context(), id)
		if err != nil {
			writeError(w, r, apierr.Internal("get match", err))
			return
		}
		if m == nil {
			writeJSON(w, http.StatusOK, currentMatchResponse{Current: nil})
			return
		}
		writeJSON(w, http.StatusOK, currentMatchResponse{Current: &matchView{
			MediaID: m.MediaID, SubjectID: m.SubjectID, EpisodeID: m.EpisodeID,
			Method: m.Method, Confidence: m.Confidence, Reason: m.Reason, UpdatedAt: m.UpdatedAt,
		}})
	})(w, r)
}

// handleClearMatch implements `DELETE /api/matches/:id`.
func (a *API) handleClearMatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a.requireAdmin(func(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
		if err := a.store.ClearMatch(r.Context(), id); err != nil {
			writeError(w, r, apierr.Internal("clear match", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})(w, r)
}

type candidateView struct {
	SubjectID int64 `json:"subject_id"`
	Confidence float64 `json:"confidence"`
	Reason string `json:"reason"`
	Name string `json:"name"`
	NameCN string `json:"name_cn"`
}

type candidatesResponse struct {
	Candidates []candidateView `json:"candidates"`
}

// handleListCandidates implements `GET /api/matches/:id/candidates`
//, joining each candidate's subject name in from the cache.
func (a *API) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	a.requireAuth(func(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
		id := chi.URLParam(r, "id")
		candidates, err := a.store.ListCandidates(r.Context(), id)
		if err != nil {
			writeError(w, r, apierr.Internal("list candidates", err))
			return
		}
		out := make([]candidateView, 0, len(candidates))
		for _, c := range candidates {
			view := candidateView{SubjectID: c.SubjectID, Confidence: c.Confidence, Reason: c.Reason}
			if subj, err := a.store.GetSubject(r.Context(), c.SubjectID); err == nil {
				view.Name = subj.Name
				view.NameCN = subj.NameCN
			} else if err != sql.ErrNoRows {
				writeError(w, r, apierr.Internal("lookup subject", err))
				return
			}
			out = append(out, view)
		}
		writeJSON(w, http.StatusOK, candidatesResponse{Candidates: out})
	})(w, r)
}

func decodeOptionalJSON(r *http.Request) (string, error) {
	if r.Body == nil || r.ContentLength == 0 {
		return "", nil
	}
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
