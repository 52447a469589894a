package api

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/recelilious/Anicargo/internal/apierr"
	"github.com/recelilious/Anicargo/internal/auth"
	"github.com/recelilious/Anicargo/internal/store"
)

// handleEnqueueIndex implements `POST /api/jobs/index`,
// sharing the "index" dedup key with the library refresh shortcut so both
// entry points collapse into one queued row.
func (a *API) handleEnqueueIndex(w http.ResponseWriter, r *http.Request) {
	a.requireAdmin(func(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
		dedup := "index"
		jobID, err := a.store.Enqueue(r.Context(), "index", "", a.cfg.JobMaxAttempts, &dedup)
		if err != nil {
			writeError(w, r, apierr.Internal("enqueue index job", err))
			return
		}
		writeJSON(w, http.StatusAccepted, enqueuedJobResponse{JobID: jobID})
	})(w, r)
}

// handleEnqueueAutoMatch implements `POST /api/jobs/auto-match` (admin);
// equivalent to handleAutoMatch but under the jobs surface.
func (a *API) handleEnqueueAutoMatch(w http.ResponseWriter, r *http.Request) {
	a.handleAutoMatch(w, r)
}

// handleEnqueueHLS implements `POST /api/jobs/hls/:id`.
func (a *API) handleEnqueueHLS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a.requireAdmin(func(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
		if id == "" {
			writeError(w, r, apierr.InputInvalid("empty media id"))
			return
		}
		if _, err := a.store.GetMediaFile(r.Context(), id); err != nil {
			if err == sql.ErrNoRows {
				writeError(w, r, apierr.NotFound("media not found"))
				return
			}
			writeError(w, r, apierr.Internal("lookup media file", err))
			return
		}
		payload := fmt.Sprintf(`{"media_id":%q}`, id)
		dedup := id
		jobID, err := a.store.Enqueue(r.Context(), "hls", payload, a.cfg.JobMaxAttempts, &dedup)
		if err != nil {
			writeError(w, r, apierr.Internal("enqueue hls job", err))
			return
		}
		writeJSON(w, http.StatusAccepted, enqueuedJobResponse{JobID: jobID})
	})(w, r)
}

type jobView struct {
	ID int64 `json:"id"`
	JobType string `json:"job_type"`
	Status store.JobStatus `json:"status"`
	Attempts int `json:"attempts"`
	MaxAttempts int `json:"max_attempts"`
	Result *string `json:"result,omitempty"`
	LastError *string `json:"last_error,omitempty"`
}

type jobResponse struct {
	Job jobView `json:"job"`
}

func toJobView(j *store.Job) jobView {
	return jobView{
		ID: j.ID, JobType: j.JobType, Status: j.Status,
		Attempts: j.Attempts, MaxAttempts: j.MaxAttempts,
		Result: j.Result, LastError: j.LastError,
	}
}

// handleGetJob implements `GET /api/jobs/:id`.
func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	a.requireAuth(func(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, r, apierr.InputInvalid("invalid job id"))
			return
		}
		job, err := a.store.GetJob(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, jobResponse{Job: toJobView(job)})
	})(w, r)
}

// handleStreamJob implements `GET /api/jobs/:id/stream`: an SSE channel
// that polls the job row at the configured poll interval (with a 200ms
// floor, matching the worker pool's own cadence), emits one event per
// observation, and terminates once the job reaches done/failed or
// disappears.
func (a *API) handleStreamJob(w http.ResponseWriter, r *http.Request) {
	a.requireAuth(func(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, r, apierr.InputInvalid("invalid job id"))
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, r, apierr.Internal("streaming unsupported", nil))
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		pollInterval := a.cfg.JobPollInterval()
		if pollInterval < 200*time.Millisecond {
			pollInterval = 200 * time.Millisecond
		}
		poll := time.NewTicker(pollInterval)
		defer poll.Stop()
		keepalive := time.NewTicker(15 * time.Second)
		defer keepalive.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepalive.C:
				fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
			case <-poll.C:
				job, err := a.store.GetJob(ctx, id)
				if err != nil {
					if kind, _ := apierr.Classify(err); kind == apierr.KindNotFound {
						fmt.Fprint(w, "event: not_found\ndata: {}\n\n")
						flusher.Flush()
					}
					return
				}
				data, err := json.Marshal(toJobView(job))
				if err != nil {
					return
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", job.Status, data)
				flusher.Flush()
				if job.Status == store.JobDone || job.Status == store.JobFailed {
					return
				}
			}
		}
	})(w, r)
}
