package api

import (
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/recelilious/Anicargo/internal/apierr"
	"github.com/recelilious/Anicargo/internal/metrics"
)

// byteCountingWriter wraps a ResponseWriter to feed the network-rate gauge
// from actual bytes written during HLS playback.
type byteCountingWriter struct {
	http.ResponseWriter
	n int64
}

func (b *byteCountingWriter) Write(p []byte) (int, error) {
	n, err := b.ResponseWriter.Write(p)
	b.n += int64(n)
	return n, err
}

type streamReadyResponse struct {
	ID string `json:"id"`
	PlaylistURL string `json:"playlist_url"`
}

type streamQueuedResponse struct {
	Status string `json:"status"`
	JobID int64 `json:"job_id"`
}

// handleStream implements `GET /api/stream/:id`: if the playlist already
// exists, return its token-embedded URL; otherwise enqueue an hls job
// (dedup key = media id) and report 202 queued.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, r, apierr.InputInvalid("empty media id"))
		return
	}

	r2, err := a.authenticate(r, "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	claims := claimsFromContext(r2.Context())

	mf, err := a.store.GetMediaFile(r2.Context(), id)
	if err != nil {
		if err == sql.ErrNoRows {
			writeError(w, r, apierr.NotFound("media not found"))
			return
		}
		writeError(w, r, apierr.Internal("lookup media file", err))
		return
	}

	playlist := filepath.Join(a.hlsRoot, id, "index.m3u8")
	if _, statErr := os.Stat(playlist); statErr == nil {
		token, tokErr := a.tokens.Issue(claims.Sub, claims.RoleLevel)
		if tokErr != nil {
			writeError(w, r, apierr.Internal("issue stream token", tokErr))
			return
		}
		writeJSON(w, http.StatusOK, streamReadyResponse{
			ID: id,
			PlaylistURL: fmt.Sprintf("/hls/%s/%s/index.m3u8", token, id),
		})
		return
	}

	payload := fmt.Sprintf(`{"media_id":%q}`, mf.ID)
	dedup := id
	jobID, err := a.store.Enqueue(r2.Context(), "hls", payload, a.cfg.JobMaxAttempts, &dedup)
	if err != nil {
		writeError(w, r, apierr.Internal("enqueue hls job", err))
		return
	}
	writeJSON(w, http.StatusAccepted, streamQueuedResponse{Status: "queued", JobID: jobID})
}

// handleHLSFileTokened serves `GET /hls/:token/:id/:file`: the token is a
// path-embedded override so playback clients never need an Authorization
// header.
func (a *API) handleHLSFileTokened(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	id := chi.URLParam(r, "id")
	file := chi.URLParam(r, "file")

	if _, err := a.authenticate(r, token); err != nil {
		writeError(w, r, err)
		return
	}
	bw := &byteCountingWriter{ResponseWriter: w}
	a.hlsOrch.Serve(bw, r, id, file)
	metrics.RecordBytesServed(bw.n)
}

// handleHLSFile serves `GET /hls/:id/:file` using the standard
// query/header token sources.
func (a *API) handleHLSFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	file := chi.URLParam(r, "file")

	if _, err := a.authenticate(r, ""); err != nil {
		writeError(w, r, err)
		return
	}
	bw := &byteCountingWriter{ResponseWriter: w}
	a.hlsOrch.Serve(bw, r, id, file)
	metrics.RecordBytesServed(bw.n)
}
