package api

import (
	"net/http"
	"strconv"

	"github.com/recelilious/Anicargo/internal/apierr"
	"github.com/recelilious/Anicargo/internal/auth"
)

type mediaEntryResponse struct {
	ID string `json:"id"`
	Path string `json:"path"`
	Filename string `json:"filename"`
	Size int64 `json:"size"`
	ModifiedAt int64 `json:"modified_at"`
	AnimeTitle *string `json:"anime_title,omitempty"`
	Episode *string `json:"episode_number,omitempty"`
	ParseOK *bool `json:"parse_ok,omitempty"`
}

// handleLibrary implements `GET /api/library?refresh=<bool>`.
// refresh=true requires admin and enqueues an index job with the fixed
// dedup key "index", deduplicating concurrent refresh requests into one
// queue row.
func (a *API) handleLibrary(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	if refresh {
		r2, err := a.authenticate(r, "")
		if err != nil {
			writeError(w, r, err)
			return
		}
		claims := claimsFromContext(r2.Context())
		if !auth.IsAdmin(claims.RoleLevel) {
			writeError(w, r, apierr.NotFound("not found"))
			return
		}
		dedup := "index"
		if _, err := a.store.Enqueue(r2.Context(), "index", "", a.cfg.JobMaxAttempts, &dedup); err != nil {
			writeError(w, r, apierr.Internal("enqueue index job", err))
			return
		}
	}

	entries, err := a.store.ListMediaFiles(r.Context())
	if err != nil {
		writeError(w, r, apierr.Internal("list media files", err))
		return
	}

	out := make([]mediaEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp := mediaEntryResponse{
			ID: e.ID, Path: e.Path, Filename: e.Filename, Size: e.Size, ModifiedAt: e.ModifiedAt,
		}
		if e.Parse != nil {
			resp.AnimeTitle = &e.Parse.AnimeTitle
			resp.Episode = &e.Parse.EpisodeNumber
			resp.ParseOK = &e.Parse.ParseOK
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}
