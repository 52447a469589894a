package hls

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/recelilious/Anicargo/internal/fsutil"
	"github.com/recelilious/Anicargo/internal/log"
)

const playlistWaitTimeout = 5 * time.Second

// Serve resolves ${hls_root}/${media_id}/${file}, confines it beneath the
// HLS root, and serves it with Range support via http.ServeContent.
// If file is the playlist and it hasn't appeared yet (transcode still
// starting), it polls briefly before giving up.
func (o *Orchestrator) Serve(w http.ResponseWriter, r *http.Request, mediaID, file string) {
	cleanName := filepath.Base(file)
	if cleanName != file || file == "." || file == ".." || strings.Contains(file, "\\") {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	relPath := filepath.Join(mediaID, file)
	filePath, err := fsutil.ConfineRelPath(o.cfg.Root, relPath)
	if err != nil {
		log.WithComponent("hls").Warn().Err(err).Str("media_id", mediaID).Str("file", file).Msg("path confinement failed")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	isPlaylist := cleanName == "index.m3u8"

	info, statErr := os.Stat(filePath)
	if os.IsNotExist(statErr) && isPlaylist {
		deadline := time.Now().Add(playlistWaitTimeout)
		for time.Now().Before(deadline) {
			time.Sleep(250 * time.Millisecond)
			info, statErr = os.Stat(filePath)
			if statErr == nil || !os.IsNotExist(statErr) {
				break
			}
		}
	}
	if os.IsNotExist(statErr) {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	if statErr != nil {
		http.Error(w, "stat failed", http.StatusInternalServerError)
		return
	}
	if info.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType(cleanName))
	if isPlaylist {
		w.Header().Set("Cache-Control", "no-store")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=60")
	}

	f, err := os.Open(filePath)
	if err != nil {
		http.Error(w, "failed to open file", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	http.ServeContent(w, r, cleanName, info.ModTime(), f)
}

func contentType(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".m3u8"):
		return "application/vnd.apple.mpegurl"
	case strings.HasSuffix(filename, ".ts"):
		return "video/mp2t"
	default:
		return "application/octet-stream"
	}
}
