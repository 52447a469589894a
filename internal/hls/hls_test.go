package hls

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTranscoderScript writes a tiny shell script masquerading as the
// transcoder, so tests never depend on ffmpeg being installed.
func fakeTranscoderScript(t *testing.T, spawnCount *int64) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-ffmpeg.sh")
	script := `#!/bin/sh
# args:... <out>/index.m3u8 (last arg)
eval last="\${$#}"
mkdir -p "$(dirname "$last")"
echo '#EXTM3U' > "$last"
exit 0
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	_ = spawnCount
	return path
}

func TestEnsureHLSCreatesPlaylist(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(t.TempDir(), "movie.mkv")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0o644))

	script := fakeTranscoderScript(t, nil)
	o := New(Config{Root: root, TranscoderPath: script, SegmentSecs: 6, PlaylistLen: 0, LockTimeoutSecs: 3600})

	err := o.EnsureHLS(context.Background(), "media-1", input)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, "media-1", "index.m3u8"))
	require.NoError(t, err)

	// Lock sentinel must be cleaned up after a successful run.
	_, err = os.Stat(filepath.Join(root, "media-1", ".hls.lock"))
	require.True(t, os.IsNotExist(err))
}

func TestEnsureHLSIsIdempotent(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(t.TempDir(), "movie.mkv")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0o644))

	o := New(Config{Root: root, LockTimeoutSecs: 3600})
	o.cfg.TranscoderPath = fakeTranscoderScript(t, nil)

	require.NoError(t, o.EnsureHLS(context.Background(), "media-1", input))

	// Second call should short-circuit at the "index.m3u8 exists" check
	// without needing the transcoder again — verified indirectly by pointing
	// TranscoderPath at a nonexistent binary and confirming no error.
	o.cfg.TranscoderPath = filepath.Join(t.TempDir(), "does-not-exist")
	err := o.EnsureHLS(context.Background(), "media-1", input)
	require.NoError(t, err)
}

// TestEnsureHLSSpawnsAtMostOnceConcurrently validates the concurrency guarantee: concurrent
// ensure_hls calls for the same media id spawn the transcoder at most once.
func TestEnsureHLSSpawnsAtMostOnceConcurrently(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(t.TempDir(), "movie.mkv")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0o644))

	dir := t.TempDir()
	counterFile := filepath.Join(dir, "count")
	require.NoError(t, os.WriteFile(counterFile, []byte("0"), 0o644))

	script := filepath.Join(dir, "slow-ffmpeg.sh")
	scriptBody := `#!/bin/sh
eval last="\${$#}"
mkdir -p "$(dirname "$last")"
n=$(cat '` + counterFile + `')
echo $((n+1)) > '` + counterFile + `'
sleep 0.2
echo '#EXTM3U' > "$last"
exit 0
`
	require.NoError(t, os.WriteFile(script, []byte(scriptBody), 0o755))

	o := New(Config{Root: root, TranscoderPath: script, LockTimeoutSecs: 3600, MaxConcurrency: 2})

	var succeeded int64
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := o.EnsureHLS(context.Background(), "media-1", input); err == nil {
				atomic.AddInt64(&succeeded, 1)
			}
		}()
	}
	wg.Wait()

	_, err := os.Stat(filepath.Join(root, "media-1", "index.m3u8"))
	require.NoError(t, err)
	require.Equal(t, int64(5), atomic.LoadInt64(&succeeded)) // all calls succeed...
	// ...but the script's counter shows the transcoder ran only once.
	count, err := os.ReadFile(counterFile)
	require.NoError(t, err)
	require.Equal(t, "1\n", string(count))
}

func TestAcquireLockFileReclaimsStaleLock(t *testing.T) {
	root := t.TempDir()
	outputDir := filepath.Join(root, "media-1")
	require.NoError(t, os.MkdirAll(outputDir, 0o755))

	lockPath := filepath.Join(outputDir, lockFilename)
	require.NoError(t, os.WriteFile(lockPath, []byte("123"), 0o644))
	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(lockPath, stale, stale))

	o := New(Config{Root: root, LockTimeoutSecs: 10})
	acquired, err := o.acquireLockFile(outputDir)
	require.NoError(t, err)
	require.True(t, acquired)
}

func TestAcquireLockFileSkipsFreshLock(t *testing.T) {
	root := t.TempDir()
	outputDir := filepath.Join(root, "media-1")
	require.NoError(t, os.MkdirAll(outputDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, lockFilename), []byte("123"), 0o644))

	o := New(Config{Root: root, LockTimeoutSecs: 3600})
	acquired, err := o.acquireLockFile(outputDir)
	require.NoError(t, err)
	require.False(t, acquired)
}

// TestServeRejectsPathTraversal checks that any file segment escaping the
// HLS root is rejected as Forbidden, regardless of whether the traversal
// target exists.
func TestServeRejectsPathTraversal(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "media-1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "media-1", "index.m3u8"), []byte("#EXTM3U"), 0o644))

	o := New(Config{Root: root, LockTimeoutSecs: 3600})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/hls/tok/media-1/../../etc/passwd", nil)
	o.Serve(rec, req, "media-1", "../../etc/passwd")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServeServesExistingPlaylist(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "media-1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "media-1", "index.m3u8"), []byte("#EXTM3U"), 0o644))

	o := New(Config{Root: root, LockTimeoutSecs: 3600})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/hls/tok/media-1/index.m3u8", nil)
	o.Serve(rec, req, "media-1", "index.m3u8")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"))
}
