package jobs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/recelilious/Anicargo/internal/catalog"
	"github.com/recelilious/Anicargo/internal/hls"
	"github.com/recelilious/Anicargo/internal/matcher"
	"github.com/recelilious/Anicargo/internal/store"
)

// TestMain verifies the worker pool's goroutines (pollers, job runners) all
// exit cleanly once a test's context is canceled, instead of leaking past
// the test that started them.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type emptyCatalog struct{}

func (emptyCatalog) Search(ctx context.Context, keyword string, limit int) (catalog.Page, error) {
	return catalog.Page{}, nil
}
func (emptyCatalog) GetSubject(ctx context.Context, id int64) (catalog.Subject, error) {
	return catalog.Subject{}, nil
}
func (emptyCatalog) GetEpisodes(ctx context.Context, subjectID int64) ([]catalog.Episode, error) {
	return nil, nil
}

func newTestPool(t *testing.T, mediaDir string) (*Pool, *store.Store) {
	t.Helper()
	s, err := store.Open("file:" + t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	m := matcher.New(s, emptyCatalog{})
	h := hls.New(hls.Config{Root: t.TempDir(), LockTimeoutSecs: 3600})

	p := NewPool(s, m, h, Config{
		Workers: 1,
		PollInterval: 10 * time.Millisecond,
		MediaDir: mediaDir,
	})
	return p, s
}

func TestDispatchUnknownTypeFails(t *testing.T) {
	p, _ := newTestPool(t, t.TempDir())
	_, err := p.dispatch(context.Background(), &store.Job{JobType: "bogus"})
	require.ErrorContains(t, err, "unknown job type")
}

func TestHandleIndexScansAndReturnsSummary(t *testing.T) {
	mediaDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(mediaDir, "a.mkv"), []byte("x"), 0o644))

	p, _ := newTestPool(t, mediaDir)
	result, err := p.handleIndex(context.Background())
	require.NoError(t, err)

	var summary store.ScanSummary
	require.NoError(t, json.Unmarshal([]byte(result), &summary))
	require.Equal(t, 1, summary.Scanned)
}

func TestHandleHLSRequiresMediaID(t *testing.T) {
	p, _ := newTestPool(t, t.TempDir())
	_, err := p.handleHLS(context.Background(), `{"media_id":""}`)
	require.Error(t, err)
}

func TestHandleHLSFailsForUnknownMedia(t *testing.T) {
	p, _ := newTestPool(t, t.TempDir())
	_, err := p.handleHLS(context.Background(), `{"media_id":"does-not-exist"}`)
	require.ErrorContains(t, err, "not found")
}

func TestWorkerLoopProcessesEnqueuedJob(t *testing.T) {
	mediaDir := t.TempDir()
	p, s := newTestPool(t, mediaDir)

	_, err := s.Enqueue(context.Background(), "index", "{}", 3, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p.Run(ctx)

	require.Eventually(t, func() bool {
		job, err := s.GetJob(context.Background(), 1)
		if err != nil {
			return false
		}
		return job.Status == store.JobDone
	}, time.Second, 20*time.Millisecond)
}
