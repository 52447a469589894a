package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open("file:" + filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestScanAndIndexUpsertsAndPrunes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mediaDir := t.TempDir()

	write := func(name string) {
		require.NoError(t, os.WriteFile(filepath.Join(mediaDir, name), []byte("x"), 0o644))
	}
	write("[Group] Show - 01 [1080p].mkv")
	write("[Group] Show - 02 [1080p].mkv")

	summary, err := s.ScanAndIndex(ctx, mediaDir)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Scanned)
	require.Equal(t, 2, summary.Upserted)
	require.Equal(t, 2, summary.Parsed)
	require.Equal(t, 0, summary.Removed)

	entries, err := s.ListMediaFiles(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.NotNil(t, entries[0].Parse)

	// Remove one file and rescan: it must be pruned (P1, P3's sibling invariant 3).
	require.NoError(t, os.Remove(filepath.Join(mediaDir, "[Group] Show - 01 [1080p].mkv")))
	summary2, err := s.ScanAndIndex(ctx, mediaDir)
	require.NoError(t, err)
	require.Equal(t, 1, summary2.Removed)

	entries2, err := s.ListMediaFiles(ctx)
	require.NoError(t, err)
	require.Len(t, entries2, 1)
}

func TestScanAndIndexSkipsReparseWhenUnchanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mediaDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(mediaDir, "a.mp4"), []byte("x"), 0o644))

	_, err := s.ScanAndIndex(ctx, mediaDir)
	require.NoError(t, err)

	summary, err := s.ScanAndIndex(ctx, mediaDir)
	require.NoError(t, err)
	require.Equal(t, 0, summary.Parsed)
	require.Equal(t, 1, summary.Skipped)
}

func TestEnqueueDedupReturnsExistingActiveJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := "index"

	id1, err := s.Enqueue(ctx, "index", "{}", 3, &key)
	require.NoError(t, err)

	id2, err := s.Enqueue(ctx, "index", "{}", 3, &key)
	require.NoError(t, err)

	require.Equal(t, id1, id2)

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE dedup_key = ?`, key).Scan(&count))
	require.Equal(t, 1, count)
}

func TestFetchNextLeasesExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, "auto-match", "{}", 3, nil)
	require.NoError(t, err)

	j1, err := s.FetchNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, j1)
	require.Equal(t, JobRunning, j1.Status)
	require.Equal(t, 1, j1.Attempts)

	j2, err := s.FetchNext(ctx, "worker-2")
	require.NoError(t, err)
	require.Nil(t, j2)
}

func TestFailRetriesThenFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, "hls", `{"media_id":"abc"}`, 3, nil)
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		j, err := s.FetchNext(ctx, "worker-1")
		require.NoError(t, err)
		require.NotNil(t, j)
		require.Equal(t, attempt, j.Attempts)

		require.NoError(t, s.Fail(ctx, id, j.Attempts, j.MaxAttempts, "boom"))

		got, err := s.GetJob(ctx, id)
		require.NoError(t, err)
		if attempt < 3 {
			require.Equal(t, JobRetry, got.Status)
			// force scheduled_at back so the next FetchNext can observe it immediately
			_, err = s.db.ExecContext(ctx, `UPDATE jobs SET scheduled_at = 0 WHERE id = ?`, id)
			require.NoError(t, err)
		} else {
			require.Equal(t, JobFailed, got.Status)
		}
	}
}

func TestRequeueStuckRecoversTimedOutJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, "hls", `{"media_id":"abc"}`, 3, nil)
	require.NoError(t, err)
	_, err = s.FetchNext(ctx, "worker-1")
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx, `UPDATE jobs SET locked_at = 0 WHERE id = ?`, id)
	require.NoError(t, err)

	retried, failed, err := s.RequeueStuck(ctx, 3600)
	require.NoError(t, err)
	require.Equal(t, 1, retried)
	require.Equal(t, 0, failed)

	got, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, JobRetry, got.Status)
	require.Equal(t, "timeout", *got.LastError)
}

func TestSetManualMatchIsRecordedAsManual(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// media_matches.media_id references media_files, so index a real file first.
	mediaDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(mediaDir, "[Group] Spy x Family - 01 [1080p].mkv"), []byte("x"), 0o644))
	_, err := s.ScanAndIndex(ctx, mediaDir)
	require.NoError(t, err)
	entries, err := s.ListMediaFiles(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	mediaID := entries[0].ID

	require.NoError(t, s.UpsertSubject(ctx, CatalogSubject{ID: 1, Name: "Spy x Family"}))
	require.NoError(t, s.SetManualMatch(ctx, mediaID, 1, nil))

	manual, err := s.IsManualMatch(ctx, mediaID)
	require.NoError(t, err)
	require.True(t, manual)

	m, err := s.GetMatch(ctx, mediaID)
	require.NoError(t, err)
	require.Equal(t, "manual", m.Method)
}
