package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryIdempotencyStoreRoundTrip(t *testing.T) {
	s := NewMemoryIdempotencyStore()
	ctx := context.Background()

	_, _, found, err := s.Load(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.Save(ctx, "req-1", 202, []byte(`{"job_id":1}`), time.Minute))

	status, body, found, err := s.Load(ctx, "req-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 202, status)
	require.Equal(t, `{"job_id":1}`, string(body))
}

func TestMemoryIdempotencyStoreExpires(t *testing.T) {
	s := NewMemoryIdempotencyStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "req-1", 200, []byte("ok"), -time.Second))

	_, _, found, err := s.Load(ctx, "req-1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestBadgerIdempotencyStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBadgerIdempotencyStore(filepath.Join(dir, "idem"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "req-1", 202, []byte(`{"job_id":1}`), time.Minute))

	status, body, found, err := s.Load(ctx, "req-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 202, status)
	require.Equal(t, `{"job_id":1}`, string(body))

	_, _, found, err = s.Load(ctx, "never-saved")
	require.NoError(t, err)
	require.False(t, found)
}
