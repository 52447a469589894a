package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MEDIA_DIR", "CACHE_DIR", "DATABASE_URL", "JWT_SECRET", "ADMIN_PASSWORD",
		"MAX_SCAN_CONCURRENCY", "MAX_HLS_CONCURRENCY", "JOB_WORKERS", "JOB_MAX_ATTEMPTS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("MEDIA_DIR", "/media")
	t.Setenv("CACHE_DIR", "/cache")
	t.Setenv("DATABASE_URL", "file:/cache/animeshelf.db")
	t.Setenv("JWT_SECRET", "0123456789012345678901234567890123")
	t.Setenv("ADMIN_PASSWORD", "hunter2")

	s, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "ffmpeg", s.TranscoderPath)
	require.Equal(t, 6, s.HLSSegmentSecs)
	require.Equal(t, 0, s.HLSPlaylistLen)
	require.Equal(t, 2, s.JobWorkers)
	require.Equal(t, 3, s.JobMaxAttempts)
	require.Equal(t, "0.0.0.0:3000", s.Bind)
}

func TestLoadRejectsShortSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("MEDIA_DIR", "/media")
	t.Setenv("CACHE_DIR", "/cache")
	t.Setenv("DATABASE_URL", "file:/cache/animeshelf.db")
	t.Setenv("JWT_SECRET", "short")
	t.Setenv("ADMIN_PASSWORD", "hunter2")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadRejectsMissingMediaDir(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_DIR", "/cache")
	t.Setenv("DATABASE_URL", "file:/cache/animeshelf.db")
	t.Setenv("JWT_SECRET", "0123456789012345678901234567890123")
	t.Setenv("ADMIN_PASSWORD", "hunter2")

	_, err := Load("")
	require.Error(t, err)
}

func TestEnvOverridesDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("MEDIA_DIR", "/media")
	t.Setenv("CACHE_DIR", "/cache")
	t.Setenv("DATABASE_URL", "file:/cache/animeshelf.db")
	t.Setenv("JWT_SECRET", "0123456789012345678901234567890123")
	t.Setenv("ADMIN_PASSWORD", "hunter2")
	t.Setenv("JOB_WORKERS", "8")

	s, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8, s.JobWorkers)
}
