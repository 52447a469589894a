// Package hls implements the HLS Orchestrator : idempotent,
// bounded-concurrency transcode-on-demand into per-media output directories,
// plus the containment-checked static serving path for the resulting
// playlist and segment files.
package hls

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/recelilious/Anicargo/internal/log"
	"github.com/recelilious/Anicargo/internal/store"
)

const lockFilename = ".hls.lock"

// Config carries the transcoder invocation parameters.
type Config struct {
	Root string
	TranscoderPath string
	SegmentSecs int
	PlaylistLen int
	LockTimeoutSecs int
	Transcode bool
	MaxConcurrency int64
}

// Orchestrator makes HLS output present on demand, serializing concurrent
// calls for the same media id via a per-id mutex and bounding total
// concurrent transcodes with a semaphore, on top of the on-disk lock
// sentinel used across process restarts.
type Orchestrator struct {
	cfg Config
	sem *semaphore.Weighted
	locks *store.KeyedMutex
}

func New(cfg Config) *Orchestrator {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 2
	}
	return &Orchestrator{
		cfg: cfg,
		sem: semaphore.NewWeighted(cfg.MaxConcurrency),
		locks: store.NewKeyedMutex(),
	}
}

// EnsureHLS makes ${hls_root}/${media_id}/index.m3u8 present, spawning the
// transcoder if needed. Idempotent and safe to call repeatedly or
// concurrently.
func (o *Orchestrator) EnsureHLS(ctx context.Context, mediaID, inputPath string) error {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("hls: acquire concurrency permit: %w", err)
	}
	defer o.sem.Release(1)

	guard := o.locks.AcquireOwnedGuard(mediaID)
	defer guard.Release()

	outputDir := filepath.Join(o.cfg.Root, mediaID)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("hls: mkdir %s: %w", outputDir, err)
	}

	playlist := filepath.Join(outputDir, "index.m3u8")
	if _, err := os.Stat(playlist); err == nil {
		return nil
	}

	acquired, err := o.acquireLockFile(outputDir)
	if err != nil {
		return fmt.Errorf("hls: lock sentinel: %w", err)
	}
	if !acquired {
		// Another worker holds a fresh lock; treat this call as a no-op.
		return nil
	}
	defer os.Remove(filepath.Join(outputDir, lockFilename))

	if err := o.transcode(ctx, inputPath, outputDir); err != nil {
		return fmt.Errorf("hls: transcode %s: %w", mediaID, err)
	}
	return nil
}

// acquireLockFile exclusive-creates the lock sentinel file; if it already
// exists, reclaims it once it's older than the configured lock timeout.
func (o *Orchestrator) acquireLockFile(outputDir string) (bool, error) {
	path := filepath.Join(outputDir, lockFilename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		_, werr := f.WriteString(strconv.FormatInt(time.Now().Unix(), 10))
		_ = f.Close()
		return true, werr
	}
	if !os.IsExist(err) {
		return false, err
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return o.acquireLockFile(outputDir) // raced past us; retry once
		}
		return false, statErr
	}

	timeout := time.Duration(o.cfg.LockTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = time.Hour
	}
	if time.Since(info.ModTime()) <= timeout {
		return false, nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, err
	}
	return o.acquireLockFile(outputDir)
}

func (o *Orchestrator) transcode(ctx context.Context, inputPath, outputDir string) error {
	segmentSecs := o.cfg.SegmentSecs
	if segmentSecs <= 0 {
		segmentSecs = 6
	}

	args := []string{"-y", "-i", inputPath}
	if o.cfg.Transcode {
		args = append(args, "-c:v", "libx264", "-preset", "veryfast", "-crf", "23", "-c:a", "aac", "-b:a", "128k")
	} else {
		args = append(args, "-c", "copy")
	}
	args = append(args,
		"-start_number", "0",
		"-hls_time", strconv.Itoa(segmentSecs),
		"-hls_list_size", strconv.Itoa(o.cfg.PlaylistLen),
		"-hls_playlist_type", "vod",
		"-hls_flags", "independent_segments",
		"-hls_segment_filename", filepath.Join(outputDir, "segment_%05d.ts"),
		"-f", "hls", filepath.Join(outputDir, "index.m3u8"),
	)

	transcoderPath := o.cfg.TranscoderPath
	if transcoderPath == "" {
		transcoderPath = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, transcoderPath, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil

	logger := log.WithComponent("hls")
	logger.Info().Str("input", inputPath).Str("output_dir", outputDir).Msg("spawning transcoder")

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if asExitError(err, &exitErr) {
			return fmt.Errorf("transcoder exited with code %d: %w", exitErr.ExitCode(), err)
		}
		return err
	}
	return nil
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}
