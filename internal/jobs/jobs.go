// Package jobs implements the worker pool that drains the durable job
// queue: spawning workers, per-type handler dispatch, and a periodic
// cleanup loop. The durable queue primitives (enqueue/fetch-next/complete/
// fail/...) live in internal/store; this package only drives them.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/recelilious/Anicargo/internal/hls"
	"github.com/recelilious/Anicargo/internal/log"
	"github.com/recelilious/Anicargo/internal/matcher"
	"github.com/recelilious/Anicargo/internal/store"
)

// Config bundles the settings and collaborators the worker pool needs.
type Config struct {
	Workers int
	PollInterval time.Duration
	CleanupInterval time.Duration
	RunningTimeoutSecs int
	RetentionHours int
	MediaDir string
	ScanSemaphore *semaphore.Weighted
}

// Pool drives n workers plus one cleanup loop against a Store.
type Pool struct {
	store *store.Store
	matcher *matcher.Matcher
	hlsOrch *hls.Orchestrator
	cfg Config
}

func NewPool(s *store.Store, m *matcher.Matcher, h *hls.Orchestrator, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.ScanSemaphore == nil {
		cfg.ScanSemaphore = semaphore.NewWeighted(1)
	}
	return &Pool{store: s, matcher: m, hlsOrch: h, cfg: cfg}
}

// Run spawns the worker loops and the cleanup loop as goroutines and returns
// immediately; they run until ctx is cancelled. Shutdown is cooperative: each loop observes ctx.Done() at its
// next poll or tick and returns; there is no additional in-process drain.
func (p *Pool) Run(ctx context.Context) {
	pid := os.Getpid()
	for i := 0; i < p.cfg.Workers; i++ {
		workerID := fmt.Sprintf("api-%d-%d", pid, i)
		go p.workerLoop(ctx, workerID)
	}
	go p.cleanupLoop(ctx)
}

func (p *Pool) workerLoop(ctx context.Context, workerID string) {
	logger := log.WithComponent("jobs.worker").With().Str("worker_id", workerID).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.store.FetchNext(ctx, workerID)
		if err != nil {
			logger.Warn().Err(err).Msg("fetch_next failed")
			sleepOrDone(ctx, p.cfg.PollInterval)
			continue
		}
		if job == nil {
			sleepOrDone(ctx, p.cfg.PollInterval)
			continue
		}

		jobLogger := logger.With().Int64("job_id", job.ID).Str("job_type", job.JobType).Logger()
		result, handleErr := p.dispatch(ctx, job)
		if handleErr != nil {
			jobLogger.Warn().Err(handleErr).Msg("job failed")
			if err := p.store.Fail(ctx, job.ID, job.Attempts, job.MaxAttempts, handleErr.Error()); err != nil {
				jobLogger.Error().Err(err).Msg("failed to record job failure")
			}
			continue
		}
		if err := p.store.Complete(ctx, job.ID, result); err != nil {
			jobLogger.Error().Err(err).Msg("failed to record job completion")
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// dispatch routes a job to its type handler
func (p *Pool) dispatch(ctx context.Context, job *store.Job) (string, error) {
	switch job.JobType {
	case "index":
		return p.handleIndex(ctx)
	case "auto-match":
		return p.handleAutoMatch(ctx, job.Payload)
	case "hls":
		return p.handleHLS(ctx, job.Payload)
	default:
		return "", fmt.Errorf("unknown job type: %s", job.JobType)
	}
}

func (p *Pool) handleIndex(ctx context.Context) (string, error) {
	if err := p.cfg.ScanSemaphore.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire scan permit: %w", err)
	}
	defer p.cfg.ScanSemaphore.Release(1)

	summary, err := p.store.ScanAndIndex(ctx, p.cfg.MediaDir)
	if err != nil {
		return "", err
	}

	if p.matcher != nil {
		if _, err := p.matcher.AutoMatchAll(ctx, matcher.Params{}); err != nil {
			log.WithComponent("jobs.handler").Warn().Err(err).Msg("opportunistic auto_match_all failed")
		}
	}

	out, err := json.Marshal(summary)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

type autoMatchPayload struct {
	Limit *int `json:"limit"`
	MinCandidateScore *float64 `json:"min_candidate_score"`
	MinConfidence *float64 `json:"min_confidence"`
}

func (p *Pool) handleAutoMatch(ctx context.Context, payload string) (string, error) {
	var in autoMatchPayload
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &in); err != nil {
			return "", fmt.Errorf("invalid auto-match payload: %w", err)
		}
	}

	params := matcher.Params{}
	if in.Limit != nil {
		params.Limit = *in.Limit
	}
	if in.MinCandidateScore != nil {
		params.MinCandidateScore = *in.MinCandidateScore
	}
	if in.MinConfidence != nil {
		params.MinConfidence = *in.MinConfidence
	}

	summary, err := p.matcher.AutoMatchAll(ctx, params)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(summary)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

type hlsPayload struct {
	MediaID string `json:"media_id"`
}

func (p *Pool) handleHLS(ctx context.Context, payload string) (string, error) {
	var in hlsPayload
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		return "", fmt.Errorf("invalid hls payload: %w", err)
	}
	if in.MediaID == "" {
		return "", fmt.Errorf("hls job requires non-empty media_id")
	}

	mf, err := p.store.GetMediaFile(ctx, in.MediaID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("media %s not found", in.MediaID)
		}
		return "", err
	}

	if err := p.hlsOrch.EnsureHLS(ctx, in.MediaID, mf.Path); err != nil {
		return "", err
	}

	out, err := json.Marshal(map[string]string{"media_id": in.MediaID})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// cleanupLoop periodically reclaims stuck running jobs and prunes old
// terminal jobs.
func (p *Pool) cleanupLoop(ctx context.Context) {
	interval := p.cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := log.WithComponent("jobs.cleanup")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.cfg.RunningTimeoutSecs > 0 {
				retried, failed, err := p.store.RequeueStuck(ctx, p.cfg.RunningTimeoutSecs)
				if err != nil {
					logger.Warn().Err(err).Msg("requeue_stuck failed")
				} else if retried+failed > 0 {
					logger.Info().Int("retried", retried).Int("failed", failed).Msg("requeued stuck jobs")
				}
			}
			if p.cfg.RetentionHours > 0 {
				removed, err := p.store.Cleanup(ctx, p.cfg.RetentionHours)
				if err != nil {
					logger.Warn().Err(err).Msg("cleanup failed")
				} else if removed > 0 {
					logger.Info().Int("removed", removed).Msg("pruned old jobs")
				}
			}
		}
	}
}
