// Package metrics exposes system, storage, network, and queue gauges,
// refreshed on a timer via the promauto registration idiom.
package metrics

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/recelilious/Anicargo/internal/log"
	"github.com/recelilious/Anicargo/internal/store"
)

var (
	systemGoroutines = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "animeshelf", Subsystem: "system", Name: "goroutines", Help: "Current goroutine count.",
	})
	systemHeapBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "animeshelf", Subsystem: "system", Name: "heap_bytes", Help: "Current heap bytes in use.",
	})

	storageMediaFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "animeshelf", Subsystem: "storage", Name: "media_files_total", Help: "Number of indexed media files.",
	})
	storageCatalogSubjects = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "animeshelf", Subsystem: "storage", Name: "catalog_subjects_total", Help: "Number of cached catalog subjects.",
	})

	networkBytesServedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "animeshelf", Subsystem: "network", Name: "bytes_served_total", Help: "Cumulative bytes served over HLS playback.",
	})
	networkBytesPerSecond = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "animeshelf", Subsystem: "network", Name: "bytes_per_second", Help: "Bytes served per second, derived from the previous snapshot.",
	})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "animeshelf", Subsystem: "queue", Name: "depth", Help: "Current job count by status.",
	}, []string{"status"})

	// bytesServedShadow mirrors networkBytesServedTotal's value so the
	// collector can read it back; prometheus.Counter exposes no getter.
	bytesServedShadow int64
)

// RecordBytesServed accrues bytes written by the HLS static file server.
func RecordBytesServed(n int64) {
	if n <= 0 {
		return
	}
	networkBytesServedTotal.Add(float64(n))
	atomic.AddInt64(&bytesServedShadow, n)
}

// Collector periodically refreshes the gauges above from live process and
// database state, and derives a bytes/sec network rate from the delta
// between successive snapshots.
type Collector struct {
	store *store.Store

	mu sync.Mutex
	lastBytes int64
	lastSampleAt time.Time
}

func NewCollector(s *store.Store) *Collector {
	return &Collector{store: s}
}

// Run samples every interval until ctx is cancelled.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := log.WithComponent("metrics")
	c.sample(ctx, logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sample(ctx, logger)
		}
	}
}

func (c *Collector) sample(ctx context.Context, logger zerolog.Logger) {
	if err := c.sampleStore(ctx); err != nil {
		logger.Warn().Err(err).Msg("metrics sample failed")
	}
	c.sampleProcess()
	c.sampleNetworkRate()
}

func (c *Collector) sampleProcess() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	systemGoroutines.Set(float64(runtime.NumGoroutine()))
	systemHeapBytes.Set(float64(m.HeapAlloc))
}

func (c *Collector) sampleStore(ctx context.Context) error {
	entries, err := c.store.ListMediaFiles(ctx)
	if err != nil {
		return err
	}
	storageMediaFiles.Set(float64(len(entries)))

	for _, status := range []store.JobStatus{store.JobQueued, store.JobRunning, store.JobRetry, store.JobDone, store.JobFailed} {
		n, err := c.store.CountJobsByStatus(ctx, status)
		if err != nil {
			return err
		}
		queueDepth.WithLabelValues(string(status)).Set(float64(n))
	}

	n, err := c.store.CountSubjects(ctx)
	if err != nil {
		return err
	}
	storageCatalogSubjects.Set(float64(n))
	return nil
}

func (c *Collector) sampleNetworkRate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := atomic.LoadInt64(&bytesServedShadow)
	now := time.Now()
	if !c.lastSampleAt.IsZero() {
		elapsed := now.Sub(c.lastSampleAt).Seconds()
		if elapsed > 0 {
			rate := float64(current-c.lastBytes) / elapsed
			if rate < 0 {
				rate = 0
			}
			networkBytesPerSecond.Set(rate)
		}
	}
	c.lastBytes = current
	c.lastSampleAt = now
}
