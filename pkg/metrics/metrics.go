// Package metrics provides Prometheus metrics for the pixels writer, reader,
// shared-memory cache and storage backends.
//
// # Basic Usage
//
//	metrics.WriterBytes.Add(float64(n))
//
//	timer := metrics.NewTimer("flush")
//	flush()
//	metrics.WriterFlushDuration.Observe(timer.Stop().Seconds())
//
// Metrics are registered with the default registry on package load; Handler
// exposes them over HTTP.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pixels"

// Label values shared by several vectors.
const (
	SourceStorage = "storage"
	SourceCache   = "cache"

	ResultHit            = "hit"
	ResultMiss           = "miss"
	ResultRetryExhausted = "retry_exhausted"
	ResultOK             = "ok"
	ResultCapacity       = "capacity_exceeded"
	ResultError          = "error"

	LevelRowGroup = "row_group"
	LevelPixel    = "pixel"
)

var (
	// WriterBytes counts bytes emitted by writers, including footers and padding.
	WriterBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "writer",
		Name:      "bytes_total",
		Help:      "Total bytes written to storage by file writers",
	})

	// WriterRequests counts write calls issued to storage.
	WriterRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "writer",
		Name:      "requests_total",
		Help:      "Total write requests issued to storage",
	})

	// WriterRowGroups counts flushed row groups.
	WriterRowGroups = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "writer",
		Name:      "row_groups_total",
		Help:      "Total row groups flushed",
	})

	// WriterFlushDuration tracks row-group flush latency in seconds.
	WriterFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "writer",
		Name:      "flush_duration_seconds",
		Help:      "Row-group encode and emit latency",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	// ReaderBytes counts chunk bytes obtained by readers, by source.
	ReaderBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reader",
		Name:      "bytes_total",
		Help:      "Total column chunk bytes read",
	}, []string{"source"})

	// ReaderRequests counts read calls issued to storage.
	ReaderRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reader",
		Name:      "requests_total",
		Help:      "Total read requests issued to storage",
	})

	// ReaderSkipped counts row groups and pixels pruned by statistics.
	ReaderSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reader",
		Name:      "skipped_total",
		Help:      "Row groups and pixels skipped by predicate statistics",
	}, []string{"level"})

	// ReaderCorruptPixels counts pixels dropped by corrupt-record tolerance.
	ReaderCorruptPixels = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reader",
		Name:      "corrupt_pixels_total",
		Help:      "Pixels skipped because they failed to decode",
	})

	// CacheGets counts cache lookups by result.
	CacheGets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "gets_total",
		Help:      "Cache lookups by result",
	}, []string{"result"})

	// CachePuts counts cache population attempts by result.
	CachePuts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "puts_total",
		Help:      "Cache puts by result",
	}, []string{"result"})

	// CacheEvictions counts entries retired to make room.
	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Cache entries evicted",
	})

	// CacheReadRetries counts lock-free read attempts that raced a writer.
	CacheReadRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "read_retries_total",
		Help:      "Cache reads retried because the entry generation changed",
	})

	// CacheUsedBytes reports bytes held by live entries.
	CacheUsedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "used_bytes",
		Help:      "Bytes held by live cache entries",
	})

	// StorageRetries counts retried storage operations by scheme.
	StorageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "retries_total",
		Help:      "Storage operations retried after an I/O failure",
	}, []string{"scheme"})
)

// Handler returns the HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start   time.Time
	name    string
	elapsed time.Duration
	running bool
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start:   time.Now(),
		name:    name,
		running: true,
	}
}

// Stop stops the timer and returns the total elapsed duration.
func (t *Timer) Stop() time.Duration {
	if t.running {
		t.elapsed += time.Since(t.start)
		t.running = false
	}
	return t.elapsed
}

// Start resumes a stopped timer.
func (t *Timer) Start() *Timer {
	if !t.running {
		t.start = time.Now()
		t.running = true
	}
	return t
}

// Add folds an externally measured duration into the timer.
func (t *Timer) Add(d time.Duration) {
	t.elapsed += d
}

// Minus removes an externally measured duration, e.g. I/O time from compute time.
func (t *Timer) Minus(d time.Duration) {
	t.elapsed -= d
	if t.elapsed < 0 {
		t.elapsed = 0
	}
}

// Elapsed returns the accumulated duration, including a running interval.
func (t *Timer) Elapsed() time.Duration {
	if t.running {
		return t.elapsed + time.Since(t.start)
	}
	return t.elapsed
}

// Name returns the timer name
func (t *Timer) Name() string {
	return t.name
}
