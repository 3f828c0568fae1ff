// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
    once sync.Once

    // Counters
    SubmissionsAdmitted prometheus.Counter
    SubmissionsRejected *prometheus.CounterVec
    MetadataCacheHits   prometheus.Counter
    MetadataCacheMisses prometheus.Counter
    BanFeedFailures     prometheus.Counter

    // Histograms (seconds)
    MetadataFetchDuration prometheus.Observer

    // Gauges
    QueueDepthGauge prometheus.Gauge
    BanFeedEntriesGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
    once.Do(func() {
        SubmissionsAdmitted = promauto.NewCounter(prometheus.CounterOpts{Name: "tender_submissions_admitted_total", Help: "Number of level submissions admitted to the queue"})
        SubmissionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tender_submissions_rejected_total", Help: "Number of level submissions rejected, by reason code"}, []string{"reason"})
        MetadataCacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "tender_metadata_cache_hits_total", Help: "Level metadata lookups served from cache"})
        MetadataCacheMisses = promauto.NewCounter(prometheus.CounterOpts{Name: "tender_metadata_cache_misses_total", Help: "Level metadata lookups that went upstream"})
        BanFeedFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "tender_banfeed_refresh_failures_total", Help: "Remote ban feed refresh failures"})
        MetadataFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "tender_metadata_fetch_duration_seconds", Help: "Upstream level metadata fetch duration seconds", Buckets: prometheus.DefBuckets})
        QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "tender_queue_depth", Help: "Current number of queued level requests"})
        BanFeedEntriesGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "tender_banfeed_entries", Help: "Flagged entries currently loaded from the remote ban feed"})
    })
}

// SubmissionAdmitted counts one admitted submission.
func SubmissionAdmitted() { if SubmissionsAdmitted != nil { SubmissionsAdmitted.Inc() } }

// SubmissionRejected counts one rejected submission labelled by reason code.
func SubmissionRejected(reason string) { if SubmissionsRejected != nil { SubmissionsRejected.WithLabelValues(reason).Inc() } }

// MetadataCacheHit counts one metadata lookup served from cache.
func MetadataCacheHit() { if MetadataCacheHits != nil { MetadataCacheHits.Inc() } }

// MetadataCacheMiss counts one metadata lookup that went upstream.
func MetadataCacheMiss() { if MetadataCacheMisses != nil { MetadataCacheMisses.Inc() } }

// ObserveMetadataFetch records one upstream fetch duration.
func ObserveMetadataFetch(d time.Duration) { if MetadataFetchDuration != nil { MetadataFetchDuration.Observe(d.Seconds()) } }

// BanFeedRefreshFailed counts one failed remote feed refresh.
func BanFeedRefreshFailed() { if BanFeedFailures != nil { BanFeedFailures.Inc() } }

// SetBanFeedEntries records the flagged-entry count after a successful refresh.
func SetBanFeedEntries(n int) { if BanFeedEntriesGauge != nil { BanFeedEntriesGauge.Set(float64(n)) } }

// SetQueueDepth records the current queue length.
func SetQueueDepth(n int) { if QueueDepthGauge != nil { QueueDepthGauge.Set(float64(n)) } }

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
    start := time.Now()
    fn()
    d := time.Since(start)
    if obs != nil { obs.Observe(d.Seconds()) }
    return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}
var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context { return context.WithValue(ctx, corrKey, id) }

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
    v := ctx.Value(corrKey)
    if s, ok := v.(string); ok { return s }
    return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
    if id := GetCorrelation(ctx); id != "" { return slog.Default().With(slog.String("corr", id)) }
    return slog.Default()
}
