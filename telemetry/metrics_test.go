package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsInitialized(t *testing.T) {
	Init()

	if SubmissionsAdmitted == nil {
		t.Error("SubmissionsAdmitted counter not initialized")
	}
	if SubmissionsRejected == nil {
		t.Error("SubmissionsRejected counter vec not initialized")
	}
	if MetadataFetchDuration == nil {
		t.Error("MetadataFetchDuration histogram not initialized")
	}
	if QueueDepthGauge == nil {
		t.Error("QueueDepthGauge not initialized")
	}
}

func TestSubmissionCounters(t *testing.T) {
	Init()

	// None of these should panic, with or without labels.
	SubmissionAdmitted()
	for _, reason := range []string{"on_cooldown", "spam_detected", "requester_banned", ""} {
		SubmissionRejected(reason)
	}
}

func TestCacheCounters(t *testing.T) {
	Init()

	MetadataCacheHit()
	MetadataCacheMiss()
	ObserveMetadataFetch(150 * time.Millisecond)
}

func TestBanFeedMetrics(t *testing.T) {
	Init()

	BanFeedRefreshFailed()
	for _, n := range []int{0, 12, 4096} {
		SetBanFeedEntries(n)
	}
}

func TestQueueDepthGauge(t *testing.T) {
	Init()

	depths := []int{0, 10, 50, 100}
	for _, depth := range depths {
		SetQueueDepth(depth)
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	Init()

	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})
	prometheus.MustRegister(testHistogram)
	defer prometheus.Unregister(testHistogram)

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}

	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}

	if metric.Histogram == nil {
		t.Fatal("Histogram metric is nil")
	}

	if *metric.Histogram.SampleCount == 0 {
		t.Error("TimeFunc did not record observation in histogram")
	}
}
