package goRefresh

import (
	"sync/atomic"
	"time"
)

// MetricID names one counter in [Metrics].
type MetricID uint16

const (
	MetricIssueSuccess MetricID = iota
	MetricIssueFailure
	MetricRefreshSuccess
	// MetricRefreshFailure counts refreshes rejected as unauthenticated.
	MetricRefreshFailure
	// MetricRefreshUnavailable counts refreshes that failed retryably.
	MetricRefreshUnavailable
	MetricRotationFailed
	MetricSecurityInconsistency
	MetricInconsistencyResolved
	MetricSessionCreated
	MetricSessionReconciled
	MetricLogout
	MetricLogoutAll
	MetricSessionsRevoked
	MetricStoreUnavailable
	MetricReconnectExhausted
	MetricFallbackActivated
	// MetricOrphanedRecord counts new records a failed issue or rotation
	// could not remove.
	MetricOrphanedRecord
	MetricRefreshLatency
	metricIDCount
)

// latencyBounds are the inclusive upper bounds of the refresh latency
// buckets. Durations above the last bound land in a final overflow bucket.
var latencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const (
	histBucketCount = len(latencyBounds) + 1
	cacheLineSize   = 64
)

type paddedCounter struct {
	atomic.Uint64
	_ [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters plus the refresh latency
// histogram. A nil or disabled *Metrics ignores every call.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	latency       [histBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of every counter. Histogram
// buckets are per-bucket counts, not cumulative.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

func (m *Metrics) Add(id MetricID, n uint64) {
	if !m.Enabled() || id >= metricIDCount || n == 0 {
		return
	}
	m.counters[id].Add(n)
}

// Observe records d. Only MetricRefreshLatency carries a histogram; other
// ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if id != MetricRefreshLatency || !m.LatencyEnabled() {
		return
	}
	m.latency[latencyBucket(d)].Add(1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}

	for id := range metricIDCount {
		s.Counters[id] = m.counters[id].Load()
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = m.latency[i].Load()
		}
		s.Histograms[MetricRefreshLatency] = buckets
	}
	return s
}

func latencyBucket(d time.Duration) int {
	for i, bound := range latencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(latencyBounds)
}
