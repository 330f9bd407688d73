package goSession

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter or histogram.
type MetricID uint16

const (
	// MetricLoginSuccess counts logins that produced a session.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts logins the server rejected.
	MetricLoginFailure
	// MetricLoginRateLimited counts logins refused by the local limiter.
	MetricLoginRateLimited
	// MetricTwoFactorRequired counts logins answered with a step-up challenge.
	MetricTwoFactorRequired
	// MetricTwoFactorSuccess counts accepted step-up codes.
	MetricTwoFactorSuccess
	// MetricTwoFactorFailure counts rejected step-up codes.
	MetricTwoFactorFailure
	// MetricTwoFactorExpired counts challenges that expired before completion.
	MetricTwoFactorExpired
	// MetricRefreshSuccess counts successful token refreshes.
	MetricRefreshSuccess
	// MetricRefreshFailure counts refreshes that failed for any reason other than rate limiting.
	MetricRefreshFailure
	// MetricRefreshDenied counts refreshes the server refused. The session was cleared.
	MetricRefreshDenied
	// MetricRefreshRateLimited counts refreshes refused by the local limiter.
	MetricRefreshRateLimited
	// MetricExecuteSuccess counts authenticated requests that returned 2xx.
	MetricExecuteSuccess
	// MetricExecuteUpstreamError counts authenticated requests that returned a non-2xx status.
	MetricExecuteUpstreamError
	// MetricExecuteRetried counts requests reissued once after a 401.
	MetricExecuteRetried
	// MetricExecuteNetworkFailure counts authenticated requests lost to the transport.
	MetricExecuteNetworkFailure
	// MetricRateLimitHit counts every limiter denial.
	MetricRateLimitHit
	// MetricLogout counts explicit logouts.
	MetricLogout
	// MetricIdleWarning counts idle warnings shown.
	MetricIdleWarning
	// MetricIdleLogout counts idle logouts.
	MetricIdleLogout
	// MetricSessionExtended counts explicit session extensions.
	MetricSessionExtended
	// MetricSessionInvalidated counts sessions cleared after a server rejection.
	MetricSessionInvalidated
	// MetricRemoteLogin counts sessions adopted from another tab.
	MetricRemoteLogin
	// MetricRemoteLogout counts logouts caused by another tab.
	MetricRemoteLogout
	// MetricVaultDiscarded counts corrupt vault records dropped on read.
	MetricVaultDiscarded
	// MetricExecuteLatency is the authenticated request latency histogram.
	MetricExecuteLatency
	metricIDCount
)

// latencyBounds are the inclusive upper bounds of the latency buckets. A
// final bucket catches everything slower.
var latencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const latencyBucketCount = len(latencyBounds) + 1

// counter sits alone on a cache line so hot counters bumped from different
// goroutines do not contend.
type counter struct {
	n atomic.Uint64
	_ [56]byte
}

// Metrics is the manager's lock-free counter set. Only request latency has a
// histogram. A nil or disabled Metrics ignores every call.
type Metrics struct {
	enabled bool
	latency bool

	counters [metricIDCount]counter
	buckets  [latencyBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of every counter. Histogram slices
// hold per-bucket counts, not running totals.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether callers should time requests at all.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.latency
}

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= metricIDCount {
		return
	}
	m.counters[id].n.Add(1)
}

// Observe records d against id. Every id but MetricExecuteLatency is ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if id != MetricExecuteLatency || !m.LatencyEnabled() {
		return
	}
	m.buckets[latencyBucket(d)].Add(1)
}

// Value returns the current count for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].n.Load()
}

// Snapshot copies every counter. A disabled Metrics returns empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return snap
	}

	for id := range metricIDCount {
		snap.Counters[id] = m.counters[id].n.Load()
	}
	if m.latency {
		hist := make([]uint64, latencyBucketCount)
		for i := range hist {
			hist[i] = m.buckets[i].Load()
		}
		snap.Histograms[MetricExecuteLatency] = hist
	}
	return snap
}

func latencyBucket(d time.Duration) int {
	for i, bound := range latencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(latencyBounds)
}
