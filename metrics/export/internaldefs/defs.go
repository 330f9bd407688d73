package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in export order.
var CounterDefs = []CounterDef{
	{ID: goSession.MetricLoginSuccess, Name: "gosession_login_success_total", Help: "Successful logins."},
	{ID: goSession.MetricLoginFailure, Name: "gosession_login_failure_total", Help: "Rejected or failed logins."},
	{ID: goSession.MetricLoginRateLimited, Name: "gosession_login_rate_limited_total", Help: "Login and step-up attempts throttled in the tab."},
	{ID: goSession.MetricTwoFactorRequired, Name: "gosession_two_factor_required_total", Help: "Logins that opened a step-up challenge."},
	{ID: goSession.MetricTwoFactorSuccess, Name: "gosession_two_factor_success_total", Help: "Accepted step-up codes."},
	{ID: goSession.MetricTwoFactorFailure, Name: "gosession_two_factor_failure_total", Help: "Rejected step-up codes."},
	{ID: goSession.MetricTwoFactorExpired, Name: "gosession_two_factor_expired_total", Help: "Step-up challenges that expired."},
	{ID: goSession.MetricRefreshSuccess, Name: "gosession_refresh_success_total", Help: "Successful token refreshes."},
	{ID: goSession.MetricRefreshFailure, Name: "gosession_refresh_failure_total", Help: "Refreshes that failed without a server rejection."},
	{ID: goSession.MetricRefreshDenied, Name: "gosession_refresh_denied_total", Help: "Refreshes the server rejected."},
	{ID: goSession.MetricRefreshRateLimited, Name: "gosession_refresh_rate_limited_total", Help: "Refreshes throttled in the tab."},
	{ID: goSession.MetricExecuteSuccess, Name: "gosession_execute_success_total", Help: "Authenticated requests that returned 2xx."},
	{ID: goSession.MetricExecuteUpstreamError, Name: "gosession_execute_upstream_error_total", Help: "Authenticated requests that returned a non-2xx status."},
	{ID: goSession.MetricExecuteRetried, Name: "gosession_execute_retried_total", Help: "Authenticated requests resent after a refresh."},
	{ID: goSession.MetricExecuteNetworkFailure, Name: "gosession_execute_network_failure_total", Help: "Authenticated requests that failed in transport."},
	{ID: goSession.MetricRateLimitHit, Name: "gosession_rate_limit_hit_total", Help: "Rate-limit checks that denied an operation."},
	{ID: goSession.MetricLogout, Name: "gosession_logout_total", Help: "Explicit logouts."},
	{ID: goSession.MetricIdleWarning, Name: "gosession_idle_warning_total", Help: "Idle warnings raised."},
	{ID: goSession.MetricIdleLogout, Name: "gosession_idle_logout_total", Help: "Logouts forced by inactivity."},
	{ID: goSession.MetricSessionExtended, Name: "gosession_session_extended_total", Help: "Idle budget extensions."},
	{ID: goSession.MetricSessionInvalidated, Name: "gosession_session_invalidated_total", Help: "Sessions cleared after a server rejection."},
	{ID: goSession.MetricRemoteLogin, Name: "gosession_remote_login_total", Help: "Logins adopted from another tab."},
	{ID: goSession.MetricRemoteLogout, Name: "gosession_remote_logout_total", Help: "Logouts adopted from another tab."},
	{ID: goSession.MetricVaultDiscarded, Name: "gosession_vault_discarded_total", Help: "Unreadable vault records discarded."},
}

// HistogramDefs lists every histogram.
var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricExecuteLatency, Name: "gosession_execute_latency_seconds", Help: "Authenticated request latency histogram."},
}

// HistogramBounds are the upper bounds of the latency buckets, in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// NormalizeBuckets pads or truncates raw to the eight snapshot buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

// BoundSeconds are HistogramBounds as numbers. The +Inf bucket is implicit.
var BoundSeconds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}
