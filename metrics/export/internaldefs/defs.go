package internaldefs

import (
	goRefresh "github.com/MrEthical07/goRefresh"
)

// CounterDef maps one goRefresh counter onto its exported name.
type CounterDef struct {
	ID   goRefresh.MetricID
	Name string
	Help string
}

// HistogramDef maps one goRefresh histogram onto its exported name.
type HistogramDef struct {
	ID   goRefresh.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter exported for audit backpressure drops.
const AuditDroppedName = "refresh_audit_dropped_total"

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goRefresh.MetricIssueSuccess, Name: "refresh_issue_success_total", Help: "Token pairs issued."},
	{ID: goRefresh.MetricIssueFailure, Name: "refresh_issue_failure_total", Help: "Failed token pair issues."},
	{ID: goRefresh.MetricRefreshSuccess, Name: "refresh_rotation_success_total", Help: "Successful refresh rotations."},
	{ID: goRefresh.MetricRefreshFailure, Name: "refresh_rotation_rejected_total", Help: "Refreshes rejected as unauthenticated."},
	{ID: goRefresh.MetricRefreshUnavailable, Name: "refresh_rotation_unavailable_total", Help: "Refreshes that failed retryably."},
	{ID: goRefresh.MetricRotationFailed, Name: "refresh_rotation_failed_total", Help: "Rotations aborted after the new record was written."},
	{ID: goRefresh.MetricSecurityInconsistency, Name: "refresh_security_inconsistency_total", Help: "Rotations whose old record could not be retired."},
	{ID: goRefresh.MetricInconsistencyResolved, Name: "refresh_inconsistency_resolved_total", Help: "Inconsistencies resolved by a later cleanup retry."},
	{ID: goRefresh.MetricSessionCreated, Name: "refresh_session_created_total", Help: "Sessions registered."},
	{ID: goRefresh.MetricSessionReconciled, Name: "refresh_session_reconciled_total", Help: "Stale session index entries pruned."},
	{ID: goRefresh.MetricLogout, Name: "refresh_logout_total", Help: "Single-session logouts."},
	{ID: goRefresh.MetricLogoutAll, Name: "refresh_logout_all_total", Help: "Logout-all operations."},
	{ID: goRefresh.MetricSessionsRevoked, Name: "refresh_sessions_revoked_total", Help: "Sessions revoked by logout-all."},
	{ID: goRefresh.MetricStoreUnavailable, Name: "refresh_store_unavailable_total", Help: "Transitions of the store connection to unavailable."},
	{ID: goRefresh.MetricReconnectExhausted, Name: "refresh_reconnect_exhausted_total", Help: "Reconnect cycles that ran out of attempts."},
	{ID: goRefresh.MetricFallbackActivated, Name: "refresh_fallback_activated_total", Help: "Activations of the in-process fallback store."},
	{ID: goRefresh.MetricOrphanedRecord, Name: "refresh_orphaned_record_total", Help: "New records left behind by a failed issue or rotation."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goRefresh.MetricRefreshLatency, Name: "refresh_latency_seconds", Help: "Refresh latency histogram."},
}

// HistogramBounds are the upper bounds, in seconds, of the eight buckets.
// The last bucket is unbounded.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundLabels renders HistogramBounds plus the +Inf bucket.
var HistogramBoundLabels = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBoundLabels in metric-name-safe form.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array, zero-filling
// missing buckets and ignoring extras.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
