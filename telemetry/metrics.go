package telemetry

// SessionBuckets covers sampling sessions from sub-second probes to several minutes
var SessionBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// BroadcastBuckets for a single scatter or gather round trip
var BroadcastBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Session Metrics
var (
	// SessionsTotal counts finished sampling sessions by result (completed, failed, rejected)
	SessionsTotal CounterVec = noopCounterVec{}

	// SessionDurationSeconds measures wall time from start to report
	SessionDurationSeconds Histogram = NoopStat{}

	// SessionsActive tracks in-flight sessions in the session table
	SessionsActive Gauge = NoopStat{}

	// BroadcastDurationSeconds measures broadcast latency by phase (install, harvest, uninstall)
	BroadcastDurationSeconds HistogramVec = noopHistogramVec{}

	// BroadcastFailuresTotal counts failed shard operations by phase
	BroadcastFailuresTotal CounterVec = noopCounterVec{}
)

// Listener Metrics
var (
	// ListenersInstalled tracks installed listeners across local shards
	ListenersInstalled Gauge = NoopStat{}

	// ListenerHookFailuresTotal counts recovered listener failures by hook (read, write)
	ListenerHookFailuresTotal CounterVec = noopCounterVec{}

	// PartitionsObservedTotal counts partition keys handed to listeners by op (read, write)
	PartitionsObservedTotal CounterVec = noopCounterVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	SessionsTotal = NewCounterVec(
		"sessions_total",
		"Total sampling sessions by result",
		[]string{"result"},
	)
	SessionDurationSeconds = NewHistogramWithBuckets(
		"session_duration_seconds",
		"Sampling session duration in seconds",
		SessionBuckets,
	)
	SessionsActive = NewGauge(
		"sessions_active",
		"Number of in-flight sampling sessions",
	)
	BroadcastDurationSeconds = NewHistogramVec(
		"broadcast_duration_seconds",
		"Broadcast latency by phase",
		[]string{"phase"},
		BroadcastBuckets,
	)
	BroadcastFailuresTotal = NewCounterVec(
		"broadcast_failures_total",
		"Failed shard operations by phase",
		[]string{"phase"},
	)

	ListenersInstalled = NewGauge(
		"listeners_installed",
		"Listeners currently installed on local shards",
	)
	ListenerHookFailuresTotal = NewCounterVec(
		"listener_hook_failures_total",
		"Recovered listener hook failures by hook",
		[]string{"hook"},
	)
	PartitionsObservedTotal = NewCounterVec(
		"partitions_observed_total",
		"Partition keys observed by listeners by op",
		[]string{"op"},
	)
}
