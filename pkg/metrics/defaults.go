package metrics

import "sync"

// Outcome label values for OperationsTotal.
const (
	OutcomeOK       = "ok"
	OutcomeInvalid  = "invalid"
	OutcomeTooLarge = "too_large"
	OutcomeEmpty    = "nothing_stored"
	OutcomeTimeout  = "backend_unavailable"
	OutcomeBadReply = "reply_too_large"
)

// DefaultBuckets are histogram buckets for backend latency, in seconds.
var DefaultBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Default relay metrics. They stay nil until Init is called; callers must
// check for nil before use.
var (
	// OperationsTotal counts relay operations.
	// Labels: op (store, capture, release, forward), outcome
	OperationsTotal *Counter

	// BackendDuration tracks backend call latency in seconds.
	// Labels: path (forward, release)
	BackendDuration *Histogram

	// Armed is 1 while the next POST will be captured.
	Armed *Gauge

	// Pending is 1 while a captured request awaits release.
	Pending *Gauge

	// EventsDropped counts events a sink could not accept.
	// Labels: sink
	EventsDropped *Counter

	defaultRegistry *Registry
	initOnce        sync.Once
)

// Init registers the default metrics and returns the registry.
// It is idempotent.
func Init() *Registry {
	initOnce.Do(func() {
		defaultRegistry = NewRegistry()
		OperationsTotal = defaultRegistry.NewCounter(
			"relayd_operations_total",
			"Total number of relay operations",
			"op", "outcome",
		)
		BackendDuration = defaultRegistry.NewHistogram(
			"relayd_backend_duration_seconds",
			"Duration of backend calls in seconds",
			DefaultBuckets,
			"path",
		)
		Armed = defaultRegistry.NewGauge(
			"relayd_armed",
			"Whether the next POST will be captured",
		)
		Pending = defaultRegistry.NewGauge(
			"relayd_pending",
			"Whether a captured request awaits release",
		)
		EventsDropped = defaultRegistry.NewCounter(
			"relayd_events_dropped_total",
			"Events a sink could not accept",
			"sink",
		)
	})
	return defaultRegistry
}

// Default returns the registry created by Init, or nil.
func Default() *Registry {
	return defaultRegistry
}

// RecordOperation increments OperationsTotal if metrics are initialised.
func RecordOperation(op, outcome string) {
	if OperationsTotal == nil {
		return
	}
	if vec, err := OperationsTotal.WithLabels(op, outcome); err == nil {
		_ = vec.Inc()
	}
}

// ObserveBackend records a backend call duration if metrics are initialised.
func ObserveBackend(path string, seconds float64) {
	if BackendDuration == nil {
		return
	}
	if vec, err := BackendDuration.WithLabels(path); err == nil {
		vec.Observe(seconds)
	}
}

// SetState updates the Armed and Pending gauges if metrics are initialised.
func SetState(armed, pending bool) {
	if Armed != nil {
		_ = Armed.SetBool(armed)
	}
	if Pending != nil {
		_ = Pending.SetBool(pending)
	}
}

// RecordDrop increments EventsDropped for sink if metrics are initialised.
func RecordDrop(sink string) {
	if EventsDropped == nil {
		return
	}
	if vec, err := EventsDropped.WithLabels(sink); err == nil {
		_ = vec.Inc()
	}
}
