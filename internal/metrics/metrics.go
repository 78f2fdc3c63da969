package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors reporting retry and cleanup activity.
type Metrics struct {
	retryAttempts     *prometheus.CounterVec
	retrySuccesses    *prometheus.CounterVec
	deadLetters       *prometheus.CounterVec
	resolutionLatency *prometheus.HistogramVec
	cleanupOutcomes   *prometheus.CounterVec
	retriesScheduled  *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// Default returns the package-level metrics instance registered with the
// global Prometheus registry. Collectors are created once so repeated
// construction (unit tests, multiple consumers) does not panic on duplicate
// registration.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Callers supply a fresh registry when isolated metric state is required, for
// example in tests. Registration errors other than AlreadyRegistered panic,
// surfacing configuration bugs early.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	retryAttempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Total handler attempts, including the first delivery.",
		},
		[]string{"service", "event_type"},
	)
	retrySuccesses := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "retry",
			Name:      "successes_total",
			Help:      "Handler invocations that completed successfully.",
		},
		[]string{"service", "event_type"},
	)
	deadLetters := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "retry",
			Name:      "dead_letters_total",
			Help:      "Events abandoned to the dead-letter sink, by reason.",
		},
		[]string{"service", "event_type", "reason"},
	)
	resolutionLatency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docpipe",
			Subsystem: "retry",
			Name:      "resolution_seconds",
			Help:      "Time from the event's first attempt to its final resolution.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
		},
		[]string{"service", "event_type", "outcome"},
	)
	cleanupOutcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "cleanup",
			Name:      "outcomes_total",
			Help:      "Terminal cleanup aggregate outcomes, by overall status.",
		},
		[]string{"status"},
	)
	retriesScheduled := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "retry",
			Name:      "scheduled_total",
			Help:      "Delayed republishes scheduled to the retry topic.",
		},
		[]string{"service", "event_type"},
	)

	collectors := map[prometheus.Collector]func(prometheus.Collector){
		retryAttempts:     func(c prometheus.Collector) { retryAttempts = c.(*prometheus.CounterVec) },
		retrySuccesses:    func(c prometheus.Collector) { retrySuccesses = c.(*prometheus.CounterVec) },
		deadLetters:       func(c prometheus.Collector) { deadLetters = c.(*prometheus.CounterVec) },
		resolutionLatency: func(c prometheus.Collector) { resolutionLatency = c.(*prometheus.HistogramVec) },
		cleanupOutcomes:   func(c prometheus.Collector) { cleanupOutcomes = c.(*prometheus.CounterVec) },
		retriesScheduled:  func(c prometheus.Collector) { retriesScheduled = c.(*prometheus.CounterVec) },
	}
	for collector, replace := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				replace(already.ExistingCollector)
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		retryAttempts:     retryAttempts,
		retrySuccesses:    retrySuccesses,
		deadLetters:       deadLetters,
		resolutionLatency: resolutionLatency,
		cleanupOutcomes:   cleanupOutcomes,
		retriesScheduled:  retriesScheduled,
	}
}

// IncAttempt counts one handler attempt.
func (m *Metrics) IncAttempt(service, eventType string) {
	if m == nil || m.retryAttempts == nil {
		return
	}
	m.retryAttempts.WithLabelValues(service, eventType).Inc()
}

// IncSuccess counts one successful handler resolution.
func (m *Metrics) IncSuccess(service, eventType string) {
	if m == nil || m.retrySuccesses == nil {
		return
	}
	m.retrySuccesses.WithLabelValues(service, eventType).Inc()
}

// IncDeadLetter counts one abandoned event.
func (m *Metrics) IncDeadLetter(service, eventType, reason string) {
	if m == nil || m.deadLetters == nil {
		return
	}
	m.deadLetters.WithLabelValues(service, eventType, reason).Inc()
}

// IncRetryScheduled counts one delayed republish.
func (m *Metrics) IncRetryScheduled(service, eventType string) {
	if m == nil || m.retriesScheduled == nil {
		return
	}
	m.retriesScheduled.WithLabelValues(service, eventType).Inc()
}

// ObserveResolution records first-attempt-to-resolution latency.
func (m *Metrics) ObserveResolution(service, eventType, outcome string, d time.Duration) {
	if m == nil || m.resolutionLatency == nil {
		return
	}
	m.resolutionLatency.WithLabelValues(service, eventType, outcome).Observe(d.Seconds())
}

// IncCleanupOutcome counts one terminal cleanup aggregate.
func (m *Metrics) IncCleanupOutcome(status string) {
	if m == nil || m.cleanupOutcomes == nil {
		return
	}
	m.cleanupOutcomes.WithLabelValues(status).Inc()
}
