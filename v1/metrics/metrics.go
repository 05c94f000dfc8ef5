package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// AcquireCounter tracks the number of Acquire calls.
	AcquireCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latch_acquire_total",
		Help: "Total number of lock acquire calls",
	})
	// AcquiredCounter tracks successful acquisitions.
	AcquiredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latch_acquired_total",
		Help: "Total number of successful lock acquisitions",
	})
	// ContendedCounter tracks rounds spent waiting on a held lock.
	ContendedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latch_contended_total",
		Help: "Total number of contended wait rounds",
	})
	// ReleaseCounter tracks the number of releases.
	ReleaseCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latch_release_total",
		Help: "Total number of lock releases",
	})
	// EarlyWakeCounter tracks waits cut short by a release notification.
	EarlyWakeCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latch_early_wake_total",
		Help: "Total number of waits ended early by a release notification",
	})
	// WaiterGauge reports the number of waiters currently blocked.
	WaiterGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "latch_waiters",
		Help: "Current number of blocked lock waiters",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers latch core metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AcquireCounter, AcquiredCounter, ContendedCounter,
		ReleaseCounter, EarlyWakeCounter, WaiterGauge)
}
