package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "shelfmark"

var (
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "requests",
			Name:      "transitions_total",
			Help:      "Total number of committed request status changes",
		},
		[]string{"transition", "to"},
	)
	guardRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "requests",
			Name:      "guard_rejections_total",
			Help:      "Total number of submissions rejected before being stored",
		},
		[]string{"reason"},
	)
	hookFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "hooks",
			Name:      "failures_total",
			Help:      "Total number of post-commit hooks that returned an error or panicked",
		},
		[]string{"hook"},
	)
	hubSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Number of connected event subscribers",
		},
	)
	hubDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "events",
			Name:      "dropped_subscribers_total",
			Help:      "Total number of subscribers disconnected because their buffer was full",
		},
	)
	libraryRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "library",
			Name:      "refreshes_total",
			Help:      "Total number of library catalog refreshes",
		},
		[]string{"result"},
	)
	libraryEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "library",
			Name:      "entries",
			Help:      "Number of entries in the library snapshot",
		},
	)
)

var registerMetrics sync.Once

func init() {
	registerMetrics.Do(func() {
		prometheus.MustRegister(
			transitionsTotal,
			guardRejections,
			hookFailures,
			hubSubscribers,
			hubDrops,
			libraryRefreshes,
			libraryEntries,
		)
	})
}
