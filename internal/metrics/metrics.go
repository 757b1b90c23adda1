// Package metrics holds the prometheus collectors for communicator, port and
// spawn activity. Collectors register with the default registry on first use.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "empire"

var (
	registerOnce sync.Once

	spawnedProcesses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "spawn",
			Name:      "processes_total",
			Help:      "Child processes launched by batch spawn, by outcome.",
		},
		[]string{"outcome"},
	)
	spawnBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "spawn",
			Name:      "batch_duration_seconds",
			Help:      "Wall time from first launch to last child exit.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	openPorts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "port",
			Name:      "open",
			Help:      "Rendezvous ports currently accepting connections.",
		},
	)
	registeredComms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "comm",
			Name:      "registered",
			Help:      "Communicators currently tracked by a universe registry.",
		},
	)
)

// Register adds every collector to the default prometheus registry. It is
// safe to call repeatedly.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(spawnedProcesses, spawnBatchDuration, openPorts, registeredComms)
	})
}

// RecordSpawnOutcome counts one spawned entry with the given outcome label
func RecordSpawnOutcome(outcome string) {
	Register()
	spawnedProcesses.WithLabelValues(outcome).Inc()
}

// ObserveSpawnBatch records the duration of one batch spawn
func ObserveSpawnBatch(d time.Duration) {
	Register()
	spawnBatchDuration.Observe(d.Seconds())
}

// PortOpened increments the open port gauge
func PortOpened() {
	Register()
	openPorts.Inc()
}

// PortClosed decrements the open port gauge
func PortClosed() {
	Register()
	openPorts.Dec()
}

// CommRegistered increments the registered communicator gauge
func CommRegistered() {
	Register()
	registeredComms.Inc()
}

// CommFreed decrements the registered communicator gauge
func CommFreed() {
	Register()
	registeredComms.Dec()
}
