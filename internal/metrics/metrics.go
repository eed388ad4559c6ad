// Package metrics holds the agent's prometheus instrumentation.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	rpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "miniui",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total RPC calls by method and status code.",
		},
		[]string{"method", "code"},
	)
	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "miniui",
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "RPC call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	execProcesses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "miniui",
			Subsystem: "exec",
			Name:      "processes_total",
			Help:      "External programs run, by mode and result.",
		},
		[]string{"mode", "result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(rpcRequests, rpcDuration, execProcesses)
	})
}

func RecordRPC(method, code string, duration time.Duration) {
	RegisterMetrics()
	rpcRequests.WithLabelValues(method, code).Inc()
	rpcDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func RecordExec(mode, result string) {
	RegisterMetrics()
	execProcesses.WithLabelValues(mode, result).Inc()
}
