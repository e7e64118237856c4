// Package metrics exposes Prometheus instrumentation for the core
// components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgecore_commands_total",
		Help: "Total number of commands handled by final status.",
	}, []string{"status"})
	CommandDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "edgecore_command_duration_seconds",
		Help:    "Duration from command acceptance to terminal status.",
		Buckets: prometheus.DefBuckets,
	})
	AuthFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgecore_auth_failures_total",
		Help: "Total number of authentication/authorization failures by reason.",
	}, []string{"reason"})
	QueuePending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgecore_queue_pending",
		Help: "Number of sync items currently pending in the durable queue.",
	})
	QueueFailed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgecore_queue_failed",
		Help: "Number of sync items that exhausted their retry budget.",
	})
	QueueFlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgecore_queue_flushes_total",
		Help: "Total number of queue flush outcomes by item result.",
	}, []string{"result"})
	RobotsOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgecore_robots_online",
		Help: "Number of robots currently marked online.",
	})
	RobotsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgecore_robots_total",
		Help: "Total number of registered robots.",
	})
	RobotDispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edgecore_robot_dispatch_duration_seconds",
		Help:    "Duration of a route_command dispatch by protocol.",
		Buckets: prometheus.DefBuckets,
	}, []string{"protocol"})
	RobotReaperEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edgecore_robot_reaper_evictions_total",
		Help: "Total number of robots marked offline by the reaper.",
	})
)
