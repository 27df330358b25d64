// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and records the runtime's Prometheus metrics. A nil
// *Collector is valid and records nothing, so components can be constructed
// without metrics in tests.
type Collector struct {
	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Job metrics
	jobQueueDepth    *prometheus.GaugeVec
	jobsSubmitted    *prometheus.CounterVec
	jobsTerminal     *prometheus.CounterVec
	jobExecutionTime *prometheus.HistogramVec

	// Router metrics
	routerQueueDepth  prometheus.Gauge
	messagesDelivered prometheus.Counter
	messagesDropped   prometheus.Counter

	// Agent metrics
	agentsRunning prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a collector registered on reg. Pass
// prometheus.NewRegistry() in tests to avoid default-registry collisions.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.jobQueueDepth = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_queue_depth",
			Help:      "Number of pending jobs per agent",
		},
		[]string{"agent_id"},
	)
	c.jobsSubmitted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of jobs submitted",
		},
		[]string{"agent_id"},
	)
	c.jobsTerminal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_terminal_total",
			Help:      "Total number of jobs reaching a terminal status",
		},
		[]string{"agent_id", "status"},
	)
	c.jobExecutionTime = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_execution_duration_seconds",
			Help:      "Job execution duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"agent_id"},
	)

	c.routerQueueDepth = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "router_queue_depth",
			Help:      "Number of messages waiting in the router queue",
		},
	)
	c.messagesDelivered = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Total number of messages delivered to handlers",
		},
	)
	c.messagesDropped = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Total number of messages dropped (missing handler)",
		},
	)

	c.agentsRunning = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_running",
			Help:      "Number of agents currently running",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordHTTPRequest records one management API request.
func (c *Collector) RecordHTTPRequest(method, path string, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetJobQueueDepth publishes the pending-job count for one agent.
func (c *Collector) SetJobQueueDepth(agentID string, depth int) {
	if c == nil {
		return
	}
	c.jobQueueDepth.WithLabelValues(agentID).Set(float64(depth))
}

// RecordJobSubmitted counts a submission.
func (c *Collector) RecordJobSubmitted(agentID string) {
	if c == nil {
		return
	}
	c.jobsSubmitted.WithLabelValues(agentID).Inc()
}

// RecordJobTerminal counts a job reaching a terminal status and its runtime.
func (c *Collector) RecordJobTerminal(agentID, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.jobsTerminal.WithLabelValues(agentID, status).Inc()
	if duration > 0 {
		c.jobExecutionTime.WithLabelValues(agentID).Observe(duration.Seconds())
	}
}

// SetRouterQueueDepth publishes the router's inbound queue depth.
func (c *Collector) SetRouterQueueDepth(depth int) {
	if c == nil {
		return
	}
	c.routerQueueDepth.Set(float64(depth))
}

// RecordMessageDelivered counts a successful handler invocation.
func (c *Collector) RecordMessageDelivered() {
	if c == nil {
		return
	}
	c.messagesDelivered.Inc()
}

// RecordMessageDropped counts a message dropped for a missing handler.
func (c *Collector) RecordMessageDropped() {
	if c == nil {
		return
	}
	c.messagesDropped.Inc()
}

// SetAgentsRunning publishes the running-agent count.
func (c *Collector) SetAgentsRunning(n int) {
	if c == nil {
		return
	}
	c.agentsRunning.Set(float64(n))
}
