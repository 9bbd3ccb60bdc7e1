// Package metrics exposes Prometheus-compatible collectors driven by the
// FlowEvent stream: a queue-depth and in-flight gauge, a per-node latency
// histogram, and retry/failure/chunk counters, all labeled by node name so
// a single registry can serve a graph of many nodes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/penguiflow/penguiflow"
)

// Collector implements penguiflow.Middleware, updating Prometheus metrics as
// a side effect of observing every FlowEvent. It never mutates the event.
type Collector struct {
	queueDepth  *prometheus.GaugeVec
	inflight    *prometheus.GaugeVec
	nodeLatency *prometheus.HistogramVec
	retries     *prometheus.CounterVec
	failures    *prometheus.CounterVec
	chunks      *prometheus.CounterVec
}

// NewCollector registers penguiflow's metrics with registry (use
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() for test isolation).
func NewCollector(registry prometheus.Registerer) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Collector{
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "penguiflow",
			Name:      "queue_depth",
			Help:      "Number of envelopes currently buffered on a node's inbound floe.",
		}, []string{"node"}),
		inflight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "penguiflow",
			Name:      "trace_inflight",
			Help:      "Number of envelopes of a trace currently being processed by a node.",
		}, []string{"node"}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "penguiflow",
			Name:      "node_latency_ms",
			Help:      "Node handler execution duration in milliseconds, by outcome.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "penguiflow",
			Name:      "node_retries_total",
			Help:      "Cumulative retry attempts across all traces, by node.",
		}, []string{"node"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "penguiflow",
			Name:      "node_failures_total",
			Help:      "Cumulative terminal node failures, by node and error code.",
		}, []string{"node", "code"}),
		chunks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "penguiflow",
			Name:      "stream_chunks_total",
			Help:      "Cumulative stream chunks emitted, by node.",
		}, []string{"node"}),
	}
}

// OnEvent implements penguiflow.Middleware.
func (c *Collector) OnEvent(ev penguiflow.FlowEvent) penguiflow.FlowEvent {
	switch ev.EventType {
	case penguiflow.EventNodeStart:
		c.queueDepth.WithLabelValues(ev.NodeName).Set(float64(ev.QueueDepthIn))
		c.inflight.WithLabelValues(ev.NodeName).Set(float64(ev.TraceInflight))
	case penguiflow.EventNodeSuccess:
		c.nodeLatency.WithLabelValues(ev.NodeName, "success").Observe(ev.LatencyMs)
	case penguiflow.EventNodeError:
		c.nodeLatency.WithLabelValues(ev.NodeName, "error").Observe(ev.LatencyMs)
	case penguiflow.EventNodeRetry:
		c.retries.WithLabelValues(ev.NodeName).Inc()
	case penguiflow.EventNodeFailed:
		code := "unknown"
		if v, ok := ev.Extra["error"]; ok {
			code = firstWord(v)
		}
		c.failures.WithLabelValues(ev.NodeName, code).Inc()
	case penguiflow.EventStreamChunk:
		c.chunks.WithLabelValues(ev.NodeName).Inc()
	}
	return ev
}

func firstWord(v any) string {
	s, ok := v.(string)
	if !ok {
		return "unknown"
	}
	for i, r := range s {
		if r == ':' {
			return s[:i]
		}
	}
	return s
}
