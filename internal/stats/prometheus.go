package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Exporter exposes Collector snapshots as Prometheus metrics. It implements
// prometheus.Collector by reading counters at scrape time, so the hot path
// pays nothing for the export.
type Exporter struct {
	collector *Collector

	requestsDesc *prometheus.Desc
	failuresDesc *prometheus.Desc
	latencyDesc  *prometheus.Desc
}

// NewExporter creates a Prometheus exporter over a stats collector
func NewExporter(c *Collector) *Exporter {
	return &Exporter{
		collector: c,
		requestsDesc: prometheus.NewDesc(
			"gateway_requests_total",
			"Total requests routed per service.",
			[]string{"service"}, nil,
		),
		failuresDesc: prometheus.NewDesc(
			"gateway_request_failures_total",
			"Failed requests per service.",
			[]string{"service"}, nil,
		),
		latencyDesc: prometheus.NewDesc(
			"gateway_request_latency_seconds_total",
			"Cumulative request latency per service.",
			[]string{"service"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.requestsDesc
	ch <- e.failuresDesc
	ch <- e.latencyDesc
}

// Collect implements prometheus.Collector
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	for _, s := range e.collector.Snapshot() {
		ch <- prometheus.MustNewConstMetric(
			e.requestsDesc, prometheus.CounterValue,
			float64(s.TotalRequests), s.Service,
		)
		ch <- prometheus.MustNewConstMetric(
			e.failuresDesc, prometheus.CounterValue,
			float64(s.FailedRequests), s.Service,
		)
		ch <- prometheus.MustNewConstMetric(
			e.latencyDesc, prometheus.CounterValue,
			s.CumulativeLatency.Seconds(), s.Service,
		)
	}
}
