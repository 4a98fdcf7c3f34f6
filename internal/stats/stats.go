// Package stats records per-call outcomes and latency, aggregated per service
// and gateway-wide.
package stats

import (
	"sync"
	"time"

	"github.com/fundview/gateway/pkg/clock"
	"github.com/fundview/gateway/pkg/logger"
)

// ServiceStats is a snapshot of one service's request counters.
type ServiceStats struct {
	Service               string        `json:"service"`
	TotalRequests         int64         `json:"total_requests"`
	SuccessfulRequests    int64         `json:"successful_requests"`
	FailedRequests        int64         `json:"failed_requests"`
	CumulativeLatency     time.Duration `json:"cumulative_latency_ns"`
	AverageResponseTimeMs float64       `json:"average_response_time_ms"`
}

// GatewayStats aggregates counters across all services.
type GatewayStats struct {
	TotalRequests         int64         `json:"total_requests"`
	SuccessfulRequests    int64         `json:"successful_requests"`
	FailedRequests        int64         `json:"failed_requests"`
	AverageResponseTimeMs float64       `json:"average_response_time_ms"`
	RegisteredServices    int           `json:"registered_services"`
	Uptime                time.Duration `json:"uptime_ns"`
}

type counters struct {
	total             int64
	success           int64
	failed            int64
	cumulativeLatency time.Duration
}

// Collector accumulates request statistics. Counters are mutated under a
// mutex scoped to the read-modify-write only, so concurrent calls never lose
// updates and never serialize on backend invocation.
type Collector struct {
	mu       sync.RWMutex
	services map[string]*counters
	clock    clock.Clock
	started  time.Time
	logger   *logger.Logger
}

// NewCollector creates a stats collector; uptime is measured from this call.
func NewCollector(clk clock.Clock, log *logger.Logger) *Collector {
	return &Collector{
		services: make(map[string]*counters),
		clock:    clk,
		started:  clk.Now(),
		logger:   log.StatsLogger(),
	}
}

// Record registers one completed call. Counters are never decremented.
func (c *Collector) Record(service string, success bool, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cnt, exists := c.services[service]
	if !exists {
		cnt = &counters{}
		c.services[service] = cnt
	}

	cnt.total++
	if success {
		cnt.success++
	} else {
		cnt.failed++
	}
	cnt.cumulativeLatency += latency
}

// Service returns a snapshot of one service's counters. Unknown services
// report zeroes.
func (c *Collector) Service(service string) ServiceStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := ServiceStats{Service: service}
	cnt, exists := c.services[service]
	if !exists {
		return stats
	}

	stats.TotalRequests = cnt.total
	stats.SuccessfulRequests = cnt.success
	stats.FailedRequests = cnt.failed
	stats.CumulativeLatency = cnt.cumulativeLatency
	if cnt.total > 0 {
		stats.AverageResponseTimeMs = float64(cnt.cumulativeLatency.Milliseconds()) / float64(cnt.total)
	}
	return stats
}

// Gateway returns the aggregate across all services. The registered-service
// count is supplied by the caller because the registry owns that number.
func (c *Collector) Gateway(registeredServices int) GatewayStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := GatewayStats{
		RegisteredServices: registeredServices,
		Uptime:             c.clock.Now().Sub(c.started),
	}

	var cumulative time.Duration
	for _, cnt := range c.services {
		stats.TotalRequests += cnt.total
		stats.SuccessfulRequests += cnt.success
		stats.FailedRequests += cnt.failed
		cumulative += cnt.cumulativeLatency
	}
	if stats.TotalRequests > 0 {
		stats.AverageResponseTimeMs = float64(cumulative.Milliseconds()) / float64(stats.TotalRequests)
	}
	return stats
}

// Snapshot returns per-service snapshots for every tracked service.
func (c *Collector) Snapshot() []ServiceStats {
	c.mu.RLock()
	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}
	c.mu.RUnlock()

	snapshots := make([]ServiceStats, 0, len(names))
	for _, name := range names {
		snapshots = append(snapshots, c.Service(name))
	}
	return snapshots
}
