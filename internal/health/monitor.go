// Package health probes registered services and aggregates overall gateway
// health.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/fundview/gateway/internal/domain"
	"github.com/fundview/gateway/internal/registry"
	"github.com/fundview/gateway/pkg/clock"
	"github.com/fundview/gateway/pkg/logger"
)

// ServiceHealth is the probe result for one service. Probe failures are
// always captured here, never propagated to the caller.
type ServiceHealth struct {
	Service   string                 `json:"service"`
	Status    string                 `json:"status"`
	IsHealthy bool                   `json:"is_healthy"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// OverallHealth aggregates probe results across every registered service.
type OverallHealth struct {
	OverallStatus     string                   `json:"overall_status"`
	HealthyServices   int                      `json:"healthy_services"`
	UnhealthyServices int                      `json:"unhealthy_services"`
	Timestamp         time.Time                `json:"timestamp"`
	Services          map[string]ServiceHealth `json:"services"`
}

// Monitor invokes each registered service's health probe.
type Monitor struct {
	registry *registry.Registry
	clock    clock.Clock
	logger   *logger.Logger
}

// NewMonitor creates a health monitor over a registry
func NewMonitor(reg *registry.Registry, clk clock.Clock, log *logger.Logger) *Monitor {
	return &Monitor{
		registry: reg,
		clock:    clk,
		logger:   log.HealthCheckLogger(),
	}
}

// CheckService probes one service. Unknown names, probe errors, and probe
// panics all surface as an unhealthy result.
func (m *Monitor) CheckService(ctx context.Context, service string) ServiceHealth {
	instance := m.registry.Get(service)
	if instance == nil {
		return ServiceHealth{
			Service: service,
			Status:  "unhealthy",
			Error:   fmt.Sprintf("service %q is not registered", service),
		}
	}

	reporter, ok := instance.(domain.HealthReporter)
	if !ok {
		// No probe exposed; the instance is assumed reachable.
		return ServiceHealth{
			Service:   service,
			Status:    "healthy",
			IsHealthy: true,
		}
	}

	payload, err := m.probe(ctx, reporter)
	if err != nil {
		m.logger.WithField("service", service).
			WithError(err).
			Warn("Service health probe failed")
		return ServiceHealth{
			Service: service,
			Status:  "unhealthy",
			Error:   err.Error(),
		}
	}

	return ServiceHealth{
		Service:   service,
		Status:    "healthy",
		IsHealthy: true,
		Details:   payload,
	}
}

// CheckOverall probes every registered service. The overall status is
// "healthy" only if every service is healthy, "degraded" if some are, and
// "unhealthy" if none are.
func (m *Monitor) CheckOverall(ctx context.Context) OverallHealth {
	names := m.registry.Names()

	overall := OverallHealth{
		Timestamp: m.clock.Now(),
		Services:  make(map[string]ServiceHealth, len(names)),
	}

	for _, name := range names {
		result := m.CheckService(ctx, name)
		overall.Services[name] = result
		if result.IsHealthy {
			overall.HealthyServices++
		} else {
			overall.UnhealthyServices++
		}
	}

	switch {
	case len(names) == 0 || overall.UnhealthyServices == 0:
		overall.OverallStatus = "healthy"
	case overall.HealthyServices == 0:
		overall.OverallStatus = "unhealthy"
	default:
		overall.OverallStatus = "degraded"
	}

	return overall
}

// probe runs the health check, converting a panic into an error so a broken
// probe can never take down the monitor.
func (m *Monitor) probe(ctx context.Context, reporter domain.HealthReporter) (payload map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			err = fmt.Errorf("health probe panicked: %v", r)
		}
	}()
	return reporter.HealthCheck(ctx)
}
