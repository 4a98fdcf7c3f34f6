// Package breaker implements per-service circuit breaking for the gateway
// call path.
package breaker

import (
	"sync"
	"time"

	"github.com/fundview/gateway/internal/domain"
	"github.com/fundview/gateway/pkg/clock"
	"github.com/fundview/gateway/pkg/logger"
)

// State represents the state of a circuit breaker
type State int

const (
	// StateClosed - requests pass through, failures are counted
	StateClosed State = iota
	// StateOpen - requests are short-circuited without touching the backend
	StateOpen
	// StateHalfOpen - exactly one probe request is allowed through
	StateHalfOpen
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// circuit holds the state machine for one service.
type circuit struct {
	config domain.CircuitBreakerConfig

	state               State
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool
}

// Manager owns one circuit per configured service name. Services without a
// configured breaker always pass through.
type Manager struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	clock    clock.Clock
	logger   *logger.Logger
}

// NewManager creates a circuit breaker manager
func NewManager(clk clock.Clock, log *logger.Logger) *Manager {
	return &Manager{
		circuits: make(map[string]*circuit),
		clock:    clk,
		logger:   log.ComponentLogger("circuit_breaker"),
	}
}

// Configure sets or overwrites the breaker config for a service. An already
// tripped breaker keeps its state and counters.
func (m *Manager) Configure(service string, failureThreshold int, recoveryTimeout time.Duration) error {
	if service == "" {
		return domain.NewConfiguration("circuit breaker service name cannot be empty")
	}
	if failureThreshold <= 0 {
		return domain.NewConfiguration("circuit breaker failure threshold must be positive, got %d", failureThreshold)
	}
	if recoveryTimeout <= 0 {
		return domain.NewConfiguration("circuit breaker recovery timeout must be positive, got %v", recoveryTimeout)
	}

	cfg := domain.CircuitBreakerConfig{
		FailureThreshold: failureThreshold,
		RecoveryTimeout:  recoveryTimeout,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, exists := m.circuits[service]; exists {
		c.config = cfg
	} else {
		m.circuits[service] = &circuit{config: cfg, state: StateClosed}
	}

	m.logger.WithField("service", service).
		WithField("failure_threshold", failureThreshold).
		WithField("recovery_timeout", recoveryTimeout.String()).
		Info("Circuit breaker configured")
	return nil
}

// Allow checks whether a call for service may proceed. A rejected call is
// short-circuited: the backend is never invoked and the rejection does not
// count toward the failure threshold.
func (m *Manager) Allow(service string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.circuits[service]
	if !exists {
		return nil
	}

	switch c.state {
	case StateClosed:
		return nil

	case StateOpen:
		if m.clock.Now().Sub(c.openedAt) >= c.config.RecoveryTimeout {
			c.state = StateHalfOpen
			c.probeInFlight = true
			m.logger.WithField("service", service).
				Info("Circuit breaker transitioning to half-open state")
			return nil
		}
		return domain.NewCircuitOpen(service)

	case StateHalfOpen:
		// Exactly one probe is allowed per half-open window.
		if c.probeInFlight {
			return domain.NewCircuitOpen(service)
		}
		c.probeInFlight = true
		return nil

	default:
		return domain.NewCircuitOpen(service)
	}
}

// RecordSuccess records a successful backend call for service.
func (m *Manager) RecordSuccess(service string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.circuits[service]
	if !exists {
		return
	}

	switch c.state {
	case StateClosed:
		c.consecutiveFailures = 0

	case StateHalfOpen:
		c.state = StateClosed
		c.consecutiveFailures = 0
		c.probeInFlight = false
		c.openedAt = time.Time{}
		m.logger.WithField("service", service).
			Info("Circuit breaker closing after successful probe")
	}
}

// RecordFailure records a failed backend call for service.
func (m *Manager) RecordFailure(service string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.circuits[service]
	if !exists {
		return
	}

	switch c.state {
	case StateClosed:
		c.consecutiveFailures++
		if c.consecutiveFailures >= c.config.FailureThreshold {
			c.state = StateOpen
			c.openedAt = m.clock.Now()
			m.logger.WithFields(map[string]interface{}{
				"service":           service,
				"failures":          c.consecutiveFailures,
				"failure_threshold": c.config.FailureThreshold,
			}).Warn("Circuit breaker opening due to failures")
		}

	case StateHalfOpen:
		c.state = StateOpen
		c.openedAt = m.clock.Now()
		c.probeInFlight = false
		m.logger.WithField("service", service).
			Info("Circuit breaker opening again after failed probe")
	}
}

// Cancel releases a half-open probe slot claimed by Allow when the call was
// abandoned before the backend was exercised. It never counts a failure.
func (m *Manager) Cancel(service string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, exists := m.circuits[service]; exists && c.state == StateHalfOpen {
		c.probeInFlight = false
	}
}

// GetState exposes the current state label for observability and testing.
// Services without a configured breaker report closed.
func (m *Manager) GetState(service string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.circuits[service]
	if !exists {
		return StateClosed
	}
	return c.state
}

// Stats returns circuit breaker diagnostics for a service.
func (m *Manager) Stats(service string) map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.circuits[service]
	if !exists {
		return map[string]interface{}{
			"configured": false,
			"state":      StateClosed.String(),
		}
	}

	stats := map[string]interface{}{
		"configured":           true,
		"state":                c.state.String(),
		"consecutive_failures": c.consecutiveFailures,
		"failure_threshold":    c.config.FailureThreshold,
		"recovery_timeout":     c.config.RecoveryTimeout.String(),
	}
	if !c.openedAt.IsZero() {
		stats["opened_at"] = c.openedAt
	}
	return stats
}

// Remove drops the breaker for a service, e.g. after unregistration.
func (m *Manager) Remove(service string) {
	m.mu.Lock()
	delete(m.circuits, service)
	m.mu.Unlock()
}

// Reset clears every circuit back to closed. Used by gateway shutdown.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.circuits {
		c.state = StateClosed
		c.consecutiveFailures = 0
		c.probeInFlight = false
		c.openedAt = time.Time{}
	}
}
