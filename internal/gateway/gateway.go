// Package gateway implements the request router that fronts every backend
// service: admission control, circuit breaking, instance selection, and
// request statistics behind a single RouteRequest entry point.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fundview/gateway/internal/balancer"
	"github.com/fundview/gateway/internal/breaker"
	"github.com/fundview/gateway/internal/domain"
	"github.com/fundview/gateway/internal/health"
	"github.com/fundview/gateway/internal/ratelimit"
	"github.com/fundview/gateway/internal/registry"
	"github.com/fundview/gateway/internal/security"
	"github.com/fundview/gateway/internal/stats"
	"github.com/fundview/gateway/pkg/clock"
	"github.com/fundview/gateway/pkg/logger"
)

// Gateway is the top-level orchestrator. It owns all per-service state
// (bindings, breakers, limits, stats) exclusively; no external component
// mutates that state directly. A single Gateway is safe for concurrent use
// by many simultaneous requests.
type Gateway struct {
	registry *registry.Registry
	balancer *balancer.Balancer
	breakers *breaker.Manager
	limiter  *ratelimit.Limiter
	stats    *stats.Collector
	health   *health.Monitor

	validatorMu sync.RWMutex
	validator   security.RequestValidator

	clock  clock.Clock
	logger *logger.Logger
	closed atomic.Bool
}

// Option customizes gateway construction.
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock injects a clock, letting tests drive limiter and breaker timing.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// New constructs a gateway. Multiple gateways can coexist; there is no
// process-wide singleton.
func New(log *logger.Logger, opts ...Option) *Gateway {
	o := options{clock: clock.System()}
	for _, opt := range opts {
		opt(&o)
	}

	reg := registry.New(log)
	return &Gateway{
		registry: reg,
		balancer: balancer.New(log),
		breakers: breaker.NewManager(o.clock, log),
		limiter:  ratelimit.New(o.clock, log),
		stats:    stats.NewCollector(o.clock, log),
		health:   health.NewMonitor(reg, o.clock, log),
		clock:    o.clock,
		logger:   log.ComponentLogger("gateway"),
	}
}

// RegisterService binds a single instance under name. Returns false if the
// name is already bound.
func (g *Gateway) RegisterService(name string, instance domain.Service) bool {
	if g.closed.Load() {
		return false
	}
	return g.registry.RegisterService(name, instance)
}

// RegisterServiceInstance appends an instance to the pool for name, creating
// the binding if absent.
func (g *Gateway) RegisterServiceInstance(name string, instance domain.Service) bool {
	if g.closed.Load() {
		return false
	}
	return g.registry.RegisterInstance(name, instance)
}

// UnregisterService removes the binding and its per-service routing state.
func (g *Gateway) UnregisterService(name string) bool {
	if !g.registry.Unregister(name) {
		return false
	}
	g.balancer.Remove(name)
	g.breakers.Remove(name)
	g.limiter.Remove(name)
	return true
}

// GetService returns the first registered instance for name, or nil.
func (g *Gateway) GetService(name string) domain.Service {
	return g.registry.Get(name)
}

// GetRegisteredServices returns the sorted registered service names.
func (g *Gateway) GetRegisteredServices() []string {
	return g.registry.Names()
}

// IsServiceRegistered reports whether name has at least one instance.
func (g *Gateway) IsServiceRegistered(name string) bool {
	return g.registry.IsRegistered(name)
}

// ReloadService atomically swaps the registered instance(s) for name with
// newInstance. In-flight calls complete against the snapshot they captured.
func (g *Gateway) ReloadService(name string, newInstance domain.Service) bool {
	if g.closed.Load() {
		return false
	}
	return g.registry.Replace(name, newInstance)
}

// ConfigureCircuitBreaker sets the breaker config for a service without
// resetting an already-tripped breaker.
func (g *Gateway) ConfigureCircuitBreaker(name string, failureThreshold int, recoveryTimeout time.Duration) error {
	return g.breakers.Configure(name, failureThreshold, recoveryTimeout)
}

// ConfigureRateLimit sets the admission rate for a service.
func (g *Gateway) ConfigureRateLimit(name string, requestsPerSecond float64) error {
	return g.limiter.Configure(name, requestsPerSecond)
}

// SetLoadBalancingStrategy switches the instance-selection strategy for a
// service. Unknown strategy names fail here, at configuration time.
func (g *Gateway) SetLoadBalancingStrategy(name string, strategy domain.LoadBalancingStrategy) error {
	return g.balancer.SetStrategy(name, strategy)
}

// ConfigureSecurity installs the request validation collaborator. A nil
// validator disables validation.
func (g *Gateway) ConfigureSecurity(validator security.RequestValidator) {
	g.validatorMu.Lock()
	g.validator = validator
	g.validatorMu.Unlock()
	g.logger.Info("Security validator configured")
}

// GetServiceStats returns request statistics for one service.
func (g *Gateway) GetServiceStats(name string) stats.ServiceStats {
	return g.stats.Service(name)
}

// GetGatewayStats returns aggregate statistics plus registered-service count
// and uptime.
func (g *Gateway) GetGatewayStats() stats.GatewayStats {
	return g.stats.Gateway(g.registry.Len())
}

// GetCircuitBreakerState exposes the breaker state label for a service.
func (g *Gateway) GetCircuitBreakerState(name string) string {
	return g.breakers.GetState(name).String()
}

// GetCircuitBreakerStats returns breaker diagnostics for a service.
func (g *Gateway) GetCircuitBreakerStats(name string) map[string]interface{} {
	return g.breakers.Stats(name)
}

// GetRateLimitStats returns rate limit diagnostics for a service.
func (g *Gateway) GetRateLimitStats(name string) ratelimit.Stats {
	return g.limiter.Stats(name)
}

// CheckServiceHealth probes one service's health.
func (g *Gateway) CheckServiceHealth(ctx context.Context, name string) health.ServiceHealth {
	return g.health.CheckService(ctx, name)
}

// CheckOverallHealth probes every registered service.
func (g *Gateway) CheckOverallHealth(ctx context.Context) health.OverallHealth {
	return g.health.CheckOverall(ctx)
}

// StatsExporter returns a Prometheus collector over the gateway's stats.
func (g *Gateway) StatsExporter() *stats.Exporter {
	return stats.NewExporter(g.stats)
}

// Shutdown releases all registered instances and makes the gateway
// non-routable. It is idempotent.
func (g *Gateway) Shutdown() {
	if !g.closed.CompareAndSwap(false, true) {
		return
	}
	g.registry.Clear()
	g.breakers.Reset()
	g.limiter.Reset()
	g.logger.Info("Gateway shut down")
}

// RouteRequest resolves a request to a service and threads the call through
// rate limiter, circuit breaker, load balancer, and the chosen instance,
// recording the outcome. It always returns a uniform response; no backend
// error propagates past the gateway boundary.
func (g *Gateway) RouteRequest(ctx context.Context, req *domain.Request) *domain.Response {
	if g.closed.Load() {
		return errorResponse(&domain.Error{
			Kind:    domain.KindShutdown,
			Message: "gateway has been shut down",
		}, nil)
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	name := resolveServiceName(req)
	log := g.logger.RequestLogger(req.RequestID, req.Method, req.Path, name)

	if name == "" || !g.registry.IsRegistered(name) {
		available := g.registry.Names()
		log.WithField("available_services", available).Warn("Service not found")
		resp := errorResponse(domain.NewServiceNotFound(name), map[string]interface{}{
			"available_services": available,
		})
		return resp
	}
	req.ServiceName = name

	if err := g.validate(req); err != nil {
		log.WithError(err).Warn("Request rejected by security validator")
		return errorResponse(&domain.Error{
			Kind:    domain.KindUnauthorized,
			Service: name,
			Message: fmt.Sprintf("request validation failed: %v", err),
		}, nil)
	}

	// Admission control before the breaker: a rate-limited call never counts
	// as a backend failure.
	if err := g.limiter.Allow(name); err != nil {
		log.Warn("Request rate limited")
		return errorResponse(err.(*domain.Error), nil)
	}

	if err := g.breakers.Allow(name); err != nil {
		log.Warn("Request short-circuited by circuit breaker")
		return errorResponse(err.(*domain.Error), nil)
	}

	// Snapshot the pool before invoking; a concurrent reload never tears an
	// in-flight call.
	instances := g.registry.Instances(name)
	instance, err := g.balancer.Pick(name, instances)
	if err != nil {
		// The service was unregistered between the lookup and the pick. The
		// backend was never exercised, so release any half-open probe slot
		// claimed by Allow instead of counting a failure.
		g.breakers.Cancel(name)
		return errorResponse(domain.NewServiceNotFound(name), map[string]interface{}{
			"available_services": g.registry.Names(),
		})
	}

	start := g.clock.Now()
	resp, err := g.invoke(ctx, instance, req)
	latency := g.clock.Now().Sub(start)
	g.balancer.Done(name, instance)

	if err != nil {
		g.breakers.RecordFailure(name)
		g.stats.Record(name, false, latency)
		log.WithError(err).WithField("duration_ms", latency.Milliseconds()).
			Warn("Upstream call failed")
		return errorResponse(domain.NewUpstream(name, err), nil)
	}

	g.breakers.RecordSuccess(name)
	g.stats.Record(name, true, latency)
	log.WithField("status_code", resp.StatusCode).
		WithField("duration_ms", latency.Milliseconds()).
		Debug("Request routed")

	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	return resp
}

// invoke calls the backend outside any gateway lock, converting a panic into
// an error so it is accounted as an upstream failure.
func (g *Gateway) invoke(ctx context.Context, instance domain.Service, req *domain.Request) (resp *domain.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = fmt.Errorf("backend panicked: %v", r)
		}
	}()
	resp, err = instance.Invoke(ctx, req)
	if err == nil && resp == nil {
		err = fmt.Errorf("backend returned no response")
	}
	return resp, err
}

func (g *Gateway) validate(req *domain.Request) error {
	g.validatorMu.RLock()
	v := g.validator
	g.validatorMu.RUnlock()

	if v == nil {
		return nil
	}
	return v.Validate(req)
}

// resolveServiceName uses the explicit service name when supplied, otherwise
// derives it from the first path segment ("/fund/..." resolves to "fund").
func resolveServiceName(req *domain.Request) string {
	if req.ServiceName != "" {
		return req.ServiceName
	}
	trimmed := strings.TrimPrefix(req.Path, "/")
	if trimmed == "" {
		return ""
	}
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return trimmed[:i]
	}
	return trimmed
}

func errorResponse(gerr *domain.Error, data interface{}) *domain.Response {
	return &domain.Response{
		StatusCode:   gerr.Kind.StatusCode(),
		Data:         data,
		ErrorMessage: gerr.Error(),
	}
}
