package domain

import (
	"context"
	"time"
)

// Service is the uniform contract the gateway expects from every registered
// backend instance. The gateway never inspects a backend beyond this contract.
type Service interface {
	// Invoke executes the backend operation identified by the request's
	// method and path. It returns a response or an error; the gateway treats
	// any error as an upstream failure.
	Invoke(ctx context.Context, req *Request) (*Response, error)
}

// HealthReporter is the optional health probe a Service may expose. Services
// that do not implement it are reported healthy with an empty probe payload.
type HealthReporter interface {
	// HealthCheck probes the backend and returns a status payload, or an
	// error if the backend is unhealthy.
	HealthCheck(ctx context.Context) (map[string]interface{}, error)
}

// Request is the ephemeral, per-call description of a routed request.
type Request struct {
	RequestID   string            `json:"request_id"`
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	ServiceName string            `json:"service_name,omitempty"`
	QueryParams map[string]string `json:"query_params,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        []byte            `json:"body,omitempty"`
}

// Response is the uniform response shape produced by the gateway regardless
// of which layer (router, limiter, breaker, or backend) produced it.
type Response struct {
	StatusCode   int         `json:"status_code"`
	Data         interface{} `json:"data,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// LoadBalancingStrategy names a rule for picking one instance from a pool.
type LoadBalancingStrategy string

const (
	// RoundRobinStrategy distributes requests evenly across instances
	RoundRobinStrategy LoadBalancingStrategy = "round_robin"
	// RandomStrategy picks a uniformly random instance per request
	RandomStrategy LoadBalancingStrategy = "random"
	// LeastPendingStrategy picks the instance with the fewest in-flight requests
	LeastPendingStrategy LoadBalancingStrategy = "least_pending"
)

// CircuitBreakerConfig defines configuration for a per-service circuit breaker
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`
}

// RateLimitConfig defines configuration for per-service admission control
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
}
