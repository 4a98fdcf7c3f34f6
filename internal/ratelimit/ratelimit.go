// Package ratelimit provides per-service admission control for the gateway.
//
// Semantics: a token bucket per service, built on golang.org/x/time/rate.
// Bucket capacity is ceil(requestsPerSecond) and refill is continuous at the
// configured rate, so burst tolerance exists but is bounded by one second's
// quota. Admitted throughput never exceeds the configured rate over any
// window longer than one second.
package ratelimit

import (
	"math"
	"sync"

	"golang.org/x/time/rate"

	"github.com/fundview/gateway/internal/domain"
	"github.com/fundview/gateway/pkg/clock"
	"github.com/fundview/gateway/pkg/logger"
)

// Stats reports a service's configured limit and current-window usage.
type Stats struct {
	Configured        bool    `json:"configured"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
	AvailableTokens   float64 `json:"available_tokens"`
}

type serviceLimit struct {
	rps     float64
	burst   int
	limiter *rate.Limiter
}

// Limiter holds one token bucket per configured service name. Services
// without a configured limit are always admitted. Buckets are independent:
// changing one service's limit never affects another's.
type Limiter struct {
	mu     sync.RWMutex
	limits map[string]*serviceLimit
	clock  clock.Clock
	logger *logger.Logger
}

// New creates a rate limiter manager
func New(clk clock.Clock, log *logger.Logger) *Limiter {
	return &Limiter{
		limits: make(map[string]*serviceLimit),
		clock:  clk,
		logger: log.ComponentLogger("rate_limiter"),
	}
}

// Configure sets or replaces the rate limit for a service. Replacing a limit
// resets the service's bucket to full capacity under the new rate.
func (l *Limiter) Configure(service string, requestsPerSecond float64) error {
	if service == "" {
		return domain.NewConfiguration("rate limit service name cannot be empty")
	}
	if requestsPerSecond <= 0 {
		return domain.NewConfiguration("rate limit must be positive, got %v", requestsPerSecond)
	}

	burst := int(math.Ceil(requestsPerSecond))
	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), burst)

	l.mu.Lock()
	l.limits[service] = &serviceLimit{
		rps:     requestsPerSecond,
		burst:   burst,
		limiter: limiter,
	}
	l.mu.Unlock()

	l.logger.WithField("service", service).
		WithField("requests_per_second", requestsPerSecond).
		WithField("burst", burst).
		Info("Rate limit configured")
	return nil
}

// Allow admits or rejects one call for a service. A rejected call never
// reaches the circuit breaker or the backend.
func (l *Limiter) Allow(service string) error {
	l.mu.RLock()
	sl, exists := l.limits[service]
	l.mu.RUnlock()

	if !exists {
		return nil
	}

	if !sl.limiter.AllowN(l.clock.Now(), 1) {
		l.logger.WithField("service", service).Debug("Request rate limited")
		return domain.NewRateLimited(service)
	}
	return nil
}

// Stats reports the configured rate and current bucket fill for a service.
func (l *Limiter) Stats(service string) Stats {
	l.mu.RLock()
	sl, exists := l.limits[service]
	l.mu.RUnlock()

	if !exists {
		return Stats{}
	}

	return Stats{
		Configured:        true,
		RequestsPerSecond: sl.rps,
		Burst:             sl.burst,
		AvailableTokens:   sl.limiter.TokensAt(l.clock.Now()),
	}
}

// Remove drops the limit for a service, e.g. after unregistration.
func (l *Limiter) Remove(service string) {
	l.mu.Lock()
	delete(l.limits, service)
	l.mu.Unlock()
}

// Reset drops every configured limit. Used by gateway shutdown.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.limits = make(map[string]*serviceLimit)
	l.mu.Unlock()
}
