// Package balancer selects one backend instance from a service's pool under
// a configurable strategy.
package balancer

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fundview/gateway/internal/domain"
	"github.com/fundview/gateway/pkg/logger"
)

// Strategy is the rule used to pick one instance from a pool of equivalent
// backend instances. Implementations must be safe for concurrent use.
type Strategy interface {
	Select(instances []domain.Service) domain.Service
	Name() string
}

// RoundRobinStrategy cycles through the pool in registration order. Over any
// N consecutive selections against a pool of size N, every instance is chosen
// exactly once.
type RoundRobinStrategy struct {
	cursor uint64
}

// NewRoundRobinStrategy creates a round-robin strategy with its own cursor
func NewRoundRobinStrategy() *RoundRobinStrategy {
	return &RoundRobinStrategy{}
}

// Select returns the next instance modulo pool size
func (s *RoundRobinStrategy) Select(instances []domain.Service) domain.Service {
	if len(instances) == 0 {
		return nil
	}
	next := atomic.AddUint64(&s.cursor, 1)
	return instances[(next-1)%uint64(len(instances))]
}

// Name returns the strategy name
func (s *RoundRobinStrategy) Name() string {
	return string(domain.RoundRobinStrategy)
}

// RandomStrategy picks a uniformly random instance per selection.
type RandomStrategy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomStrategy creates a random strategy seeded from seed
func NewRandomStrategy(seed int64) *RandomStrategy {
	return &RandomStrategy{rng: rand.New(rand.NewSource(seed))}
}

// Select returns a random instance from the pool
func (s *RandomStrategy) Select(instances []domain.Service) domain.Service {
	if len(instances) == 0 {
		return nil
	}
	s.mu.Lock()
	i := s.rng.Intn(len(instances))
	s.mu.Unlock()
	return instances[i]
}

// Name returns the strategy name
func (s *RandomStrategy) Name() string {
	return string(domain.RandomStrategy)
}

// LeastPendingStrategy picks the instance with the fewest in-flight requests,
// breaking ties in registration order. The balancer releases the slot when the
// call completes.
type LeastPendingStrategy struct {
	mu      sync.Mutex
	pending map[domain.Service]int
}

// NewLeastPendingStrategy creates a least-pending strategy
func NewLeastPendingStrategy() *LeastPendingStrategy {
	return &LeastPendingStrategy{pending: make(map[domain.Service]int)}
}

// Select returns the instance with the fewest in-flight requests
func (s *LeastPendingStrategy) Select(instances []domain.Service) domain.Service {
	if len(instances) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	selected := instances[0]
	min := s.pending[selected]
	for _, instance := range instances[1:] {
		if n := s.pending[instance]; n < min {
			selected, min = instance, n
		}
	}
	s.pending[selected]++
	return selected
}

// Release marks one in-flight request on instance as finished.
func (s *LeastPendingStrategy) Release(instance domain.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.pending[instance]; ok {
		if n <= 1 {
			delete(s.pending, instance)
		} else {
			s.pending[instance] = n - 1
		}
	}
}

// Name returns the strategy name
func (s *LeastPendingStrategy) Name() string {
	return string(domain.LeastPendingStrategy)
}

// releaser is implemented by strategies that track in-flight requests.
type releaser interface {
	Release(instance domain.Service)
}

// Balancer holds one strategy per service name. Services without an explicit
// strategy get round-robin, each with an independent cursor.
type Balancer struct {
	mu         sync.Mutex
	strategies map[string]Strategy
	logger     *logger.Logger
}

// New creates a balancer with round-robin as the default strategy
func New(log *logger.Logger) *Balancer {
	return &Balancer{
		strategies: make(map[string]Strategy),
		logger:     log.BalancerLogger(),
	}
}

// SetStrategy switches the strategy for a service. Unknown strategy names are
// rejected here, at configuration time, never deferred to request time.
func (b *Balancer) SetStrategy(service string, strategy domain.LoadBalancingStrategy) error {
	var s Strategy
	switch strategy {
	case domain.RoundRobinStrategy:
		s = NewRoundRobinStrategy()
	case domain.RandomStrategy:
		s = NewRandomStrategy(time.Now().UnixNano())
	case domain.LeastPendingStrategy:
		s = NewLeastPendingStrategy()
	default:
		return domain.NewConfiguration("unsupported load balancing strategy: %q", strategy)
	}

	b.mu.Lock()
	b.strategies[service] = s
	b.mu.Unlock()

	b.logger.WithField("service", service).
		WithField("strategy", s.Name()).
		Info("Load balancing strategy set")
	return nil
}

// Pick selects one instance from the pool for a service. An empty pool is a
// ServiceNotFound condition.
func (b *Balancer) Pick(service string, instances []domain.Service) (domain.Service, error) {
	if len(instances) == 0 {
		return nil, domain.NewServiceNotFound(service)
	}

	selected := b.strategyFor(service).Select(instances)
	if selected == nil {
		return nil, domain.NewServiceNotFound(service)
	}

	b.logger.WithField("service", service).Debug("Selected backend instance")
	return selected, nil
}

// Done tells the service's strategy that a call on instance has completed.
// Only strategies tracking in-flight requests care; for the rest it is a no-op.
func (b *Balancer) Done(service string, instance domain.Service) {
	if r, ok := b.strategyFor(service).(releaser); ok {
		r.Release(instance)
	}
}

// StrategyName reports the active strategy for a service.
func (b *Balancer) StrategyName(service string) string {
	return b.strategyFor(service).Name()
}

// Remove drops per-service strategy state, e.g. after unregistration.
func (b *Balancer) Remove(service string) {
	b.mu.Lock()
	delete(b.strategies, service)
	b.mu.Unlock()
}

func (b *Balancer) strategyFor(service string) Strategy {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, exists := b.strategies[service]
	if !exists {
		s = NewRoundRobinStrategy()
		b.strategies[service] = s
	}
	return s
}
