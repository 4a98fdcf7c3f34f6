package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundview/gateway/internal/domain"
	"github.com/fundview/gateway/pkg/clock"
	"github.com/fundview/gateway/pkg/logger"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.New(logger.Config{Level: "error", Format: "text", Output: "stderr"})
	return log
}

func newTestGateway(t *testing.T) (*Gateway, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return New(newTestLogger(), WithClock(clk)), clk
}

// mockService is a scriptable backend that counts how often it is invoked.
type mockService struct {
	calls  atomic.Int64
	invoke func(ctx context.Context, req *domain.Request) (*domain.Response, error)
}

func (m *mockService) Invoke(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	m.calls.Add(1)
	if m.invoke != nil {
		return m.invoke(ctx, req)
	}
	return &domain.Response{StatusCode: http.StatusOK, Data: "ok"}, nil
}

func failingService(err error) *mockService {
	return &mockService{invoke: func(context.Context, *domain.Request) (*domain.Response, error) {
		return nil, err
	}}
}

func get(path string) *domain.Request {
	return &domain.Request{Method: http.MethodGet, Path: path}
}

func TestRouteRequestSuccess(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t)

	svc := &mockService{}
	require.True(t, gw.RegisterService("api", svc))

	resp := gw.RouteRequest(context.Background(), get("/api/test"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.ErrorMessage)
	assert.Equal(t, int64(1), svc.calls.Load())

	st := gw.GetServiceStats("api")
	assert.Equal(t, int64(1), st.TotalRequests)
	assert.Equal(t, int64(1), st.SuccessfulRequests)
	assert.Equal(t, int64(0), st.FailedRequests)
}

func TestRouteRequestResolvesServiceFromPath(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t)

	var seen string
	svc := &mockService{invoke: func(_ context.Context, req *domain.Request) (*domain.Response, error) {
		seen = req.ServiceName
		return &domain.Response{StatusCode: http.StatusOK}, nil
	}}
	require.True(t, gw.RegisterService("fund", svc))

	resp := gw.RouteRequest(context.Background(), get("/fund/quotes/000001"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fund", seen)
}

func TestRouteRequestUnknownServiceListsAvailable(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t)
	require.True(t, gw.RegisterService("fund", &mockService{}))

	resp := gw.RouteRequest(context.Background(), get("/nope/thing"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, resp.ErrorMessage)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []string{"fund"}, data["available_services"])
}

func TestRouteRequestAssignsRequestID(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t)
	require.True(t, gw.RegisterService("api", &mockService{}))

	req := get("/api/x")
	gw.RouteRequest(context.Background(), req)
	assert.NotEmpty(t, req.RequestID)
}

func TestRegisterServiceRejectsDuplicate(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t)

	first := &mockService{}
	require.True(t, gw.RegisterService("api", first))
	assert.False(t, gw.RegisterService("api", &mockService{}))
	assert.Same(t, domain.Service(first), gw.GetService("api"))
}

func TestUpstreamErrorBecomes502(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t)
	require.True(t, gw.RegisterService("api", failingService(errors.New("connection refused"))))

	resp := gw.RouteRequest(context.Background(), get("/api/x"))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, resp.ErrorMessage, "connection refused")

	st := gw.GetServiceStats("api")
	assert.Equal(t, int64(1), st.TotalRequests)
	assert.Equal(t, int64(1), st.FailedRequests)
}

func TestBackendPanicBecomes502(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t)
	require.True(t, gw.RegisterService("api", &mockService{
		invoke: func(context.Context, *domain.Request) (*domain.Response, error) {
			panic("boom")
		},
	}))

	resp := gw.RouteRequest(context.Background(), get("/api/x"))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int64(1), gw.GetServiceStats("api").FailedRequests)
}

func TestNilResponseWithoutErrorBecomes502(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t)
	require.True(t, gw.RegisterService("api", &mockService{
		invoke: func(context.Context, *domain.Request) (*domain.Response, error) {
			return nil, nil
		},
	}))

	resp := gw.RouteRequest(context.Background(), get("/api/x"))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	t.Parallel()
	gw, clk := newTestGateway(t)

	svc := failingService(errors.New("down"))
	require.True(t, gw.RegisterService("circuit", svc))
	require.NoError(t, gw.ConfigureCircuitBreaker("circuit", 3, 30*time.Second))

	for i := 0; i < 3; i++ {
		resp := gw.RouteRequest(context.Background(), get("/circuit/x"))
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	}
	assert.Equal(t, "open", gw.GetCircuitBreakerState("circuit"))

	// Short-circuited calls never reach the backend.
	resp := gw.RouteRequest(context.Background(), get("/circuit/x"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp = gw.RouteRequest(context.Background(), get("/circuit/x"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int64(3), svc.calls.Load())

	// After the recovery timeout one probe goes through; success closes the
	// breaker again.
	svc.invoke = nil
	clk.Advance(30 * time.Second)
	resp = gw.RouteRequest(context.Background(), get("/circuit/x"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "closed", gw.GetCircuitBreakerState("circuit"))
}

func TestCircuitBreakerProbeFailureReopens(t *testing.T) {
	t.Parallel()
	gw, clk := newTestGateway(t)

	svc := failingService(errors.New("down"))
	require.True(t, gw.RegisterService("circuit", svc))
	require.NoError(t, gw.ConfigureCircuitBreaker("circuit", 2, 10*time.Second))

	gw.RouteRequest(context.Background(), get("/circuit/x"))
	gw.RouteRequest(context.Background(), get("/circuit/x"))
	require.Equal(t, "open", gw.GetCircuitBreakerState("circuit"))

	clk.Advance(10 * time.Second)
	resp := gw.RouteRequest(context.Background(), get("/circuit/x"))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "open", gw.GetCircuitBreakerState("circuit"))

	// The failed probe restarts the recovery timeout.
	clk.Advance(5 * time.Second)
	resp = gw.RouteRequest(context.Background(), get("/circuit/x"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRateLimitRejectsBeyondRate(t *testing.T) {
	t.Parallel()
	gw, clk := newTestGateway(t)

	svc := &mockService{}
	require.True(t, gw.RegisterService("rl", svc))
	require.NoError(t, gw.ConfigureRateLimit("rl", 2))

	var ok, limited int
	for i := 0; i < 4; i++ {
		resp := gw.RouteRequest(context.Background(), get("/rl/x"))
		switch resp.StatusCode {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			limited++
		default:
			t.Fatalf("unexpected status %d", resp.StatusCode)
		}
	}
	assert.Equal(t, 2, ok)
	assert.Equal(t, 2, limited)
	assert.Equal(t, int64(2), svc.calls.Load())

	// Rejected calls never count against the circuit breaker or as backend
	// failures.
	assert.Equal(t, int64(2), gw.GetServiceStats("rl").TotalRequests)

	clk.Advance(time.Second)
	resp := gw.RouteRequest(context.Background(), get("/rl/x"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoadBalancerRotatesInstances(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t)

	a := &mockService{}
	b := &mockService{}
	require.True(t, gw.RegisterServiceInstance("api", a))
	require.True(t, gw.RegisterServiceInstance("api", b))

	for i := 0; i < 4; i++ {
		resp := gw.RouteRequest(context.Background(), get("/api/x"))
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, int64(2), a.calls.Load())
	assert.Equal(t, int64(2), b.calls.Load())
}

func TestSecurityValidatorRejects(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t)

	svc := &mockService{}
	require.True(t, gw.RegisterService("api", svc))
	gw.ConfigureSecurity(validatorFunc(func(req *domain.Request) error {
		if req.Headers["Authorization"] == "" {
			return errors.New("missing credentials")
		}
		return nil
	}))

	resp := gw.RouteRequest(context.Background(), get("/api/x"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int64(0), svc.calls.Load())

	req := get("/api/x")
	req.Headers = map[string]string{"Authorization": "Bearer token"}
	resp = gw.RouteRequest(context.Background(), req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Clearing the validator disables validation.
	gw.ConfigureSecurity(nil)
	resp = gw.RouteRequest(context.Background(), get("/api/x"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type validatorFunc func(*domain.Request) error

func (f validatorFunc) Validate(req *domain.Request) error { return f(req) }

func TestReloadServiceSwapsAtomically(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t)

	old := &mockService{}
	require.True(t, gw.RegisterService("api", old))
	assert.False(t, gw.ReloadService("missing", &mockService{}))

	replacement := &mockService{}
	require.True(t, gw.ReloadService("api", replacement))

	gw.RouteRequest(context.Background(), get("/api/x"))
	assert.Equal(t, int64(0), old.calls.Load())
	assert.Equal(t, int64(1), replacement.calls.Load())
}

func TestReloadUnderConcurrentTraffic(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t)
	require.True(t, gw.RegisterService("api", &mockService{}))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	var badStatus atomic.Int64

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				resp := gw.RouteRequest(context.Background(), get("/api/x"))
				if resp.StatusCode != http.StatusOK {
					badStatus.Add(1)
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		require.True(t, gw.ReloadService("api", &mockService{}))
	}
	close(stop)
	wg.Wait()

	// Every in-flight call completes against a full instance snapshot; a swap
	// never surfaces as a routing failure.
	assert.Equal(t, int64(0), badStatus.Load())
}

func TestUnregisterServiceCleansRoutingState(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t)

	require.True(t, gw.RegisterService("api", &mockService{}))
	require.NoError(t, gw.ConfigureRateLimit("api", 1))
	require.NoError(t, gw.ConfigureCircuitBreaker("api", 2, time.Second))

	require.True(t, gw.UnregisterService("api"))
	assert.False(t, gw.UnregisterService("api"))
	assert.False(t, gw.IsServiceRegistered("api"))
	assert.False(t, gw.GetRateLimitStats("api").Configured)

	resp := gw.RouteRequest(context.Background(), get("/api/x"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGatewayStatsAggregate(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t)

	require.True(t, gw.RegisterService("alpha", &mockService{}))
	require.True(t, gw.RegisterService("beta", failingService(errors.New("down"))))

	gw.RouteRequest(context.Background(), get("/alpha/x"))
	gw.RouteRequest(context.Background(), get("/alpha/x"))
	gw.RouteRequest(context.Background(), get("/beta/x"))

	gs := gw.GetGatewayStats()
	assert.Equal(t, int64(3), gs.TotalRequests)
	assert.Equal(t, int64(2), gs.SuccessfulRequests)
	assert.Equal(t, int64(1), gs.FailedRequests)
	assert.Equal(t, 2, gs.RegisteredServices)
}

func TestShutdownMakesGatewayNonRoutable(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t)
	require.True(t, gw.RegisterService("api", &mockService{}))

	gw.Shutdown()
	gw.Shutdown() // idempotent

	resp := gw.RouteRequest(context.Background(), get("/api/x"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, resp.ErrorMessage, "shut down")

	assert.False(t, gw.RegisterService("other", &mockService{}))
	assert.False(t, gw.ReloadService("api", &mockService{}))
	assert.Empty(t, gw.GetRegisteredServices())
}

func TestSetLoadBalancingStrategyValidation(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t)

	require.NoError(t, gw.SetLoadBalancingStrategy("api", domain.RandomStrategy))
	err := gw.SetLoadBalancingStrategy("api", "weighted-coin-flip")
	require.Error(t, err)
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
}
