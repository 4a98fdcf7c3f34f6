package stats

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundview/gateway/pkg/clock"
	"github.com/fundview/gateway/pkg/logger"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.New(logger.Config{Level: "error", Format: "text", Output: "stderr"})
	return log
}

func newTestCollector(t *testing.T) (*Collector, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewCollector(fake, newTestLogger()), fake
}

func TestRecordAndServiceStats(t *testing.T) {
	t.Parallel()

	c, _ := newTestCollector(t)

	for i := 0; i < 5; i++ {
		c.Record("fund", true, 10*time.Millisecond)
	}
	for i := 0; i < 2; i++ {
		c.Record("fund", false, 30*time.Millisecond)
	}

	s := c.Service("fund")
	assert.Equal(t, int64(7), s.TotalRequests)
	assert.Equal(t, int64(5), s.SuccessfulRequests)
	assert.Equal(t, int64(2), s.FailedRequests)
	assert.Equal(t, 110*time.Millisecond, s.CumulativeLatency)
	assert.InDelta(t, 110.0/7.0, s.AverageResponseTimeMs, 0.01)
}

func TestUnknownServiceReportsZeroes(t *testing.T) {
	t.Parallel()

	c, _ := newTestCollector(t)
	s := c.Service("nothing")
	assert.Equal(t, int64(0), s.TotalRequests)
	assert.Equal(t, 0.0, s.AverageResponseTimeMs)
}

func TestGatewayAggregate(t *testing.T) {
	t.Parallel()

	c, fake := newTestCollector(t)
	c.Record("fund", true, 20*time.Millisecond)
	c.Record("market", false, 40*time.Millisecond)
	c.Record("market", true, 60*time.Millisecond)

	fake.Advance(90 * time.Second)

	g := c.Gateway(2)
	assert.Equal(t, int64(3), g.TotalRequests)
	assert.Equal(t, int64(2), g.SuccessfulRequests)
	assert.Equal(t, int64(1), g.FailedRequests)
	assert.Equal(t, 2, g.RegisteredServices)
	assert.Equal(t, 90*time.Second, g.Uptime)
	assert.InDelta(t, 40.0, g.AverageResponseTimeMs, 0.01)
}

func TestConcurrentRecordsLoseNoUpdates(t *testing.T) {
	t.Parallel()

	c, _ := newTestCollector(t)

	const goroutines = 20
	const perGoroutine = 200

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		success := i%2 == 0
		wg.Add(1)
		go func(ok bool) {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				c.Record("fund", ok, time.Millisecond)
			}
		}(success)
	}
	wg.Wait()

	s := c.Service("fund")
	assert.Equal(t, int64(goroutines*perGoroutine), s.TotalRequests)
	assert.Equal(t, int64(goroutines/2*perGoroutine), s.SuccessfulRequests)
	assert.Equal(t, int64(goroutines/2*perGoroutine), s.FailedRequests)
	assert.Equal(t, time.Duration(goroutines*perGoroutine)*time.Millisecond, s.CumulativeLatency)
}

func TestSnapshotCoversAllServices(t *testing.T) {
	t.Parallel()

	c, _ := newTestCollector(t)
	c.Record("fund", true, time.Millisecond)
	c.Record("market", true, time.Millisecond)

	snaps := c.Snapshot()
	require.Len(t, snaps, 2)

	names := map[string]bool{}
	for _, s := range snaps {
		names[s.Service] = true
	}
	assert.True(t, names["fund"])
	assert.True(t, names["market"])
}

func TestPrometheusExporter(t *testing.T) {
	t.Parallel()

	c, _ := newTestCollector(t)
	c.Record("fund", true, 250*time.Millisecond)
	c.Record("fund", false, 750*time.Millisecond)

	exporter := NewExporter(c)
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(exporter))

	expected := `
# HELP gateway_request_failures_total Failed requests per service.
# TYPE gateway_request_failures_total counter
gateway_request_failures_total{service="fund"} 1
# HELP gateway_requests_total Total requests routed per service.
# TYPE gateway_requests_total counter
gateway_requests_total{service="fund"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"gateway_requests_total", "gateway_request_failures_total"))
}
