package balancer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundview/gateway/internal/domain"
	"github.com/fundview/gateway/pkg/logger"
)

type stubService struct {
	id string
}

func (s *stubService) Invoke(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	return &domain.Response{StatusCode: 200}, nil
}

func newTestLogger() *logger.Logger {
	log, _ := logger.New(logger.Config{Level: "error", Format: "text", Output: "stderr"})
	return log
}

func pool(ids ...string) []domain.Service {
	instances := make([]domain.Service, len(ids))
	for i, id := range ids {
		instances[i] = &stubService{id: id}
	}
	return instances
}

func TestRoundRobinPeriodicity(t *testing.T) {
	t.Parallel()

	b := New(newTestLogger())
	instances := pool("a", "b", "c")

	// Over any N consecutive selections every instance is chosen exactly
	// once, in registration order, repeating every N selections.
	var selected []string
	for i := 0; i < 6; i++ {
		inst, err := b.Pick("fund", instances)
		require.NoError(t, err)
		selected = append(selected, inst.(*stubService).id)
	}

	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, selected)
}

func TestRoundRobinSingleInstance(t *testing.T) {
	t.Parallel()

	b := New(newTestLogger())
	instances := pool("only")

	for i := 0; i < 5; i++ {
		inst, err := b.Pick("fund", instances)
		require.NoError(t, err)
		assert.Equal(t, "only", inst.(*stubService).id)
	}
}

func TestPickEmptyPoolIsServiceNotFound(t *testing.T) {
	t.Parallel()

	b := New(newTestLogger())
	_, err := b.Pick("fund", nil)
	require.Error(t, err)

	var gerr *domain.Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, domain.KindServiceNotFound, gerr.Kind)
}

func TestSetStrategyUnknownNameFailsAtConfigurationTime(t *testing.T) {
	t.Parallel()

	b := New(newTestLogger())
	err := b.SetStrategy("fund", "fastest_ever")
	require.Error(t, err)

	var gerr *domain.Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, domain.KindConfiguration, gerr.Kind)
}

func TestSetStrategyRandom(t *testing.T) {
	t.Parallel()

	b := New(newTestLogger())
	require.NoError(t, b.SetStrategy("fund", domain.RandomStrategy))
	assert.Equal(t, "random", b.StrategyName("fund"))

	instances := pool("a", "b", "c")
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		inst, err := b.Pick("fund", instances)
		require.NoError(t, err)
		seen[inst.(*stubService).id] = true
	}

	// With 100 draws over 3 instances, all should appear.
	assert.Len(t, seen, 3)
}

func TestPerServiceCursorsAreIndependent(t *testing.T) {
	t.Parallel()

	b := New(newTestLogger())
	instances := pool("a", "b")

	first, err := b.Pick("fund", instances)
	require.NoError(t, err)
	assert.Equal(t, "a", first.(*stubService).id)

	// A different service starts its own rotation from the beginning.
	other, err := b.Pick("market", instances)
	require.NoError(t, err)
	assert.Equal(t, "a", other.(*stubService).id)

	second, err := b.Pick("fund", instances)
	require.NoError(t, err)
	assert.Equal(t, "b", second.(*stubService).id)
}

func TestLeastPendingPrefersIdleInstance(t *testing.T) {
	t.Parallel()

	b := New(newTestLogger())
	require.NoError(t, b.SetStrategy("fund", domain.LeastPendingStrategy))
	instances := pool("a", "b")

	// With no calls released, selections spread across the pool.
	first, err := b.Pick("fund", instances)
	require.NoError(t, err)
	assert.Equal(t, "a", first.(*stubService).id)

	second, err := b.Pick("fund", instances)
	require.NoError(t, err)
	assert.Equal(t, "b", second.(*stubService).id)

	// Releasing "a" makes it the least loaded again.
	b.Done("fund", first)
	third, err := b.Pick("fund", instances)
	require.NoError(t, err)
	assert.Equal(t, "a", third.(*stubService).id)
}

func TestLeastPendingTieBreaksInRegistrationOrder(t *testing.T) {
	t.Parallel()

	b := New(newTestLogger())
	require.NoError(t, b.SetStrategy("fund", domain.LeastPendingStrategy))
	instances := pool("a", "b", "c")

	inst, err := b.Pick("fund", instances)
	require.NoError(t, err)
	assert.Equal(t, "a", inst.(*stubService).id)
	b.Done("fund", inst)

	// Fully drained pool ties again on zero pending.
	inst, err = b.Pick("fund", instances)
	require.NoError(t, err)
	assert.Equal(t, "a", inst.(*stubService).id)
}

func TestDoneIsNoOpForCounterlessStrategies(t *testing.T) {
	t.Parallel()

	b := New(newTestLogger())
	instances := pool("a", "b")

	inst, err := b.Pick("fund", instances)
	require.NoError(t, err)
	b.Done("fund", inst)

	next, err := b.Pick("fund", instances)
	require.NoError(t, err)
	assert.Equal(t, "b", next.(*stubService).id)
}

func TestSetStrategyResetsRotation(t *testing.T) {
	t.Parallel()

	b := New(newTestLogger())
	instances := pool("a", "b", "c")

	_, err := b.Pick("fund", instances)
	require.NoError(t, err)

	// Re-applying round robin installs a fresh cursor.
	require.NoError(t, b.SetStrategy("fund", domain.RoundRobinStrategy))
	inst, err := b.Pick("fund", instances)
	require.NoError(t, err)
	assert.Equal(t, "a", inst.(*stubService).id)
}
