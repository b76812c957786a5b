package allocator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/audioforge/orchestrator/internal/events"
	"github.com/audioforge/orchestrator/internal/model"
)

func newTestAllocator(t *testing.T, config Config) (*ResourceAllocator, *events.MemoryPublisher) {
	t.Helper()
	publisher := events.NewMemoryPublisher(128)
	return NewResourceAllocator(config, publisher, zaptest.NewLogger(t)), publisher
}

func routeWithCost(cost model.ResourceMap, confidence float64) model.Route {
	return model.Route{
		Model:         model.ModelType{ID: "wav2vec2-base"},
		Confidence:    confidence,
		EstimatedCost: cost,
	}
}

// assertInvariant checks available + sum(allocated) == capacity
func assertInvariant(t *testing.T, a *ResourceAllocator) {
	t.Helper()
	sum := a.Available().Add(a.Allocated())
	capacity := a.Capacity()
	assert.InDelta(t, capacity.MemoryMB, sum.MemoryMB, 1e-6)
	assert.InDelta(t, capacity.CPU, sum.CPU, 1e-6)
	assert.InDelta(t, capacity.TokensPerSecond, sum.TokensPerSecond, 1e-6)
}

func TestAllocateWithinCapacity(t *testing.T) {
	a, publisher := newTestAllocator(t, DefaultConfig())

	result, err := a.AllocateResources(routeWithCost(model.ResourceMap{MemoryMB: 1024, CPU: 0.4, TokensPerSecond: 60}, 0.5))
	require.NoError(t, err)

	assert.NotEmpty(t, result.ReservationID)
	assert.InDelta(t, 1024, result.Allocated.MemoryMB, 1e-9, "a fitting request is granted unshrunk")
	assert.Equal(t, model.AllocationPriorityMedium, result.Priority)
	assert.Equal(t, 1, a.ActiveReservations())
	assertInvariant(t, a)

	allocated := publisher.EventsOfKind(events.KindResourceAllocated)
	require.Len(t, allocated, 1)
	assert.Equal(t, result.ReservationID, allocated[0].ResourceAllocated.ReservationID)
}

func TestAllocateShrinksBottleneck(t *testing.T) {
	a, _ := newTestAllocator(t, DefaultConfig())

	// Memory exceeds the 8192 pool; one shrink pass lands it at 8000.
	// CPU and throughput already fit and must not be touched.
	result, err := a.AllocateResources(routeWithCost(model.ResourceMap{MemoryMB: 10000, CPU: 0.5, TokensPerSecond: 100}, 0.5))
	require.NoError(t, err)

	assert.InDelta(t, 8000, result.Allocated.MemoryMB, 1e-9)
	assert.InDelta(t, 0.5, result.Allocated.CPU, 1e-9)
	assert.InDelta(t, 100, result.Allocated.TokensPerSecond, 1e-9)
	assertInvariant(t, a)
}

func TestAllocateInfeasible(t *testing.T) {
	a, _ := newTestAllocator(t, DefaultConfig())

	// Claim nearly the whole pool, then ask for more than shrinking can fit
	first, err := a.AllocateResources(routeWithCost(model.ResourceMap{MemoryMB: 8000, CPU: 0.1, TokensPerSecond: 10}, 0.5))
	require.NoError(t, err)

	_, err = a.AllocateResources(routeWithCost(model.ResourceMap{MemoryMB: 10000, CPU: 0.1, TokensPerSecond: 10}, 0.5))
	require.Error(t, err)
	assert.True(t, IsAllocationInfeasible(err))

	// The failed attempt must not leak any pool debit
	assert.Equal(t, 1, a.ActiveReservations())
	assertInvariant(t, a)

	require.NoError(t, a.ReleaseResources(first))
	assertInvariant(t, a)
}

func TestReleaseTwice(t *testing.T) {
	a, publisher := newTestAllocator(t, DefaultConfig())

	result, err := a.AllocateResources(routeWithCost(model.ResourceMap{MemoryMB: 512, CPU: 0.2, TokensPerSecond: 20}, 0.5))
	require.NoError(t, err)

	require.NoError(t, a.ReleaseResources(result))
	assert.ErrorIs(t, a.ReleaseResources(result), ErrReservationNotFound)
	assert.Equal(t, 0, a.ActiveReservations())
	assertInvariant(t, a)

	assert.Len(t, publisher.EventsOfKind(events.KindResourceReleased), 1)
}

func TestExpireReservations(t *testing.T) {
	a, publisher := newTestAllocator(t, DefaultConfig())

	for i := 0; i < 3; i++ {
		_, err := a.AllocateResources(routeWithCost(model.ResourceMap{MemoryMB: 512, CPU: 0.1, TokensPerSecond: 20}, 0.5))
		require.NoError(t, err)
	}
	require.Equal(t, 3, a.ActiveReservations())

	// Nothing expires before the deadlines
	assert.Zero(t, a.ExpireReservations(time.Now()))
	assert.Equal(t, 3, a.ActiveReservations())

	// Far in the future everything has expired
	released := a.ExpireReservations(time.Now().Add(time.Hour))
	assert.Equal(t, 3, released)
	assert.Equal(t, 0, a.ActiveReservations())
	assertInvariant(t, a)

	bulk := publisher.EventsOfKind(events.KindResourcesReleased)
	require.Len(t, bulk, 1)
	assert.Equal(t, 3, bulk[0].ResourcesReleased.Count)
	assert.InDelta(t, 1536, bulk[0].ResourcesReleased.Resources.MemoryMB, 1e-9)
}

func TestReleaseUpTo(t *testing.T) {
	a, _ := newTestAllocator(t, DefaultConfig())

	cost := model.ResourceMap{MemoryMB: 256, CPU: 0.05, TokensPerSecond: 10}
	// Confidence tiers: low, medium, high, critical
	for _, confidence := range []float64{0.2, 0.5, 0.7, 0.9} {
		_, err := a.AllocateResources(routeWithCost(cost, confidence))
		require.NoError(t, err)
	}

	assert.Equal(t, 2, a.ReleaseUpTo(model.AllocationPriorityMedium))
	assert.Equal(t, 2, a.ActiveReservations())
	assert.Zero(t, a.ReleaseUpTo(model.AllocationPriorityMedium), "already released tiers stay released")

	assert.Equal(t, 2, a.ReleaseUpTo(model.AllocationPriorityCritical))
	assert.Equal(t, 0, a.ActiveReservations())
	assertInvariant(t, a)
}

func TestReservationTimeoutScalesWithGrant(t *testing.T) {
	a, _ := newTestAllocator(t, DefaultConfig())

	small, err := a.AllocateResources(routeWithCost(model.ResourceMap{MemoryMB: 64, CPU: 0.01, TokensPerSecond: 5}, 0.5))
	require.NoError(t, err)
	large, err := a.AllocateResources(routeWithCost(model.ResourceMap{MemoryMB: 6000, CPU: 0.8, TokensPerSecond: 800}, 0.5))
	require.NoError(t, err)

	assert.Greater(t, large.Timeout, small.Timeout)
	assert.GreaterOrEqual(t, small.Timeout, 30*time.Second, "the default is the floor for a tiny grant")
}

func TestReservationTimeoutClamped(t *testing.T) {
	config := DefaultConfig()
	config.DefaultTimeout = 90 * time.Second
	config.MaxTimeout = 2 * time.Minute
	a, _ := newTestAllocator(t, config)

	// A grant spanning most of the pool pushes the scaled timeout past the cap
	result, err := a.AllocateResources(routeWithCost(model.ResourceMap{MemoryMB: 8000, CPU: 0.85, TokensPerSecond: 900}, 0.5))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, result.Timeout)
}

func TestAdjustAllocationGrow(t *testing.T) {
	a, _ := newTestAllocator(t, DefaultConfig())

	result, err := a.AllocateResources(routeWithCost(model.ResourceMap{MemoryMB: 1000, CPU: 0.4, TokensPerSecond: 50}, 0.5))
	require.NoError(t, err)

	grown, err := a.AdjustAllocation(result, UsageMetrics{MemoryUtilization: 0.95, CPUUtilization: 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 1200, grown.Allocated.MemoryMB, 1e-9)
	assertInvariant(t, a)

	require.NoError(t, a.ReleaseResources(grown))
	assertInvariant(t, a)
}

func TestAdjustAllocationShrink(t *testing.T) {
	a, _ := newTestAllocator(t, DefaultConfig())

	result, err := a.AllocateResources(routeWithCost(model.ResourceMap{MemoryMB: 1000, CPU: 0.4, TokensPerSecond: 50}, 0.5))
	require.NoError(t, err)

	shrunk, err := a.AdjustAllocation(result, UsageMetrics{MemoryUtilization: 0.1, CPUUtilization: 0.1})
	require.NoError(t, err)
	assert.InDelta(t, 800, shrunk.Allocated.MemoryMB, 1e-9)
	assert.InDelta(t, 0.32, shrunk.Allocated.CPU, 1e-9)
	assertInvariant(t, a)
}

func TestAdjustUnknownReservation(t *testing.T) {
	a, _ := newTestAllocator(t, DefaultConfig())

	_, err := a.AdjustAllocation(&AllocationResult{ReservationID: "missing"}, UsageMetrics{})
	assert.ErrorIs(t, err, ErrReservationNotFound)
}

func TestSoftConstraintsHeadroom(t *testing.T) {
	a, _ := newTestAllocator(t, DefaultConfig())

	result, err := a.AllocateResources(routeWithCost(model.ResourceMap{MemoryMB: 1000, CPU: 0.8, TokensPerSecond: 50}, 0.5))
	require.NoError(t, err)

	assert.InDelta(t, 1200, result.Constraints.MaxMemoryMB, 1e-9)
	assert.InDelta(t, 0.92, result.Constraints.MaxCPU, 1e-9)
	assert.Equal(t, 5000.0, result.Constraints.MaxLatency, "absent a requested bound the default applies")
}

func TestPriorityFromConfidence(t *testing.T) {
	tests := []struct {
		confidence float64
		want       model.AllocationPriority
	}{
		{0.0, model.AllocationPriorityLow},
		{0.4, model.AllocationPriorityLow},
		{0.41, model.AllocationPriorityMedium},
		{0.6, model.AllocationPriorityMedium},
		{0.61, model.AllocationPriorityHigh},
		{0.8, model.AllocationPriorityHigh},
		{0.81, model.AllocationPriorityCritical},
		{1.0, model.AllocationPriorityCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, priorityFromConfidence(tt.confidence), "confidence %v", tt.confidence)
	}
}
