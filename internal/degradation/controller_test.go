package degradation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/audioforge/orchestrator/internal/events"
	"github.com/audioforge/orchestrator/internal/model"
	"github.com/audioforge/orchestrator/internal/probe"
)

const gigabyte = 1_000_000_000

// fakeReclaimer records how the controller drives the shared pool
type fakeReclaimer struct {
	mu      sync.Mutex
	expires int
	cutoffs []model.AllocationPriority
}

func (f *fakeReclaimer) ExpireReservations(time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires++
	return 0
}

func (f *fakeReclaimer) ReleaseUpTo(cutoff model.AllocationPriority) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return 0
}

func newTestController(t *testing.T) (*Controller, *probe.Static, *events.MemoryPublisher, *fakeReclaimer) {
	t.Helper()
	memProbe := probe.NewStatic(100*gigabyte, 100*gigabyte)
	publisher := events.NewMemoryPublisher(128)
	reclaimer := &fakeReclaimer{}
	c := NewController(DefaultConfig(), memProbe, reclaimer, publisher, zaptest.NewLogger(t))
	return c, memProbe, publisher, reclaimer
}

func TestLevelTable(t *testing.T) {
	c, memProbe, _, _ := newTestController(t)

	tests := []struct {
		usedPercent float64
		want        model.DegradationLevel
	}{
		{50, model.DegradationNone},
		{69.9, model.DegradationNone},
		{70, model.DegradationLight},
		{72, model.DegradationLight},
		{80, model.DegradationModerate},
		{82, model.DegradationModerate},
		{85, model.DegradationHeavy},
		{87, model.DegradationHeavy},
		{90, model.DegradationCritical},
		{95, model.DegradationCritical},
	}

	for _, tt := range tests {
		memProbe.SetUsedPercent(tt.usedPercent)
		assert.Equal(t, tt.want, c.Evaluate(), "used=%v%%", tt.usedPercent)
		assert.Equal(t, tt.want, c.Level())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	c, memProbe, publisher, _ := newTestController(t)

	memProbe.SetUsedPercent(50)
	c.Evaluate()
	assert.Empty(t, publisher.EventsOfKind(events.KindDegradationChange),
		"staying at none emits nothing")

	memProbe.SetUsedPercent(72)
	c.Evaluate()
	changes := publisher.EventsOfKind(events.KindDegradationChange)
	require.Len(t, changes, 1)
	assert.Equal(t, model.DegradationLight, changes[0].DegradationChange.Level)
	assert.InDelta(t, 72, changes[0].DegradationChange.MemoryUsage, 0.01)

	// Same level again is not a transition
	c.Evaluate()
	assert.Len(t, publisher.EventsOfKind(events.KindDegradationChange), 1)

	// Recovery is a transition too
	memProbe.SetUsedPercent(40)
	c.Evaluate()
	changes = publisher.EventsOfKind(events.KindDegradationChange)
	require.Len(t, changes, 2)
	assert.Equal(t, model.DegradationNone, changes[1].DegradationChange.Level)
}

func TestReleasePolicyByLevel(t *testing.T) {
	c, memProbe, _, reclaimer := newTestController(t)

	require.True(t, c.AllocateResource("low", model.AllocationPriorityLow, 256))
	require.True(t, c.AllocateResource("medium", model.AllocationPriorityMedium, 256))
	require.True(t, c.AllocateResource("high", model.AllocationPriorityHigh, 256))
	require.True(t, c.AllocateResource("critical", model.AllocationPriorityCritical, 256))
	require.Equal(t, 4, c.ActiveCount())

	memProbe.SetUsedPercent(72)
	c.Evaluate()
	assert.Equal(t, 3, c.ActiveCount(), "light releases low priority")

	memProbe.SetUsedPercent(82)
	c.Evaluate()
	assert.Equal(t, 2, c.ActiveCount(), "moderate releases up to medium")

	memProbe.SetUsedPercent(95)
	c.Evaluate()
	assert.Equal(t, 1, c.ActiveCount(), "critical releases up to high")
	assert.True(t, c.ReleaseResource("critical"))

	reclaimer.mu.Lock()
	defer reclaimer.mu.Unlock()
	assert.Equal(t, []model.AllocationPriority{
		model.AllocationPriorityLow,
		model.AllocationPriorityMedium,
		model.AllocationPriorityHigh,
	}, reclaimer.cutoffs, "the shared pool is driven with the same cutoffs")
}

func TestAdmissionGating(t *testing.T) {
	c, memProbe, _, _ := newTestController(t)

	memProbe.SetUsedPercent(87)
	require.Equal(t, model.DegradationHeavy, c.Evaluate())

	assert.False(t, c.AllocateResource("a", model.AllocationPriorityLow, 64))
	assert.False(t, c.AllocateResource("b", model.AllocationPriorityMedium, 64))
	assert.True(t, c.AllocateResource("c", model.AllocationPriorityHigh, 64))
	assert.True(t, c.AllocateResource("d", model.AllocationPriorityCritical, 64))

	memProbe.SetUsedPercent(95)
	require.Equal(t, model.DegradationCritical, c.Evaluate())

	assert.False(t, c.AllocateResource("e", model.AllocationPriorityHigh, 64))
	assert.True(t, c.AllocateResource("f", model.AllocationPriorityCritical, 64))
}

func TestReleaseUnknownResource(t *testing.T) {
	c, _, _, _ := newTestController(t)
	assert.False(t, c.ReleaseResource("nope"))
}

func TestEverySweepDrivesExpiry(t *testing.T) {
	c, memProbe, _, reclaimer := newTestController(t)

	memProbe.SetUsedPercent(50)
	c.Evaluate()
	c.Evaluate()
	c.Evaluate()

	reclaimer.mu.Lock()
	defer reclaimer.mu.Unlock()
	assert.Equal(t, 3, reclaimer.expires, "expiry runs on every tick, not only transitions")
}

func TestShutdownForceReleases(t *testing.T) {
	c, _, publisher, _ := newTestController(t)

	require.True(t, c.AllocateResource("a", model.AllocationPriorityLow, 128))
	require.True(t, c.AllocateResource("b", model.AllocationPriorityCritical, 512))

	c.Shutdown()
	assert.Equal(t, 0, c.ActiveCount())

	bulk := publisher.EventsOfKind(events.KindResourcesReleased)
	require.Len(t, bulk, 1)
	assert.Equal(t, 2, bulk[0].ResourcesReleased.Count)
	assert.InDelta(t, 640, bulk[0].ResourcesReleased.Resources.MemoryMB, 1e-9)

	// Shutdown is idempotent
	c.Shutdown()
}
