package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCapability(t *testing.T) {
	mt := ModelType{
		ID:           "wav2vec2-base",
		Capabilities: []Capability{CapabilityTranscription, CapabilityAudioAnalysis},
	}

	assert.True(t, mt.HasCapability(CapabilityTranscription))
	assert.True(t, mt.HasCapability(CapabilityAudioAnalysis))
	assert.False(t, mt.HasCapability(CapabilityAudioGeneration))
}

func TestResourceMapArithmetic(t *testing.T) {
	a := ResourceMap{MemoryMB: 1024, CPU: 0.5, TokensPerSecond: 100}
	b := ResourceMap{MemoryMB: 512, CPU: 0.25, TokensPerSecond: 40}

	sum := a.Add(b)
	assert.Equal(t, ResourceMap{MemoryMB: 1536, CPU: 0.75, TokensPerSecond: 140}, sum)
	assert.Equal(t, a, sum.Sub(b))

	assert.True(t, b.FitsWithin(a))
	assert.False(t, a.FitsWithin(b))
	assert.True(t, ResourceMap{}.IsZero())
	assert.False(t, a.IsZero())
}

func TestDegradationLevelOrdering(t *testing.T) {
	assert.True(t, DegradationNone < DegradationLight)
	assert.True(t, DegradationLight < DegradationModerate)
	assert.True(t, DegradationModerate < DegradationHeavy)
	assert.True(t, DegradationHeavy < DegradationCritical)

	assert.Equal(t, "none", DegradationNone.String())
	assert.Equal(t, "critical", DegradationCritical.String())
}

func TestAllocationPriorityString(t *testing.T) {
	assert.Equal(t, "low", AllocationPriorityLow.String())
	assert.Equal(t, "medium", AllocationPriorityMedium.String())
	assert.Equal(t, "high", AllocationPriorityHigh.String())
	assert.Equal(t, "critical", AllocationPriorityCritical.String())
	assert.Equal(t, "unknown", AllocationPriority(0).String())
}
