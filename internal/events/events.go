package events

import (
	"time"

	"github.com/audioforge/orchestrator/internal/model"
)

// Kind identifies the event type on the wire
type Kind string

const (
	KindDegradationChange Kind = "degradation_change"
	KindResourceAllocated Kind = "resource_allocated"
	KindResourceReleased  Kind = "resource_released"
	KindResourcesReleased Kind = "resources_released"
)

// Event is the envelope published to observability consumers. The core
// never consumes its own events.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	DegradationChange *DegradationChange `json:"degradation_change,omitempty"`
	ResourceAllocated *ResourceAllocated `json:"resource_allocated,omitempty"`
	ResourceReleased  *ResourceReleased  `json:"resource_released,omitempty"`
	ResourcesReleased *ResourcesReleased `json:"resources_released,omitempty"`
}

// DegradationChange signals a degradation level transition
type DegradationChange struct {
	Level       model.DegradationLevel `json:"level"`
	MemoryUsage float64                `json:"memory_usage"`
}

// ResourceAllocated signals a successful pool reservation
type ResourceAllocated struct {
	ReservationID string                   `json:"reservation_id"`
	Resources     model.ResourceMap        `json:"resources"`
	Priority      model.AllocationPriority `json:"priority"`
}

// ResourceReleased signals a single reservation release
type ResourceReleased struct {
	ReservationID string `json:"reservation_id"`
}

// ResourcesReleased signals a bulk release driven by expiry or degradation
type ResourcesReleased struct {
	Count     int               `json:"count"`
	Resources model.ResourceMap `json:"resources"`
}

// Publisher delivers events to observability consumers. Implementations
// must be non-blocking from the caller's perspective and must not panic.
type Publisher interface {
	Publish(event Event) error
}

// NopPublisher drops all events
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(Event) error { return nil }
