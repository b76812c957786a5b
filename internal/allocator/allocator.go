package allocator

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/audioforge/orchestrator/internal/events"
	"github.com/audioforge/orchestrator/internal/model"
)

const maxOptimizeAttempts = 10

// Shrink factors applied per bottleneck dimension during the
// optimization loop.
const (
	memoryShrinkFactor = 0.8
	cpuShrinkFactor    = 0.8
	tokenShrinkFactor  = 0.9
)

// Config defines pool capacity and reservation timeout bounds
type Config struct {
	MaxMemoryMB        float64
	MaxCPU             float64
	MaxTokensPerSecond float64
	DefaultTimeout     time.Duration
	MinTimeout         time.Duration
	MaxTimeout         time.Duration
}

// DefaultConfig returns the default allocator configuration
func DefaultConfig() Config {
	return Config{
		MaxMemoryMB:        8192,
		MaxCPU:             0.9,
		MaxTokensPerSecond: 1000,
		DefaultTimeout:     30 * time.Second,
		MinTimeout:         5 * time.Second,
		MaxTimeout:         2 * time.Minute,
	}
}

// AllocationResult is returned to the caller holding a live reservation.
// Resources return to the pool on release or reservation expiry,
// whichever comes first.
type AllocationResult struct {
	ReservationID string                    `json:"reservation_id"`
	Allocated     model.ResourceMap         `json:"allocated"`
	Constraints   model.ResourceConstraints `json:"constraints"`
	Priority      model.AllocationPriority  `json:"priority"`
	Timeout       time.Duration             `json:"timeout"`
}

// UsageMetrics reports how much of a granted allocation is in use,
// as fractions of the grant.
type UsageMetrics struct {
	ReservationID     string  `json:"reservation_id"`
	MemoryUtilization float64 `json:"memory_utilization"`
	CPUUtilization    float64 `json:"cpu_utilization"`
	TokenUtilization  float64 `json:"token_utilization"`
}

// reservation is a live claim on the pool
type reservation struct {
	id        string
	resources model.ResourceMap
	priority  model.AllocationPriority
	createdAt time.Time
	expiresAt time.Time
}

// ResourceAllocator owns the shared resource pool. All debit/credit
// operations are serialized through its mutex; the capacity invariant
// available + sum(allocated) == capacity holds at every observation point.
type ResourceAllocator struct {
	logger *zap.Logger
	config Config
	events events.Publisher

	mu           sync.Mutex
	capacity     model.ResourceMap
	available    model.ResourceMap
	reservations map[string]*reservation

	now func() time.Time
}

// NewResourceAllocator creates an allocator over a pool sized from config
func NewResourceAllocator(config Config, publisher events.Publisher, logger *zap.Logger) *ResourceAllocator {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	capacity := model.ResourceMap{
		MemoryMB:        config.MaxMemoryMB,
		CPU:             config.MaxCPU,
		TokensPerSecond: config.MaxTokensPerSecond,
	}

	return &ResourceAllocator{
		logger:       logger.Named("resource-allocator"),
		config:       config,
		events:       publisher,
		capacity:     capacity,
		available:    capacity,
		reservations: make(map[string]*reservation),
		now:          time.Now,
	}
}

// AllocateResources reserves a slice of the pool for the route. When the
// estimated cost exceeds availability the bottleneck dimensions are
// iteratively shrunk; if the request still cannot be met the attempt is
// surfaced as an AllocationInfeasibleError, never a silent capacity
// violation.
func (a *ResourceAllocator) AllocateResources(route model.Route) (*AllocationResult, error) {
	needs := route.EstimatedCost

	a.mu.Lock()
	defer a.mu.Unlock()

	attempt := needs
	fits := attempt.FitsWithin(a.available)
	for i := 0; !fits && i < maxOptimizeAttempts; i++ {
		attempt = a.shrinkBottlenecks(attempt)
		fits = attempt.FitsWithin(a.available)
	}

	if !fits {
		a.logger.Warn("Allocation infeasible after optimization",
			zap.Float64("requested_memory_mb", needs.MemoryMB),
			zap.Float64("available_memory_mb", a.available.MemoryMB))
		return nil, &AllocationInfeasibleError{
			Requested: needs,
			Attempted: attempt,
			Available: a.available,
		}
	}

	now := a.now()
	timeout := a.reservationTimeout(attempt)
	res := &reservation{
		id:        uuid.New().String(),
		resources: attempt,
		priority:  priorityFromConfidence(route.Confidence),
		createdAt: now,
		expiresAt: now.Add(timeout),
	}

	a.available = a.available.Sub(attempt)
	a.reservations[res.id] = res

	result := &AllocationResult{
		ReservationID: res.id,
		Allocated:     attempt,
		Constraints:   a.softConstraints(attempt, route.Requirements),
		Priority:      res.priority,
		Timeout:       timeout,
	}

	a.publish(events.Event{
		Kind: events.KindResourceAllocated,
		ResourceAllocated: &events.ResourceAllocated{
			ReservationID: res.id,
			Resources:     attempt,
			Priority:      res.priority,
		},
	})

	a.logger.Info("Resources allocated",
		zap.String("reservation_id", res.id),
		zap.Float64("memory_mb", attempt.MemoryMB),
		zap.Float64("cpu", attempt.CPU),
		zap.Float64("tokens_per_second", attempt.TokensPerSecond),
		zap.String("priority", res.priority.String()),
		zap.Duration("timeout", timeout))

	return result, nil
}

// MonitorUsage reports the reservation's share of total pool capacity.
// Callers feed observed utilization into AdjustAllocation.
func (a *ResourceAllocator) MonitorUsage(result *AllocationResult) UsageMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	metrics := UsageMetrics{ReservationID: result.ReservationID}
	if a.capacity.MemoryMB > 0 {
		metrics.MemoryUtilization = result.Allocated.MemoryMB / a.capacity.MemoryMB
	}
	if a.capacity.CPU > 0 {
		metrics.CPUUtilization = result.Allocated.CPU / a.capacity.CPU
	}
	if a.capacity.TokensPerSecond > 0 {
		metrics.TokenUtilization = result.Allocated.TokensPerSecond / a.capacity.TokensPerSecond
	}
	return metrics
}

// AdjustAllocation resizes a live reservation based on observed
// utilization: a starved allocation grows (bounded by availability), an
// idle one shrinks and credits the difference back to the pool.
func (a *ResourceAllocator) AdjustAllocation(result *AllocationResult, usage UsageMetrics) (*AllocationResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	res, ok := a.reservations[result.ReservationID]
	if !ok {
		return nil, ErrReservationNotFound
	}

	adjusted := res.resources
	switch {
	case usage.MemoryUtilization > 0.9 || usage.CPUUtilization > 0.9:
		grown := model.ResourceMap{
			MemoryMB:        adjusted.MemoryMB * 1.2,
			CPU:             adjusted.CPU * 1.2,
			TokensPerSecond: adjusted.TokensPerSecond,
		}
		delta := grown.Sub(adjusted)
		if delta.FitsWithin(a.available) {
			a.available = a.available.Sub(delta)
			adjusted = grown
		}
	case usage.MemoryUtilization < 0.3 && usage.CPUUtilization < 0.3:
		shrunk := model.ResourceMap{
			MemoryMB:        adjusted.MemoryMB * 0.8,
			CPU:             adjusted.CPU * 0.8,
			TokensPerSecond: adjusted.TokensPerSecond,
		}
		a.available = a.available.Add(adjusted.Sub(shrunk))
		adjusted = shrunk
	}

	res.resources = adjusted

	updated := *result
	updated.Allocated = adjusted
	updated.Constraints = a.softConstraints(adjusted, model.TaskRequirements{
		Constraints: result.Constraints,
	})
	return &updated, nil
}

// ReleaseResources credits a reservation back to the pool. Releasing an
// unknown or already-released reservation is an error; every credit is
// matched 1:1 with a prior debit.
func (a *ResourceAllocator) ReleaseResources(result *AllocationResult) error {
	a.mu.Lock()
	res, ok := a.reservations[result.ReservationID]
	if !ok {
		a.mu.Unlock()
		return ErrReservationNotFound
	}

	delete(a.reservations, res.id)
	a.available = a.available.Add(res.resources)
	a.mu.Unlock()

	a.publish(events.Event{
		Kind:             events.KindResourceReleased,
		ResourceReleased: &events.ResourceReleased{ReservationID: res.id},
	})

	a.logger.Info("Resources released",
		zap.String("reservation_id", res.id),
		zap.Float64("memory_mb", res.resources.MemoryMB))
	return nil
}

// ExpireReservations releases every reservation whose deadline has
// passed, in FIFO expiry order. Returns the number released. Driven by
// the degradation controller's tick so a single ticking process owns
// both sweep concerns.
func (a *ResourceAllocator) ExpireReservations(now time.Time) int {
	a.mu.Lock()

	var expired []*reservation
	for _, res := range a.reservations {
		if now.After(res.expiresAt) {
			expired = append(expired, res)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].expiresAt.Before(expired[j].expiresAt)
	})

	var freed model.ResourceMap
	for _, res := range expired {
		delete(a.reservations, res.id)
		a.available = a.available.Add(res.resources)
		freed = freed.Add(res.resources)
	}
	a.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}

	a.publish(events.Event{
		Kind: events.KindResourcesReleased,
		ResourcesReleased: &events.ResourcesReleased{
			Count:     len(expired),
			Resources: freed,
		},
	})

	a.logger.Info("Expired reservations released",
		zap.Int("count", len(expired)),
		zap.Float64("freed_memory_mb", freed.MemoryMB))
	return len(expired)
}

// ReleaseUpTo releases every reservation with priority at or below the
// given cutoff, lowest priority first. Used by the degradation policy.
func (a *ResourceAllocator) ReleaseUpTo(cutoff model.AllocationPriority) int {
	a.mu.Lock()

	var victims []*reservation
	for _, res := range a.reservations {
		if res.priority <= cutoff {
			victims = append(victims, res)
		}
	}
	sort.Slice(victims, func(i, j int) bool {
		if victims[i].priority != victims[j].priority {
			return victims[i].priority < victims[j].priority
		}
		return victims[i].createdAt.Before(victims[j].createdAt)
	})

	var freed model.ResourceMap
	for _, res := range victims {
		delete(a.reservations, res.id)
		a.available = a.available.Add(res.resources)
		freed = freed.Add(res.resources)
	}
	a.mu.Unlock()

	if len(victims) == 0 {
		return 0
	}

	a.publish(events.Event{
		Kind: events.KindResourcesReleased,
		ResourcesReleased: &events.ResourcesReleased{
			Count:     len(victims),
			Resources: freed,
		},
	})

	a.logger.Info("Degradation-driven release",
		zap.String("cutoff", cutoff.String()),
		zap.Int("count", len(victims)),
		zap.Float64("freed_memory_mb", freed.MemoryMB))
	return len(victims)
}

// Available returns a snapshot of the unallocated pool
func (a *ResourceAllocator) Available() model.ResourceMap {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.available
}

// Capacity returns the total pool capacity
func (a *ResourceAllocator) Capacity() model.ResourceMap {
	return a.capacity
}

// Allocated returns the componentwise sum of all live reservations
func (a *ResourceAllocator) Allocated() model.ResourceMap {
	a.mu.Lock()
	defer a.mu.Unlock()

	var total model.ResourceMap
	for _, res := range a.reservations {
		total = total.Add(res.resources)
	}
	return total
}

// ActiveReservations returns the number of live reservations
func (a *ResourceAllocator) ActiveReservations() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reservations)
}

// shrinkBottlenecks reduces only the dimensions exceeding availability.
// Caller must hold the mutex.
func (a *ResourceAllocator) shrinkBottlenecks(needs model.ResourceMap) model.ResourceMap {
	out := needs
	if needs.MemoryMB > a.available.MemoryMB {
		out.MemoryMB = needs.MemoryMB * memoryShrinkFactor
	}
	if needs.CPU > a.available.CPU {
		out.CPU = needs.CPU * cpuShrinkFactor
	}
	if needs.TokensPerSecond > a.available.TokensPerSecond {
		out.TokensPerSecond = needs.TokensPerSecond * tokenShrinkFactor
	}
	return out
}

// reservationTimeout scales the default timeout by how large a share of
// the pool the grant claims, clamped to the configured bounds.
func (a *ResourceAllocator) reservationTimeout(granted model.ResourceMap) time.Duration {
	var sum float64
	if a.capacity.MemoryMB > 0 {
		sum += granted.MemoryMB / a.capacity.MemoryMB
	}
	if a.capacity.CPU > 0 {
		sum += granted.CPU / a.capacity.CPU
	}
	if a.capacity.TokensPerSecond > 0 {
		sum += granted.TokensPerSecond / a.capacity.TokensPerSecond
	}

	timeout := time.Duration(float64(a.config.DefaultTimeout) * (1 + sum/3))
	if timeout < a.config.MinTimeout {
		return a.config.MinTimeout
	}
	if timeout > a.config.MaxTimeout {
		return a.config.MaxTimeout
	}
	return timeout
}

// softConstraints adds a 10-20% headroom buffer over the grant. The
// caller treats these as a soft ceiling, not a hard guarantee.
func (a *ResourceAllocator) softConstraints(granted model.ResourceMap, req model.TaskRequirements) model.ResourceConstraints {
	maxCPU := granted.CPU * 1.15
	if maxCPU > 1 {
		maxCPU = 1
	}

	maxLatency := req.Constraints.MaxLatency
	if maxLatency <= 0 {
		maxLatency = 5000
	}

	return model.ResourceConstraints{
		MaxMemoryMB: granted.MemoryMB * 1.2,
		MaxCPU:      maxCPU,
		MaxLatency:  maxLatency,
	}
}

func (a *ResourceAllocator) publish(event events.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = a.now()
	}
	if err := a.events.Publish(event); err != nil {
		a.logger.Warn("Failed to publish event",
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
	}
}

// priorityFromConfidence maps a route confidence score to an allocation
// priority tier
func priorityFromConfidence(confidence float64) model.AllocationPriority {
	switch {
	case confidence > 0.8:
		return model.AllocationPriorityCritical
	case confidence > 0.6:
		return model.AllocationPriorityHigh
	case confidence > 0.4:
		return model.AllocationPriorityMedium
	default:
		return model.AllocationPriorityLow
	}
}
