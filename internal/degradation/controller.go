package degradation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/audioforge/orchestrator/internal/events"
	"github.com/audioforge/orchestrator/internal/model"
	"github.com/audioforge/orchestrator/internal/probe"
)

// Config defines monitoring thresholds. Thresholds are used-memory
// percentages of total system memory.
type Config struct {
	MonitoringInterval time.Duration
	MemoryThreshold    float64
	CriticalThreshold  float64
}

// DefaultConfig returns the default controller configuration
func DefaultConfig() Config {
	return Config{
		MonitoringInterval: time.Second,
		MemoryThreshold:    70,
		CriticalThreshold:  90,
	}
}

// Reclaimer is the pool-side hook invoked by the controller's tick: the
// same ticking process drives reservation expiry and degradation-driven
// releases so no second timer is needed.
type Reclaimer interface {
	ExpireReservations(now time.Time) int
	ReleaseUpTo(cutoff model.AllocationPriority) int
}

// resourceEntry is an allocation tracked by the controller for
// priority-based reclamation
type resourceEntry struct {
	id        string
	priority  model.AllocationPriority
	memoryMB  float64
	createdAt time.Time
}

// Controller samples system memory pressure on a timer and drives the
// five-level degradation state machine. It is the only mutator of the
// process-wide degradation level.
type Controller struct {
	logger    *zap.Logger
	config    Config
	probe     probe.Memory
	reclaimer Reclaimer
	events    events.Publisher

	mu     sync.Mutex
	level  model.DegradationLevel
	active map[string]*resourceEntry

	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewController creates a degradation controller. reclaimer may be nil
// when no resource pool shares the tick.
func NewController(config Config, memProbe probe.Memory, reclaimer Reclaimer, publisher events.Publisher, logger *zap.Logger) *Controller {
	if config.MonitoringInterval <= 0 {
		config.MonitoringInterval = DefaultConfig().MonitoringInterval
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &Controller{
		logger:    logger.Named("degradation-controller"),
		config:    config,
		probe:     memProbe,
		reclaimer: reclaimer,
		events:    publisher,
		active:    make(map[string]*resourceEntry),
		stop:      make(chan struct{}),
		now:       time.Now,
	}
}

// Start launches the monitoring loop
func (c *Controller) Start(ctx context.Context) error {
	c.logger.Info("Starting degradation controller",
		zap.Duration("interval", c.config.MonitoringInterval),
		zap.Float64("memory_threshold", c.config.MemoryThreshold),
		zap.Float64("critical_threshold", c.config.CriticalThreshold))

	go c.monitorLoop(ctx)
	return nil
}

// Level returns the current degradation level
func (c *Controller) Level() model.DegradationLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// AllocateResource requests admission for an allocation. Rejected
// outright when the current level gates out the given priority; accepted
// allocations are tracked as active until released.
func (c *Controller) AllocateResource(id string, priority model.AllocationPriority, memoryMB float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.level == model.DegradationCritical && priority != model.AllocationPriorityCritical:
		c.logger.Warn("Allocation rejected at critical degradation",
			zap.String("id", id),
			zap.String("priority", priority.String()))
		return false
	case c.level == model.DegradationHeavy && priority < model.AllocationPriorityHigh:
		c.logger.Warn("Allocation rejected at heavy degradation",
			zap.String("id", id),
			zap.String("priority", priority.String()))
		return false
	}

	c.active[id] = &resourceEntry{
		id:        id,
		priority:  priority,
		memoryMB:  memoryMB,
		createdAt: c.now(),
	}
	return true
}

// ReleaseResource marks an allocation inactive and removes it. Returns
// false for unknown ids.
func (c *Controller) ReleaseResource(id string) bool {
	c.mu.Lock()
	entry, ok := c.active[id]
	if ok {
		delete(c.active, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	c.publish(events.Event{
		Kind:             events.KindResourceReleased,
		ResourceReleased: &events.ResourceReleased{ReservationID: entry.id},
	})
	return true
}

// ActiveCount returns the number of tracked allocations
func (c *Controller) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Shutdown stops the monitoring loop and force-releases every tracked
// allocation regardless of priority.
func (c *Controller) Shutdown() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})

	c.mu.Lock()
	count := len(c.active)
	var freed model.ResourceMap
	for id, entry := range c.active {
		freed.MemoryMB += entry.memoryMB
		delete(c.active, id)
	}
	c.mu.Unlock()

	if count > 0 {
		c.publish(events.Event{
			Kind: events.KindResourcesReleased,
			ResourcesReleased: &events.ResourcesReleased{
				Count:     count,
				Resources: freed,
			},
		})
	}

	c.logger.Info("Degradation controller shut down",
		zap.Int("released", count))
}

// Evaluate samples the probe, runs one state-machine step and the pool
// sweep. Called from the monitoring loop; exported so tests can step the
// controller deterministically.
func (c *Controller) Evaluate() model.DegradationLevel {
	if c.reclaimer != nil {
		c.reclaimer.ExpireReservations(c.now())
	}

	usedPercent, err := probe.UsedPercent(c.probe)
	if err != nil {
		c.logger.Error("Failed to sample memory usage", zap.Error(err))
		return c.Level()
	}

	next := c.levelFor(usedPercent)

	c.mu.Lock()
	prev := c.level
	c.level = next
	c.mu.Unlock()

	if next != prev {
		c.logger.Info("Degradation level changed",
			zap.String("from", prev.String()),
			zap.String("to", next.String()),
			zap.Float64("memory_usage", usedPercent))

		c.publish(events.Event{
			Kind: events.KindDegradationChange,
			DegradationChange: &events.DegradationChange{
				Level:       next,
				MemoryUsage: usedPercent,
			},
		})

		c.applyReleasePolicy(next)
	}

	return next
}

// levelFor maps a used-memory percentage onto the degradation table
func (c *Controller) levelFor(usedPercent float64) model.DegradationLevel {
	switch {
	case usedPercent >= c.config.CriticalThreshold:
		return model.DegradationCritical
	case usedPercent >= c.config.MemoryThreshold+15:
		return model.DegradationHeavy
	case usedPercent >= c.config.MemoryThreshold+10:
		return model.DegradationModerate
	case usedPercent >= c.config.MemoryThreshold:
		return model.DegradationLight
	default:
		return model.DegradationNone
	}
}

// applyReleasePolicy reclaims tracked allocations below the level's
// priority cutoff, strictly lower priorities first, and instructs the
// shared pool to do the same.
func (c *Controller) applyReleasePolicy(level model.DegradationLevel) {
	var cutoff model.AllocationPriority
	switch level {
	case model.DegradationLight:
		cutoff = model.AllocationPriorityLow
	case model.DegradationModerate, model.DegradationHeavy:
		cutoff = model.AllocationPriorityMedium
	case model.DegradationCritical:
		cutoff = model.AllocationPriorityHigh
	default:
		return
	}

	c.mu.Lock()
	var victims []*resourceEntry
	for _, entry := range c.active {
		if entry.priority <= cutoff {
			victims = append(victims, entry)
		}
	}
	sort.Slice(victims, func(i, j int) bool {
		if victims[i].priority != victims[j].priority {
			return victims[i].priority < victims[j].priority
		}
		return victims[i].createdAt.Before(victims[j].createdAt)
	})

	var freed model.ResourceMap
	for _, entry := range victims {
		delete(c.active, entry.id)
		freed.MemoryMB += entry.memoryMB
	}
	c.mu.Unlock()

	if len(victims) > 0 {
		c.publish(events.Event{
			Kind: events.KindResourcesReleased,
			ResourcesReleased: &events.ResourcesReleased{
				Count:     len(victims),
				Resources: freed,
			},
		})

		c.logger.Info("Released allocations under degradation policy",
			zap.String("level", level.String()),
			zap.Int("count", len(victims)))
	}

	if c.reclaimer != nil {
		c.reclaimer.ReleaseUpTo(cutoff)
	}
}

// monitorLoop runs the periodic evaluation until stopped
func (c *Controller) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.MonitoringInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.Evaluate()
		}
	}
}

func (c *Controller) publish(event events.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = c.now()
	}
	if err := c.events.Publish(event); err != nil {
		c.logger.Warn("Failed to publish event",
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
	}
}
