package model

// ResourceMap represents a resource vector: both pool capacity and a single
// reservation are expressed in these units.
type ResourceMap struct {
	MemoryMB        float64 `json:"memory_mb"`
	CPU             float64 `json:"cpu"`
	TokensPerSecond float64 `json:"tokens_per_second"`
}

// Add returns the componentwise sum of two resource maps
func (r ResourceMap) Add(other ResourceMap) ResourceMap {
	return ResourceMap{
		MemoryMB:        r.MemoryMB + other.MemoryMB,
		CPU:             r.CPU + other.CPU,
		TokensPerSecond: r.TokensPerSecond + other.TokensPerSecond,
	}
}

// Sub returns the componentwise difference of two resource maps
func (r ResourceMap) Sub(other ResourceMap) ResourceMap {
	return ResourceMap{
		MemoryMB:        r.MemoryMB - other.MemoryMB,
		CPU:             r.CPU - other.CPU,
		TokensPerSecond: r.TokensPerSecond - other.TokensPerSecond,
	}
}

// FitsWithin reports whether every component of r is at most the
// corresponding component of capacity
func (r ResourceMap) FitsWithin(capacity ResourceMap) bool {
	return r.MemoryMB <= capacity.MemoryMB &&
		r.CPU <= capacity.CPU &&
		r.TokensPerSecond <= capacity.TokensPerSecond
}

// IsZero reports whether all components are zero
func (r ResourceMap) IsZero() bool {
	return r.MemoryMB == 0 && r.CPU == 0 && r.TokensPerSecond == 0
}

// ResourceConstraints bound a task's resource consumption. MaxCPU is a
// fraction in (0,1], MaxLatency is in milliseconds.
type ResourceConstraints struct {
	MaxMemoryMB float64 `json:"max_memory_mb"`
	MaxCPU      float64 `json:"max_cpu"`
	MaxLatency  float64 `json:"max_latency"`
}

// AllocationPriority represents the priority of a resource allocation
type AllocationPriority int

const (
	AllocationPriorityLow AllocationPriority = iota + 1
	AllocationPriorityMedium
	AllocationPriorityHigh
	AllocationPriorityCritical
)

// String returns the priority name
func (p AllocationPriority) String() string {
	switch p {
	case AllocationPriorityLow:
		return "low"
	case AllocationPriorityMedium:
		return "medium"
	case AllocationPriorityHigh:
		return "high"
	case AllocationPriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}
