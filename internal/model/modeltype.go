package model

// ModelType describes a loadable model worker. Immutable descriptor
// supplied by the caller.
type ModelType struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	MemoryRequirement int64        `json:"memory_requirement"` // bytes
	Capabilities      []Capability `json:"capabilities"`
}

// HasCapability reports whether the model advertises the given capability
func (m ModelType) HasCapability(c Capability) bool {
	for _, cap := range m.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}

// Route is a scorer-ranked routing decision: the chosen model, the task's
// requirements and the estimated cost vector fed to the allocator.
type Route struct {
	Model         ModelType        `json:"model"`
	Requirements  TaskRequirements `json:"requirements"`
	Confidence    float64          `json:"confidence"`
	EstimatedCost ResourceMap      `json:"estimated_cost"`
}
