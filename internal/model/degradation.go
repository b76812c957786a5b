package model

// DegradationLevel represents a discrete system-pressure tier. Levels are
// ordered: None < Light < Moderate < Heavy < Critical.
type DegradationLevel int

const (
	DegradationNone DegradationLevel = iota
	DegradationLight
	DegradationModerate
	DegradationHeavy
	DegradationCritical
)

// String returns the level name
func (l DegradationLevel) String() string {
	switch l {
	case DegradationNone:
		return "none"
	case DegradationLight:
		return "light"
	case DegradationModerate:
		return "moderate"
	case DegradationHeavy:
		return "heavy"
	case DegradationCritical:
		return "critical"
	default:
		return "unknown"
	}
}
