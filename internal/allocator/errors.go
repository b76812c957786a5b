package allocator

import (
	"errors"
	"fmt"

	"github.com/audioforge/orchestrator/internal/model"
)

var (
	// ErrReservationNotFound is returned when releasing an unknown or already released reservation
	ErrReservationNotFound = errors.New("reservation not found")
)

// AllocationInfeasibleError is returned when a request cannot be satisfied
// even after the shrink-and-retry optimization.
type AllocationInfeasibleError struct {
	Requested model.ResourceMap
	Attempted model.ResourceMap
	Available model.ResourceMap
}

// Error implements the error interface
func (e *AllocationInfeasibleError) Error() string {
	return fmt.Sprintf("allocation infeasible: requested %.0fMB/%.2fcpu/%.0ftps, last attempt %.0fMB/%.2fcpu/%.0ftps, available %.0fMB/%.2fcpu/%.0ftps",
		e.Requested.MemoryMB, e.Requested.CPU, e.Requested.TokensPerSecond,
		e.Attempted.MemoryMB, e.Attempted.CPU, e.Attempted.TokensPerSecond,
		e.Available.MemoryMB, e.Available.CPU, e.Available.TokensPerSecond)
}

// IsAllocationInfeasible reports whether err is an AllocationInfeasibleError
func IsAllocationInfeasible(err error) bool {
	var target *AllocationInfeasibleError
	return errors.As(err, &target)
}
