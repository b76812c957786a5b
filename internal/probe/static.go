package probe

import "sync"

// Static is a fixed-value probe for tests and dry runs. Values can be
// swapped at runtime to simulate memory pressure.
type Static struct {
	mu    sync.RWMutex
	total uint64
	free  uint64
}

// NewStatic creates a probe reporting the given totals
func NewStatic(total, free uint64) *Static {
	return &Static{total: total, free: free}
}

// TotalMemory returns the configured total
func (s *Static) TotalMemory() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total, nil
}

// FreeMemory returns the configured free amount
func (s *Static) FreeMemory() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.free, nil
}

// SetFree updates the reported free memory
func (s *Static) SetFree(free uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.free = free
}

// SetUsedPercent adjusts free memory so that UsedPercent reports the
// given percentage
func (s *Static) SetUsedPercent(percent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.free = uint64(float64(s.total) * (100 - percent) / 100)
}
