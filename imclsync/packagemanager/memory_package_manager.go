package packagemanager

import (
	"context"
	"sync"
)

// MemoryInventory is an in-memory Inventory. Set Err to simulate an
// unavailable package manager.
type MemoryInventory struct {
	mu       sync.Mutex
	packages []string
	Match    MatchMode
	Err      error
}

func NewMemoryInventory(packages ...string) *MemoryInventory {
	return &MemoryInventory{packages: append([]string(nil), packages...)}
}

func (m *MemoryInventory) Query(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	return append([]string(nil), m.packages...), nil
}

func (m *MemoryInventory) IsInstalled(ctx context.Context, name string) (bool, error) {
	packages, err := m.Query(ctx)
	if err != nil {
		return false, err
	}
	return Contains(packages, name, m.Match), nil
}

// Add records name as installed. Adding an exact duplicate is a no-op.
func (m *MemoryInventory) Add(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.packages {
		if p == name {
			return
		}
	}
	m.packages = append(m.packages, name)
}

// Remove drops every entry equal to name and reports whether one existed.
func (m *MemoryInventory) Remove(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.packages[:0]
	removed := false
	for _, p := range m.packages {
		if p == name {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	m.packages = kept
	return removed
}
