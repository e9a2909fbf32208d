// Package fragment carries the address fragment between the planner and its
// presentation: an in-memory location for the CLI and tests, and a websocket
// bridge for browser clients.
package fragment

import (
	"strings"
	"sync"
)

// MemoryLocation holds a fragment in memory
type MemoryLocation struct {
	mu        sync.Mutex
	fragment  string
	onReplace func(fragment string)
	replaced  int
}

// NewMemoryLocation creates a location holding initial
func NewMemoryLocation(initial string) *MemoryLocation {
	return &MemoryLocation{fragment: normalize(initial)}
}

// OnReplace registers fn to be told about every replace, as a browser would
// fire hashchange
func (m *MemoryLocation) OnReplace(fn func(fragment string)) {
	m.mu.Lock()
	m.onReplace = fn
	m.mu.Unlock()
}

// Fragment returns the current fragment with its leading '#'
func (m *MemoryLocation) Fragment() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fragment
}

// Replace sets the fragment without adding a history entry
func (m *MemoryLocation) Replace(fragment string) {
	fragment = normalize(fragment)
	m.mu.Lock()
	m.fragment = fragment
	m.replaced++
	fn := m.onReplace
	m.mu.Unlock()

	if fn != nil {
		fn(fragment)
	}
}

// Replaced returns how many times Replace was called
func (m *MemoryLocation) Replaced() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replaced
}

func normalize(fragment string) string {
	if fragment == "" || strings.HasPrefix(fragment, "#") {
		return fragment
	}
	return "#" + fragment
}
