// Package overlay tracks stacked dialogs so each one gets a z-index above the
// one beneath it and the page behind is released when the last one closes.
package overlay

import (
	"slices"
	"sync"
)

const (
	// BaseZIndex is the z-index of the first layer.
	BaseZIndex = 1000
	// Step separates adjacent layers.
	Step = 10
)

// Layer is one open overlay.
type Layer struct {
	ID     string `json:"id"`
	ZIndex int    `json:"zIndex"`
}

// Manager is an explicit stack of open overlays.
type Manager struct {
	mu      sync.Mutex
	layers  []Layer
	onEmpty func()
}

// NewManager creates a manager. onEmpty runs when the last layer is removed,
// e.g. to restore page scrolling.
func NewManager(onEmpty func()) *Manager {
	return &Manager{onEmpty: onEmpty}
}

// Push opens a layer on top of the stack. Pushing an id that is already open
// returns its existing layer.
func (m *Manager) Push(id string) Layer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.index(id); i >= 0 {
		return m.layers[i]
	}
	z := BaseZIndex
	if n := len(m.layers); n > 0 {
		z = m.layers[n-1].ZIndex + Step
	}
	l := Layer{ID: id, ZIndex: z}
	m.layers = append(m.layers, l)
	return l
}

// Remove closes a layer wherever it sits in the stack. Removing an unknown
// id is a no-op.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	i := m.index(id)
	if i < 0 {
		m.mu.Unlock()
		return
	}
	m.layers = slices.Delete(m.layers, i, i+1)
	empty := len(m.layers) == 0
	cb := m.onEmpty
	m.mu.Unlock()

	if empty && cb != nil {
		cb()
	}
}

// Depth returns the number of open layers.
func (m *Manager) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.layers)
}

// Top returns the topmost layer.
func (m *Manager) Top() (Layer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.layers) == 0 {
		return Layer{}, false
	}
	return m.layers[len(m.layers)-1], true
}

func (m *Manager) index(id string) int {
	return slices.IndexFunc(m.layers, func(l Layer) bool { return l.ID == id })
}
