package netdev

import "sync"

// Registry maps interface indices to devices. It is the lookup seam
// the flush path goes through when no worker owns a ring; a handle is
// passed to whoever needs it rather than kept as package state.
type Registry struct {
	mu      sync.RWMutex
	byIndex map[int]*Device
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byIndex: make(map[int]*Device)}
}

// Register adds or replaces the device for its interface index.
func (r *Registry) Register(d *Device) {
	r.mu.Lock()
	r.byIndex[d.IfIndex()] = d
	r.mu.Unlock()
}

// Unregister removes the device with the given interface index.
func (r *Registry) Unregister(ifIndex int) {
	r.mu.Lock()
	delete(r.byIndex, ifIndex)
	r.mu.Unlock()
}

// ByIndex returns the device registered for ifIndex, nil when absent.
func (r *Registry) ByIndex(ifIndex int) *Device {
	r.mu.RLock()
	d := r.byIndex[ifIndex]
	r.mu.RUnlock()
	return d
}
