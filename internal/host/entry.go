package host

import "sync"

// ConfigEntry is one configured integration instance. Platforms attach
// cleanup callbacks that run when the entry is unloaded.
type ConfigEntry struct {
	ID string

	mu       sync.Mutex
	unloads  []func()
	unloaded bool
}

// NewConfigEntry creates a loaded entry.
func NewConfigEntry(id string) *ConfigEntry {
	return &ConfigEntry{ID: id}
}

// OnUnload registers fn to run on Unload. If the entry is already unloaded
// fn runs immediately.
func (e *ConfigEntry) OnUnload(fn func()) {
	e.mu.Lock()
	if e.unloaded {
		e.mu.Unlock()
		fn()
		return
	}
	e.unloads = append(e.unloads, fn)
	e.mu.Unlock()
}

// Unload runs the registered callbacks in reverse order. Only the first call
// has an effect.
func (e *ConfigEntry) Unload() {
	e.mu.Lock()
	if e.unloaded {
		e.mu.Unlock()
		return
	}
	e.unloaded = true
	fns := e.unloads
	e.unloads = nil
	e.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// Loaded reports whether Unload has not been called yet.
func (e *ConfigEntry) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.unloaded
}
