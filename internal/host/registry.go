package host

import (
	"log/slog"
	"sync"
)

// Registry holds every entity registered by platforms, keyed by unique ID.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]Controllable
	order    []string
	logger   *slog.Logger

	lmu       sync.RWMutex
	onAdded   map[uint64]func([]Controllable)
	onRemoved map[uint64]func([]Controllable)
	nextID    uint64
}

// NewRegistry creates an empty entity registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		entities:  make(map[string]Controllable),
		logger:    logger.With("component", "entity_registry"),
		onAdded:   make(map[uint64]func([]Controllable)),
		onRemoved: make(map[uint64]func([]Controllable)),
	}
}

// AddEntities registers a batch. Entities whose unique ID is already
// registered are skipped. Listeners receive only the newly added entities.
func (r *Registry) AddEntities(entities []Controllable) {
	r.mu.Lock()
	added := make([]Controllable, 0, len(entities))
	for _, e := range entities {
		uid := e.UniqueID()
		if _, dup := r.entities[uid]; dup {
			r.logger.Debug("entity already registered", "unique_id", uid)
			continue
		}
		r.entities[uid] = e
		r.order = append(r.order, uid)
		added = append(added, e)
	}
	r.mu.Unlock()

	if len(added) == 0 {
		return
	}
	r.logger.Info("entities added", "count", len(added))
	r.notify(r.onAdded, added)
}

// Get returns an entity by unique ID.
func (r *Registry) Get(uniqueID string) (Controllable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[uniqueID]
	return e, ok
}

// List returns all entities in registration order.
func (r *Registry) List() []Controllable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Controllable, 0, len(r.order))
	for _, uid := range r.order {
		list = append(list, r.entities[uid])
	}
	return list
}

// ForDevice returns the entities backed by one device.
func (r *Registry) ForDevice(deviceID string) []Controllable {
	var out []Controllable
	for _, e := range r.List() {
		if e.DeviceID() == deviceID {
			out = append(out, e)
		}
	}
	return out
}

// RemoveDevice drops all entities of a device and returns them.
func (r *Registry) RemoveDevice(deviceID string) []Controllable {
	r.mu.Lock()
	var removed []Controllable
	kept := r.order[:0]
	for _, uid := range r.order {
		e := r.entities[uid]
		if e.DeviceID() == deviceID {
			removed = append(removed, e)
			delete(r.entities, uid)
			continue
		}
		kept = append(kept, uid)
	}
	r.order = kept
	r.mu.Unlock()

	if len(removed) > 0 {
		r.logger.Info("entities removed", "device_id", deviceID, "count", len(removed))
		r.notify(r.onRemoved, removed)
	}
	return removed
}

// OnAdded registers a listener for added batches. Returns an unsubscribe function.
func (r *Registry) OnAdded(fn func([]Controllable)) func() {
	return r.listen(r.onAdded, fn)
}

// OnRemoved registers a listener for removed entities. Returns an unsubscribe function.
func (r *Registry) OnRemoved(fn func([]Controllable)) func() {
	return r.listen(r.onRemoved, fn)
}

func (r *Registry) listen(set map[uint64]func([]Controllable), fn func([]Controllable)) func() {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	id := r.nextID
	r.nextID++
	set[id] = fn
	return func() {
		r.lmu.Lock()
		defer r.lmu.Unlock()
		delete(set, id)
	}
}

func (r *Registry) notify(set map[uint64]func([]Controllable), entities []Controllable) {
	r.lmu.RLock()
	fns := make([]func([]Controllable), 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	r.lmu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error("entity listener panic", "panic", p)
				}
			}()
			fn(entities)
		}()
	}
}
