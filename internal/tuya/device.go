package tuya

import (
	"maps"
	"reflect"
	"sync"
	"time"
)

// DeviceInfo is the serializable description of a device as reported by the
// gateway and persisted in the store.
type DeviceInfo struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	Category    string         `json:"category"`
	ProductName string         `json:"product_name,omitempty"`
	Online      bool           `json:"online"`
	Status      map[DPCode]any `json:"status,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Device is a Tuya device owned by the Manager. Identity fields are fixed at
// creation; the status snapshot changes as reports arrive.
type Device struct {
	id          string
	name        string
	category    string
	productName string

	mu        sync.RWMutex
	online    bool
	status    map[DPCode]any
	updatedAt time.Time
}

// NewDevice creates a device from its description.
func NewDevice(info DeviceInfo) *Device {
	d := &Device{
		id:          info.ID,
		name:        info.Name,
		category:    info.Category,
		productName: info.ProductName,
		online:      info.Online,
		status:      make(map[DPCode]any, len(info.Status)),
		updatedAt:   info.UpdatedAt,
	}
	maps.Copy(d.status, info.Status)
	return d
}

func (d *Device) ID() string          { return d.id }
func (d *Device) Name() string        { return d.name }
func (d *Device) Category() string    { return d.category }
func (d *Device) ProductName() string { return d.productName }

// UniqueID is the device identity used as a prefix for entity unique IDs.
func (d *Device) UniqueID() string {
	return "tuya." + d.id
}

// Online reports the last known connectivity state.
func (d *Device) Online() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.online
}

// Value returns the current value of a data point.
func (d *Device) Value(code DPCode) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.status[code]
	return v, ok
}

// Has reports whether the device exposes the data point.
func (d *Device) Has(code DPCode) bool {
	_, ok := d.Value(code)
	return ok
}

// Status returns a copy of the status snapshot.
func (d *Device) Status() map[DPCode]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return maps.Clone(d.status)
}

// Info returns a serializable copy of the device.
func (d *Device) Info() DeviceInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return DeviceInfo{
		ID:          d.id,
		Name:        d.name,
		Category:    d.category,
		ProductName: d.productName,
		Online:      d.online,
		Status:      maps.Clone(d.status),
		UpdatedAt:   d.updatedAt,
	}
}

// merge applies reported values and returns the codes whose value changed.
func (d *Device) merge(status map[DPCode]any, now time.Time) []DPCode {
	d.mu.Lock()
	defer d.mu.Unlock()
	var changed []DPCode
	for code, v := range status {
		if old, ok := d.status[code]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		d.status[code] = v
		changed = append(changed, code)
	}
	d.updatedAt = now
	return changed
}

func (d *Device) setOnline(online bool) {
	d.mu.Lock()
	d.online = online
	d.mu.Unlock()
}
