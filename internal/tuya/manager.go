package tuya

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"tuya-go-home/internal/store"
)

// Transport delivers command batches to devices.
type Transport interface {
	SendCommands(ctx context.Context, deviceID string, cmds []Command) error
}

// Manager owns the set of known devices and their status snapshots. It is the
// device manager that entity platforms query and send commands through.
type Manager struct {
	store  store.Store
	events *EventBus
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	devices   map[string]*Device
	transport Transport
}

// NewManager creates a device manager persisting snapshots to st.
func NewManager(st store.Store, events *EventBus, logger *slog.Logger) *Manager {
	return &Manager{
		store:   st,
		events:  events,
		logger:  logger.With("component", "device_manager"),
		now:     time.Now,
		devices: make(map[string]*Device),
	}
}

// Events returns the manager's event bus.
func (m *Manager) Events() *EventBus {
	return m.events
}

// SetTransport attaches the command transport.
func (m *Manager) SetTransport(t Transport) {
	m.mu.Lock()
	m.transport = t
	m.mu.Unlock()
}

// Load populates the device map from the store without emitting discovery
// events; callers run their initial discovery over DeviceIDs afterwards.
func (m *Manager) Load() error {
	stored, err := m.store.ListDevices()
	if err != nil {
		return fmt.Errorf("list stored devices: %w", err)
	}
	m.mu.Lock()
	for _, sd := range stored {
		m.devices[sd.ID] = NewDevice(fromStore(sd))
	}
	m.mu.Unlock()
	m.logger.Info("devices loaded", "count", len(stored))
	return nil
}

// DeviceIDs returns the IDs of all known devices in sorted order.
func (m *Manager) DeviceIDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.devices))
	for id := range m.devices {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Device returns a known device.
func (m *Manager) Device(id string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	return d, ok
}

// Devices returns serializable snapshots of all known devices, sorted by ID.
func (m *Manager) Devices() []DeviceInfo {
	ids := m.DeviceIDs()
	infos := make([]DeviceInfo, 0, len(ids))
	for _, id := range ids {
		if d, ok := m.Device(id); ok {
			infos = append(infos, d.Info())
		}
	}
	return infos
}

// OnDiscovery registers fn to receive each batch of newly discovered device
// IDs. Returns an unsubscribe function.
func (m *Manager) OnDiscovery(fn func(ids []string)) func() {
	return m.events.On(EventDeviceDiscovered, func(e Event) {
		data, ok := e.Data.(map[string]any)
		if !ok {
			return
		}
		ids, _ := data["device_ids"].([]string)
		if len(ids) > 0 {
			fn(ids)
		}
	})
}

// AddDevices registers reported devices. Unknown IDs are created and
// announced in a single discovery event; known IDs get their status merged.
func (m *Manager) AddDevices(infos []DeviceInfo) error {
	var (
		added []string
		errs  []error
	)
	for _, info := range infos {
		if info.ID == "" {
			continue
		}
		m.mu.Lock()
		existing, ok := m.devices[info.ID]
		if !ok {
			if info.UpdatedAt.IsZero() {
				info.UpdatedAt = m.now()
			}
			m.devices[info.ID] = NewDevice(info)
		}
		m.mu.Unlock()

		if ok {
			existing.setOnline(info.Online)
			if err := m.applyStatus(existing, info.Status); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		sd := toStore(info)
		sd.DiscoveredAt = m.now()
		if err := m.store.SaveDevice(sd); err != nil {
			errs = append(errs, fmt.Errorf("save device %s: %w", info.ID, err))
		}
		m.logger.Info("device discovered", "id", info.ID, "name", info.Name, "category", info.Category)
		added = append(added, info.ID)
	}

	if len(added) > 0 {
		m.events.Emit(Event{
			Type: EventDeviceDiscovered,
			Data: map[string]any{"device_ids": added},
		})
	}
	return errors.Join(errs...)
}

// UpdateStatus merges a status report into a device snapshot and emits one
// status event per changed data point.
func (m *Manager) UpdateStatus(id string, status map[DPCode]any) error {
	d, ok := m.Device(id)
	if !ok {
		return fmt.Errorf("update status %s: %w", id, ErrDeviceNotFound)
	}
	return m.applyStatus(d, status)
}

func (m *Manager) applyStatus(d *Device, status map[DPCode]any) error {
	if len(status) == 0 {
		return nil
	}
	now := m.now()
	changed := d.merge(status, now)
	if len(changed) == 0 {
		return nil
	}
	slices.Sort(changed)

	err := m.store.UpdateDevice(d.ID(), func(sd *store.Device) error {
		if sd.Status == nil {
			sd.Status = make(map[string]any)
		}
		for _, code := range changed {
			sd.Status[string(code)] = status[code]
		}
		sd.Online = d.Online()
		sd.UpdatedAt = now
		return nil
	})
	if err != nil {
		err = fmt.Errorf("persist status %s: %w", d.ID(), err)
	}

	for _, code := range changed {
		m.events.Emit(Event{
			Type: EventStatusUpdate,
			Data: map[string]any{
				"device_id": d.ID(),
				"code":      string(code),
				"value":     status[code],
			},
		})
	}
	return err
}

// RemoveDevice forgets a device and emits EventDeviceRemoved.
func (m *Manager) RemoveDevice(id string) error {
	m.mu.Lock()
	d, ok := m.devices[id]
	delete(m.devices, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("remove device %s: %w", id, ErrDeviceNotFound)
	}

	if err := m.store.DeleteDevice(id); err != nil {
		m.logger.Error("delete device", "err", err, "id", id)
	}
	m.logger.Info("device removed", "id", id, "name", d.Name())
	m.events.Emit(Event{
		Type: EventDeviceRemoved,
		Data: map[string]any{"device_id": id},
	})
	return nil
}

// SendCommands dispatches a command batch to a device through the transport.
// Transport errors are returned as is.
func (m *Manager) SendCommands(ctx context.Context, deviceID string, cmds []Command) error {
	m.mu.RLock()
	t := m.transport
	_, known := m.devices[deviceID]
	m.mu.RUnlock()

	if !known {
		return fmt.Errorf("send commands %s: %w", deviceID, ErrDeviceNotFound)
	}
	if t == nil {
		return ErrNoTransport
	}

	m.logger.Debug("sending commands", "id", deviceID, "commands", cmds)
	if err := t.SendCommands(ctx, deviceID, cmds); err != nil {
		return err
	}

	m.events.Emit(Event{
		Type: EventCommandSent,
		Data: map[string]any{
			"device_id": deviceID,
			"commands":  cmds,
		},
	})
	return nil
}

func fromStore(sd *store.Device) DeviceInfo {
	info := DeviceInfo{
		ID:          sd.ID,
		Name:        sd.Name,
		Category:    sd.Category,
		ProductName: sd.ProductName,
		Online:      sd.Online,
		Status:      make(map[DPCode]any, len(sd.Status)),
		UpdatedAt:   sd.UpdatedAt,
	}
	for k, v := range sd.Status {
		info.Status[DPCode(k)] = v
	}
	return info
}

func toStore(info DeviceInfo) *store.Device {
	sd := &store.Device{
		ID:          info.ID,
		Name:        info.Name,
		Category:    info.Category,
		ProductName: info.ProductName,
		Online:      info.Online,
		Status:      make(map[string]any, len(info.Status)),
		UpdatedAt:   info.UpdatedAt,
	}
	for k, v := range info.Status {
		sd.Status[string(k)] = v
	}
	return sd
}
