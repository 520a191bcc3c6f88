package siren

import (
	"context"
	"log/slog"

	"tuya-go-home/internal/host"
	"tuya-go-home/internal/tuya"
)

// DeviceManager is what the siren platform needs from the device manager.
type DeviceManager interface {
	DeviceIDs() []string
	Device(id string) (*tuya.Device, bool)
	SendCommands(ctx context.Context, deviceID string, cmds []tuya.Command) error
	OnDiscovery(fn func(ids []string)) (unsubscribe func())
}

// SetupEntry creates sirens for all known devices and keeps creating them as
// devices are discovered, until entry is unloaded.
func SetupEntry(entry *host.ConfigEntry, mgr DeviceManager, add host.AddEntitiesFunc, logger *slog.Logger) {
	logger = logger.With("component", "siren", "entry", entry.ID)

	discover := func(ids []string) {
		entities := Discover(mgr, ids, logger)
		logger.Debug("siren discovery", "devices", len(ids), "entities", len(entities))
		add(entities)
	}

	discover(mgr.DeviceIDs())
	entry.OnUnload(mgr.OnDiscovery(discover))
}

// Discover builds one siren per description whose data point the device
// currently reports.
func Discover(mgr DeviceManager, ids []string, logger *slog.Logger) []host.Controllable {
	var entities []host.Controllable
	for _, id := range ids {
		device, ok := mgr.Device(id)
		if !ok {
			logger.Warn("discovered device not in device map", "device_id", id)
			continue
		}
		for _, desc := range Descriptions(device.Category()) {
			if device.Has(desc.Key) {
				entities = append(entities, NewEntity(device, mgr, desc, logger))
			}
		}
	}
	return entities
}
