package main

import (
	"log/slog"

	"tuya-go-home/internal/host"
	"tuya-go-home/internal/siren"
	"tuya-go-home/internal/tuya"
)

// setupSirens loads the siren platform under a config entry. Entities of a
// removed device leave the registry with it. Unloading the returned entry
// stops both discovery and removal tracking.
func setupSirens(devices *tuya.Manager, registry *host.Registry, entryID string, logger *slog.Logger) *host.ConfigEntry {
	entry := host.NewConfigEntry(entryID)
	entry.OnUnload(devices.Events().On(tuya.EventDeviceRemoved, func(e tuya.Event) {
		data, _ := e.Data.(map[string]any)
		if id, ok := data["device_id"].(string); ok {
			registry.RemoveDevice(id)
		}
	}))
	siren.SetupEntry(entry, devices, registry.AddEntities, logger)
	return entry
}
