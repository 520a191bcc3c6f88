package store

import "time"

// Device is the persisted snapshot of a Tuya device.
type Device struct {
	ID           string         `json:"id"`
	Name         string         `json:"name,omitempty"`
	Category     string         `json:"category"`
	ProductName  string         `json:"product_name,omitempty"`
	Online       bool           `json:"online"`
	Status       map[string]any `json:"status,omitempty"`
	DiscoveredAt time.Time      `json:"discovered_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
