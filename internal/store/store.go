package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	SaveDevice(dev *Device) error
	GetDevice(id string) (*Device, error)
	DeleteDevice(id string) error
	ListDevices() ([]*Device, error)

	// UpdateDevice atomically reads, modifies, and saves a device in a single
	// transaction. Returns ErrNotFound if the device does not exist.
	UpdateDevice(id string, fn func(dev *Device) error) error

	Close() error
}
