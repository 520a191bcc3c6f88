package siren

import "tuya-go-home/internal/store"

// nopStore discards everything.
type nopStore struct{}

func (nopStore) SaveDevice(*store.Device) error                       { return nil }
func (nopStore) GetDevice(string) (*store.Device, error)              { return nil, store.ErrNotFound }
func (nopStore) DeleteDevice(string) error                            { return nil }
func (nopStore) ListDevices() ([]*store.Device, error)                { return nil, nil }
func (nopStore) UpdateDevice(string, func(*store.Device) error) error { return nil }
func (nopStore) Close() error                                         { return nil }
