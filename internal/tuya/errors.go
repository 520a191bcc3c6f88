package tuya

import "errors"

var (
	// ErrDeviceNotFound is returned for operations on an unknown device ID.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrNoTransport is returned by SendCommands before a transport is attached.
	ErrNoTransport = errors.New("no command transport configured")
)
