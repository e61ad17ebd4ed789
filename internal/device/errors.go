package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device whose address is
	// already registered.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidAddress is returned when an address is not a host:port pair.
	ErrInvalidAddress = errors.New("device: invalid address")
)
