package androidtv

import "errors"

// Domain errors for the Android TV bridge package.
var (
	// ErrNotConnected is returned by ExecuteShell when the session is not
	// in the Connected state.
	ErrNotConnected = errors.New("androidtv: session not connected")

	// ErrSessionClosed is returned for any operation on a closed session.
	// Closed is terminal; the session must be recreated.
	ErrSessionClosed = errors.New("androidtv: session closed")

	// ErrCommandTimeout is returned when a shell command exceeds its
	// execution budget. A timeout is a command failure, not by itself a
	// connection failure.
	ErrCommandTimeout = errors.New("androidtv: command timed out")

	// ErrDeviceNotFound is returned for commands addressed to a device
	// the registry does not know.
	ErrDeviceNotFound = errors.New("androidtv: device not found")

	// ErrDeviceDisabled is returned for commands addressed to a device
	// that is registered but disabled.
	ErrDeviceDisabled = errors.New("androidtv: device disabled")
)
