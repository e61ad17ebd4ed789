package adb

import "errors"

// Domain-specific errors for adb operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrServerUnavailable is returned when the adb server cannot be reached.
	ErrServerUnavailable = errors.New("adb: server unavailable")

	// ErrCommandRejected is returned when the server answers FAIL to a request.
	ErrCommandRejected = errors.New("adb: command rejected")

	// ErrDeviceOffline is returned when a transport cannot be opened because
	// the device is not connected or not responding.
	ErrDeviceOffline = errors.New("adb: device offline")

	// ErrConnectFailed is returned when host:connect does not establish a
	// connection to the device.
	ErrConnectFailed = errors.New("adb: connect failed")
)
