package androidtv

import (
	"encoding/json"
	"fmt"
	"time"
)

// MQTT message types exchanged between TVBridge Core and its consumers.

// CommandMessage is received on tvbridge/command/{device_id} to execute
// a device command.
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with
	// acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Command is the command name ("send_key", "launch_app").
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"keycode": 26} for send_key
	//   {"package": "com.netflix.ninja"} for launch_app
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was executed on the device.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the device did not respond within the
	// command timeout.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is published on tvbridge/ack/{device_id} to acknowledge a
// command.
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the registry device identifier.
	DeviceID string `json:"device_id"`

	// Status indicates the acknowledgment status.
	Status AckStatus `json:"status"`

	// Error contains details if status is "failed" or "timeout".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "DEVICE_UNREACHABLE").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeDeviceDisabled    = "DEVICE_DISABLED"
	ErrCodeUnknownDevice     = "UNKNOWN_DEVICE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is published on tvbridge/state/{device_id} when observed
// device state changes. QoS 1, retained.
type StateMessage struct {
	// DeviceID is the registry device identifier.
	DeviceID string `json:"device_id"`

	// Timestamp is when the state was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// State holds the changed fields and their new values, e.g.
	// {"power": "on", "foreground_app": "com.netflix.ninja"}.
	State map[string]string `json:"state"`
}

// AvailabilityMessage is published on tvbridge/available/{device_id}
// when a device's connectivity changes. QoS 1, retained.
type AvailabilityMessage struct {
	// DeviceID is the registry device identifier.
	DeviceID string `json:"device_id"`

	// Timestamp is when the transition happened (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Connected reports whether the device is currently reachable.
	Connected bool `json:"connected"`

	// State is the underlying connection state ("connected",
	// "backoff", ...), for diagnostics.
	State string `json:"state"`
}

// ParseCommandMessage decodes and validates an incoming command
// payload.
func ParseCommandMessage(payload []byte) (*CommandMessage, error) {
	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("androidtv: invalid command payload: %w", err)
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("androidtv: command message missing id")
	}
	if msg.Command == "" {
		return nil, fmt.Errorf("androidtv: command message missing command")
	}
	return &msg, nil
}
