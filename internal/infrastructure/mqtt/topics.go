package mqtt

import "fmt"

// Topic prefixes for the TVBridge MQTT hierarchy.
//
// All topics use the flat scheme: tvbridge/{category}/{device_id}
const (
	// TopicPrefix is the base for all TVBridge topics.
	TopicPrefix = "tvbridge"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "tvbridge/system"

	// TopicSystemStatus is the online/offline status topic (also the LWT topic).
	TopicSystemStatus = "tvbridge/system/status"
)

// Topics provides builders for TVBridge MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("livingroom-tv")
//	// Returns: "tvbridge/state/livingroom-tv"
type Topics struct{}

// DeviceState returns the topic for device state updates.
//
// Example: tvbridge/state/livingroom-tv
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// DeviceCommand returns the topic for commands to a device.
//
// Example: tvbridge/command/livingroom-tv
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// DeviceAck returns the topic for command acknowledgements.
//
// Example: tvbridge/ack/livingroom-tv
func (Topics) DeviceAck(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, deviceID)
}

// DeviceAvailability returns the topic for device connectivity status.
//
// Example: tvbridge/available/livingroom-tv
func (Topics) DeviceAvailability(deviceID string) string {
	return fmt.Sprintf("%s/available/%s", TopicPrefix, deviceID)
}

// Discovery returns the topic for announced (unregistered) devices.
//
// Example: tvbridge/discovery
func (Topics) Discovery() string {
	return fmt.Sprintf("%s/discovery", TopicPrefix)
}

// AllDeviceCommands returns a pattern matching commands to any device.
//
// Pattern: tvbridge/command/+
func (Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}

// AllDeviceStates returns a pattern matching all device state updates.
//
// Pattern: tvbridge/state/+
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefix)
}

// AllTopics returns a pattern matching all TVBridge topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: tvbridge/#
func (Topics) AllTopics() string {
	return "tvbridge/#"
}
