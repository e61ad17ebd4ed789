// Package mqtt provides MQTT client connectivity for TVBridge Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// TVBridge uses MQTT as its outward-facing state bus. Device state,
// connectivity, and command acknowledgements are published for home
// automation platforms to consume, and inbound commands arrive on the
// command topics.
//
//	TVBridge Core ↔ MQTT Broker ↔ Automation Platform
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all device commands
//	topics := mqtt.Topics{}
//	err = client.Subscribe(topics.AllDeviceCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        // dispatch to the owning session
//	        return nil
//	    })
//
// Subscriptions are tracked and restored automatically after a broker
// reconnect. Handlers run with panic recovery so a misbehaving handler
// cannot take down the client.
package mqtt
