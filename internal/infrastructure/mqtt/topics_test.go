package mqtt

import (
	"strings"
	"testing"

	"github.com/tvbridge/core/internal/infrastructure/config"
)

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"device state", topics.DeviceState("livingroom-tv"), "tvbridge/state/livingroom-tv"},
		{"device command", topics.DeviceCommand("livingroom-tv"), "tvbridge/command/livingroom-tv"},
		{"device ack", topics.DeviceAck("livingroom-tv"), "tvbridge/ack/livingroom-tv"},
		{"device availability", topics.DeviceAvailability("livingroom-tv"), "tvbridge/available/livingroom-tv"},
		{"discovery", topics.Discovery(), "tvbridge/discovery"},
		{"all commands", topics.AllDeviceCommands(), "tvbridge/command/+"},
		{"all states", topics.AllDeviceStates(), "tvbridge/state/+"},
		{"everything", topics.AllTopics(), "tvbridge/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTopicSystemStatusUnderPrefix(t *testing.T) {
	if !strings.HasPrefix(TopicSystemStatus, TopicPrefixSystem) {
		t.Errorf("status topic %q not under system prefix %q", TopicSystemStatus, TopicPrefixSystem)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "broker.local",
			Port:     8883,
			TLS:      true,
			ClientID: "tvbridge-test",
		},
		Auth: config.MQTTAuthConfig{
			Username: "bridge",
			Password: "secret",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     60,
		},
	}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("expected 1 broker, got %d", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "ssl://broker.local:8883" {
		t.Errorf("broker URL = %q, want ssl://broker.local:8883", got)
	}
	if opts.ClientID != "tvbridge-test" {
		t.Errorf("client ID = %q", opts.ClientID)
	}
	if opts.Username != "bridge" {
		t.Errorf("username = %q", opts.Username)
	}
	if !opts.AutoReconnect {
		t.Error("auto-reconnect should be enabled")
	}
	if opts.TLSConfig == nil {
		t.Error("TLS config should be set when broker.tls is true")
	}
}

func TestBuildClientOptionsPlainTCP(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "localhost",
			Port:     1883,
			ClientID: "tvbridge-core",
		},
	}

	opts := buildClientOptions(cfg)

	if got := opts.Servers[0].String(); got != "tcp://localhost:1883" {
		t.Errorf("broker URL = %q, want tcp://localhost:1883", got)
	}
	if opts.Username != "" {
		t.Errorf("username should be empty, got %q", opts.Username)
	}
}

func TestStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("tvbridge-core")
	if !strings.Contains(online, `"status":"online"`) {
		t.Errorf("online payload missing status: %s", online)
	}
	if !strings.Contains(online, `"client_id":"tvbridge-core"`) {
		t.Errorf("online payload missing client_id: %s", online)
	}

	offline := buildOfflinePayload("tvbridge-core")
	if !strings.Contains(offline, `"status":"offline"`) {
		t.Errorf("offline payload missing status: %s", offline)
	}
	if !strings.Contains(offline, `"reason":"graceful_shutdown"`) {
		t.Errorf("offline payload missing reason: %s", offline)
	}
}
