package androidtv

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tvbridge/core/internal/device"
	"github.com/tvbridge/core/internal/infrastructure/config"
	"github.com/tvbridge/core/internal/infrastructure/mqtt"
)

// recordingPublisher captures everything the bridge publishes.
type recordingPublisher struct {
	mu            sync.Mutex
	published     []publishedMessage
	subscriptions map[string]mqtt.MessageHandler
}

type publishedMessage struct {
	topic    string
	payload  []byte
	retained bool
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{subscriptions: make(map[string]mqtt.MessageHandler)}
}

func (p *recordingPublisher) Publish(topic string, payload []byte, _ byte, retained bool) error {
	p.mu.Lock()
	p.published = append(p.published, publishedMessage{topic: topic, payload: payload, retained: retained})
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	p.mu.Lock()
	p.subscriptions[topic] = handler
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) Unsubscribe(topic string) error {
	p.mu.Lock()
	delete(p.subscriptions, topic)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) onTopic(topic string) []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedMessage
	for _, m := range p.published {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func newTestBridge(t *testing.T, client ProtocolClient, pub *recordingPublisher, devices []config.DeviceConfig) *Bridge {
	t.Helper()
	b, err := New(Options{
		Devices: devices,
		Poller: config.PollerConfig{
			DefaultInterval:  time.Hour,
			CommandTimeout:   time.Second,
			FailureThreshold: 3,
		},
		Backoff: config.BackoffConfig{
			BaseDelay: 10 * time.Millisecond,
			MaxDelay:  100 * time.Millisecond,
		},
		Repository: newMemRepo(),
		Client:     client,
		Publisher:  pub,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

func TestBridgeOptionsValidate(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() with empty options succeeded")
	}
}

func TestBridgeConnectTimeoutReachesSessions(t *testing.T) {
	b, err := New(Options{
		ConnectTimeout: 42 * time.Second,
		Repository:     newMemRepo(),
		Client:         newMockClient(),
		Publisher:      newRecordingPublisher(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	dev, err := b.Registry().UpsertConfigured(context.Background(), "10.0.0.5:5555", "", true, 0)
	if err != nil {
		t.Fatalf("UpsertConfigured() error = %v", err)
	}
	s, err := b.Registry().Session(dev.ID)
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if s.connectTimeout != 42*time.Second {
		t.Errorf("session connect timeout = %v, want 42s", s.connectTimeout)
	}
}

func TestBridgeSubscribesForCommands(t *testing.T) {
	pub := newRecordingPublisher()
	newTestBridge(t, newMockClient(), pub, nil)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if _, ok := pub.subscriptions["tvbridge/command/+"]; !ok {
		t.Errorf("subscriptions = %v, want tvbridge/command/+", pub.subscriptions)
	}
}

func TestBridgeCommandSendKey(t *testing.T) {
	client := newMockClient()
	pub := newRecordingPublisher()
	b := newTestBridge(t, client, pub, []config.DeviceConfig{
		{Address: "10.0.0.5:5555", Name: "TV", Enabled: true},
	})

	id := device.DeriveID("10.0.0.5:5555")
	sess, err := b.Registry().Session(id)
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	payload, _ := json.Marshal(CommandMessage{
		ID:        "cmd-1",
		Timestamp: time.Now().UTC(),
		Command:   "send_key",
		Parameters: map[string]any{
			"keycode": 26,
		},
	})
	if err := b.handleCommand("tvbridge/command/"+id, payload); err != nil {
		t.Fatalf("handleCommand() error = %v", err)
	}

	found := false
	for _, cmd := range client.commandLog() {
		if cmd == "input keyevent 26" {
			found = true
		}
	}
	if !found {
		t.Errorf("commands = %v, want input keyevent 26", client.commandLog())
	}

	acks := pub.onTopic("tvbridge/ack/" + id)
	if len(acks) != 1 {
		t.Fatalf("acks = %d, want 1", len(acks))
	}
	var ack AckMessage
	if err := json.Unmarshal(acks[0].payload, &ack); err != nil {
		t.Fatalf("invalid ack payload: %v", err)
	}
	if ack.Status != AckAccepted {
		t.Errorf("ack status = %q, want accepted", ack.Status)
	}
	if ack.CommandID != "cmd-1" {
		t.Errorf("ack command_id = %q", ack.CommandID)
	}
}

func TestBridgeCommandLaunchApp(t *testing.T) {
	client := newMockClient()
	pub := newRecordingPublisher()
	b := newTestBridge(t, client, pub, []config.DeviceConfig{
		{Address: "10.0.0.5:5555", Enabled: true},
	})

	id := device.DeriveID("10.0.0.5:5555")
	sess, _ := b.Registry().Session(id)
	sess.Connect(context.Background())

	payload, _ := json.Marshal(CommandMessage{
		ID:      "cmd-2",
		Command: "launch_app",
		Parameters: map[string]any{
			"package": "com.netflix.ninja",
		},
	})
	b.handleCommand("tvbridge/command/"+id, payload)

	want := "monkey -p com.netflix.ninja -c android.intent.category.LAUNCHER 1"
	found := false
	for _, cmd := range client.commandLog() {
		if cmd == want {
			found = true
		}
	}
	if !found {
		t.Errorf("commands = %v, want %q", client.commandLog(), want)
	}
}

func TestBridgeCommandFailures(t *testing.T) {
	client := newMockClient()
	pub := newRecordingPublisher()
	b := newTestBridge(t, client, pub, []config.DeviceConfig{
		{Address: "10.0.0.5:5555", Enabled: true},
	})
	id := device.DeriveID("10.0.0.5:5555")

	tests := []struct {
		name     string
		deviceID string
		msg      CommandMessage
		wantCode string
	}{
		{
			name:     "unknown device",
			deviceID: "no-such-device",
			msg:      CommandMessage{ID: "c1", Command: "send_key", Parameters: map[string]any{"keycode": 26.0}},
			wantCode: ErrCodeUnknownDevice,
		},
		{
			name:     "unknown command",
			deviceID: id,
			msg:      CommandMessage{ID: "c2", Command: "reboot"},
			wantCode: ErrCodeInvalidCommand,
		},
		{
			name:     "missing keycode",
			deviceID: id,
			msg:      CommandMessage{ID: "c3", Command: "send_key"},
			wantCode: ErrCodeInvalidParameters,
		},
		{
			name:     "not connected",
			deviceID: id,
			msg:      CommandMessage{ID: "c4", Command: "send_key", Parameters: map[string]any{"keycode": 26.0}},
			wantCode: ErrCodeDeviceUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, _ := json.Marshal(tt.msg)
			if err := b.handleCommand("tvbridge/command/"+tt.deviceID, payload); err != nil {
				t.Fatalf("handleCommand() error = %v", err)
			}

			acks := pub.onTopic("tvbridge/ack/" + tt.deviceID)
			if len(acks) == 0 {
				t.Fatal("no ack published")
			}
			var ack AckMessage
			json.Unmarshal(acks[len(acks)-1].payload, &ack)
			if ack.Status != AckFailed {
				t.Errorf("status = %q, want failed", ack.Status)
			}
			if ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("error = %+v, want code %q", ack.Error, tt.wantCode)
			}
		})
	}
}

func TestBridgeMalformedCommandPayload(t *testing.T) {
	pub := newRecordingPublisher()
	b := newTestBridge(t, newMockClient(), pub, nil)

	if err := b.handleCommand("tvbridge/command/dev-1", []byte("{not json")); err == nil {
		t.Error("handleCommand() with bad payload succeeded")
	}
}

func TestBridgePublishesStateChanges(t *testing.T) {
	pub := newRecordingPublisher()
	b := newTestBridge(t, newMockClient(), pub, nil)

	b.handleStateChange("dev-1", map[string]string{
		FieldPower:         "true",
		FieldForegroundApp: "com.netflix.ninja",
	})

	msgs := pub.onTopic("tvbridge/state/dev-1")
	if len(msgs) != 1 {
		t.Fatalf("state messages = %d, want 1", len(msgs))
	}
	if !msgs[0].retained {
		t.Error("state message not retained")
	}
	var msg StateMessage
	if err := json.Unmarshal(msgs[0].payload, &msg); err != nil {
		t.Fatalf("invalid state payload: %v", err)
	}
	if msg.State[FieldPower] != "true" {
		t.Errorf("state = %v", msg.State)
	}
}

func TestBridgeAvailabilityDeduplicated(t *testing.T) {
	pub := newRecordingPublisher()
	b := newTestBridge(t, newMockClient(), pub, nil)

	// Connecting and Backoff both map to "not connected": one message
	b.handleSessionState("dev-1", StateConnecting)
	b.handleSessionState("dev-1", StateBackoff)
	b.handleSessionState("dev-1", StateConnecting)

	msgs := pub.onTopic("tvbridge/available/dev-1")
	if len(msgs) != 1 {
		t.Fatalf("availability messages = %d, want 1", len(msgs))
	}
	var msg AvailabilityMessage
	json.Unmarshal(msgs[0].payload, &msg)
	if msg.Connected {
		t.Error("connected = true, want false")
	}

	b.handleSessionState("dev-1", StateConnected)
	msgs = pub.onTopic("tvbridge/available/dev-1")
	if len(msgs) != 2 {
		t.Fatalf("availability messages = %d, want 2", len(msgs))
	}

	// Removal announces offline exactly once
	b.handleSessionState("dev-1", StateClosed)
	b.handleSessionState("dev-1", StateClosed)
	msgs = pub.onTopic("tvbridge/available/dev-1")
	if len(msgs) != 3 {
		t.Fatalf("availability messages after close = %d, want 3", len(msgs))
	}
}

func TestBridgeCommandTimeoutAck(t *testing.T) {
	client := newMockClient()
	pub := newRecordingPublisher()
	b := newTestBridge(t, client, pub, []config.DeviceConfig{
		{Address: "10.0.0.5:5555", Enabled: true},
	})
	id := device.DeriveID("10.0.0.5:5555")
	sess, _ := b.Registry().Session(id)
	sess.Connect(context.Background())

	client.setShellErr(errors.Join(ErrCommandTimeout, errors.New("deadline exceeded")))

	payload, _ := json.Marshal(CommandMessage{
		ID:         "cmd-t",
		Command:    "send_key",
		Parameters: map[string]any{"keycode": 26.0},
	})
	b.handleCommand("tvbridge/command/"+id, payload)

	acks := pub.onTopic("tvbridge/ack/" + id)
	if len(acks) != 1 {
		t.Fatalf("acks = %d", len(acks))
	}
	var ack AckMessage
	json.Unmarshal(acks[0].payload, &ack)
	if ack.Status != AckTimeout {
		t.Errorf("status = %q, want timeout", ack.Status)
	}
	if ack.Error == nil || ack.Error.Code != ErrCodeTimeout {
		t.Errorf("error = %+v, want code %q", ack.Error, ErrCodeTimeout)
	}
}
