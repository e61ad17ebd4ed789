package androidtv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tvbridge/core/internal/device"
	"github.com/tvbridge/core/internal/discovery"
	"github.com/tvbridge/core/internal/infrastructure/config"
	"github.com/tvbridge/core/internal/infrastructure/mqtt"
)

// persistTimeout bounds each state write to the repository.
const persistTimeout = 3 * time.Second

// Publisher is the messaging surface the bridge needs. Satisfied by
// *mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Options holds dependencies and configuration for creating a bridge.
type Options struct {
	// Devices are the statically configured devices, applied on start.
	Devices []config.DeviceConfig

	// Poller carries poll interval and command timeout settings.
	Poller config.PollerConfig

	// Backoff carries reconnect delay settings.
	Backoff config.BackoffConfig

	// ConnectTimeout bounds each device connection attempt. Zero uses
	// the session default.
	ConnectTimeout time.Duration

	// AutoRegister enables polling of unconfigured discovered devices.
	AutoRegister bool

	// Repository persists devices and reported state. Required.
	Repository device.Repository

	// Client is the protocol client shared by all sessions. Required.
	Client ProtocolClient

	// Server manages the shared protocol server process. Optional.
	Server ServerHandle

	// Publisher carries state, availability and acks out and commands
	// in. Required.
	Publisher Publisher

	// Announcements is the discovery stream. Optional; nil disables
	// discovery handling.
	Announcements <-chan discovery.Announcement

	// Logger is an optional structured logger.
	Logger Logger
}

// Validate checks that required dependencies are present.
func (o Options) Validate() error {
	if o.Repository == nil {
		return fmt.Errorf("androidtv: options missing repository")
	}
	if o.Client == nil {
		return fmt.Errorf("androidtv: options missing protocol client")
	}
	if o.Publisher == nil {
		return fmt.Errorf("androidtv: options missing publisher")
	}
	return nil
}

// Bridge ties the device registry to the outside world: it seeds the
// registry from configuration, feeds it discovery announcements,
// executes commands arriving over MQTT, and publishes state changes and
// connectivity transitions.
//
// Nothing the bridge observes is fatal. Unreachable devices, rejected
// commands and malformed payloads degrade to per-device offline state
// and failed acks; the bridge itself keeps running.
type Bridge struct {
	opts     Options
	registry *Registry
	topics   mqtt.Topics
	logger   Logger

	ctx    context.Context
	cancel context.CancelFunc

	// availability tracks the last published connectivity per device so
	// each transition is announced exactly once.
	availMu      sync.Mutex
	availability map[string]bool

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New creates a bridge from options. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	b := &Bridge{
		opts:         opts,
		logger:       opts.Logger,
		availability: make(map[string]bool),
	}

	b.registry = NewRegistry(RegistryConfig{
		Repository:          opts.Repository,
		Client:              opts.Client,
		Server:              opts.Server,
		Policy:              NewReconnectPolicy(opts.Backoff.BaseDelay, opts.Backoff.MaxDelay),
		CommandTimeout:      opts.Poller.CommandTimeout,
		ConnectTimeout:      opts.ConnectTimeout,
		FailureThreshold:    opts.Poller.FailureThreshold,
		DefaultPollInterval: opts.Poller.DefaultInterval,
		AutoRegister:        opts.AutoRegister,
		OnChange:            b.handleStateChange,
		OnSessionState:      b.handleSessionState,
		Logger:              opts.Logger,
	})

	return b, nil
}

// Registry exposes the device registry for the API layer.
func (b *Bridge) Registry() *Registry {
	return b.registry
}

// Start loads persisted devices, applies the configured device list,
// subscribes for commands and begins consuming discovery announcements.
func (b *Bridge) Start(ctx context.Context) error {
	var startErr error
	b.startOnce.Do(func() {
		b.ctx, b.cancel = context.WithCancel(ctx)

		if err := b.registry.Start(b.ctx); err != nil {
			startErr = err
			return
		}

		// Configuration wins: applied after the persisted load so
		// config entries overwrite stale discovery records.
		for _, dc := range b.opts.Devices {
			if _, err := b.registry.UpsertConfigured(b.ctx, dc.Address, dc.Name, dc.Enabled, dc.PollInterval); err != nil {
				b.logger.Error("configured device rejected",
					"address", dc.Address,
					"error", err,
				)
			}
		}

		if err := b.opts.Publisher.Subscribe(b.topics.AllDeviceCommands(), 1, b.handleCommand); err != nil {
			b.registry.Stop()
			startErr = fmt.Errorf("androidtv: subscribing for commands: %w", err)
			return
		}

		if b.opts.Announcements != nil {
			b.wg.Add(1)
			go b.consumeAnnouncements()
		}

		b.logger.Info("androidtv bridge started", "devices", len(b.registry.List()))
	})
	return startErr
}

// Stop shuts the bridge down: discovery handling first, then the
// command subscription, then all device sessions. Idempotent.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()

		if err := b.opts.Publisher.Unsubscribe(b.topics.AllDeviceCommands()); err != nil {
			b.logger.Warn("command unsubscribe failed", "error", err)
		}

		b.registry.Stop()
		b.logger.Info("androidtv bridge stopped")
	})
}

// consumeAnnouncements feeds discovery observations into the registry.
// One bad announcement never stops the stream.
func (b *Bridge) consumeAnnouncements() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case ann, ok := <-b.opts.Announcements:
			if !ok {
				return
			}
			if err := b.registry.ObserveDiscovered(b.ctx, ann.Address, ann.Name); err != nil {
				b.logger.Warn("discovery announcement rejected",
					"address", ann.Address,
					"error", err,
				)
			}
		}
	}
}

// handleCommand executes one command message arriving over MQTT and
// publishes its acknowledgment.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	deviceID := deviceIDFromTopic(topic)
	if deviceID == "" {
		return fmt.Errorf("androidtv: command on unexpected topic %q", topic)
	}

	msg, err := ParseCommandMessage(payload)
	if err != nil {
		// No command ID to correlate an ack with.
		return err
	}

	if err := b.registry.ExecuteCommand(b.ctx, deviceID, msg); err != nil {
		status := AckFailed
		if errors.Is(err, ErrCommandTimeout) {
			status = AckTimeout
		}
		b.publishAck(deviceID, msg.ID, status, commandErrCode(err), err.Error())
		return nil
	}

	b.publishAck(deviceID, msg.ID, AckAccepted, "", "")
	return nil
}

// handleStateChange persists and publishes field-level changes reported
// by a device's poll loop.
func (b *Bridge) handleStateChange(deviceID string, changed map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	for field, value := range changed {
		if err := b.opts.Repository.SetStateField(ctx, deviceID, field, value); err != nil {
			b.logger.Warn("state persist failed",
				"device_id", deviceID,
				"field", field,
				"error", err,
			)
		}
	}

	msg := StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		State:     changed,
	}
	b.publishJSON(b.topics.DeviceState(deviceID), msg, true)
}

// handleSessionState publishes connectivity transitions. Multiple
// internal state changes that map to the same connectivity value
// collapse into a single announcement.
func (b *Bridge) handleSessionState(deviceID string, state ConnState) {
	connected := state == StateConnected

	b.availMu.Lock()
	prev, known := b.availability[deviceID]
	if known && prev == connected && state != StateClosed {
		b.availMu.Unlock()
		return
	}
	if state == StateClosed {
		if !known {
			b.availMu.Unlock()
			return
		}
		delete(b.availability, deviceID)
		if !prev {
			// Already announced offline; removal adds nothing.
			b.availMu.Unlock()
			return
		}
	} else {
		b.availability[deviceID] = connected
	}
	b.availMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	if err := b.opts.Repository.SetStateField(ctx, deviceID, FieldConnected, boolString(connected)); err != nil {
		b.logger.Warn("connectivity persist failed", "device_id", deviceID, "error", err)
	}
	cancel()

	msg := AvailabilityMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		Connected: connected,
		State:     string(state),
	}
	b.publishJSON(b.topics.DeviceAvailability(deviceID), msg, true)
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(deviceID, commandID string, status AckStatus, code, message string) {
	msg := AckMessage{
		CommandID: commandID,
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		Status:    status,
	}
	if status != AckAccepted {
		msg.Error = &AckError{Code: code, Message: message}
	}
	b.publishJSON(b.topics.DeviceAck(deviceID), msg, false)
}

// publishJSON marshals and publishes a message at QoS 1, logging
// failures instead of propagating them.
func (b *Bridge) publishJSON(topic string, msg any, retained bool) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("message marshal failed", "topic", topic, "error", err)
		return
	}
	if err := b.opts.Publisher.Publish(topic, payload, 1, retained); err != nil {
		b.logger.Warn("publish failed", "topic", topic, "error", err)
	}
}

// buildShellCommand translates a command message into the shell command
// to run on the device.
func buildShellCommand(msg *CommandMessage) (string, error) {
	switch msg.Command {
	case "send_key":
		keycode, ok := numberParam(msg.Parameters, "keycode")
		if !ok {
			return "", fmt.Errorf("%s: send_key requires a numeric keycode", ErrCodeInvalidParameters)
		}
		return keyEventCommand(keycode), nil

	case "launch_app":
		pkg, ok := msg.Parameters["package"].(string)
		if !ok || pkg == "" {
			return "", fmt.Errorf("%s: launch_app requires a package name", ErrCodeInvalidParameters)
		}
		if strings.ContainsAny(pkg, " \t\n;&|") {
			return "", fmt.Errorf("%s: invalid package name %q", ErrCodeInvalidParameters, pkg)
		}
		return launchAppCommand(pkg), nil

	default:
		return "", fmt.Errorf("%s: unknown command %q", ErrCodeInvalidCommand, msg.Command)
	}
}

// numberParam extracts an integer parameter. JSON numbers decode as
// float64; whole values are accepted.
func numberParam(params map[string]any, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// commandErrCode maps an error to its acknowledgment error code.
func commandErrCode(err error) string {
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		return ErrCodeUnknownDevice
	case errors.Is(err, ErrDeviceDisabled):
		return ErrCodeDeviceDisabled
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrSessionClosed):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, ErrCommandTimeout):
		return ErrCodeTimeout
	case strings.HasPrefix(err.Error(), ErrCodeInvalidParameters):
		return ErrCodeInvalidParameters
	case strings.HasPrefix(err.Error(), ErrCodeInvalidCommand):
		return ErrCodeInvalidCommand
	default:
		return ErrCodeBridgeError
	}
}

// deviceIDFromTopic extracts the device ID from a command topic
// (tvbridge/command/{device_id}).
func deviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}
