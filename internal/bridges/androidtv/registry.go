package androidtv

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tvbridge/core/internal/device"
)

// ServerHandle is the refcounted protocol server lifecycle the registry
// drives: one Acquire per live session, one Release when it closes.
// Satisfied by *adb.ServerManager.
type ServerHandle interface {
	Acquire(ctx context.Context) error
	Release() error
}

// RegistryConfig holds configuration for creating a device registry.
type RegistryConfig struct {
	// Repository persists devices and their last reported state.
	// Required.
	Repository device.Repository

	// Client is the protocol client shared by all sessions. Required.
	Client ProtocolClient

	// Server manages the shared protocol server process. Optional; when
	// nil, sessions assume an externally managed server.
	Server ServerHandle

	// Policy computes reconnect delays, shared across sessions.
	// Required.
	Policy *ReconnectPolicy

	// CommandTimeout, ConnectTimeout and FailureThreshold are passed
	// through to each session; zero values use the session defaults.
	CommandTimeout   time.Duration
	ConnectTimeout   time.Duration
	FailureThreshold int

	// DefaultPollInterval applies to devices without their own
	// interval. Defaults to 10s.
	DefaultPollInterval time.Duration

	// AutoRegister enables polling of discovered devices that are not
	// in the configuration. When false, discovered devices are recorded
	// as disabled and need explicit enabling.
	AutoRegister bool

	// OnChange is invoked with field-level changes from each device's
	// poll loop. Optional.
	OnChange func(deviceID string, changed map[string]string)

	// OnSessionState is invoked on each session's connection state
	// transitions. Optional.
	OnSessionState func(deviceID string, state ConnState)

	// Logger is an optional structured logger.
	Logger Logger
}

// entry is one managed device with its session and poller. Session and
// poller are nil while the device is disabled.
type entry struct {
	device  device.Device
	session *Session
	poller  *Poller
	// acquired tracks whether this entry holds a server refcount.
	acquired bool
}

// Registry owns the set of managed devices and the session and poller
// behind each enabled one. Devices arrive from configuration and from
// discovery; both paths are deduplicated by address, and configuration
// always wins over discovery for the same device.
//
// All mutations are serialized under one lock, so overlapping
// discovery announcements and API calls cannot race device lifecycle.
type Registry struct {
	repo   device.Repository
	client ProtocolClient
	server ServerHandle
	policy *ReconnectPolicy
	logger Logger

	commandTimeout      time.Duration
	connectTimeout      time.Duration
	failureThreshold    int
	defaultPollInterval time.Duration
	autoRegister        bool

	onChange       func(deviceID string, changed map[string]string)
	onSessionState func(deviceID string, state ConnState)

	mu      sync.Mutex
	entries map[string]*entry
	ctx     context.Context
	started bool
}

// NewRegistry creates a registry. Call Start to load persisted devices
// and begin polling.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.DefaultPollInterval <= 0 {
		cfg.DefaultPollInterval = defaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &Registry{
		repo:                cfg.Repository,
		client:              cfg.Client,
		server:              cfg.Server,
		policy:              cfg.Policy,
		logger:              cfg.Logger,
		commandTimeout:      cfg.CommandTimeout,
		connectTimeout:      cfg.ConnectTimeout,
		failureThreshold:    cfg.FailureThreshold,
		defaultPollInterval: cfg.DefaultPollInterval,
		autoRegister:        cfg.AutoRegister,
		onChange:            cfg.OnChange,
		onSessionState:      cfg.OnSessionState,
		entries:             make(map[string]*entry),
	}
}

// Start loads persisted devices from the repository and starts a
// session and poller for each enabled one. The context bounds the
// registry's lifetime; poll loops stop when it is cancelled.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	r.ctx = ctx

	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("androidtv: loading devices: %w", err)
	}

	for _, dev := range devices {
		e := &entry{device: dev}
		r.entries[dev.ID] = e
		if dev.Enabled {
			r.startEntryLocked(e)
		}
	}
	r.started = true

	r.logger.Info("device registry started", "devices", len(devices))
	return nil
}

// Stop halts all pollers and closes all sessions. Devices stay
// persisted. Idempotent.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		r.stopEntryLocked(e)
	}
	r.started = false
}

// UpsertConfigured adds or updates a configured device. A discovered
// device with the same address is taken over: configuration wins.
// Returns the stored device.
func (r *Registry) UpsertConfigured(ctx context.Context, address, name string, enabled bool, pollInterval time.Duration) (device.Device, error) {
	if err := device.ValidateAddress(address); err != nil {
		return device.Device{}, err
	}
	if pollInterval <= 0 {
		pollInterval = r.defaultPollInterval
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	dev := device.Device{
		ID:           device.DeriveID(address),
		Address:      address,
		Name:         name,
		Enabled:      enabled,
		PollInterval: pollInterval,
		Source:       device.SourceConfig,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if existing, ok := r.entries[dev.ID]; ok {
		return r.updateEntryLocked(ctx, existing, dev)
	}

	if err := r.repo.Upsert(ctx, dev); err != nil {
		return device.Device{}, err
	}

	e := &entry{device: dev}
	r.entries[dev.ID] = e
	if dev.Enabled && r.started {
		r.startEntryLocked(e)
	}

	r.logger.Info("device configured",
		"device_id", dev.ID,
		"address", dev.Address,
		"enabled", dev.Enabled,
	)
	return dev, nil
}

// updateEntryLocked applies new configuration to an existing entry.
// The ID is derived from the address, so the address cannot have
// changed; the live session survives the update. Only an interval
// change restarts the poller and only an enabled change touches the
// session. Caller must hold r.mu.
func (r *Registry) updateEntryLocked(ctx context.Context, e *entry, dev device.Device) (device.Device, error) {
	prev := e.device
	dev.CreatedAt = prev.CreatedAt

	if err := r.repo.Upsert(ctx, dev); err != nil {
		return device.Device{}, err
	}
	e.device = dev

	switch {
	case !dev.Enabled:
		r.stopEntryLocked(e)
	case !prev.Enabled:
		if r.started {
			r.startEntryLocked(e)
		}
	case dev.PollInterval != prev.PollInterval && e.poller != nil:
		e.poller.Stop()
		e.poller = NewPoller(PollerConfig{
			Session:  e.session,
			Interval: dev.PollInterval,
			OnChange: r.onChange,
			Logger:   r.logger,
		})
		e.poller.Start(r.ctx)
	}

	r.logger.Info("device reconfigured",
		"device_id", dev.ID,
		"address", dev.Address,
		"enabled", dev.Enabled,
	)
	return dev, nil
}

// ObserveDiscovered records a device announced by network discovery.
// Known devices are untouched apart from a name refresh on
// discovery-sourced ones; configured devices always win. Unknown
// devices are registered, enabled only when auto-registration is on.
func (r *Registry) ObserveDiscovered(ctx context.Context, address, name string) error {
	if err := device.ValidateAddress(address); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := device.DeriveID(address)
	if e, ok := r.entries[id]; ok {
		if e.device.Source == device.SourceConfig || e.device.Name == name {
			return nil
		}
		e.device.Name = name
		e.device.UpdatedAt = time.Now().UTC()
		return r.repo.Upsert(ctx, e.device)
	}

	now := time.Now().UTC()
	dev := device.Device{
		ID:           id,
		Address:      address,
		Name:         name,
		Enabled:      r.autoRegister,
		PollInterval: r.defaultPollInterval,
		Source:       device.SourceDiscovery,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.repo.Upsert(ctx, dev); err != nil {
		return err
	}

	e := &entry{device: dev}
	r.entries[id] = e
	if dev.Enabled && r.started {
		r.startEntryLocked(e)
	}

	r.logger.Info("device discovered",
		"device_id", dev.ID,
		"address", dev.Address,
		"name", dev.Name,
		"auto_registered", dev.Enabled,
	)
	return nil
}

// SetEnabled enables or disables a device. Disabling stops its poller
// and closes its session; enabling starts them.
func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return ErrDeviceNotFound
	}
	if e.device.Enabled == enabled {
		return nil
	}

	if err := r.repo.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}
	e.device.Enabled = enabled
	e.device.UpdatedAt = time.Now().UTC()

	if enabled {
		if r.started {
			r.startEntryLocked(e)
		}
	} else {
		r.stopEntryLocked(e)
	}
	return nil
}

// Remove deletes a device, stopping its poller and closing its session
// first. The session close is what reports the device offline.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return ErrDeviceNotFound
	}

	r.stopEntryLocked(e)
	delete(r.entries, id)

	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.logger.Info("device removed", "device_id", id, "address", e.device.Address)
	return nil
}

// Get returns a device by ID.
func (r *Registry) Get(id string) (device.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return device.Device{}, ErrDeviceNotFound
	}
	return e.device, nil
}

// List returns all managed devices.
func (r *Registry) List() []device.Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]device.Device, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.device)
	}
	return out
}

// Session returns the live session for a device, or an error when the
// device is unknown or disabled.
func (r *Registry) Session(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	if e.session == nil {
		return nil, ErrDeviceDisabled
	}
	return e.session, nil
}

// SessionState returns the connection state for a device. Disabled
// devices report Disconnected.
func (r *Registry) SessionState(id string) (ConnState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return StateDisconnected, ErrDeviceNotFound
	}
	if e.session == nil {
		return StateDisconnected, nil
	}
	return e.session.State(), nil
}

// ExecuteCommand translates a command message into its shell command
// and runs it on the device's session.
func (r *Registry) ExecuteCommand(ctx context.Context, deviceID string, msg *CommandMessage) error {
	shellCmd, err := buildShellCommand(msg)
	if err != nil {
		return err
	}
	session, err := r.Session(deviceID)
	if err != nil {
		return err
	}
	_, err = session.ExecuteShell(ctx, shellCmd)
	return err
}

// startEntryLocked creates and starts the session and poller for an
// entry. Caller must hold r.mu.
func (r *Registry) startEntryLocked(e *entry) {
	if e.session != nil {
		return
	}

	if r.server != nil && !e.acquired {
		if err := r.server.Acquire(r.ctx); err != nil {
			// Not fatal: the session will keep failing to connect and
			// back off until the server comes up on a later attempt.
			r.logger.Warn("protocol server unavailable",
				"device_id", e.device.ID,
				"error", err,
			)
		} else {
			e.acquired = true
		}
	}

	e.session = NewSession(SessionConfig{
		DeviceID:         e.device.ID,
		Address:          e.device.Address,
		Client:           r.client,
		Policy:           r.policy,
		CommandTimeout:   r.commandTimeout,
		ConnectTimeout:   r.connectTimeout,
		FailureThreshold: r.failureThreshold,
		OnStateChange:    r.onSessionState,
		Logger:           r.logger,
	})

	interval := e.device.PollInterval
	if interval <= 0 {
		interval = r.defaultPollInterval
	}
	e.poller = NewPoller(PollerConfig{
		Session:  e.session,
		Interval: interval,
		OnChange: r.onChange,
		Logger:   r.logger,
	})
	e.poller.Start(r.ctx)
}

// stopEntryLocked stops an entry's poller and closes its session.
// Caller must hold r.mu.
func (r *Registry) stopEntryLocked(e *entry) {
	if e.poller != nil {
		e.poller.Stop()
		e.poller = nil
	}
	if e.session != nil {
		e.session.Close()
		e.session = nil
	}
	if e.acquired {
		if err := r.server.Release(); err != nil {
			r.logger.Warn("protocol server release failed", "error", err)
		}
		e.acquired = false
	}
}
