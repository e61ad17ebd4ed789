package androidtv

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Session defaults.
const (
	defaultCommandTimeout   = 5 * time.Second
	defaultConnectTimeout   = 10 * time.Second
	defaultFailureThreshold = 3

	// commandQueueSize bounds the FIFO of pending shell commands per
	// session. The poller never queues more than one cycle's worth;
	// the rest of the headroom absorbs bursts of user commands.
	commandQueueSize = 16

	// disconnectTimeout bounds the best-effort disconnect on close.
	disconnectTimeout = 3 * time.Second
)

// ProtocolClient is the capability a session needs to talk to its
// device: connect, run a shell command, disconnect. Satisfied by
// *adb.Client.
type ProtocolClient interface {
	Connect(ctx context.Context, address string) error
	Shell(ctx context.Context, serial, command string) (string, error)
	Disconnect(ctx context.Context, address string) error
}

// Logger defines the logging interface for this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SessionConfig holds configuration for creating a session.
type SessionConfig struct {
	// DeviceID is the registry identifier of the owning device.
	DeviceID string

	// Address is the device's network address (host:port). It doubles
	// as the protocol-level serial for shell commands.
	Address string

	// Client is the protocol client shared by all sessions.
	Client ProtocolClient

	// Policy computes reconnect delays. Required.
	Policy *ReconnectPolicy

	// CommandTimeout bounds each shell command. Defaults to 5s.
	CommandTimeout time.Duration

	// ConnectTimeout bounds each connection attempt. Defaults to 10s.
	ConnectTimeout time.Duration

	// FailureThreshold is the number of consecutive command failures
	// after which the connection is assumed dead. Defaults to 3.
	FailureThreshold int

	// OnStateChange is invoked (from session goroutines, never holding
	// internal locks) on every connection state transition. Optional.
	OnStateChange func(deviceID string, state ConnState)

	// Logger is an optional structured logger.
	Logger Logger
}

// Session is the per-device state machine owning one protocol
// connection. It serializes command execution (one in-flight command,
// FIFO order) and applies the reconnect policy on failure.
//
// A session outlives transient connection failures; it is destroyed
// only when its device is removed from the registry.
type Session struct {
	deviceID string
	address  string
	client   ProtocolClient
	policy   *ReconnectPolicy
	logger   Logger

	commandTimeout   time.Duration
	connectTimeout   time.Duration
	failureThreshold int
	onStateChange    func(deviceID string, state ConnState)

	mu           sync.Mutex
	state        ConnState
	failureCount int
	cmdFailures  int
	nextRetryAt  time.Time
	lastKnown    *PolledState

	queue     chan *pendingCommand
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	// notifyBuf queues state transitions for the notifier goroutine so
	// the callback sees them in transition order.
	notifyMu  sync.Mutex
	notifyBuf []ConnState
	notifyCh  chan struct{}
}

// pendingCommand is one queued shell command awaiting execution.
type pendingCommand struct {
	ctx     context.Context
	command string
	resp    chan commandResult
}

// commandResult carries a command's output or error back to the caller.
type commandResult struct {
	output string
	err    error
}

// NewSession creates a session in the Disconnected state and starts its
// command worker. Call Close when the device is removed.
func NewSession(cfg SessionConfig) *Session {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	s := &Session{
		deviceID:         cfg.DeviceID,
		address:          cfg.Address,
		client:           cfg.Client,
		policy:           cfg.Policy,
		logger:           cfg.Logger,
		commandTimeout:   cfg.CommandTimeout,
		connectTimeout:   cfg.ConnectTimeout,
		failureThreshold: cfg.FailureThreshold,
		onStateChange:    cfg.OnStateChange,
		state:            StateDisconnected,
		queue:            make(chan *pendingCommand, commandQueueSize),
		done:             make(chan struct{}),
		notifyCh:         make(chan struct{}, 1),
	}

	s.wg.Add(1)
	go s.worker()

	if s.onStateChange != nil {
		s.wg.Add(1)
		go s.notifier()
	}

	return s
}

// DeviceID returns the owning device's identifier.
func (s *Session) DeviceID() string { return s.deviceID }

// Address returns the device's network address.
func (s *Session) Address() string { return s.address }

// State returns the current connection state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FailureCount returns the consecutive connect-failure count.
func (s *Session) FailureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failureCount
}

// NextRetryAt returns when the next reconnect attempt is due.
// Meaningful only in the Backoff state.
func (s *Session) NextRetryAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRetryAt
}

// LastKnown returns the snapshot from the last successful poll, or nil
// if the device has never been polled.
func (s *Session) LastKnown() *PolledState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastKnown
}

// StoreLastKnown records the snapshot of the latest successful poll.
func (s *Session) StoreLastKnown(state *PolledState) {
	s.mu.Lock()
	s.lastKnown = state
	s.mu.Unlock()
}

// Connect attempts to establish the device connection.
//
// It is idempotent: a no-op when already Connecting or Connected, and a
// no-op in Backoff while the scheduled retry is not yet due. Connection
// failures are never returned to the caller - they increment the
// failure count, schedule the next retry via the reconnect policy, and
// are observable through State(). The only error Connect itself returns
// is ErrSessionClosed.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	case StateConnecting, StateConnected:
		s.mu.Unlock()
		return nil
	case StateBackoff:
		if time.Now().Before(s.nextRetryAt) {
			s.mu.Unlock()
			return nil
		}
	case StateDisconnected:
	}
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	err := s.client.Connect(connectCtx, s.address)
	cancel()

	s.mu.Lock()
	if s.state == StateClosed {
		// Closed while connecting; release the handle we may have won
		s.mu.Unlock()
		s.disconnectQuietly()
		return ErrSessionClosed
	}

	if err != nil {
		s.failureCount++
		delay := s.policy.NextDelay(s.failureCount)
		s.nextRetryAt = time.Now().Add(delay)
		s.setStateLocked(StateBackoff)
		failures := s.failureCount
		s.mu.Unlock()

		s.logger.Warn("device connect failed",
			"device_id", s.deviceID,
			"address", s.address,
			"failures", failures,
			"retry_in", delay,
			"error", err,
		)
		return nil
	}

	s.failureCount = 0
	s.cmdFailures = 0
	s.setStateLocked(StateConnected)
	s.mu.Unlock()

	s.logger.Info("device connected", "device_id", s.deviceID, "address", s.address)
	return nil
}

// ExecuteShell runs a shell command on the device and returns its
// output. Commands are queued in issue order and executed one at a
// time; the protocol is not safe for concurrent commands on one
// connection.
//
// Fails with ErrNotConnected unless the session is Connected at
// execution time, and with ErrSessionClosed on a closed session.
func (s *Session) ExecuteShell(ctx context.Context, command string) (string, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	s.mu.Unlock()

	pc := &pendingCommand{
		ctx:     ctx,
		command: command,
		resp:    make(chan commandResult, 1),
	}

	select {
	case s.queue <- pc:
	case <-s.done:
		return "", ErrSessionClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case res := <-pc.resp:
		return res.output, res.err
	case <-s.done:
		return "", ErrSessionClosed
	case <-ctx.Done():
		// The command may still run to completion in the worker; the
		// result is discarded (resp is buffered).
		return "", ctx.Err()
	}
}

// Close releases the connection and transitions to Closed. Idempotent
// and never fails: errors from the underlying disconnect are logged,
// not surfaced. Queued commands fail with ErrSessionClosed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		wasConnected := s.state == StateConnected || s.state == StateConnecting
		s.setStateLocked(StateClosed)
		s.mu.Unlock()

		close(s.done)
		s.wg.Wait()

		// Fail anything still sitting in the queue
	drain:
		for {
			select {
			case pc := <-s.queue:
				pc.resp <- commandResult{err: ErrSessionClosed}
			default:
				break drain
			}
		}

		if wasConnected {
			s.disconnectQuietly()
		}

		s.logger.Info("session closed", "device_id", s.deviceID)
	})
}

// worker executes queued commands one at a time, in FIFO order.
func (s *Session) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case pc := <-s.queue:
			pc.resp <- s.execute(pc)
		}
	}
}

// execute runs one shell command against the connection.
func (s *Session) execute(pc *pendingCommand) commandResult {
	s.mu.Lock()
	if s.state != StateConnected {
		state := s.state
		s.mu.Unlock()
		if state == StateClosed {
			return commandResult{err: ErrSessionClosed}
		}
		return commandResult{err: ErrNotConnected}
	}
	s.mu.Unlock()

	// The caller's context may already carry a deadline (poll budget);
	// the command timeout is an additional per-command cap.
	cmdCtx, cancel := context.WithTimeout(pc.ctx, s.commandTimeout)
	output, err := s.client.Shell(cmdCtx, s.address, pc.command)
	timedOut := cmdCtx.Err() == context.DeadlineExceeded
	cancel()

	if err == nil {
		s.mu.Lock()
		s.cmdFailures = 0
		s.failureCount = 0
		s.mu.Unlock()
		return commandResult{output: output}
	}

	if timedOut {
		err = errors.Join(ErrCommandTimeout, err)
	}

	s.handleCommandFailure(err)
	return commandResult{err: err}
}

// handleCommandFailure counts consecutive command failures and forces a
// reconnect once the threshold is crossed: a connection that cannot
// execute any command is assumed dead.
func (s *Session) handleCommandFailure(err error) {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return
	}

	s.cmdFailures++
	failures := s.cmdFailures
	if failures < s.failureThreshold {
		s.mu.Unlock()
		s.logger.Debug("command failed",
			"device_id", s.deviceID,
			"consecutive_failures", failures,
			"error", err,
		)
		return
	}

	s.cmdFailures = 0
	s.failureCount++
	delay := s.policy.NextDelay(s.failureCount)
	s.nextRetryAt = time.Now().Add(delay)
	s.setStateLocked(StateBackoff)
	s.mu.Unlock()

	s.logger.Warn("command failures exceeded threshold, reconnecting",
		"device_id", s.deviceID,
		"threshold", s.failureThreshold,
		"retry_in", delay,
		"error", err,
	)

	s.disconnectQuietly()
}

// setStateLocked transitions the state machine and queues the change
// notification. Caller must hold s.mu.
func (s *Session) setStateLocked(next ConnState) {
	if s.state == next {
		return
	}
	s.state = next

	if s.onStateChange == nil {
		return
	}
	s.notifyMu.Lock()
	s.notifyBuf = append(s.notifyBuf, next)
	s.notifyMu.Unlock()
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

// notifier delivers queued state transitions to the callback, one at a
// time and in the order they happened. Delivery runs outside the
// session lock, so a callback that re-enters the session cannot
// deadlock. On close, anything still queued (including the Closed
// transition itself) is flushed before exit.
func (s *Session) notifier() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			s.flushNotifications()
			return
		case <-s.notifyCh:
			s.flushNotifications()
		}
	}
}

func (s *Session) flushNotifications() {
	for {
		s.notifyMu.Lock()
		if len(s.notifyBuf) == 0 {
			s.notifyMu.Unlock()
			return
		}
		next := s.notifyBuf[0]
		s.notifyBuf = s.notifyBuf[1:]
		s.notifyMu.Unlock()

		s.onStateChange(s.deviceID, next)
	}
}

// disconnectQuietly releases the protocol handle, logging any error.
func (s *Session) disconnectQuietly() {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()

	if err := s.client.Disconnect(ctx, s.address); err != nil {
		s.logger.Debug("disconnect failed", "device_id", s.deviceID, "error", err)
	}
}
