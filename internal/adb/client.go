package adb

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/tvbridge/core/internal/infrastructure/config"
)

// Default timeouts for server communication.
const (
	// defaultDialTimeout is the timeout for connecting to the adb server socket.
	defaultDialTimeout = 2 * time.Second

	// defaultRequestTimeout bounds host-service requests (version, connect,
	// disconnect) when the caller's context has no deadline.
	defaultRequestTimeout = 10 * time.Second
)

// Logger defines the logging interface for the adb package.
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

// Client talks to a local adb server over its smart-socket protocol.
//
// Each operation opens a fresh TCP connection to the server; the server
// multiplexes device transports internally. The client itself is
// stateless and safe for concurrent use, but callers must not issue
// concurrent shell commands against the same device transport - that
// serialization is the session layer's responsibility.
type Client struct {
	serverAddr  string
	dialTimeout time.Duration
	logger      Logger
}

// NewClient creates an adb client for the given server address.
func NewClient(cfg config.ADBConfig) *Client {
	return &Client{
		serverAddr:  cfg.ServerAddress,
		dialTimeout: defaultDialTimeout,
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// ServerAddress returns the adb server address this client talks to.
func (c *Client) ServerAddress() string {
	return c.serverAddr
}

// dial opens a connection to the adb server and applies the context
// deadline (or the default request timeout) to the whole exchange.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.serverAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServerUnavailable, err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultRequestTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, fmt.Errorf("adb: setting deadline: %w", err)
	}

	return conn, nil
}

// Version returns the adb server's internal version string.
// Used as a cheap health check that the server is alive and responsive.
func (c *Client) Version(ctx context.Context) (string, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if err := writeRequest(conn, "host:version"); err != nil {
		return "", err
	}
	if err := readStatus(conn); err != nil {
		return "", err
	}
	return readMessage(conn)
}

// Connect asks the server to establish a TCP transport to the device at
// the given address (host:port). The server replies with a human-readable
// result line; "connected to" and "already connected" both count as
// success (connect is idempotent at the server level).
func (c *Client) Connect(ctx context.Context, address string) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := writeRequest(conn, "host:connect:"+address); err != nil {
		return err
	}
	if err := readStatus(conn); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	result, err := readMessage(conn)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	// The server answers OKAY even when the underlying TCP connect
	// failed; the outcome is only in the message text.
	lower := strings.ToLower(result)
	if strings.Contains(lower, "connected to") || strings.Contains(lower, "already connected") {
		c.logger.Debug("adb connect", "address", address, "result", result)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrConnectFailed, result)
}

// Disconnect asks the server to drop the transport to the given address.
func (c *Client) Disconnect(ctx context.Context, address string) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := writeRequest(conn, "host:disconnect:"+address); err != nil {
		return err
	}
	if err := readStatus(conn); err != nil {
		return err
	}

	// Result text is informational only
	if result, err := readMessage(conn); err == nil {
		c.logger.Debug("adb disconnect", "address", address, "result", result)
	}
	return nil
}

// Shell runs a shell command on the device identified by serial and
// returns its combined output. The output is raw text with no length
// framing; the server closes the stream when the command exits.
//
// The caller's context deadline bounds the entire exchange, including
// command execution on the device.
func (c *Client) Shell(ctx context.Context, serial, command string) (string, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	// Bind this connection to the device's transport
	if err := writeRequest(conn, "host:transport:"+serial); err != nil {
		return "", err
	}
	if err := readStatus(conn); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDeviceOffline, err)
	}

	if err := writeRequest(conn, "shell:"+command); err != nil {
		return "", err
	}
	if err := readStatus(conn); err != nil {
		return "", err
	}

	output, err := io.ReadAll(conn)
	if err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("adb: shell %q timed out: %w", command, err)
		}
		return "", fmt.Errorf("adb: reading shell output: %w", err)
	}
	return string(output), nil
}

// DeviceEntry is one row from the server's device list.
type DeviceEntry struct {
	Serial string
	State  string // "device", "offline", "unauthorized", ...
}

// Devices returns the transports currently known to the server.
func (c *Client) Devices(ctx context.Context) ([]DeviceEntry, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := writeRequest(conn, "host:devices"); err != nil {
		return nil, err
	}
	if err := readStatus(conn); err != nil {
		return nil, err
	}

	payload, err := readMessage(conn)
	if err != nil {
		return nil, err
	}

	var entries []DeviceEntry
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		entries = append(entries, DeviceEntry{Serial: fields[0], State: fields[1]})
	}
	return entries, nil
}

// isTimeout checks if an error is a network timeout.
func isTimeout(err error) bool {
	if netErr, ok := err.(net.Error); ok {
		return netErr.Timeout()
	}
	return false
}
