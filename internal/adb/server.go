package adb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tvbridge/core/internal/infrastructure/config"
	"github.com/tvbridge/core/internal/process"
)

// Timeouts and intervals for adb server management.
const (
	// readyTimeout is how long to wait for the server to accept TCP
	// connections after starting.
	readyTimeout = 15 * time.Second

	// readyPollInterval is how often to try connecting during readiness check.
	readyPollInterval = 100 * time.Millisecond

	// readyDialTimeout is the timeout for individual TCP connection attempts.
	readyDialTimeout = 500 * time.Millisecond
)

// ServerManager manages the shared adb server process.
//
// All device sessions share one local server; the first session to need
// it starts it, later sessions reuse it, and it is torn down only after
// the last session releases it. Acquire/Release calls are serialized so
// a burst of sessions starting concurrently results in exactly one
// server start.
//
// When cfg.Managed is false the manager only verifies that an external
// server is reachable and never starts or stops anything.
type ServerManager struct {
	cfg    config.ADBConfig
	logger Logger

	mu      sync.Mutex
	refs    int
	process *process.Manager
}

// NewServerManager creates a manager for the adb server at cfg.ServerAddress.
func NewServerManager(cfg config.ADBConfig) *ServerManager {
	return &ServerManager{
		cfg:    cfg,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (s *ServerManager) SetLogger(logger Logger) {
	s.logger = logger
}

// Acquire registers a user of the shared server, starting it if this is
// the first user. Blocks until the server accepts TCP connections.
//
// Every successful Acquire must be paired with exactly one Release.
func (s *ServerManager) Acquire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs > 0 {
		s.refs++
		s.logger.Debug("adb server acquired", "refs", s.refs)
		return nil
	}

	if s.cfg.Managed {
		if err := s.startServer(ctx); err != nil {
			return err
		}
	}

	if err := s.waitForReady(ctx); err != nil {
		if s.cfg.Managed && s.process != nil {
			if stopErr := s.process.Stop(); stopErr != nil {
				s.logger.Warn("error stopping adb server after failed readiness check", "error", stopErr)
			}
			s.process = nil
		}
		return fmt.Errorf("adb server failed to become ready: %w", err)
	}

	s.refs = 1
	s.logger.Info("adb server ready", "address", s.cfg.ServerAddress, "managed", s.cfg.Managed)
	return nil
}

// Release unregisters a user of the shared server. When the last user
// releases, a managed server process is stopped.
func (s *ServerManager) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs == 0 {
		return nil
	}

	s.refs--
	s.logger.Debug("adb server released", "refs", s.refs)
	if s.refs > 0 {
		return nil
	}

	if !s.cfg.Managed || s.process == nil {
		return nil
	}

	s.logger.Info("stopping adb server")
	err := s.process.Stop()
	s.process = nil
	return err
}

// startServer launches the adb server process in foreground mode.
// Caller must hold s.mu.
func (s *ServerManager) startServer(ctx context.Context) error {
	port, err := s.serverPort()
	if err != nil {
		return err
	}

	// "server nodaemon" keeps adb in the foreground so the process
	// manager owns its lifecycle instead of a self-forked daemon.
	proc := process.NewManager(process.Config{
		Name:               "adb-server",
		Binary:             s.cfg.Binary,
		Args:               []string{"-P", port, "server", "nodaemon"},
		RestartOnFailure:   true,
		RestartDelay:       2 * time.Second,
		MaxRestartAttempts: 10,
		GracefulTimeout:    5 * time.Second,
		OnStop: func(err error) {
			if err != nil {
				s.logger.Warn("adb server process stopped", "error", err)
			}
		},
		OnRestart: func(attempt int) {
			s.logger.Info("adb server restarting", "attempt", attempt)
		},
	})
	proc.SetLogger(s.logger)

	if err := proc.Start(ctx); err != nil {
		return fmt.Errorf("starting adb server: %w", err)
	}

	s.process = proc
	return nil
}

// serverPort extracts the TCP port from the configured server address.
func (s *ServerManager) serverPort() (string, error) {
	_, port, err := net.SplitHostPort(s.cfg.ServerAddress)
	if err != nil {
		return "", fmt.Errorf("invalid adb server address %q: %w", s.cfg.ServerAddress, err)
	}
	return port, nil
}

// waitForReady polls the server socket until it accepts connections.
// Caller must hold s.mu.
func (s *ServerManager) waitForReady(ctx context.Context) error {
	deadline := time.Now().Add(readyTimeout)

	s.logger.Debug("waiting for adb server", "address", s.cfg.ServerAddress)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while waiting for adb server: %w", ctx.Err())
		default:
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for adb server on %s after %v", s.cfg.ServerAddress, readyTimeout)
		}

		// A managed process that already died will never become ready
		if s.cfg.Managed && s.process != nil && !s.process.IsRunning() {
			lastErr := s.process.LastError()
			if lastErr != nil {
				return fmt.Errorf("adb server process exited: %w", lastErr)
			}
			return errors.New("adb server process exited unexpectedly")
		}

		conn, err := net.DialTimeout("tcp", s.cfg.ServerAddress, readyDialTimeout)
		if err == nil {
			conn.Close()
			return nil
		}

		time.Sleep(readyPollInterval)
	}
}

// Refs returns the current number of registered users.
func (s *ServerManager) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// IsRunning reports whether the server is usable: a running managed
// process, or (unmanaged) an assumed external server.
func (s *ServerManager) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Managed {
		return s.refs > 0
	}
	return s.process != nil && s.process.IsRunning()
}

// Stats returns current statistics for the managed server process.
type Stats struct {
	Managed      bool   `json:"managed"`
	Address      string `json:"address"`
	Status       string `json:"status"`
	PID          int    `json:"pid,omitempty"`
	Refs         int    `json:"refs"`
	RestartCount int    `json:"restart_count"`
	LastError    string `json:"last_error,omitempty"`
}

// Stats returns current statistics for the shared server.
func (s *ServerManager) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Managed: s.cfg.Managed,
		Address: s.cfg.ServerAddress,
		Refs:    s.refs,
	}

	switch {
	case s.process != nil:
		procStats := s.process.Stats()
		stats.Status = string(procStats.Status)
		stats.PID = procStats.PID
		stats.RestartCount = procStats.RestartCount
		stats.LastError = procStats.LastError
	case !s.cfg.Managed:
		stats.Status = "external"
	default:
		stats.Status = "stopped"
	}

	return stats
}
