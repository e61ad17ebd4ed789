package adb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/tvbridge/core/internal/infrastructure/config"
)

// newFakeServer starts a TCP listener that invokes handler for each
// accepted connection, returning its address.
func newFakeServer(t *testing.T, handler func(conn net.Conn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("starting fake server: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				handler(conn)
			}()
		}
	}()

	return ln.Addr().String()
}

// readRequest reads one length-prefixed request from the connection.
func readRequest(conn net.Conn) (string, error) {
	return readMessage(conn)
}

func newTestClient(addr string) *Client {
	return NewClient(config.ADBConfig{ServerAddress: addr})
}

func TestClientVersion(t *testing.T) {
	addr := newFakeServer(t, func(conn net.Conn) {
		req, err := readRequest(conn)
		if err != nil || req != "host:version" {
			return
		}
		io.WriteString(conn, "OKAY")
		io.WriteString(conn, fmt.Sprintf("%04x%s", len("0029"), "0029"))
	})

	c := newTestClient(addr)
	version, err := c.Version(context.Background())
	if err != nil {
		t.Fatalf("Version() error: %v", err)
	}
	if version != "0029" {
		t.Errorf("Version() = %q, want %q", version, "0029")
	}
}

func TestClientVersion_ServerUnavailable(t *testing.T) {
	c := newTestClient("127.0.0.1:1") // nothing listening
	_, err := c.Version(context.Background())
	if !errors.Is(err, ErrServerUnavailable) {
		t.Errorf("expected ErrServerUnavailable, got %v", err)
	}
}

func TestClientConnect(t *testing.T) {
	tests := []struct {
		name    string
		result  string
		wantErr bool
	}{
		{"fresh connect", "connected to 10.0.0.5:5555", false},
		{"already connected", "already connected to 10.0.0.5:5555", false},
		{"refused", "failed to connect to 10.0.0.5:5555", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := newFakeServer(t, func(conn net.Conn) {
				req, err := readRequest(conn)
				if err != nil || req != "host:connect:10.0.0.5:5555" {
					return
				}
				io.WriteString(conn, "OKAY")
				io.WriteString(conn, fmt.Sprintf("%04x%s", len(tt.result), tt.result))
			})

			c := newTestClient(addr)
			err := c.Connect(context.Background(), "10.0.0.5:5555")
			if tt.wantErr {
				if !errors.Is(err, ErrConnectFailed) {
					t.Errorf("expected ErrConnectFailed, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Connect() error: %v", err)
			}
		})
	}
}

func TestClientConnect_ServerFail(t *testing.T) {
	addr := newFakeServer(t, func(conn net.Conn) {
		if _, err := readRequest(conn); err != nil {
			return
		}
		reason := "cannot resolve host"
		io.WriteString(conn, "FAIL")
		io.WriteString(conn, fmt.Sprintf("%04x%s", len(reason), reason))
	})

	c := newTestClient(addr)
	err := c.Connect(context.Background(), "bad-host:5555")
	if !errors.Is(err, ErrConnectFailed) {
		t.Errorf("expected ErrConnectFailed, got %v", err)
	}
	if !errors.Is(err, ErrCommandRejected) {
		t.Errorf("expected wrapped ErrCommandRejected, got %v", err)
	}
}

func TestClientShell(t *testing.T) {
	const output = "Display Power: state=ON\nmWakefulness=Awake\n"

	addr := newFakeServer(t, func(conn net.Conn) {
		transport, err := readRequest(conn)
		if err != nil || transport != "host:transport:10.0.0.5:5555" {
			return
		}
		io.WriteString(conn, "OKAY")

		shell, err := readRequest(conn)
		if err != nil || shell != "shell:dumpsys power" {
			return
		}
		io.WriteString(conn, "OKAY")
		io.WriteString(conn, output)
		// handler return closes the connection, signalling end of output
	})

	c := newTestClient(addr)
	got, err := c.Shell(context.Background(), "10.0.0.5:5555", "dumpsys power")
	if err != nil {
		t.Fatalf("Shell() error: %v", err)
	}
	if got != output {
		t.Errorf("Shell() = %q, want %q", got, output)
	}
}

func TestClientShell_DeviceOffline(t *testing.T) {
	addr := newFakeServer(t, func(conn net.Conn) {
		if _, err := readRequest(conn); err != nil {
			return
		}
		reason := "device offline"
		io.WriteString(conn, "FAIL")
		io.WriteString(conn, fmt.Sprintf("%04x%s", len(reason), reason))
	})

	c := newTestClient(addr)
	_, err := c.Shell(context.Background(), "10.0.0.5:5555", "getprop")
	if !errors.Is(err, ErrDeviceOffline) {
		t.Errorf("expected ErrDeviceOffline, got %v", err)
	}
}

func TestClientDevices(t *testing.T) {
	payload := "10.0.0.5:5555\tdevice\n10.0.0.6:5555\toffline\n"

	addr := newFakeServer(t, func(conn net.Conn) {
		req, err := readRequest(conn)
		if err != nil || req != "host:devices" {
			return
		}
		io.WriteString(conn, "OKAY")
		io.WriteString(conn, fmt.Sprintf("%04x%s", len(payload), payload))
	})

	c := newTestClient(addr)
	entries, err := c.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Devices() returned %d entries, want 2", len(entries))
	}
	if entries[0].Serial != "10.0.0.5:5555" || entries[0].State != "device" {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Serial != "10.0.0.6:5555" || entries[1].State != "offline" {
		t.Errorf("entry 1 = %+v", entries[1])
	}
}

func TestServerManager_Unmanaged(t *testing.T) {
	// Fake external server: accept and hold connections open
	addr := newFakeServer(t, func(conn net.Conn) {
		buf := make([]byte, 1)
		conn.Read(buf)
	})

	mgr := NewServerManager(config.ADBConfig{
		ServerAddress: addr,
		Managed:       false,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// First acquire verifies reachability
	if err := mgr.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire() error: %v", err)
	}
	if mgr.Refs() != 1 {
		t.Errorf("Refs() = %d, want 1", mgr.Refs())
	}

	// Second acquire just bumps the refcount
	if err := mgr.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire() error: %v", err)
	}
	if mgr.Refs() != 2 {
		t.Errorf("Refs() = %d, want 2", mgr.Refs())
	}
	if !mgr.IsRunning() {
		t.Error("IsRunning() = false with active refs")
	}

	// Releases pair off
	if err := mgr.Release(); err != nil {
		t.Errorf("first Release() error: %v", err)
	}
	if mgr.Refs() != 1 {
		t.Errorf("Refs() = %d after one release, want 1", mgr.Refs())
	}
	if err := mgr.Release(); err != nil {
		t.Errorf("second Release() error: %v", err)
	}
	if mgr.Refs() != 0 {
		t.Errorf("Refs() = %d after final release, want 0", mgr.Refs())
	}

	// Extra release is a no-op
	if err := mgr.Release(); err != nil {
		t.Errorf("extra Release() error: %v", err)
	}

	stats := mgr.Stats()
	if stats.Managed {
		t.Error("Stats.Managed = true, want false")
	}
	if stats.Status != "external" {
		t.Errorf("Stats.Status = %q, want %q", stats.Status, "external")
	}
}

func TestServerManager_UnreachableExternal(t *testing.T) {
	mgr := NewServerManager(config.ADBConfig{
		ServerAddress: "127.0.0.1:1",
		Managed:       false,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := mgr.Acquire(ctx); err == nil {
		t.Error("Acquire() against unreachable server expected error")
		mgr.Release()
	}
	if mgr.Refs() != 0 {
		t.Errorf("Refs() = %d after failed Acquire, want 0", mgr.Refs())
	}
}
