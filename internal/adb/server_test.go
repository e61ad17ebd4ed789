package adb

import (
	"context"
	"net"
	"testing"

	"github.com/tvbridge/core/internal/infrastructure/config"
)

// newExternalServer starts a TCP listener standing in for an externally
// managed adb server and returns a manager pointed at it.
func newExternalServer(t *testing.T) (*ServerManager, net.Listener) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	mgr := NewServerManager(config.ADBConfig{
		ServerAddress: ln.Addr().String(),
		Managed:       false,
	})
	return mgr, ln
}

func TestServerManagerAcquireRelease(t *testing.T) {
	mgr, _ := newExternalServer(t)
	ctx := context.Background()

	if err := mgr.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if got := mgr.Refs(); got != 1 {
		t.Fatalf("Refs = %d, want 1", got)
	}

	if err := mgr.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if got := mgr.Refs(); got != 2 {
		t.Fatalf("Refs = %d, want 2", got)
	}

	if err := mgr.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := mgr.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := mgr.Refs(); got != 0 {
		t.Fatalf("Refs = %d, want 0", got)
	}
}

func TestServerManagerReleaseWithoutAcquire(t *testing.T) {
	mgr := NewServerManager(config.ADBConfig{
		ServerAddress: "127.0.0.1:1",
		Managed:       false,
	})

	if err := mgr.Release(); err != nil {
		t.Fatalf("Release on zero refs: %v", err)
	}
	if got := mgr.Refs(); got != 0 {
		t.Fatalf("Refs = %d, want 0", got)
	}
}

func TestServerManagerAcquireCancelledContext(t *testing.T) {
	// Unreachable address; the cancelled context has to short-circuit
	// the readiness wait.
	mgr := NewServerManager(config.ADBConfig{
		ServerAddress: "127.0.0.1:1",
		Managed:       false,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := mgr.Acquire(ctx); err == nil {
		t.Fatal("Acquire with cancelled context succeeded, want error")
	}
	if got := mgr.Refs(); got != 0 {
		t.Fatalf("Refs after failed Acquire = %d, want 0", got)
	}
}

func TestServerManagerIsRunningExternal(t *testing.T) {
	mgr, _ := newExternalServer(t)

	if mgr.IsRunning() {
		t.Fatal("IsRunning before Acquire, want false")
	}

	if err := mgr.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !mgr.IsRunning() {
		t.Fatal("IsRunning after Acquire, want true")
	}

	if err := mgr.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if mgr.IsRunning() {
		t.Fatal("IsRunning after Release, want false")
	}
}

func TestServerManagerStats(t *testing.T) {
	mgr, ln := newExternalServer(t)
	if err := mgr.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	stats := mgr.Stats()
	if stats.Managed {
		t.Error("Stats.Managed = true, want false")
	}
	if stats.Status != "external" {
		t.Errorf("Stats.Status = %q, want %q", stats.Status, "external")
	}
	if stats.Address != ln.Addr().String() {
		t.Errorf("Stats.Address = %q, want %q", stats.Address, ln.Addr().String())
	}
	if stats.Refs != 1 {
		t.Errorf("Stats.Refs = %d, want 1", stats.Refs)
	}
}
