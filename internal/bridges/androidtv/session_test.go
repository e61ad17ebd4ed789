package androidtv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// mockClient is a scriptable ProtocolClient for session tests.
type mockClient struct {
	mu sync.Mutex

	connectErr  error
	shellOut    map[string]string
	shellErr    error
	connects    int
	disconnects int
	commands    []string

	// inflight counts Shell calls currently executing; maxInflight
	// records the high-water mark so overlap is detectable.
	inflight    int
	maxInflight int
}

func newMockClient() *mockClient {
	return &mockClient{shellOut: make(map[string]string)}
}

func (m *mockClient) Connect(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	return m.connectErr
}

func (m *mockClient) Shell(_ context.Context, _, command string) (string, error) {
	m.mu.Lock()
	m.inflight++
	if m.inflight > m.maxInflight {
		m.maxInflight = m.inflight
	}
	m.commands = append(m.commands, command)
	err := m.shellErr
	out := m.shellOut[command]
	m.mu.Unlock()

	// Hold the call open briefly so overlapping executions show up in
	// maxInflight.
	time.Sleep(time.Millisecond)

	m.mu.Lock()
	m.inflight--
	m.mu.Unlock()

	if err != nil {
		return "", err
	}
	return out, nil
}

func (m *mockClient) Disconnect(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	return nil
}

func (m *mockClient) setConnectErr(err error) {
	m.mu.Lock()
	m.connectErr = err
	m.mu.Unlock()
}

func (m *mockClient) setShellErr(err error) {
	m.mu.Lock()
	m.shellErr = err
	m.mu.Unlock()
}

func (m *mockClient) commandLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.commands))
	copy(out, m.commands)
	return out
}

func (m *mockClient) maxInflightSeen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInflight
}

func newTestSession(t *testing.T, client ProtocolClient) *Session {
	t.Helper()
	s := NewSession(SessionConfig{
		DeviceID: "dev-1",
		Address:  "10.0.0.5:5555",
		Client:   client,
		Policy:   NewReconnectPolicy(10*time.Millisecond, 100*time.Millisecond),
	})
	t.Cleanup(s.Close)
	return s
}

func TestSessionConnect(t *testing.T) {
	client := newMockClient()
	s := newTestSession(t, client)

	if s.State() != StateDisconnected {
		t.Fatalf("initial state = %v", s.State())
	}

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if s.State() != StateConnected {
		t.Errorf("state = %v, want %v", s.State(), StateConnected)
	}
	if client.connects != 1 {
		t.Errorf("connects = %d, want 1", client.connects)
	}

	// Connecting again is a no-op
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if client.connects != 1 {
		t.Errorf("connects after reconnect = %d, want 1", client.connects)
	}
}

func TestSessionConnectFailureEntersBackoff(t *testing.T) {
	client := newMockClient()
	client.setConnectErr(errors.New("connection refused"))
	s := newTestSession(t, client)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v, want nil (failures are absorbed)", err)
	}
	if s.State() != StateBackoff {
		t.Errorf("state = %v, want %v", s.State(), StateBackoff)
	}
	if s.FailureCount() != 1 {
		t.Errorf("failure count = %d, want 1", s.FailureCount())
	}
	if !s.NextRetryAt().After(time.Now().Add(-time.Second)) {
		t.Error("next retry not scheduled")
	}
}

func TestSessionBackoffHonorsSchedule(t *testing.T) {
	client := newMockClient()
	client.setConnectErr(errors.New("connection refused"))
	s := NewSession(SessionConfig{
		DeviceID: "dev-1",
		Address:  "10.0.0.5:5555",
		Client:   client,
		Policy:   NewReconnectPolicy(time.Hour, time.Hour),
	})
	defer s.Close()

	s.Connect(context.Background())
	if client.connects != 1 {
		t.Fatalf("connects = %d", client.connects)
	}

	// Retry far in the future: further Connect calls are no-ops
	s.Connect(context.Background())
	s.Connect(context.Background())
	if client.connects != 1 {
		t.Errorf("connects = %d, want 1 (retry not yet due)", client.connects)
	}
}

func TestSessionBackoffRetriesWhenDue(t *testing.T) {
	client := newMockClient()
	client.setConnectErr(errors.New("connection refused"))
	s := newTestSession(t, client)

	s.Connect(context.Background())
	if s.State() != StateBackoff {
		t.Fatalf("state = %v", s.State())
	}

	// Policy max is 100ms; once the retry is due the device has come back
	time.Sleep(150 * time.Millisecond)
	client.setConnectErr(nil)

	s.Connect(context.Background())
	if s.State() != StateConnected {
		t.Errorf("state = %v, want %v", s.State(), StateConnected)
	}
	if s.FailureCount() != 0 {
		t.Errorf("failure count = %d, want 0 after success", s.FailureCount())
	}
}

func TestSessionExecuteShell(t *testing.T) {
	client := newMockClient()
	client.shellOut["getprop ro.build.version.release"] = "12\n"
	s := newTestSession(t, client)

	s.Connect(context.Background())

	out, err := s.ExecuteShell(context.Background(), "getprop ro.build.version.release")
	if err != nil {
		t.Fatalf("ExecuteShell() error = %v", err)
	}
	if out != "12\n" {
		t.Errorf("output = %q", out)
	}
}

func TestSessionExecuteShellNotConnected(t *testing.T) {
	client := newMockClient()
	s := newTestSession(t, client)

	_, err := s.ExecuteShell(context.Background(), "dumpsys power")
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("error = %v, want ErrNotConnected", err)
	}
}

func TestSessionCommandOrder(t *testing.T) {
	client := newMockClient()
	s := newTestSession(t, client)
	s.Connect(context.Background())

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		cmd := fmt.Sprintf("input keyevent %d", i)
		wg.Add(1)
		go func(i int, cmd string) {
			defer wg.Done()
			_, errs[i] = s.ExecuteShell(context.Background(), cmd)
		}(i, cmd)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("command %d: %v", i, err)
		}
	}
	// All commands ran; with concurrent submitters the inter-command
	// order is theirs to lose, but none may be dropped.
	if got := len(client.commandLog()); got != n {
		t.Errorf("executed %d commands, want %d", got, n)
	}
	// And never more than one at a time.
	if got := client.maxInflightSeen(); got != 1 {
		t.Errorf("max in-flight commands = %d, want 1", got)
	}
}

func TestSessionFailureThresholdForcesReconnect(t *testing.T) {
	client := newMockClient()
	s := NewSession(SessionConfig{
		DeviceID:         "dev-1",
		Address:          "10.0.0.5:5555",
		Client:           client,
		Policy:           NewReconnectPolicy(time.Hour, time.Hour),
		FailureThreshold: 3,
	})
	defer s.Close()

	s.Connect(context.Background())
	client.setShellErr(errors.New("device offline"))

	for i := 0; i < 3; i++ {
		if _, err := s.ExecuteShell(context.Background(), "dumpsys power"); err == nil {
			t.Fatal("expected command failure")
		}
	}

	if s.State() != StateBackoff {
		t.Errorf("state = %v, want %v after threshold", s.State(), StateBackoff)
	}
	if client.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", client.disconnects)
	}
}

func TestSessionCommandSuccessResetsFailures(t *testing.T) {
	client := newMockClient()
	s := NewSession(SessionConfig{
		DeviceID:         "dev-1",
		Address:          "10.0.0.5:5555",
		Client:           client,
		Policy:           NewReconnectPolicy(time.Hour, time.Hour),
		FailureThreshold: 3,
	})
	defer s.Close()

	s.Connect(context.Background())

	client.setShellErr(errors.New("transient"))
	s.ExecuteShell(context.Background(), "dumpsys power")
	s.ExecuteShell(context.Background(), "dumpsys power")

	client.setShellErr(nil)
	if _, err := s.ExecuteShell(context.Background(), "dumpsys power"); err != nil {
		t.Fatalf("ExecuteShell() error = %v", err)
	}

	// Two more failures stay under the threshold again
	client.setShellErr(errors.New("transient"))
	s.ExecuteShell(context.Background(), "dumpsys power")
	s.ExecuteShell(context.Background(), "dumpsys power")

	if s.State() != StateConnected {
		t.Errorf("state = %v, want still connected", s.State())
	}
}

func TestSessionClose(t *testing.T) {
	client := newMockClient()
	s := newTestSession(t, client)
	s.Connect(context.Background())

	s.Close()
	if s.State() != StateClosed {
		t.Errorf("state = %v, want %v", s.State(), StateClosed)
	}
	if client.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", client.disconnects)
	}

	// Idempotent
	s.Close()
	if client.disconnects != 1 {
		t.Errorf("disconnects after second close = %d, want 1", client.disconnects)
	}

	if err := s.Connect(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Connect() after close = %v, want ErrSessionClosed", err)
	}
	if _, err := s.ExecuteShell(context.Background(), "dumpsys power"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("ExecuteShell() after close = %v, want ErrSessionClosed", err)
	}
}

func TestSessionStateChangeCallback(t *testing.T) {
	client := newMockClient()

	var mu sync.Mutex
	var transitions []ConnState
	done := make(chan struct{}, 8)

	s := NewSession(SessionConfig{
		DeviceID: "dev-1",
		Address:  "10.0.0.5:5555",
		Client:   client,
		Policy:   NewReconnectPolicy(10*time.Millisecond, 100*time.Millisecond),
		OnStateChange: func(_ string, state ConnState) {
			mu.Lock()
			transitions = append(transitions, state)
			mu.Unlock()
			done <- struct{}{}
		},
	})
	defer s.Close()

	s.Connect(context.Background())

	// Connecting, then Connected
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for state change")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []ConnState{StateConnecting, StateConnected}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i, st := range want {
		if transitions[i] != st {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], st)
		}
	}
}

func TestSessionStateChangeOrder(t *testing.T) {
	client := newMockClient()
	client.setConnectErr(errors.New("connection refused"))

	var mu sync.Mutex
	var transitions []ConnState
	done := make(chan struct{}, 8)

	s := NewSession(SessionConfig{
		DeviceID: "dev-1",
		Address:  "10.0.0.5:5555",
		Client:   client,
		Policy:   NewReconnectPolicy(10*time.Millisecond, 20*time.Millisecond),
		OnStateChange: func(_ string, state ConnState) {
			mu.Lock()
			transitions = append(transitions, state)
			mu.Unlock()
			done <- struct{}{}
		},
	})

	s.Connect(context.Background()) // fails: Connecting, Backoff

	time.Sleep(50 * time.Millisecond)
	client.setConnectErr(nil)
	s.Connect(context.Background()) // retry: Connecting, Connected

	s.Close() // Closed

	want := []ConnState{
		StateConnecting, StateBackoff,
		StateConnecting, StateConnected,
		StateClosed,
	}
	for i := 0; i < len(want); i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d transitions", i)
		}
	}

	// Every transition must arrive, in the order it happened. Out-of-order
	// delivery would let a stale Connected overwrite a newer Backoff
	// downstream.
	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i, st := range want {
		if transitions[i] != st {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], st)
		}
	}
}
