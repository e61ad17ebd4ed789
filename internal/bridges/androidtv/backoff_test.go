package androidtv

import (
	"testing"
	"time"
)

func TestReconnectPolicyDefaults(t *testing.T) {
	p := NewReconnectPolicy(0, 0)
	if p.Base() != defaultBaseDelay {
		t.Errorf("base = %v, want %v", p.Base(), defaultBaseDelay)
	}
	if p.Max() != defaultMaxDelay {
		t.Errorf("max = %v, want %v", p.Max(), defaultMaxDelay)
	}
}

func TestReconnectPolicyMaxBelowBase(t *testing.T) {
	p := NewReconnectPolicy(10*time.Second, time.Second)
	if p.Max() != 10*time.Second {
		t.Errorf("max = %v, want clamped to base", p.Max())
	}
}

func TestNextDelayDoubling(t *testing.T) {
	p := NewReconnectPolicy(2*time.Second, 2*time.Minute)

	// Expected midpoints before jitter: 2s, 4s, 8s, 16s, 32s, 64s,
	// then capped at 120s.
	expected := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		64 * time.Second,
		120 * time.Second,
		120 * time.Second,
	}

	for i, want := range expected {
		failures := i + 1
		got := p.NextDelay(failures)
		lo := time.Duration(float64(want) * (1 - jitterFraction))
		hi := time.Duration(float64(want) * (1 + jitterFraction))
		if got < lo || got > hi {
			t.Errorf("NextDelay(%d) = %v, want within [%v, %v]", failures, got, lo, hi)
		}
	}
}

func TestNextDelayMonotoneUntilCap(t *testing.T) {
	p := NewReconnectPolicy(time.Second, time.Hour)

	// Midpoints double each step; jitter is at most 10%, so each delay
	// must exceed the previous one even at the extremes.
	prev := time.Duration(0)
	for failures := 1; failures <= 10; failures++ {
		got := p.NextDelay(failures)
		if got <= prev {
			t.Fatalf("NextDelay(%d) = %v, not above previous %v", failures, got, prev)
		}
		prev = got
	}
}

func TestNextDelayZeroFailures(t *testing.T) {
	p := NewReconnectPolicy(2*time.Second, time.Minute)
	got := p.NextDelay(0)
	lo := time.Duration(float64(2*time.Second) * (1 - jitterFraction))
	hi := time.Duration(float64(2*time.Second) * (1 + jitterFraction))
	if got < lo || got > hi {
		t.Errorf("NextDelay(0) = %v, want near base", got)
	}
}
