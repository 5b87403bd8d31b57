package avcore

import (
	"math"
	"testing"
)

func TestClockInitialValueIsNaN(t *testing.T) {
	c := NewClock(nil)
	if !math.IsNaN(c.Get()) {
		t.Fatalf("expected NaN from a fresh clock, got %v", c.Get())
	}
}

func TestClockSetAndGet(t *testing.T) {
	c := NewClock(nil)
	c.Set(5.0, 1)
	got := c.Get()
	if math.Abs(got-5.0) > 0.05 {
		t.Fatalf("expected ~5.0 immediately after Set, got %v", got)
	}
}

func TestClockStaleAfterEpochMismatch(t *testing.T) {
	epoch := 1
	c := NewClock(func() int { return epoch })
	c.Set(2.0, 1)
	if math.IsNaN(c.Get()) {
		t.Fatalf("clock should be live when epoch matches")
	}
	epoch = 2
	if !math.IsNaN(c.Get()) {
		t.Fatalf("clock should go stale (NaN) once the live epoch advances past its own")
	}
}

func TestClockPausedReturnsStoredPts(t *testing.T) {
	c := NewClock(nil)
	c.Set(3.0, 0)
	c.SetPaused(true)
	if got := c.Get(); got != 3.0 {
		t.Fatalf("paused clock should freeze at its stored pts, got %v", got)
	}
}

func TestClockSyncToSlaveOnlyWhenDivergentOrStale(t *testing.T) {
	master := NewClock(nil)
	slave := NewClock(nil)
	slave.Set(100.0, 0)

	master.Set(100.01, 0)
	master.SyncToSlave(slave, 10.0)
	if got := master.Get(); math.Abs(got-100.01) > 1.0 {
		t.Fatalf("small divergence should not force a resync, got %v", got)
	}

	master.Set(50.0, 0)
	master.SyncToSlave(slave, 10.0)
	if got := master.Get(); math.Abs(got-100.0) > 1.0 {
		t.Fatalf("large divergence should force a resync to the slave value, got %v", got)
	}
}
