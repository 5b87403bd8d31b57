package avcore

import (
	"math"
	"sync"
	"time"
)

// Clock is a monotonic virtual clock tied to a queue epoch (see packetqueue.go).
// A read that finds the clock's own stored epoch out of sync with the live
// epoch of its companion queue returns NaN: the clock is stale, a flush or
// seek happened underneath it. This is ff_clock_t from clock.h/clock.c,
// ported field for field; epochSource is the Go replacement for the raw
// `const int *queue_serial` borrow described in spec.md §9 ("Cyclic
// references"): a read-only accessor instead of a pointer into someone
// else's struct.
type Clock struct {
	mu sync.Mutex

	pts         float64
	ptsDrift    float64
	lastUpdated float64
	speed       float64
	epoch       int
	paused      bool

	// epochSource reports the live epoch of the clock's companion queue.
	// nil means the clock is self-referential (the external clock, which
	// has no companion queue and so is never stale).
	epochSource func() int
}

// NewClock creates a clock bound to epochSource. Pass nil for a
// self-referential clock (used for the external clock).
func NewClock(epochSource func() int) *Clock {
	c := &Clock{speed: 1.0, epoch: -1, epochSource: epochSource}
	c.noLockSetAt(math.NaN(), -1, nowSeconds())
	return c
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func (c *Clock) liveEpoch() int {
	if c.epochSource != nil {
		return c.epochSource()
	}
	return c.epoch
}

// Get returns the clock's current projected value, or NaN if the clock is
// stale (its stored epoch doesn't match the live epoch) or was never set.
func (c *Clock) Get() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.noLockGet()
}

func (c *Clock) noLockGet() float64 {
	if c.liveEpoch() != c.epoch {
		return math.NaN()
	}
	if c.paused {
		return c.pts
	}
	t := nowSeconds()
	return c.ptsDrift + t - (t-c.lastUpdated)*(1.0-c.speed)
}

// SetAt anchors the clock so that at wall time `at` the projected value is pts.
func (c *Clock) SetAt(pts float64, epoch int, at float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noLockSetAt(pts, epoch, at)
}

func (c *Clock) noLockSetAt(pts float64, epoch int, at float64) {
	c.pts = pts
	c.lastUpdated = at
	c.ptsDrift = c.pts - at
	c.epoch = epoch
}

// Set is SetAt(pts, epoch, now()).
func (c *Clock) Set(pts float64, epoch int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noLockSetAt(pts, epoch, nowSeconds())
}

// SetSpeed re-anchors the clock at its current projected value (so the
// instant doesn't jump) and then changes the playback speed.
func (c *Clock) SetSpeed(speed float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noLockSetAt(c.noLockGet(), c.epoch, nowSeconds())
	c.speed = speed
}

// Speed returns the clock's current playback speed.
func (c *Clock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// SetPaused pauses or resumes the clock. A paused clock returns its stored
// pts regardless of wall time.
func (c *Clock) SetPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = paused
}

// LastUpdated returns the wall-clock time (nowSeconds units) this clock was
// last anchored at, used by Player.TogglePause to carry the frame timer
// across a pause boundary without it jumping (stream_toggle_pause).
func (c *Clock) LastUpdated() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdated
}

// Epoch returns the clock's last-set epoch, regardless of staleness.
func (c *Clock) Epoch() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// SyncToSlave sets the receiver to slave's value, but only when the
// receiver is stale/NaN or has diverged from the slave by more than
// noSyncThreshold (spec.md: A/V no-sync threshold, ~10s).
func (c *Clock) SyncToSlave(slave *Clock, noSyncThreshold float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	own := c.noLockGet()
	slave.mu.Lock()
	slaveVal := slave.noLockGet()
	slaveEpoch := slave.epoch
	slave.mu.Unlock()

	if !math.IsNaN(slaveVal) && (math.IsNaN(own) || math.Abs(own-slaveVal) > noSyncThreshold) {
		c.noLockSetAt(slaveVal, slaveEpoch, nowSeconds())
	}
}
