package attempt

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stemsi/exstem-attempt/internal/clock"
)

// Phase classifies the remaining time for display.
type Phase string

const (
	PhaseNormal   Phase = "NORMAL"
	PhaseWarning  Phase = "WARNING"
	PhaseCritical Phase = "CRITICAL"
)

// TimerConfig holds the countdown parameters of one attempt.
type TimerConfig struct {
	TotalSeconds     int
	RemainingSeconds int
	WarningSeconds   int
	CriticalSeconds  int
}

// Timer counts an attempt down one second at a time and fires its expiry
// callback exactly once when the countdown reaches zero.
type Timer struct {
	mu    sync.Mutex
	clock clock.Clock
	cfg   TimerConfig

	remaining int
	started   bool
	paused    bool
	expired   bool
	stopped   bool

	// gen invalidates ticks that were already in flight when the pending
	// timer was replaced.
	gen     uint64
	pending clock.Timer
	// next is the deadline of the upcoming tick. Ticks are scheduled against
	// it, not against when the previous callback ran, so latency never
	// accumulates.
	next  time.Time
	carry time.Duration

	onExpire atomic.Pointer[func()]
}

// NewTimer creates a stopped countdown. Call Start to begin ticking.
func NewTimer(clk clock.Clock, cfg TimerConfig, onExpire func()) *Timer {
	if cfg.RemainingSeconds < 0 {
		cfg.RemainingSeconds = 0
	}
	if cfg.TotalSeconds < cfg.RemainingSeconds {
		cfg.TotalSeconds = cfg.RemainingSeconds
	}
	t := &Timer{
		clock:     clk,
		cfg:       cfg,
		remaining: cfg.RemainingSeconds,
	}
	t.OnExpire(onExpire)
	return t
}

// OnExpire replaces the expiry callback without touching the tick schedule.
func (t *Timer) OnExpire(fn func()) {
	if fn == nil {
		t.onExpire.Store(nil)
		return
	}
	t.onExpire.Store(&fn)
}

// Start begins the countdown. Calling it again is a no-op.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started || t.stopped {
		return
	}
	t.started = true
	if t.remaining == 0 {
		t.gen++
		gen := t.gen
		t.pending = t.clock.AfterFunc(0, func() { t.expireNow(gen) })
		return
	}
	t.scheduleLocked(time.Second)
}

// Pause freezes the countdown, keeping the progress made into the current second.
func (t *Timer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started || t.paused || t.expired || t.stopped {
		return
	}
	t.paused = true
	t.cancelLocked()
	t.carry = t.clock.Now().Sub(t.next.Add(-time.Second))
	if t.carry < 0 || t.carry >= time.Second {
		t.carry = 0
	}
}

// Resume continues the countdown from the value held at Pause.
func (t *Timer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.paused || t.stopped {
		return
	}
	t.paused = false
	carry := t.carry
	t.carry = 0
	t.scheduleLocked(time.Second - carry)
}

// Stop cancels the pending tick. The expiry callback never fires afterwards.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.cancelLocked()
}

// Remaining returns the remaining whole seconds.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Format renders the remaining time as mm:ss.
func (t *Timer) Format() string {
	return FormatClock(t.Remaining())
}

// ElapsedPercent reports how much of the allotted time is used, 0..100.
func (t *Timer) ElapsedPercent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cfg.TotalSeconds <= 0 {
		return 100
	}
	return float64(t.cfg.TotalSeconds-t.remaining) / float64(t.cfg.TotalSeconds) * 100
}

// Phase classifies the remaining time against the configured thresholds.
func (t *Timer) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.remaining <= t.cfg.CriticalSeconds:
		return PhaseCritical
	case t.remaining <= t.cfg.WarningSeconds:
		return PhaseWarning
	default:
		return PhaseNormal
	}
}

func (t *Timer) IsWarning() bool  { return t.Phase() == PhaseWarning }
func (t *Timer) IsCritical() bool { return t.Phase() == PhaseCritical }

func (t *Timer) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

func (t *Timer) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}

// FormatClock renders seconds as mm:ss. Minutes are not wrapped into hours.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func (t *Timer) scheduleLocked(d time.Duration) {
	t.next = t.clock.Now().Add(d)
	t.armLocked()
}

func (t *Timer) armLocked() {
	t.gen++
	gen := t.gen
	delay := max(t.next.Sub(t.clock.Now()), 0)
	t.pending = t.clock.AfterFunc(delay, func() { t.tick(gen) })
}

func (t *Timer) cancelLocked() {
	t.gen++
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}

func (t *Timer) tick(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.paused || t.stopped || t.expired {
		t.mu.Unlock()
		return
	}
	// A callback delivered more than a second late (suspended host) counts
	// every deadline it missed.
	steps := 1
	if late := t.clock.Now().Sub(t.next); late >= time.Second {
		steps += int(late / time.Second)
	}
	t.remaining -= steps
	if t.remaining > 0 {
		t.next = t.next.Add(time.Duration(steps) * time.Second)
		t.armLocked()
		t.mu.Unlock()
		return
	}
	t.expireLocked()
	t.mu.Unlock()
	t.fire()
}

func (t *Timer) expireNow(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.paused || t.stopped || t.expired {
		t.mu.Unlock()
		return
	}
	t.expireLocked()
	t.mu.Unlock()
	t.fire()
}

func (t *Timer) expireLocked() {
	t.remaining = 0
	t.expired = true
	t.pending = nil
}

func (t *Timer) fire() {
	if fn := t.onExpire.Load(); fn != nil {
		(*fn)()
	}
}
