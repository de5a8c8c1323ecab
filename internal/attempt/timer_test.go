package attempt

import (
	"testing"
	"time"

	"github.com/stemsi/exstem-attempt/internal/clock"
)

func newTestTimer(remaining int, onExpire func()) (*Timer, *clock.Manual) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	tm := NewTimer(clk, TimerConfig{
		TotalSeconds:     10,
		RemainingSeconds: remaining,
		WarningSeconds:   3,
		CriticalSeconds:  1,
	}, onExpire)
	return tm, clk
}

func TestTimerCountsDown(t *testing.T) {
	tm, clk := newTestTimer(5, nil)
	tm.Start()

	clk.Advance(2 * time.Second)

	if got := tm.Remaining(); got != 3 {
		t.Fatalf("remaining = %d, want 3", got)
	}
	if got := tm.Format(); got != "00:03" {
		t.Fatalf("format = %q, want 00:03", got)
	}
	if got := tm.ElapsedPercent(); got != 70 {
		t.Fatalf("elapsed = %v, want 70", got)
	}
}

func TestTimerExpiresExactlyOnce(t *testing.T) {
	fired := 0
	tm, clk := newTestTimer(3, func() { fired++ })
	tm.Start()
	tm.Start()

	clk.Advance(10 * time.Second)

	if fired != 1 {
		t.Fatalf("expiry fired %d times, want 1", fired)
	}
	if !tm.Expired() || tm.Remaining() != 0 {
		t.Fatalf("expired = %v remaining = %d", tm.Expired(), tm.Remaining())
	}
	if clk.Pending() != 0 {
		t.Fatalf("timer left %d callbacks scheduled", clk.Pending())
	}
}

func TestTimerResumedAtZeroExpiresImmediately(t *testing.T) {
	fired := 0
	tm, clk := newTestTimer(0, func() { fired++ })
	tm.Start()

	clk.Advance(0)

	if fired != 1 {
		t.Fatalf("expiry fired %d times, want 1", fired)
	}
}

func TestTimerPauseKeepsPartialSecond(t *testing.T) {
	tm, clk := newTestTimer(5, nil)
	tm.Start()

	clk.Advance(1500 * time.Millisecond)
	tm.Pause()
	clk.Advance(time.Minute)

	if got := tm.Remaining(); got != 4 {
		t.Fatalf("remaining while paused = %d, want 4", got)
	}
	if !tm.Paused() {
		t.Fatal("timer should report paused")
	}

	tm.Resume()
	clk.Advance(499 * time.Millisecond)
	if got := tm.Remaining(); got != 4 {
		t.Fatalf("remaining before carry elapsed = %d, want 4", got)
	}
	clk.Advance(time.Millisecond)
	if got := tm.Remaining(); got != 3 {
		t.Fatalf("remaining after resume = %d, want 3", got)
	}
}

func TestTimerStopPreventsExpiry(t *testing.T) {
	fired := 0
	tm, clk := newTestTimer(2, func() { fired++ })
	tm.Start()
	clk.Advance(time.Second)
	tm.Stop()

	clk.Advance(time.Minute)

	if fired != 0 {
		t.Fatalf("expiry fired after stop")
	}
	if got := tm.Remaining(); got != 1 {
		t.Fatalf("remaining = %d, want 1", got)
	}
}

func TestTimerPhases(t *testing.T) {
	tm, clk := newTestTimer(5, nil)
	tm.Start()

	steps := []struct {
		advance time.Duration
		want    Phase
	}{
		{0, PhaseNormal},
		{time.Second, PhaseNormal},
		{time.Second, PhaseWarning},
		{time.Second, PhaseWarning},
		{time.Second, PhaseCritical},
		{time.Second, PhaseCritical},
	}
	for i, s := range steps {
		clk.Advance(s.advance)
		if got := tm.Phase(); got != s.want {
			t.Fatalf("step %d: phase = %s, want %s (remaining %d)", i, got, s.want, tm.Remaining())
		}
	}
	if !tm.IsCritical() || tm.IsWarning() {
		t.Fatal("expired timer should be critical only")
	}
}

func TestFormatClock(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "00:00"},
		{9, "00:09"},
		{65, "01:05"},
		{3600, "60:00"},
		{-4, "00:00"},
	}
	for _, tt := range tests {
		if got := FormatClock(tt.seconds); got != tt.want {
			t.Errorf("FormatClock(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

// lateClock delivers every callback lag after its deadline, the way a busy
// runtime does.
type lateClock struct {
	*clock.Manual
	lag time.Duration
}

func (c lateClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	return c.Manual.AfterFunc(d+c.lag, f)
}

func newLateTimer(remaining int, lag time.Duration) (*Timer, *clock.Manual) {
	manual := clock.NewManual(time.Unix(1_700_000_000, 0))
	tm := NewTimer(lateClock{Manual: manual, lag: lag}, TimerConfig{
		TotalSeconds:     remaining,
		RemainingSeconds: remaining,
	}, nil)
	return tm, manual
}

func TestTimerLatencyDoesNotAccumulate(t *testing.T) {
	lag := 20 * time.Millisecond
	tm, clk := newLateTimer(600, lag)
	tm.Start()

	clk.Advance(300*time.Second + lag)

	if got := tm.Remaining(); got != 300 {
		t.Fatalf("remaining = %d, want 300", got)
	}
}

func TestTimerCatchesUpMissedSeconds(t *testing.T) {
	tm, clk := newLateTimer(600, 2500*time.Millisecond)
	tm.Start()

	clk.Advance(10 * time.Second)

	// Wall time says 590; one tick may still be in flight.
	if got := tm.Remaining(); got < 590 || got > 591 {
		t.Fatalf("remaining = %d, want 590 or 591", got)
	}
}
