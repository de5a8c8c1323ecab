package clock

import (
	"testing"
	"time"
)

func TestManualFiresInDeadlineOrder(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var order []string

	m.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	m.AfterFunc(time.Second, func() { order = append(order, "a") })
	m.AfterFunc(5*time.Second, func() { order = append(order, "late") })

	m.Advance(3 * time.Second)

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("unexpected order: %v", order)
	}
	if got := m.Now(); !got.Equal(time.Unix(3, 0)) {
		t.Fatalf("now = %v, want 3s", got)
	}
	if m.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", m.Pending())
	}
}

func TestManualRunsCallbacksScheduledInsideWindow(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	ticks := 0

	var tick func()
	tick = func() {
		ticks++
		m.AfterFunc(time.Second, tick)
	}
	m.AfterFunc(time.Second, tick)

	m.Advance(10 * time.Second)

	if ticks != 10 {
		t.Fatalf("ticks = %d, want 10", ticks)
	}
}

func TestManualStop(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	fired := false
	timer := m.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("first Stop should report true")
	}
	if timer.Stop() {
		t.Fatal("second Stop should report false")
	}

	m.Advance(2 * time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}
}
