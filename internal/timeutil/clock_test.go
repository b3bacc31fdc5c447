package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker did not fire")
	}
}

func TestUnixSeconds(t *testing.T) {
	ts := time.Unix(1700000000, 500_000_000)
	if got := UnixSeconds(ts); got != 1700000000.5 {
		t.Errorf("UnixSeconds() = %f, want 1700000000.5", got)
	}
}

func TestMockClock_AdvanceFiresTicker(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	ticker := clock.NewTicker(100 * time.Millisecond)

	clock.Advance(50 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired early")
	default:
	}

	clock.Advance(50 * time.Millisecond)
	select {
	case got := <-ticker.C():
		if want := start.Add(100 * time.Millisecond); !got.Equal(want) {
			t.Errorf("tick time = %v, want %v", got, want)
		}
	default:
		t.Fatal("ticker did not fire when due")
	}

	if now := clock.Now(); !now.Equal(start.Add(100 * time.Millisecond)) {
		t.Errorf("Now() = %v", now)
	}
}

func TestMockTicker_StopAndTrigger(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Second)
	mt := clock.Tickers()[0]

	mt.Trigger(time.Unix(5, 0))
	if got := <-ticker.C(); !got.Equal(time.Unix(5, 0)) {
		t.Errorf("Trigger delivered %v", got)
	}

	ticker.Stop()
	if !mt.Stopped() {
		t.Error("Stopped() = false after Stop")
	}
	clock.Advance(10 * time.Second)
	select {
	case <-ticker.C():
		t.Error("stopped ticker fired")
	default:
	}
}

func TestMockClock_Set(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	clock.Set(time.Unix(42, 0))
	if !clock.Now().Equal(time.Unix(42, 0)) {
		t.Errorf("Now() after Set = %v", clock.Now())
	}
}
