package service

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestLoginLimiter_LocksAfterMaxAttempts(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)}
	l := NewLoginLimiter(3, 15*time.Minute, 30*time.Minute)
	l.now = clock.Now

	for i := 0; i < 2; i++ {
		if locked, _ := l.RecordFailure("alice"); locked {
			t.Fatalf("locked after %d failures", i+1)
		}
	}
	locked, d := l.RecordFailure("alice")
	if !locked || d != 15*time.Minute {
		t.Fatalf("third failure = %v %s, want locked for 15m", locked, d)
	}
	if locked, _ := l.IsLocked("alice"); !locked {
		t.Error("alice should be locked")
	}
	if locked, _ := l.IsLocked("bob"); locked {
		t.Error("bob should not be locked")
	}

	clock.Advance(16 * time.Minute)
	if locked, _ := l.IsLocked("alice"); locked {
		t.Error("lock should have expired")
	}
}

func TestLoginLimiter_ResetAfterQuietPeriod(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)}
	l := NewLoginLimiter(2, 15*time.Minute, 10*time.Minute)
	l.now = clock.Now

	l.RecordFailure("alice")
	clock.Advance(11 * time.Minute)
	if locked, _ := l.RecordFailure("alice"); locked {
		t.Error("failure count should reset after a quiet period")
	}
}

func TestLoginLimiter_SuccessClears(t *testing.T) {
	l := NewLoginLimiter(2, 15*time.Minute, 30*time.Minute)
	l.RecordFailure("alice")
	l.RecordSuccess("alice")
	if locked, _ := l.RecordFailure("alice"); locked {
		t.Error("success should clear earlier failures")
	}
}

func TestIPLoginLimiter_SuccessDecays(t *testing.T) {
	l := NewIPLoginLimiter(3, 30*time.Minute, time.Hour)
	l.RecordFailure("10.0.0.1")
	l.RecordFailure("10.0.0.1")
	l.RecordSuccess("10.0.0.1")

	// one failure forgiven, one remains
	if locked, _ := l.RecordFailure("10.0.0.1"); locked {
		t.Fatal("locked too early")
	}
	if locked, _ := l.RecordFailure("10.0.0.1"); !locked {
		t.Error("expected lock on the third outstanding failure")
	}
}

func TestLoginLimiter_Cleanup(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)}
	l := NewLoginLimiter(5, 15*time.Minute, 10*time.Minute)
	l.now = clock.Now

	l.RecordFailure("stale")
	clock.Advance(11 * time.Minute)
	l.RecordFailure("fresh")
	l.Cleanup()

	if _, ok := l.attempts["stale"]; ok {
		t.Error("stale entry should be dropped")
	}
	if _, ok := l.attempts["fresh"]; !ok {
		t.Error("fresh entry should be kept")
	}
}
