package call

import (
	"sync"
	"testing"
	"time"
)

func TestGovernor_SoftLimitFiresOnce(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	g := NewGovernor(GovernorConfig{
		SoftLimit: 15 * time.Millisecond,
		HardLimit: time.Hour,
		OnSoftLimit: func() {
			mu.Lock()
			fired++
			mu.Unlock()
		},
	})
	defer g.Stop()

	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fired != 1 {
		t.Errorf("soft limit fired %d times, want 1", fired)
	}
	if !g.SoftLimitReached() {
		t.Error("SoftLimitReached() = false, want true")
	}
}

func TestGovernor_HardLimitThenGraceForceEnd(t *testing.T) {
	hard := make(chan struct{})
	force := make(chan struct{})
	g := NewGovernor(GovernorConfig{
		SoftLimit:   time.Hour,
		HardLimit:   15 * time.Millisecond,
		Grace:       15 * time.Millisecond,
		OnHardLimit: func() { close(hard) },
		OnForceEnd:  func() { close(force) },
	})
	defer g.Stop()

	select {
	case <-hard:
	case <-time.After(time.Second):
		t.Fatal("hard limit did not fire")
	}

	select {
	case <-force:
		t.Fatal("force end fired before the grace period")
	case <-time.After(5 * time.Millisecond):
	}

	select {
	case <-force:
	case <-time.After(time.Second):
		t.Fatal("force end did not fire after grace")
	}
}

func TestGovernor_StopCancelsTimers(t *testing.T) {
	fired := make(chan struct{}, 3)
	g := NewGovernor(GovernorConfig{
		SoftLimit:   15 * time.Millisecond,
		HardLimit:   20 * time.Millisecond,
		Grace:       5 * time.Millisecond,
		OnSoftLimit: func() { fired <- struct{}{} },
		OnHardLimit: func() { fired <- struct{}{} },
		OnForceEnd:  func() { fired <- struct{}{} },
	})
	g.Stop()

	select {
	case <-fired:
		t.Fatal("a timer fired after Stop")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestGovernor_StopDuringGrace(t *testing.T) {
	force := make(chan struct{}, 1)
	g := NewGovernor(GovernorConfig{
		SoftLimit:  time.Hour,
		HardLimit:  10 * time.Millisecond,
		Grace:      30 * time.Millisecond,
		OnForceEnd: func() { force <- struct{}{} },
	})

	// Let the hard limit fire, then stop before the grace elapses. This is
	// the normal path: the closing line finishes and the session ends.
	time.Sleep(20 * time.Millisecond)
	g.Stop()

	select {
	case <-force:
		t.Fatal("force end fired after Stop")
	case <-time.After(60 * time.Millisecond):
	}
}
