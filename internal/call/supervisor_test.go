package call

import (
	"context"
	"testing"
	"time"

	"github.com/leximon/telephone/internal/events"
)

func TestSweepLeavesHealthyCalls(t *testing.T) {
	f := newFixture(t, fastTimings())
	f.answer(t)
	sup := NewSupervisor(f.svc)

	if got := sup.Sweep(context.Background(), time.Now()); got != 0 {
		t.Errorf("Sweep() closed %d calls, want 0", got)
	}
	if got := f.svc.Registry().Len(); got != 2 {
		t.Errorf("registry len = %d, want 2", got)
	}
}

func TestSweepForceClosesIdleCallOnce(t *testing.T) {
	f := newFixture(t, fastTimings())
	caller, callee := f.answer(t)
	sup := NewSupervisor(f.svc)

	f.lc.Conn("a").SetHumanCount(0)
	f.lc.Conn("b").SetHumanCount(0)

	now := time.Now()
	if got := sup.Sweep(context.Background(), now); got != 0 {
		t.Fatalf("first Sweep() closed %d calls, want 0 (idle clock just started)", got)
	}
	if got := sup.Sweep(context.Background(), now.Add(time.Second)); got != 1 {
		t.Errorf("second Sweep() closed %d calls, want exactly 1", got)
	}

	if _, ok := caller.State().(Succeeded); !ok {
		t.Errorf("caller state = %v, want Succeeded", caller.State())
	}
	if _, ok := callee.State().(Succeeded); !ok {
		t.Errorf("callee state = %v, want Succeeded", callee.State())
	}
	if got := f.svc.Registry().Len(); got != 0 {
		t.Errorf("registry len = %d, want 0", got)
	}
	ended := f.pub.ByType(events.CallEnded)
	if len(ended) != 1 || ended[0].Disposition != events.DispositionForced {
		t.Errorf("ended events = %+v, want one FORCED", ended)
	}
}

func TestSweepEnforcesTimeLimit(t *testing.T) {
	f := newFixture(t, fastTimings())
	caller, _ := f.answer(t)
	sup := NewSupervisor(f.svc)

	far := time.Now().Add(25 * time.Hour)
	if got := sup.Sweep(context.Background(), far); got != 1 {
		t.Errorf("Sweep() closed %d calls, want 1 past the time limit", got)
	}
	if _, ok := caller.State().(Succeeded); !ok {
		t.Errorf("caller state = %v, want Succeeded", caller.State())
	}
}

func TestSweepClosesWhenOneSideEmpty(t *testing.T) {
	f := newFixture(t, fastTimings())
	f.answer(t)
	sup := NewSupervisor(f.svc)

	f.lc.Conn("a").SetHumanCount(0)
	now := time.Now()
	sup.Sweep(context.Background(), now)
	if got := sup.Sweep(context.Background(), now.Add(time.Second)); got != 1 {
		t.Errorf("Sweep() closed %d calls, want 1 (one empty side ends the call)", got)
	}
}

func TestSupervisorRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, fastTimings())
	sup := NewSupervisor(f.svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after context cancellation")
	}
}
