package call

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leximon/telephone/internal/directory"
	"github.com/leximon/telephone/internal/events"
)

func TestRingTimeoutFailsBothLegs(t *testing.T) {
	f := newFixture(t, fastTimings())
	caller := f.dial(t)
	callee := f.svc.CurrentLeg("b")

	waitFor(t, func() bool {
		return caller.State().Terminal() && callee.State().Terminal()
	})

	if got := caller.State(); got != (Failed{Reason: OutgoingNoResponse}) {
		t.Errorf("caller state = %v, want Failed(OutgoingNoResponse)", got)
	}
	if got := callee.State(); got != (Failed{Reason: IncomingMissed}) {
		t.Errorf("callee state = %v, want Failed(IncomingMissed)", got)
	}

	// The caller's terminal render must come before the callee's.
	var callerAt, calleeAt = -1, -1
	for i, tr := range f.rend.Log() {
		if !tr.State.Terminal() {
			continue
		}
		switch tr.TenantID {
		case "a":
			callerAt = i
		case "b":
			calleeAt = i
		}
	}
	if callerAt == -1 || calleeAt == -1 || callerAt > calleeAt {
		t.Errorf("terminal render order caller=%d callee=%d, want caller first", callerAt, calleeAt)
	}

	waitFor(t, func() bool { return f.svc.Registry().Len() == 0 })
	if conn := f.lc.Conn("a"); conn != nil && !conn.Closed() {
		t.Error("caller voice connection still open after teardown")
	}
}

func TestPickupActivatesBothLegs(t *testing.T) {
	f := newFixture(t, fastTimings())
	caller := f.dial(t)

	if relay := caller.Relay(); relay == nil || !relay.Playing() {
		t.Error("caller relay not playing ringback while ringing")
	}

	callee := f.svc.CurrentLeg("b")
	if err := f.svc.PressPickup(context.Background(), "b", "voice-b"); err != nil {
		t.Fatalf("PressPickup() error: %v", err)
	}

	ca, ok := caller.State().(Active)
	if !ok {
		t.Fatalf("caller state = %v, want Active", caller.State())
	}
	cb, ok := callee.State().(Active)
	if !ok {
		t.Fatalf("callee state = %v, want Active", callee.State())
	}
	if !ca.StartedAt.Equal(cb.StartedAt) {
		t.Errorf("startedAt differs: caller %v, callee %v", ca.StartedAt, cb.StartedAt)
	}

	if caller.Relay().Playing() || callee.Relay().Playing() {
		t.Error("relay still in tone playback after pickup")
	}
	if got := len(f.pub.ByType(events.CallAnswered)); got != 1 {
		t.Errorf("answered events = %d, want 1", got)
	}
}

func TestHangupActiveSucceedsBothLegs(t *testing.T) {
	f := newFixture(t, fastTimings())
	caller, callee := f.answer(t)

	if err := f.svc.PressHangup(context.Background(), "a"); err != nil {
		t.Fatalf("PressHangup() error: %v", err)
	}

	sa, ok := caller.State().(Succeeded)
	if !ok || !sa.Outgoing {
		t.Errorf("caller state = %v, want Succeeded(outgoing)", caller.State())
	}
	sb, ok := callee.State().(Succeeded)
	if !ok || sb.Outgoing {
		t.Errorf("callee state = %v, want Succeeded(incoming)", callee.State())
	}
	if !sa.StartedAt.Equal(sb.StartedAt) {
		t.Error("startedAt differs between the terminal pair")
	}

	if got := f.svc.Registry().Len(); got != 0 {
		t.Errorf("registry len = %d, want 0", got)
	}
	ended := f.pub.ByType(events.CallEnded)
	if len(ended) != 1 || ended[0].Disposition != events.DispositionCompleted {
		t.Errorf("ended events = %+v, want one COMPLETED", ended)
	}
}

func TestCalleeRejectFailsBothLegs(t *testing.T) {
	f := newFixture(t, fastTimings())
	caller := f.dial(t)
	callee := f.svc.CurrentLeg("b")

	if err := f.svc.PressHangup(context.Background(), "b"); err != nil {
		t.Fatalf("PressHangup() error: %v", err)
	}

	if got := callee.State(); got != (Failed{Reason: IncomingRejected}) {
		t.Errorf("callee state = %v, want Failed(IncomingRejected)", got)
	}
	if got := caller.State(); got != (Failed{Reason: OutgoingRejected}) {
		t.Errorf("caller state = %v, want Failed(OutgoingRejected)", got)
	}
	ended := f.pub.ByType(events.CallEnded)
	if len(ended) != 1 || ended[0].Disposition != events.DispositionRejected {
		t.Errorf("ended events = %+v, want one REJECTED", ended)
	}
}

func TestPickupOnWrongLegOrState(t *testing.T) {
	f := newFixture(t, fastTimings())
	f.dial(t)

	// the caller is RingingOut, not RingingIn
	if err := f.svc.PressPickup(context.Background(), "a", "voice-a"); !errors.Is(err, ErrNotRinging) {
		t.Errorf("caller PressPickup() = %v, want ErrNotRinging", err)
	}

	if err := f.svc.PressPickup(context.Background(), "b", "voice-b"); err != nil {
		t.Fatalf("callee PressPickup() error: %v", err)
	}
	if err := f.svc.PressPickup(context.Background(), "b", "voice-b"); !errors.Is(err, ErrNotRinging) {
		t.Errorf("second PressPickup() = %v, want ErrNotRinging", err)
	}
}

func TestPickupJoinDeniedLeavesCallRinging(t *testing.T) {
	f := newFixture(t, fastTimings())
	caller := f.dial(t)
	f.lc.Deny("voice-b")

	err := f.svc.PressPickup(context.Background(), "b", "voice-b")
	var je *JoinError
	if !errors.As(err, &je) {
		t.Fatalf("PressPickup() = %v, want *JoinError", err)
	}

	callee := f.svc.CurrentLeg("b")
	if _, ok := callee.State().(RingingIn); !ok {
		t.Errorf("callee state = %v, want still RingingIn", callee.State())
	}
	if _, ok := caller.State().(RingingOut); !ok {
		t.Errorf("caller state = %v, want still RingingOut", caller.State())
	}
}

func TestCloseIdempotent(t *testing.T) {
	f := newFixture(t, fastTimings())
	caller := f.dial(t)

	caller.close()
	if got := f.svc.Registry().Lookup("a"); got != nil {
		t.Fatal("caller still registered after close")
	}
	conn := f.lc.Conn("a")
	if conn == nil || !conn.Closed() {
		t.Fatal("caller voice connection not disconnected")
	}

	caller.close()
	if got := f.svc.Registry().Lookup("a"); got != nil {
		t.Error("second close changed registry state")
	}
}

func TestTerminalStateSticks(t *testing.T) {
	f := newFixture(t, fastTimings())

	leg, _ := f.svc.InitiateCall(context.Background(), "a", "text-a", "voice-a", "ghost")
	waitFor(t, func() bool { return leg.State().Terminal() })
	renders := len(f.rend.States("a"))

	leg.setState(context.Background(), Active{StartedAt: time.Now()})

	if got := leg.State(); got != (DialingFailed{Reason: TargetNotFound}) {
		t.Errorf("state = %v, terminal state did not stick", got)
	}
	if got := len(f.rend.States("a")); got != renders {
		t.Errorf("renders = %d, want unchanged %d", got, renders)
	}
}

func TestMessageDeletedDuringDialing(t *testing.T) {
	timings := fastTimings()
	timings.DialSettle = 50 * time.Millisecond
	timings.DialToneWait = 300 * time.Millisecond
	f := newFixture(t, timings)

	leg, err := f.svc.InitiateCall(context.Background(), "a", "text-a", "voice-a", "b")
	if err != nil {
		t.Fatalf("InitiateCall() error: %v", err)
	}
	f.svc.MessageDeleted(context.Background(), "a")

	if got := f.rend.Deleted("a"); got != 1 {
		t.Errorf("message deletions = %d, want 1", got)
	}
	if got := leg.State(); got != (Dialing{}) {
		t.Errorf("state = %v, want Dialing left as-is (no terminal state)", got)
	}
	if got := f.svc.Registry().Len(); got != 0 {
		t.Errorf("registry len = %d, want 0", got)
	}
}

func TestBotDisconnectEndsActiveCall(t *testing.T) {
	f := newFixture(t, fastTimings())
	caller, callee := f.answer(t)

	f.svc.VoiceUpdate(context.Background(), "a", false)

	if _, ok := caller.State().(Succeeded); !ok {
		t.Errorf("caller state = %v, want Succeeded", caller.State())
	}
	if _, ok := callee.State().(Succeeded); !ok {
		t.Errorf("callee state = %v, want Succeeded", callee.State())
	}
	if got := f.svc.Registry().Len(); got != 0 {
		t.Errorf("registry len = %d, want 0", got)
	}
}

func TestIncomingAutoJoinSelectedChannel(t *testing.T) {
	f := newFixture(t, fastTimings())
	f.dir.SetSettings("b", directory.Settings{
		NotificationChannel: "text-b",
		JoinRule:            directory.JoinSelectedChannel,
		VoiceChannel:        "lounge-b",
	})

	f.dial(t)

	conn := f.lc.Conn("b")
	if conn == nil || conn.Channel() != "lounge-b" {
		t.Fatalf("callee conn = %v, want joined lounge-b", conn)
	}
	callee := f.svc.CurrentLeg("b")
	if relay := callee.Relay(); relay == nil || !relay.Playing() {
		t.Error("callee relay not playing the ring tone after auto-join")
	}
}

func TestIncomingAutoJoinMostUsers(t *testing.T) {
	f := newFixture(t, fastTimings())
	f.dir.SetSettings("b", directory.Settings{
		NotificationChannel: "text-b",
		JoinRule:            directory.JoinMostUsers,
	})
	f.lc.SetBusiest("b", "crowded-b")

	f.dial(t)

	conn := f.lc.Conn("b")
	if conn == nil || conn.Channel() != "crowded-b" {
		t.Fatalf("callee conn = %v, want joined crowded-b", conn)
	}
}

func TestConcurrentHangupRunsOnce(t *testing.T) {
	f := newFixture(t, fastTimings())
	caller, _ := f.answer(t)

	done := make(chan struct{}, 2)
	go func() {
		f.svc.PressHangup(context.Background(), "a")
		done <- struct{}{}
	}()
	go func() {
		f.svc.PressHangup(context.Background(), "b")
		done <- struct{}{}
	}()
	<-done
	<-done

	if _, ok := caller.State().(Succeeded); !ok {
		t.Errorf("caller state = %v, want Succeeded", caller.State())
	}
	if got := len(f.pub.ByType(events.CallEnded)); got != 1 {
		t.Errorf("ended events = %d, want exactly 1", got)
	}
}
