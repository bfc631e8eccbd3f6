package call

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leximon/telephone/internal/audio"
	"github.com/leximon/telephone/internal/config"
	"github.com/leximon/telephone/internal/directory"
	"github.com/leximon/telephone/internal/events"
	"github.com/leximon/telephone/internal/voice"
)

// fastTimings compresses every lifecycle delay so scenarios complete
// in milliseconds. The sweep interval stays long; tests drive the
// supervisor by calling Sweep directly.
func fastTimings() config.Timings {
	return config.Timings{
		DialSettle:        time.Millisecond,
		DialToneWait:      time.Millisecond,
		RingTimeout:       80 * time.Millisecond,
		PickupGrace:       time.Millisecond,
		HangupDelay:       time.Millisecond,
		SearchDelay:       time.Millisecond,
		SweepInterval:     time.Hour,
		IdleThreshold:     50 * time.Millisecond,
		CallTimeLimit:     24 * time.Hour,
		InteractionWindow: time.Second,
	}
}

type fixture struct {
	svc  *Service
	dir  *directory.Memory
	lc   *voice.LoopbackConnector
	rend *MemoryRenderer
	pub  *events.MemoryPublisher
}

// newFixture builds a service over the in-memory collaborators with
// two call-ready tenants, "a" (Alpha) and "b" (Bravo).
func newFixture(t *testing.T, timings config.Timings) *fixture {
	t.Helper()
	dir := directory.NewMemory()
	t.Cleanup(dir.Close)
	lc := voice.NewLoopbackConnector()
	rend := NewMemoryRenderer()
	pub := events.NewMemoryPublisher()
	svc := NewService(Deps{
		Resolver:  dir,
		Settings:  dir,
		Blocks:    dir,
		Contacts:  dir,
		Pages:     dir,
		Connector: lc,
		Renderer:  rend,
		Events:    pub,
		NodeID:    "node-test",
		Timings:   timings,
	})

	dir.AddTenant(directory.Tenant{ID: "a", Name: "Alpha"})
	dir.AddTenant(directory.Tenant{ID: "b", Name: "Bravo"})
	dir.SetSettings("a", directory.Settings{
		NotificationChannel: "text-a",
		JoinRule:            directory.JoinNever,
		SoundPack:           audio.PackClassic,
	})
	dir.SetSettings("b", directory.Settings{
		NotificationChannel: "text-b",
		JoinRule:            directory.JoinNever,
		SoundPack:           audio.PackClassic,
	})
	return &fixture{svc: svc, dir: dir, lc: lc, rend: rend, pub: pub}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// dial starts a call from a to b and waits until both sides ring.
func (f *fixture) dial(t *testing.T) *Leg {
	t.Helper()
	leg, err := f.svc.InitiateCall(context.Background(), "a", "text-a", "voice-a", "b")
	if err != nil {
		t.Fatalf("InitiateCall() error: %v", err)
	}
	waitFor(t, func() bool {
		peer := f.svc.CurrentLeg("b")
		if peer == nil {
			return false
		}
		_, in := peer.State().(RingingIn)
		_, out := leg.State().(RingingOut)
		return in && out
	})
	return leg
}

// answer dials and picks up, returning both active legs.
func (f *fixture) answer(t *testing.T) (caller, callee *Leg) {
	t.Helper()
	caller = f.dial(t)
	callee = f.svc.CurrentLeg("b")
	if err := f.svc.PressPickup(context.Background(), "b", "voice-b"); err != nil {
		t.Fatalf("PressPickup() error: %v", err)
	}
	return caller, callee
}

func TestInitiateCallRingsTarget(t *testing.T) {
	f := newFixture(t, fastTimings())
	leg := f.dial(t)

	peer := f.svc.CurrentLeg("b")
	in, ok := peer.State().(RingingIn)
	if !ok {
		t.Fatalf("callee state = %v, want RingingIn", peer.State())
	}
	if in.CallerUserCount != 1 {
		t.Errorf("CallerUserCount = %d, want 1", in.CallerUserCount)
	}

	if got := leg.Target().Name; got != "Bravo" {
		t.Errorf("caller target name = %q, want Bravo", got)
	}
	if got := peer.Target(); got.Name != "Alpha" || got.Channel != "text-a" {
		t.Errorf("callee target = %+v, want Alpha / text-a", got)
	}

	if got := len(f.pub.ByType(events.CallIncoming)); got != 1 {
		t.Errorf("incoming events = %d, want 1", got)
	}
	if got := len(f.pub.ByType(events.CallRinging)); got != 1 {
		t.Errorf("ringing events = %d, want 1", got)
	}
}

func TestInitiateCallFamiliarTarget(t *testing.T) {
	f := newFixture(t, fastTimings())
	f.dir.AddContact("a", "b", "Bob")

	leg := f.dial(t)

	got := leg.Target()
	if got.Name != "Bob" || !got.Familiar {
		t.Errorf("target = %+v, want familiar contact Bob", got)
	}
}

func TestInitiateCallTargetNotFound(t *testing.T) {
	f := newFixture(t, fastTimings())

	leg, err := f.svc.InitiateCall(context.Background(), "a", "text-a", "voice-a", "ghost")
	if err != nil {
		t.Fatalf("InitiateCall() error: %v", err)
	}
	waitFor(t, func() bool { return leg.State().Terminal() })

	if got := leg.State(); got != (DialingFailed{Reason: TargetNotFound}) {
		t.Errorf("state = %v, want DialingFailed(TargetNotFound)", got)
	}
	if got := f.svc.Registry().Len(); got != 0 {
		t.Errorf("registry len = %d, want 0 after teardown", got)
	}
}

func TestInitiateCallNoTextChannel(t *testing.T) {
	f := newFixture(t, fastTimings())
	f.dir.AddTenant(directory.Tenant{ID: "c", Name: "Charlie"})
	// c never configured a notification channel

	leg, err := f.svc.InitiateCall(context.Background(), "a", "text-a", "voice-a", "c")
	if err != nil {
		t.Fatalf("InitiateCall() error: %v", err)
	}
	waitFor(t, func() bool { return leg.State().Terminal() })

	if got := leg.State(); got != (DialingFailed{Reason: TargetNoTextChannel}) {
		t.Errorf("state = %v, want DialingFailed(TargetNoTextChannel)", got)
	}
	if got := len(f.rend.States("c")); got != 0 {
		t.Errorf("target rendered %d states, want 0 (no peer leg)", got)
	}
	if got := f.svc.Registry().Len(); got != 0 {
		t.Errorf("registry len = %d, want 0", got)
	}
}

func TestInitiateCallBlockedByTarget(t *testing.T) {
	f := newFixture(t, fastTimings())
	f.dir.Block("b", "a")

	leg, _ := f.svc.InitiateCall(context.Background(), "a", "text-a", "voice-a", "b")
	waitFor(t, func() bool { return leg.State().Terminal() })

	if got := leg.State(); got != (DialingFailed{Reason: BlockedByTarget}) {
		t.Errorf("state = %v, want DialingFailed(BlockedByTarget)", got)
	}
}

func TestInitiateCallBlockedByCaller(t *testing.T) {
	f := newFixture(t, fastTimings())
	f.dir.Block("a", "b")

	leg, _ := f.svc.InitiateCall(context.Background(), "a", "text-a", "voice-a", "b")
	waitFor(t, func() bool { return leg.State().Terminal() })

	if got := leg.State(); got != (DialingFailed{Reason: BlockedByCaller}) {
		t.Errorf("state = %v, want DialingFailed(BlockedByCaller)", got)
	}
}

func TestInitiateCallTargetBusy(t *testing.T) {
	f := newFixture(t, fastTimings())
	busy := newLeg(f.svc, "b", "text-b", true, audio.PackClassic)
	busy.state = Dialing{}
	if err := f.svc.Registry().Register("b", busy); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	leg, _ := f.svc.InitiateCall(context.Background(), "a", "text-a", "voice-a", "b")
	waitFor(t, func() bool { return leg.State().Terminal() })

	if got := leg.State(); got != (DialingFailed{Reason: TargetBusy}) {
		t.Errorf("state = %v, want DialingFailed(TargetBusy)", got)
	}
}

func TestInitiateCallJoinDenied(t *testing.T) {
	f := newFixture(t, fastTimings())
	f.lc.Deny("voice-a")

	_, err := f.svc.InitiateCall(context.Background(), "a", "text-a", "voice-a", "b")
	if !errors.Is(err, voice.ErrJoinDenied) {
		t.Fatalf("InitiateCall() = %v, want ErrJoinDenied", err)
	}
	var je *JoinError
	if !errors.As(err, &je) {
		t.Error("error is not a *JoinError")
	}
	if got := f.svc.Registry().Len(); got != 0 {
		t.Errorf("registry len = %d, want 0 (no state left behind)", got)
	}
}

func TestInitiateCallAlreadyInCall(t *testing.T) {
	f := newFixture(t, fastTimings())
	f.dial(t)

	_, err := f.svc.InitiateCall(context.Background(), "a", "text-a", "voice-a2", "b")
	if !errors.Is(err, ErrAlreadyInCall) {
		t.Errorf("second InitiateCall() = %v, want ErrAlreadyInCall", err)
	}
}

func TestInitiateCallDropsStaleLeg(t *testing.T) {
	f := newFixture(t, fastTimings())
	stale := newLeg(f.svc, "a", "text-a", true, audio.PackClassic)
	stale.state = Failed{Reason: OutgoingNoResponse}
	if err := f.svc.Registry().Register("a", stale); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	leg, err := f.svc.InitiateCall(context.Background(), "a", "text-a", "voice-a", "b")
	if err != nil {
		t.Fatalf("InitiateCall() with stale leg = %v, want success", err)
	}
	if f.svc.CurrentLeg("a") != leg {
		t.Error("registry does not hold the fresh leg")
	}
}

func TestRandomCallMatches(t *testing.T) {
	f := newFixture(t, fastTimings())
	f.dir.Enable(context.Background(), directory.Tenant{ID: "b", Name: "Bravo"})

	if _, err := f.svc.InitiateRandomCall(context.Background(), "a", "text-a", "voice-a"); err != nil {
		t.Fatalf("InitiateRandomCall() error: %v", err)
	}
	waitFor(t, func() bool {
		peer := f.svc.CurrentLeg("b")
		if peer == nil {
			return false
		}
		_, ok := peer.State().(RingingIn)
		return ok
	})

	states := f.rend.States("a")
	var sawSearch, sawDial bool
	for _, s := range states {
		switch s.(type) {
		case Searching:
			sawSearch = true
		case Dialing:
			sawDial = true
		}
	}
	if !sawSearch || !sawDial {
		t.Errorf("caller states = %v, want Searching then Dialing", states)
	}
}

func TestRandomCallNoMatch(t *testing.T) {
	f := newFixture(t, fastTimings())

	leg, err := f.svc.InitiateRandomCall(context.Background(), "a", "text-a", "voice-a")
	if err != nil {
		t.Fatalf("InitiateRandomCall() error: %v", err)
	}
	waitFor(t, func() bool { return leg.State().Terminal() })

	if got := leg.State(); got != (Searching{Failed: true}) {
		t.Errorf("state = %v, want Searching(failed)", got)
	}
	if got := f.svc.Registry().Len(); got != 0 {
		t.Errorf("registry len = %d, want 0", got)
	}
}

func TestRandomCallJoinDenied(t *testing.T) {
	f := newFixture(t, fastTimings())
	f.dir.Enable(context.Background(), directory.Tenant{ID: "b", Name: "Bravo"})
	f.lc.Deny("voice-a")

	leg, err := f.svc.InitiateRandomCall(context.Background(), "a", "text-a", "voice-a")
	if err != nil {
		t.Fatalf("InitiateRandomCall() error: %v", err)
	}
	waitFor(t, func() bool { return leg.State().Terminal() })

	if got := leg.State(); got != (DialingFailed{Reason: CouldNotJoinVoice}) {
		t.Errorf("state = %v, want DialingFailed(CouldNotJoinVoice)", got)
	}
}

func TestTriggersWithoutCall(t *testing.T) {
	f := newFixture(t, fastTimings())

	if err := f.svc.PressPickup(context.Background(), "a", "voice-a"); !errors.Is(err, ErrNoActiveCall) {
		t.Errorf("PressPickup() = %v, want ErrNoActiveCall", err)
	}
	if err := f.svc.PressHangup(context.Background(), "a"); !errors.Is(err, ErrNoActiveCall) {
		t.Errorf("PressHangup() = %v, want ErrNoActiveCall", err)
	}
	// membership and deletion triggers for idle tenants are ignored
	f.svc.VoiceUpdate(context.Background(), "a", true)
	f.svc.MessageDeleted(context.Background(), "a")
}
