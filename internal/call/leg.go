package call

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leximon/telephone/internal/audio"
	"github.com/leximon/telephone/internal/directory"
	"github.com/leximon/telephone/internal/events"
	"github.com/leximon/telephone/internal/logger"
	"github.com/leximon/telephone/internal/voice"
)

// TargetInfo is the denormalized snapshot of the other side, used for
// rendering before the peer leg exists. It never outlives its owning
// leg and is reconciled once the target resolves.
type TargetInfo struct {
	ID       string
	Name     string
	IconURL  string
	Familiar bool
	Channel  string
}

// Leg is one tenant's side of a call. A leg's own task tree is the
// sole mutator of its state; cross-leg transitions are one-way calls
// that never block the caller.
//
// Thread safety: all exported methods are safe for concurrent use.
type Leg struct {
	id         string
	tenantID   string
	msgChannel string
	outgoing   bool
	createdAt  time.Time

	svc *Service

	mu         sync.Mutex
	state      State
	closing    bool
	closed     bool
	answering  bool
	peerID     string
	pairLock   *sync.Mutex
	target     TargetInfo
	soundPack  audio.SoundPack
	userCount  int
	startedAt  time.Time
	emptySince time.Time

	relay *audio.Relay
	conn  voice.Conn

	dialCancel context.CancelFunc
	ringTimer  *time.Timer
}

func newLeg(svc *Service, tenantID, msgChannel string, outgoing bool, pack audio.SoundPack) *Leg {
	return &Leg{
		id:         "leg-" + uuid.New().String(),
		tenantID:   tenantID,
		msgChannel: msgChannel,
		outgoing:   outgoing,
		createdAt:  time.Now(),
		svc:        svc,
		soundPack:  pack,
	}
}

// ID returns the unique identifier for this leg.
func (l *Leg) ID() string { return l.id }

// TenantID returns the tenant this leg belongs to.
func (l *Leg) TenantID() string { return l.tenantID }

// MessageChannel returns the text channel the status message lives in.
func (l *Leg) MessageChannel() string { return l.msgChannel }

// Outgoing reports whether this is the caller side.
func (l *Leg) Outgoing() bool { return l.outgoing }

// CreatedAt returns when the leg was created.
func (l *Leg) CreatedAt() time.Time { return l.createdAt }

// State returns the current state snapshot.
func (l *Leg) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Target returns the current target snapshot.
func (l *Leg) Target() TargetInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.target
}

// StartedAt returns when the call went active, or the zero time.
func (l *Leg) StartedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startedAt
}

// Relay returns the leg's audio relay, or nil before any voice join.
func (l *Leg) Relay() *audio.Relay {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.relay
}

// Peer returns the other leg of the pair, or nil. The reference is
// resolved through the registry, so a closed peer simply disappears.
func (l *Leg) Peer() *Leg {
	l.mu.Lock()
	peerID := l.peerID
	l.mu.Unlock()
	if peerID == "" {
		return nil
	}
	peer := l.svc.registry.Lookup(peerID)
	if peer == nil || peer.pairedWith() != l.tenantID {
		return nil
	}
	return peer
}

func (l *Leg) pairedWith() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peerID
}

func (l *Leg) setTarget(t TargetInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.target = t
}

// setState installs a new state and invokes the render hook. A leg in
// a terminal state ignores further transitions.
func (l *Leg) setState(ctx context.Context, s State) {
	l.mu.Lock()
	cur := l.state
	if cur != nil && cur.Terminal() {
		l.mu.Unlock()
		return
	}
	l.state = s
	if a, ok := s.(Active); ok {
		l.startedAt = a.StartedAt
	}
	l.mu.Unlock()

	from := "none"
	if cur != nil {
		from = cur.String()
	}
	logger.Debug("leg state change",
		"leg_id", l.id,
		"tenant", l.tenantID,
		"from", from,
		"to", s.String())
	l.svc.render(ctx, l, s)
}

// attachVoice adopts a live voice connection: creates the relay on
// first join, installs the frame handlers and bridges to the peer's
// relay when it already exists.
func (l *Leg) attachVoice(conn voice.Conn) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		conn.Disconnect()
		return
	}
	if l.relay == nil {
		l.relay = audio.NewRelay()
	}
	l.conn = conn
	l.userCount = conn.HumanCount()
	relay := l.relay
	l.mu.Unlock()

	conn.SetSendHandler(relay)
	conn.SetReceiveHandler(relay)
	l.bindRelays(l.Peer())
}

// bindRelays wires both directions of the pair's audio bridge. A nil
// peer or a side without a relay yet is skipped; the binding happens
// again when that side joins voice.
func (l *Leg) bindRelays(peer *Leg) {
	if peer == nil {
		return
	}
	mine := l.Relay()
	theirs := peer.Relay()
	if mine == nil || theirs == nil {
		return
	}
	mine.BindPeer(theirs.Push)
	theirs.BindPeer(mine.Push)
}

func (l *Leg) playTone(tone audio.Tone, repeat bool) {
	relay := l.Relay()
	if relay == nil {
		return
	}
	relay.PlayTone(l.svc.tones.Track(l.soundPack, tone), repeat)
}

func (l *Leg) stopTone() {
	if relay := l.Relay(); relay != nil {
		relay.StopTone()
	}
}

// HumanCount returns the humans in the leg's voice channel, 0 when no
// channel is joined.
func (l *Leg) HumanCount() int {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return 0
	}
	return conn.HumanCount()
}

// snapshotUserCount returns the member count captured at voice join.
func (l *Leg) snapshotUserCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.userCount
}

// noteOccupancy updates the empty-channel clock. Called by the voice
// membership trigger and by every supervisor sweep.
func (l *Leg) noteOccupancy(now time.Time) {
	humans := l.HumanCount()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil || humans > 0 {
		l.emptySince = time.Time{}
		return
	}
	if l.emptySince.IsZero() {
		l.emptySince = now
	}
}

// idleFor returns how long the voice channel has been empty of humans.
func (l *Leg) idleFor(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.emptySince.IsZero() {
		return 0
	}
	return now.Sub(l.emptySince)
}

// runDial is the caller's dial task: settle, dialing tone, target
// resolution, then ringing or a terminal DialingFailed.
func (l *Leg) runDial(ctx context.Context, targetID string) {
	t := l.svc.timings
	if !sleepCtx(ctx, t.DialSettle) {
		return
	}
	l.playTone(audio.ToneDialing, false)
	if !sleepCtx(ctx, t.DialToneWait) {
		return
	}

	target, settings, reason, err := l.svc.resolveTarget(ctx, l.tenantID, targetID)
	if err != nil {
		logger.Error("target resolution failed", "tenant", l.tenantID, "target", targetID, "error", err)
		l.failDialing(ctx, TargetNotFound)
		return
	}
	if target == nil {
		l.failDialing(ctx, reason)
		return
	}
	l.startOutgoingRinging(ctx, target.ID, target.Name, target.IconURL, settings)
}

// failDialing installs the terminal DialingFailed state and tears the
// lone leg down without a hangup tone.
func (l *Leg) failDialing(ctx context.Context, reason DialFailReason) {
	l.setState(ctx, DialingFailed{Reason: reason})
	l.svc.publishEnded(ctx, l, events.DispositionFailed, reason.String(), 0)
	l.close()
}

// startOutgoingRinging creates the callee leg, wires the pair and
// races the no-response timer against the pickup and hangup triggers.
func (l *Leg) startOutgoingRinging(ctx context.Context, targetID, targetName, targetIcon string, tset directory.Settings) {
	svc := l.svc
	peer := newLeg(svc, targetID, tset.NotificationChannel, false, tset.SoundPack)
	peer.state = RingingIn{CallerUserCount: l.snapshotUserCount()}
	if err := svc.registry.Register(targetID, peer); err != nil {
		// Lost the admission race after the busy check.
		l.failDialing(ctx, TargetBusy)
		return
	}
	wirePair(l, peer)

	familiar := false
	name := targetName
	if svc.contacts != nil {
		if saved, ok, err := svc.contacts.ContactName(ctx, l.tenantID, targetID); err == nil && ok {
			name, familiar = saved, true
		}
	}
	l.setTarget(TargetInfo{
		ID:       targetID,
		Name:     name,
		IconURL:  targetIcon,
		Familiar: familiar,
		Channel:  tset.NotificationChannel,
	})
	peer.setTarget(svc.callerInfo(ctx, peer.tenantID, l))

	deadline := time.Now().Add(svc.timings.RingTimeout)
	l.playTone(audio.ToneCalling, true)
	l.setState(ctx, RingingOut{AutoHangupAt: deadline})
	svc.publish(ctx, svc.builder.New(events.CallRinging, l.id, l.tenantID))
	peer.render(ctx)
	svc.publish(ctx, svc.builder.New(events.CallIncoming, peer.id, peer.tenantID))

	peer.autoJoinIncoming(ctx, tset)

	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return
	}
	l.ringTimer = time.AfterFunc(svc.timings.RingTimeout, func() {
		if _, ok := l.State().(RingingOut); ok {
			l.hangUp(context.Background(), false)
		}
	})
	l.mu.Unlock()
}

// render re-invokes the render hook with the current state. Used for
// the callee's first message, which has no transition of its own.
func (l *Leg) render(ctx context.Context) {
	if s := l.State(); s != nil {
		l.svc.render(ctx, l, s)
	}
}

// autoJoinIncoming applies the callee's voice join rule and plays the
// ring tone in the joined channel. Join failures are logged only; the
// callee can still pick up through the interaction path.
func (l *Leg) autoJoinIncoming(ctx context.Context, tset directory.Settings) {
	var channel string
	switch tset.JoinRule {
	case directory.JoinNever:
		return
	case directory.JoinSelectedChannel:
		channel = tset.VoiceChannel
	case directory.JoinMostUsers:
		if finder, ok := l.svc.connector.(voice.ChannelFinder); ok {
			channel, _ = finder.BusiestChannel(ctx, l.tenantID)
		}
		if channel == "" {
			channel = tset.VoiceChannel
		}
	}
	if channel == "" {
		return
	}
	conn, err := l.svc.connector.Join(ctx, l.tenantID, channel)
	if err != nil {
		logger.Warn("incoming auto-join failed", "tenant", l.tenantID, "channel", channel, "error", err)
		return
	}
	l.attachVoice(conn)
	l.playTone(audio.ToneRinging, true)
}

// PickUp answers an incoming call. Valid only on the callee leg while
// RingingIn. When the callee was not auto-joined, voiceChannelID says
// where to join; a failed join rejects the pickup and leaves the call
// state unchanged.
func (l *Leg) PickUp(ctx context.Context, voiceChannelID string) error {
	l.mu.Lock()
	if l.closing || l.closed {
		l.mu.Unlock()
		return ErrLegClosed
	}
	if _, ok := l.state.(RingingIn); !ok {
		l.mu.Unlock()
		return ErrNotRinging
	}
	if l.answering {
		l.mu.Unlock()
		return ErrNotRinging
	}
	l.answering = true
	conn := l.conn
	l.mu.Unlock()

	peer := l.Peer()
	if peer == nil {
		return ErrNoActiveCall
	}

	if conn == nil {
		if voiceChannelID == "" {
			l.clearAnswering()
			return ErrNoVoiceChannel
		}
		joined, err := l.svc.connector.Join(ctx, l.tenantID, voiceChannelID)
		if err != nil {
			l.clearAnswering()
			return &JoinError{TenantID: l.tenantID, Channel: voiceChannelID, Cause: err}
		}
		l.attachVoice(joined)
	}

	peer.stopRingTimer()
	l.playTone(audio.TonePickup, false)
	peer.playTone(audio.TonePickup, false)
	sleepCtx(ctx, l.svc.timings.PickupGrace)

	l.mu.Lock()
	aborted := l.closing || l.closed
	l.mu.Unlock()
	if aborted {
		return ErrLegClosed
	}

	started := time.Now()
	l.setState(ctx, Active{StartedAt: started})
	peer.setState(ctx, Active{StartedAt: started})
	l.stopTone()
	peer.stopTone()
	l.noteOccupancy(started)
	peer.noteOccupancy(started)
	l.svc.publish(ctx, l.svc.builder.New(events.CallAnswered, peer.id, peer.tenantID))
	logger.Info("call answered",
		"caller", peer.tenantID,
		"callee", l.tenantID)
	return nil
}

func (l *Leg) clearAnswering() {
	l.mu.Lock()
	l.answering = false
	l.mu.Unlock()
}

// HangUp ends the call from this leg's point of view: it computes the
// terminal pair from the leg's current state and tears both sides
// down exactly once.
func (l *Leg) HangUp(ctx context.Context) {
	l.hangUp(ctx, false)
}

// hangUp implements HangUp; swept marks supervisor force-closes in the
// published disposition.
func (l *Leg) hangUp(ctx context.Context, swept bool) {
	peer := l.Peer()
	if !l.beginTeardown(peer, false) {
		return
	}

	switch s := l.State().(type) {
	case Active:
		talk := time.Since(s.StartedAt)
		l.setState(ctx, Succeeded{Outgoing: l.outgoing, StartedAt: s.StartedAt})
		if peer != nil {
			peer.setState(ctx, Succeeded{Outgoing: peer.outgoing, StartedAt: s.StartedAt})
		}
		disp := events.DispositionCompleted
		if swept {
			disp = events.DispositionForced
		}
		l.svc.publishEnded(ctx, l, disp, "", talk)
		l.closeSides(ctx, peer, true)

	case RingingIn:
		// The callee rejected the call.
		l.setState(ctx, Failed{Reason: IncomingRejected})
		if peer != nil {
			peer.setState(ctx, Failed{Reason: OutgoingRejected})
		}
		l.svc.publishEnded(ctx, l, events.DispositionRejected, IncomingRejected.String(), 0)
		l.closeSides(ctx, peer, true)

	default:
		if peer == nil {
			// Dialing or searching was abandoned before a target
			// resolved; drop the pending message, no terminal state.
			l.svc.deleteMessage(ctx, l)
			l.svc.publishEnded(ctx, l, events.DispositionFailed, "abandoned", 0)
			l.closeSides(ctx, nil, false)
			return
		}
		// No pickup in time: the caller side reads NoResponse, the
		// callee side Missed, rendered caller-first.
		caller, callee := l, peer
		if !l.outgoing {
			caller, callee = peer, l
		}
		caller.setState(ctx, Failed{Reason: OutgoingNoResponse})
		callee.setState(ctx, Failed{Reason: IncomingMissed})
		disp := events.DispositionMissed
		if swept {
			disp = events.DispositionForced
		}
		l.svc.publishEnded(ctx, caller, disp, OutgoingNoResponse.String(), 0)
		l.closeSides(ctx, peer, true)
	}
}

// beginTeardown is the single gate into teardown. Under the shared
// pair lock it checks and sets the closing flag on both legs, then
// cancels their dial tasks and ring timers before any further side
// effect. Returns false when the pair is already tearing down and
// force is unset.
func (l *Leg) beginTeardown(peer *Leg, force bool) bool {
	if lock := l.sharedLock(); lock != nil {
		lock.Lock()
		defer lock.Unlock()
	}
	if !force && (l.isClosing() || (peer != nil && peer.isClosing())) {
		return false
	}
	l.markClosing()
	l.cancelTimers()
	if peer != nil {
		peer.markClosing()
		peer.cancelTimers()
	}
	return true
}

func (l *Leg) sharedLock() *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pairLock
}

func (l *Leg) isClosing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closing
}

func (l *Leg) markClosing() {
	l.mu.Lock()
	l.closing = true
	l.mu.Unlock()
}

// cancelTimers stops the dial task and the ring timer. Cancelling
// before teardown side effects keeps a stale timer from firing a
// duplicate terminal transition.
func (l *Leg) cancelTimers() {
	l.mu.Lock()
	cancel := l.dialCancel
	timer := l.ringTimer
	l.dialCancel = nil
	l.ringTimer = nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if timer != nil {
		timer.Stop()
	}
}

func (l *Leg) stopRingTimer() {
	l.mu.Lock()
	timer := l.ringTimer
	l.ringTimer = nil
	l.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

// closeSides finishes teardown: optionally plays the hangup tone on
// both sides for the tone delay, then closes both legs.
func (l *Leg) closeSides(ctx context.Context, peer *Leg, sound bool) {
	if sound {
		l.playTone(audio.ToneHangup, false)
		if peer != nil {
			peer.playTone(audio.ToneHangup, false)
		}
		sleepCtx(ctx, l.svc.timings.HangupDelay)
	}
	l.close()
	if peer != nil {
		peer.close()
	}
}

// close releases the leg: unregisters it, closes the relay and leaves
// the voice channel. Safe to call multiple times.
func (l *Leg) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.closing = true
	conn := l.conn
	relay := l.relay
	cancel := l.dialCancel
	timer := l.ringTimer
	l.dialCancel = nil
	l.ringTimer = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if timer != nil {
		timer.Stop()
	}
	l.svc.registry.Unregister(l.tenantID)
	if relay != nil {
		relay.Close()
	}
	if conn != nil {
		conn.Disconnect()
	}
	logger.Debug("leg closed", "leg_id", l.id, "tenant", l.tenantID)
}

// wirePair installs the mutual peer references and the shared lock
// that serializes teardown of the pair.
func wirePair(a, b *Leg) {
	lock := &sync.Mutex{}
	a.mu.Lock()
	a.peerID = b.tenantID
	a.pairLock = lock
	a.mu.Unlock()
	b.mu.Lock()
	b.peerID = a.tenantID
	b.pairLock = lock
	b.mu.Unlock()
	a.bindRelays(b)
}

// runSearch is the directory-matched call task: after the search
// delay it asks the yellow pages for a match, joins voice and hands
// over to the regular dial flow. No eligible match is the terminal
// Searching(failed) state.
func (l *Leg) runSearch(ctx context.Context, voiceChannel string) {
	svc := l.svc
	if !sleepCtx(ctx, svc.timings.SearchDelay) {
		return
	}

	target, err := svc.pages.Random(ctx, l.tenantID)
	if err != nil {
		logger.Error("yellow pages lookup failed", "tenant", l.tenantID, "error", err)
		target = nil
	}
	if target == nil {
		l.setState(ctx, Searching{Failed: true})
		svc.publishEnded(ctx, l, events.DispositionFailed, "no match", 0)
		l.close()
		return
	}

	conn, err := svc.connector.Join(ctx, l.tenantID, voiceChannel)
	if err != nil {
		logger.Warn("voice join for matched call failed", "tenant", l.tenantID, "channel", voiceChannel, "error", err)
		l.failDialing(ctx, CouldNotJoinVoice)
		return
	}
	l.attachVoice(conn)
	l.setTarget(TargetInfo{ID: target.ID, Name: target.Name, IconURL: target.IconURL})
	l.setState(ctx, Dialing{})
	svc.publish(ctx, svc.builder.New(events.CallDialing, l.id, l.tenantID))
	l.runDial(ctx, target.ID)
}

// forceDrop tears the pair down immediately, bypassing the closing
// guard and skipping tones. Used to clear stale legs that would
// otherwise lock their tenant out of calling.
func (l *Leg) forceDrop(ctx context.Context) {
	peer := l.Peer()
	l.beginTeardown(peer, true)
	l.closeSides(ctx, peer, false)
}

// sleepCtx sleeps for d unless the context is cancelled first.
// Reports whether the full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
