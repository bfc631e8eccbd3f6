package audio

import (
	"sync"
)

// QueueDepth caps the per-leg relay queue. Refusing combined audio once
// the queue is full bounds end-to-end latency and memory if the peer's
// send path stalls; the upstream mixer simply produces no frame for
// that tick instead of buffering.
const QueueDepth = 10

// CombinedFrame is one 20ms tick of mixed audio delivered by the voice
// transport. Speakers counts the remote users who contributed audio
// this tick; a frame with zero speakers is silence.
type CombinedFrame struct {
	Data     []byte
	Speakers int
}

// Sink accepts a relayed frame. It reports false if the frame was
// dropped (receiver closed or missing).
type Sink func(frame []byte) bool

// Relay bridges one leg's audio. Inbound combined audio from the leg's
// own voice channel is pushed into the peer's queue; outbound frames
// are drained from the leg's own queue by the voice transport at a
// fixed 20ms cadence. While a tone plays, the relay substitutes the
// tone track for live audio and drops everything inbound to prevent
// feedback.
//
// A Relay is owned exclusively by its leg. It never holds the peer's
// Relay; cross-leg transfer goes through the Sink installed by the
// lifecycle, and a push after the peer closed is silently dropped.
type Relay struct {
	mu     sync.Mutex
	queue  [][]byte
	peer   Sink
	closed bool

	// Tone playback state. playing stays set after a non-repeating
	// track finishes so live transfer resumes only on StopTone.
	playing bool
	repeat  bool
	track   *Track
	pos     int
}

// NewRelay creates an idle relay with no peer bound.
func NewRelay() *Relay {
	return &Relay{}
}

// BindPeer installs the sink frames are relayed into. Passing nil
// unbinds the peer.
func (r *Relay) BindPeer(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peer = sink
}

// Push appends a frame to this relay's outbound queue. It is the Sink
// counterpart used by the peer relay; frames pushed after Close are
// dropped. Returns false if dropped.
func (r *Relay) Push(frame []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.queue = append(r.queue, frame)
	return true
}

// CanProvide reports whether a frame is available for this tick.
// During tone playback this reflects the track position; otherwise the
// relay queue.
func (r *Relay) CanProvide() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if r.playing {
		return r.track != nil && (r.pos < r.track.Len() || r.repeat)
	}
	return len(r.queue) > 0
}

// ProvideFrame returns the next outbound frame, or nil if none is
// available this tick.
func (r *Relay) ProvideFrame() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if r.playing {
		if r.track == nil {
			return nil
		}
		if r.pos >= r.track.Len() {
			if !r.repeat {
				return nil
			}
			r.pos = 0
		}
		frame := r.track.Frame(r.pos)
		r.pos++
		return frame
	}
	if len(r.queue) == 0 {
		return nil
	}
	frame := r.queue[0]
	r.queue = r.queue[1:]
	return frame
}

// CanReceive reports whether the transport may deliver combined audio
// this tick. Refuses once the queue hits QueueDepth.
func (r *Relay) CanReceive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && len(r.queue) < QueueDepth
}

// HandleCombined accepts one tick of combined audio. Frames are dropped
// while a tone plays or when no remote user contributed audio;
// otherwise the frame is pushed to the peer's queue.
func (r *Relay) HandleCombined(f CombinedFrame) {
	r.mu.Lock()
	if r.closed || r.playing || f.Speakers == 0 {
		r.mu.Unlock()
		return
	}
	sink := r.peer
	r.mu.Unlock()

	if sink != nil {
		sink(f.Data)
	}
}

// PlayTone stops any current track and starts playing the given one.
// Live relaying is suspended until StopTone.
func (r *Relay) PlayTone(track *Track, repeat bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.playing = true
	r.repeat = repeat
	r.track = track
	r.pos = 0
}

// StopTone halts playback and switches back to live relay mode.
func (r *Relay) StopTone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playing = false
	r.repeat = false
	r.track = nil
	r.pos = 0
}

// Playing reports whether a tone currently suppresses live transfer.
func (r *Relay) Playing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playing
}

// QueueLen returns the current outbound queue depth.
func (r *Relay) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Close drops the queue and detaches the peer sink. Pushes from the
// peer after Close are dropped; Close is idempotent.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.queue = nil
	r.peer = nil
	r.playing = false
	r.track = nil
}
