// Package audio implements the per-leg audio relay and generated tone
// playback for calls.
package audio

import (
	"math"
	"time"

	"github.com/zaf/g711"
)

// Audio constants. All tracks are G.711 µ-law mono at 8kHz framed in
// 20ms ticks, matching the cadence the voice transport pumps at.
const (
	SampleRate      = 8000
	FrameDuration   = 20 * time.Millisecond
	SamplesPerFrame = 160
	BytesPerFrame   = SamplesPerFrame // 1 byte per µ-law sample
)

// SoundPack selects a tone voicing for a tenant.
type SoundPack string

const (
	PackClassic SoundPack = "classic"
	PackDiscord SoundPack = "discord"
	PackChaos   SoundPack = "chaos"
)

// Packs lists every known sound pack.
var Packs = []SoundPack{PackClassic, PackDiscord, PackChaos}

// Valid reports whether p names a known sound pack.
func (p SoundPack) Valid() bool {
	switch p {
	case PackClassic, PackDiscord, PackChaos:
		return true
	}
	return false
}

// Tone identifies one of the generated call tones.
type Tone int

const (
	// ToneDialing plays on the caller side before target resolution.
	ToneDialing Tone = iota
	// ToneCalling is the caller-side ringback while waiting for pickup.
	ToneCalling
	// ToneRinging is the callee-side ring.
	ToneRinging
	// TonePickup is the short confirmation beep on pickup.
	TonePickup
	// ToneHangup plays on both sides during teardown.
	ToneHangup
)

// String returns the string representation of Tone.
func (t Tone) String() string {
	switch t {
	case ToneDialing:
		return "Dialing"
	case ToneCalling:
		return "Calling"
	case ToneRinging:
		return "Ringing"
	case TonePickup:
		return "Pickup"
	case ToneHangup:
		return "Hangup"
	default:
		return "Unknown"
	}
}

// Track is an immutable sequence of 20ms µ-law frames.
type Track struct {
	frames [][]byte
}

// Len returns the number of frames in the track.
func (t *Track) Len() int {
	return len(t.frames)
}

// Frame returns frame i. Panics on out-of-range access.
func (t *Track) Frame(i int) []byte {
	return t.frames[i]
}

// Duration returns the playback duration of the track.
func (t *Track) Duration() time.Duration {
	return time.Duration(len(t.frames)) * FrameDuration
}

// Catalog holds the synthesized tone tracks for every sound pack.
// Synthesis happens once at construction; tracks are shared read-only.
type Catalog struct {
	tracks map[SoundPack]map[Tone]*Track
}

// pitchFactor shifts the base telephony frequencies per pack so each
// pack is audibly distinct without separate recordings.
func pitchFactor(p SoundPack) float64 {
	switch p {
	case PackDiscord:
		return 1.189 // three semitones up
	case PackChaos:
		return 1.414 // six semitones up
	default:
		return 1.0
	}
}

// NewCatalog synthesizes all tone tracks for all sound packs.
func NewCatalog() *Catalog {
	c := &Catalog{tracks: make(map[SoundPack]map[Tone]*Track)}
	for _, pack := range Packs {
		pitch := pitchFactor(pack)
		c.tracks[pack] = map[Tone]*Track{
			// Continuous dual tone (precise dial tone is 350+440 Hz).
			ToneDialing: synthesize(pitch, []segment{
				{freqA: 350, freqB: 440, on: 2 * time.Second},
			}),
			// Ringback: 440+480 Hz, 2s on, 4s off.
			ToneCalling: synthesize(pitch, []segment{
				{freqA: 440, freqB: 480, on: 2 * time.Second, off: 4 * time.Second},
			}),
			// Callee ring: shorter cadence so it reads as "incoming".
			ToneRinging: synthesize(pitch, []segment{
				{freqA: 440, freqB: 480, on: time.Second, off: 2 * time.Second},
			}),
			// Single confirmation beep.
			TonePickup: synthesize(pitch, []segment{
				{freqA: 880, on: 200 * time.Millisecond},
			}),
			// Busy-style tone: 480+620 Hz, 500ms on/off, twice.
			ToneHangup: synthesize(pitch, []segment{
				{freqA: 480, freqB: 620, on: 500 * time.Millisecond, off: 500 * time.Millisecond},
				{freqA: 480, freqB: 620, on: 500 * time.Millisecond, off: 500 * time.Millisecond},
			}),
		}
	}
	return c
}

// Track returns the tone track for the given pack, falling back to the
// classic pack for unknown pack names.
func (c *Catalog) Track(pack SoundPack, tone Tone) *Track {
	packTracks, ok := c.tracks[pack]
	if !ok {
		packTracks = c.tracks[PackClassic]
	}
	return packTracks[tone]
}

// segment describes one on/off cycle of a dual-frequency tone.
// freqB of 0 produces a single-frequency tone.
type segment struct {
	freqA float64
	freqB float64
	on    time.Duration
	off   time.Duration
}

// synthesize renders segments to µ-law frames at the given pitch factor.
func synthesize(pitch float64, segments []segment) *Track {
	var pcm []byte
	for _, seg := range segments {
		pcm = append(pcm, sine(seg.freqA*pitch, seg.freqB*pitch, seg.on)...)
		pcm = append(pcm, silence(seg.off)...)
	}

	// Pad to a whole number of frames.
	const pcmFrame = SamplesPerFrame * 2
	if rem := len(pcm) % pcmFrame; rem != 0 {
		pcm = append(pcm, make([]byte, pcmFrame-rem)...)
	}

	encoded := g711.EncodeUlaw(pcm)
	frames := make([][]byte, 0, len(encoded)/BytesPerFrame)
	for off := 0; off+BytesPerFrame <= len(encoded); off += BytesPerFrame {
		frames = append(frames, encoded[off:off+BytesPerFrame])
	}
	return &Track{frames: frames}
}

// sine renders a dual-frequency sine as 16-bit little-endian PCM.
func sine(freqA, freqB float64, dur time.Duration) []byte {
	samples := int(SampleRate * dur.Seconds())
	out := make([]byte, samples*2)
	// Headroom for two summed tones.
	const amplitude = 0.24 * math.MaxInt16
	for i := 0; i < samples; i++ {
		t := float64(i) / SampleRate
		v := math.Sin(2 * math.Pi * freqA * t)
		if freqB > 0 {
			v += math.Sin(2 * math.Pi * freqB * t)
		}
		s := int16(amplitude * v)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// silence renders dur of PCM silence.
func silence(dur time.Duration) []byte {
	samples := int(SampleRate * dur.Seconds())
	return make([]byte, samples*2)
}
