package voice

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"

	"github.com/pion/rtp"

	"github.com/leximon/telephone/internal/audio"
)

// RTP parameters for the standalone transport. G.711 µ-law, payload
// type 0, 8kHz clock, matching the relay's frame format.
const (
	rtpPayloadType   = 0
	rtpTimestampStep = audio.SamplesPerFrame
)

// GenerateSSRC generates a cryptographically random 32-bit SSRC.
// Per RFC 3550, the SSRC should be chosen randomly to minimize
// collisions in multi-party sessions.
func GenerateSSRC() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x12345678
	}
	return binary.BigEndian.Uint32(b[:])
}

// GenerateSequenceStart generates a random starting sequence number.
func GenerateSequenceStart() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(b[:])
}

// GenerateTimestampStart generates a random starting timestamp.
func GenerateTimestampStart() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}

// RTPWriter frames payloads as RTP packets on a PacketConn. Pacing is
// the caller's job (the pump ticks at frame cadence); the writer only
// maintains header state.
type RTPWriter struct {
	mu         sync.Mutex
	conn       net.PacketConn
	remoteAddr net.Addr

	ssrc      uint32
	seq       uint16
	timestamp uint32
	closed    bool
}

// NewRTPWriter creates a writer with randomized RTP header state.
func NewRTPWriter(conn net.PacketConn, remote net.Addr) *RTPWriter {
	return &RTPWriter{
		conn:       conn,
		remoteAddr: remote,
		ssrc:       GenerateSSRC(),
		seq:        GenerateSequenceStart(),
		timestamp:  GenerateTimestampStart(),
	}
}

// WriteFrame sends one 20ms payload as an RTP packet and advances the
// sequence number and timestamp.
func (w *RTPWriter) WriteFrame(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return net.ErrClosed
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    rtpPayloadType,
			SequenceNumber: w.seq,
			Timestamp:      w.timestamp,
			SSRC:           w.ssrc,
		},
		Payload: payload,
	}

	data, err := pkt.Marshal()
	if err != nil {
		return err
	}
	if _, err := w.conn.WriteTo(data, w.remoteAddr); err != nil {
		return err
	}

	w.seq++
	w.timestamp += rtpTimestampStep
	return nil
}

// Close marks the writer closed. The underlying conn is not closed.
func (w *RTPWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}
