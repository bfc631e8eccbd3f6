package voice

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/leximon/telephone/internal/audio"
)

// UDPConn is a Conn backed by a plain RTP-over-UDP stream. It stands in
// for the host platform's voice gateway in standalone deployments: a
// pump goroutine pulls one frame per 20ms tick from the send handler
// and writes it as RTP, and a read loop delivers incoming RTP payloads
// to the receive handler as single-speaker combined frames.
type UDPConn struct {
	channel string
	sock    *net.UDPConn
	writer  *RTPWriter

	mu     sync.Mutex
	send   SendHandler
	recv   ReceiveHandler
	humans atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// UDPConnector joins channels by dialing channelID as a host:port UDP
// address.
type UDPConnector struct {
	// LocalAddr optionally pins the local bind address.
	LocalAddr string
}

func (uc *UDPConnector) Join(ctx context.Context, tenantID, channelID string) (Conn, error) {
	remote, err := net.ResolveUDPAddr("udp", channelID)
	if err != nil {
		return nil, fmt.Errorf("resolve voice endpoint %q: %w", channelID, err)
	}

	var local *net.UDPAddr
	if uc.LocalAddr != "" {
		local, err = net.ResolveUDPAddr("udp", uc.LocalAddr)
		if err != nil {
			return nil, fmt.Errorf("resolve local addr %q: %w", uc.LocalAddr, err)
		}
	}

	sock, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("bind voice socket: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &UDPConn{
		channel: channelID,
		sock:    sock,
		writer:  NewRTPWriter(sock, remote),
		ctx:     connCtx,
		cancel:  cancel,
	}

	go c.pumpLoop()
	go c.readLoop()

	slog.Info("[Voice] Joined",
		"tenant_id", tenantID,
		"channel", channelID,
		"local", sock.LocalAddr().String(),
	)
	return c, nil
}

func (c *UDPConn) Channel() string {
	return c.channel
}

func (c *UDPConn) SetSendHandler(h SendHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.send = h
}

func (c *UDPConn) SetReceiveHandler(h ReceiveHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recv = h
}

func (c *UDPConn) HumanCount() int {
	return int(c.humans.Load())
}

// SetHumanCount updates the member count reported for the channel.
// Membership is signalled out of band on this transport.
func (c *UDPConn) SetHumanCount(n int) {
	c.humans.Store(int32(n))
}

// pumpLoop pulls one outbound frame per 20ms tick.
func (c *UDPConn) pumpLoop() {
	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		send := c.send
		c.mu.Unlock()
		if send == nil || !send.CanProvide() {
			continue
		}
		frame := send.ProvideFrame()
		if frame == nil {
			continue
		}
		if err := c.writer.WriteFrame(frame); err != nil {
			if c.ctx.Err() != nil {
				return
			}
			slog.Debug("[Voice] Write error", "channel", c.channel, "error", err)
		}
	}
}

// readLoop delivers inbound RTP payloads as combined frames.
func (c *UDPConn) readLoop() {
	buf := make([]byte, 1500)
	for {
		n, _, err := c.sock.ReadFromUDP(buf)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			slog.Debug("[Voice] Read error", "channel", c.channel, "error", err)
			continue
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			slog.Debug("[Voice] Bad RTP packet", "channel", c.channel, "error", err)
			continue
		}

		c.mu.Lock()
		recv := c.recv
		c.mu.Unlock()
		if recv == nil || !recv.CanReceive() {
			continue
		}

		payload := make([]byte, len(pkt.Payload))
		copy(payload, pkt.Payload)
		recv.HandleCombined(audio.CombinedFrame{Data: payload, Speakers: 1})
	}
}

func (c *UDPConn) Disconnect() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	c.writer.Close()
	err := c.sock.Close()
	slog.Info("[Voice] Left", "channel", c.channel)
	return err
}

var (
	_ Conn      = (*UDPConn)(nil)
	_ Connector = (*UDPConnector)(nil)
)
