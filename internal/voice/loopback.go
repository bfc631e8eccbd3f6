package voice

import (
	"context"
	"sync"

	"github.com/leximon/telephone/internal/audio"
)

// LoopbackConn is an in-process Conn driven by manual ticks. It is the
// deterministic transport used in tests and local runs: inbound frames
// are queued with Deliver and handed to the receive handler on Tick,
// outbound frames pulled on Tick are recorded in Sent.
type LoopbackConn struct {
	mu        sync.Mutex
	channel   string
	send      SendHandler
	recv      ReceiveHandler
	humans    int
	closed    bool
	inbound   []audio.CombinedFrame
	sent      [][]byte
	onDisconn func()
}

// NewLoopbackConn creates a connected loopback conn for the channel.
func NewLoopbackConn(channel string) *LoopbackConn {
	return &LoopbackConn{channel: channel}
}

func (c *LoopbackConn) Channel() string {
	return c.channel
}

func (c *LoopbackConn) SetSendHandler(h SendHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.send = h
}

func (c *LoopbackConn) SetReceiveHandler(h ReceiveHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recv = h
}

func (c *LoopbackConn) HumanCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.humans
}

// SetHumanCount simulates members joining or leaving the channel.
func (c *LoopbackConn) SetHumanCount(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.humans = n
}

// Deliver queues a combined frame for the next ticks.
func (c *LoopbackConn) Deliver(f audio.CombinedFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbound = append(c.inbound, f)
}

// Tick advances the transport by n 20ms frames: delivers at most one
// queued inbound frame per tick (respecting CanReceive) and pulls at
// most one outbound frame per tick.
func (c *LoopbackConn) Tick(n int) {
	for i := 0; i < n; i++ {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		send, recv := c.send, c.recv
		var in *audio.CombinedFrame
		if recv != nil && len(c.inbound) > 0 && recv.CanReceive() {
			in = &c.inbound[0]
			c.inbound = c.inbound[1:]
		}
		c.mu.Unlock()

		if in != nil {
			recv.HandleCombined(*in)
		}
		if send != nil && send.CanProvide() {
			if frame := send.ProvideFrame(); frame != nil {
				c.mu.Lock()
				c.sent = append(c.sent, frame)
				c.mu.Unlock()
			}
		}
	}
}

// Sent returns a copy of every outbound frame pulled so far.
func (c *LoopbackConn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// Closed reports whether Disconnect was called.
func (c *LoopbackConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// OnDisconnect registers a callback invoked once on Disconnect.
func (c *LoopbackConn) OnDisconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconn = fn
}

func (c *LoopbackConn) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	fn := c.onDisconn
	c.onDisconn = nil
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
	return nil
}

// LoopbackConnector hands out LoopbackConns and records them by tenant.
type LoopbackConnector struct {
	mu    sync.Mutex
	conns map[string]*LoopbackConn
	// DenyChannels lists channel IDs whose join fails with ErrJoinDenied.
	deny map[string]bool
	// busiest maps tenant ID to the channel BusiestChannel reports.
	busiest map[string]string
	// DefaultHumans is the member count new conns start with.
	DefaultHumans int
}

// NewLoopbackConnector creates an empty connector.
func NewLoopbackConnector() *LoopbackConnector {
	return &LoopbackConnector{
		conns:         make(map[string]*LoopbackConn),
		deny:          make(map[string]bool),
		busiest:       make(map[string]string),
		DefaultHumans: 1,
	}
}

// SetBusiest configures the channel BusiestChannel reports for a tenant.
func (lc *LoopbackConnector) SetBusiest(tenantID, channelID string) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.busiest[tenantID] = channelID
}

func (lc *LoopbackConnector) BusiestChannel(ctx context.Context, tenantID string) (string, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	ch, ok := lc.busiest[tenantID]
	return ch, ok && ch != ""
}

// Deny makes future joins of the channel fail.
func (lc *LoopbackConnector) Deny(channelID string) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.deny[channelID] = true
}

// Conn returns the live conn for a tenant, or nil.
func (lc *LoopbackConnector) Conn(tenantID string) *LoopbackConn {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.conns[tenantID]
}

func (lc *LoopbackConnector) Join(ctx context.Context, tenantID, channelID string) (Conn, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.deny[channelID] {
		return nil, ErrJoinDenied
	}
	conn := NewLoopbackConn(channelID)
	conn.humans = lc.DefaultHumans
	lc.conns[tenantID] = conn
	return conn, nil
}

var (
	_ Conn          = (*LoopbackConn)(nil)
	_ Connector     = (*LoopbackConnector)(nil)
	_ ChannelFinder = (*LoopbackConnector)(nil)
)
