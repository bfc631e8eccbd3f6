// Package voice abstracts the host platform's voice transport. The
// call core joins and leaves channels through Connector and installs
// frame handlers on the returned Conn; the transport drives those
// handlers at a fixed 20ms cadence, one frame per tick.
package voice

import (
	"context"
	"errors"

	"github.com/leximon/telephone/internal/audio"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrJoinDenied indicates the bot may not join the requested channel.
	ErrJoinDenied = errors.New("voice channel join denied")

	// ErrConnClosed indicates the connection was already disconnected.
	ErrConnClosed = errors.New("voice connection closed")
)

// SendHandler supplies outbound audio. The transport calls CanProvide
// once per tick and pulls a frame only when it returns true.
type SendHandler interface {
	CanProvide() bool
	ProvideFrame() []byte
}

// ReceiveHandler accepts combined inbound audio. The transport checks
// CanReceive before mixing a tick's frame; when it returns false the
// frame is simply not produced.
type ReceiveHandler interface {
	CanReceive() bool
	HandleCombined(f audio.CombinedFrame)
}

// Conn is one live voice channel connection.
type Conn interface {
	// Channel returns the joined channel ID.
	Channel() string

	// SetSendHandler installs the outbound frame source.
	SetSendHandler(h SendHandler)

	// SetReceiveHandler installs the inbound frame sink.
	SetReceiveHandler(h ReceiveHandler)

	// HumanCount returns the number of non-bot members currently in
	// the channel.
	HumanCount() int

	// Disconnect leaves the channel. Safe to call multiple times.
	Disconnect() error
}

// Connector joins voice channels on behalf of a tenant.
type Connector interface {
	Join(ctx context.Context, tenantID, channelID string) (Conn, error)
}

// ChannelFinder is an optional Connector upgrade used for the
// most-users auto-join rule. Transports that cannot enumerate a
// tenant's channels simply don't implement it.
type ChannelFinder interface {
	// BusiestChannel returns the tenant's voice channel with the most
	// human members, or ok=false when none has any.
	BusiestChannel(ctx context.Context, tenantID string) (channelID string, ok bool)
}
