// Package call implements the call core: the per-leg state machine,
// the one-call-per-tenant registry, the leg lifecycle (dialing,
// ringing, pickup, hangup, forced teardown) and the inactivity
// supervisor.
package call

import (
	"fmt"
	"time"
)

// State is the closed variant set of leg states. One value is active
// per leg at a time; each variant carries exactly the data needed to
// render itself and is immutable once constructed.
type State interface {
	fmt.Stringer

	// Terminal reports whether no further transition occurs for the
	// leg's lifetime.
	Terminal() bool

	isState()
}

// Dialing is the caller's initial state while the target is resolved.
type Dialing struct{}

func (Dialing) String() string { return "Dialing" }
func (Dialing) Terminal() bool { return false }
func (Dialing) isState()       {}

// DialingFailed is the terminal state of a call attempt whose target
// resolution failed.
type DialingFailed struct {
	Reason DialFailReason
}

func (s DialingFailed) String() string { return "DialingFailed(" + s.Reason.String() + ")" }
func (DialingFailed) Terminal() bool   { return true }
func (DialingFailed) isState()         {}

// RingingOut is the caller's state while waiting for pickup.
type RingingOut struct {
	// AutoHangupAt is when the no-response timer fires.
	AutoHangupAt time.Time
}

func (RingingOut) String() string { return "RingingOut" }
func (RingingOut) Terminal() bool { return false }
func (RingingOut) isState()       {}

// RingingIn is the callee's state for an incoming unanswered call.
type RingingIn struct {
	// CallerUserCount is how many humans sit in the caller's voice
	// channel, shown to the callee before pickup.
	CallerUserCount int
}

func (RingingIn) String() string { return "RingingIn" }
func (RingingIn) Terminal() bool { return false }
func (RingingIn) isState()       {}

// Active is the live-bridged state of both legs after pickup.
type Active struct {
	StartedAt time.Time
}

func (Active) String() string { return "Active" }
func (Active) Terminal() bool { return false }
func (Active) isState()       {}

// Succeeded is the terminal state of a call that was picked up and
// later hung up normally.
type Succeeded struct {
	Outgoing  bool
	StartedAt time.Time
}

func (Succeeded) String() string { return "Succeeded" }
func (Succeeded) Terminal() bool { return true }
func (Succeeded) isState()       {}

// Failed is the terminal state of a ringing call that never connected.
type Failed struct {
	Reason FailReason
}

func (s Failed) String() string { return "Failed(" + s.Reason.String() + ")" }
func (Failed) Terminal() bool   { return true }
func (Failed) isState()         {}

// Searching is the state of a directory-matched call attempt before a
// target is found. Failed=true is terminal: no eligible tenant exists.
type Searching struct {
	Failed bool
}

func (s Searching) String() string {
	if s.Failed {
		return "Searching(failed)"
	}
	return "Searching"
}
func (s Searching) Terminal() bool { return s.Failed }
func (Searching) isState()         {}

// DialFailReason says why target resolution failed.
type DialFailReason int

const (
	// TargetNotFound indicates the dialed tenant does not exist.
	TargetNotFound DialFailReason = iota
	// BlockedByTarget indicates the target has blocked the caller.
	BlockedByTarget
	// BlockedByCaller indicates the caller has blocked the target.
	BlockedByCaller
	// TargetNoTextChannel indicates the target has no usable
	// notification channel.
	TargetNoTextChannel
	// TargetBusy indicates the target already has an active leg.
	TargetBusy
	// CouldNotJoinVoice indicates the caller's voice channel could not
	// be joined for a directory-matched call.
	CouldNotJoinVoice
)

// String returns the string representation of DialFailReason.
func (r DialFailReason) String() string {
	switch r {
	case TargetNotFound:
		return "TargetNotFound"
	case BlockedByTarget:
		return "BlockedByTarget"
	case BlockedByCaller:
		return "BlockedByCaller"
	case TargetNoTextChannel:
		return "TargetNoTextChannel"
	case TargetBusy:
		return "TargetBusy"
	case CouldNotJoinVoice:
		return "CouldNotJoinVoice"
	default:
		return fmt.Sprintf("Unknown(%d)", r)
	}
}

// FailReason says how a ringing call ended without connecting.
type FailReason int

const (
	// OutgoingRejected indicates the callee pressed hangup.
	OutgoingRejected FailReason = iota
	// OutgoingNoResponse indicates the callee never picked up.
	OutgoingNoResponse
	// IncomingRejected is the callee-side mirror of OutgoingRejected.
	IncomingRejected
	// IncomingMissed is the callee-side mirror of OutgoingNoResponse.
	IncomingMissed
)

// String returns the string representation of FailReason.
func (r FailReason) String() string {
	switch r {
	case OutgoingRejected:
		return "OutgoingRejected"
	case OutgoingNoResponse:
		return "OutgoingNoResponse"
	case IncomingRejected:
		return "IncomingRejected"
	case IncomingMissed:
		return "IncomingMissed"
	default:
		return fmt.Sprintf("Unknown(%d)", r)
	}
}
