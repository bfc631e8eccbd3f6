package call

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrAlreadyInCall indicates the tenant already has an active leg.
	ErrAlreadyInCall = errors.New("tenant already in a call")

	// ErrNoActiveCall indicates the tenant has no registered leg.
	ErrNoActiveCall = errors.New("no active call")

	// ErrNotRinging indicates pickup on a leg that is not RingingIn.
	ErrNotRinging = errors.New("leg not in ringing state")

	// ErrLegClosed indicates the leg has already been torn down.
	ErrLegClosed = errors.New("leg already closed")

	// ErrNoVoiceChannel indicates no voice channel could be determined
	// for the join.
	ErrNoVoiceChannel = errors.New("no voice channel")
)

// JoinError reports a failed voice channel join. The call state is
// left unchanged; the triggering actor sees the rejection directly.
type JoinError struct {
	TenantID string
	Channel  string
	Cause    error
}

// Error returns the error message.
func (e *JoinError) Error() string {
	return fmt.Sprintf("join voice %s/%s: %v", e.TenantID, e.Channel, e.Cause)
}

// Unwrap returns the underlying error.
func (e *JoinError) Unwrap() error {
	return e.Cause
}
