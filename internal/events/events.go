// Package events defines the call event stream published by the core.
//
// Events are observability output only: rendering and state transitions
// never depend on them. Subjects follow a NATS-style hierarchy so a
// future broker integration can subscribe with wildcards:
//
//	telephone.calls.<call_id>.<suffix>   - per-call events
//	telephone.calls.>                    - all call events
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a call event.
type EventType string

const (
	CallDialing  EventType = "call.dialing"
	CallIncoming EventType = "call.incoming"
	CallRinging  EventType = "call.ringing"
	CallAnswered EventType = "call.answered"
	CallEnded    EventType = "call.ended"
)

// Disposition classifies how a call ended.
type Disposition string

const (
	DispositionCompleted Disposition = "COMPLETED"
	DispositionRejected  Disposition = "REJECTED"
	DispositionMissed    Disposition = "MISSED"
	DispositionFailed    Disposition = "FAILED"
	DispositionForced    Disposition = "FORCED"
)

// Event is a single call event. CallID correlates both legs of the
// same call; TenantID identifies the leg the event was observed on.
type Event struct {
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	EventTime time.Time `json:"event_time"`
	NodeID    string    `json:"node_id"`

	CallID       string `json:"call_id"`
	TenantID     string `json:"tenant_id"`
	PeerTenantID string `json:"peer_tenant_id,omitempty"`
	Outgoing     bool   `json:"outgoing"`

	// End-of-call fields, set only on CallEnded.
	Disposition  Disposition `json:"disposition,omitempty"`
	Reason       string      `json:"reason,omitempty"`
	TalkDuration int64       `json:"talk_duration_ms,omitempty"`
}

// Subject returns the publish subject for this event.
// Example: "telephone.calls.abc-123.ended"
func (e Event) Subject() string {
	suffix := string(e.EventType)
	if len(suffix) > len("call.") {
		suffix = suffix[len("call."):]
	}
	return fmt.Sprintf("%s.%s.%s", SubjectCalls, e.CallID, suffix)
}

const (
	// SubjectPrefix is the root of all telephone subjects
	SubjectPrefix = "telephone"

	// SubjectCalls prefixes per-call events
	SubjectCalls = SubjectPrefix + ".calls"
)

// Builder constructs events with consistent defaults.
type Builder struct {
	nodeID string
}

// NewBuilder creates an event builder for this node.
func NewBuilder(nodeID string) *Builder {
	return &Builder{nodeID: nodeID}
}

// New creates a base event for the given call leg.
func (b *Builder) New(eventType EventType, callID, tenantID string) Event {
	return Event{
		EventID:   uuid.New().String(),
		EventType: eventType,
		EventTime: time.Now().UTC(),
		NodeID:    b.nodeID,
		CallID:    callID,
		TenantID:  tenantID,
	}
}

// Ended creates a CallEnded event with disposition fields.
func (b *Builder) Ended(callID, tenantID string, disposition Disposition, reason string, talk time.Duration) Event {
	ev := b.New(CallEnded, callID, tenantID)
	ev.Disposition = disposition
	ev.Reason = reason
	ev.TalkDuration = talk.Milliseconds()
	return ev
}
