package call

import (
	"testing"
	"time"
)

func TestStateTerminal(t *testing.T) {
	tests := []struct {
		state    State
		terminal bool
	}{
		{Dialing{}, false},
		{DialingFailed{Reason: TargetNotFound}, true},
		{RingingOut{AutoHangupAt: time.Now()}, false},
		{RingingIn{CallerUserCount: 3}, false},
		{Active{StartedAt: time.Now()}, false},
		{Succeeded{Outgoing: true}, true},
		{Failed{Reason: IncomingMissed}, true},
		{Searching{}, false},
		{Searching{Failed: true}, true},
	}
	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{DialingFailed{Reason: TargetNoTextChannel}, "DialingFailed(TargetNoTextChannel)"},
		{Failed{Reason: OutgoingNoResponse}, "Failed(OutgoingNoResponse)"},
		{Searching{Failed: true}, "Searching(failed)"},
		{Active{}, "Active"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestDialFailReasonString(t *testing.T) {
	if got := DialFailReason(99).String(); got != "Unknown(99)" {
		t.Errorf("String() = %q, want Unknown(99)", got)
	}
	if got := BlockedByTarget.String(); got != "BlockedByTarget" {
		t.Errorf("String() = %q, want BlockedByTarget", got)
	}
}
