package call

import (
	"context"
	"sync"

	"github.com/leximon/telephone/internal/logger"
)

// Renderer is the "render this state" contract. The core calls Render
// once per state transition; the collaborator owns message formatting,
// localization and button wiring. Delete removes a pending status
// message when a dial is abandoned before any terminal state.
type Renderer interface {
	Render(ctx context.Context, leg *Leg, state State) error
	Delete(ctx context.Context, leg *Leg) error
}

// LogRenderer writes transitions to the log. It is the headless
// stand-in used when no platform frontend is wired.
type LogRenderer struct{}

func (LogRenderer) Render(ctx context.Context, leg *Leg, state State) error {
	logger.Info("call status",
		"tenant", leg.TenantID(),
		"channel", leg.MessageChannel(),
		"state", state.String())
	return nil
}

func (LogRenderer) Delete(ctx context.Context, leg *Leg) error {
	logger.Info("call status removed", "tenant", leg.TenantID(), "channel", leg.MessageChannel())
	return nil
}

// NopRenderer discards every render call.
type NopRenderer struct{}

func (NopRenderer) Render(ctx context.Context, leg *Leg, state State) error { return nil }
func (NopRenderer) Delete(ctx context.Context, leg *Leg) error              { return nil }

// Transition is one recorded render call.
type Transition struct {
	TenantID string
	State    State
}

// MemoryRenderer records transitions per tenant, for tests.
type MemoryRenderer struct {
	mu      sync.Mutex
	states  map[string][]State
	log     []Transition
	deleted map[string]int
}

// NewMemoryRenderer creates an empty recorder.
func NewMemoryRenderer() *MemoryRenderer {
	return &MemoryRenderer{
		states:  make(map[string][]State),
		deleted: make(map[string]int),
	}
}

func (r *MemoryRenderer) Render(ctx context.Context, leg *Leg, state State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[leg.TenantID()] = append(r.states[leg.TenantID()], state)
	r.log = append(r.log, Transition{TenantID: leg.TenantID(), State: state})
	return nil
}

func (r *MemoryRenderer) Delete(ctx context.Context, leg *Leg) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted[leg.TenantID()]++
	return nil
}

// States returns the rendered states for a tenant, in order.
func (r *MemoryRenderer) States(tenantID string) []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.states[tenantID]))
	copy(out, r.states[tenantID])
	return out
}

// Last returns the most recently rendered state for a tenant, or nil.
func (r *MemoryRenderer) Last(tenantID string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.states[tenantID]
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1]
}

// Log returns every recorded transition across all tenants, in order.
func (r *MemoryRenderer) Log() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Transition, len(r.log))
	copy(out, r.log)
	return out
}

// Deleted returns how many times the tenant's message was deleted.
func (r *MemoryRenderer) Deleted(tenantID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleted[tenantID]
}

var (
	_ Renderer = NopRenderer{}
	_ Renderer = LogRenderer{}
	_ Renderer = (*MemoryRenderer)(nil)
)
