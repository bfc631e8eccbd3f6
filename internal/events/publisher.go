package events

import (
	"context"
	"log/slog"
	"sync"
)

// Publisher is the interface for publishing call events.
// Implementations may be no-op, logging, or in-memory (for testing).
type Publisher interface {
	// Publish sends an event. Returns error only for transport failures,
	// not for invalid events (those should be caught at construction).
	Publish(ctx context.Context, event Event) error

	// Close releases resources.
	Close() error
}

// NoopPublisher discards all events. Use when no event sink is configured.
type NoopPublisher struct{}

// NewNoopPublisher creates a publisher that silently discards events.
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

func (p *NoopPublisher) Publish(ctx context.Context, event Event) error {
	return nil
}

func (p *NoopPublisher) Close() error {
	return nil
}

// LogPublisher writes events to the default slog logger.
type LogPublisher struct{}

// NewLogPublisher creates a publisher that logs events at debug level.
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	slog.Debug("[Events] Publish",
		"subject", event.Subject(),
		"event_type", string(event.EventType),
		"call_id", event.CallID,
		"tenant_id", event.TenantID,
	)
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}

// MemoryPublisher records events in memory. For testing.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

// NewMemoryPublisher creates an in-memory event recorder.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(ctx context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of all recorded events.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// ByType returns all recorded events of the given type.
func (p *MemoryPublisher) ByType(t EventType) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, ev := range p.events {
		if ev.EventType == t {
			out = append(out, ev)
		}
	}
	return out
}

func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

var (
	_ Publisher = (*NoopPublisher)(nil)
	_ Publisher = (*LogPublisher)(nil)
	_ Publisher = (*MemoryPublisher)(nil)
)
