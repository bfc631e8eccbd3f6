package call

import (
	"context"
	"time"

	"github.com/leximon/telephone/internal/logger"
)

// Supervisor periodically sweeps the registry and force-closes calls
// whose voice channel stayed empty past the idle threshold or that ran
// past the hard duration cap.
type Supervisor struct {
	svc *Service
}

// NewSupervisor creates a supervisor over the service's registry.
func NewSupervisor(svc *Service) *Supervisor {
	return &Supervisor{svc: svc}
}

// Run sweeps on the configured interval until the context is done.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.svc.timings.SweepInterval)
	defer ticker.Stop()
	logger.Info("inactivity supervisor started",
		"interval", s.svc.timings.SweepInterval.String(),
		"idle_threshold", s.svc.timings.IdleThreshold.String(),
		"time_limit", s.svc.timings.CallTimeLimit.String())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(ctx, now)
		}
	}
}

// Sweep visits every registered leg once and returns how many calls it
// force-closed. Closing one leg marks its peer closing under the pair
// lock, so the peer's visit in the same sweep is a no-op.
func (s *Supervisor) Sweep(ctx context.Context, now time.Time) int {
	closed := 0
	for _, leg := range s.svc.registry.Snapshot() {
		if leg.isClosing() {
			continue
		}
		if peer := leg.Peer(); peer != nil && peer.isClosing() {
			continue
		}
		leg.noteOccupancy(now)

		var reason string
		if st, ok := leg.State().(Active); ok && now.Sub(st.StartedAt) > s.svc.timings.CallTimeLimit {
			reason = "time limit"
		} else if leg.idleFor(now) > s.svc.timings.IdleThreshold {
			reason = "idle voice channel"
		}
		if reason == "" {
			continue
		}

		logger.Info("force closing call", "tenant", leg.TenantID(), "reason", reason)
		leg.hangUp(ctx, true)
		closed++
	}
	return closed
}
