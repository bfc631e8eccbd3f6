package call

import (
	"context"
	"errors"
	"time"

	"github.com/leximon/telephone/internal/audio"
	"github.com/leximon/telephone/internal/config"
	"github.com/leximon/telephone/internal/directory"
	"github.com/leximon/telephone/internal/events"
	"github.com/leximon/telephone/internal/logger"
	"github.com/leximon/telephone/internal/voice"
)

// Deps wires the service's collaborators. Registry, Renderer and
// Events fall back to an empty registry, a no-op renderer and a no-op
// publisher when left nil; everything else is required.
type Deps struct {
	Registry  *Registry
	Resolver  directory.Resolver
	Settings  directory.SettingsStore
	Blocks    directory.BlockList
	Contacts  directory.ContactList
	Pages     directory.YellowPages
	Connector voice.Connector
	Tones     *audio.Catalog
	Renderer  Renderer
	Events    events.Publisher
	NodeID    string
	Timings   config.Timings
}

// Service is the front door of the call core. External triggers
// (commands, buttons, gateway events) enter here; the service owns
// admission control and delegates the lifecycle to the legs.
type Service struct {
	registry  *Registry
	resolver  directory.Resolver
	settings  directory.SettingsStore
	blocks    directory.BlockList
	contacts  directory.ContactList
	pages     directory.YellowPages
	connector voice.Connector
	tones     *audio.Catalog
	renderer  Renderer
	events    events.Publisher
	builder   *events.Builder
	timings   config.Timings
}

// NewService creates the call service.
func NewService(deps Deps) *Service {
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Renderer == nil {
		deps.Renderer = NopRenderer{}
	}
	if deps.Events == nil {
		deps.Events = events.NewNoopPublisher()
	}
	if deps.Tones == nil {
		deps.Tones = audio.NewCatalog()
	}
	return &Service{
		registry:  deps.Registry,
		resolver:  deps.Resolver,
		settings:  deps.Settings,
		blocks:    deps.Blocks,
		contacts:  deps.Contacts,
		pages:     deps.Pages,
		connector: deps.Connector,
		tones:     deps.Tones,
		renderer:  deps.Renderer,
		events:    deps.Events,
		builder:   events.NewBuilder(deps.NodeID),
		timings:   deps.Timings,
	}
}

// Registry returns the service's registry, for the ops API.
func (s *Service) Registry() *Registry {
	return s.registry
}

// CurrentLeg returns the tenant's active leg, or nil.
func (s *Service) CurrentLeg(tenantID string) *Leg {
	return s.registry.Lookup(tenantID)
}

// InitiateCall starts a call from the caller tenant to the target.
// The caller's voice channel is joined before any state exists, so a
// denied join is returned directly and leaves nothing behind. The
// returned leg is in Dialing; resolution continues asynchronously.
func (s *Service) InitiateCall(ctx context.Context, callerID, msgChannel, voiceChannel, targetID string) (*Leg, error) {
	if err := s.admit(ctx, callerID); err != nil {
		return nil, err
	}
	callerSet, err := s.settings.Settings(ctx, callerID)
	if err != nil {
		return nil, err
	}

	conn, err := s.connector.Join(ctx, callerID, voiceChannel)
	if err != nil {
		return nil, &JoinError{TenantID: callerID, Channel: voiceChannel, Cause: err}
	}

	leg := newLeg(s, callerID, msgChannel, true, callerSet.SoundPack)
	leg.state = Dialing{}
	leg.target = TargetInfo{ID: targetID}
	if err := s.registry.Register(callerID, leg); err != nil {
		conn.Disconnect()
		return nil, err
	}
	leg.attachVoice(conn)
	leg.render(ctx)
	s.publish(ctx, s.builder.New(events.CallDialing, leg.id, leg.tenantID))

	dialCtx, cancel := context.WithCancel(context.Background())
	leg.mu.Lock()
	leg.dialCancel = cancel
	leg.mu.Unlock()
	go leg.runDial(dialCtx, targetID)

	logger.Info("call initiated", "caller", callerID, "target", targetID)
	return leg, nil
}

// InitiateRandomCall starts a directory-matched call: the leg begins
// in Searching and dials whoever the yellow pages return after the
// search delay. Voice is joined only once a match is found.
func (s *Service) InitiateRandomCall(ctx context.Context, callerID, msgChannel, voiceChannel string) (*Leg, error) {
	if err := s.admit(ctx, callerID); err != nil {
		return nil, err
	}
	callerSet, err := s.settings.Settings(ctx, callerID)
	if err != nil {
		return nil, err
	}

	leg := newLeg(s, callerID, msgChannel, true, callerSet.SoundPack)
	leg.state = Searching{}
	if err := s.registry.Register(callerID, leg); err != nil {
		return nil, err
	}
	leg.render(ctx)

	searchCtx, cancel := context.WithCancel(context.Background())
	leg.mu.Lock()
	leg.dialCancel = cancel
	leg.mu.Unlock()
	go leg.runSearch(searchCtx, voiceChannel)

	logger.Info("random call initiated", "caller", callerID)
	return leg, nil
}

// admit enforces one call per tenant. A stale leg, one already
// terminal or stuck closing, is force-dropped so the tenant is not
// locked out of calling by a broken teardown.
func (s *Service) admit(ctx context.Context, tenantID string) error {
	existing := s.registry.Lookup(tenantID)
	if existing == nil {
		return nil
	}
	st := existing.State()
	if existing.isClosing() || st == nil || st.Terminal() {
		logger.Warn("dropping stale leg", "tenant", tenantID, "leg_id", existing.id)
		existing.forceDrop(ctx)
		return nil
	}
	return ErrAlreadyInCall
}

// PressPickup handles the pickup button for the tenant's leg.
func (s *Service) PressPickup(ctx context.Context, tenantID, voiceChannel string) error {
	leg := s.registry.Lookup(tenantID)
	if leg == nil {
		return ErrNoActiveCall
	}
	return leg.PickUp(ctx, voiceChannel)
}

// PressHangup handles the hangup button for the tenant's leg.
func (s *Service) PressHangup(ctx context.Context, tenantID string) error {
	leg := s.registry.Lookup(tenantID)
	if leg == nil {
		return ErrNoActiveCall
	}
	leg.HangUp(ctx)
	return nil
}

// VoiceUpdate handles a voice channel membership change for the
// tenant. A bot disconnect ends the call; otherwise only the
// empty-channel clock is updated.
func (s *Service) VoiceUpdate(ctx context.Context, tenantID string, botInChannel bool) {
	leg := s.registry.Lookup(tenantID)
	if leg == nil {
		return
	}
	if !botInChannel {
		leg.HangUp(ctx)
		return
	}
	leg.noteOccupancy(time.Now())
}

// MessageDeleted handles deletion of the tenant's call status message,
// which ends the call.
func (s *Service) MessageDeleted(ctx context.Context, tenantID string) {
	leg := s.registry.Lookup(tenantID)
	if leg == nil {
		return
	}
	leg.HangUp(ctx)
}

// resolveTarget runs the admission checks against the dialed tenant.
// A nil tenant with a zero error means resolution failed with the
// returned reason; a non-nil error is an infrastructure fault.
func (s *Service) resolveTarget(ctx context.Context, callerID, targetID string) (*directory.Tenant, directory.Settings, DialFailReason, error) {
	var none directory.Settings

	target, err := s.resolver.Resolve(ctx, targetID)
	if errors.Is(err, directory.ErrTenantNotFound) {
		return nil, none, TargetNotFound, nil
	}
	if err != nil {
		return nil, none, 0, err
	}

	blocked, err := s.blocks.IsBlocked(ctx, targetID, callerID)
	if err != nil {
		return nil, none, 0, err
	}
	if blocked {
		return nil, none, BlockedByTarget, nil
	}
	blocked, err = s.blocks.IsBlocked(ctx, callerID, targetID)
	if err != nil {
		return nil, none, 0, err
	}
	if blocked {
		return nil, none, BlockedByCaller, nil
	}

	tset, err := s.settings.Settings(ctx, targetID)
	if err != nil {
		return nil, none, 0, err
	}
	if tset.NotificationChannel == "" {
		return nil, none, TargetNoTextChannel, nil
	}

	if s.registry.Lookup(targetID) != nil {
		return nil, none, TargetBusy, nil
	}
	return target, tset, 0, nil
}

// callerInfo builds the callee's view of the caller.
func (s *Service) callerInfo(ctx context.Context, ownerID string, caller *Leg) TargetInfo {
	info := TargetInfo{
		ID:      caller.tenantID,
		Channel: caller.msgChannel,
	}
	if t, err := s.resolver.Resolve(ctx, caller.tenantID); err == nil {
		info.Name = t.Name
		info.IconURL = t.IconURL
	}
	if s.contacts != nil {
		if name, ok, err := s.contacts.ContactName(ctx, ownerID, caller.tenantID); err == nil && ok {
			info.Name = name
			info.Familiar = true
		}
	}
	return info
}

func (s *Service) render(ctx context.Context, leg *Leg, state State) {
	if err := s.renderer.Render(ctx, leg, state); err != nil {
		logger.Warn("render failed", "tenant", leg.tenantID, "state", state.String(), "error", err)
	}
}

func (s *Service) deleteMessage(ctx context.Context, leg *Leg) {
	if err := s.renderer.Delete(ctx, leg); err != nil {
		logger.Warn("message delete failed", "tenant", leg.tenantID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		logger.Warn("event publish failed", "subject", ev.Subject(), "error", err)
	}
}

// publishEnded publishes the CallEnded event for the leg's call.
func (s *Service) publishEnded(ctx context.Context, leg *Leg, disp events.Disposition, reason string, talk time.Duration) {
	ev := s.builder.Ended(leg.id, leg.tenantID, disp, reason, talk)
	ev.Outgoing = leg.outgoing
	if peer := leg.Peer(); peer != nil {
		ev.PeerTenantID = peer.tenantID
	}
	s.publish(ctx, ev)
}
