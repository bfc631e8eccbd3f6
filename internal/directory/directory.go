// Package directory defines the collaborator boundary the call core
// depends on: tenant resolution, per-tenant settings, block lists,
// contact lists, and the yellow-pages directory used for random calls.
//
// The call core only ever sees these interfaces; storage lives behind
// them (in-memory by default, Redis-backed in production).
package directory

import (
	"context"
	"errors"

	"github.com/leximon/telephone/internal/audio"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrTenantNotFound indicates the tenant does not exist on the platform.
	ErrTenantNotFound = errors.New("tenant not found")
)

// Tenant is an isolated community on the host platform; the unit that
// places and receives calls.
type Tenant struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
}

// JoinRule controls which voice channel the callee side auto-joins
// while an incoming call rings.
type JoinRule int

const (
	// JoinMostUsers joins the accessible voice channel with the most members.
	JoinMostUsers JoinRule = iota
	// JoinSelectedChannel joins the channel configured in settings.
	JoinSelectedChannel
	// JoinNever never auto-joins; the bot connects only on pickup.
	JoinNever
)

// String returns the string representation of JoinRule.
func (r JoinRule) String() string {
	switch r {
	case JoinMostUsers:
		return "MostUsers"
	case JoinSelectedChannel:
		return "SelectedChannel"
	case JoinNever:
		return "Never"
	default:
		return "Unknown"
	}
}

// Settings holds a tenant's call configuration.
type Settings struct {
	// NotificationChannel is the text channel call status messages go
	// to. Empty means the tenant cannot receive calls.
	NotificationChannel string `json:"notification_channel"`

	// JoinRule selects the callee-side auto-join behavior.
	JoinRule JoinRule `json:"join_rule"`

	// VoiceChannel is the channel used with JoinSelectedChannel.
	VoiceChannel string `json:"voice_channel,omitempty"`

	// SoundPack selects the tone voicing for this tenant.
	SoundPack audio.SoundPack `json:"sound_pack"`

	// MuteBots drops bot-contributed audio from the relay.
	MuteBots bool `json:"mute_bots"`
}

// DefaultSettings returns the settings applied to tenants that never
// configured anything.
func DefaultSettings() Settings {
	return Settings{
		JoinRule:  JoinMostUsers,
		SoundPack: audio.PackClassic,
	}
}

// Resolver resolves tenant identities.
type Resolver interface {
	// Resolve returns the tenant, or ErrTenantNotFound.
	Resolve(ctx context.Context, tenantID string) (*Tenant, error)
}

// SettingsStore provides per-tenant call settings.
type SettingsStore interface {
	// Settings returns the tenant's settings, falling back to
	// DefaultSettings for unconfigured tenants.
	Settings(ctx context.Context, tenantID string) (Settings, error)
}

// BlockList answers block queries between tenants.
type BlockList interface {
	// IsBlocked reports whether byTenant has blocked ofTenant.
	IsBlocked(ctx context.Context, byTenant, ofTenant string) (bool, error)
}

// ContactList provides the familiar-name lookup used for TargetInfo.
type ContactList interface {
	// ContactName returns the name owner has saved for target and
	// whether such a contact exists.
	ContactName(ctx context.Context, owner, target string) (string, bool, error)
}

// YellowPages is the directory of tenants opted into random calls.
type YellowPages interface {
	// Random returns a random listed tenant, excluding the given
	// tenant ID. Returns (nil, nil) when no eligible tenant exists.
	Random(ctx context.Context, exclude string) (*Tenant, error)

	// Enable lists (or refreshes) a tenant on the yellow pages.
	Enable(ctx context.Context, tenant Tenant) error

	// Disable removes a tenant from the yellow pages.
	Disable(ctx context.Context, tenantID string) error
}
