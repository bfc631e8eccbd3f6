package directory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/leximon/telephone/internal/store"
)

// YellowPageTTL is how long a listing stays valid without a refresh.
// Tenants that go away simply age out instead of being matched forever.
const YellowPageTTL = 7 * 24 * time.Hour

// Memory is an in-process implementation of every directory interface.
// It is the default wiring and the test double.
type Memory struct {
	mu       sync.RWMutex
	tenants  map[string]Tenant
	settings map[string]Settings
	blocks   map[string]map[string]bool   // byTenant -> ofTenant -> blocked
	contacts map[string]map[string]string // owner -> target -> saved name

	pages *store.TTLStore[string, Tenant]
}

// NewMemory creates an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		tenants:  make(map[string]Tenant),
		settings: make(map[string]Settings),
		blocks:   make(map[string]map[string]bool),
		contacts: make(map[string]map[string]string),
		pages:    store.NewTTLStore[string, Tenant](time.Minute),
	}
}

// AddTenant registers a tenant.
func (m *Memory) AddTenant(t Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = t
}

// RemoveTenant deletes a tenant.
func (m *Memory) RemoveTenant(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tenants, tenantID)
}

// SetSettings stores a tenant's settings.
func (m *Memory) SetSettings(tenantID string, s Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[tenantID] = s
}

// Block records that byTenant blocks ofTenant.
func (m *Memory) Block(byTenant, ofTenant string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blocks[byTenant] == nil {
		m.blocks[byTenant] = make(map[string]bool)
	}
	m.blocks[byTenant][ofTenant] = true
}

// Unblock removes a block entry.
func (m *Memory) Unblock(byTenant, ofTenant string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocks[byTenant], ofTenant)
}

// AddContact saves a familiar name for target in owner's contact list.
func (m *Memory) AddContact(owner, target, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contacts[owner] == nil {
		m.contacts[owner] = make(map[string]string)
	}
	m.contacts[owner][target] = name
}

// Close stops the yellow-pages cleanup goroutine.
func (m *Memory) Close() {
	m.pages.Stop()
}

// --- Interface implementations ---

func (m *Memory) Resolve(ctx context.Context, tenantID string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return &t, nil
}

func (m *Memory) Settings(ctx context.Context, tenantID string) (Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.settings[tenantID]; ok {
		return s, nil
	}
	return DefaultSettings(), nil
}

func (m *Memory) IsBlocked(ctx context.Context, byTenant, ofTenant string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.blocks[byTenant][ofTenant], nil
}

func (m *Memory) ContactName(ctx context.Context, owner, target string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.contacts[owner][target]
	return name, ok, nil
}

func (m *Memory) Random(ctx context.Context, exclude string) (*Tenant, error) {
	var candidates []Tenant
	m.pages.ForEach(func(key string, value Tenant) bool {
		if key != exclude {
			candidates = append(candidates, value)
		}
		return true
	})
	if len(candidates) == 0 {
		return nil, nil
	}
	t := candidates[rand.Intn(len(candidates))]
	return &t, nil
}

func (m *Memory) Enable(ctx context.Context, tenant Tenant) error {
	m.pages.Set(tenant.ID, tenant, YellowPageTTL)
	return nil
}

func (m *Memory) Disable(ctx context.Context, tenantID string) error {
	m.pages.Delete(tenantID)
	return nil
}

var (
	_ Resolver      = (*Memory)(nil)
	_ SettingsStore = (*Memory)(nil)
	_ BlockList     = (*Memory)(nil)
	_ ContactList   = (*Memory)(nil)
	_ YellowPages   = (*Memory)(nil)
)
