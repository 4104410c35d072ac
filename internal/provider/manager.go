package provider

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/xtreamrelay/xtreamrelay/internal/metrics"
)

// Config describes one configured provider (or provider alias) before it
// is wired into a lineup.
type Config struct {
	ID             uint16
	Name           string
	URL            string
	Username       string
	Password       string
	MaxConnections uint16
	Priority       int16
}

// Provider is one allocatable connection slot, tracking its own current
// connection count so callers never need to lock anything broader than a
// single provider.
type Provider struct {
	Config
	current atomic.Int32
}

// IsExhausted reports whether the provider has hit its connection cap. A
// MaxConnections of 0 means unlimited.
func (p *Provider) IsExhausted() bool {
	return p.MaxConnections > 0 && p.current.Load() >= int32(p.MaxConnections)
}

// TryAllocate attempts to claim one connection slot, returning false if
// the provider is exhausted and force is false. force always succeeds,
// used by the manager's user_access_control override.
func (p *Provider) TryAllocate(force bool) bool {
	if force {
		n := p.current.Add(1)
		metrics.ProviderActiveConnections.WithLabelValues(p.Name).Set(float64(n))
		return true
	}
	for {
		cur := p.current.Load()
		if p.MaxConnections > 0 && cur >= int32(p.MaxConnections) {
			return false
		}
		if p.current.CompareAndSwap(cur, cur+1) {
			metrics.ProviderActiveConnections.WithLabelValues(p.Name).Set(float64(cur + 1))
			return true
		}
	}
}

// Release returns one connection slot, never going below zero.
func (p *Provider) Release() {
	for {
		cur := p.current.Load()
		if cur <= 0 {
			return
		}
		if p.current.CompareAndSwap(cur, cur-1) {
			metrics.ProviderActiveConnections.WithLabelValues(p.Name).Set(float64(cur - 1))
			return
		}
	}
}

// ActiveConnections returns the provider's current connection count.
func (p *Provider) ActiveConnections() int32 { return p.current.Load() }

// priorityGroup is either one provider (no contention to round-robin
// over) or several providers sharing a priority level, acquired in
// round-robin order.
type priorityGroup struct {
	providers []*Provider
	index     atomic.Uint32
}

func (g *priorityGroup) isExhausted() bool {
	for _, p := range g.providers {
		if !p.IsExhausted() {
			return false
		}
	}
	return true
}

// acquireNext tries each provider in the group starting from the
// round-robin cursor, returning the first with capacity.
func (g *priorityGroup) acquireNext() *Provider {
	n := len(g.providers)
	idx := int(g.index.Load()) % n
	for i := 0; i < n; i++ {
		p := g.providers[idx]
		idx = (idx + 1) % n
		if p.TryAllocate(false) {
			g.index.Store(uint32(idx))
			return p
		}
	}
	g.index.Store(uint32(idx))
	return nil
}

func (g *priorityGroup) forceAcquire() *Provider {
	idx := int(g.index.Load()) % len(g.providers)
	g.index.Store(uint32((idx + 1) % len(g.providers)))
	p := g.providers[idx]
	p.TryAllocate(true)
	return p
}

func (g *priorityGroup) release(id uint16) bool {
	for _, p := range g.providers {
		if p.ID == id {
			p.Release()
			return true
		}
	}
	return false
}

// Lineup is one named provider set, built from a primary
// provider plus any aliases, grouped by priority and acquired in
// ascending-priority, round-robin order within a priority level.
type Lineup struct {
	mu     sync.Mutex
	groups []*priorityGroup
	index  atomic.Uint32
}

// NewLineup builds a Lineup from one primary provider and any aliases,
// grouping configs that share a priority level together.
func NewLineup(primary Config, aliases ...Config) *Lineup {
	all := append([]Config{primary}, aliases...)
	byPriority := make(map[int16][]*Provider)
	var order []int16
	for _, c := range all {
		p := &Provider{Config: c}
		if _, seen := byPriority[c.Priority]; !seen {
			order = append(order, c.Priority)
		}
		byPriority[c.Priority] = append(byPriority[c.Priority], p)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	l := &Lineup{}
	for _, pr := range order {
		l.groups = append(l.groups, &priorityGroup{providers: byPriority[pr]})
	}
	return l
}

// Acquire returns the next available provider, trying priority groups in
// round-robin order starting from the lineup's cursor. If every group is
// exhausted and force is true, a provider is handed out anyway.
func (l *Lineup) Acquire(force bool) *Provider {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.groups)
	if n == 0 {
		return nil
	}
	idx := int(l.index.Load()) % n
	for i := 0; i < n; i++ {
		g := l.groups[idx]
		idx = (idx + 1) % n
		if p := g.acquireNext(); p != nil {
			if g.isExhausted() {
				l.index.Store(uint32(idx))
			}
			return p
		}
	}

	if force {
		g := l.groups[idx]
		l.index.Store(uint32((idx + 1) % n))
		return g.forceAcquire()
	}
	return nil
}

// Release returns a connection slot for the provider with the given id.
func (l *Lineup) Release(providerID uint16) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, g := range l.groups {
		if g.release(providerID) {
			return
		}
	}
}

// ActiveConnections returns every provider's name and current connection
// count across the lineup.
func (l *Lineup) ActiveConnections() map[string]int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int32)
	for _, g := range l.groups {
		for _, p := range g.providers {
			out[p.Name] = p.ActiveConnections()
		}
	}
	return out
}

// Manager holds one Lineup per configured input, dispatching
// acquire/release calls by lineup name.
type Manager struct {
	mu                sync.RWMutex
	userAccessControl bool
	lineups           map[string]*Lineup
}

// NewManager builds an empty Manager. userAccessControl mirrors the Rust
// field of the same name: when true, Acquire always forces an allocation
// rather than returning nil on exhaustion (accepting oversubscription so
// an authenticated user is never rejected outright).
func NewManager(userAccessControl bool) *Manager {
	return &Manager{userAccessControl: userAccessControl, lineups: make(map[string]*Lineup)}
}

// AddLineup registers name's provider lineup.
func (m *Manager) AddLineup(name string, lineup *Lineup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lineups[name] = lineup
}

// AcquireConnection acquires a provider from the named lineup.
func (m *Manager) AcquireConnection(lineupName string) *Provider {
	m.mu.RLock()
	lineup, ok := m.lineups[lineupName]
	force := m.userAccessControl
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return lineup.Acquire(force)
}

// ReleaseConnection releases a connection back to the named lineup.
func (m *Manager) ReleaseConnection(lineupName string, providerID uint16) {
	m.mu.RLock()
	lineup, ok := m.lineups[lineupName]
	m.mu.RUnlock()
	if ok {
		lineup.Release(providerID)
	}
}

// ActiveConnections reports every provider's current connection count
// across all lineups, keyed by provider name.
func (m *Manager) ActiveConnections() map[string]int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int32)
	for _, lineup := range m.lineups {
		for name, count := range lineup.ActiveConnections() {
			out[name] = count
		}
	}
	return out
}
