package world

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kasuganosora/realmcore/model"
	"github.com/kasuganosora/realmcore/resource"
	"go.uber.org/zap"
)

// NexusID is the id of the default world players spawn into.
const NexusID = 1

// instanceBase is where ids of per-player worlds (vaults) start.
const instanceBase = 1 << 20

// IsInstance reports whether id belongs to a per-player world.
func IsInstance(id int) bool { return id > instanceBase }

// Manager manages all running worlds.
type Manager struct {
	mu       sync.RWMutex
	worlds   map[int]*World
	onCreate []func(*World)
	nextInst atomic.Int64

	cat    *resource.Catalog
	opts   Options
	deps   Deps
	logger *zap.Logger
}

// NewManager creates a Manager. Worlds are created on demand.
func NewManager(cat *resource.Catalog, opts Options, deps Deps, logger *zap.Logger) *Manager {
	m := &Manager{
		worlds: make(map[int]*World),
		cat:    cat,
		opts:   opts,
		deps:   deps,
		logger: logger,
	}
	m.nextInst.Store(instanceBase)
	return m
}

// OnCreate registers fn to run on every world before it starts ticking.
// Register before creating worlds.
func (m *Manager) OnCreate(fn func(*World)) {
	m.mu.Lock()
	m.onCreate = append(m.onCreate, fn)
	m.mu.Unlock()
}

// GetOrCreate returns the world with id, creating and starting it if needed.
func (m *Manager) GetOrCreate(id int, name string) *World {
	// Fast path: world already exists.
	m.mu.RLock()
	w, ok := m.worlds[id]
	m.mu.RUnlock()
	if ok {
		return w
	}

	// Slow path: create a new world.
	m.mu.Lock()
	defer m.mu.Unlock()
	// Double-check after acquiring write lock.
	if w, ok = m.worlds[id]; ok {
		return w
	}
	w = m.start(id, name)
	return w
}

// start creates and runs a world. Caller holds m.mu.
func (m *Manager) start(id int, name string) *World {
	w := New(id, name, m.cat, m.opts, m.deps, m.logger)
	for _, fn := range m.onCreate {
		fn(w)
	}
	m.worlds[id] = w
	go w.Run()
	m.logger.Info("world created", zap.Int("world_id", id), zap.String("world", name))
	return w
}

// Get returns the world with id, or nil if it does not exist.
func (m *Manager) Get(id int) *World {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.worlds[id]
}

// Destroy stops and removes the world with id.
func (m *Manager) Destroy(id int) {
	m.mu.Lock()
	w, ok := m.worlds[id]
	if ok {
		delete(m.worlds, id)
	}
	m.mu.Unlock()
	if ok {
		w.Stop()
		m.logger.Info("world destroyed", zap.Int("world_id", id))
	}
}

// ActiveCount returns the number of running worlds.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.worlds)
}

// StopAll stops every world (used at server shutdown).
func (m *Manager) StopAll() {
	m.mu.Lock()
	worlds := make([]*World, 0, len(m.worlds))
	for _, w := range m.worlds {
		worlds = append(worlds, w)
	}
	m.worlds = make(map[int]*World)
	m.mu.Unlock()
	for _, w := range worlds {
		w.Stop()
	}
}

func (m *Manager) all() []*World {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*World, 0, len(m.worlds))
	for _, w := range m.worlds {
		out = append(out, w)
	}
	return out
}

// FindPlayer returns the player of an account in any world.
func (m *Manager) FindPlayer(accountID int64) *Player {
	for _, w := range m.all() {
		if p := w.Player(accountID); p != nil {
			return p
		}
	}
	return nil
}

// Players returns every player of every world.
func (m *Manager) Players() []*Player {
	var out []*Player
	for _, w := range m.all() {
		out = append(out, w.Players()...)
	}
	return out
}

// OpenVault creates a private world holding the account's vault chests.
// Chest contents are loaded from the store and written back on change.
func (m *Manager) OpenVault(ctx context.Context, acc *model.Account) (*World, error) {
	chests := make([]*Entity, 0, acc.VaultCount)
	for i := 0; i < acc.VaultCount; i++ {
		rec := &model.VaultChest{AccountID: acc.ID, Index: i}
		if m.deps.Store != nil {
			var err error
			if rec, err = m.deps.Store.GetVaultChest(ctx, acc.ID, i); err != nil {
				return nil, fmt.Errorf("load vault chest %d: %w", i, err)
			}
		}
		e, err := NewVaultChest(m.cat, rec, vaultSaver(m.deps.Store, m.deps.Persist, acc.ID, i, m.logger))
		if err != nil {
			return nil, err
		}
		e.Move(float64(2*i), 0)
		chests = append(chests, e)
	}

	id := int(m.nextInst.Add(1))
	m.mu.Lock()
	w := m.start(id, fmt.Sprintf("vault-%d", acc.ID))
	m.mu.Unlock()
	for _, e := range chests {
		w.EnterWorld(e)
	}
	return w, nil
}
