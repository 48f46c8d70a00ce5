package world

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kasuganosora/realmcore/config"
	"github.com/kasuganosora/realmcore/game/item"
	"github.com/kasuganosora/realmcore/persist"
	"github.com/kasuganosora/realmcore/resource"
	"github.com/kasuganosora/realmcore/store"
	"go.uber.org/zap"
)

var (
	ErrNoEntity   = errors.New("object not found")
	ErrNotOwner   = errors.New("not the owner of this container")
	ErrEmptySlot  = errors.New("slot is empty")
	ErrTPCooldown = errors.New("teleport is on cooldown")
	ErrTPSelf     = errors.New("you are already at yourself")
	ErrNotVisible = errors.New("target not found")
	ErrInvLocked  = errors.New("inventory is locked")
)

// Options are the per-world timings.
type Options struct {
	TickInterval time.Duration
	ActiveRadius float64
	LootBagLife  time.Duration
	NewbieTimeMs int
	TPCooldownMs int
	MaxTickDelta int
}

// OptionsFrom reads the game section of the configuration.
func OptionsFrom(g config.GameConfig) Options {
	return Options{
		TickInterval: g.TickInterval(),
		ActiveRadius: g.ActiveRadius,
		LootBagLife:  time.Duration(g.LootBagLifeMs) * time.Millisecond,
		NewbieTimeMs: g.NewbieTimeMs,
		TPCooldownMs: g.TpCooldownMs,
	}
}

// Deps are the optional persistence collaborators of a world. Without them
// nothing is written back.
type Deps struct {
	Store   *store.Store
	Persist *persist.Queue
}

// PlayerHook runs for every ticked player after its own countdowns.
type PlayerHook func(p *Player, t RealmTime)

// InventoryLock reports whether p's inventory must not change right now.
type InventoryLock func(p *Player) bool

// World is one running world. A single goroutine ticks it; everything else
// talks to it through the enter and leave queues or the thread-safe getters.
type World struct {
	ID   int
	Name string

	opts   Options
	cat    *resource.Catalog
	deps   Deps
	logger *zap.Logger
	nextID atomic.Int32

	mu       sync.RWMutex
	entities map[int32]*Entity
	players  map[int64]*Player
	time     RealmTime
	onTick   []PlayerHook
	onLeave  []PlayerHook
	invLocks []InventoryLock

	qmu    sync.Mutex
	enterQ []*Entity
	leaveQ []*Entity

	// Tick goroutine only.
	removals []*Entity
	lastTick time.Time

	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a world. It does not tick until Run.
func New(id int, name string, cat *resource.Catalog, opts Options, deps Deps, logger *zap.Logger) *World {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 50 * time.Millisecond
	}
	if opts.MaxTickDelta <= 0 {
		opts.MaxTickDelta = 1000
	}
	return &World{
		ID:       id,
		Name:     name,
		opts:     opts,
		cat:      cat,
		deps:     deps,
		logger:   logger.With(zap.String("world", name)),
		entities: make(map[int32]*Entity),
		players:  make(map[int64]*Player),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Options returns the world timings.
func (w *World) Options() Options { return w.opts }

// Catalog returns the game data the world was built with.
func (w *World) Catalog() *resource.Catalog { return w.cat }

// OnPlayerTick registers a hook run for every player on every tick.
func (w *World) OnPlayerTick(h PlayerHook) {
	w.mu.Lock()
	w.onTick = append(w.onTick, h)
	w.mu.Unlock()
}

// OnPlayerLeave registers a hook run when a player is removed.
func (w *World) OnPlayerLeave(h PlayerHook) {
	w.mu.Lock()
	w.onLeave = append(w.onLeave, h)
	w.mu.Unlock()
}

// LockInventories registers a check that freezes a player's items: while
// it returns true MoveItem and DropItem refuse with ErrInvLocked.
func (w *World) LockInventories(fn InventoryLock) {
	w.mu.Lock()
	w.invLocks = append(w.invLocks, fn)
	w.mu.Unlock()
}

func (w *World) inventoryLocked(p *Player) bool {
	w.mu.RLock()
	locks := w.invLocks
	w.mu.RUnlock()
	for _, fn := range locks {
		if fn(p) {
			return true
		}
	}
	return false
}

// Run ticks the world at its fixed cadence until Stop. Call in a goroutine.
func (w *World) Run() {
	w.running.Store(true)
	defer close(w.done)
	ticker := time.NewTicker(w.opts.TickInterval)
	defer ticker.Stop()
	w.lastTick = time.Now()
	for {
		select {
		case now := <-ticker.C:
			delta := int(now.Sub(w.lastTick) / time.Millisecond)
			w.lastTick = now
			w.Step(delta)
		case <-w.stopCh:
			return
		}
	}
}

// Stop ends Run and waits for the running tick to finish.
func (w *World) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	if !w.running.Load() {
		return
	}
	select {
	case <-w.done:
	case <-time.After(5 * time.Second):
		w.logger.Warn("world did not stop in time")
	}
}

// Time returns the world clock as of the last tick.
func (w *World) Time() RealmTime {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.time
}

// Step runs one tick of deltaMs. Run calls it; tests call it directly.
// The delta is clamped to [0, MaxTickDelta] so a stalled loop catches up
// without driving countdowns far below zero.
func (w *World) Step(deltaMs int) RealmTime {
	if deltaMs < 0 {
		deltaMs = 0
	}
	if deltaMs > w.opts.MaxTickDelta {
		deltaMs = w.opts.MaxTickDelta
	}
	w.applyQueues()

	w.mu.Lock()
	w.time.TickCount++
	w.time.TotalElapsedMs += int64(deltaMs)
	w.time.ElapsedMsDelta = deltaMs
	t := w.time
	tickHooks := w.onTick
	w.mu.Unlock()

	for _, e := range w.active() {
		w.tickEntity(e, t, tickHooks)
	}
	w.flushRemovals()
	return t
}

func (w *World) tickEntity(e *Entity, t RealmTime, hooks []PlayerHook) {
	if e.removed {
		return
	}
	if e.mortal {
		e.lifeMs -= t.ElapsedMsDelta
		if e.lifeMs <= 0 {
			e.lifeMs = 0
			w.Remove(e)
			return
		}
	}
	if e.emptyContainer() {
		w.Remove(e)
		return
	}
	if e.Behavior != nil {
		e.Behavior.Tick(w, e, t)
	}
	if p := e.Player; p != nil {
		if p.Session.IsClosed() {
			w.Remove(e)
			return
		}
		p.tick(t)
		for _, h := range hooks {
			h(p, t)
		}
	}
}

// active returns the entities to tick: players, always-tick entities and
// everything within the active radius of a player.
func (w *World) active() []*Entity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Entity, 0, len(w.entities))
	r2 := w.opts.ActiveRadius * w.opts.ActiveRadius
	type pos struct{ x, y float64 }
	anchors := make([]pos, 0, len(w.players))
	for _, p := range w.players {
		x, y := p.Entity.Position()
		anchors = append(anchors, pos{x, y})
	}
	for _, e := range w.entities {
		if e.Player != nil || e.AlwaysTick || w.opts.ActiveRadius <= 0 {
			out = append(out, e)
			continue
		}
		for _, a := range anchors {
			if e.dist2(a.x, a.y) <= r2 {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Remove drops e at the end of the current tick. Only call it from the tick
// goroutine (behaviors, hooks); other goroutines use LeaveWorld.
func (w *World) Remove(e *Entity) {
	if e.removed {
		return
	}
	e.removed = true
	w.removals = append(w.removals, e)
}

func (w *World) flushRemovals() {
	if len(w.removals) == 0 {
		return
	}
	for _, e := range w.removals {
		w.detach(e)
	}
	for i := range w.removals {
		w.removals[i] = nil
	}
	w.removals = w.removals[:0]
}

// EnterWorld queues e to join at the start of the next tick and returns the
// id it will have.
func (w *World) EnterWorld(e *Entity) int32 {
	e.mu.Lock()
	e.ID = w.nextID.Add(1)
	e.world = w
	e.mu.Unlock()
	w.qmu.Lock()
	w.enterQ = append(w.enterQ, e)
	w.qmu.Unlock()
	return e.ID
}

// LeaveWorld queues e to be removed at the start of the next tick.
func (w *World) LeaveWorld(e *Entity) {
	w.qmu.Lock()
	w.leaveQ = append(w.leaveQ, e)
	w.qmu.Unlock()
}

func (w *World) applyQueues() {
	w.qmu.Lock()
	enter, leave := w.enterQ, w.leaveQ
	w.enterQ, w.leaveQ = nil, nil
	w.qmu.Unlock()

	if len(enter) > 0 {
		w.mu.Lock()
		for _, e := range enter {
			w.entities[e.ID] = e
			if e.Player != nil {
				w.players[e.Player.AccountID()] = e.Player
			}
		}
		w.mu.Unlock()
	}
	for _, e := range leave {
		if !e.removed {
			e.removed = true
			w.detach(e)
		}
	}
}

func (w *World) detach(e *Entity) {
	w.mu.Lock()
	if cur, ok := w.entities[e.ID]; !ok || cur != e {
		w.mu.Unlock()
		return
	}
	delete(w.entities, e.ID)
	var leaveHooks []PlayerHook
	if p := e.Player; p != nil {
		if cur := w.players[p.AccountID()]; cur == p {
			delete(w.players, p.AccountID())
		}
		leaveHooks = w.onLeave
	}
	t := w.time
	w.mu.Unlock()

	for _, h := range leaveHooks {
		h(e.Player, t)
	}
}

// ---- Queries ----

// Entity returns the entity with id, nil when absent.
func (w *World) Entity(id int32) *Entity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.entities[id]
}

// Count returns the number of entities in the world.
func (w *World) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entities)
}

// Player returns the player of an account, nil when not in this world.
func (w *World) Player(accountID int64) *Player {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.players[accountID]
}

// Players returns a snapshot of the players in the world.
func (w *World) Players() []*Player {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Player, 0, len(w.players))
	for _, p := range w.players {
		out = append(out, p)
	}
	return out
}

// PlayerByName finds a player by account name (case-insensitive).
func (w *World) PlayerByName(name string) *Player {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, p := range w.players {
		if strings.EqualFold(p.Name(), name) {
			return p
		}
	}
	return nil
}

// ---- Player actions ----

// MoveItem swaps a slot of one entity with a slot of another. Each side is
// either p itself or a container p may access.
func (w *World) MoveItem(p *Player, fromID int32, fromSlot int, toID int32, toSlot int) error {
	if w.inventoryLocked(p) {
		return ErrInvLocked
	}
	src, err := w.reachable(p, fromID)
	if err != nil {
		return err
	}
	dst, err := w.reachable(p, toID)
	if err != nil {
		return err
	}
	return item.Swap(src.Inventory, fromSlot, dst.Inventory, toSlot)
}

func (w *World) reachable(p *Player, id int32) (*Entity, error) {
	if id == p.Entity.ID {
		return p.Entity, nil
	}
	e := w.Entity(id)
	if e == nil || e.Inventory == nil || e.Player != nil {
		return nil, ErrNoEntity
	}
	if !e.CanAccess(p.AccountID()) {
		return nil, ErrNotOwner
	}
	return e, nil
}

// DropItem moves the item in slot out of p's inventory into a new loot bag
// at p's feet. Soulbound items go into a bag only p can open.
func (w *World) DropItem(p *Player, slot int) (*Entity, error) {
	if w.inventoryLocked(p) {
		return nil, ErrInvLocked
	}
	it, err := p.Inventory().Take(slot)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, ErrEmptySlot
	}
	var owners []int64
	if it.Soulbound {
		owners = []int64{p.AccountID()}
	}
	bag, err := NewLootBag(w.cat, []*item.Item{it}, owners, w.opts.LootBagLife)
	if err != nil {
		_, _ = p.Inventory().Add(it, slot)
		return nil, err
	}
	bag.Move(p.Entity.Position())
	w.EnterWorld(bag)
	return bag, nil
}

// Teleport moves p to target.
func (w *World) Teleport(p, target *Player) error {
	if p == target {
		return ErrTPSelf
	}
	if target.Entity.World() != w || !target.VisibleTo(p) {
		return ErrNotVisible
	}
	if !p.TPCooledDown() {
		return ErrTPCooldown
	}
	p.Entity.Move(target.Entity.Position())
	p.SetTPDisabledPeriod(w.opts.TPCooldownMs)
	return nil
}
