package world

import (
	"sync"
	"time"

	"github.com/kasuganosora/realmcore/game/item"
)

// RealmTime is the clock handed to every per-entity update.
type RealmTime struct {
	TickCount      int64
	TotalElapsedMs int64
	ElapsedMsDelta int
}

// Behavior is the per-tick update of an entity.
type Behavior interface {
	Tick(w *World, e *Entity, t RealmTime)
}

// BehaviorFunc adapts a function to Behavior.
type BehaviorFunc func(w *World, e *Entity, t RealmTime)

func (f BehaviorFunc) Tick(w *World, e *Entity, t RealmTime) { f(w, e, t) }

// VaultLink ties a container to the vault chest record it mirrors.
type VaultLink struct {
	AccountID int64
	Index     int
}

// Entity is any object in a world. What it can do is decided by which
// capabilities are set, not by its type:
//   - Inventory: slot-typed items (containers, players)
//   - Behavior: custom per-tick update
//   - Owners: only these accounts may take items out
//   - Vault: persisted vault chest backing the inventory
//   - Player: a connected player
//
// AlwaysTick exempts the entity from distance culling. KeepWhenEmpty keeps a
// container alive with nothing in it.
type Entity struct {
	ID         int32
	ObjectType uint16
	Name       string

	Inventory *item.Inventory
	Behavior  Behavior
	Owners    []int64
	Vault     *VaultLink
	Player    *Player

	AlwaysTick    bool
	KeepWhenEmpty bool

	// Touched by the tick goroutine only.
	lifeMs  int
	mortal  bool
	removed bool

	mu    sync.RWMutex
	x, y  float64
	world *World
}

// Move sets the entity position.
func (e *Entity) Move(x, y float64) {
	e.mu.Lock()
	e.x, e.y = x, y
	e.mu.Unlock()
}

// Position returns the entity position.
func (e *Entity) Position() (x, y float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.x, e.y
}

// World returns the world the entity was entered into, nil before that.
func (e *Entity) World() *World {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.world
}

// SetLife makes the entity leave its world after d of ticking.
func (e *Entity) SetLife(d time.Duration) {
	e.lifeMs = int(d / time.Millisecond)
	e.mortal = true
}

// Life is the remaining life in ms, -1 for entities that live forever.
func (e *Entity) Life() int {
	if !e.mortal {
		return -1
	}
	return e.lifeMs
}

// CanAccess reports whether accountID may take items out of e.
func (e *Entity) CanAccess(accountID int64) bool {
	if len(e.Owners) == 0 {
		return true
	}
	for _, id := range e.Owners {
		if id == accountID {
			return true
		}
	}
	return false
}

func (e *Entity) dist2(x, y float64) float64 {
	ex, ey := e.Position()
	dx, dy := ex-x, ey-y
	return dx*dx + dy*dy
}

// emptyContainer reports whether e is a container the world should drop.
func (e *Entity) emptyContainer() bool {
	return e.Inventory != nil && e.Player == nil && !e.KeepWhenEmpty && e.Inventory.Count() == 0
}
