package item

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ReservedSlots is the number of equipment slots at the head of a player
// inventory. They never take part in trades.
const ReservedSlots = 4

var (
	ErrInventoryFull = errors.New("inventory full")
	ErrSlotRange     = errors.New("slot out of range")
	ErrSlotType      = errors.New("item does not fit slot")

	errNoChange = errors.New("no change")
)

var nextInventoryID atomic.Uint64

// ChangeFunc is called after every mutation with the new revision and the
// persisted form of the slots. It runs outside the inventory lock.
type ChangeFunc func(revision uint64, types []uint16)

// Inventory is a fixed-size, slot-typed sequence of items owned by a single
// entity. Every mutation goes through SetItems.
type Inventory struct {
	id        uint64
	slotTypes []int

	mu       sync.RWMutex
	items    []*Item
	revision uint64
	onChange ChangeFunc
}

// NewInventory creates an empty inventory with one slot per slot type.
func NewInventory(slotTypes []int) *Inventory {
	st := make([]int, len(slotTypes))
	copy(st, slotTypes)
	return &Inventory{
		id:        nextInventoryID.Add(1),
		slotTypes: st,
		items:     make([]*Item, len(st)),
	}
}

// OnChange installs the owner's change hook, replacing any previous one.
func (inv *Inventory) OnChange(fn ChangeFunc) {
	inv.mu.Lock()
	inv.onChange = fn
	inv.mu.Unlock()
}

// Len returns the slot count.
func (inv *Inventory) Len() int { return len(inv.slotTypes) }

// SlotTypes returns a copy of the slot types.
func (inv *Inventory) SlotTypes() []int {
	out := make([]int, len(inv.slotTypes))
	copy(out, inv.slotTypes)
	return out
}

// Get returns the item in slot i, nil for empty or out of range.
func (inv *Inventory) Get(i int) *Item {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	if i < 0 || i >= len(inv.items) {
		return nil
	}
	return inv.items[i]
}

// Items returns a copy of the slots.
func (inv *Inventory) Items() []*Item {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make([]*Item, len(inv.items))
	copy(out, inv.items)
	return out
}

// ItemTypes returns the persisted form of the slots.
func (inv *Inventory) ItemTypes() []uint16 {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return ItemTypes(inv.items)
}

// Revision increases by one on every mutation.
func (inv *Inventory) Revision() uint64 {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.revision
}

// Count returns the number of non-empty slots.
func (inv *Inventory) Count() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	n := 0
	for _, it := range inv.items {
		if it != nil {
			n++
		}
	}
	return n
}

// SetItems replaces the slots. Extra items are dropped and missing ones are
// empty. The change hook is called once the new contents are visible.
func (inv *Inventory) SetItems(items []*Item) {
	inv.mu.Lock()
	rev, types, hook := inv.setLocked(items)
	inv.mu.Unlock()
	if hook != nil {
		hook(rev, types)
	}
}

func (inv *Inventory) setLocked(items []*Item) (uint64, []uint16, ChangeFunc) {
	next := make([]*Item, len(inv.slotTypes))
	copy(next, items)
	inv.items = next
	inv.revision++
	return inv.revision, ItemTypes(next), inv.onChange
}

// modify applies fn to a copy of the slots under the lock and commits the
// result like SetItems. Nothing changes when fn fails.
func (inv *Inventory) modify(fn func(items []*Item) error) error {
	inv.mu.Lock()
	items := make([]*Item, len(inv.items))
	copy(items, inv.items)
	if err := fn(items); err != nil {
		inv.mu.Unlock()
		return err
	}
	rev, types, hook := inv.setLocked(items)
	inv.mu.Unlock()
	if hook != nil {
		hook(rev, types)
	}
	return nil
}

// SetSlot replaces a single slot.
func (inv *Inventory) SetSlot(i int, it *Item) error {
	if i < 0 || i >= inv.Len() {
		return ErrSlotRange
	}
	if !Fits(inv.slotTypes[i], it) {
		return ErrSlotType
	}
	return inv.modify(func(items []*Item) error {
		items[i] = it
		return nil
	})
}

// Take empties slot i and returns what was in it, nil for an empty slot.
// The read and the clear happen under one lock.
func (inv *Inventory) Take(i int) (*Item, error) {
	if i < 0 || i >= inv.Len() {
		return nil, ErrSlotRange
	}
	var it *Item
	err := inv.modify(func(items []*Item) error {
		if it = items[i]; it == nil {
			return errNoChange
		}
		items[i] = nil
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil, nil
	}
	return it, err
}

// Add puts it into the first free slot at or after from that accepts it.
func (inv *Inventory) Add(it *Item, from int) (int, error) {
	slot := -1
	err := inv.modify(func(items []*Item) error {
		slot = inv.freeSlot(items, it, from)
		if slot < 0 {
			return ErrInventoryFull
		}
		items[slot] = it
		return nil
	})
	return slot, err
}

// freeSlot finds an empty slot at or after from accepting it.
func (inv *Inventory) freeSlot(items []*Item, it *Item, from int) int {
	for i := from; i < len(items); i++ {
		if items[i] == nil && Fits(inv.slotTypes[i], it) {
			return i
		}
	}
	return -1
}
