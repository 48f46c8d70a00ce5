package item

import (
	"errors"
	"fmt"
)

var (
	ErrSnapshotMismatch = errors.New("inventory changed since offer")
	ErrBadOffer         = errors.New("invalid trade offer")
)

// Offerable reports whether slot i of items may be offered in a trade:
// outside the equipment slots, non-empty and tradable.
func Offerable(items []*Item, i int) bool {
	return i >= ReservedSlots && i < len(items) && items[i].Tradable()
}

// Exchange swaps the offered slots of a and b in one step. snapA and snapB
// are the persisted forms both sides accepted; if either inventory no
// longer matches, or the received items do not fit, nothing changes.
// Received items fill the giver's vacated slots and then free backpack
// slots.
func Exchange(a, b *Inventory, offerA, offerB []bool, snapA, snapB []uint16) error {
	if a == b {
		return ErrBadOffer
	}
	unlock := lockPair(a, b)

	nextA, nextB, err := exchangeLocked(a, b, offerA, offerB, snapA, snapB)
	if err != nil {
		unlock()
		return err
	}
	revA, typesA, hookA := a.setLocked(nextA)
	revB, typesB, hookB := b.setLocked(nextB)
	unlock()

	pending{hookA, revA, typesA}.fire()
	pending{hookB, revB, typesB}.fire()
	return nil
}

func exchangeLocked(a, b *Inventory, offerA, offerB []bool, snapA, snapB []uint16) ([]*Item, []*Item, error) {
	if !sameTypes(a.items, snapA) || !sameTypes(b.items, snapB) {
		return nil, nil, ErrSnapshotMismatch
	}
	givenA, err := collect(a.items, offerA)
	if err != nil {
		return nil, nil, fmt.Errorf("first side: %w", err)
	}
	givenB, err := collect(b.items, offerB)
	if err != nil {
		return nil, nil, fmt.Errorf("second side: %w", err)
	}

	nextA := remove(a.items, offerA)
	nextB := remove(b.items, offerB)
	if err := place(a, nextA, givenB); err != nil {
		return nil, nil, err
	}
	if err := place(b, nextB, givenA); err != nil {
		return nil, nil, err
	}
	return nextA, nextB, nil
}

func sameTypes(items []*Item, snap []uint16) bool {
	if len(items) != len(snap) {
		return false
	}
	for i, t := range ItemTypes(items) {
		if snap[i] != t {
			return false
		}
	}
	return true
}

func collect(items []*Item, offer []bool) ([]*Item, error) {
	if len(offer) != len(items) {
		return nil, ErrBadOffer
	}
	var out []*Item
	for i, on := range offer {
		if !on {
			continue
		}
		if !Offerable(items, i) {
			return nil, fmt.Errorf("%w: slot %d", ErrBadOffer, i)
		}
		out = append(out, items[i])
	}
	return out, nil
}

func remove(items []*Item, offer []bool) []*Item {
	out := append([]*Item(nil), items...)
	for i, on := range offer {
		if on {
			out[i] = nil
		}
	}
	return out
}

func place(inv *Inventory, items []*Item, incoming []*Item) error {
	for _, it := range incoming {
		slot := inv.freeSlot(items, it, ReservedSlots)
		if slot < 0 {
			return ErrInventoryFull
		}
		items[slot] = it
	}
	return nil
}
