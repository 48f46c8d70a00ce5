package item

// Fits reports whether it may be placed in a slot of slotType. Slot type 0
// accepts anything, an empty item fits everywhere.
func Fits(slotType int, it *Item) bool {
	return it == nil || slotType == 0 || it.SlotType == slotType
}

// lockPair write-locks a and b in id order. It returns the unlock func.
func lockPair(a, b *Inventory) func() {
	if a == b {
		a.mu.Lock()
		return a.mu.Unlock
	}
	first, second := a, b
	if second.id < first.id {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}

type pending struct {
	hook  ChangeFunc
	rev   uint64
	types []uint16
}

func (p pending) fire() {
	if p.hook != nil {
		p.hook(p.rev, p.types)
	}
}

// Swap exchanges slot si of src with slot di of dst. Both items must fit
// their new slots. src and dst may be the same inventory.
func Swap(src *Inventory, si int, dst *Inventory, di int) error {
	if si < 0 || si >= src.Len() || di < 0 || di >= dst.Len() {
		return ErrSlotRange
	}
	unlock := lockPair(src, dst)
	a, b := src.items[si], dst.items[di]
	if !Fits(dst.slotTypes[di], a) || !Fits(src.slotTypes[si], b) {
		unlock()
		return ErrSlotType
	}

	var changes []pending
	if src == dst {
		items := append([]*Item(nil), src.items...)
		items[si], items[di] = b, a
		rev, types, hook := src.setLocked(items)
		changes = append(changes, pending{hook, rev, types})
	} else {
		srcItems := append([]*Item(nil), src.items...)
		dstItems := append([]*Item(nil), dst.items...)
		srcItems[si], dstItems[di] = b, a
		rev, types, hook := src.setLocked(srcItems)
		changes = append(changes, pending{hook, rev, types})
		rev, types, hook = dst.setLocked(dstItems)
		changes = append(changes, pending{hook, rev, types})
	}
	unlock()
	for _, p := range changes {
		p.fire()
	}
	return nil
}
