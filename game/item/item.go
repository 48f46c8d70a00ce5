// Package item holds the in-memory item and inventory model shared by
// players and containers.
package item

import (
	"github.com/kasuganosora/realmcore/resource"
)

// Empty is the persisted item type of an empty slot.
const Empty uint16 = 0xFFFF

// Item is an immutable item instance. Slots hold *Item; nil is empty.
type Item struct {
	Type       uint16
	Name       string
	SlotType   int
	BagTier    int
	Untradable bool
	Soulbound  bool
	Consumable bool
}

// New builds an Item from its catalog definition.
func New(d *resource.ItemDesc) *Item {
	return &Item{
		Type:       d.Type,
		Name:       d.Name,
		SlotType:   d.SlotType,
		BagTier:    d.BagType,
		Untradable: d.Untradable,
		Soulbound:  d.Soulbound,
		Consumable: d.Consumable,
	}
}

// Lookup returns the item of type t, nil when t is Empty or unknown.
func Lookup(cat *resource.Catalog, t uint16) *Item {
	if t == Empty {
		return nil
	}
	d, ok := cat.Item(t)
	if !ok {
		return nil
	}
	return New(d)
}

// FromItemTypes rebuilds a slot sequence from persisted item types.
// Unknown types load as empty slots.
func FromItemTypes(cat *resource.Catalog, types []uint16) []*Item {
	items := make([]*Item, len(types))
	for i, t := range types {
		items[i] = Lookup(cat, t)
	}
	return items
}

// ItemTypes is the persisted form of a slot sequence.
func ItemTypes(items []*Item) []uint16 {
	out := make([]uint16, len(items))
	for i, it := range items {
		if it == nil {
			out[i] = Empty
			continue
		}
		out[i] = it.Type
	}
	return out
}

// BagTier is the highest bag tier among items, 0 when there are none.
func BagTier(items []*Item) int {
	tier := 0
	for _, it := range items {
		if it != nil && it.BagTier > tier {
			tier = it.BagTier
		}
	}
	return tier
}

// Tradable reports whether it may be offered in a trade.
func (it *Item) Tradable() bool {
	return it != nil && !it.Untradable && !it.Soulbound
}
