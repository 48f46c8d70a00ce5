package model

import "strconv"

// VaultChest is one chest of the hash vault.<acc>; field is the chest index,
// value the JSON item-type array of its 8 slots.
type VaultChest struct {
	AccountID int64
	Index     int
	Items     []uint16
}

// VaultChestSize is the slot count of a vault chest.
const VaultChestSize = 8

// Field returns the hash field of the chest.
func (v *VaultChest) Field() string { return strconv.Itoa(v.Index) }

// Encode returns the stored value of the chest.
func (v *VaultChest) Encode() string {
	items := v.Items
	if len(items) != VaultChestSize {
		items = make([]uint16, VaultChestSize)
		for i := range items {
			items[i] = EmptyItem
		}
		copy(items, v.Items)
	}
	return toJSON(items)
}

// DecodeVaultChest parses a stored chest. A missing value yields an empty chest.
func DecodeVaultChest(accountID int64, index int, v string) *VaultChest {
	c := &VaultChest{AccountID: accountID, Index: index, Items: fromJSON[[]uint16](v)}
	if len(c.Items) == 0 {
		c.Items = make([]uint16, VaultChestSize)
		for i := range c.Items {
			c.Items[i] = EmptyItem
		}
	}
	return c
}
