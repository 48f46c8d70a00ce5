package world

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kasuganosora/realmcore/game/item"
	"github.com/kasuganosora/realmcore/model"
	"github.com/kasuganosora/realmcore/persist"
	"github.com/kasuganosora/realmcore/resource"
	"github.com/kasuganosora/realmcore/store"
	"go.uber.org/zap"
)

// ContainerSlots is the slot count of every container.
const ContainerSlots = 8

// Container object types.
const (
	BrownBag   uint16 = 0x0500
	VaultChest uint16 = 0x0504
	PurpleBag  uint16 = 0x0507
	BlueBag    uint16 = 0x0508
	WhiteBag   uint16 = 0x0509
)

var bagByTier = [...]uint16{BrownBag, PurpleBag, BlueBag, WhiteBag}

var ErrUnknownObject = errors.New("unknown object type")

// BagObjectType is the loot bag shown for items, chosen by their highest
// bag tier.
func BagObjectType(items []*item.Item) uint16 {
	tier := item.BagTier(items)
	if tier < 0 || tier >= len(bagByTier) {
		return BrownBag
	}
	return bagByTier[tier]
}

func resizeInts(in []int, n int) []int {
	out := make([]int, n)
	copy(out, in)
	return out
}

// NewContainer creates a container of objType with the catalog's slot
// layout and starting equipment.
func NewContainer(cat *resource.Catalog, objType uint16) (*Entity, error) {
	obj, ok := cat.Object(objType)
	if !ok {
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnknownObject, objType)
	}
	inv := item.NewInventory(resizeInts(obj.SlotTypes, ContainerSlots))
	if len(obj.Equipment) > 0 {
		inv.SetItems(item.FromItemTypes(cat, obj.Equipment))
	}
	return &Entity{ObjectType: objType, Name: obj.Name, Inventory: inv}, nil
}

// NewLootBag creates a bag holding items. A bag with owners can only be
// looted by them. It always ticks and disappears after life.
func NewLootBag(cat *resource.Catalog, items []*item.Item, owners []int64, life time.Duration) (*Entity, error) {
	e, err := NewContainer(cat, BagObjectType(items))
	if err != nil {
		return nil, err
	}
	e.Inventory.SetItems(items)
	e.Owners = owners
	e.AlwaysTick = true
	e.SetLife(life)
	return e, nil
}

// NewVaultChest creates the container mirroring a vault chest record. Every
// change to its inventory is handed to save.
func NewVaultChest(cat *resource.Catalog, chest *model.VaultChest, save func(types []uint16)) (*Entity, error) {
	e, err := NewContainer(cat, VaultChest)
	if err != nil {
		return nil, err
	}
	e.Owners = []int64{chest.AccountID}
	e.KeepWhenEmpty = true
	e.Vault = &VaultLink{AccountID: chest.AccountID, Index: chest.Index}
	e.Inventory.SetItems(item.FromItemTypes(cat, chest.Items))
	if save != nil {
		e.Inventory.OnChange(func(_ uint64, types []uint16) { save(types) })
	}
	return e, nil
}

// vaultSaver enqueues a write of the chest on every change.
func vaultSaver(st *store.Store, q *persist.Queue, accountID int64, idx int, logger *zap.Logger) func([]uint16) {
	if st == nil || q == nil {
		return nil
	}
	key := fmt.Sprintf("vault.%d.%d", accountID, idx)
	return func(types []uint16) {
		chest := &model.VaultChest{AccountID: accountID, Index: idx, Items: types}
		q.Enqueue(key, func(ctx context.Context) error {
			err := st.SaveVaultChest(ctx, chest)
			if err != nil {
				logger.Warn("vault save failed", zap.Int64("account_id", accountID), zap.Int("chest", idx), zap.Error(err))
			}
			return err
		})
	}
}
