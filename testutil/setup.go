package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/kasuganosora/realmcore/cache"
	"github.com/kasuganosora/realmcore/config"
	dbadapter "github.com/kasuganosora/realmcore/db"
	"github.com/kasuganosora/realmcore/model"
	"github.com/kasuganosora/realmcore/resource"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// SetupTestDB opens a private in-memory SQLite database and runs AutoMigrate.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbadapter.Open(config.DatabaseConfig{
		Mode:       dbadapter.ModeSQLite,
		SQLitePath: dbadapter.MemoryDSN,
	})
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// SetupTestCache creates LocalCache and LocalPubSub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	cfg := cache.CacheConfig{} // empty RedisAddr → LocalCache
	c, err := cache.NewCache(cfg)
	require.NoError(t, err, "SetupTestCache: NewCache")
	ps, err := cache.NewPubSub(cfg)
	require.NoError(t, err, "SetupTestCache: NewPubSub")
	return c, ps
}

// SetupRedisCache starts an in-process Redis server and returns a Redis
// backed Cache and PubSub on it. The server is returned so tests can move
// its clock with FastForward.
func SetupRedisCache(t *testing.T) (cache.Cache, cache.PubSub, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := cache.CacheConfig{RedisAddr: mr.Addr()}
	c, err := cache.NewCache(cfg)
	require.NoError(t, err, "SetupRedisCache: NewCache")
	ps, err := cache.NewPubSub(cfg)
	require.NoError(t, err, "SetupRedisCache: NewPubSub")
	return c, ps, mr
}

// Object types of the test catalog.
const (
	Sword     uint16 = 0x0A00 // weapon, bag tier 0
	Dagger    uint16 = 0x0A01 // weapon, bag tier 1
	Robe      uint16 = 0x0A02 // armor, bag tier 2
	Ring      uint16 = 0x0A03 // ring, bag tier 3
	Crown     uint16 = 0x0A04 // untradable
	Potion    uint16 = 0x0A05 // consumable
	Rogue     uint16 = 0x0300
	Wizard    uint16 = 0x0301 // unlocked by Rogue level 5
	Warlord   uint16 = 0x0302 // restricted
	RogueSkin uint16 = 0x1000
	WizSkin   uint16 = 0x1001
)

func stats(base int) []resource.StatDesc {
	out := make([]resource.StatDesc, len(model.StatNames))
	for i, n := range model.StatNames {
		out[i] = resource.StatDesc{Name: n, StartingValue: base + i, MaxValue: 100}
	}
	return out
}

// Catalog returns a small game data catalog for tests.
func Catalog() *resource.Catalog {
	playerSlots := []int{1, 2, 3, 9, 0, 0, 0, 0, 0, 0, 0, 0}
	bag := []int{0, 0, 0, 0, 0, 0, 0, 0}
	return resource.NewCatalog(
		[]*resource.ItemDesc{
			{Type: Sword, Name: "Short Sword", SlotType: 1},
			{Type: Dagger, Name: "Dirk", SlotType: 2, BagType: 1},
			{Type: Robe, Name: "Robe", SlotType: 3, BagType: 2},
			{Type: Ring, Name: "Ring of Speed", SlotType: 9, BagType: 3},
			{Type: Crown, Name: "Crown", SlotType: 9, Untradable: true, Soulbound: true},
			{Type: Potion, Name: "Health Potion", Consumable: true},
		},
		[]*resource.ObjectDesc{
			{Type: 0x0500, Name: "Loot Bag", Class: "Container", SlotTypes: bag},
			{Type: 0x0504, Name: "Vault Chest", Class: "Container", SlotTypes: bag},
			{Type: 0x0507, Name: "Purple Bag", Class: "Container", SlotTypes: bag},
			{Type: 0x0508, Name: "Blue Bag", Class: "Container", SlotTypes: bag},
			{Type: 0x0509, Name: "White Bag", Class: "Container", SlotTypes: bag},
			{Type: 0x0600, Name: "Armory", Class: "Container", SlotTypes: bag,
				Equipment: []uint16{Sword, 0xFFFF, Robe}},
		},
		[]*resource.ClassDesc{
			{Type: Rogue, Name: "Rogue", Stats: stats(10), SlotTypes: playerSlots,
				Equipment: []uint16{Sword, 0xFFFF, Robe, 0xFFFF}},
			{Type: Wizard, Name: "Wizard", Stats: stats(20), SlotTypes: playerSlots,
				Unlock: &resource.UnlockDesc{Type: Rogue, Level: 5}},
			{Type: Warlord, Name: "Warlord", Stats: stats(30), SlotTypes: playerSlots, Restricted: true},
		},
		[]*resource.SkinDesc{
			{Type: RogueSkin, Name: "Bandit", PlayerClassType: Rogue},
			{Type: WizSkin, Name: "Sage", PlayerClassType: Wizard},
		},
	)
}
