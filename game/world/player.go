package world

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kasuganosora/realmcore/game/item"
	"github.com/kasuganosora/realmcore/game/player"
	"github.com/kasuganosora/realmcore/lease"
	"github.com/kasuganosora/realmcore/model"
	"github.com/kasuganosora/realmcore/persist"
	"go.uber.org/zap"
)

// PlayerSlots is the inventory length of a player: equipment, backpack and
// extra backpack.
const PlayerSlots = 22

// Player is the player capability of an entity.
type Player struct {
	Entity  *Entity
	Session *player.PlayerSession

	mu        sync.Mutex
	chr       model.Character
	newbieMs  int
	tpCooldMs int
}

// AccountID of the player's account.
func (p *Player) AccountID() int64 { return p.Session.AccountID }

// Name is the account display name.
func (p *Player) Name() string { return p.Session.Name() }

// Inventory is the player's 22 slots.
func (p *Player) Inventory() *item.Inventory { return p.Entity.Inventory }

// Character returns a copy of the character in play, items included.
func (p *Player) Character() model.Character {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.chr
	c.Items = p.Entity.Inventory.ItemTypes()
	return c
}

// VisibleTo reports whether other can see p. Hidden accounts are only
// visible to admins.
func (p *Player) VisibleTo(other *Player) bool {
	if other == p {
		return true
	}
	return !p.Session.Account().Hidden || other.Session.Account().Admin
}

// SetNewbiePeriod starts the spawn protection countdown.
func (p *Player) SetNewbiePeriod(ms int) {
	p.mu.Lock()
	p.newbieMs = ms
	p.mu.Unlock()
}

// SetTPDisabledPeriod starts the teleport cooldown.
func (p *Player) SetTPDisabledPeriod(ms int) {
	p.mu.Lock()
	p.tpCooldMs = ms
	p.mu.Unlock()
}

// Protected reports whether the spawn protection is still running.
func (p *Player) Protected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.newbieMs > 0
}

// TPCooledDown reports whether the player may teleport again.
func (p *Player) TPCooledDown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tpCooldMs <= 0
}

// Countdowns returns the remaining newbie time and teleport cooldown.
func (p *Player) Countdowns() (newbieMs, tpCooldownMs int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.newbieMs, p.tpCooldMs
}

func countDown(v *int, delta int) {
	if *v <= 0 {
		return
	}
	*v -= delta
	if *v < 0 {
		*v = 0
	}
}

func (p *Player) tick(t RealmTime) {
	p.mu.Lock()
	countDown(&p.newbieMs, t.ElapsedMsDelta)
	countDown(&p.tpCooldMs, t.ElapsedMsDelta)
	p.mu.Unlock()
}

// NewPlayer builds the entity of a connected player for chr. The inventory
// is loaded from the character; every later change is pushed to the client
// and, when the world persists, written back behind the tick.
func (w *World) NewPlayer(s *player.PlayerSession, chr *model.Character) *Entity {
	slotTypes := make([]int, PlayerSlots)
	if cls, ok := w.cat.Class(chr.ObjectType); ok {
		copy(slotTypes, cls.SlotTypes)
	}
	inv := item.NewInventory(slotTypes)
	inv.SetItems(item.FromItemTypes(w.cat, chr.Items))

	p := &Player{Session: s, chr: *chr}
	p.chr.Items = nil
	e := &Entity{
		ObjectType: chr.ObjectType,
		Name:       s.Name(),
		Inventory:  inv,
		Player:     p,
	}
	p.Entity = e
	p.newbieMs = w.opts.NewbieTimeMs

	save := w.characterSaver(p)
	inv.OnChange(func(_ uint64, types []uint16) {
		s.SendInventory(types)
		if save != nil {
			save()
		}
	})
	return e
}

// CharacterKey is the persist queue key of a character. Every write of the
// character goes through it so the writes land in order.
func CharacterKey(accountID, charID int64) string {
	return fmt.Sprintf("char.%d.%d", accountID, charID)
}

func (w *World) characterSaver(p *Player) func() {
	st, q := w.deps.Store, w.deps.Persist
	if st == nil || q == nil {
		return nil
	}
	return func() {
		c := p.Character()
		q.Enqueue(CharacterKey(c.AccountID, c.ID), func(ctx context.Context) error {
			err := st.SaveCharacter(ctx, p.Session.Account(), &c)
			if errors.Is(err, lease.ErrNotHeld) {
				w.logger.Warn("character save dropped, lease lost",
					zap.Int64("account_id", c.AccountID), zap.Int64("char_id", c.ID))
				return persist.Permanent(err)
			}
			return err
		})
	}
}
