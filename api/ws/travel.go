package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/kasuganosora/realmcore/game/world"
	"github.com/kasuganosora/realmcore/plugin/hook"
	"go.uber.org/zap"
)

// Client packets that move the player between worlds.
const (
	PktUseVault = "use_vault"
	PktEscape   = "escape"
)

// link is the player a connection currently controls. It changes when the
// player travels.
type link struct {
	mu sync.Mutex
	p  *world.Player
}

func (l *link) player() *world.Player {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.p
}

func (l *link) set(p *world.Player) {
	l.mu.Lock()
	l.p = p
	l.mu.Unlock()
}

// HandleUseVault moves the player into a private world with its vault
// chests.
func (h *Handler) HandleUseVault(ctx context.Context, p *world.Player, _ json.RawMessage) error {
	if w := p.Entity.World(); w != nil && world.IsInstance(w.ID) {
		p.Session.SendError("You are already in your vault.")
		return nil
	}
	vault, err := h.deps.Worlds.OpenVault(ctx, p.Session.Account())
	if err != nil {
		h.logger.Error("open vault failed", zap.Int64("account_id", p.AccountID()), zap.Error(err))
		p.Session.SendError("Vault unavailable, try again.")
		return nil
	}
	h.travel(ctx, p, vault)
	return nil
}

// HandleEscape returns the player to the default world.
func (h *Handler) HandleEscape(ctx context.Context, p *world.Player, _ json.RawMessage) error {
	if w := p.Entity.World(); w != nil && w.ID == world.NexusID {
		return nil
	}
	h.travel(ctx, p, h.deps.Worlds.GetOrCreate(world.NexusID, h.game.DefaultWorld))
	return nil
}

// travel replaces p with a new player entity in to. The character, items
// included, carries over; an open trade is cancelled.
func (h *Handler) travel(ctx context.Context, p *world.Player, to *world.World) {
	l, ok := h.links.Load(p.AccountID())
	if !ok {
		return
	}
	s := p.Session
	if h.deps.Trade != nil {
		h.deps.Trade.Disconnect(p)
	}
	chr := p.Character()
	h.leave(p)

	s.SetCharacter(&chr, to.ID)
	e := to.NewPlayer(s, &chr)
	id := to.EnterWorld(e)
	l.(*link).set(e.Player)

	h.trigger(ctx, hook.OnWorldEnter, e.Player)
	s.SendCreateSuccess(id, chr.ID, to.Name)
	h.logger.Debug("player travelled",
		zap.Int64("account_id", s.AccountID),
		zap.String("world", to.Name))
}

// leave takes p out of its world. A private world goes away with its
// owner.
func (h *Handler) leave(p *world.Player) {
	w := p.Entity.World()
	if w == nil {
		return
	}
	w.LeaveWorld(p.Entity)
	if world.IsInstance(w.ID) {
		h.deps.Worlds.Destroy(w.ID)
	}
}
