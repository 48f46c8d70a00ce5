package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/kasuganosora/realmcore/game/chat"
	"github.com/kasuganosora/realmcore/game/command"
	"github.com/kasuganosora/realmcore/game/item"
	"github.com/kasuganosora/realmcore/game/world"
	"go.uber.org/zap"
)

// GameHandlers handles chat and inventory messages.
type GameHandlers struct {
	chat     *chat.Manager
	commands *command.Registry
	logger   *zap.Logger
}

// NewGameHandlers creates GameHandlers.
func NewGameHandlers(cm *chat.Manager, reg *command.Registry, logger *zap.Logger) *GameHandlers {
	return &GameHandlers{chat: cm, commands: reg, logger: logger}
}

// RegisterHandlers registers game WS handlers.
func (h *GameHandlers) RegisterHandlers(r *Router) {
	r.On("player_text", h.HandleText)
	r.On("inv_swap", h.HandleInvSwap)
	r.On("inv_drop", h.HandleInvDrop)
}

type textPayload struct {
	Text string `json:"text"`
}

// HandleText runs slash commands and says everything else to the world.
func (h *GameHandlers) HandleText(ctx context.Context, p *world.Player, raw json.RawMessage) error {
	var req textPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil
	}
	text := strings.TrimSpace(req.Text)
	if strings.HasPrefix(text, "/") {
		h.commands.Execute(ctx, p, text)
		return nil
	}
	if !p.Session.Account().NameChosen {
		p.Session.SendError("Choose a name!")
		return nil
	}
	err := h.chat.Say(ctx, p, text)
	switch {
	case err == nil, errors.Is(err, chat.ErrMuted), errors.Is(err, chat.ErrRateLimited):
		return nil
	case errors.Is(err, chat.ErrTooLong):
		p.Session.SendError("Message too long.")
		return nil
	}
	return err
}

type invSwapPayload struct {
	FromID   int32 `json:"from_id"`
	FromSlot int   `json:"from_slot"`
	ToID     int32 `json:"to_id"`
	ToSlot   int   `json:"to_slot"`
}

// HandleInvSwap moves an item between two slots the player can reach.
// A refused move resends the player's inventory so the client snaps back.
func (h *GameHandlers) HandleInvSwap(_ context.Context, p *world.Player, raw json.RawMessage) error {
	var req invSwapPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil
	}
	w := p.Entity.World()
	if w == nil {
		return nil
	}
	if err := w.MoveItem(p, req.FromID, req.FromSlot, req.ToID, req.ToSlot); err != nil {
		if !isPlayerError(err) {
			return err
		}
		p.Session.SendInventory(p.Inventory().ItemTypes())
	}
	return nil
}

type invDropPayload struct {
	Slot int `json:"slot"`
}

// HandleInvDrop drops a slot into a loot bag at the player's position.
func (h *GameHandlers) HandleInvDrop(_ context.Context, p *world.Player, raw json.RawMessage) error {
	var req invDropPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil
	}
	w := p.Entity.World()
	if w == nil {
		return nil
	}
	if _, err := w.DropItem(p, req.Slot); err != nil {
		if !isPlayerError(err) {
			return err
		}
		p.Session.SendInventory(p.Inventory().ItemTypes())
	}
	return nil
}

func isPlayerError(err error) bool {
	for _, target := range []error{
		world.ErrNoEntity, world.ErrNotOwner, world.ErrEmptySlot, world.ErrInvLocked,
		item.ErrSlotRange, item.ErrSlotType, item.ErrInventoryFull,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
