package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/kasuganosora/realmcore/game/item"
	"github.com/kasuganosora/realmcore/game/trade"
	"github.com/kasuganosora/realmcore/game/world"
	"go.uber.org/zap"
)

// TradeHandlers handles player-to-player trade WebSocket messages.
type TradeHandlers struct {
	svc    *trade.Service
	logger *zap.Logger
}

// NewTradeHandlers creates TradeHandlers.
func NewTradeHandlers(svc *trade.Service, logger *zap.Logger) *TradeHandlers {
	return &TradeHandlers{svc: svc, logger: logger}
}

// RegisterHandlers registers trade WS handlers.
func (h *TradeHandlers) RegisterHandlers(r *Router) {
	r.On("request_trade", h.HandleRequest)
	r.On("change_trade", h.HandleChange)
	r.On("accept_trade", h.HandleAccept)
	r.On("cancel_trade", h.HandleCancel)
}

type tradeRequestPayload struct {
	Name string `json:"name"`
}

// HandleRequest asks another player in the same world to trade. The
// service tells the player why a request was refused.
func (h *TradeHandlers) HandleRequest(_ context.Context, p *world.Player, raw json.RawMessage) error {
	var req tradeRequestPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil
	}
	_ = h.svc.RequestTrade(p, req.Name)
	return nil
}

type tradeChangePayload struct {
	Offer []bool `json:"offer"`
}

// HandleChange replaces the player's offer.
func (h *TradeHandlers) HandleChange(_ context.Context, p *world.Player, raw json.RawMessage) error {
	var req tradeChangePayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil
	}
	return h.ignoreRefusal(p, h.svc.ChangeTrade(p, req.Offer))
}

type tradeAcceptPayload struct {
	MyOffer   []bool `json:"my_offer"`
	YourOffer []bool `json:"your_offer"`
}

// HandleAccept accepts the trade as the client last saw it.
func (h *TradeHandlers) HandleAccept(_ context.Context, p *world.Player, raw json.RawMessage) error {
	var req tradeAcceptPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil
	}
	return h.ignoreRefusal(p, h.svc.AcceptTrade(p, req.MyOffer, req.YourOffer))
}

// HandleCancel cancels the current trade.
func (h *TradeHandlers) HandleCancel(_ context.Context, p *world.Player, _ json.RawMessage) error {
	h.svc.CancelTrade(p)
	return nil
}

// ignoreRefusal drops errors a misbehaving or lagging client causes; the
// commit outcome has already been sent to both players.
func (h *TradeHandlers) ignoreRefusal(p *world.Player, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, trade.ErrNotTrading), errors.Is(err, trade.ErrBadOffer),
		errors.Is(err, trade.ErrStaleOffer), errors.Is(err, trade.ErrVetoed),
		errors.Is(err, item.ErrSnapshotMismatch), errors.Is(err, item.ErrInventoryFull),
		errors.Is(err, item.ErrBadOffer):
		h.logger.Debug("trade message refused",
			zap.Int64("account_id", p.AccountID()),
			zap.Error(err))
		return nil
	}
	return err
}
