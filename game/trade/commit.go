package trade

import (
	"context"
	"errors"

	"github.com/kasuganosora/realmcore/audit"
	"github.com/kasuganosora/realmcore/game/item"
	"github.com/kasuganosora/realmcore/game/player"
	"github.com/kasuganosora/realmcore/game/world"
	"github.com/kasuganosora/realmcore/plugin/hook"
	"go.uber.org/zap"
)

// commit moves the accepted offers. Each inventory must still hold what its
// owner and the partner saw when they accepted; both are then locked in a
// fixed order, checked once more and swapped in one step. On any mismatch
// nothing moves. The trade ends either way. Caller holds svc.mu.
func (svc *Service) commit(a *world.Player, sa *side, b *world.Player, sb *side) error {
	if svc.vetoed(a, sa, b, sb) {
		svc.reset(a)
		a.Session.SendTradeDone(player.TradeCanceled, "Trade canceled!")
		b.Session.SendTradeDone(player.TradeCanceled, "Trade canceled!")
		return ErrVetoed
	}

	err := item.ErrSnapshotMismatch
	if sameItems(sa.snapshot, sb.seen) && sameItems(sb.snapshot, sa.seen) {
		err = item.Exchange(a.Inventory(), b.Inventory(), sa.offer, sb.offer, sa.snapshot, sb.snapshot)
	}
	svc.reset(a)

	if err != nil {
		msg := "Trade failed!"
		switch {
		case errors.Is(err, item.ErrSnapshotMismatch):
			msg = "Items changed, trade canceled!"
		case errors.Is(err, item.ErrInventoryFull):
			msg = "Not enough space for the traded items!"
		}
		a.Session.SendTradeDone(player.TradeError, msg)
		b.Session.SendTradeDone(player.TradeError, msg)
		svc.logger.Info("trade failed",
			zap.Int64("account_id", a.AccountID()), zap.Int64("counterpart_id", b.AccountID()), zap.Error(err))
		return err
	}

	a.Session.SendTradeDone(player.TradeSuccessful, "Trade done!")
	b.Session.SendTradeDone(player.TradeSuccessful, "Trade done!")
	svc.audit.Log(audit.Entry{
		AccountID:     audit.ID(a.AccountID()),
		CounterpartID: audit.ID(b.AccountID()),
		Actor:         a.Name(),
		Action:        audit.ActionTrade,
		Detail: map[string]interface{}{
			"given":    offered(sa.snapshot, sa.offer),
			"received": offered(sb.snapshot, sb.offer),
		},
		IP:    a.Session.IP,
		World: worldName(a),
	})
	svc.logger.Info("trade committed",
		zap.Int64("account_id", a.AccountID()), zap.Int64("counterpart_id", b.AccountID()))
	return nil
}

// vetoed runs the BeforeTradeCommit hooks. They run under svc.mu and must
// not call back into the service.
func (svc *Service) vetoed(a *world.Player, sa *side, b *world.Player, sb *side) bool {
	if svc.hooks == nil {
		return false
	}
	_, err := svc.hooks.Trigger(context.Background(), hook.BeforeTradeCommit, &hook.TradeOffer{
		AccountID:     a.AccountID(),
		CounterpartID: b.AccountID(),
		Given:         offered(sa.snapshot, sa.offer),
		Received:      offered(sb.snapshot, sb.offer),
	})
	return errors.Is(err, hook.ErrInterrupt)
}

func sameItems(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func offered(snapshot []uint16, offer []bool) []uint16 {
	var out []uint16
	for i, on := range offer {
		if on && i < len(snapshot) {
			out = append(out, snapshot[i])
		}
	}
	return out
}

func worldName(p *world.Player) string {
	if w := p.Entity.World(); w != nil {
		return w.Name
	}
	return ""
}
