// Package trade is the player-to-player trade negotiation: requests with a
// timeout, paired offers, acceptance and the all-or-nothing commit.
package trade

import (
	"errors"
	"sync"

	"github.com/kasuganosora/realmcore/audit"
	"github.com/kasuganosora/realmcore/game/item"
	"github.com/kasuganosora/realmcore/game/player"
	"github.com/kasuganosora/realmcore/game/world"
	"github.com/kasuganosora/realmcore/plugin/hook"
	"go.uber.org/zap"
)

// Slots is the length of an offer: one flag per player inventory slot.
const Slots = world.PlayerSlots

// DefaultRequestMs is how long a trade request stays open.
const DefaultRequestMs = 20000

var (
	ErrAlreadyTrading = errors.New("already trading")
	ErrTargetTrading  = errors.New("target is already trading")
	ErrNotFound       = errors.New("player not found")
	ErrSelf           = errors.New("cannot trade with yourself")
	ErrIgnored        = errors.New("ignored by target")
	ErrNotTrading     = errors.New("not trading")
	ErrBadOffer       = errors.New("invalid offer")
	ErrStaleOffer     = errors.New("offer does not match current trade")
	ErrVetoed         = errors.New("trade vetoed by plugin")
)

// side is one player's half of a paired trade.
type side struct {
	target   *world.Player
	offer    []bool
	accepted bool
	snapshot []uint16 // own items when accepting
	seen     []uint16 // partner's items when accepting
}

// Service owns every trade on the server. One mutex guards all of it, so
// both halves of a pair always change together.
type Service struct {
	mu        sync.Mutex
	sides     map[*world.Player]*side
	potential map[*world.Player]map[*world.Player]int // recipient → requester → ms left

	requestMs int
	audit     audit.Recorder
	hooks     *hook.HookCenter
	logger    *zap.Logger
}

// NewService creates a Service. requestMs <= 0 uses DefaultRequestMs.
func NewService(requestMs int, rec audit.Recorder, logger *zap.Logger) *Service {
	if requestMs <= 0 {
		requestMs = DefaultRequestMs
	}
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Service{
		sides:     make(map[*world.Player]*side),
		potential: make(map[*world.Player]map[*world.Player]int),
		requestMs: requestMs,
		audit:     rec,
		logger:    logger,
	}
}

// UseHooks lets plugins veto trades through hook.BeforeTradeCommit.
func (svc *Service) UseHooks(hc *hook.HookCenter) {
	svc.mu.Lock()
	svc.hooks = hc
	svc.mu.Unlock()
}

// Install hooks the service into a world: request timeouts are swept on
// every player tick, a trading player's items are frozen and a player
// leaving the world cancels its trade.
func (svc *Service) Install(w *world.World) {
	w.OnPlayerTick(svc.CheckTimeout)
	w.LockInventories(svc.IsTrading)
	w.OnPlayerLeave(func(p *world.Player, _ world.RealmTime) { svc.Disconnect(p) })
}

// IsTrading reports whether p is in a paired trade.
func (svc *Service) IsTrading(p *world.Player) bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.sides[p] != nil
}

// Target returns p's trade partner, nil when not trading.
func (svc *Service) Target(p *world.Player) *world.Player {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if s := svc.sides[p]; s != nil {
		return s.target
	}
	return nil
}

// Pending returns the ms left on a request from requester to recipient,
// false when there is none.
func (svc *Service) Pending(recipient, requester *world.Player) (int, bool) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	ms, ok := svc.potential[recipient][requester]
	return ms, ok
}

// RequestTrade asks the player called name to trade with p. If that player
// already asked p, the two are paired at once.
func (svc *Service) RequestTrade(p *world.Player, name string) error {
	w := p.Entity.World()
	if w == nil {
		return ErrNotFound
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.sides[p] != nil {
		p.Session.SendError("Already trading!")
		return ErrAlreadyTrading
	}
	target := w.PlayerByName(name)
	if target == nil || !target.VisibleTo(p) {
		p.Session.SendError(name + " not found!")
		return ErrNotFound
	}
	if target == p {
		p.Session.SendError("You can't trade with yourself!")
		return ErrSelf
	}
	if target.Session.Account().Ignores(p.AccountID()) {
		return ErrIgnored
	}
	if svc.sides[target] != nil {
		p.Session.SendError(target.Name() + " is already trading!")
		return ErrTargetTrading
	}

	if _, ok := svc.potential[p][target]; ok {
		svc.pair(p, target)
		return nil
	}
	reqs := svc.potential[target]
	if reqs == nil {
		reqs = make(map[*world.Player]int)
		svc.potential[target] = reqs
	}
	reqs[p] = svc.requestMs
	target.Session.SendTradeRequested(p.Name())
	p.Session.SendInfo("You have sent a trade request to " + target.Name() + "!")
	return nil
}

func (svc *Service) pair(a, b *world.Player) {
	svc.sides[a] = &side{target: b, offer: make([]bool, Slots)}
	svc.sides[b] = &side{target: a, offer: make([]bool, Slots)}
	delete(svc.potential, a)
	delete(svc.potential, b)

	mine, yours := tradeItems(a), tradeItems(b)
	a.Session.SendTradeStart(mine, b.Name(), yours)
	b.Session.SendTradeStart(yours, a.Name(), mine)
	svc.logger.Debug("trade started",
		zap.Int64("account_id", a.AccountID()), zap.Int64("counterpart_id", b.AccountID()))
}

func tradeItems(p *world.Player) []player.TradeItem {
	inv := p.Inventory()
	items := inv.Items()
	slotTypes := inv.SlotTypes()
	out := make([]player.TradeItem, Slots)
	for i := range out {
		t := item.Empty
		if i < len(items) && items[i] != nil {
			t = items[i].Type
		}
		st := 0
		if i < len(slotTypes) {
			st = slotTypes[i]
		}
		out[i] = player.TradeItem{Item: t, SlotType: st, Tradeable: item.Offerable(items, i)}
	}
	return out
}

// CheckTimeout counts down the requests sent to p and drops the expired
// ones, telling their senders. The request table is rebuilt on every sweep.
func (svc *Service) CheckTimeout(p *world.Player, t world.RealmTime) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	reqs := svc.potential[p]
	if len(reqs) == 0 {
		return
	}
	next := make(map[*world.Player]int, len(reqs))
	for requester, ms := range reqs {
		ms -= t.ElapsedMsDelta
		if ms <= 0 {
			requester.Session.SendInfo("Trade to " + p.Name() + " has timed out!")
			continue
		}
		next[requester] = ms
	}
	if len(next) == 0 {
		delete(svc.potential, p)
		return
	}
	svc.potential[p] = next
}

// ChangeTrade replaces p's offer. Both acceptances are reset.
func (svc *Service) ChangeTrade(p *world.Player, offer []bool) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	s := svc.sides[p]
	if s == nil {
		return ErrNotTrading
	}
	if len(offer) != Slots {
		return ErrBadOffer
	}
	items := p.Inventory().Items()
	for i, on := range offer {
		if on && !item.Offerable(items, i) {
			return ErrBadOffer
		}
	}
	s.offer = append([]bool(nil), offer...)
	s.accepted = false
	svc.sides[s.target].accepted = false
	s.target.Session.SendTradeChanged(s.offer)
	return nil
}

// AcceptTrade accepts the trade as p sees it: myOffer and yourOffer must
// match the current offers or the acceptance is ignored. The trade commits
// once both sides accepted.
func (svc *Service) AcceptTrade(p *world.Player, myOffer, yourOffer []bool) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	s := svc.sides[p]
	if s == nil {
		return ErrNotTrading
	}
	other := svc.sides[s.target]
	if !equalOffer(s.offer, myOffer) || !equalOffer(other.offer, yourOffer) {
		return ErrStaleOffer
	}
	s.accepted = true
	s.snapshot = p.Inventory().ItemTypes()
	s.seen = s.target.Inventory().ItemTypes()
	if !other.accepted {
		s.target.Session.SendTradeAccepted(other.offer, s.offer)
		return nil
	}
	return svc.commit(p, s, s.target, other)
}

func equalOffer(a, b []bool) bool {
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

// CancelTrade ends p's trade for both sides. It is safe to call when p is
// not trading.
func (svc *Service) CancelTrade(p *world.Player) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	p.Session.SendTradeDone(player.TradeCanceled, "Trade canceled!")
	if s := svc.sides[p]; s != nil {
		s.target.Session.SendTradeDone(player.TradeCanceled, "Trade Canceled!")
	}
	svc.reset(p)
}

// Disconnect drops all trade state of p: a running trade is cancelled for
// the partner and pending requests to or from p are forgotten.
func (svc *Service) Disconnect(p *world.Player) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if s := svc.sides[p]; s != nil {
		s.target.Session.SendTradeDone(player.TradeCanceled, "Trade Canceled!")
	}
	svc.reset(p)
	delete(svc.potential, p)
	for recipient, reqs := range svc.potential {
		delete(reqs, p)
		if len(reqs) == 0 {
			delete(svc.potential, recipient)
		}
	}
}

// reset tears down both halves of p's trade. Caller holds svc.mu.
func (svc *Service) reset(p *world.Player) {
	if s := svc.sides[p]; s != nil {
		delete(svc.sides, s.target)
	}
	delete(svc.sides, p)
}
