package trade

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/realmcore/audit"
	"github.com/kasuganosora/realmcore/game/item"
	"github.com/kasuganosora/realmcore/game/player"
	"github.com/kasuganosora/realmcore/game/world"
	"github.com/kasuganosora/realmcore/model"
	"github.com/kasuganosora/realmcore/plugin/hook"
	"github.com/kasuganosora/realmcore/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { return zap.NewNop() }

type recorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recorder) Log(e audit.Entry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

func newWorld(t *testing.T) *world.World {
	t.Helper()
	return world.New(world.NexusID, "nexus", testutil.Catalog(), world.Options{ActiveRadius: 10}, world.Deps{}, nop())
}

func newService(t *testing.T, w *world.World) (*Service, *recorder) {
	t.Helper()
	rec := &recorder{}
	svc := NewService(0, rec, nop())
	svc.Install(w)
	return svc, rec
}

func join(t *testing.T, w *world.World, id int64, name string, items ...uint16) *world.Player {
	t.Helper()
	s := player.NewPlayerSession(&model.Account{ID: id, Name: name}, "10.0.0.1", nil, nop())
	inv := make([]uint16, world.PlayerSlots)
	for i := range inv {
		inv[i] = item.Empty
	}
	copy(inv, items)
	e := w.NewPlayer(s, &model.Character{AccountID: id, ID: 1, ObjectType: testutil.Rogue, Items: inv})
	w.EnterWorld(e)
	w.Step(0)
	e.Player.Session.Drain()
	return e.Player
}

func lastType(p *world.Player, typ string) *player.Packet {
	var found *player.Packet
	for _, pkt := range p.Session.Drain() {
		if pkt.Type == typ {
			found = pkt
		}
	}
	return found
}

func offer(slots ...int) []bool {
	o := make([]bool, Slots)
	for _, s := range slots {
		o[s] = true
	}
	return o
}

// assertSymmetric checks that every trading player's partner trades back.
func assertSymmetric(t *testing.T, svc *Service, players ...*world.Player) {
	t.Helper()
	for _, p := range players {
		if target := svc.Target(p); target != nil {
			assert.Same(t, p, svc.Target(target), "%s trades with %s but not back", p.Name(), target.Name())
		}
	}
}

func pairUp(t *testing.T, svc *Service, a, b *world.Player) {
	t.Helper()
	require.NoError(t, svc.RequestTrade(a, b.Name()))
	require.NoError(t, svc.RequestTrade(b, a.Name()))
	require.Same(t, b, svc.Target(a))
}

func TestRequestTrade_OneSidedThenMutual(t *testing.T) {
	w := newWorld(t)
	svc, _ := newService(t, w)
	alice := join(t, w, 1, "Alice")
	bob := join(t, w, 2, "Bob")

	require.NoError(t, svc.RequestTrade(alice, "bob"))
	ms, ok := svc.Pending(bob, alice)
	require.True(t, ok)
	assert.Equal(t, DefaultRequestMs, ms)
	assert.NotNil(t, lastType(bob, player.PktTradeRequested))
	assert.False(t, svc.IsTrading(alice))

	require.NoError(t, svc.RequestTrade(bob, "Alice"))
	assert.Same(t, bob, svc.Target(alice))
	assert.Same(t, alice, svc.Target(bob))
	_, ok = svc.Pending(bob, alice)
	assert.False(t, ok, "pairing clears pending requests")
	assert.NotNil(t, lastType(alice, player.PktTradeStart))
	assert.NotNil(t, lastType(bob, player.PktTradeStart))
	assertSymmetric(t, svc, alice, bob)
}

func TestRequestTrade_Rejections(t *testing.T) {
	w := newWorld(t)
	svc, _ := newService(t, w)
	alice := join(t, w, 1, "Alice")
	bob := join(t, w, 2, "Bob")
	carol := join(t, w, 3, "Carol")
	dave := join(t, w, 4, "Dave")

	assert.ErrorIs(t, svc.RequestTrade(alice, "nobody"), ErrNotFound)
	assert.ErrorIs(t, svc.RequestTrade(alice, "alice"), ErrSelf)

	dave.Session.Account().IgnoreList = []int64{1}
	assert.ErrorIs(t, svc.RequestTrade(alice, "Dave"), ErrIgnored)
	_, ok := svc.Pending(dave, alice)
	assert.False(t, ok)

	carol.Session.Account().Hidden = true
	assert.ErrorIs(t, svc.RequestTrade(alice, "Carol"), ErrNotFound)

	pairUp(t, svc, alice, bob)
	assert.ErrorIs(t, svc.RequestTrade(alice, "Dave"), ErrAlreadyTrading)
	assert.ErrorIs(t, svc.RequestTrade(dave, "Alice"), ErrTargetTrading)
}

func TestCheckTimeout_ExpiredRequestNeverPairs(t *testing.T) {
	w := newWorld(t)
	svc, _ := newService(t, w)
	alice := join(t, w, 1, "Alice")
	bob := join(t, w, 2, "Bob")

	require.NoError(t, svc.RequestTrade(alice, "Bob"))
	alice.Session.Drain()
	for i := 0; i < 19; i++ {
		w.Step(1000)
	}
	ms, ok := svc.Pending(bob, alice)
	require.True(t, ok)
	assert.Equal(t, 1000, ms)

	w.Step(1000)
	_, ok = svc.Pending(bob, alice)
	assert.False(t, ok)
	notice := lastType(alice, player.PktText)
	require.NotNil(t, notice)
	assert.Contains(t, string(notice.Payload), "has timed out")

	// Bob answering now only opens a new request the other way.
	require.NoError(t, svc.RequestTrade(bob, "Alice"))
	assert.False(t, svc.IsTrading(bob))
	_, ok = svc.Pending(alice, bob)
	assert.True(t, ok)
}

func TestCancelTrade_TearsDownBothSides(t *testing.T) {
	w := newWorld(t)
	svc, _ := newService(t, w)
	alice := join(t, w, 1, "Alice")
	bob := join(t, w, 2, "Bob")
	pairUp(t, svc, alice, bob)
	alice.Session.Drain()
	bob.Session.Drain()

	svc.CancelTrade(bob)
	assert.False(t, svc.IsTrading(alice))
	assert.False(t, svc.IsTrading(bob))
	assert.NotNil(t, lastType(alice, player.PktTradeDone))
	assert.NotNil(t, lastType(bob, player.PktTradeDone))

	// Not trading: only the caller hears about it.
	svc.CancelTrade(alice)
	assert.NotNil(t, lastType(alice, player.PktTradeDone))
	assert.Nil(t, lastType(bob, player.PktTradeDone))
}

func TestDisconnect_CancelsTradeAndRequests(t *testing.T) {
	w := newWorld(t)
	svc, _ := newService(t, w)
	alice := join(t, w, 1, "Alice")
	bob := join(t, w, 2, "Bob")
	carol := join(t, w, 3, "Carol")
	pairUp(t, svc, alice, bob)
	require.NoError(t, svc.RequestTrade(carol, "Alice"))
	bob.Session.Drain()

	alice.Session.Close()
	w.Step(50)
	assert.False(t, svc.IsTrading(bob))
	assert.NotNil(t, lastType(bob, player.PktTradeDone))
	_, ok := svc.Pending(alice, carol)
	assert.False(t, ok)
	assertSymmetric(t, svc, alice, bob, carol)
}

func TestChangeAndAccept(t *testing.T) {
	w := newWorld(t)
	svc, rec := newService(t, w)
	alice := join(t, w, 1, "Alice", testutil.Sword, item.Empty, item.Empty, item.Empty, testutil.Ring, testutil.Crown)
	bob := join(t, w, 2, "Bob", item.Empty, item.Empty, item.Empty, item.Empty, testutil.Potion)
	pairUp(t, svc, alice, bob)

	assert.ErrorIs(t, svc.ChangeTrade(alice, offer(0)), ErrBadOffer, "equipment slots are not offerable")
	assert.ErrorIs(t, svc.ChangeTrade(alice, offer(5)), ErrBadOffer, "untradable items are not offerable")
	assert.ErrorIs(t, svc.ChangeTrade(alice, offer(4)[:3]), ErrBadOffer)
	require.NoError(t, svc.ChangeTrade(alice, offer(4)))
	require.NoError(t, svc.ChangeTrade(bob, offer(4)))

	assert.ErrorIs(t, svc.AcceptTrade(alice, offer(4), offer()), ErrStaleOffer)
	require.NoError(t, svc.AcceptTrade(alice, offer(4), offer(4)))
	assert.NotNil(t, lastType(bob, player.PktTradeAccepted))

	// A change resets both acceptances.
	require.NoError(t, svc.ChangeTrade(bob, offer()))
	require.NoError(t, svc.ChangeTrade(bob, offer(4)))
	require.NoError(t, svc.AcceptTrade(bob, offer(4), offer(4)))
	assert.True(t, svc.IsTrading(alice), "alice's acceptance was reset")

	require.NoError(t, svc.AcceptTrade(alice, offer(4), offer(4)))
	assert.False(t, svc.IsTrading(alice))
	assert.False(t, svc.IsTrading(bob))
	assert.Equal(t, testutil.Potion, alice.Inventory().Get(4).Type)
	assert.Equal(t, testutil.Ring, bob.Inventory().Get(4).Type)
	assert.Equal(t, testutil.Crown, alice.Inventory().Get(5).Type)

	require.Len(t, rec.entries, 1)
	assert.Equal(t, audit.ActionTrade, rec.entries[0].Action)
	assert.Equal(t, int64(2), *rec.entries[0].CounterpartID)
}

func TestCommit_InventoryChangedAfterAcceptance(t *testing.T) {
	w := newWorld(t)
	svc, rec := newService(t, w)
	alice := join(t, w, 1, "Alice", item.Empty, item.Empty, item.Empty, item.Empty, testutil.Ring)
	bob := join(t, w, 2, "Bob", item.Empty, item.Empty, item.Empty, item.Empty, testutil.Potion)
	pairUp(t, svc, alice, bob)
	require.NoError(t, svc.ChangeTrade(alice, offer(4)))
	require.NoError(t, svc.AcceptTrade(alice, offer(4), offer()))

	// Alice's inventory changes behind the trade.
	_, err := alice.Inventory().Add(item.Lookup(testutil.Catalog(), testutil.Dagger), item.ReservedSlots)
	require.NoError(t, err)

	bob.Session.Drain()
	err = svc.AcceptTrade(bob, offer(), offer(4))
	assert.ErrorIs(t, err, item.ErrSnapshotMismatch)
	assert.False(t, svc.IsTrading(alice))
	assert.Equal(t, testutil.Ring, alice.Inventory().Get(4).Type)
	assert.Nil(t, bob.Inventory().Get(5))
	assert.NotNil(t, lastType(bob, player.PktTradeDone))
	assert.Empty(t, rec.entries)
}

func TestTradeSymmetry_UnderConcurrentRequests(t *testing.T) {
	w := newWorld(t)
	svc, _ := newService(t, w)
	names := []string{"P0", "P1", "P2", "P3", "P4", "P5"}
	players := make([]*world.Player, len(names))
	for i, n := range names {
		players[i] = join(t, w, int64(i+1), n)
	}

	var wg sync.WaitGroup
	for round := 0; round < 20; round++ {
		for i := range players {
			wg.Add(1)
			go func(i, round int) {
				defer wg.Done()
				p := players[i]
				target := names[(i+round+1)%len(names)]
				switch round % 3 {
				case 0, 1:
					_ = svc.RequestTrade(p, target)
				default:
					svc.CancelTrade(p)
				}
			}(i, round)
		}
		wg.Wait()
		assertSymmetric(t, svc, players...)
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			w.Step(5000)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tick blocked")
	}
	assertSymmetric(t, svc, players...)
}

func TestCommit_VetoedByHook(t *testing.T) {
	w := newWorld(t)
	svc, rec := newService(t, w)
	hc := hook.NewHookCenter()
	var seen *hook.TradeOffer
	hc.Register(hook.BeforeTradeCommit, 0, "no-rings", func(_ context.Context, _ string, data interface{}) (interface{}, error) {
		seen = data.(*hook.TradeOffer)
		return data, hook.ErrInterrupt
	})
	svc.UseHooks(hc)

	alice := join(t, w, 1, "Alice", item.Empty, item.Empty, item.Empty, item.Empty, testutil.Ring)
	bob := join(t, w, 2, "Bob")
	pairUp(t, svc, alice, bob)
	require.NoError(t, svc.ChangeTrade(alice, offer(4)))
	require.NoError(t, svc.AcceptTrade(bob, offer(), offer(4)))

	assert.ErrorIs(t, svc.AcceptTrade(alice, offer(4), offer()), ErrVetoed)
	require.NotNil(t, seen)
	assert.Equal(t, []uint16{testutil.Ring}, seen.Given)
	assert.False(t, svc.IsTrading(bob))
	assert.Equal(t, testutil.Ring, alice.Inventory().Get(4).Type)
	assert.Empty(t, rec.entries)
}

func TestTrade_ItemsFrozenWhileTrading(t *testing.T) {
	w := newWorld(t)
	svc, _ := newService(t, w)
	alice := join(t, w, 1, "Alice")
	bob := join(t, w, 2, "Bob", item.Empty, item.Empty, item.Empty, item.Empty, testutil.Robe, testutil.Potion)
	pairUp(t, svc, alice, bob)
	require.NoError(t, svc.ChangeTrade(bob, offer(4)))
	require.NoError(t, svc.AcceptTrade(alice, offer(), offer(4)))

	// Bob tries to slip the potion into the offered slot.
	assert.ErrorIs(t, w.MoveItem(bob, bob.Entity.ID, 4, bob.Entity.ID, 5), world.ErrInvLocked)
	_, err := w.DropItem(bob, 4)
	assert.ErrorIs(t, err, world.ErrInvLocked)
	assert.ErrorIs(t, w.MoveItem(alice, alice.Entity.ID, 4, alice.Entity.ID, 5), world.ErrInvLocked)

	require.NoError(t, svc.AcceptTrade(bob, offer(4), offer()))
	require.NotNil(t, alice.Inventory().Get(4))
	assert.Equal(t, testutil.Robe, alice.Inventory().Get(4).Type)
	assert.Equal(t, testutil.Potion, bob.Inventory().Get(5).Type)

	// The freeze ends with the trade.
	assert.NoError(t, w.MoveItem(bob, bob.Entity.ID, 5, bob.Entity.ID, 6))
}

func TestCommit_PartnerSawDifferentItems(t *testing.T) {
	w := newWorld(t)
	svc, rec := newService(t, w)
	alice := join(t, w, 1, "Alice")
	bob := join(t, w, 2, "Bob", item.Empty, item.Empty, item.Empty, item.Empty, testutil.Robe, testutil.Potion)
	pairUp(t, svc, alice, bob)
	require.NoError(t, svc.ChangeTrade(bob, offer(4)))
	require.NoError(t, svc.AcceptTrade(alice, offer(), offer(4)))

	// Bob's items change without going through the world, then he accepts
	// with a snapshot that matches his new inventory.
	require.NoError(t, item.Swap(bob.Inventory(), 4, bob.Inventory(), 5))
	alice.Session.Drain()

	err := svc.AcceptTrade(bob, offer(4), offer())
	assert.ErrorIs(t, err, item.ErrSnapshotMismatch)
	assert.False(t, svc.IsTrading(alice))
	assert.Nil(t, alice.Inventory().Get(4), "alice never receives what she did not accept")
	assert.Equal(t, testutil.Potion, bob.Inventory().Get(4).Type)
	assert.NotNil(t, lastType(alice, player.PktTradeDone))
	assert.Empty(t, rec.entries)
}
