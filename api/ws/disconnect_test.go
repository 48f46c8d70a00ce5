package ws

import (
	"context"
	"testing"
	"time"

	"github.com/kasuganosora/realmcore/config"
	"github.com/kasuganosora/realmcore/game/item"
	"github.com/kasuganosora/realmcore/game/world"
	"github.com/kasuganosora/realmcore/lease"
	"github.com/kasuganosora/realmcore/ledger"
	"github.com/kasuganosora/realmcore/persist"
	"github.com/kasuganosora/realmcore/store"
	"github.com/kasuganosora/realmcore/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestFinalSave_LandsAfterQueuedSaves(t *testing.T) {
	ctx := context.Background()
	c, _ := testutil.SetupTestCache(t)
	lm := lease.NewManager(c, time.Minute, nop())
	st := store.New(c, lm, testutil.Catalog(), store.Options{MaxCharSlot: 2, BcryptCost: bcrypt.MinCost}, nop())
	l := ledger.New(st, ledger.NewBoard(c, 10), nil, ledger.RetryPolicy{}, nop())
	q := persist.New(config.PersistConfig{Workers: 1, QueueSize: 8, MaxAttempts: 1}, nop())
	t.Cleanup(q.Stop)

	acc, err := st.Register(ctx, "alice@x", "pw", "Alice")
	require.NoError(t, err)
	chr, err := l.CreateCharacter(ctx, acc, testutil.Rogue, 0)
	require.NoError(t, err)
	token, ok, err := lm.Acquire(ctx, acc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	acc.LockToken = token

	// An older snapshot is still waiting in the queue when the player leaves.
	stale := *chr
	stale.Items = append([]uint16(nil), chr.Items...)
	stale.Items[4] = testutil.Robe
	release := make(chan struct{})
	q.Enqueue(world.CharacterKey(acc.ID, chr.ID), func(ctx context.Context) error {
		<-release
		return st.SaveCharacter(ctx, acc, &stale)
	})

	final := *chr
	final.Items = append([]uint16(nil), chr.Items...)
	final.Items[4] = item.Empty
	final.Items[5] = testutil.Potion

	h := NewHandler(Deps{Store: st, Leases: lm, Persist: q}, config.SecurityConfig{}, config.GameConfig{}, nop())
	done := make(chan error, 1)
	go func() { done <- h.finalSave(ctx, acc, &final) }()

	select {
	case <-done:
		t.Fatal("final save ran ahead of the queued one")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-done)

	got, err := st.GetCharacter(ctx, acc.ID, chr.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Empty, got.Items[4])
	assert.Equal(t, testutil.Potion, got.Items[5])
}

func TestFinalSave_QueueStopped(t *testing.T) {
	ctx := context.Background()
	c, _ := testutil.SetupTestCache(t)
	lm := lease.NewManager(c, time.Minute, nop())
	st := store.New(c, lm, testutil.Catalog(), store.Options{MaxCharSlot: 2, BcryptCost: bcrypt.MinCost}, nop())
	l := ledger.New(st, ledger.NewBoard(c, 10), nil, ledger.RetryPolicy{}, nop())
	q := persist.New(config.PersistConfig{Workers: 1}, nop())
	q.Stop()

	acc, err := st.Register(ctx, "bob@x", "pw", "Bob")
	require.NoError(t, err)
	chr, err := l.CreateCharacter(ctx, acc, testutil.Rogue, 0)
	require.NoError(t, err)
	chr.Level = 7

	h := NewHandler(Deps{Store: st, Leases: lm, Persist: q}, config.SecurityConfig{}, config.GameConfig{}, nop())
	require.NoError(t, h.finalSave(ctx, acc, chr))
	got, err := st.GetCharacter(ctx, acc.ID, chr.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Level)
}
