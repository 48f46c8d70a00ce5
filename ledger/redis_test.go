package ledger

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/kasuganosora/realmcore/audit"
	"github.com/kasuganosora/realmcore/model"
	"github.com/kasuganosora/realmcore/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The same guards against a real WATCH/MULTI/EXEC backend.

func newRedisFixture(t *testing.T, retries int) *fixture {
	t.Helper()
	c, _, _ := testutil.SetupRedisCache(t)
	return newFixtureOn(t, c, retries)
}

func TestRedis_UpdateAccountCurrency_StaleCacheFailsWhole(t *testing.T) {
	f := newRedisFixture(t, 0)
	ctx := context.Background()
	acc := f.account(t, "Stale")
	require.NoError(t, f.ledger.UpdateAccountCurrency(ctx, acc, 40, Gold))

	_, err := f.ledger.UpdateCredit(ctx, acc.ID, 5)
	require.NoError(t, err)

	err = f.ledger.UpdateAccountCurrency(ctx, acc, 100, Gold)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, int64(40), acc.Credits)

	fresh, _ := f.store.GetAccount(ctx, acc.ID)
	assert.Equal(t, int64(45), fresh.Credits)
	assert.Equal(t, int64(45), fresh.TotalCredits)
	assert.Equal(t, 1, f.audit.count(audit.ActionLedgerConflict))
}

func TestRedis_UpdateAccountCurrency_RetryPolicyReloads(t *testing.T) {
	f := newRedisFixture(t, 1)
	ctx := context.Background()
	acc := f.account(t, "Retry")

	_, err := f.ledger.UpdateFame(ctx, acc.ID, 7)
	require.NoError(t, err)
	require.NoError(t, f.ledger.UpdateAccountCurrency(ctx, acc, 3, Fame))
	assert.Equal(t, int64(10), acc.Fame)
	assert.Equal(t, int64(10), acc.TotalFame)
}

func TestRedis_UpdateCurrency_ConcurrentIncrementsAllLand(t *testing.T) {
	f := newRedisFixture(t, 0)
	ctx := context.Background()
	acc := f.account(t, "Busy")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.UpdateCredit(ctx, acc.ID, 3)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	fresh, _ := f.store.GetAccount(ctx, acc.ID)
	assert.Equal(t, int64(60), fresh.Credits)
	assert.Equal(t, int64(60), fresh.TotalCredits)
}

func TestRedis_UpdateCurrency_NeverNegative(t *testing.T) {
	f := newRedisFixture(t, 0)
	ctx := context.Background()
	acc := f.account(t, "Poor")

	_, err := f.ledger.UpdateCredit(ctx, acc.ID, 10)
	require.NoError(t, err)
	_, err = f.ledger.UpdateCredit(ctx, acc.ID, -11)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	v, err := f.ledger.UpdateCredit(ctx, acc.ID, -10)
	require.NoError(t, err)
	assert.Zero(t, v)
}

// Under contention some joins may give up with ErrConflict, but the guild
// never overflows and every member the guild lists was told it joined.
func TestRedis_AddGuildMember_ConcurrentNeverExceedsCapacity(t *testing.T) {
	f := newRedisFixture(t, 0)
	ctx := context.Background()
	g, err := f.ledger.CreateGuild(ctx, "Crowd")
	require.NoError(t, err)
	fillGuild(t, f, g, 45)

	accs := make([]*model.Account, 12)
	for i := range accs {
		accs[i] = f.account(t, "P"+strconv.Itoa(i))
	}
	var wg sync.WaitGroup
	for _, acc := range accs {
		wg.Add(1)
		go func(acc *model.Account) {
			defer wg.Done()
			_ = f.ledger.AddGuildMember(ctx, g, acc, false)
		}(acc)
	}
	wg.Wait()

	fresh, err := f.store.GetGuild(ctx, g.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(fresh.Members), 50)
	joined := 0
	for _, acc := range accs {
		if acc.GuildID == g.ID {
			joined++
		}
	}
	assert.Equal(t, len(fresh.Members)-45, joined)
}

func TestRedis_RemoveFromGuild_LastMemberFreesName(t *testing.T) {
	f := newRedisFixture(t, 0)
	ctx := context.Background()
	a := f.account(t, "Ann")
	g, err := f.ledger.FoundGuild(ctx, "Temp", a)
	require.NoError(t, err)
	assert.Equal(t, g.ID, a.GuildID)

	ok, err := f.ledger.RemoveFromGuild(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = f.ledger.CreateGuild(ctx, "temp")
	assert.NoError(t, err)
}

func TestRedis_RemoveFromGuild_BackendErrorSurfaces(t *testing.T) {
	c, _, mr := testutil.SetupRedisCache(t)
	f := newFixtureOn(t, c, 0)
	ctx := context.Background()
	a := f.account(t, "Ann")
	g, err := f.ledger.FoundGuild(ctx, "Outage", a)
	require.NoError(t, err)

	mr.Close()
	ok, err := f.ledger.RemoveFromGuild(ctx, a)
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, g.ID, a.GuildID, "membership kept when the guild could not be read")
}
