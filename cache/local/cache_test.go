package local

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kasuganosora/realmcore/cache/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *LocalCache {
	c, err := NewCache(Config{GCInterval: time.Minute})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestGetSet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key1", "value1", 0))

	v, err := c.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, "value1", v)
}

func TestGetMissing(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTTLExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ttl_key", "val", 10*time.Millisecond))

	time.Sleep(20 * time.Millisecond)
	_, err := c.Get(ctx, "ttl_key")
	assert.ErrorIs(t, err, ErrNotFound)
	ok, _ := c.Exists(ctx, "ttl_key")
	assert.False(t, ok)
}

func TestTTL(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, err := c.TTL(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Set(ctx, "forever", "v", 0))
	d, err := c.TTL(ctx, "forever")
	require.NoError(t, err)
	assert.Zero(t, d)

	require.NoError(t, c.Set(ctx, "short", "v", time.Minute))
	d, err = c.TTL(ctx, "short")
	require.NoError(t, err)
	assert.Greater(t, d, 50*time.Second)
}

func TestDel(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "k", "v", 0)
	_ = c.HSet(ctx, "h", "f", "v")
	require.NoError(t, c.Del(ctx, "k", "h"))
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	all, _ := c.HGetAll(ctx, "h")
	assert.Empty(t, all)
}

func TestSetNX(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "lock", "owner", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "lock", "other", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok) // already held
}

func TestExpireMissing(t *testing.T) {
	c := newTestCache(t)
	assert.ErrorIs(t, c.Expire(context.Background(), "none", time.Second), ErrNotFound)
}

func TestIncr(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	n, err := c.Incr(ctx, "nextGuildId")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, _ = c.Incr(ctx, "nextGuildId")
	assert.Equal(t, int64(2), n)
}

func TestHash(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.HSet(ctx, "h", "f1", "v1"))
	require.NoError(t, c.HMSet(ctx, "h", map[string]string{"f2": "v2"}))

	v, err := c.HGet(ctx, "h", "f1")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	all, err := c.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"f1": "v1", "f2": "v2"}, all)

	require.NoError(t, c.HDel(ctx, "h", "f1"))
	_, err = c.HGet(ctx, "h", "f1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHSetNXAndHIncrBy(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	ok, err := c.HSetNX(ctx, "guilds", "DRAGONS", "1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = c.HSetNX(ctx, "guilds", "DRAGONS", "2")
	assert.False(t, ok)

	n, err := c.HIncrBy(ctx, "account.1", "fame", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
	n, _ = c.HIncrBy(ctx, "account.1", "fame", -30)
	assert.Equal(t, int64(70), n)

	_ = c.HSet(ctx, "account.1", "name", "bob")
	_, err = c.HIncrBy(ctx, "account.1", "name", 1)
	assert.Error(t, err)
}

func TestSet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SAdd(ctx, "s", "a", "b", "c"))
	members, err := c.SMembers(ctx, "s")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, members)

	n, err := c.SCard(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	ok, err := c.SIsMember(ctx, "s", "b")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.SRem(ctx, "s", "b"))
	ok, _ = c.SIsMember(ctx, "s", "b")
	assert.False(t, ok)
}

func TestZSet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.ZAdd(ctx, "z", 100, "alice"))
	require.NoError(t, c.ZAdd(ctx, "z", 200, "bob"))
	require.NoError(t, c.ZAdd(ctx, "z", 50, "carol"))

	members, err := c.ZRevRange(ctx, "z", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "alice", "carol"}, members)

	top, err := c.ZRevRangeWithScores(ctx, "z", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []kv.Z{{Member: "bob", Score: 200}}, top)

	score, err := c.ZScore(ctx, "z", "alice")
	require.NoError(t, err)
	assert.Equal(t, float64(100), score)

	low, err := c.ZRangeByScore(ctx, "z", 0, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "alice"}, low)

	require.NoError(t, c.ZRem(ctx, "z", "alice"))
	_, err = c.ZScore(ctx, "z", "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	// re-adding moves the member
	require.NoError(t, c.ZAdd(ctx, "z", 10, "bob"))
	members, _ = c.ZRevRange(ctx, "z", 0, -1)
	assert.Equal(t, []string{"carol", "bob"}, members)
}

func TestList(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.LPush(ctx, "l", "c", "b", "a"))
	items, err := c.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	// LPush "c" then "b" then "a": head = a, b, c
	assert.Equal(t, []string{"a", "b", "c"}, items)

	require.NoError(t, c.LTrim(ctx, "l", 0, 1))
	items, _ = c.LRange(ctx, "l", 0, -1)
	assert.Equal(t, []string{"a", "b"}, items)
}

func TestKeys(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.HSet(ctx, "classStats.1", "782", "{}")
	_ = c.HSet(ctx, "classStats.2", "782", "{}")
	_ = c.Set(ctx, "classStatsX", "v", 0)
	_ = c.Set(ctx, "gone", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	keys, err := c.Keys(ctx, "classStats.*")
	require.NoError(t, err)
	assert.Equal(t, []string{"classStats.1", "classStats.2"}, keys)

	keys, _ = c.Keys(ctx, "gone")
	assert.Empty(t, keys)
}

func TestExec_AppliesAllWhenConditionsHold(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_ = c.HSet(ctx, "account.1", "fame", "10")

	txn := kv.NewTxn().
		KeyNotExists("lock:1").
		HashIntEqual("account.1", "fame", 10)
	txn.Set("lock:1", "tok", time.Minute)
	fame := txn.HIncrBy("account.1", "fame", 5)
	total := txn.HIncrBy("account.1", "totalFame", 5)

	require.NoError(t, c.Exec(ctx, txn))
	assert.True(t, fame.Done())
	assert.Equal(t, int64(15), fame.Val())
	assert.Equal(t, int64(5), total.Val())

	v, _ := c.Get(ctx, "lock:1")
	assert.Equal(t, "tok", v)
}

func TestExec_ConditionFailureAppliesNothing(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_ = c.HSet(ctx, "account.1", "credits", "50")

	txn := kv.NewTxn().HashIntEqual("account.1", "credits", 40)
	res := txn.HIncrBy("account.1", "credits", 10)
	txn.SAdd("alive.1", "7")

	err := c.Exec(ctx, txn)
	assert.ErrorIs(t, err, kv.ErrConditionFailed)
	assert.False(t, res.Done())

	v, _ := c.HGet(ctx, "account.1", "credits")
	assert.Equal(t, "50", v)
	n, _ := c.SCard(ctx, "alive.1")
	assert.Zero(t, n)
}

func TestExec_Conditions(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "lock:9", "abc", time.Minute)
	_ = c.HSet(ctx, "guild.1", "members", "[1,2]")

	cases := []struct {
		name string
		txn  *kv.Txn
		ok   bool
	}{
		{"string equal", kv.NewTxn().StringEqual("lock:9", "abc"), true},
		{"string mismatch", kv.NewTxn().StringEqual("lock:9", "xyz"), false},
		{"string missing", kv.NewTxn().StringEqual("lock:8", ""), false},
		{"key exists", kv.NewTxn().KeyExists("lock:9"), true},
		{"key not exists", kv.NewTxn().KeyNotExists("lock:9"), false},
		{"hash equal", kv.NewTxn().HashEqual("guild.1", "members", "[1,2]"), true},
		{"hash mismatch", kv.NewTxn().HashEqual("guild.1", "members", "[1]"), false},
		{"hash missing field", kv.NewTxn().HashEqual("guild.1", "board", ""), false},
		{"hash int missing is zero", kv.NewTxn().HashIntEqual("guild.1", "fame", 0), true},
		{"hash not exists", kv.NewTxn().HashNotExists("guild.1", "board"), true},
		{"hash exists", kv.NewTxn().HashNotExists("guild.1", "members"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := c.Exec(ctx, tc.txn)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, kv.ErrConditionFailed)
			}
		})
	}
}

func TestExec_ConcurrentKeyNotExistsSingleWinner(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			txn := kv.NewTxn().KeyNotExists("lock:1")
			txn.Set("lock:1", "t", time.Minute)
			if c.Exec(ctx, txn) == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestExec_BadIncrementLeavesNoPartialWrite(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_ = c.HSet(ctx, "h", "s", "text")

	txn := kv.NewTxn()
	txn.HSet("h", "a", "1")
	txn.HIncrBy("h", "s", 1)
	assert.Error(t, c.Exec(ctx, txn))

	_, err := c.HGet(ctx, "h", "a")
	assert.ErrorIs(t, err, ErrNotFound)
}
