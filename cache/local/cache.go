package local

import (
	"context"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kasuganosora/realmcore/cache/kv"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = kv.ErrNotFound

// Config holds LocalCache settings.
type Config struct {
	GCInterval time.Duration
}

type zset struct {
	entries []kv.Z // sorted by score descending
}

func (z *zset) add(member string, score float64) {
	for i := range z.entries {
		if z.entries[i].Member == member {
			z.entries = append(z.entries[:i], z.entries[i+1:]...)
			break
		}
	}
	z.entries = append(z.entries, kv.Z{Member: member, Score: score})
	sort.SliceStable(z.entries, func(a, b int) bool { return z.entries[a].Score > z.entries[b].Score })
}

// LocalCache is an in-process cache implementing the Cache interface.
// All data sits behind one mutex so that Exec can check conditions and apply
// writes atomically, matching the MULTI/EXEC behaviour of the Redis backend.
type LocalCache struct {
	mu      sync.Mutex
	strs    map[string]string
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
	zsets   map[string]*zset
	lists   map[string][]string
	expires map[string]time.Time

	gcInterval time.Duration
	stopGC     chan struct{}
	closeOnce  sync.Once
}

// NewCache creates a LocalCache and starts the background GC goroutine.
func NewCache(cfg Config) (*LocalCache, error) {
	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	c := &LocalCache{
		strs:       make(map[string]string),
		hashes:     make(map[string]map[string]string),
		sets:       make(map[string]map[string]struct{}),
		zsets:      make(map[string]*zset),
		lists:      make(map[string][]string),
		expires:    make(map[string]time.Time),
		gcInterval: interval,
		stopGC:     make(chan struct{}),
	}
	go c.runGC()
	return c, nil
}

// Close stops the background GC goroutine.
func (c *LocalCache) Close() {
	c.closeOnce.Do(func() { close(c.stopGC) })
}

func (c *LocalCache) runGC() {
	ticker := time.NewTicker(c.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			for k := range c.expires {
				c.purgeIfExpired(k)
			}
			c.mu.Unlock()
		case <-c.stopGC:
			return
		}
	}
}

// ---- internal helpers, c.mu held ----

func (c *LocalCache) purgeIfExpired(key string) {
	at, ok := c.expires[key]
	if !ok || time.Now().Before(at) {
		return
	}
	c.deleteKey(key)
}

func (c *LocalCache) deleteKey(key string) {
	delete(c.strs, key)
	delete(c.hashes, key)
	delete(c.sets, key)
	delete(c.zsets, key)
	delete(c.lists, key)
	delete(c.expires, key)
}

func (c *LocalCache) exists(key string) bool {
	c.purgeIfExpired(key)
	if _, ok := c.strs[key]; ok {
		return true
	}
	if h, ok := c.hashes[key]; ok && len(h) > 0 {
		return true
	}
	if s, ok := c.sets[key]; ok && len(s) > 0 {
		return true
	}
	if z, ok := c.zsets[key]; ok && len(z.entries) > 0 {
		return true
	}
	if l, ok := c.lists[key]; ok && len(l) > 0 {
		return true
	}
	return false
}

func (c *LocalCache) setString(key, value string, ttl time.Duration) {
	c.strs[key] = value
	if ttl > 0 {
		c.expires[key] = time.Now().Add(ttl)
	} else {
		delete(c.expires, key)
	}
}

func (c *LocalCache) getString(key string) (string, bool) {
	c.purgeIfExpired(key)
	v, ok := c.strs[key]
	return v, ok
}

func (c *LocalCache) expire(key string, ttl time.Duration) bool {
	if !c.exists(key) {
		return false
	}
	c.expires[key] = time.Now().Add(ttl)
	return true
}

func (c *LocalCache) hash(key string, create bool) map[string]string {
	c.purgeIfExpired(key)
	h, ok := c.hashes[key]
	if !ok && create {
		h = make(map[string]string)
		c.hashes[key] = h
	}
	return h
}

func (c *LocalCache) hincrBy(key, field string, delta int64) (int64, error) {
	h := c.hash(key, true)
	cur := int64(0)
	if v, ok := h[field]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, err
		}
		cur = n
	}
	cur += delta
	h[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (c *LocalCache) incr(key string) (int64, error) {
	cur := int64(0)
	if v, ok := c.getString(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, err
		}
		cur = n
	}
	cur++
	c.strs[key] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (c *LocalCache) set(key string, create bool) map[string]struct{} {
	c.purgeIfExpired(key)
	s, ok := c.sets[key]
	if !ok && create {
		s = make(map[string]struct{})
		c.sets[key] = s
	}
	return s
}

func (c *LocalCache) zset(key string, create bool) *zset {
	c.purgeIfExpired(key)
	z, ok := c.zsets[key]
	if !ok && create {
		z = &zset{}
		c.zsets[key] = z
	}
	return z
}

func (c *LocalCache) lpush(key string, values ...string) {
	c.purgeIfExpired(key)
	// LPush: prepend in order (last value ends up at index 0)
	l := c.lists[key]
	for _, v := range values {
		l = append([]string{v}, l...)
	}
	c.lists[key] = l
}

// clampRange converts Redis-style inclusive indexes (negative counts from the
// end) into a half-open slice range.
func clampRange(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop + 1, true
}

// ---- KV ----

func (c *LocalCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.getString(key)
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (c *LocalCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setString(key, value, ttl)
	return nil
}

func (c *LocalCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.deleteKey(k)
	}
	return nil
}

func (c *LocalCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exists(key), nil
}

func (c *LocalCache) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exists(key) {
		return false, nil
	}
	c.setString(key, value, ttl)
	return true, nil
}

func (c *LocalCache) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.expire(key, ttl) {
		return ErrNotFound
	}
	return nil
}

func (c *LocalCache) TTL(_ context.Context, key string) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.exists(key) {
		return 0, ErrNotFound
	}
	at, ok := c.expires[key]
	if !ok {
		return 0, nil
	}
	return time.Until(at), nil
}

func (c *LocalCache) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.incr(key)
}

// Keys enumerates live keys matching a glob pattern.
func (c *LocalCache) Keys(_ context.Context, pattern string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[string]struct{})
	collect := func(k string) {
		if _, ok := seen[k]; ok {
			return
		}
		if ok, _ := path.Match(pattern, k); ok && c.exists(k) {
			seen[k] = struct{}{}
		}
	}
	for k := range c.strs {
		collect(k)
	}
	for k := range c.hashes {
		collect(k)
	}
	for k := range c.sets {
		collect(k)
	}
	for k := range c.zsets {
		collect(k)
	}
	for k := range c.lists {
		collect(k)
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// ---- Hash ----

func (c *LocalCache) HSet(_ context.Context, key, field, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hash(key, true)[field] = value
	return nil
}

func (c *LocalCache) HMSet(_ context.Context, key string, fields map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.hash(key, true)
	for f, v := range fields {
		h[f] = v
	}
	return nil
}

func (c *LocalCache) HSetNX(_ context.Context, key, field, value string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.hash(key, true)
	if _, ok := h[field]; ok {
		return false, nil
	}
	h[field] = value
	return true, nil
}

func (c *LocalCache) HGet(_ context.Context, key, field string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.hash(key, false)[field]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (c *LocalCache) HGetAll(_ context.Context, key string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.hash(key, false)
	result := make(map[string]string, len(h))
	for k, v := range h {
		result[k] = v
	}
	return result, nil
}

func (c *LocalCache) HDel(_ context.Context, key string, fields ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.hash(key, false)
	for _, f := range fields {
		delete(h, f)
	}
	return nil
}

func (c *LocalCache) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hincrBy(key, field, delta)
}

// ---- Set ----

func (c *LocalCache) SAdd(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.set(key, true)
	for _, m := range members {
		s[m] = struct{}{}
	}
	return nil
}

func (c *LocalCache) SRem(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.set(key, false)
	for _, m := range members {
		delete(s, m)
	}
	return nil
}

func (c *LocalCache) SMembers(_ context.Context, key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.set(key, false)
	result := make([]string, 0, len(s))
	for m := range s {
		result = append(result, m)
	}
	sort.Strings(result)
	return result, nil
}

func (c *LocalCache) SIsMember(_ context.Context, key, member string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.set(key, false)[member]
	return ok, nil
}

func (c *LocalCache) SCard(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.set(key, false))), nil
}

// ---- ZSet ----

func (c *LocalCache) ZAdd(_ context.Context, key string, score float64, member string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zset(key, true).add(member, score)
	return nil
}

func (c *LocalCache) ZRem(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	z := c.zset(key, false)
	if z == nil {
		return nil
	}
	drop := make(map[string]struct{}, len(members))
	for _, m := range members {
		drop[m] = struct{}{}
	}
	n := 0
	for _, e := range z.entries {
		if _, ok := drop[e.Member]; !ok {
			z.entries[n] = e
			n++
		}
	}
	z.entries = z.entries[:n]
	return nil
}

func (c *LocalCache) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	zs, err := c.ZRevRangeWithScores(ctx, key, start, stop)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(zs))
	for i, z := range zs {
		out[i] = z.Member
	}
	return out, nil
}

func (c *LocalCache) ZRevRangeWithScores(_ context.Context, key string, start, stop int64) ([]kv.Z, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	z := c.zset(key, false)
	if z == nil {
		return nil, nil
	}
	lo, hi, ok := clampRange(int64(len(z.entries)), start, stop)
	if !ok {
		return nil, nil
	}
	out := make([]kv.Z, hi-lo)
	copy(out, z.entries[lo:hi])
	return out, nil
}

func (c *LocalCache) ZRangeByScore(_ context.Context, key string, min, max float64) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	z := c.zset(key, false)
	if z == nil {
		return nil, nil
	}
	var out []string
	for i := len(z.entries) - 1; i >= 0; i-- {
		e := z.entries[i]
		if e.Score >= min && e.Score <= max {
			out = append(out, e.Member)
		}
	}
	return out, nil
}

func (c *LocalCache) ZScore(_ context.Context, key, member string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	z := c.zset(key, false)
	if z != nil {
		for _, e := range z.entries {
			if e.Member == member {
				return e.Score, nil
			}
		}
	}
	return 0, ErrNotFound
}

// ---- List ----

func (c *LocalCache) LPush(_ context.Context, key string, values ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lpush(key, values...)
	return nil
}

func (c *LocalCache) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeIfExpired(key)
	l := c.lists[key]
	lo, hi, ok := clampRange(int64(len(l)), start, stop)
	if !ok {
		return nil, nil
	}
	result := make([]string, hi-lo)
	copy(result, l[lo:hi])
	return result, nil
}

func (c *LocalCache) LTrim(_ context.Context, key string, start, stop int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeIfExpired(key)
	l := c.lists[key]
	lo, hi, ok := clampRange(int64(len(l)), start, stop)
	if !ok {
		delete(c.lists, key)
		return nil
	}
	c.lists[key] = append([]string(nil), l[lo:hi]...)
	return nil
}

// ---- Transactions ----

// Exec checks every condition and applies every op under the cache mutex.
func (c *LocalCache) Exec(_ context.Context, txn *kv.Txn) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cond := range txn.Conditions() {
		if !c.check(cond) {
			return kv.ErrConditionFailed
		}
	}
	// Integer ops are validated before anything is written so a parse error
	// cannot leave the transaction half applied.
	for _, op := range txn.Ops() {
		if err := c.validate(op); err != nil {
			return err
		}
	}
	for _, op := range txn.Ops() {
		c.apply(op)
	}
	return nil
}

func (c *LocalCache) check(cond kv.Condition) bool {
	switch cond.Kind {
	case kv.CondKeyNotExists:
		return !c.exists(cond.Key)
	case kv.CondKeyExists:
		return c.exists(cond.Key)
	case kv.CondStringEqual:
		v, ok := c.getString(cond.Key)
		return ok && v == cond.Value
	case kv.CondHashEqual:
		v, ok := c.hash(cond.Key, false)[cond.Field]
		return ok && v == cond.Value
	case kv.CondHashIntEqual:
		v, ok := c.hash(cond.Key, false)[cond.Field]
		if !ok {
			return cond.Int == 0
		}
		n, err := strconv.ParseInt(v, 10, 64)
		return err == nil && n == cond.Int
	case kv.CondHashNotExists:
		_, ok := c.hash(cond.Key, false)[cond.Field]
		return !ok
	}
	return false
}

func (c *LocalCache) validate(op kv.Op) error {
	switch op.Kind {
	case kv.OpHIncrBy:
		if v, ok := c.hash(op.Key, false)[op.Field]; ok {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				return err
			}
		}
	case kv.OpIncr:
		if v, ok := c.getString(op.Key); ok {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *LocalCache) apply(op kv.Op) {
	switch op.Kind {
	case kv.OpSet:
		c.setString(op.Key, op.Value, op.TTL)
	case kv.OpDel:
		c.deleteKey(op.Key)
	case kv.OpExpire:
		c.expire(op.Key, op.TTL)
	case kv.OpHSet:
		c.hash(op.Key, true)[op.Field] = op.Value
	case kv.OpHDel:
		delete(c.hash(op.Key, false), op.Field)
	case kv.OpHIncrBy:
		n, _ := c.hincrBy(op.Key, op.Field, op.Delta)
		op.Result.Resolve(n)
	case kv.OpSAdd:
		s := c.set(op.Key, true)
		for _, m := range op.Values {
			s[m] = struct{}{}
		}
	case kv.OpSRem:
		s := c.set(op.Key, false)
		for _, m := range op.Values {
			delete(s, m)
		}
	case kv.OpLPush:
		c.lpush(op.Key, op.Values...)
	case kv.OpZAdd:
		c.zset(op.Key, true).add(op.Value, op.Score)
	case kv.OpIncr:
		n, _ := c.incr(op.Key)
		op.Result.Resolve(n)
	}
}
