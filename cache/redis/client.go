package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/kasuganosora/realmcore/cache/kv"
	goredis "github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = kv.ErrNotFound

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// RedisCache implements the Cache interface backed by Redis.
type RedisCache struct {
	client *goredis.Client
}

func dial(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// NewCache creates a Redis-backed cache.
func NewCache(cfg Config) (*RedisCache, error) {
	client, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: client}, nil
}

// Close releases the connection pool.
func (r *RedisCache) Close() {
	_ = r.client.Close()
}

func nilToNotFound(err error) error {
	if errors.Is(err, goredis.Nil) {
		return ErrNotFound
	}
	return err
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// ---- KV ----

func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	return v, nilToNotFound(err)
}

func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisCache) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (r *RedisCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

func (r *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := r.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// TTL returns the remaining lifetime of key, 0 when it never expires.
func (r *RedisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	switch {
	case d == -2 || d == -2*time.Second:
		return 0, ErrNotFound
	case d < 0:
		return 0, nil
	}
	return d, nil
}

func (r *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

// Keys enumerates keys matching a glob pattern using SCAN.
func (r *RedisCache) Keys(ctx context.Context, pattern string) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// ---- Hash ----

func (r *RedisCache) HSet(ctx context.Context, key, field, value string) error {
	return r.client.HSet(ctx, key, field, value).Err()
}

func (r *RedisCache) HMSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	for f, v := range fields {
		args = append(args, f, v)
	}
	return r.client.HSet(ctx, key, args...).Err()
}

func (r *RedisCache) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	return r.client.HSetNX(ctx, key, field, value).Result()
}

func (r *RedisCache) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := r.client.HGet(ctx, key, field).Result()
	return v, nilToNotFound(err)
}

func (r *RedisCache) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *RedisCache) HDel(ctx context.Context, key string, fields ...string) error {
	return r.client.HDel(ctx, key, fields...).Err()
}

func (r *RedisCache) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	return r.client.HIncrBy(ctx, key, field, delta).Result()
}

// ---- Set ----

func (r *RedisCache) SAdd(ctx context.Context, key string, members ...string) error {
	return r.client.SAdd(ctx, key, toArgs(members)...).Err()
}

func (r *RedisCache) SRem(ctx context.Context, key string, members ...string) error {
	return r.client.SRem(ctx, key, toArgs(members)...).Err()
}

func (r *RedisCache) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.client.SMembers(ctx, key).Result()
}

func (r *RedisCache) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return r.client.SIsMember(ctx, key, member).Result()
}

func (r *RedisCache) SCard(ctx context.Context, key string) (int64, error) {
	return r.client.SCard(ctx, key).Result()
}

// ---- ZSet ----

func (r *RedisCache) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return r.client.ZAdd(ctx, key, goredis.Z{Score: score, Member: member}).Err()
}

func (r *RedisCache) ZRem(ctx context.Context, key string, members ...string) error {
	return r.client.ZRem(ctx, key, toArgs(members)...).Err()
}

func (r *RedisCache) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.ZRevRange(ctx, key, start, stop).Result()
}

func (r *RedisCache) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]kv.Z, error) {
	zs, err := r.client.ZRevRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]kv.Z, len(zs))
	for i, z := range zs {
		m, _ := z.Member.(string)
		out[i] = kv.Z{Member: m, Score: z.Score}
	}
	return out, nil
}

// ZRangeByScore returns members with min <= score <= max, lowest first.
func (r *RedisCache) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return r.client.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
		Min: strconv.FormatFloat(min, 'f', -1, 64),
		Max: strconv.FormatFloat(max, 'f', -1, 64),
	}).Result()
}

func (r *RedisCache) ZScore(ctx context.Context, key, member string) (float64, error) {
	v, err := r.client.ZScore(ctx, key, member).Result()
	return v, nilToNotFound(err)
}

// ---- List ----

func (r *RedisCache) LPush(ctx context.Context, key string, values ...string) error {
	return r.client.LPush(ctx, key, toArgs(values)...).Err()
}

func (r *RedisCache) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.LRange(ctx, key, start, stop).Result()
}

func (r *RedisCache) LTrim(ctx context.Context, key string, start, stop int64) error {
	return r.client.LTrim(ctx, key, start, stop).Err()
}

// ---- Transactions ----

// Exec runs txn with optimistic locking: the condition keys are WATCHed,
// the conditions are checked, and the writes are sent in MULTI/EXEC. A
// failed check or a concurrent write to a watched key yields
// kv.ErrConditionFailed.
func (r *RedisCache) Exec(ctx context.Context, txn *kv.Txn) error {
	fn := func(tx *goredis.Tx) error {
		for _, c := range txn.Conditions() {
			ok, err := checkCondition(ctx, tx, c)
			if err != nil {
				return err
			}
			if !ok {
				return kv.ErrConditionFailed
			}
		}

		results := make(map[*kv.IntResult]*goredis.IntCmd)
		_, err := tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			for _, op := range txn.Ops() {
				queueOp(ctx, p, op, results)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for res, cmd := range results {
			res.Resolve(cmd.Val())
		}
		return nil
	}

	err := r.client.Watch(ctx, fn, txn.WatchKeys()...)
	if errors.Is(err, goredis.TxFailedErr) {
		return kv.ErrConditionFailed
	}
	return err
}

func checkCondition(ctx context.Context, tx *goredis.Tx, c kv.Condition) (bool, error) {
	switch c.Kind {
	case kv.CondKeyNotExists, kv.CondKeyExists:
		n, err := tx.Exists(ctx, c.Key).Result()
		if err != nil {
			return false, err
		}
		return (n > 0) == (c.Kind == kv.CondKeyExists), nil
	case kv.CondStringEqual:
		v, err := tx.Get(ctx, c.Key).Result()
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return v == c.Value, err
	case kv.CondHashEqual:
		v, err := tx.HGet(ctx, c.Key, c.Field).Result()
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return v == c.Value, err
	case kv.CondHashIntEqual:
		v, err := tx.HGet(ctx, c.Key, c.Field).Result()
		if errors.Is(err, goredis.Nil) {
			return c.Int == 0, nil
		}
		if err != nil {
			return false, err
		}
		n, perr := strconv.ParseInt(v, 10, 64)
		return perr == nil && n == c.Int, nil
	case kv.CondHashNotExists:
		ok, err := tx.HExists(ctx, c.Key, c.Field).Result()
		return !ok, err
	}
	return false, nil
}

func queueOp(ctx context.Context, p goredis.Pipeliner, op kv.Op, results map[*kv.IntResult]*goredis.IntCmd) {
	switch op.Kind {
	case kv.OpSet:
		p.Set(ctx, op.Key, op.Value, op.TTL)
	case kv.OpDel:
		p.Del(ctx, op.Key)
	case kv.OpExpire:
		p.Expire(ctx, op.Key, op.TTL)
	case kv.OpHSet:
		p.HSet(ctx, op.Key, op.Field, op.Value)
	case kv.OpHDel:
		p.HDel(ctx, op.Key, op.Field)
	case kv.OpHIncrBy:
		results[op.Result] = p.HIncrBy(ctx, op.Key, op.Field, op.Delta)
	case kv.OpSAdd:
		p.SAdd(ctx, op.Key, toArgs(op.Values)...)
	case kv.OpSRem:
		p.SRem(ctx, op.Key, toArgs(op.Values)...)
	case kv.OpLPush:
		p.LPush(ctx, op.Key, toArgs(op.Values)...)
	case kv.OpZAdd:
		p.ZAdd(ctx, op.Key, goredis.Z{Score: op.Score, Member: op.Value})
	case kv.OpIncr:
		results[op.Result] = p.Incr(ctx, op.Key)
	}
}

// ---- PubSub ----

// RedisMessage is the message type returned by RedisPubSub.Subscribe.
type RedisMessage struct {
	Channel string
	Payload string
}

// RedisPubSub wraps the Redis PubSub client.
type RedisPubSub struct {
	client *goredis.Client
}

// NewPubSub creates a Redis-backed PubSub.
func NewPubSub(cfg Config) (*RedisPubSub, error) {
	client, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	return &RedisPubSub{client: client}, nil
}

func (r *RedisPubSub) Publish(ctx context.Context, channel, message string) error {
	return r.client.Publish(ctx, channel, message).Err()
}

func (r *RedisPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *RedisMessage, func(), error) {
	ps := r.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}
	ch := make(chan *RedisMessage, 256)

	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			ch <- &RedisMessage{Channel: msg.Channel, Payload: msg.Payload}
		}
	}()

	cancel := func() {
		_ = ps.Close()
	}
	return ch, cancel, nil
}
