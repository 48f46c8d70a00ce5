// Package kv holds the backend-neutral pieces of the record store client:
// shared errors and the conditional transaction builder executed by both the
// Redis and the in-process backends.
package kv

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key or field does not exist.
	ErrNotFound = errors.New("cache: key not found")
	// ErrConditionFailed is returned by Exec when a transaction precondition
	// did not hold (or a watched key changed). No operation was applied.
	ErrConditionFailed = errors.New("cache: transaction condition failed")
)

// Z is a sorted-set member with its score.
type Z struct {
	Member string
	Score  float64
}

// CondKind enumerates transaction preconditions.
type CondKind int

const (
	CondKeyNotExists CondKind = iota
	CondKeyExists
	CondStringEqual
	CondHashEqual
	CondHashIntEqual
	CondHashNotExists
)

// Condition is a single transaction precondition.
type Condition struct {
	Kind  CondKind
	Key   string
	Field string
	Value string
	Int   int64
}

// OpKind enumerates the write operations a transaction may carry.
type OpKind int

const (
	OpSet OpKind = iota
	OpDel
	OpExpire
	OpHSet
	OpHDel
	OpHIncrBy
	OpSAdd
	OpSRem
	OpLPush
	OpZAdd
	OpIncr
)

// Op is one queued write.
type Op struct {
	Kind   OpKind
	Key    string
	Field  string
	Value  string
	Values []string
	TTL    time.Duration
	Delta  int64
	Score  float64
	Result *IntResult
}

// IntResult receives the reply of an integer-returning op once the
// transaction commits.
type IntResult struct {
	val  int64
	done bool
}

// Val returns the committed reply, or 0 if the transaction did not commit.
func (r *IntResult) Val() int64 { return r.val }

// Done reports whether the reply has been filled in.
func (r *IntResult) Done() bool { return r.done }

// Resolve is called by backends after a successful commit.
func (r *IntResult) Resolve(v int64) {
	r.val = v
	r.done = true
}

// Txn is an all-or-nothing batch of writes guarded by preconditions.
// Build it with the chained helpers and hand it to Cache.Exec.
type Txn struct {
	conds []Condition
	ops   []Op
}

// NewTxn returns an empty transaction.
func NewTxn() *Txn { return &Txn{} }

func (t *Txn) cond(c Condition) *Txn {
	t.conds = append(t.conds, c)
	return t
}

func (t *Txn) op(o Op) *Txn {
	t.ops = append(t.ops, o)
	return t
}

// KeyNotExists requires key to be absent.
func (t *Txn) KeyNotExists(key string) *Txn {
	return t.cond(Condition{Kind: CondKeyNotExists, Key: key})
}

// KeyExists requires key to be present.
func (t *Txn) KeyExists(key string) *Txn {
	return t.cond(Condition{Kind: CondKeyExists, Key: key})
}

// StringEqual requires the string at key to equal value.
func (t *Txn) StringEqual(key, value string) *Txn {
	return t.cond(Condition{Kind: CondStringEqual, Key: key, Value: value})
}

// HashEqual requires hash field to exist and equal value.
func (t *Txn) HashEqual(key, field, value string) *Txn {
	return t.cond(Condition{Kind: CondHashEqual, Key: key, Field: field, Value: value})
}

// HashIntEqual requires hash field to hold the integer n. A missing field
// counts as 0.
func (t *Txn) HashIntEqual(key, field string, n int64) *Txn {
	return t.cond(Condition{Kind: CondHashIntEqual, Key: key, Field: field, Int: n})
}

// HashNotExists requires hash field to be absent.
func (t *Txn) HashNotExists(key, field string) *Txn {
	return t.cond(Condition{Kind: CondHashNotExists, Key: key, Field: field})
}

func (t *Txn) Set(key, value string, ttl time.Duration) *Txn {
	return t.op(Op{Kind: OpSet, Key: key, Value: value, TTL: ttl})
}

func (t *Txn) Del(key string) *Txn {
	return t.op(Op{Kind: OpDel, Key: key})
}

func (t *Txn) Expire(key string, ttl time.Duration) *Txn {
	return t.op(Op{Kind: OpExpire, Key: key, TTL: ttl})
}

func (t *Txn) HSet(key, field, value string) *Txn {
	return t.op(Op{Kind: OpHSet, Key: key, Field: field, Value: value})
}

func (t *Txn) HDel(key, field string) *Txn {
	return t.op(Op{Kind: OpHDel, Key: key, Field: field})
}

func (t *Txn) SAdd(key string, members ...string) *Txn {
	return t.op(Op{Kind: OpSAdd, Key: key, Values: members})
}

func (t *Txn) SRem(key string, members ...string) *Txn {
	return t.op(Op{Kind: OpSRem, Key: key, Values: members})
}

func (t *Txn) LPush(key string, values ...string) *Txn {
	return t.op(Op{Kind: OpLPush, Key: key, Values: values})
}

func (t *Txn) ZAdd(key string, score float64, member string) *Txn {
	return t.op(Op{Kind: OpZAdd, Key: key, Value: member, Score: score})
}

// HIncrBy queues an increment and returns a handle to its post-commit value.
func (t *Txn) HIncrBy(key, field string, delta int64) *IntResult {
	r := &IntResult{}
	t.op(Op{Kind: OpHIncrBy, Key: key, Field: field, Delta: delta, Result: r})
	return r
}

// Incr queues a string-counter increment and returns its result handle.
func (t *Txn) Incr(key string) *IntResult {
	r := &IntResult{}
	t.op(Op{Kind: OpIncr, Key: key, Delta: 1, Result: r})
	return r
}

// Conditions returns the queued preconditions.
func (t *Txn) Conditions() []Condition { return t.conds }

// Ops returns the queued writes.
func (t *Txn) Ops() []Op { return t.ops }

// WatchKeys returns the distinct keys referenced by the preconditions.
func (t *Txn) WatchKeys() []string {
	seen := make(map[string]struct{}, len(t.conds))
	keys := make([]string, 0, len(t.conds))
	for _, c := range t.conds {
		if _, ok := seen[c.Key]; ok {
			continue
		}
		seen[c.Key] = struct{}{}
		keys = append(keys, c.Key)
	}
	return keys
}
