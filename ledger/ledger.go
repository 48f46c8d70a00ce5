// Package ledger applies the account, guild and currency mutations that must
// stay correct under concurrent access from several server processes:
// atomic balance increments, optimistic (compare-and-swap) updates of cached
// accounts, guild membership with capacity checks, character creation and
// death.
package ledger

import (
	"context"
	"errors"
	"sync"

	"github.com/kasuganosora/realmcore/audit"
	"github.com/kasuganosora/realmcore/cache"
	"github.com/kasuganosora/realmcore/lease"
	"github.com/kasuganosora/realmcore/model"
	"github.com/kasuganosora/realmcore/store"
	"go.uber.org/zap"
)

var (
	// ErrConflict means a compare-and-swap guard failed; the caller should
	// report "try again".
	ErrConflict          = errors.New("ledger: concurrent modification, try again")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	ErrInvalidName     = errors.New("ledger: invalid guild name")
	ErrUsedName        = errors.New("ledger: guild name already used")
	ErrAlreadyInGuild  = errors.New("ledger: already in this guild")
	ErrInAnotherGuild  = errors.New("ledger: in another guild")
	ErrGuildFull       = errors.New("ledger: guild is full")
	ErrIsAMember       = errors.New("ledger: already a member")
	ErrNotInGuild      = errors.New("ledger: not in a guild")
	ErrInvalidRank     = errors.New("ledger: invalid guild rank")
	ErrInvalidLevel    = errors.New("ledger: invalid guild level")
	ErrReachCharLimit  = errors.New("ledger: character slot limit reached")
	ErrSkinUnavailable = errors.New("ledger: skin unavailable")
	ErrUnknownClass    = errors.New("ledger: unknown class")
	ErrClassLocked     = errors.New("ledger: class locked")
)

// RetryPolicy decides what an optimistic update does after a
// compare-and-swap mismatch.
type RetryPolicy struct {
	// Retries is how many times the account is reloaded and the update
	// re-attempted. 0 abandons immediately with ErrConflict.
	Retries int
}

// Ledger owns every counter and membership mutation.
type Ledger struct {
	store  *store.Store
	cache  cache.Cache
	leases *lease.Manager
	board  *Board
	audit  audit.Recorder
	policy RetryPolicy
	logger *zap.Logger

	guildLocks sync.Map // guild id -> *sync.Mutex
}

// New creates a Ledger. audit may be nil.
func New(s *store.Store, board *Board, rec audit.Recorder, policy RetryPolicy, logger *zap.Logger) *Ledger {
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Ledger{
		store:  s,
		cache:  s.Cache(),
		leases: s.Leases(),
		board:  board,
		audit:  rec,
		policy: policy,
		logger: logger,
	}
}

// Board returns the leaderboard the ledger inserts deaths into.
func (l *Ledger) Board() *Board { return l.board }

// guildLock is the in-process critical section of a guild's member list.
// Cross-process exclusion comes from the compare-and-swap on the list itself.
func (l *Ledger) guildLock(id int64) *sync.Mutex {
	mu, _ := l.guildLocks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// withAccountLease runs fn under the lease acc already holds, or a scoped one.
func (l *Ledger) withAccountLease(ctx context.Context, acc *model.Account, fn func(ctx context.Context, token string) error) error {
	if acc.LockToken != "" {
		return fn(ctx, acc.LockToken)
	}
	return l.leases.WithLock(ctx, acc.ID, fn)
}
