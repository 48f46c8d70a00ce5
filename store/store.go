// Package store is the typed accessor over the record store: accounts,
// characters, guilds, vaults, logins and the name index.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kasuganosora/realmcore/cache"
	"github.com/kasuganosora/realmcore/lease"
	"github.com/kasuganosora/realmcore/model"
	"github.com/kasuganosora/realmcore/resource"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAccountNotFound    = errors.New("store: account not found")
	ErrCharacterNotFound  = errors.New("store: character not found")
	ErrGuildNotFound      = errors.New("store: guild not found")
	ErrInvalidCredentials = errors.New("store: invalid credentials")
	ErrUsedName           = errors.New("store: name already in use")
	ErrConflict           = errors.New("store: concurrent modification, try again")
)

// listRetries bounds the compare-and-swap loop of lock/ignore list edits.
const listRetries = 3

// Options are the new-account defaults.
type Options struct {
	MaxCharSlot    int
	VaultCount     int
	SkinsUnlocked  bool
	ClassesUnlock  bool
	BcryptCost     int
	StartingCredit int64
	StartingFame   int64
}

// Store reads and writes persistent records.
type Store struct {
	cache  cache.Cache
	leases *lease.Manager
	cat    *resource.Catalog
	opts   Options
	logger *zap.Logger
}

// New creates a Store.
func New(c cache.Cache, leases *lease.Manager, cat *resource.Catalog, opts Options, logger *zap.Logger) *Store {
	if opts.MaxCharSlot <= 0 {
		opts.MaxCharSlot = 2
	}
	if opts.VaultCount <= 0 {
		opts.VaultCount = 1
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	return &Store{cache: c, leases: leases, cat: cat, opts: opts, logger: logger}
}

// Cache exposes the underlying record store.
func (s *Store) Cache() cache.Cache { return s.cache }

// Leases exposes the lease manager the store conditions writes on.
func (s *Store) Leases() *lease.Manager { return s.leases }

// Catalog exposes the game data the store was built with.
func (s *Store) Catalog() *resource.Catalog { return s.cat }

// leased adds the lease condition when acc holds one.
func leased(txn *cache.Txn, acc *model.Account) *cache.Txn {
	if acc != nil && acc.LockToken != "" {
		txn.StringEqual(lease.Key(acc.ID), acc.LockToken)
	}
	return txn
}

func (s *Store) exec(ctx context.Context, txn *cache.Txn, acc *model.Account) error {
	err := s.cache.Exec(ctx, txn)
	if errors.Is(err, cache.ErrConditionFailed) && acc != nil && acc.LockToken != "" {
		return lease.ErrNotHeld
	}
	return err
}

func hsetAll(txn *cache.Txn, key string, fields map[string]string) {
	for f, v := range fields {
		txn.HSet(key, f, v)
	}
}

// ---- Accounts ----

// GetAccount loads an account. It carries no lease token.
func (s *Store) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	h, err := s.cache.HGetAll(ctx, model.AccountKey(id))
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, ErrAccountNotFound
	}
	acc := &model.Account{ID: id}
	acc.Decode(h)
	return acc, nil
}

// FlushAccount writes the profile fields. Ledger counters are never written
// here. While the account holds a lease the write is conditioned on it.
func (s *Store) FlushAccount(ctx context.Context, acc *model.Account) error {
	txn := leased(cache.NewTxn(), acc)
	hsetAll(txn, acc.Key(), acc.Fields())
	return s.exec(ctx, txn, acc)
}

// ReloadAccount re-reads every field, keeping the in-memory lease token.
func (s *Store) ReloadAccount(ctx context.Context, acc *model.Account) error {
	h, err := s.cache.HGetAll(ctx, acc.Key())
	if err != nil {
		return err
	}
	if len(h) == 0 {
		return ErrAccountNotFound
	}
	acc.Decode(h)
	return nil
}

// ---- Registration and login ----

// Register creates a login and an account under the registration lock.
func (s *Store) Register(ctx context.Context, uuid, password, name string) (*model.Account, error) {
	var acc *model.Account
	err := s.leases.WithNamedLock(ctx, lease.RegLock, func(ctx context.Context) error {
		upper := strings.ToUpper(uuid)
		exists, err := s.cache.HGet(ctx, model.LoginsKey, upper)
		if err == nil && exists != "" {
			return ErrUsedName
		}
		if err != nil && !errors.Is(err, cache.ErrNotFound) {
			return err
		}
		if name != "" {
			if id, _ := s.ResolveID(ctx, name); id != 0 {
				return ErrUsedName
			}
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
		if err != nil {
			return fmt.Errorf("store: hash password: %w", err)
		}
		id, err := s.cache.Incr(ctx, model.NextAccIDKey)
		if err != nil {
			return err
		}

		now := time.Now()
		acc = &model.Account{
			ID:          id,
			UUID:        uuid,
			Name:        name,
			NameChosen:  name != "",
			MaxCharSlot: s.opts.MaxCharSlot,
			VaultCount:  s.opts.VaultCount,
			RegTime:     now,
			LastSeen:    now,
		}
		if s.opts.SkinsUnlocked && s.cat != nil {
			acc.Skins = s.cat.SelectableSkins()
		}

		txn := cache.NewTxn().HashNotExists(model.LoginsKey, upper)
		if name != "" {
			txn.HashNotExists(model.NamesKey, strings.ToUpper(name))
			txn.HSet(model.NamesKey, strings.ToUpper(name), strconv.FormatInt(id, 10))
		}
		txn.HSet(model.LoginsKey, upper, model.EncodeLogin(model.LoginInfo{
			AccountID: id, HashedPassword: string(hash),
		}))
		hsetAll(txn, acc.Key(), acc.Fields())
		txn.HIncrBy(acc.Key(), model.FieldFame, s.opts.StartingFame)
		txn.HIncrBy(acc.Key(), model.FieldTotalFame, s.opts.StartingFame)
		txn.HIncrBy(acc.Key(), model.FieldCredits, s.opts.StartingCredit)
		txn.HIncrBy(acc.Key(), model.FieldTotalCredits, s.opts.StartingCredit)
		if err := s.cache.Exec(ctx, txn); err != nil {
			if errors.Is(err, cache.ErrConditionFailed) {
				return ErrUsedName
			}
			return err
		}
		acc.Fame, acc.TotalFame = s.opts.StartingFame, s.opts.StartingFame
		acc.Credits, acc.TotalCredits = s.opts.StartingCredit, s.opts.StartingCredit

		if s.opts.ClassesUnlock && s.cat != nil {
			cs := &model.ClassStats{AccountID: id}
			for t := range s.cat.Classes {
				cs.Unlock(t)
			}
			return s.SaveClassStats(ctx, cs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("account registered", zap.Int64("account_id", acc.ID))
	return acc, nil
}

// Verify checks a login and returns its account.
func (s *Store) Verify(ctx context.Context, uuid, password string) (*model.Account, error) {
	v, err := s.cache.HGet(ctx, model.LoginsKey, strings.ToUpper(uuid))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	info := model.DecodeLogin(v)
	if bcrypt.CompareHashAndPassword([]byte(info.HashedPassword), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return s.GetAccount(ctx, info.AccountID)
}

// ---- Names ----

// ResolveID returns the account id owning a display name, 0 if none.
func (s *Store) ResolveID(ctx context.Context, name string) (int64, error) {
	v, err := s.cache.HGet(ctx, model.NamesKey, strings.ToUpper(name))
	if errors.Is(err, cache.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cast.ToInt64(v), nil
}

// ResolveName returns the display name of an account, "" if unknown.
func (s *Store) ResolveName(ctx context.Context, id int64) (string, error) {
	v, err := s.cache.HGet(ctx, model.AccountKey(id), "name")
	if errors.Is(err, cache.ErrNotFound) {
		return "", nil
	}
	return v, err
}

// SetName renames an account under the name lock. The name index entry and
// the account field change in one transaction.
func (s *Store) SetName(ctx context.Context, acc *model.Account, name string) error {
	return s.leases.WithNamedLock(ctx, lease.NameLock, func(ctx context.Context) error {
		upper := strings.ToUpper(name)
		txn := leased(cache.NewTxn().HashNotExists(model.NamesKey, upper), acc)
		if acc.Name != "" {
			txn.HDel(model.NamesKey, strings.ToUpper(acc.Name))
		}
		txn.HSet(model.NamesKey, upper, strconv.FormatInt(acc.ID, 10))
		txn.HSet(acc.Key(), "name", name)
		txn.HSet(acc.Key(), "nameChosen", "1")
		err := s.cache.Exec(ctx, txn)
		if errors.Is(err, cache.ErrConditionFailed) {
			if id, _ := s.ResolveID(ctx, name); id != 0 {
				return ErrUsedName
			}
			return lease.ErrNotHeld
		}
		if err != nil {
			return err
		}
		acc.Name = name
		acc.NameChosen = true
		return nil
	})
}

// ---- Lock and ignore lists ----

// editList applies edit to an id-list field of target with compare-and-swap,
// re-reading the field between attempts.
func (s *Store) editList(ctx context.Context, target *model.Account, field string, edit func([]int64) []int64) ([]int64, error) {
	key := target.Key()
	for i := 0; i < listRetries; i++ {
		raw, err := s.cache.HGet(ctx, key, field)
		missing := errors.Is(err, cache.ErrNotFound)
		if err != nil && !missing {
			return nil, err
		}
		next := edit(model.DecodeIDs(raw))
		txn := cache.NewTxn()
		if missing {
			txn.HashNotExists(key, field)
		} else {
			txn.HashEqual(key, field, raw)
		}
		txn.HSet(key, field, model.EncodeIDs(next))
		err = s.cache.Exec(ctx, txn)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, cache.ErrConditionFailed) {
			return nil, err
		}
	}
	return nil, ErrConflict
}

// LockAccount adds (or removes) other to target's lock list.
func (s *Store) LockAccount(ctx context.Context, target *model.Account, other int64, add bool) error {
	list, err := s.editList(ctx, target, "lockList", func(ids []int64) []int64 {
		if add {
			return model.AddID(ids, other)
		}
		return model.RemoveID(ids, other)
	})
	if err != nil {
		return err
	}
	target.LockList = list
	return nil
}

// IgnoreAccount adds (or removes) other to target's ignore list.
func (s *Store) IgnoreAccount(ctx context.Context, target *model.Account, other int64, add bool) error {
	list, err := s.editList(ctx, target, "ignoreList", func(ids []int64) []int64 {
		if add {
			return model.AddID(ids, other)
		}
		return model.RemoveID(ids, other)
	})
	if err != nil {
		return err
	}
	target.IgnoreList = list
	return nil
}

// ---- Moderation ----

// Mute silences an ip. A non-positive ttl mutes until explicitly cleared.
func (s *Store) Mute(ctx context.Context, ip string, ttl time.Duration) error {
	return s.cache.Set(ctx, model.MuteKey(ip), "", ttl)
}

func (s *Store) Unmute(ctx context.Context, ip string) error {
	return s.cache.Del(ctx, model.MuteKey(ip))
}

func (s *Store) IsMuted(ctx context.Context, ip string) (bool, error) {
	return s.cache.Exists(ctx, model.MuteKey(ip))
}

// Ban bans an account. liftTime is a unix time, <= 0 for permanent.
func (s *Store) Ban(ctx context.Context, accountID int64, reason string, liftTime int64) error {
	txn := cache.NewTxn().KeyExists(model.AccountKey(accountID))
	txn.HSet(model.AccountKey(accountID), "banned", "1")
	txn.HSet(model.AccountKey(accountID), "notes", reason)
	txn.HSet(model.AccountKey(accountID), "banLiftTime", strconv.FormatInt(liftTime, 10))
	if err := s.cache.Exec(ctx, txn); err != nil {
		if errors.Is(err, cache.ErrConditionFailed) {
			return ErrAccountNotFound
		}
		return err
	}
	return nil
}

// UnBan lifts a ban; it reports whether the account was banned.
func (s *Store) UnBan(ctx context.Context, accountID int64) (bool, error) {
	txn := cache.NewTxn().HashEqual(model.AccountKey(accountID), "banned", "1")
	txn.HSet(model.AccountKey(accountID), "banned", "0")
	err := s.cache.Exec(ctx, txn)
	if errors.Is(err, cache.ErrConditionFailed) {
		return false, nil
	}
	return err == nil, err
}
