package store

import (
	"context"
	"errors"
	"strconv"

	"github.com/kasuganosora/realmcore/cache"
	"github.com/kasuganosora/realmcore/model"
	"github.com/spf13/cast"
)

// GetCharacter loads a character of an account.
func (s *Store) GetCharacter(ctx context.Context, accountID, charID int64) (*model.Character, error) {
	h, err := s.cache.HGetAll(ctx, model.CharKey(accountID, charID))
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, ErrCharacterNotFound
	}
	c := &model.Character{AccountID: accountID, ID: charID}
	c.Decode(h)
	return c, nil
}

// SaveCharacter writes the whole character. While acc holds a lease the
// write is conditioned on it and fails with lease.ErrNotHeld once lost.
func (s *Store) SaveCharacter(ctx context.Context, acc *model.Account, c *model.Character) error {
	txn := leased(cache.NewTxn(), acc)
	hsetAll(txn, c.Key(), c.Fields())
	return s.exec(ctx, txn, acc)
}

// AliveCharacters returns the ids of the living characters of an account.
func (s *Store) AliveCharacters(ctx context.Context, accountID int64) ([]int64, error) {
	members, err := s.cache.SMembers(ctx, model.AliveKey(accountID))
	if err != nil {
		return nil, err
	}
	return toIDs(members), nil
}

// DeadCharacters returns the dead character ids, most recent first.
func (s *Store) DeadCharacters(ctx context.Context, accountID int64) ([]int64, error) {
	members, err := s.cache.LRange(ctx, model.DeadKey(accountID), 0, -1)
	if err != nil {
		return nil, err
	}
	return toIDs(members), nil
}

// IsAlive reports whether the character is in the account's alive set.
func (s *Store) IsAlive(ctx context.Context, accountID, charID int64) (bool, error) {
	return s.cache.SIsMember(ctx, model.AliveKey(accountID), strconv.FormatInt(charID, 10))
}

// GetDeath loads a death record.
func (s *Store) GetDeath(ctx context.Context, accountID, charID int64) (*model.Death, error) {
	h, err := s.cache.HGetAll(ctx, model.DeathKey(accountID, charID))
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, ErrCharacterNotFound
	}
	d := &model.Death{AccountID: accountID, CharID: charID}
	d.Decode(h)
	return d, nil
}

// GetClassStats loads the per-class records of an account.
func (s *Store) GetClassStats(ctx context.Context, accountID int64) (*model.ClassStats, error) {
	h, err := s.cache.HGetAll(ctx, model.ClassStatsKey(accountID))
	if err != nil {
		return nil, err
	}
	cs := &model.ClassStats{AccountID: accountID}
	cs.Decode(h)
	return cs, nil
}

func (s *Store) SaveClassStats(ctx context.Context, cs *model.ClassStats) error {
	fields := cs.Fields()
	if len(fields) == 0 {
		return nil
	}
	return s.cache.HMSet(ctx, cs.Key(), fields)
}

// ---- Vault ----

// GetVaultChest loads one vault chest. A never-written chest is empty.
func (s *Store) GetVaultChest(ctx context.Context, accountID int64, index int) (*model.VaultChest, error) {
	v, err := s.cache.HGet(ctx, model.VaultKey(accountID), strconv.Itoa(index))
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		return nil, err
	}
	return model.DecodeVaultChest(accountID, index, v), nil
}

// SaveVaultChest persists a chest's item types.
func (s *Store) SaveVaultChest(ctx context.Context, chest *model.VaultChest) error {
	return s.cache.HSet(ctx, model.VaultKey(chest.AccountID), chest.Field(), chest.Encode())
}

func toIDs(members []string) []int64 {
	out := make([]int64, 0, len(members))
	for _, m := range members {
		out = append(out, cast.ToInt64(m))
	}
	return out
}
