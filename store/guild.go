package store

import (
	"context"
	"errors"
	"strings"

	"github.com/kasuganosora/realmcore/cache"
	"github.com/kasuganosora/realmcore/model"
	"github.com/spf13/cast"
)

// GetGuild loads a guild.
func (s *Store) GetGuild(ctx context.Context, id int64) (*model.Guild, error) {
	if id <= 0 {
		return nil, ErrGuildNotFound
	}
	h, err := s.cache.HGetAll(ctx, model.GuildKey(id))
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, ErrGuildNotFound
	}
	g := &model.Guild{ID: id}
	g.Decode(h)
	return g, nil
}

// FlushGuild writes name, level and board. Members and fame are owned by
// the ledger.
func (s *Store) FlushGuild(ctx context.Context, g *model.Guild) error {
	txn := cache.NewTxn().KeyExists(g.Key())
	hsetAll(txn, g.Key(), g.Fields())
	err := s.cache.Exec(ctx, txn)
	if errors.Is(err, cache.ErrConditionFailed) {
		return ErrGuildNotFound
	}
	return err
}

// ResolveGuildID returns the id of the guild called name, 0 if none.
func (s *Store) ResolveGuildID(ctx context.Context, name string) (int64, error) {
	v, err := s.cache.HGet(ctx, model.GuildsKey, strings.ToUpper(strings.TrimSpace(name)))
	if errors.Is(err, cache.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cast.ToInt64(v), nil
}
