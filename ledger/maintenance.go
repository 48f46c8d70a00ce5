package ledger

import (
	"context"
	"errors"
	"strconv"

	"github.com/kasuganosora/realmcore/cache"
	"github.com/kasuganosora/realmcore/model"
	"go.uber.org/zap"
)

// ResetFame zeroes the fame of every account and living character, clears
// all class stats and empties the leaderboards. Guild fame is untouched.
func (l *Ledger) ResetFame(ctx context.Context) error {
	v, err := l.cache.Get(ctx, model.NextAccIDKey)
	if errors.Is(err, cache.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	last, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return err
	}

	for id := int64(1); id <= last; id++ {
		fame, err := l.readInt(ctx, model.AccountKey(id), model.FieldFame)
		if err != nil {
			return err
		}
		if fame != 0 {
			if _, err := l.UpdateFame(ctx, id, -fame); err != nil {
				l.logger.Warn("reset fame failed", zap.Int64("account_id", id), zap.Error(err))
			}
		}
		alive, err := l.store.AliveCharacters(ctx, id)
		if err != nil {
			return err
		}
		for _, charID := range alive {
			key := model.CharKey(id, charID)
			if err := l.cache.HMSet(ctx, key, map[string]string{"fame": "0", "exp": "0"}); err != nil {
				return err
			}
		}
	}

	stale, err := l.cache.Keys(ctx, "classStats.*")
	if err != nil {
		return err
	}
	boards, err := l.cache.Keys(ctx, "legends:*")
	if err != nil {
		return err
	}
	stale = append(stale, boards...)
	if len(stale) > 0 {
		if err := l.cache.Del(ctx, stale...); err != nil {
			return err
		}
	}

	// New stamp so every process drops its cached boards.
	txn := cache.NewTxn()
	if l.board != nil {
		l.board.bump(txn)
		if err := l.cache.Exec(ctx, txn); err != nil {
			return err
		}
	}
	l.logger.Info("fame reset", zap.Int64("accounts", last))
	return nil
}
