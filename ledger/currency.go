package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/kasuganosora/realmcore/audit"
	"github.com/kasuganosora/realmcore/cache"
	"github.com/kasuganosora/realmcore/model"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// CurrencyKind selects the balance an update applies to.
type CurrencyKind int

const (
	Gold CurrencyKind = iota
	Fame
	GuildFame
)

func (k CurrencyKind) String() string {
	switch k {
	case Gold:
		return "gold"
	case Fame:
		return "fame"
	case GuildFame:
		return "guildFame"
	}
	return fmt.Sprintf("currency(%d)", int(k))
}

// fields returns the (lifetime total, current) hash fields of a kind.
func (k CurrencyKind) fields() (total, current string) {
	switch k {
	case Gold:
		return model.FieldTotalCredits, model.FieldCredits
	default:
		// Fame on accounts, fame on guilds.
		return model.FieldTotalFame, model.FieldFame
	}
}

// guardRetries bounds the read-check-write loop that keeps a plain
// (uncached) decrement from driving a balance negative.
const guardRetries = 3

// UpdateCurrency atomically adds amount to an account's balance of kind.
// Lifetime totals only grow. GuildFame is redirected to the account's guild
// and mirrored into the account's guildFame counter; it is a no-op (0, nil)
// for an account without a guild. It returns the new current balance.
func (l *Ledger) UpdateCurrency(ctx context.Context, accountID, amount int64, kind CurrencyKind) (int64, error) {
	accKey := model.AccountKey(accountID)
	key := accKey
	guildID := int64(0)
	if kind == GuildFame {
		v, err := l.cache.HGet(ctx, accKey, "guildId")
		if err != nil && !errors.Is(err, cache.ErrNotFound) {
			return 0, err
		}
		guildID = cast.ToInt64(v)
		if guildID <= 0 {
			return 0, nil
		}
		key = model.GuildKey(guildID)
	}
	totalField, field := kind.fields()

	for i := 0; i < guardRetries; i++ {
		txn := cache.NewTxn()
		if amount < 0 {
			cur, err := l.readInt(ctx, key, field)
			if err != nil {
				return 0, err
			}
			if cur+amount < 0 {
				return cur, ErrInsufficientFunds
			}
			txn.HashIntEqual(key, field, cur)
		}
		if kind == GuildFame {
			txn.HashIntEqual(accKey, "guildId", guildID)
		}
		if amount > 0 {
			txn.HIncrBy(key, totalField, amount)
		}
		res := txn.HIncrBy(key, field, amount)
		if kind == GuildFame {
			txn.HIncrBy(accKey, model.FieldGuildFame, amount)
		}
		err := l.cache.Exec(ctx, txn)
		if err == nil {
			return res.Val(), nil
		}
		if !errors.Is(err, cache.ErrConditionFailed) {
			return 0, err
		}
	}
	return 0, ErrConflict
}

func (l *Ledger) readInt(ctx context.Context, key, field string) (int64, error) {
	v, err := l.cache.HGet(ctx, key, field)
	if errors.Is(err, cache.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cast.ToInt64E(v)
}

// UpdateFame is UpdateCurrency(.., Fame).
func (l *Ledger) UpdateFame(ctx context.Context, accountID, amount int64) (int64, error) {
	return l.UpdateCurrency(ctx, accountID, amount, Fame)
}

// UpdateCredit is UpdateCurrency(.., Gold).
func (l *Ledger) UpdateCredit(ctx context.Context, accountID, amount int64) (int64, error) {
	return l.UpdateCurrency(ctx, accountID, amount, Gold)
}

// UpdateGuildFame is UpdateCurrency(.., GuildFame).
func (l *Ledger) UpdateGuildFame(ctx context.Context, accountID, amount int64) (int64, error) {
	return l.UpdateCurrency(ctx, accountID, amount, GuildFame)
}

// cached returns the in-memory balance a kind is guarded on.
func cached(acc *model.Account, kind CurrencyKind) (field string, value int64) {
	switch kind {
	case Gold:
		return model.FieldCredits, acc.Credits
	case Fame:
		return model.FieldFame, acc.Fame
	default:
		return model.FieldGuildFame, acc.GuildFame
	}
}

// UpdateAccountCurrency is the optimistic variant: the increment is
// conditioned on the store still holding acc's cached balance, so a stale
// object can never clobber a concurrent change. On mismatch nothing is
// written and the configured RetryPolicy applies; with no retries left it
// returns ErrConflict. acc's balances are refreshed only on success.
func (l *Ledger) UpdateAccountCurrency(ctx context.Context, acc *model.Account, amount int64, kind CurrencyKind) error {
	for attempt := 0; ; attempt++ {
		err := l.tryAccountCurrency(ctx, acc, amount, kind)
		if !errors.Is(err, cache.ErrConditionFailed) {
			return err
		}
		field, value := cached(acc, kind)
		l.logger.Info("currency update lost compare-and-swap",
			zap.Int64("account_id", acc.ID),
			zap.String("field", field),
			zap.Int64("cached", value),
			zap.Int("attempt", attempt))
		if attempt >= l.policy.Retries {
			l.audit.Log(audit.Entry{
				AccountID: audit.ID(acc.ID),
				Actor:     acc.Name,
				Action:    audit.ActionLedgerConflict,
				Detail:    map[string]interface{}{"kind": kind.String(), "amount": amount, "cached": value},
				Error:     ErrConflict.Error(),
			})
			return ErrConflict
		}
		if err := l.store.ReloadAccount(ctx, acc); err != nil {
			return err
		}
	}
}

func (l *Ledger) tryAccountCurrency(ctx context.Context, acc *model.Account, amount int64, kind CurrencyKind) error {
	key := acc.Key()
	guardField, cachedValue := cached(acc, kind)
	if kind != GuildFame && cachedValue+amount < 0 {
		return ErrInsufficientFunds
	}

	txn := cache.NewTxn().HashIntEqual(key, guardField, cachedValue)
	if kind == GuildFame {
		if acc.GuildID <= 0 {
			return nil
		}
		txn.HashIntEqual(key, "guildId", acc.GuildID)
		totalField, field := kind.fields()
		gkey := model.GuildKey(acc.GuildID)
		if amount > 0 {
			txn.HIncrBy(gkey, totalField, amount)
		}
		txn.HIncrBy(gkey, field, amount)
		mirror := txn.HIncrBy(key, model.FieldGuildFame, amount)
		if err := l.cache.Exec(ctx, txn); err != nil {
			return err
		}
		acc.GuildFame = mirror.Val()
		return nil
	}

	totalField, field := kind.fields()
	var total *cache.IntResult
	if amount > 0 {
		total = txn.HIncrBy(key, totalField, amount)
	}
	cur := txn.HIncrBy(key, field, amount)
	if err := l.cache.Exec(ctx, txn); err != nil {
		return err
	}
	switch kind {
	case Gold:
		acc.Credits = cur.Val()
		if total != nil {
			acc.TotalCredits = total.Val()
		}
	case Fame:
		acc.Fame = cur.Val()
		if total != nil {
			acc.TotalFame = total.Val()
		}
	}
	return nil
}
