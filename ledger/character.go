package ledger

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/kasuganosora/realmcore/audit"
	"github.com/kasuganosora/realmcore/cache"
	"github.com/kasuganosora/realmcore/lease"
	"github.com/kasuganosora/realmcore/model"
	"go.uber.org/zap"
)

// PlayerSlots is the inventory length of a character: 4 equipment slots,
// 8 backpack slots and 10 extra backpack slots.
const PlayerSlots = 22

// initInventory resizes the class starting equipment to PlayerSlots,
// filling the rest with empty slots.
func initInventory(given []uint16) []uint16 {
	inv := make([]uint16, PlayerSlots)
	for i := range inv {
		inv[i] = model.EmptyItem
	}
	copy(inv, given)
	return inv
}

// CreateCharacter creates a character of classType for acc under the
// account lease. The slot limit is checked before any id is allocated.
func (l *Ledger) CreateCharacter(ctx context.Context, acc *model.Account, classType, skinType uint16) (*model.Character, error) {
	cat := l.store.Catalog()
	cls, ok := cat.Class(classType)
	if !ok {
		return nil, ErrUnknownClass
	}

	var chr *model.Character
	err := l.withAccountLease(ctx, acc, func(ctx context.Context, token string) error {
		alive, err := l.cache.SCard(ctx, model.AliveKey(acc.ID))
		if err != nil {
			return err
		}
		if alive >= int64(acc.MaxCharSlot) {
			return ErrReachCharLimit
		}

		if skinType != 0 {
			skin, ok := cat.Skin(skinType)
			if !ok || !acc.OwnsSkin(skinType) || skin.PlayerClassType != classType {
				return ErrSkinUnavailable
			}
		}

		stats, err := l.store.GetClassStats(ctx, acc.ID)
		if err != nil {
			return err
		}
		if !stats.Unlocked(classType) {
			if cls.Restricted {
				return ErrClassLocked
			}
			if u := cls.Unlock; u != nil && stats.Classes[u.Type].BestLevel < u.Level {
				return ErrClassLocked
			}
		}

		id, err := l.cache.HIncrBy(ctx, acc.Key(), model.FieldNextCharID, 1)
		if err != nil {
			return err
		}
		now := time.Now()
		st := cls.StartingStats()
		chr = &model.Character{
			AccountID:  acc.ID,
			ID:         id,
			ObjectType: classType,
			Level:      1,
			Stats:      st,
			HP:         st[0],
			MP:         st[1],
			Items:      initInventory(cls.Equipment),
			Skin:       skinType,
			CreateTime: now,
			LastSeen:   now,
		}

		txn := cache.NewTxn().StringEqual(lease.Key(acc.ID), token)
		for f, v := range chr.Fields() {
			txn.HSet(chr.Key(), f, v)
		}
		txn.SAdd(model.AliveKey(acc.ID), strconv.FormatInt(id, 10))
		if err := l.cache.Exec(ctx, txn); err != nil {
			if errors.Is(err, cache.ErrConditionFailed) {
				return lease.ErrNotHeld
			}
			return err
		}
		acc.NextCharID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("character created",
		zap.Int64("account_id", acc.ID), zap.Int64("char_id", chr.ID), zap.Uint16("class", classType))
	return chr, nil
}

// Death records the death of chr: the character is marked dead with its
// final fame, a death record is written, the id moves from the alive set to
// the dead list and the fame is credited to the account and its guild, all
// in one transaction (conditioned on the lease when acc holds one).
// Non-admin deaths are inserted into the leaderboard afterwards.
func (l *Ledger) Death(ctx context.Context, acc *model.Account, chr *model.Character, killer string) (*model.Death, error) {
	finalFame := chr.Fame
	if finalFame < 0 {
		finalFame = 0
	}
	now := time.Now()

	stats, err := l.store.GetClassStats(ctx, acc.ID)
	if err != nil {
		return nil, err
	}
	firstBorn := stats.Update(chr.ObjectType, chr.Level, finalFame)

	death := &model.Death{
		AccountID:  acc.ID,
		CharID:     chr.ID,
		ObjectType: chr.ObjectType,
		Level:      chr.Level,
		TotalFame:  finalFame,
		Killer:     killer,
		FirstBorn:  firstBorn,
		DeathTime:  now,
	}

	dead := *chr
	dead.Dead = true
	dead.FinalFame = finalFame
	dead.LastSeen = now

	idStr := strconv.FormatInt(chr.ID, 10)
	txn := cache.NewTxn()
	if acc.LockToken != "" {
		txn.StringEqual(lease.Key(acc.ID), acc.LockToken)
	}
	for f, v := range dead.Fields() {
		txn.HSet(dead.Key(), f, v)
	}
	for f, v := range death.Fields() {
		txn.HSet(death.Key(), f, v)
	}
	for f, v := range stats.Fields() {
		txn.HSet(stats.Key(), f, v)
	}
	txn.SRem(model.AliveKey(acc.ID), idStr)
	txn.LPush(model.DeadKey(acc.ID), idStr)

	var fame, totalFame, guildFame *cache.IntResult
	if finalFame > 0 {
		totalFame = txn.HIncrBy(acc.Key(), model.FieldTotalFame, finalFame)
		fame = txn.HIncrBy(acc.Key(), model.FieldFame, finalFame)
		if acc.GuildID > 0 {
			gkey := model.GuildKey(acc.GuildID)
			txn.HIncrBy(gkey, model.FieldTotalFame, finalFame)
			txn.HIncrBy(gkey, model.FieldFame, finalFame)
			guildFame = txn.HIncrBy(acc.Key(), model.FieldGuildFame, finalFame)
		}
	}

	if err := l.cache.Exec(ctx, txn); err != nil {
		if errors.Is(err, cache.ErrConditionFailed) {
			return nil, lease.ErrNotHeld
		}
		return nil, err
	}

	*chr = dead
	if fame != nil {
		acc.Fame = fame.Val()
		acc.TotalFame = totalFame.Val()
	}
	if guildFame != nil {
		acc.GuildFame = guildFame.Val()
	}

	if !acc.Admin && l.board != nil {
		entry := model.LegendEntry{AccountID: acc.ID, CharID: chr.ID, Fame: finalFame}
		if err := l.board.Insert(ctx, entry); err != nil {
			l.logger.Warn("legends insert failed", zap.Int64("account_id", acc.ID), zap.Error(err))
		}
	}
	l.audit.Log(audit.Entry{
		AccountID: audit.ID(acc.ID),
		Actor:     acc.Name,
		Action:    audit.ActionDeath,
		Detail: map[string]interface{}{
			"char_id": chr.ID, "class": chr.ObjectType, "fame": finalFame, "killer": killer,
		},
	})
	return death, nil
}

// KillCharacters records the death of every living character of acc under
// the account lease and returns the death records in order. It fails with
// lease.ErrLocked while the account is playing elsewhere.
func (l *Ledger) KillCharacters(ctx context.Context, acc *model.Account, killer string) ([]*model.Death, error) {
	var deaths []*model.Death
	err := l.withAccountLease(ctx, acc, func(ctx context.Context, token string) error {
		held := *acc
		held.LockToken = token
		ids, err := l.store.AliveCharacters(ctx, acc.ID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			chr, err := l.store.GetCharacter(ctx, acc.ID, id)
			if err != nil {
				return err
			}
			d, err := l.Death(ctx, &held, chr, killer)
			if err != nil {
				return err
			}
			deaths = append(deaths, d)
		}
		acc.Fame, acc.TotalFame, acc.GuildFame = held.Fame, held.TotalFame, held.GuildFame
		return nil
	})
	return deaths, err
}

// DeleteCharacter removes a character and its alive/dead index entries.
func (l *Ledger) DeleteCharacter(ctx context.Context, acc *model.Account, charID int64) error {
	return l.withAccountLease(ctx, acc, func(ctx context.Context, token string) error {
		idStr := strconv.FormatInt(charID, 10)
		txn := cache.NewTxn().StringEqual(lease.Key(acc.ID), token)
		txn.Del(model.CharKey(acc.ID, charID))
		txn.SRem(model.AliveKey(acc.ID), idStr)
		if err := l.cache.Exec(ctx, txn); err != nil {
			if errors.Is(err, cache.ErrConditionFailed) {
				return lease.ErrNotHeld
			}
			return err
		}
		return nil
	})
}
