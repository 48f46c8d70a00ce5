package ledger

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/kasuganosora/realmcore/audit"
	"github.com/kasuganosora/realmcore/cache"
	"github.com/kasuganosora/realmcore/model"
	"github.com/kasuganosora/realmcore/store"
	"go.uber.org/zap"
)

var (
	spaceRun  = regexp.MustCompile(`\s+`)
	guildName = regexp.MustCompile(`^[A-Za-z ]{1,20}$`)
)

// NormalizeGuildName collapses whitespace runs and trims the ends.
func NormalizeGuildName(name string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(name, " "))
}

// CreateGuild registers a new, empty guild. Names are unique
// case-insensitively.
func (l *Ledger) CreateGuild(ctx context.Context, name string) (*model.Guild, error) {
	name = NormalizeGuildName(name)
	if !guildName.MatchString(name) {
		return nil, ErrInvalidName
	}
	upper := strings.ToUpper(name)
	if taken, err := l.cache.HGet(ctx, model.GuildsKey, upper); err == nil && taken != "" {
		return nil, ErrUsedName
	}

	id, err := l.cache.Incr(ctx, model.NextGuildIDKey)
	if err != nil {
		return nil, err
	}
	g := &model.Guild{ID: id, Name: name, Level: 1}

	txn := cache.NewTxn().HashNotExists(model.GuildsKey, upper)
	txn.HSet(model.GuildsKey, upper, strconv.FormatInt(id, 10))
	for f, v := range g.Fields() {
		txn.HSet(g.Key(), f, v)
	}
	txn.HSet(g.Key(), "members", model.EncodeIDs(nil))
	txn.HSet(g.Key(), model.FieldFame, "0")
	txn.HSet(g.Key(), model.FieldTotalFame, "0")
	if err := l.cache.Exec(ctx, txn); err != nil {
		if errors.Is(err, cache.ErrConditionFailed) {
			return nil, ErrUsedName
		}
		return nil, err
	}
	l.audit.Log(audit.Entry{Action: audit.ActionGuildCreate, Actor: name, Detail: map[string]int64{"guild_id": id}})
	return g, nil
}

// FoundGuild creates a guild with acc as its founder. If acc cannot join,
// the new guild is removed again.
func (l *Ledger) FoundGuild(ctx context.Context, name string, acc *model.Account) (*model.Guild, error) {
	if acc.GuildID > 0 {
		return nil, ErrInAnotherGuild
	}
	g, err := l.CreateGuild(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := l.AddGuildMember(ctx, g, acc, true); err != nil {
		txn := cache.NewTxn().HashEqual(g.Key(), "members", model.EncodeIDs(nil))
		txn.HDel(model.GuildsKey, strings.ToUpper(g.Name))
		txn.Del(g.Key())
		if derr := l.cache.Exec(ctx, txn); derr != nil {
			l.logger.Warn("abandoned guild not removed", zap.Int64("guild_id", g.ID), zap.Error(derr))
		}
		return nil, err
	}
	return g, nil
}

// AddGuildMember adds acc to guild. Capacity by level (50/60/75) is checked
// against the stored member list inside the guild's critical section, and
// the write is conditioned on that list being unchanged.
func (l *Ledger) AddGuildMember(ctx context.Context, guild *model.Guild, acc *model.Account, founder bool) error {
	if acc == nil || guild == nil {
		return ErrNotInGuild
	}
	if acc.GuildID == guild.ID {
		return ErrAlreadyInGuild
	}
	if acc.GuildID > 0 {
		return ErrInAnotherGuild
	}

	mu := l.guildLock(guild.ID)
	mu.Lock()
	defer mu.Unlock()

	h, err := l.cache.HGetAll(ctx, guild.Key())
	if err != nil {
		return err
	}
	if len(h) == 0 {
		return ErrNotInGuild
	}
	fresh := &model.Guild{ID: guild.ID}
	fresh.Decode(h)

	if len(fresh.Members) >= model.GuildCapacity(fresh.Level) {
		return ErrGuildFull
	}
	if fresh.HasMember(acc.ID) {
		return ErrIsAMember
	}

	rank := model.GuildRankInitiate
	if founder {
		rank = model.GuildRankFounder
	}
	members := model.AddID(fresh.Members, acc.ID)

	txn := cache.NewTxn().
		HashEqual(guild.Key(), "members", h["members"]).
		HashIntEqual(acc.Key(), "guildId", 0)
	txn.HSet(guild.Key(), "members", model.EncodeIDs(members))
	txn.HSet(acc.Key(), "guildId", strconv.FormatInt(guild.ID, 10))
	txn.HSet(acc.Key(), "guildRank", strconv.Itoa(rank))
	if err := l.cache.Exec(ctx, txn); err != nil {
		if errors.Is(err, cache.ErrConditionFailed) {
			return ErrConflict
		}
		return err
	}

	guild.Members = members
	guild.Level = fresh.Level
	acc.GuildID = guild.ID
	acc.GuildRank = rank
	l.audit.Log(audit.Entry{
		AccountID: audit.ID(acc.ID),
		Actor:     acc.Name,
		Action:    audit.ActionGuildJoin,
		Detail:    map[string]interface{}{"guild_id": guild.ID, "rank": rank},
	})
	return nil
}

// RemoveFromGuild takes acc out of its guild. When the last member leaves
// the name index entry is deleted. It reports false if acc had no guild.
func (l *Ledger) RemoveFromGuild(ctx context.Context, acc *model.Account) (bool, error) {
	if acc.GuildID <= 0 {
		return false, nil
	}
	guild, err := l.store.GetGuild(ctx, acc.GuildID)
	if errors.Is(err, store.ErrGuildNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	mu := l.guildLock(guild.ID)
	mu.Lock()
	defer mu.Unlock()

	raw, err := l.cache.HGet(ctx, guild.Key(), "members")
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		return false, err
	}
	members := model.RemoveID(model.DecodeIDs(raw), acc.ID)

	txn := cache.NewTxn().HashEqual(guild.Key(), "members", raw)
	txn.HSet(guild.Key(), "members", model.EncodeIDs(members))
	if len(members) == 0 {
		txn.HDel(model.GuildsKey, strings.ToUpper(guild.Name))
	}
	txn.HSet(acc.Key(), "guildId", "0")
	txn.HSet(acc.Key(), "guildRank", "0")
	txn.HSet(acc.Key(), model.FieldGuildFame, "0")
	if err := l.cache.Exec(ctx, txn); err != nil {
		if errors.Is(err, cache.ErrConditionFailed) {
			return false, ErrConflict
		}
		return false, err
	}

	if len(members) == 0 {
		l.logger.Info("guild disbanded", zap.Int64("guild_id", guild.ID), zap.String("guild", guild.Name))
	}
	l.audit.Log(audit.Entry{
		AccountID: audit.ID(acc.ID),
		Actor:     acc.Name,
		Action:    audit.ActionGuildLeave,
		Detail:    map[string]interface{}{"guild_id": guild.ID, "remaining": len(members)},
	})
	acc.GuildID = 0
	acc.GuildRank = 0
	acc.GuildFame = 0
	return true, nil
}

// ChangeGuildRank sets acc's rank within its current guild.
func (l *Ledger) ChangeGuildRank(ctx context.Context, acc *model.Account, rank int) error {
	if acc.GuildID <= 0 {
		return ErrNotInGuild
	}
	if !model.ValidGuildRank(rank) {
		return ErrInvalidRank
	}
	txn := cache.NewTxn().HashIntEqual(acc.Key(), "guildId", acc.GuildID)
	txn.HSet(acc.Key(), "guildRank", strconv.Itoa(rank))
	if err := l.cache.Exec(ctx, txn); err != nil {
		if errors.Is(err, cache.ErrConditionFailed) {
			return ErrConflict
		}
		return err
	}
	acc.GuildRank = rank
	return nil
}

// ChangeGuildLevel sets the guild level (1 to 3).
func (l *Ledger) ChangeGuildLevel(ctx context.Context, guild *model.Guild, level int) error {
	if level < 1 || level > 3 {
		return ErrInvalidLevel
	}
	prev := guild.Level
	guild.Level = level
	if err := l.store.FlushGuild(ctx, guild); err != nil {
		guild.Level = prev
		return err
	}
	return nil
}

// SetGuildBoard replaces the guild message board.
func (l *Ledger) SetGuildBoard(ctx context.Context, guild *model.Guild, text string) error {
	prev := guild.Board
	guild.Board = text
	if err := l.store.FlushGuild(ctx, guild); err != nil {
		guild.Board = prev
		return err
	}
	return nil
}
