package model

import (
	"time"

	"github.com/spf13/cast"
)

// Ledger counter fields. They only ever change through atomic increments and
// are never written by FlushAccount.
const (
	FieldFame         = "fame"
	FieldTotalFame    = "totalFame"
	FieldCredits      = "credits"
	FieldTotalCredits = "totalCredits"
	FieldGuildFame    = "guildFame"
	FieldNextCharID   = "nextCharId"
)

// Account is the persistent account record stored in hash account.<id>.
type Account struct {
	ID          int64
	UUID        string
	Name        string
	NameChosen  bool
	Admin       bool
	Rank        int
	Hidden      bool
	GuildID     int64
	GuildRank   int
	MaxCharSlot int
	VaultCount  int
	Skins       []uint16
	Emotes      []string
	LockList    []int64
	IgnoreList  []int64
	Banned      bool
	BanLiftTime int64
	Notes       string
	IP          string
	RegTime     time.Time
	LastSeen    time.Time

	// counters
	Fame         int64
	TotalFame    int64
	Credits      int64
	TotalCredits int64
	GuildFame    int64
	NextCharID   int64

	// LockToken is the value of lock:<id> while this process holds the
	// account lease. It is never persisted.
	LockToken string
}

// Key returns the account hash key.
func (a *Account) Key() string { return AccountKey(a.ID) }

// Fields returns the profile fields written by an explicit flush.
func (a *Account) Fields() map[string]string {
	return map[string]string{
		"uuid":        a.UUID,
		"name":        a.Name,
		"nameChosen":  btoa(a.NameChosen),
		"admin":       btoa(a.Admin),
		"rank":        itoa(int64(a.Rank)),
		"hidden":      btoa(a.Hidden),
		"guildId":     itoa(a.GuildID),
		"guildRank":   itoa(int64(a.GuildRank)),
		"maxCharSlot": itoa(int64(a.MaxCharSlot)),
		"vaultCount":  itoa(int64(a.VaultCount)),
		"skins":       toJSON(nonNil(a.Skins)),
		"emotes":      toJSON(nonNil(a.Emotes)),
		"lockList":    EncodeIDs(a.LockList),
		"ignoreList":  EncodeIDs(a.IgnoreList),
		"banned":      btoa(a.Banned),
		"banLiftTime": itoa(a.BanLiftTime),
		"notes":       a.Notes,
		"ip":          a.IP,
		"regTime":     unix(a.RegTime),
		"lastSeen":    unix(a.LastSeen),
	}
}

// Decode fills the account from a hash snapshot.
func (a *Account) Decode(h map[string]string) {
	a.UUID = h["uuid"]
	a.Name = h["name"]
	a.NameChosen = cast.ToBool(h["nameChosen"])
	a.Admin = cast.ToBool(h["admin"])
	a.Rank = cast.ToInt(h["rank"])
	a.Hidden = cast.ToBool(h["hidden"])
	a.GuildID = cast.ToInt64(h["guildId"])
	a.GuildRank = cast.ToInt(h["guildRank"])
	a.MaxCharSlot = cast.ToInt(h["maxCharSlot"])
	a.VaultCount = cast.ToInt(h["vaultCount"])
	a.Skins = fromJSON[[]uint16](h["skins"])
	a.Emotes = fromJSON[[]string](h["emotes"])
	a.LockList = DecodeIDs(h["lockList"])
	a.IgnoreList = DecodeIDs(h["ignoreList"])
	a.Banned = cast.ToBool(h["banned"])
	a.BanLiftTime = cast.ToInt64(h["banLiftTime"])
	a.Notes = h["notes"]
	a.IP = h["ip"]
	a.RegTime = fromUnix(h["regTime"])
	a.LastSeen = fromUnix(h["lastSeen"])

	a.Fame = cast.ToInt64(h[FieldFame])
	a.TotalFame = cast.ToInt64(h[FieldTotalFame])
	a.Credits = cast.ToInt64(h[FieldCredits])
	a.TotalCredits = cast.ToInt64(h[FieldTotalCredits])
	a.GuildFame = cast.ToInt64(h[FieldGuildFame])
	a.NextCharID = cast.ToInt64(h[FieldNextCharID])
}

// Ignores reports whether id is on this account's ignore list.
func (a *Account) Ignores(id int64) bool { return containsID(a.IgnoreList, id) }

// HasLocked reports whether id is on this account's lock (friends) list.
func (a *Account) HasLocked(id int64) bool { return containsID(a.LockList, id) }

// OwnsSkin reports whether the account has unlocked skin t.
func (a *Account) OwnsSkin(t uint16) bool {
	for _, s := range a.Skins {
		if s == t {
			return true
		}
	}
	return false
}

// IsBanned reports whether a ban is in effect at now.
func (a *Account) IsBanned(now time.Time) bool {
	if !a.Banned {
		return false
	}
	return a.BanLiftTime <= 0 || now.Unix() < a.BanLiftTime
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
