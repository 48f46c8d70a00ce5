package model

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/spf13/cast"
)

// Record store keys. Account, character and guild state is addressed as
// <kind>.<id>; leases as lock:<id>.
func AccountKey(id int64) string { return "account." + itoa(id) }
func GuildKey(id int64) string { return "guild." + itoa(id) }
func AliveKey(accID int64) string { return "alive." + itoa(accID) }
func DeadKey(accID int64) string { return "dead." + itoa(accID) }
func VaultKey(accID int64) string { return "vault." + itoa(accID) }
func ClassStatsKey(accID int64) string {
	return "classStats." + itoa(accID)
}
func CharKey(accID, charID int64) string {
	return "char." + itoa(accID) + "." + itoa(charID)
}
func DeathKey(accID, charID int64) string {
	return "death." + itoa(accID) + "." + itoa(charID)
}

// Global keys.
const (
	NamesKey       = "names"  // UPPER(name) -> account id
	LoginsKey      = "logins" // UPPER(uuid) -> login JSON
	GuildsKey      = "guilds" // UPPER(guild name) -> guild id
	NextAccIDKey   = "nextAccId"
	NextGuildIDKey = "nextGuildId"
)

func MuteKey(ip string) string { return "mutes:" + ip }

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func btoa(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func unix(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return itoa(t.Unix())
}

func fromUnix(v string) time.Time {
	n := cast.ToInt64(v)
	if n <= 0 {
		return time.Time{}
	}
	return time.Unix(n, 0)
}

func toJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func fromJSON[T any](v string) T {
	var out T
	if v == "" {
		return out
	}
	_ = json.Unmarshal([]byte(v), &out)
	return out
}

// EncodeIDs returns the JSON form of an id list; it is the exact string that
// compare-and-swap conditions on list fields test against.
func EncodeIDs(ids []int64) string {
	if ids == nil {
		ids = []int64{}
	}
	return toJSON(ids)
}

// DecodeIDs parses an id list field.
func DecodeIDs(v string) []int64 { return fromJSON[[]int64](v) }

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// AddID appends id if absent.
func AddID(ids []int64, id int64) []int64 {
	if containsID(ids, id) {
		return ids
	}
	return append(append([]int64(nil), ids...), id)
}

// RemoveID returns ids without id.
func RemoveID(ids []int64, id int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
