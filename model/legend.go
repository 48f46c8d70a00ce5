package model

import (
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Leaderboard spans and their retention.
var LegendSpans = map[string]time.Duration{
	"week":  7 * 24 * time.Hour,
	"month": 30 * 24 * time.Hour,
	"all":   0,
}

// LegendsUpdateKey holds the unix time of the last leaderboard change. It is
// the version stamp readers use to invalidate cached boards.
const LegendsUpdateKey = "legends:updateTime"

// LegendsKey is the fame-ordered zset of a span.
func LegendsKey(span string) string { return "legends:" + span }

// LegendsTimeoutKey is the expiry-ordered zset of a span.
func LegendsTimeoutKey(span string) string { return "legends:" + span + ":timeout" }

// LegendEntry is one leaderboard row.
type LegendEntry struct {
	AccountID int64
	CharID    int64
	Fame      int64
}

// Member returns the zset member encoding "<acc>.<char>".
func (e LegendEntry) Member() string { return itoa(e.AccountID) + "." + itoa(e.CharID) }

// ParseLegendMember decodes a zset member.
func ParseLegendMember(m string, score float64) (LegendEntry, bool) {
	acc, chr, ok := strings.Cut(m, ".")
	if !ok {
		return LegendEntry{}, false
	}
	return LegendEntry{
		AccountID: cast.ToInt64(acc),
		CharID:    cast.ToInt64(chr),
		Fame:      int64(score),
	}, true
}

// LoginInfo is one value of the logins hash.
type LoginInfo struct {
	AccountID      int64  `json:"accountId"`
	HashedPassword string `json:"hashedPassword"`
}

// EncodeLogin returns the stored form of a login entry.
func EncodeLogin(l LoginInfo) string { return toJSON(l) }

// DecodeLogin parses a stored login entry.
func DecodeLogin(v string) LoginInfo { return fromJSON[LoginInfo](v) }
