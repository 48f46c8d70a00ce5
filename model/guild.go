package model

import "github.com/spf13/cast"

// Guild ranks.
const (
	GuildRankInitiate = 0
	GuildRankMember   = 10
	GuildRankOfficer  = 20
	GuildRankLeader   = 30
	GuildRankFounder  = 40
)

// ValidGuildRank reports whether r is one of the defined ranks.
func ValidGuildRank(r int) bool {
	switch r {
	case GuildRankInitiate, GuildRankMember, GuildRankOfficer, GuildRankLeader, GuildRankFounder:
		return true
	}
	return false
}

// GuildRankName returns the display name of a rank.
func GuildRankName(r int) string {
	switch r {
	case GuildRankInitiate:
		return "Initiate"
	case GuildRankMember:
		return "Member"
	case GuildRankOfficer:
		return "Officer"
	case GuildRankLeader:
		return "Leader"
	case GuildRankFounder:
		return "Founder"
	}
	return "Unknown"
}

// GuildCapacity returns the member limit for a guild level.
func GuildCapacity(level int) int {
	switch level {
	case 2:
		return 60
	case 3:
		return 75
	}
	return 50
}

// Guild is the persistent guild record stored in hash guild.<id>.
type Guild struct {
	ID        int64
	Name      string
	Level     int
	Members   []int64
	Board     string
	Fame      int64
	TotalFame int64
}

// Key returns the guild hash key.
func (g *Guild) Key() string { return GuildKey(g.ID) }

// Fields returns the fields written by an explicit flush. The member list
// and the fame counters are excluded: members change only through guarded
// transactions, fame only through increments.
func (g *Guild) Fields() map[string]string {
	return map[string]string{
		"name":  g.Name,
		"level": itoa(int64(g.Level)),
		"board": g.Board,
	}
}

// Decode fills the guild from a hash snapshot.
func (g *Guild) Decode(h map[string]string) {
	g.Name = h["name"]
	g.Level = cast.ToInt(h["level"])
	g.Members = DecodeIDs(h["members"])
	g.Board = h["board"]
	g.Fame = cast.ToInt64(h["fame"])
	g.TotalFame = cast.ToInt64(h["totalFame"])
}

// HasMember reports whether accID is listed.
func (g *Guild) HasMember(accID int64) bool { return containsID(g.Members, accID) }
