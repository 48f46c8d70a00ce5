package model

import (
	"strconv"
	"time"

	"github.com/spf13/cast"
)

// StatNames lists the 13 character stats in storage order.
var StatNames = [13]string{
	"Health", "Mana", "Strength", "Wit", "Defense", "Resistance", "Speed",
	"Stamina", "Intelligence", "Penetration", "Piercing", "Haste", "Tenacity",
}

// NumStats is the length of a character stat block.
const NumStats = len(StatNames)

// EmptyItem marks an empty inventory slot in persisted item arrays.
const EmptyItem uint16 = 0xFFFF

// Character is a persistent character record stored in hash char.<acc>.<char>.
type Character struct {
	AccountID  int64
	ID         int64
	ObjectType uint16
	Level      int
	Exp        int64
	Fame       int64
	FinalFame  int64
	Stats      [NumStats]int
	HP         int
	MP         int
	Items      []uint16
	Skin       uint16
	Tex1       int
	Tex2       int
	Dead       bool
	CreateTime time.Time
	LastSeen   time.Time
}

// Key returns the character hash key.
func (c *Character) Key() string { return CharKey(c.AccountID, c.ID) }

// Fields encodes the whole record.
func (c *Character) Fields() map[string]string {
	return map[string]string{
		"charType":   strconv.Itoa(int(c.ObjectType)),
		"level":      itoa(int64(c.Level)),
		"exp":        itoa(c.Exp),
		"fame":       itoa(c.Fame),
		"finalFame":  itoa(c.FinalFame),
		"stats":      toJSON(c.Stats),
		"hp":         itoa(int64(c.HP)),
		"mp":         itoa(int64(c.MP)),
		"items":      toJSON(nonNil(c.Items)),
		"skin":       strconv.Itoa(int(c.Skin)),
		"tex1":       itoa(int64(c.Tex1)),
		"tex2":       itoa(int64(c.Tex2)),
		"dead":       btoa(c.Dead),
		"createTime": unix(c.CreateTime),
		"lastSeen":   unix(c.LastSeen),
	}
}

// Decode fills the character from a hash snapshot.
func (c *Character) Decode(h map[string]string) {
	c.ObjectType = cast.ToUint16(h["charType"])
	c.Level = cast.ToInt(h["level"])
	c.Exp = cast.ToInt64(h["exp"])
	c.Fame = cast.ToInt64(h["fame"])
	c.FinalFame = cast.ToInt64(h["finalFame"])
	c.Stats = fromJSON[[NumStats]int](h["stats"])
	c.HP = cast.ToInt(h["hp"])
	c.MP = cast.ToInt(h["mp"])
	c.Items = fromJSON[[]uint16](h["items"])
	c.Skin = cast.ToUint16(h["skin"])
	c.Tex1 = cast.ToInt(h["tex1"])
	c.Tex2 = cast.ToInt(h["tex2"])
	c.Dead = cast.ToBool(h["dead"])
	c.CreateTime = fromUnix(h["createTime"])
	c.LastSeen = fromUnix(h["lastSeen"])
}

// Stat returns a stat by name, or 0 for an unknown name.
func (c *Character) Stat(name string) int {
	for i, n := range StatNames {
		if n == name {
			return c.Stats[i]
		}
	}
	return 0
}

// Death is the record written when a character dies, at death.<acc>.<char>.
type Death struct {
	AccountID  int64
	CharID     int64
	ObjectType uint16
	Level      int
	TotalFame  int64
	Killer     string
	FirstBorn  bool
	DeathTime  time.Time
}

func (d *Death) Key() string { return DeathKey(d.AccountID, d.CharID) }

func (d *Death) Fields() map[string]string {
	return map[string]string{
		"objType":   strconv.Itoa(int(d.ObjectType)),
		"level":     itoa(int64(d.Level)),
		"totalFame": itoa(d.TotalFame),
		"killer":    d.Killer,
		"firstBorn": btoa(d.FirstBorn),
		"deathTime": unix(d.DeathTime),
	}
}

func (d *Death) Decode(h map[string]string) {
	d.ObjectType = cast.ToUint16(h["objType"])
	d.Level = cast.ToInt(h["level"])
	d.TotalFame = cast.ToInt64(h["totalFame"])
	d.Killer = h["killer"]
	d.FirstBorn = cast.ToBool(h["firstBorn"])
	d.DeathTime = fromUnix(h["deathTime"])
}

// ClassStat is the per-class best result of an account.
type ClassStat struct {
	BestLevel int   `json:"bestLevel"`
	BestFame  int64 `json:"bestFame"`
}

// ClassStats is the hash classStats.<acc>: one JSON-encoded ClassStat per
// class object type. Presence of a field means the class is unlocked.
type ClassStats struct {
	AccountID int64
	Classes   map[uint16]ClassStat
}

func (s *ClassStats) Key() string { return ClassStatsKey(s.AccountID) }

func (s *ClassStats) Fields() map[string]string {
	out := make(map[string]string, len(s.Classes))
	for t, cs := range s.Classes {
		out[strconv.Itoa(int(t))] = toJSON(cs)
	}
	return out
}

func (s *ClassStats) Decode(h map[string]string) {
	s.Classes = make(map[uint16]ClassStat, len(h))
	for k, v := range h {
		s.Classes[cast.ToUint16(k)] = fromJSON[ClassStat](v)
	}
}

// Unlock marks a class as available without touching its record.
func (s *ClassStats) Unlock(t uint16) {
	if s.Classes == nil {
		s.Classes = make(map[uint16]ClassStat)
	}
	if _, ok := s.Classes[t]; !ok {
		s.Classes[t] = ClassStat{}
	}
}

// Unlocked reports whether the class has an entry.
func (s *ClassStats) Unlocked(t uint16) bool {
	_, ok := s.Classes[t]
	return ok
}

// Update raises the best level and fame of a class and reports whether this
// was the first result recorded for it.
func (s *ClassStats) Update(t uint16, level int, fame int64) (first bool) {
	s.Unlock(t)
	cs := s.Classes[t]
	first = cs.BestLevel == 0 && cs.BestFame == 0
	if level > cs.BestLevel {
		cs.BestLevel = level
	}
	if fame > cs.BestFame {
		cs.BestFame = fame
	}
	s.Classes[t] = cs
	return first
}
