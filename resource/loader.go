// Package resource loads the read-only game data catalog: item, object,
// player class and skin definitions keyed by object type.
package resource

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ---- Definitions ----

// ItemDesc describes an item type.
type ItemDesc struct {
	Type       uint16 `json:"type"`
	Name       string `json:"name"`
	SlotType   int    `json:"slotType"`
	Tier       int    `json:"tier"`
	BagType    int    `json:"bagType"` // loot bag tier 0..3
	Untradable bool   `json:"untradable"`
	Soulbound  bool   `json:"soulbound"`
	Consumable bool   `json:"consumable"`
}

// ObjectDesc describes a non-player object type such as a container.
type ObjectDesc struct {
	Type       uint16   `json:"type"`
	Name       string   `json:"name"`
	Class      string   `json:"class"`
	SlotTypes  []int    `json:"slotTypes"`
	Equipment  []uint16 `json:"equipment"`
	Restricted bool     `json:"restricted"`
}

// StatDesc is one of the 13 stats of a player class.
type StatDesc struct {
	Name          string `json:"name"`
	StartingValue int    `json:"startingValue"`
	MaxValue      int    `json:"maxValue"`
}

// UnlockDesc is the requirement to create a class: reaching Level with the
// class Type.
type UnlockDesc struct {
	Type  uint16 `json:"type"`
	Level int    `json:"level"`
	Cost  int    `json:"cost"`
}

// ClassDesc describes a playable class.
type ClassDesc struct {
	Type       uint16      `json:"type"`
	Name       string      `json:"name"`
	Stats      []StatDesc  `json:"stats"`
	SlotTypes  []int       `json:"slotTypes"`
	Equipment  []uint16    `json:"equipment"`
	Unlock     *UnlockDesc `json:"unlock"`
	Restricted bool        `json:"restricted"`
}

// SkinDesc describes a cosmetic skin bound to one class.
type SkinDesc struct {
	Type            uint16 `json:"type"`
	Name            string `json:"name"`
	PlayerClassType uint16 `json:"playerClassType"`
	NoSkinSelect    bool   `json:"noSkinSelect"`
	Cost            int    `json:"cost"`
}

// Catalog is the loaded game data. It is never mutated after Load.
type Catalog struct {
	Items   map[uint16]*ItemDesc
	Objects map[uint16]*ObjectDesc
	Classes map[uint16]*ClassDesc
	Skins   map[uint16]*SkinDesc

	itemsByName map[string]*ItemDesc
}

// NewCatalog indexes the given definitions.
func NewCatalog(items []*ItemDesc, objects []*ObjectDesc, classes []*ClassDesc, skins []*SkinDesc) *Catalog {
	c := &Catalog{
		Items:       make(map[uint16]*ItemDesc, len(items)),
		Objects:     make(map[uint16]*ObjectDesc, len(objects)),
		Classes:     make(map[uint16]*ClassDesc, len(classes)),
		Skins:       make(map[uint16]*SkinDesc, len(skins)),
		itemsByName: make(map[string]*ItemDesc, len(items)),
	}
	for _, it := range items {
		if it == nil {
			continue
		}
		c.Items[it.Type] = it
		c.itemsByName[strings.ToLower(it.Name)] = it
	}
	for _, o := range objects {
		if o != nil {
			c.Objects[o.Type] = o
		}
	}
	for _, cl := range classes {
		if cl != nil {
			c.Classes[cl.Type] = cl
		}
	}
	for _, s := range skins {
		if s != nil {
			c.Skins[s.Type] = s
		}
	}
	return c
}

// Load reads items.json, objects.json, classes.json and skins.json from dir.
func Load(dir string) (*Catalog, error) {
	items, err := loadJSONArray[ItemDesc](filepath.Join(dir, "items.json"))
	if err != nil {
		return nil, err
	}
	objects, err := loadJSONArray[ObjectDesc](filepath.Join(dir, "objects.json"))
	if err != nil {
		return nil, err
	}
	classes, err := loadJSONArray[ClassDesc](filepath.Join(dir, "classes.json"))
	if err != nil {
		return nil, err
	}
	skins, err := loadJSONArray[SkinDesc](filepath.Join(dir, "skins.json"))
	if err != nil {
		return nil, err
	}
	for _, cl := range classes {
		if cl != nil && len(cl.Stats) != 13 {
			return nil, fmt.Errorf("resource: class %#04x has %d stats, want 13", cl.Type, len(cl.Stats))
		}
	}
	return NewCatalog(items, objects, classes, skins), nil
}

func loadJSONArray[T any](path string) ([]*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("resource: read %s: %w", path, err)
	}
	var arr []*T
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, fmt.Errorf("resource: parse %s: %w", path, err)
	}
	return arr, nil
}

// ---- Lookups ----

func (c *Catalog) Item(t uint16) (*ItemDesc, bool) {
	it, ok := c.Items[t]
	return it, ok
}

// ItemByName looks an item up case-insensitively.
func (c *Catalog) ItemByName(name string) (*ItemDesc, bool) {
	it, ok := c.itemsByName[strings.ToLower(name)]
	return it, ok
}

func (c *Catalog) Object(t uint16) (*ObjectDesc, bool) {
	o, ok := c.Objects[t]
	return o, ok
}

func (c *Catalog) Class(t uint16) (*ClassDesc, bool) {
	cl, ok := c.Classes[t]
	return cl, ok
}

func (c *Catalog) Skin(t uint16) (*SkinDesc, bool) {
	s, ok := c.Skins[t]
	return s, ok
}

// SelectableSkins returns the skin types offered at character creation.
func (c *Catalog) SelectableSkins() []uint16 {
	out := make([]uint16, 0, len(c.Skins))
	for t, s := range c.Skins {
		if !s.NoSkinSelect {
			out = append(out, t)
		}
	}
	return out
}

// SlotTypes returns the slot layout of an object or class, or nil.
func (c *Catalog) SlotTypes(t uint16) []int {
	if o, ok := c.Objects[t]; ok {
		return o.SlotTypes
	}
	if cl, ok := c.Classes[t]; ok {
		return cl.SlotTypes
	}
	return nil
}

// StartingStats returns the 13 starting stat values of a class.
func (cl *ClassDesc) StartingStats() [13]int {
	var out [13]int
	for i := 0; i < len(out) && i < len(cl.Stats); i++ {
		out[i] = cl.Stats[i].StartingValue
	}
	return out
}
