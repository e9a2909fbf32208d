package slots

import (
	"fmt"
	"strings"
)

// MaxSlots is the number of slots the 3-byte presence mask can address
const MaxSlots = 24

// AugmentChunkType is the catalog slot type shared by every augment
const AugmentChunkType = "aug"

// AugmentsPerSlot is how many augments a main item can carry
const AugmentsPerSlot = 2

// Slot is a named equipment position at a fixed registry index
type Slot struct {
	ID        string // e.g. "Ear-0-0"
	Label     string // e.g. "Ear"
	Position  int    // bit in the presence mask and encoding order
	ChunkType string // slot type used in catalog chunk filenames
}

// layout mirrors the paper doll grid; empty cells are skipped
var layout = [][]string{
	{"Ear", "Head", "Face", "Ear"},
	{"Chest", "", "", "Neck"},
	{"Arms", "", "", "Back"},
	{"Waist", "", "", "Shoulders"},
	{"Wrist", "", "", "Wrist"},
	{"Legs", "Hands", "Charm", "Feet"},
	{"", "Finger", "Finger", ""},
	{"Primary", "Secondary", "Range", "Ammo"},
}

// chunkTypeAliases covers labels whose catalog slot type differs from the label
var chunkTypeAliases = map[string]string{
	"Finger": "fingers",
}

var registry = build(layout)

// build flattens the layout into slots
func build(grid [][]string) []Slot {
	var out []Slot
	for row, cols := range grid {
		for col, label := range cols {
			if label == "" {
				continue
			}
			chunkType, ok := chunkTypeAliases[label]
			if !ok {
				chunkType = strings.ToLower(label)
			}
			out = append(out, Slot{
				ID:        fmt.Sprintf("%s-%d-%d", label, row, col),
				Label:     label,
				Position:  len(out),
				ChunkType: chunkType,
			})
		}
	}
	if len(out) > MaxSlots {
		panic(fmt.Sprintf("slots: layout has %d slots, mask holds %d", len(out), MaxSlots))
	}
	return out
}

// All returns the slots in registry order
func All() []Slot {
	out := make([]Slot, len(registry))
	copy(out, registry)
	return out
}

// Len returns the number of registered slots
func Len() int {
	return len(registry)
}

// ByID returns the slot with the given id
func ByID(id string) (Slot, bool) {
	for _, s := range registry {
		if s.ID == id {
			return s, true
		}
	}
	return Slot{}, false
}

// ByLabel returns every slot carrying label, in registry order
func ByLabel(label string) []Slot {
	var out []Slot
	for _, s := range registry {
		if s.Label == label {
			out = append(out, s)
		}
	}
	return out
}

// AugmentKey returns the assignment key for augment i of slotID
func AugmentKey(slotID string, i int) string {
	return fmt.Sprintf("%s-aug%d", slotID, i)
}

// SplitAugmentKey reverses AugmentKey. ok is false for plain slot ids.
func SplitAugmentKey(key string) (slotID string, index int, ok bool) {
	i := strings.LastIndex(key, "-aug")
	if i < 0 {
		return key, 0, false
	}
	switch key[i+len("-aug"):] {
	case "0":
		return key[:i], 0, true
	case "1":
		return key[:i], 1, true
	}
	return key, 0, false
}
