package build

import (
	"maps"

	"gearplanner/internal/slots"
)

// MaxClasses is how many classes a build can select
const MaxClasses = 3

// Assignment holds the item ids equipped in one slot. Zero means empty.
type Assignment struct {
	Main int    `json:"main"`
	Augs [2]int `json:"augs"`
}

// IsZero reports whether nothing is assigned
func (a Assignment) IsZero() bool {
	return a.Main == 0 && a.Augs[0] == 0 && a.Augs[1] == 0
}

// IDs returns the non-zero ids: main first, then augments
func (a Assignment) IDs() []int {
	var ids []int
	if a.Main != 0 {
		ids = append(ids, a.Main)
	}
	for _, id := range a.Augs {
		if id != 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// State is a full loadout: slot id -> assignment plus selected classes
type State struct {
	Assignments map[string]Assignment `json:"assignments"`
	Classes     [MaxClasses]string    `json:"classes"`
}

// Empty returns a state with no assignments and no classes
func Empty() State {
	return State{Assignments: make(map[string]Assignment)}
}

// Clone returns a deep copy
func (s State) Clone() State {
	out := State{Classes: s.Classes, Assignments: make(map[string]Assignment, len(s.Assignments))}
	maps.Copy(out.Assignments, s.Assignments)
	return out
}

// Get returns the assignment of slotID
func (s State) Get(slotID string) Assignment {
	return s.Assignments[slotID]
}

// Equal compares assignments and classes, ignoring empty assignments
func (s State) Equal(o State) bool {
	if s.Classes != o.Classes {
		return false
	}
	for _, slot := range slots.All() {
		if s.Assignments[slot.ID] != o.Assignments[slot.ID] {
			return false
		}
	}
	return true
}

// Set stores key, which is a slot id or an augment key (slots.AugmentKey)
func (s *State) Set(key string, itemID int) {
	if s.Assignments == nil {
		s.Assignments = make(map[string]Assignment)
	}
	slotID, idx, isAug := slots.SplitAugmentKey(key)
	a := s.Assignments[slotID]
	if isAug {
		a.Augs[idx] = itemID
	} else {
		a.Main = itemID
	}
	if a.IsZero() {
		delete(s.Assignments, slotID)
		return
	}
	s.Assignments[slotID] = a
}

// Keys flattens the state into key -> item id, using slot ids for main items
// and augment keys for augments
func (s State) Keys() map[string]int {
	out := make(map[string]int)
	for slotID, a := range s.Assignments {
		if a.Main != 0 {
			out[slotID] = a.Main
		}
		for i, id := range a.Augs {
			if id != 0 {
				out[slots.AugmentKey(slotID, i)] = id
			}
		}
	}
	return out
}

// ItemIDs returns every assigned id in slot registry order
func (s State) ItemIDs() []int {
	var ids []int
	for _, slot := range slots.All() {
		ids = append(ids, s.Assignments[slot.ID].IDs()...)
	}
	return ids
}

// Origin tells observers where a committed change came from
type Origin int

const (
	OriginInit Origin = iota
	OriginUser
	OriginFragment
	OriginImport
)

func (o Origin) String() string {
	switch o {
	case OriginInit:
		return "init"
	case OriginUser:
		return "user"
	case OriginFragment:
		return "fragment"
	case OriginImport:
		return "import"
	}
	return "unknown"
}
