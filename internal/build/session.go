package build

import (
	"fmt"
	"sync"

	"gearplanner/internal/slots"
)

// Observer is told about every committed state change
type Observer func(state State, origin Origin)

// Session holds the committed build of this process
type Session struct {
	notifyMu sync.Mutex // held across a commit's fan-out so delivery follows commit order

	mu        sync.RWMutex
	state     State
	observers []Observer
}

// NewSession creates a session with an empty build
func NewSession() *Session {
	return &Session{state: Empty()}
}

// Observe registers fn for future commits
func (s *Session) Observe(fn Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// State returns a copy of the committed build
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Commit replaces the build and notifies observers outside the state lock.
// Observers see commits one at a time in the order they were committed and
// must not commit from inside the callback.
func (s *Session) Commit(state State, origin Origin) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.state = state.Clone()
	observers := append([]Observer(nil), s.observers...)
	snapshot := s.state.Clone()
	s.mu.Unlock()

	for _, fn := range observers {
		fn(snapshot.Clone(), origin)
	}
}

// Update applies fn to a copy of the build and commits the result
func (s *Session) Update(origin Origin, fn func(*State) error) error {
	s.mu.RLock()
	next := s.state.Clone()
	s.mu.RUnlock()

	if err := fn(&next); err != nil {
		return err
	}
	s.Commit(next, origin)
	return nil
}

// Equip assigns itemID to key (slot id or augment key); zero clears it
func (s *Session) Equip(key string, itemID int) error {
	slotID, _, _ := slots.SplitAugmentKey(key)
	if _, ok := slots.ByID(slotID); !ok {
		return fmt.Errorf("unknown slot %q", slotID)
	}
	if itemID < 0 {
		return fmt.Errorf("invalid item id %d", itemID)
	}
	return s.Update(OriginUser, func(st *State) error {
		st.Set(key, itemID)
		return nil
	})
}

// SetClasses replaces the selected classes
func (s *Session) SetClasses(classes [MaxClasses]string) {
	_ = s.Update(OriginUser, func(st *State) error {
		st.Classes = classes
		return nil
	})
}

// Reset clears every assignment but keeps the selected classes
func (s *Session) Reset() {
	_ = s.Update(OriginUser, func(st *State) error {
		st.Assignments = make(map[string]Assignment)
		return nil
	})
}
