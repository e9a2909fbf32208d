// Package hashsync keeps the address fragment and the committed build in step:
// fragments read from the location are registered as pending builds, and
// committed builds are written back to the location after a debounce.
package hashsync

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"

	"gearplanner/internal/build"
	"gearplanner/internal/catalog"
	"gearplanner/internal/chunks"
	"gearplanner/internal/codec"
	"gearplanner/internal/coordinator"
	"gearplanner/internal/slots"
)

// Debounce is the default delay between a commit and its write-back
const Debounce = 300 * time.Millisecond

// Phase is what the syncer is doing with the location
type Phase int

const (
	Idle Phase = iota
	Reading
	Writing
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Reading:
		return "reading"
	case Writing:
		return "writing"
	}
	return "unknown"
}

// Location is where the fragment lives, e.g. a browser address bar
type Location interface {
	Fragment() string
	Replace(fragment string)
}

// Registrar accepts decoded builds for reconciliation
type Registrar interface {
	Register(ctx context.Context, p coordinator.Pending) coordinator.State
}

// Items resolves item ids to catalog records
type Items interface {
	Item(id int) (catalog.Item, bool)
}

// Options configures a Syncer
type Options struct {
	Debounce time.Duration
	Logger   *slog.Logger
}

// Syncer mirrors the build to and from a Location
type Syncer struct {
	loc       Location
	index     *chunks.Index
	items     Items
	registrar Registrar
	logger    *slog.Logger
	debounced func(f func())

	mu          sync.Mutex
	phase       Phase
	lastParsed  string
	lastWritten string
	writes      int
}

// New creates a syncer
func New(loc Location, index *chunks.Index, items Items, registrar Registrar, opts Options) *Syncer {
	if opts.Debounce <= 0 {
		opts.Debounce = Debounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Syncer{
		loc:       loc,
		index:     index,
		items:     items,
		registrar: registrar,
		logger:    opts.Logger.With("component", "hashsync"),
		debounced: debounce.New(opts.Debounce),
	}
}

// HandleFragment reads a fragment from the location. The echo of our own
// last write is ignored; anything else is decoded and registered.
func (s *Syncer) HandleFragment(ctx context.Context, raw string) {
	raw = strings.TrimPrefix(raw, "#")

	s.mu.Lock()
	if s.phase == Writing && raw == s.lastWritten {
		s.phase = Idle
		s.mu.Unlock()
		return
	}
	s.phase = Reading
	s.lastParsed = raw
	s.mu.Unlock()

	frag, dec := codec.DecodeFragment(raw)
	entries := make(map[string]int)
	for slotID, a := range dec.Assignments {
		if a.Main != 0 {
			entries[slotID] = a.Main
		}
		for i, id := range a.Augs {
			if id != 0 {
				entries[slots.AugmentKey(slotID, i)] = id
			}
		}
	}
	s.logger.Debug("fragment read",
		"legacy", frag.Legacy,
		"width", dec.Width,
		"entries", len(entries),
		"chunks", dec.ChunkIDs,
	)

	s.registrar.Register(ctx, coordinator.Pending{
		Source:   coordinator.SourceFragment,
		Entries:  entries,
		ChunkIDs: dec.ChunkIDs,
		Classes:  frag.Classes,
	})

	s.mu.Lock()
	if s.phase == Reading {
		s.phase = Idle
	}
	s.mu.Unlock()
}

// Notify is a build.Observer. Commits that came from reading the fragment or
// from initialization are not written back.
func (s *Syncer) Notify(state build.State, origin build.Origin) {
	switch origin {
	case build.OriginFragment, build.OriginInit:
		return
	}
	s.debounced(func() { s.write(state) })
}

// Flush cancels any pending write and writes state now
func (s *Syncer) Flush(state build.State) {
	s.debounced(func() {})
	s.write(state)
}

// Render returns the fragment for state, including the chunks needed to
// resolve every assigned item that is currently loaded
func (s *Syncer) Render(state build.State) string {
	for _, id := range state.ItemIDs() {
		if !codec.FitsWidth(id, codec.Width) {
			s.logger.Warn("item id too wide for link, truncating", "item", id)
		}
	}
	encoded := codec.Encode(state, s.RequiredChunks(state))
	return codec.FormatFragment(encoded, state.Classes)
}

// RequiredChunks finds the chunk of every assigned item by name, in slot
// order without duplicates
func (s *Syncer) RequiredChunks(state build.State) []int {
	var out []int
	seen := make(map[int]bool)
	add := func(slotType string, id int) {
		if id == 0 || s.index == nil {
			return
		}
		it, ok := s.items.Item(id)
		if !ok {
			return
		}
		d, ok := s.index.Find(slotType, it.Name)
		if !ok || seen[d.ID] {
			return
		}
		seen[d.ID] = true
		out = append(out, d.ID)
	}

	for _, slot := range slots.All() {
		a, ok := state.Assignments[slot.ID]
		if !ok || a.Main == 0 {
			continue
		}
		add(slot.ChunkType, a.Main)
		for _, id := range a.Augs {
			add(slots.AugmentChunkType, id)
		}
	}
	return out
}

func (s *Syncer) write(state build.State) {
	frag := s.Render(state)
	bare := strings.TrimPrefix(frag, "#")

	s.mu.Lock()
	if bare == strings.TrimPrefix(s.loc.Fragment(), "#") || bare == s.lastParsed {
		s.mu.Unlock()
		return
	}
	s.phase = Writing
	s.lastWritten = bare
	s.lastParsed = ""
	s.writes++
	s.mu.Unlock()

	s.logger.Debug("fragment written", "fragment", frag)
	s.loc.Replace(frag)
}

// Phase returns the current phase
func (s *Syncer) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Writes returns how many fragments have been written
func (s *Syncer) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
