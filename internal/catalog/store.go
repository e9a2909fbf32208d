// Package catalog holds the items of every loaded catalog chunk and loads
// further chunks on demand.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"gearplanner/internal/chunks"
)

const defaultConcurrency = 4

// Loader returns the payload of a catalog resource, typically through the
// chunk cache
type Loader interface {
	GetOrFetch(ctx context.Context, key, source string) ([]byte, error)
}

// Options configures a Store
type Options struct {
	Concurrency int
	Logger      *slog.Logger
}

// ErrClosed is returned by EnsureLoaded once the store is closed
var ErrClosed = errors.New("catalog store closed")

// Store merges loaded chunks into one item-by-id map
type Store struct {
	index       *chunks.Index
	loader      Loader
	concurrency int
	logger      *slog.Logger

	// loads outlive the callers that asked for them
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	payloads   map[int][]Item
	inflight   map[int]chan struct{}
	items      map[int]Item
	generation uint64
}

// NewStore creates an empty store resolving chunk ids through index
func NewStore(index *chunks.Index, loader Loader, opts Options) *Store {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		index:       index,
		loader:      loader,
		concurrency: opts.Concurrency,
		logger:      opts.Logger.With("component", "catalog"),
		ctx:         ctx,
		cancel:      cancel,
		payloads:    make(map[int][]Item),
		inflight:    make(map[int]chan struct{}),
		items:       make(map[int]Item),
	}
}

// Index returns the chunk index the store resolves ids with
func (s *Store) Index() *chunks.Index {
	return s.index
}

// Close stops in-flight loads. Their chunks stay unloaded.
func (s *Store) Close() {
	s.cancel()
}

// EnsureLoaded loads every chunk in ids that is not loaded yet and waits for
// them, including chunks another caller already started. Unknown ids are
// ignored. A chunk that fails to load is recorded as empty so its items never
// resolve. Cancelling ctx stops the wait, not the loads.
func (s *Store) EnsureLoaded(ctx context.Context, ids []int) error {
	for {
		pending, err := s.claim(ids)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}
		for _, done := range pending {
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		// a released chunk is claimed again on the next pass
	}
}

// claim starts loads for ids neither loaded nor in flight and returns the
// done channels of every id still pending
func (s *Store) claim(ids []int) (map[int]chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return nil, ErrClosed
	}

	pending := make(map[int]chan struct{})
	var todo []int
	for _, id := range ids {
		if _, loaded := s.payloads[id]; loaded {
			continue
		}
		if done, ok := s.inflight[id]; ok {
			pending[id] = done
			continue
		}
		if _, known := s.index.Filename(id); !known {
			s.logger.Debug("ignoring unknown chunk id", "chunk", id)
			continue
		}
		done := make(chan struct{})
		s.inflight[id] = done
		pending[id] = done
		todo = append(todo, id)
	}
	if len(todo) > 0 {
		go s.loadAll(todo)
	}
	return pending, nil
}

func (s *Store) loadAll(ids []int) {
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			s.load(s.ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Store) load(ctx context.Context, id int) {
	filename, _ := s.index.Filename(id)

	data, err := s.loader.GetOrFetch(ctx, filename, filename)
	if err != nil {
		if ctx.Err() != nil {
			s.release(id)
			return
		}
		s.logger.Warn("failed to load chunk", "chunk", id, "file", filename, "error", err)
		s.land(id, nil)
		return
	}

	items, invalid, err := DecodeItems(data)
	if err != nil {
		s.logger.Warn("failed to decode chunk", "chunk", id, "file", filename, "error", err)
		s.land(id, nil)
		return
	}
	for _, bad := range invalid {
		s.logger.Warn("dropping invalid item record", "chunk", id, "record", bad.Index, "error", bad.Err)
	}
	s.logger.Debug("chunk loaded", "chunk", id, "items", len(items))
	s.land(id, items)
}

// release drops the claim on id without recording it
func (s *Store) release(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if done, ok := s.inflight[id]; ok {
		delete(s.inflight, id)
		close(done)
	}
}

// land records a chunk payload and rebuilds the item map
func (s *Store) land(id int, items []Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if items == nil {
		items = []Item{}
	}
	if done, ok := s.inflight[id]; ok {
		delete(s.inflight, id)
		close(done)
	}
	s.payloads[id] = items

	ids := make([]int, 0, len(s.payloads))
	for cid := range s.payloads {
		ids = append(ids, cid)
	}
	slices.Sort(ids)

	merged := make(map[int]Item, len(s.items)+len(items))
	for _, cid := range ids {
		for _, it := range s.payloads[cid] {
			if _, dup := merged[it.ID]; !dup {
				merged[it.ID] = it
			}
		}
	}
	s.items = merged
	s.generation++
}

// Item returns the item with the given id
func (s *Store) Item(id int) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	return it, ok
}

// Items returns every loaded item ordered by id
func (s *Store) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	slices.SortFunc(out, func(a, b Item) int { return a.ID - b.ID })
	return out
}

// Generation increments every time a chunk lands
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Loaded reports whether chunk id has landed, successfully or not
func (s *Store) Loaded(id int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.payloads[id]
	return ok
}

// LoadedChunks returns the ids of landed chunks in ascending order
func (s *Store) LoadedChunks() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, 0, len(s.payloads))
	for id := range s.payloads {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Prefetch loads the chunk a search for text in slotType would need. Text
// shorter than the lookup key is ignored.
func (s *Store) Prefetch(ctx context.Context, slotType, text string) error {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < 3 {
		return nil
	}
	d, ok := s.index.Find(slotType, text)
	if !ok {
		return nil
	}
	return s.EnsureLoaded(ctx, []int{d.ID})
}
