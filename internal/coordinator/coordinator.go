// Package coordinator reconciles a pending build (decoded from a link or
// parsed from an export) with the catalog chunks as they finish loading.
package coordinator

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"gearplanner/internal/build"
	"gearplanner/internal/catalog"
)

const (
	// MaxRetries is how many checks without progress are tolerated
	MaxRetries = 10
	// PollInterval is the delay between checks while waiting
	PollInterval = 250 * time.Millisecond
)

// State is the coordinator's lifecycle state
type State int

const (
	Initial State = iota
	Waiting
	Ready
	Applied
	OrphanedPrune
)

func (s State) String() string {
	switch s {
	case Initial:
		return "initial"
	case Waiting:
		return "waiting"
	case Ready:
		return "ready"
	case Applied:
		return "applied"
	case OrphanedPrune:
		return "orphaned_prune"
	}
	return "unknown"
}

// Source tells where a pending set came from
type Source int

const (
	SourceFragment Source = iota + 1
	SourceImport
)

func (s Source) String() string {
	switch s {
	case SourceFragment:
		return "fragment"
	case SourceImport:
		return "import"
	}
	return "unknown"
}

// Pending is a set of item ids waiting for their chunks
type Pending struct {
	Source   Source
	Entries  map[string]int // slot id or augment key -> item id
	ChunkIDs []int
	Classes  [build.MaxClasses]string
}

// Catalog is the part of the catalog store the coordinator needs
type Catalog interface {
	EnsureLoaded(ctx context.Context, ids []int) error
	Item(id int) (catalog.Item, bool)
}

// ApplyFunc receives the materialized build once the pending set settles
type ApplyFunc func(state build.State, source Source)

// Options configures a Coordinator
type Options struct {
	Interval time.Duration
	Logger   *slog.Logger
	OnState  func(State)
}

// Coordinator drives one pending set at a time to Applied
type Coordinator struct {
	catalog  Catalog
	apply    ApplyFunc
	interval time.Duration
	logger   *slog.Logger
	onState  func(State)

	mu           sync.Mutex
	state        State
	pending      Pending
	lastResolved int
	retries      int
	gen          uint64
	changed      chan struct{} // closed and replaced on every transition
}

// New creates a coordinator
func New(cat Catalog, apply ApplyFunc, opts Options) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = PollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		catalog:  cat,
		apply:    apply,
		interval: opts.Interval,
		logger:   opts.Logger.With("component", "coordinator"),
		onState:  opts.OnState,
		changed:  make(chan struct{}),
	}
}

func (c *Coordinator) setStateLocked(s State) {
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
}

// Register replaces any previous pending set with p, starts loading its
// chunks in the background and runs a first check
func (c *Coordinator) Register(ctx context.Context, p Pending) State {
	entries := make(map[string]int, len(p.Entries))
	for k, id := range p.Entries {
		if id > 0 {
			entries[k] = id
		}
	}
	p.Entries = entries
	p.ChunkIDs = slices.Clone(p.ChunkIDs)

	c.mu.Lock()
	c.gen++
	c.pending = p
	c.lastResolved = -1
	c.retries = 0
	c.setStateLocked(Waiting)
	c.mu.Unlock()
	c.notify(Waiting)

	c.logger.Debug("pending set registered",
		"source", p.Source,
		"entries", len(p.Entries),
		"chunks", p.ChunkIDs,
	)

	if len(p.ChunkIDs) > 0 {
		go func() {
			if err := c.catalog.EnsureLoaded(ctx, p.ChunkIDs); err != nil {
				c.logger.Debug("chunk loads interrupted", "error", err)
			}
		}()
	}
	return c.Check()
}

// Check runs one poll step and returns the resulting state
func (c *Coordinator) Check() State {
	c.mu.Lock()
	if c.state != Waiting {
		st := c.state
		c.mu.Unlock()
		return st
	}

	p, gen := c.pending, c.gen
	unresolved := c.unresolvedLocked()
	resolved := len(p.Entries) - len(unresolved)

	if len(unresolved) == 0 {
		c.setStateLocked(Ready)
		c.mu.Unlock()
		c.notify(Ready)
		return c.finish(gen, p, p.Entries)
	}

	if resolved == c.lastResolved {
		c.retries++
	} else {
		c.retries = 0
		c.lastResolved = resolved
	}
	if c.retries <= MaxRetries {
		c.mu.Unlock()
		return Waiting
	}
	c.setStateLocked(OrphanedPrune)
	c.mu.Unlock()

	c.notify(OrphanedPrune)
	c.logger.Warn("dropping unresolved items",
		"source", p.Source,
		"unresolved", unresolved,
		"resolved", resolved,
	)
	subset := make(map[string]int, resolved)
	for k, id := range p.Entries {
		if !slices.Contains(unresolved, k) {
			subset[k] = id
		}
	}
	return c.finish(gen, p, subset)
}

// finish materializes entries and hands the build to the apply func. A set
// superseded by a newer Register is dropped.
func (c *Coordinator) finish(gen uint64, p Pending, entries map[string]int) State {
	state := build.Empty()
	for k, id := range entries {
		state.Set(k, id)
	}
	state.Classes = p.Classes

	c.mu.Lock()
	superseded := c.gen != gen
	c.mu.Unlock()
	if superseded {
		return c.State()
	}

	if c.apply != nil {
		c.apply(state, p.Source)
	}

	// Applied is only reported once the build is committed
	c.mu.Lock()
	if c.gen != gen {
		st := c.state
		c.mu.Unlock()
		return st
	}
	c.setStateLocked(Applied)
	c.mu.Unlock()
	c.notify(Applied)
	return Applied
}

func (c *Coordinator) notify(s State) {
	if c.onState != nil {
		c.onState(s)
	}
}

// Run checks every interval until the current pending set is applied,
// a newer set is registered, or ctx ends. Callers that already poll with
// Check use Wait instead so retries are not counted twice.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.mu.Lock()
			superseded := c.gen != gen
			c.mu.Unlock()
			if superseded {
				return nil
			}
			if c.Check() == Applied {
				return nil
			}
		}
	}
}

// Wait blocks until the current pending set is applied, a newer set is
// registered, or ctx ends. Unlike Run it never checks; another goroutine has
// to drive the coordinator.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	for {
		c.mu.Lock()
		if c.gen != gen || c.state == Applied || c.state == Initial {
			c.mu.Unlock()
			return nil
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// State returns the current state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Retries returns the number of consecutive checks without progress
func (c *Coordinator) Retries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

// Unresolved returns the pending keys whose items are not loaded yet
func (c *Coordinator) Unresolved() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Waiting {
		return nil
	}
	return c.unresolvedLocked()
}

func (c *Coordinator) unresolvedLocked() []string {
	var out []string
	for k, id := range c.pending.Entries {
		if _, ok := c.catalog.Item(id); !ok {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}
