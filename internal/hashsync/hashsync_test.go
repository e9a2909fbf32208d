package hashsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gearplanner/internal/build"
	"gearplanner/internal/catalog"
	"gearplanner/internal/chunks"
	"gearplanner/internal/codec"
	"gearplanner/internal/coordinator"
	"gearplanner/internal/fragment"
)

const manifest = `[
  {"v1_chunk_head_aaa_mmm_0.json": 0},
  {"v1_chunk_head_mmn_zzz_1.json": 1},
  {"v1_chunk_chest_aaa_zzz_2.json": 2},
  {"v1_chunk_aug_aaa_zzz_4.json": 4}
]`

type fakeItems map[int]catalog.Item

func (f fakeItems) Item(id int) (catalog.Item, bool) {
	it, ok := f[id]
	return it, ok
}

var items = fakeItems{
	101: {ID: 101, Name: "Cowl of Mortality"},
	102: {ID: 102, Name: "Visor of the Void"},
	201: {ID: 201, Name: "Flawless Emerald"},
	300: {ID: 300, Name: "Robe of the Ishva"},
}

type fakeRegistrar struct {
	mu      sync.Mutex
	pending []coordinator.Pending
}

func (r *fakeRegistrar) Register(_ context.Context, p coordinator.Pending) coordinator.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, p)
	return coordinator.Waiting
}

func (r *fakeRegistrar) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

type fixture struct {
	loc *fragment.MemoryLocation
	reg *fakeRegistrar
	s   *Syncer
}

func newFixture(t *testing.T, debounce time.Duration) fixture {
	t.Helper()
	idx, err := chunks.ParseManifest([]byte(manifest))
	require.NoError(t, err)

	f := fixture{
		loc: fragment.NewMemoryLocation(""),
		reg: &fakeRegistrar{},
	}
	f.s = New(f.loc, idx, items, f.reg, Options{Debounce: debounce})
	// echo replaces back the way a browser fires hashchange
	f.loc.OnReplace(func(frag string) { f.s.HandleFragment(context.Background(), frag) })
	return f
}

func sampleState() build.State {
	st := build.Empty()
	st.Set("Head-0-1", 101)
	st.Set("Head-0-1-aug0", 201)
	st.Set("Chest-1-0", 300)
	st.Classes = [3]string{"WAR", "", ""}
	return st
}

func TestRender(t *testing.T) {
	f := newFixture(t, time.Hour)
	st := sampleState()

	assert.Equal(t, []int{0, 4, 2}, f.s.RequiredChunks(st), "slot order, main then augments")

	got := f.s.Render(st)
	assert.Equal(t, "#build="+codec.Encode(st, []int{0, 4, 2})+"&classes=WAR-00-00", got)

	frag, dec := codec.DecodeFragment(got)
	assert.Equal(t, [3]string{"WAR", "", ""}, frag.Classes)
	assert.Equal(t, []int{0, 4, 2}, dec.ChunkIDs)
	assert.Equal(t, st.Assignments, dec.Assignments)
}

func TestRequiredChunks_UnloadedItemsSkipped(t *testing.T) {
	f := newFixture(t, time.Hour)
	st := build.Empty()
	st.Set("Head-0-1", 102)
	st.Set("Chest-1-0", 9999)
	assert.Equal(t, []int{1}, f.s.RequiredChunks(st))
}

func TestFlush_Idempotent(t *testing.T) {
	f := newFixture(t, time.Hour)
	st := sampleState()

	f.s.Flush(st)
	f.s.Flush(st)

	assert.Equal(t, 1, f.loc.Replaced())
	assert.Equal(t, 1, f.s.Writes())
	assert.Equal(t, 0, f.reg.count(), "own write is not read back")
	assert.Equal(t, Idle, f.s.Phase())
	assert.Equal(t, f.s.Render(st), f.loc.Fragment())
}

func TestHandleFragment_Registers(t *testing.T) {
	f := newFixture(t, time.Hour)
	st := sampleState()
	raw := f.s.Render(st)

	f.s.HandleFragment(context.Background(), raw)
	require.Equal(t, 1, f.reg.count())
	p := f.reg.pending[0]
	assert.Equal(t, coordinator.SourceFragment, p.Source)
	assert.Equal(t, map[string]int{
		"Head-0-1":      101,
		"Head-0-1-aug0": 201,
		"Chest-1-0":     300,
	}, p.Entries)
	assert.Equal(t, []int{0, 4, 2}, p.ChunkIDs)
	assert.Equal(t, [3]string{"WAR", "", ""}, p.Classes)
	assert.Equal(t, Idle, f.s.Phase())

	// the applied build renders to what was just parsed: nothing to write
	f.s.Flush(st)
	assert.Equal(t, 0, f.s.Writes())
}

func TestHandleFragment_Legacy(t *testing.T) {
	f := newFixture(t, time.Hour)
	st := build.Empty()
	st.Set("Head-0-1", 101)

	f.s.HandleFragment(context.Background(), codec.EncodeWidth(st, nil, codec.LegacyWidth))
	require.Equal(t, 1, f.reg.count())
	assert.Equal(t, map[string]int{"Head-0-1": 101}, f.reg.pending[0].Entries)
	assert.Empty(t, f.reg.pending[0].ChunkIDs)
}

func TestNotify_SkipsReadAndInitOrigins(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	st := sampleState()

	f.s.Notify(st, build.OriginFragment)
	f.s.Notify(st, build.OriginInit)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, f.s.Writes())

	f.s.Notify(st, build.OriginUser)
	require.Eventually(t, func() bool { return f.s.Writes() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, f.s.Render(st), f.loc.Fragment())
}

func TestNotify_LastWriteWins(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	first := sampleState()
	second := sampleState()
	second.Set("Head-0-1", 102)

	f.s.Notify(first, build.OriginUser)
	f.s.Notify(second, build.OriginUser)

	require.Eventually(t, func() bool { return f.s.Writes() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, f.s.Writes())
	assert.Equal(t, f.s.Render(second), f.loc.Fragment())
}

func TestFlush_CancelsPendingWrite(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	pending := sampleState()
	imported := sampleState()
	imported.Set("Chest-1-0", 0)

	f.s.Notify(pending, build.OriginUser)
	f.s.Flush(imported)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, f.s.Writes())
	assert.Equal(t, f.s.Render(imported), f.loc.Fragment())
}
