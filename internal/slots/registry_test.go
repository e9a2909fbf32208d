package slots

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAll_OrderAndPositions(t *testing.T) {
	all := All()
	require.Len(t, all, 22)
	assert.LessOrEqual(t, len(all), MaxSlots)

	for i, s := range all {
		assert.Equal(t, i, s.Position, "slot %s", s.ID)
	}

	assert.Equal(t, "Ear-0-0", all[0].ID)
	assert.Equal(t, "Head-0-1", all[1].ID)
	assert.Equal(t, "Ear-0-3", all[3].ID)
	assert.Equal(t, "Chest-1-0", all[4].ID)
	assert.Equal(t, "Ammo-7-3", all[len(all)-1].ID)
}

func TestAll_ReturnsCopy(t *testing.T) {
	a := All()
	a[0].Label = "Mutated"
	assert.Equal(t, "Ear", All()[0].Label)
}

func TestChunkTypes(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"Finger-6-1", "fingers"},
		{"Range-7-2", "range"},
		{"Shoulders-3-3", "shoulders"},
		{"Primary-7-0", "primary"},
	}
	for _, tt := range tests {
		s, ok := ByID(tt.id)
		require.True(t, ok, tt.id)
		assert.Equal(t, tt.want, s.ChunkType)
	}
}

func TestByLabel(t *testing.T) {
	ears := ByLabel("Ear")
	require.Len(t, ears, 2)
	assert.Equal(t, "Ear-0-0", ears[0].ID)
	assert.Equal(t, "Ear-0-3", ears[1].ID)

	assert.Empty(t, ByLabel("Tail"))
}

func TestByID_Unknown(t *testing.T) {
	_, ok := ByID("Nope-9-9")
	assert.False(t, ok)
}

func TestAugmentKey(t *testing.T) {
	key := AugmentKey("Head-0-1", 1)
	assert.Equal(t, "Head-0-1-aug1", key)

	slotID, idx, ok := SplitAugmentKey(key)
	require.True(t, ok)
	assert.Equal(t, "Head-0-1", slotID)
	assert.Equal(t, 1, idx)

	_, _, ok = SplitAugmentKey("Head-0-1")
	assert.False(t, ok)
	_, _, ok = SplitAugmentKey("Head-0-1-aug7")
	assert.False(t, ok)
}

func TestBuild_PanicsOverCapacity(t *testing.T) {
	grid := [][]string{make([]string, MaxSlots+1)}
	for i := range grid[0] {
		grid[0][i] = "Ear"
	}
	assert.Panics(t, func() { build(grid) })
}
