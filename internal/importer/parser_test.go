package importer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gearplanner/internal/chunks"
)

const manifest = `[
  {"v1_chunk_head_aaa_zzz_0.json": 0},
  {"v1_chunk_primary_aaa_zzz_1.json": 1},
  {"v1_chunk_secondary_aaa_zzz_2.json": 2},
  {"v1_chunk_range_aaa_mmm_3.json": 3},
  {"v1_chunk_aug_aaa_zzz_4.json": 4},
  {"v1_chunk_fingers_aaa_zzz_5.json": 5}
]`

func tsv(lines ...string) string {
	return strings.Join(lines, "\n")
}

func mustIndex(t *testing.T) *chunks.Index {
	t.Helper()
	idx, err := chunks.ParseManifest([]byte(manifest))
	require.NoError(t, err)
	return idx
}

var fullExport = tsv(
	"Location\tName\tID\tCount\tSlots",
	"Charm\tTrinket of Valor\t1001\t1\t0",
	"Ear\tEarring of Whispers\t1002\t1\t0",
	"Head\tCowl of Mortality\t101\t1\t2",
	"Head-Slot1\tFlawless Emerald\t201\t1\t0",
	"Head-Slot2\tEmpty\t0\t0\t0",
	"Head-Slot3\tRuby\t202\t1\t0",
	"Ear\tEarring of Echoes\t1003\t1\t0",
	"Ear\tThird Earring\t1004\t1\t0",
	"Fingers\tBand of Ice\t1005\t1\t0",
	"Fingers\tBand of Fire\t1006\t1\t0",
	"Primary\tRagebringer\t11057\t1\t0",
	"Range\tFrostbringer\t1007\t1\t0",
	"Face\tMask of Nothing\tabc\t1\t0",
	"Feet\tEmpty\t0\t0\t0",
	"General1\tBackpack\t2000\t1\t0",
	"General1-Slot1\tBread\t2001\t1\t0",
	"Power Source\tOrb of Power\t2002\t1\t0",
	"Bank1\tJagged Blade of War\t10908\t1\t0",
	"Chest\tRobe After Bank\t1008\t1\t0",
)

func TestParse_FullExport(t *testing.T) {
	res := Parse(fullExport, mustIndex(t))

	assert.Equal(t, map[string]int{
		"Charm-5-2":     1001,
		"Ear-0-0":       1002,
		"Head-0-1":      101,
		"Head-0-1-aug0": 201,
		"Ear-0-3":       1003,
		"Finger-6-1":    1005,
		"Finger-6-2":    1006,
		"Primary-7-0":   11057,
		"Range-7-2":     1007,
	}, res.Queue)
	assert.Equal(t, [3]string{"ROG", "WAR", ""}, res.Classes, "classes scanned across every row")
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, res.ChunkIDs)
	// third Ear, non-numeric Face id
	assert.Equal(t, 2, res.Skipped)
}

func TestParse_RangeWithoutDualWielder(t *testing.T) {
	idx := mustIndex(t)

	res := Parse(tsv(
		"Location\tName\tID",
		"Primary\tStaff of the Four\t14340",
		"Range\tFrostbringer\t1007",
	), idx)
	assert.Equal(t, [3]string{"WIZ", "", ""}, res.Classes)
	assert.Equal(t, []int{1, 3}, res.ChunkIDs)

	// misses the range chunk and falls back to melee
	res = Parse(tsv(
		"Location\tName\tID",
		"Range\tZweihander\t1009",
	), idx)
	assert.Equal(t, []int{1}, res.ChunkIDs)
	assert.Equal(t, 1009, res.Queue["Range-7-2"])
}

func TestParse_Augments(t *testing.T) {
	res := Parse(tsv(
		"Location\tName\tID",
		"Head\tCowl of Mortality\t101",
		"Head-Slot1\t\t",
		"Head-Slot2\tFlawless Emerald\t201",
		"Chest\tRobe\t300",
		"Chest-Slot1\tEMPTY\t55",
		"Chest-Slot2\tBad Aug\t-4",
	), nil)

	assert.Equal(t, map[string]int{
		"Head-0-1":      101,
		"Head-0-1-aug1": 201,
		"Chest-1-0":     300,
	}, res.Queue)
	assert.Empty(t, res.ChunkIDs, "no index, no chunks")
	assert.Equal(t, 0, res.Skipped)
}

func TestParse_Malformed(t *testing.T) {
	res := Parse(tsv(
		"Location\tName\tID",
		"",
		"Head",
		"\tOrphan\t12",
		"Wrist\tBracer\t0",
		"Wrist-Slot1\tStray\t5",
		"Neck\tTorc\t400\r",
		"Face-Slot1\tStray\t6",
		"Nowhere\tThing\t401",
	), nil)

	assert.Equal(t, map[string]int{"Neck-1-3": 400}, res.Queue)
	// Head (no id), orphan, Bracer id 0, Face-Slot1 without its Face row, unknown label
	assert.Equal(t, 5, res.Skipped)
}

func TestParse_ContinuationRowsConsumed(t *testing.T) {
	res := Parse(tsv(
		"Location\tName\tID",
		"Head\tCowl of Mortality\t101",
		"Head-Slot1\tFlawless Emerald\t201",
		"Head-Slot2\tEmpty\t0",
		"Head-Slot3\tRuby\t202",
		"Head-Slot4\tSapphire\t203",
		"Feet\tEmpty\t0",
		"Feet-Slot1\tEmpty\t0",
		"Feet-Slot2\tOnyx\t204",
		"Ear\tEarring of Whispers\t1002",
		"Ear\tEarring of Echoes\t1003",
		"Ear\tThird Earring\t1004",
		"Ear-Slot1\tPearl\t205",
		"Chest\tRobe\t300",
	), nil)

	assert.Equal(t, map[string]int{
		"Head-0-1":      101,
		"Head-0-1-aug0": 201,
		"Ear-0-0":       1002,
		"Ear-0-3":       1003,
		"Chest-1-0":     300,
	}, res.Queue)
	// only the third Ear; its sub-slot row goes with it
	assert.Equal(t, 1, res.Skipped)
}

func TestParse_HeaderOnly(t *testing.T) {
	res := Parse("Location\tName\tID", nil)
	assert.Empty(t, res.Queue)
	assert.Empty(t, res.ChunkIDs)
	assert.Equal(t, [3]string{}, res.Classes)

	res = Parse("", nil)
	assert.Empty(t, res.Queue)
}

func TestClassForItem(t *testing.T) {
	class, ok := ClassForItem(11057)
	require.True(t, ok)
	assert.Equal(t, "ROG", class)

	_, ok = ClassForItem(1)
	assert.False(t, ok)
}
