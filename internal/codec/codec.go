// Package codec turns a build into the compact link string and back.
//
// A build string is "<mask>:<ids>[:<chunks>]". The mask is a 24-bit presence
// bitmask (one bit per registry slot, set when a main item is equipped) written
// as four base64url characters. The ids segment holds, for every set bit in
// registry order, three fixed-width groups: main, aug0, aug1. The optional
// chunks segment lists the catalog chunk ids needed to resolve the build.
package codec

import (
	"math/bits"
	"strings"

	"gearplanner/internal/build"
	"gearplanner/internal/slots"
)

const (
	// Width is the id group width written by Encode (24-bit ids)
	Width = 4
	// LegacyWidth is the id group width of early links (18-bit ids)
	LegacyWidth = 3

	maskChars     = 4
	groupsPerSlot = 3
)

// Decoded is the id-only view of a build string
type Decoded struct {
	Assignments map[string]build.Assignment
	ChunkIDs    []int
	Width       int
}

// MaxID returns the largest id a group of width w can hold
func MaxID(w int) int {
	return 1<<(6*w) - 1
}

// FitsWidth reports whether id round-trips at width w
func FitsWidth(id, w int) bool {
	return id >= 0 && id <= MaxID(w)
}

// Mask returns the presence mask of state
func Mask(state build.State) uint32 {
	var mask uint32
	for _, slot := range slots.All() {
		if state.Assignments[slot.ID].Main != 0 {
			mask |= 1 << slot.Position
		}
	}
	return mask
}

// Encode writes state and chunkIDs at the current width
func Encode(state build.State, chunkIDs []int) string {
	return EncodeWidth(state, chunkIDs, Width)
}

// EncodeWidth writes state with id groups of w characters. Ids wider than
// w*6 bits keep only their low bits. Augments of a slot without a main item
// are not written.
func EncodeWidth(state build.State, chunkIDs []int, w int) string {
	mask := Mask(state)

	var sb strings.Builder
	sb.WriteString(encodeID(int(mask), maskChars))
	sb.WriteByte(':')
	for _, slot := range slots.All() {
		if mask&(1<<slot.Position) == 0 {
			continue
		}
		a := state.Assignments[slot.ID]
		sb.WriteString(encodeID(a.Main, w))
		sb.WriteString(encodeID(a.Augs[0], w))
		sb.WriteString(encodeID(a.Augs[1], w))
	}
	if packed := packBytes(chunkIDs); packed != "" {
		sb.WriteByte(':')
		sb.WriteString(packed)
	}
	return sb.String()
}

// Decode reads a build string written at the current width
func Decode(s string) Decoded {
	return DecodeWidth(s, Width)
}

// DecodeWidth reads a build string with id groups of w characters. Segments
// that are missing, short or outside the alphabet are treated as empty.
func DecodeWidth(s string, w int) Decoded {
	out := Decoded{Assignments: make(map[string]build.Assignment), Width: w}

	maskSeg, idSeg, chunkSeg := split(s)
	if chunkSeg != "" && valid(chunkSeg) {
		out.ChunkIDs = unpackBytes(chunkSeg)
	}

	mask, ok := decodeMask(maskSeg)
	if !ok {
		return out
	}
	if len(idSeg) < requiredLen(mask, w) || !valid(idSeg) {
		return out
	}

	pos := 0
	for _, slot := range slots.All() {
		if mask&(1<<slot.Position) == 0 {
			continue
		}
		a := build.Assignment{
			Main: decodeID(idSeg[pos : pos+w]),
			Augs: [2]int{
				decodeID(idSeg[pos+w : pos+2*w]),
				decodeID(idSeg[pos+2*w : pos+3*w]),
			},
		}
		pos += groupsPerSlot * w
		if !a.IsZero() {
			out.Assignments[slot.ID] = a
		}
	}
	return out
}

// split separates the three segments of a build string
func split(s string) (mask, ids, chunks string) {
	parts := strings.SplitN(s, ":", 3)
	mask = parts[0]
	if len(parts) > 1 {
		ids = parts[1]
	}
	if len(parts) > 2 {
		chunks = parts[2]
	}
	return mask, ids, chunks
}

func decodeMask(seg string) (uint32, bool) {
	if len(seg) != maskChars || !valid(seg) {
		return 0, false
	}
	return uint32(decodeID(seg)), true
}

// registered keeps only the bits that belong to a registry slot
func registered(mask uint32) uint32 {
	return mask & (1<<slots.Len() - 1)
}

// requiredLen is the ids segment length a mask implies at width w
func requiredLen(mask uint32, w int) int {
	return bits.OnesCount32(registered(mask)) * groupsPerSlot * w
}
