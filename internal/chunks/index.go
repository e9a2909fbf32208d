package chunks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// MaxID is the largest chunk id the link format can carry (one byte)
const MaxID = 255

// ErrInvalidManifest is returned for manifests that cannot be indexed
var ErrInvalidManifest = errors.New("invalid chunk manifest")

// relatedSlotTypes lists the slot types probed when a lookup misses.
// Ranged slots often hold throwing or one-hand weapons catalogued as melee.
var relatedSlotTypes = map[string][]string{
	"range": {"primary", "secondary"},
}

// Descriptor describes one catalog chunk
type Descriptor struct {
	Filename   string
	ID         int
	SlotType   string
	AlphaStart string
	AlphaEnd   string
}

// Index maps chunk filenames to ids and answers alpha-range lookups
type Index struct {
	descriptors []Descriptor
	byName      map[string]int
	byID        map[int]string
}

// ParseManifest builds an index from the manifest JSON, an ordered list of
// single-key {"filename": id} objects
func ParseManifest(data []byte) (*Index, error) {
	var entries []map[string]int
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	idx := &Index{
		byName: make(map[string]int, len(entries)),
		byID:   make(map[int]string, len(entries)),
	}
	for i, entry := range entries {
		if len(entry) != 1 {
			return nil, fmt.Errorf("%w: entry %d has %d keys", ErrInvalidManifest, i, len(entry))
		}
		for filename, id := range entry {
			if id < 0 || id > MaxID {
				return nil, fmt.Errorf("%w: %s has id %d", ErrInvalidManifest, filename, id)
			}
			if _, dup := idx.byID[id]; dup {
				return nil, fmt.Errorf("%w: id %d used twice", ErrInvalidManifest, id)
			}
			if _, dup := idx.byName[filename]; dup {
				return nil, fmt.Errorf("%w: %s listed twice", ErrInvalidManifest, filename)
			}
			idx.byName[filename] = id
			idx.byID[id] = filename
			idx.descriptors = append(idx.descriptors, describe(filename, id))
		}
	}
	return idx, nil
}

// LoadManifest fetches and parses the manifest
func LoadManifest(ctx context.Context, f Fetcher, name string) (*Index, error) {
	data, err := f.Fetch(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	return ParseManifest(data)
}

// describe derives the descriptor from "<ver>_chunk_<slot>_<start>_<end>_<n>.json"
func describe(filename string, id int) Descriptor {
	d := Descriptor{Filename: filename, ID: id}
	core := strings.TrimSuffix(filename, ".json")
	if i := strings.Index(core, "_chunk_"); i >= 0 {
		core = core[i+len("_chunk_"):]
	}
	parts := strings.Split(core, "_")
	if len(parts) < 3 {
		return d
	}
	d.SlotType = strings.ToLower(parts[0])
	d.AlphaStart = lettersOnly(parts[1])
	d.AlphaEnd = lettersOnly(parts[2])
	return d
}

func lettersOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, s)
}

// QueryKey is the lookup key for a name: its first three characters, lowercased
func QueryKey(text string) string {
	r := []rune(text)
	if len(r) > 3 {
		r = r[:3]
	}
	return strings.ToLower(string(r))
}

// Len returns the number of chunks in the manifest
func (x *Index) Len() int {
	return len(x.descriptors)
}

// Descriptors returns the chunks in manifest order
func (x *Index) Descriptors() []Descriptor {
	out := make([]Descriptor, len(x.descriptors))
	copy(out, x.descriptors)
	return out
}

// Filename returns the filename of chunk id
func (x *Index) Filename(id int) (string, bool) {
	name, ok := x.byID[id]
	return name, ok
}

// ID returns the id of filename
func (x *Index) ID(filename string) (int, bool) {
	id, ok := x.byName[filename]
	return id, ok
}

// Find returns the chunk of slotType whose alpha range covers query. An exact
// match on a chunk's end bound wins over range containment; ties go to the
// earlier manifest entry. Slot types with related types fall back to them.
func (x *Index) Find(slotType, query string) (Descriptor, bool) {
	if d, ok := x.find(slotType, query); ok {
		return d, true
	}
	for _, related := range relatedSlotTypes[strings.ToLower(slotType)] {
		if d, ok := x.find(related, query); ok {
			return d, true
		}
	}
	return Descriptor{}, false
}

// FindAll returns every distinct chunk found for query across slotTypes,
// without related-type fallback
func (x *Index) FindAll(slotTypes []string, query string) []Descriptor {
	var out []Descriptor
	seen := make(map[int]bool)
	for _, st := range slotTypes {
		d, ok := x.find(st, query)
		if !ok || seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		out = append(out, d)
	}
	return out
}

func (x *Index) find(slotType, query string) (Descriptor, bool) {
	slotType = strings.ToLower(slotType)
	key := QueryKey(query)
	if slotType == "" || key == "" {
		return Descriptor{}, false
	}

	for _, d := range x.descriptors {
		if d.SlotType == slotType && d.AlphaEnd == key {
			return d, true
		}
	}
	for _, d := range x.descriptors {
		if d.SlotType == slotType && key >= d.AlphaStart && key <= d.AlphaEnd {
			return d, true
		}
	}
	return Descriptor{}, false
}
