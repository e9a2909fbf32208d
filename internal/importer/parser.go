// Package importer turns a tab-separated inventory export into a pending
// build: slot assignments, the chunks they need and the inferred classes.
package importer

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"gearplanner/internal/build"
	"gearplanner/internal/chunks"
	"gearplanner/internal/slots"
)

const (
	colLocation = 0
	colName     = 1
	colID       = 2
)

// locations ending parsing; nothing after them is worn gear
var terminalBuckets = []string{"Bank", "SharedBank"}

// locations holding carried rather than worn items
var excludedBuckets = []string{"General", "Power Source"}

// export labels that differ from registry labels
var labelAliases = map[string]string{
	"Fingers": "Finger",
}

// probed for Range rows when a dual wielder is in the build
var dualWieldSlotTypes = []string{"primary", "secondary", "range"}

var subSlotSuffix = regexp.MustCompile(`-Slot\d+$`)

// Result is a parsed export
type Result struct {
	Queue    map[string]int // slot id or augment key -> item id
	ChunkIDs []int          // sorted, distinct
	Classes  [build.MaxClasses]string
	Skipped  int
}

type row struct {
	location string
	name     string
	id       string
}

func (r row) itemID() (int, bool) {
	id, err := strconv.Atoi(strings.TrimSpace(r.id))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (r row) empty() bool {
	return strings.EqualFold(strings.TrimSpace(r.name), "empty")
}

func splitRows(text string) []row {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	rows := make([]row, 0, len(lines))
	for _, line := range lines {
		fields := strings.Split(line, "\t")
		var r row
		r.location = strings.TrimSpace(fields[colLocation])
		if len(fields) > colName {
			r.name = strings.TrimSpace(fields[colName])
		}
		if len(fields) > colID {
			r.id = fields[colID]
		}
		rows = append(rows, r)
	}
	return rows
}

// Parse reads an inventory export. index may be nil, in which case no chunk
// ids are resolved. Malformed rows are skipped and counted.
func Parse(text string, index *chunks.Index) Result {
	rows := splitRows(text)
	res := Result{
		Queue:   make(map[string]int),
		Classes: inferClasses(rows),
	}
	chunkSet := make(map[int]bool)
	resolve := func(slotTypes []string, name string) {
		if index == nil || name == "" {
			return
		}
		if len(slotTypes) == 1 {
			if d, ok := index.Find(slotTypes[0], name); ok {
				chunkSet[d.ID] = true
			}
			return
		}
		for _, d := range index.FindAll(slotTypes, name) {
			chunkSet[d.ID] = true
		}
	}
	dualWield := slices.ContainsFunc(res.Classes[:], func(c string) bool { return dualWielders[c] })

	for i := 1; i < len(rows); i++ {
		r := rows[i]
		if r.location == "" {
			if r.name != "" || r.id != "" {
				res.Skipped++
			}
			continue
		}
		if hasAnyPrefix(r.location, terminalBuckets) {
			break
		}
		if hasAnyPrefix(r.location, excludedBuckets) {
			continue
		}
		if subSlotSuffix.MatchString(r.location) {
			// augment row without a main row to attach to
			res.Skipped++
			continue
		}

		// sub-slot rows belong to this row whether or not it is used
		base := r.location
		subRows := continuationRows(rows, i, base)

		id, ok := r.itemID()
		if !ok {
			if !r.empty() {
				res.Skipped++
			}
			i += subRows
			continue
		}

		label := base
		if alias, ok := labelAliases[label]; ok {
			label = alias
		}
		slot, ok := firstFree(label, res.Queue)
		if !ok {
			res.Skipped++
			i += subRows
			continue
		}
		res.Queue[slot.ID] = id

		slotTypes := []string{slot.ChunkType}
		if label == "Range" && dualWield {
			slotTypes = dualWieldSlotTypes
		}
		resolve(slotTypes, r.name)

		for k := 0; k < subRows && k < slots.AugmentsPerSlot; k++ {
			aug := rows[i+1+k]
			augID, ok := aug.itemID()
			if aug.name == "" || aug.empty() || !ok {
				continue
			}
			res.Queue[slots.AugmentKey(slot.ID, k)] = augID
			resolve([]string{slots.AugmentChunkType}, aug.name)
		}
		i += subRows
	}

	for id := range chunkSet {
		res.ChunkIDs = append(res.ChunkIDs, id)
	}
	slices.Sort(res.ChunkIDs)
	return res
}

// continuationRows counts the "<base>-Slot<N>" rows directly after row i
func continuationRows(rows []row, i int, base string) int {
	n := 0
	for j := i + 1; j < len(rows) && strings.HasPrefix(rows[j].location, base+"-Slot"); j++ {
		n++
	}
	return n
}

// inferClasses collects up to three distinct classes from class-defining
// items anywhere in the export
func inferClasses(rows []row) [build.MaxClasses]string {
	var out [build.MaxClasses]string
	n := 0
	for _, r := range rows {
		id, ok := r.itemID()
		if !ok {
			continue
		}
		class, ok := ClassForItem(id)
		if !ok || slices.Contains(out[:n], class) {
			continue
		}
		out[n] = class
		n++
		if n == build.MaxClasses {
			break
		}
	}
	return out
}

func firstFree(label string, queue map[string]int) (slots.Slot, bool) {
	for _, s := range slots.ByLabel(label) {
		if _, taken := queue[s.ID]; !taken {
			return s, true
		}
	}
	return slots.Slot{}, false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
