package catalog

import (
	"cmp"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// Query filters loaded items
type Query struct {
	SlotType string   // catalog slot type, e.g. "head" or "aug"; empty matches all
	Classes  []string // selected classes; none selected matches all
	Text     string   // case-insensitive name substring
	Limit    int      // 0 means unlimited
}

// Search returns the loaded items matching q, ordered by name then id
func (s *Store) Search(q Query) []Item {
	text := strings.ToLower(strings.TrimSpace(q.Text))

	s.mu.RLock()
	matches := lo.Filter(lo.Values(s.items), func(it Item, _ int) bool {
		if q.SlotType != "" && !it.FitsSlot(q.SlotType) {
			return false
		}
		if !it.UsableBy(q.Classes) {
			return false
		}
		return strings.Contains(strings.ToLower(it.Name), text)
	})
	s.mu.RUnlock()

	slices.SortFunc(matches, func(a, b Item) int {
		return cmp.Or(strings.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches
}
