package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// unknownMarker is written by the catalog exporter when a mask had no bits
const unknownMarker = "UNKNOWN"

// Item is one catalog record, normalized from its chunk payload
type Item struct {
	ID          int                `json:"itemId"`
	Name        string             `json:"name"`
	SlotTypes   []string           `json:"slotTypes"`
	Classes     []string           `json:"classes"`
	IconID      int                `json:"iconId,omitempty"`
	Stats       map[string]float64 `json:"stats,omitempty"`
	Effects     map[string]*int    `json:"effects,omitempty"`
	EffectNames map[string]string  `json:"effectNames,omitempty"`
}

// FitsSlot reports whether the item can go in a slot of the given catalog type
func (it Item) FitsSlot(slotType string) bool {
	return lo.ContainsBy(it.SlotTypes, func(s string) bool {
		return strings.EqualFold(s, slotType)
	})
}

// UsableBy reports whether any of classes may use the item. Blank entries are
// ignored; with no class selected every item qualifies.
func (it Item) UsableBy(classes []string) bool {
	selected := lo.Compact(classes)
	if len(selected) == 0 {
		return true
	}
	return lo.Some(it.Classes, selected)
}

// raw field names in chunk payloads
const (
	fieldID        = "itemId"
	fieldName      = "ItemName"
	fieldSlotType  = "SlotType"
	fieldClasses   = "CLASSES"
	fieldIcon      = "iconId"
	fieldFocusID   = "FocusEffectId"
	fieldClicky    = "ClickyEffect"
	fieldFocusName = "FocusEffectOrSkillMod"
	fieldProc      = "WeaponProc"
)

const itemSchemaJSON = `{
  "type": "object",
  "required": ["itemId", "ItemName"],
  "properties": {
    "itemId": {"type": "integer", "minimum": 1},
    "ItemName": {"type": "string"},
    "iconId": {"type": ["integer", "null"]},
    "SlotType": {"type": ["string", "array", "null"], "items": {"type": "string"}},
    "CLASSES": {"type": ["string", "array", "null"], "items": {"type": "string"}},
    "FocusEffectId": {"type": ["integer", "null"]}
  }
}`

var itemSchema = jsonschema.MustCompileString("item.json", itemSchemaJSON)

// InvalidRecord describes a payload record dropped during decoding
type InvalidRecord struct {
	Index int
	Err   error
}

// DecodeItems parses a chunk payload. The payload must be a JSON array;
// records failing validation are dropped and reported.
func DecodeItems(data []byte) ([]Item, []InvalidRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var records []any
	if err := dec.Decode(&records); err != nil {
		return nil, nil, fmt.Errorf("failed to parse chunk payload: %w", err)
	}

	items := make([]Item, 0, len(records))
	var invalid []InvalidRecord
	for i, rec := range records {
		if err := itemSchema.Validate(rec); err != nil {
			invalid = append(invalid, InvalidRecord{Index: i, Err: err})
			continue
		}
		items = append(items, normalize(rec.(map[string]any)))
	}
	return items, invalid, nil
}

func normalize(rec map[string]any) Item {
	it := Item{
		Name:        rec[fieldName].(string),
		SlotTypes:   stringList(rec[fieldSlotType], false),
		Classes:     stringList(rec[fieldClasses], true),
		Stats:       make(map[string]float64),
		Effects:     make(map[string]*int),
		EffectNames: make(map[string]string),
	}
	if id, ok := intValue(rec[fieldID]); ok {
		it.ID = id
	}
	if icon, ok := intValue(rec[fieldIcon]); ok {
		it.IconID = icon
	}

	for key, v := range rec {
		switch key {
		case fieldID, fieldName, fieldSlotType, fieldClasses, fieldIcon:
		case fieldFocusID:
			if n, ok := intValue(v); ok {
				it.Effects[key] = &n
			} else {
				it.Effects[key] = nil
			}
		case fieldClicky, fieldFocusName, fieldProc:
			if s, ok := v.(string); ok && s != "" {
				it.EffectNames[key] = s
			}
		default:
			if n, ok := v.(json.Number); ok {
				if f, err := n.Float64(); err == nil {
					it.Stats[key] = f
				}
			}
		}
	}
	return it
}

// stringList accepts a string or a list of strings. With split set a single
// string is treated as a comma separated list.
func stringList(v any, split bool) []string {
	var out []string
	switch t := v.(type) {
	case string:
		if split {
			out = strings.Split(t, ",")
		} else {
			out = []string{t}
		}
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	}
	out = lo.Map(out, func(s string, _ int) string { return strings.TrimSpace(s) })
	return lo.Uniq(lo.Filter(out, func(s string, _ int) bool {
		return s != "" && s != unknownMarker
	}))
}

func intValue(v any) (int, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return int(i), true
}
