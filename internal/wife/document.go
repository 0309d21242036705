package wife

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

const (
	backpacksKey = "__wife_backpacks__"
	marksKey     = "__wife_backpack_today_slot__"

	// maxLegacySlotIndex bounds map-shaped backpacks read from disk.
	maxLegacySlotIndex = 512
)

// BackpackEntry is one backpack slot. An entry with an empty Image is an
// empty slot.
type BackpackEntry struct {
	Image string
	Note  string
}

func (e BackpackEntry) Empty() bool {
	return e.Image == ""
}

func (e BackpackEntry) MarshalJSON() ([]byte, error) {
	switch {
	case e.Empty():
		return []byte("null"), nil
	case e.Note == "":
		return json.Marshal(e.Image)
	default:
		return json.Marshal(struct {
			Image string `json:"img"`
			Note  string `json:"note"`
		}{e.Image, e.Note})
	}
}

// UnmarshalJSON accepts null, a bare image string or {"img","note"}. Anything
// else decodes as an empty slot.
func (e *BackpackEntry) UnmarshalJSON(raw []byte) error {
	*e = BackpackEntry{}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case string:
		e.Image = x
	case map[string]any:
		img, _ := x["img"].(string)
		if img == "" {
			return nil
		}
		e.Image = img
		e.Note, _ = x["note"].(string)
	}
	return nil
}

// TodayRecord is a user's today entity. Slot > 0 means the entity is bound to
// that backpack slot; otherwise Image holds a temporary entity.
type TodayRecord struct {
	Date     string
	Slot     int
	Image    string
	Nickname string
	Note     string

	// legacy marks a record read from a non-canonical on-disk shape.
	legacy bool
}

type SlotMark struct {
	Date string `json:"date"`
	Slot int    `json:"slot"`
}

// GroupDoc is the whole state of one group.
type GroupDoc struct {
	Today     map[string]TodayRecord
	Backpacks map[string][]BackpackEntry
	Marks     map[string]SlotMark
}

func NewGroupDoc() *GroupDoc {
	return &GroupDoc{
		Today:     map[string]TodayRecord{},
		Backpacks: map[string][]BackpackEntry{},
		Marks:     map[string]SlotMark{},
	}
}

func (d *GroupDoc) Clone() *GroupDoc {
	out := NewGroupDoc()
	for k, v := range d.Today {
		out.Today[k] = v
	}
	for k, v := range d.Backpacks {
		out.Backpacks[k] = append([]BackpackEntry(nil), v...)
	}
	for k, v := range d.Marks {
		out.Marks[k] = v
	}
	return out
}

// backpack returns a copy of the user's backpack padded or truncated to size.
func (d *GroupDoc) backpack(uid string, size int) []BackpackEntry {
	if size <= 0 {
		return nil
	}
	out := make([]BackpackEntry, size)
	copy(out, d.Backpacks[uid])
	return out
}

func (d *GroupDoc) setBackpack(uid string, items []BackpackEntry) {
	d.Backpacks[uid] = append([]BackpackEntry(nil), items...)
}

// clearMark drops the user's mark if it belongs to today.
func (d *GroupDoc) clearMark(uid, today string) bool {
	m, ok := d.Marks[uid]
	if !ok || m.Date != today {
		return false
	}
	delete(d.Marks, uid)
	return true
}

func (d *GroupDoc) bindMark(uid, today string, slot int) bool {
	want := SlotMark{Date: today, Slot: slot}
	if d.Marks[uid] == want {
		return false
	}
	d.Marks[uid] = want
	return true
}

func (d *GroupDoc) markedSlot(uid, today string, size int) (int, bool) {
	m, ok := d.Marks[uid]
	if !ok || m.Date != today || m.Slot < 1 || m.Slot > size {
		return 0, false
	}
	return m.Slot, true
}

// Nickname returns the last nickname recorded for uid, regardless of day.
func (d *GroupDoc) Nickname(uid, fallback string) string {
	if rec, ok := d.Today[uid]; ok && rec.Nickname != "" {
		return rec.Nickname
	}
	if fallback != "" {
		return fallback
	}
	return uid
}

func (d *GroupDoc) FindByNickname(nick string) (string, bool) {
	nick = strings.TrimSpace(nick)
	if nick == "" {
		return "", false
	}
	uids := make([]string, 0, len(d.Today))
	for uid := range d.Today {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	for _, uid := range uids {
		if d.Today[uid].Nickname == nick {
			return uid, true
		}
	}
	return "", false
}

type recordJSON struct {
	Date     string `json:"date"`
	Slot     int    `json:"slot,omitempty"`
	Image    string `json:"img,omitempty"`
	Nickname string `json:"nick,omitempty"`
	Note     string `json:"note,omitempty"`
}

func (d *GroupDoc) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Today)+2)
	for uid, rec := range d.Today {
		if uid == backpacksKey || uid == marksKey {
			continue
		}
		out[uid] = recordJSON{
			Date:     rec.Date,
			Slot:     rec.Slot,
			Image:    rec.Image,
			Nickname: rec.Nickname,
			Note:     rec.Note,
		}
	}
	if len(d.Backpacks) > 0 {
		out[backpacksKey] = d.Backpacks
	}
	if len(d.Marks) > 0 {
		out[marksKey] = d.Marks
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the on-disk layout, including the legacy shapes older
// versions wrote. Unrecognized values are dropped.
func (d *GroupDoc) UnmarshalJSON(raw []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return err
	}
	doc := NewGroupDoc()
	for key, val := range top {
		switch key {
		case backpacksKey:
			var packs map[string]json.RawMessage
			if json.Unmarshal(val, &packs) != nil {
				continue
			}
			for uid, p := range packs {
				if items, ok := decodeBackpack(p); ok {
					doc.Backpacks[uid] = items
				}
			}
		case marksKey:
			var marks map[string]json.RawMessage
			if json.Unmarshal(val, &marks) != nil {
				continue
			}
			for uid, m := range marks {
				if mark, ok := decodeMark(m); ok {
					doc.Marks[uid] = mark
				}
			}
		default:
			if rec, ok := decodeRecord(val); ok {
				doc.Today[key] = rec
			}
		}
	}
	*d = *doc
	return nil
}

func decodeRecord(raw json.RawMessage) (TodayRecord, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return TodayRecord{}, false
	}
	switch raw[0] {
	case '[':
		var triple []json.RawMessage
		if json.Unmarshal(raw, &triple) != nil || len(triple) < 2 {
			return TodayRecord{}, false
		}
		rec := TodayRecord{
			Image:  rawString(triple[0]),
			Date:   rawString(triple[1]),
			legacy: true,
		}
		if len(triple) > 2 {
			rec.Nickname = rawString(triple[2])
		}
		return rec, true
	case '{':
		var fields map[string]json.RawMessage
		if json.Unmarshal(raw, &fields) != nil {
			return TodayRecord{}, false
		}
		rec := TodayRecord{
			Date:     rawString(fields["date"]),
			Image:    rawString(fields["img"]),
			Nickname: rawString(fields["nick"]),
			Note:     rawString(fields["note"]),
		}
		if s, ok := fields["slot"]; ok {
			slot, exact := coerceSlot(s)
			rec.Slot = slot
			if !exact {
				rec.legacy = true
			}
		}
		return rec, true
	default:
		return TodayRecord{}, false
	}
}

func decodeMark(raw json.RawMessage) (SlotMark, bool) {
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil {
		return SlotMark{}, false
	}
	slot, _ := coerceSlot(fields["slot"])
	if slot <= 0 {
		return SlotMark{}, false
	}
	return SlotMark{Date: rawString(fields["date"]), Slot: slot}, true
}

func decodeBackpack(raw json.RawMessage) ([]BackpackEntry, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, false
	}
	switch raw[0] {
	case '[':
		var items []BackpackEntry
		if json.Unmarshal(raw, &items) != nil {
			return nil, false
		}
		return items, true
	case '{':
		var byIndex map[string]BackpackEntry
		if json.Unmarshal(raw, &byIndex) != nil {
			return nil, false
		}
		n := 0
		for k := range byIndex {
			if i, err := strconv.Atoi(strings.TrimSpace(k)); err == nil && i > n && i <= maxLegacySlotIndex {
				n = i
			}
		}
		items := make([]BackpackEntry, n)
		for k, e := range byIndex {
			i, err := strconv.Atoi(strings.TrimSpace(k))
			if err != nil || i < 1 || i > n {
				continue
			}
			items[i-1] = e
		}
		return items, true
	default:
		return nil, false
	}
}

func rawString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// coerceSlot reads a slot stored as an integer, an integral float or a digit
// string. exact reports whether the stored form was already a plain integer.
func coerceSlot(raw json.RawMessage) (slot int, exact bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	var v any
	if json.Unmarshal(raw, &v) != nil {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		if x != float64(int(x)) || x < 0 {
			return 0, false
		}
		n := int(x)
		return n, string(raw) == strconv.Itoa(n)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		for _, r := range s {
			if r < '0' || r > '9' {
				return 0, false
			}
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, false
		}
		return n, false
	default:
		return 0, false
	}
}
