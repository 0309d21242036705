package wife

import (
	"path"
	"strings"
)

// Resolution is where a user's today entity lives. Slot is 0 for a temporary
// entity; Image is empty when the user has none.
type Resolution struct {
	Image    string
	Slot     int
	Nickname string
	Note     string
}

func (r Resolution) Found() bool {
	return r.Image != ""
}

// ResolveToday returns the authoritative today entity of uid and repairs the
// document so the entity lives in exactly one place. repaired reports whether
// doc was modified; callers must persist it even when nothing was found.
func ResolveToday(doc *GroupDoc, uid, today string, size int, nickDefault string) (res Resolution, repaired bool) {
	rec, ok := doc.Today[uid]
	if !ok || rec.Date != today {
		return Resolution{}, doc.clearMark(uid, today)
	}

	nick := rec.Nickname
	if nick == "" {
		nick = nickDefault
	}
	repaired = rec.legacy

	slot := rec.Slot
	items := doc.backpack(uid, size)
	if slot == 0 {
		if marked, ok := doc.markedSlot(uid, today, size); ok {
			slot = marked
			repaired = true
		} else if inferred := inferSlot(items, rec.Image); inferred > 0 {
			slot = inferred
			doc.bindMark(uid, today, slot)
			repaired = true
		}
	}

	if slot >= 1 && slot <= size {
		entry := items[slot-1]
		if entry.Empty() && rec.Image != "" {
			entry = BackpackEntry{Image: rec.Image}
			items[slot-1] = entry
			doc.setBackpack(uid, items)
			repaired = true
		}
		if entry.Empty() {
			delete(doc.Today, uid)
			doc.clearMark(uid, today)
			return Resolution{Nickname: nick}, true
		}
		bound := TodayRecord{Date: today, Slot: slot, Nickname: nick}
		if rec != bound {
			doc.Today[uid] = bound
			repaired = true
		}
		if doc.bindMark(uid, today, slot) {
			repaired = true
		}
		return Resolution{Image: entry.Image, Slot: slot, Nickname: nick, Note: entry.Note}, repaired
	}

	if rec.Image != "" {
		temp := TodayRecord{Date: today, Image: rec.Image, Nickname: nick, Note: rec.Note}
		if rec != temp {
			doc.Today[uid] = temp
			repaired = true
		}
		if doc.clearMark(uid, today) {
			repaired = true
		}
		return Resolution{Image: rec.Image, Nickname: nick, Note: rec.Note}, repaired
	}

	delete(doc.Today, uid)
	doc.clearMark(uid, today)
	return Resolution{Nickname: nick}, true
}

// inferSlot finds img in items, first by exact id and then by base name.
func inferSlot(items []BackpackEntry, img string) int {
	if img == "" {
		return 0
	}
	for i, e := range items {
		if e.Image == img {
			return i + 1
		}
	}
	base := baseName(img)
	for i, e := range items {
		if !e.Empty() && baseName(e.Image) == base {
			return i + 1
		}
	}
	return 0
}

func baseName(id string) string {
	return path.Base(strings.ReplaceAll(id, `\`, "/"))
}

// RemoveToday deletes the user's today entity together with its slot, record
// and mark.
func RemoveToday(doc *GroupDoc, uid, today string, size int) (Resolution, bool) {
	res, repaired := ResolveToday(doc, uid, today, size, "")
	if !res.Found() {
		return res, repaired
	}
	if res.Slot > 0 {
		items := doc.backpack(uid, size)
		items[res.Slot-1] = BackpackEntry{}
		doc.setBackpack(uid, items)
	}
	delete(doc.Today, uid)
	doc.clearMark(uid, today)
	return res, true
}

// TodaySlotNumber returns the slot holding today's entity: 1..size when
// bound, size+1 when temporary and 0 when there is none.
func TodaySlotNumber(doc *GroupDoc, uid, today string, size int, nickDefault string) (int, Resolution, bool) {
	res, repaired := ResolveToday(doc, uid, today, size, nickDefault)
	switch {
	case !res.Found():
		return 0, res, repaired
	case res.Slot > 0:
		return res.Slot, res, repaired
	default:
		return size + 1, res, repaired
	}
}

// PlaceToday stores img in slot and makes it the user's today entity.
func PlaceToday(doc *GroupDoc, uid, today, nick string, size, slot int, img, note string) {
	if slot < 1 || slot > size {
		return
	}
	items := doc.backpack(uid, size)
	items[slot-1] = BackpackEntry{Image: img, Note: note}
	doc.setBackpack(uid, items)
	doc.Today[uid] = TodayRecord{Date: today, Slot: slot, Nickname: nick}
	doc.bindMark(uid, today, slot)
}

// SetTemporary makes img the user's temporary today entity.
func SetTemporary(doc *GroupDoc, uid, today, nick, img, note string) {
	doc.Today[uid] = TodayRecord{Date: today, Image: img, Nickname: nick, Note: note}
	doc.clearMark(uid, today)
}
