package wife

// GetSlot reads logical slot n of uid. Slots 1..size address the backpack;
// size+1 holds today's entity only while it is temporary.
func GetSlot(doc *GroupDoc, uid, today string, size, n int, nickDefault string) (BackpackEntry, bool, error) {
	if n < 1 || n > size+1 {
		return BackpackEntry{}, false, ErrSlotOutOfRange
	}
	if n == size+1 {
		slot, res, repaired := TodaySlotNumber(doc, uid, today, size, nickDefault)
		if slot != size+1 {
			return BackpackEntry{}, repaired, nil
		}
		return BackpackEntry{Image: res.Image, Note: res.Note}, repaired, nil
	}
	return doc.backpack(uid, size)[n-1], false, nil
}

// SetSlot writes logical slot n of uid. Writing a backpack slot never changes
// which slot is today's; writing size+1 replaces today's entity with a
// temporary one and drops any bound reference without emptying its slot.
func SetSlot(doc *GroupDoc, uid, today string, size, n int, entry BackpackEntry, nickDefault string) error {
	if n < 1 || n > size+1 {
		return ErrSlotOutOfRange
	}
	if n == size+1 {
		if entry.Empty() {
			delete(doc.Today, uid)
			doc.clearMark(uid, today)
			return nil
		}
		SetTemporary(doc, uid, today, doc.Nickname(uid, nickDefault), entry.Image, entry.Note)
		return nil
	}
	items := doc.backpack(uid, size)
	items[n-1] = entry
	doc.setBackpack(uid, items)
	return nil
}

// FirstEmptySlot returns the first empty 1-based slot, or 0 when full.
func FirstEmptySlot(items []BackpackEntry) int {
	for i, e := range items {
		if e.Empty() {
			return i + 1
		}
	}
	return 0
}

func usedSlots(items []BackpackEntry) int {
	n := 0
	for _, e := range items {
		if !e.Empty() {
			n++
		}
	}
	return n
}
