package wife

import (
	"errors"
	"testing"
)

const testDay = "2024-05-01"

// assertSingleLocation fails when today's entity of uid is both bound and
// temporary, or when a today mark points at an empty slot.
func assertSingleLocation(t *testing.T, doc *GroupDoc, uid string, size int) {
	t.Helper()
	rec, hasRec := doc.Today[uid]
	if hasRec && rec.Date == testDay && rec.Slot > 0 && rec.Image != "" {
		t.Fatalf("record %+v is both bound and temporary", rec)
	}
	if m, ok := doc.Marks[uid]; ok && m.Date == testDay {
		if m.Slot < 1 || m.Slot > size || doc.backpack(uid, size)[m.Slot-1].Empty() {
			t.Fatalf("mark %+v points at an empty slot", m)
		}
		if !hasRec || rec.Slot != m.Slot {
			t.Fatalf("mark %+v disagrees with record %+v", m, rec)
		}
	}
}

func TestResolveToday(t *testing.T) {
	tests := []struct {
		name         string
		doc          string
		want         Resolution
		wantRepaired bool
	}{
		{
			name:         "absent",
			doc:          `{}`,
			want:         Resolution{},
			wantRepaired: false,
		},
		{
			name:         "expired record clears today mark",
			doc:          `{"u": {"date": "2024-04-30", "slot": 1}, "__wife_backpacks__": {"u": ["a.png"]}, "__wife_backpack_today_slot__": {"u": {"date": "2024-05-01", "slot": 1}}}`,
			want:         Resolution{},
			wantRepaired: true,
		},
		{
			name:         "canonical bound",
			doc:          `{"u": {"date": "2024-05-01", "slot": 2, "nick": "n"}, "__wife_backpacks__": {"u": [null, {"img": "a.png", "note": "hi"}]}, "__wife_backpack_today_slot__": {"u": {"date": "2024-05-01", "slot": 2}}}`,
			want:         Resolution{Image: "a.png", Slot: 2, Nickname: "n", Note: "hi"},
			wantRepaired: false,
		},
		{
			name:         "bound without mark binds it",
			doc:          `{"u": {"date": "2024-05-01", "slot": 1, "nick": "n"}, "__wife_backpacks__": {"u": ["a.png"]}}`,
			want:         Resolution{Image: "a.png", Slot: 1, Nickname: "n"},
			wantRepaired: true,
		},
		{
			name:         "slot taken from mark",
			doc:          `{"u": {"date": "2024-05-01", "nick": "n"}, "__wife_backpacks__": {"u": [null, "b.png"]}, "__wife_backpack_today_slot__": {"u": {"date": "2024-05-01", "slot": 2}}}`,
			want:         Resolution{Image: "b.png", Slot: 2, Nickname: "n"},
			wantRepaired: true,
		},
		{
			name:         "slot inferred by exact image",
			doc:          `{"u": ["c.png", "2024-05-01", "n"], "__wife_backpacks__": {"u": ["a.png", "c.png"]}}`,
			want:         Resolution{Image: "c.png", Slot: 2, Nickname: "n"},
			wantRepaired: true,
		},
		{
			name:         "slot inferred by base name",
			doc:          `{"u": {"date": "2024-05-01", "img": "img1/c.png", "nick": "n"}, "__wife_backpacks__": {"u": ["a.png", "c.png"]}}`,
			want:         Resolution{Image: "c.png", Slot: 2, Nickname: "n"},
			wantRepaired: true,
		},
		{
			name:         "empty bound slot healed from record image",
			doc:          `{"u": {"date": "2024-05-01", "slot": 2, "img": "d.png", "nick": "n"}, "__wife_backpacks__": {"u": ["a.png"]}}`,
			want:         Resolution{Image: "d.png", Slot: 2, Nickname: "n"},
			wantRepaired: true,
		},
		{
			name:         "empty bound slot without image is dropped",
			doc:          `{"u": {"date": "2024-05-01", "slot": 2, "nick": "n"}, "__wife_backpacks__": {"u": ["a.png"]}, "__wife_backpack_today_slot__": {"u": {"date": "2024-05-01", "slot": 2}}}`,
			want:         Resolution{Nickname: "n"},
			wantRepaired: true,
		},
		{
			name:         "temporary",
			doc:          `{"u": {"date": "2024-05-01", "img": "t.png", "nick": "n", "note": "x"}, "__wife_backpacks__": {"u": ["a.png"]}}`,
			want:         Resolution{Image: "t.png", Nickname: "n", Note: "x"},
			wantRepaired: false,
		},
		{
			name:         "temporary with out of range slot is rewritten",
			doc:          `{"u": {"date": "2024-05-01", "slot": 9, "img": "t.png", "nick": "n"}}`,
			want:         Resolution{Image: "t.png", Nickname: "n"},
			wantRepaired: true,
		},
		{
			name:         "neither slot nor image",
			doc:          `{"u": {"date": "2024-05-01", "nick": "n"}}`,
			want:         Resolution{Nickname: "n"},
			wantRepaired: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc := mustDoc(t, tc.doc)
			got, repaired := ResolveToday(doc, "u", testDay, 3, "default")
			if got != tc.want {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
			if repaired != tc.wantRepaired {
				t.Fatalf("repaired=%v want %v", repaired, tc.wantRepaired)
			}
			assertSingleLocation(t, doc, "u", 3)

			again, repairedAgain := ResolveToday(doc, "u", testDay, 3, "default")
			if again.Image != got.Image || again.Slot != got.Slot || repairedAgain {
				t.Fatalf("second resolve got %+v repaired=%v", again, repairedAgain)
			}
		})
	}
}

func TestResolveTodayDefaultNickname(t *testing.T) {
	doc := mustDoc(t, `{"u": {"date": "2024-05-01", "img": "t.png"}}`)
	got, repaired := ResolveToday(doc, "u", testDay, 3, "fallback")
	if got.Nickname != "fallback" || !repaired {
		t.Fatalf("got %+v repaired=%v", got, repaired)
	}
	if doc.Today["u"].Nickname != "fallback" {
		t.Fatalf("record not rewritten with nickname: %+v", doc.Today["u"])
	}
}

func TestRemoveToday(t *testing.T) {
	doc := mustDoc(t, `{"u": {"date": "2024-05-01", "slot": 2, "nick": "n"}, "__wife_backpacks__": {"u": ["a.png", "b.png"]}}`)
	res, changed := RemoveToday(doc, "u", testDay, 2)
	if res.Image != "b.png" || res.Slot != 2 || !changed {
		t.Fatalf("got %+v changed=%v", res, changed)
	}
	items := doc.backpack("u", 2)
	if items[0].Image != "a.png" || !items[1].Empty() {
		t.Fatalf("backpack after remove: %+v", items)
	}
	if _, ok := doc.Today["u"]; ok {
		t.Fatalf("record not removed")
	}
	if _, ok := doc.Marks["u"]; ok {
		t.Fatalf("mark not removed")
	}
}

func TestSlotAddressing(t *testing.T) {
	const size = 2
	doc := NewGroupDoc()
	doc.setBackpack("u", []BackpackEntry{{Image: "a.png"}, {Image: "b.png"}})

	for _, n := range []int{0, -1, size + 2} {
		if _, _, err := GetSlot(doc, "u", testDay, size, n, ""); !errors.Is(err, ErrSlotOutOfRange) {
			t.Fatalf("GetSlot(%d) err=%v", n, err)
		}
		if err := SetSlot(doc, "u", testDay, size, n, BackpackEntry{Image: "z.png"}, ""); !errors.Is(err, ErrSlotOutOfRange) {
			t.Fatalf("SetSlot(%d) err=%v", n, err)
		}
	}

	PlaceToday(doc, "u", testDay, "n", size, 1, "a.png", "")
	if e, _, err := GetSlot(doc, "u", testDay, size, size+1, ""); err != nil || !e.Empty() {
		t.Fatalf("temporary slot visible while bound: %+v %v", e, err)
	}

	if err := SetSlot(doc, "u", testDay, size, size+1, BackpackEntry{Image: "t.png", Note: "x"}, ""); err != nil {
		t.Fatalf("set temporary: %v", err)
	}
	e, _, err := GetSlot(doc, "u", testDay, size, size+1, "")
	if err != nil || e.Image != "t.png" || e.Note != "x" {
		t.Fatalf("temporary slot: %+v %v", e, err)
	}
	if e, _, _ := GetSlot(doc, "u", testDay, size, 1, ""); e.Image != "a.png" {
		t.Fatalf("writing the temporary slot must leave slot 1 alone, got %+v", e)
	}
	if slot, _, _ := TodaySlotNumber(doc, "u", testDay, size, ""); slot != size+1 {
		t.Fatalf("today slot %d, want temporary", slot)
	}
	assertSingleLocation(t, doc, "u", size)

	if err := SetSlot(doc, "u", testDay, size, 2, BackpackEntry{Image: "c.png"}, ""); err != nil {
		t.Fatalf("set slot 2: %v", err)
	}
	if slot, _, _ := TodaySlotNumber(doc, "u", testDay, size, ""); slot != size+1 {
		t.Fatalf("writing a backpack slot changed today's slot to %d", slot)
	}
}

func TestFirstEmptySlot(t *testing.T) {
	tests := []struct {
		items []BackpackEntry
		want  int
	}{
		{items: nil, want: 0},
		{items: []BackpackEntry{{}, {Image: "a"}}, want: 1},
		{items: []BackpackEntry{{Image: "a"}, {}}, want: 2},
		{items: []BackpackEntry{{Image: "a"}, {Image: "b"}}, want: 0},
	}
	for _, tc := range tests {
		if got := FirstEmptySlot(tc.items); got != tc.want {
			t.Fatalf("items %+v got %d want %d", tc.items, got, tc.want)
		}
	}
}
