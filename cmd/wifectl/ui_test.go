package main

import (
	"testing"

	"animewife/internal/wife"
)

func TestEntryLine(t *testing.T) {
	tests := []struct {
		entry wife.EntryView
		today int
		want  string
	}{
		{wife.EntryView{Slot: 1}, 0, "(empty)"},
		{wife.EntryView{Slot: 2, Image: "sakura!miku.png"}, 2, "《sakura》的miku [today]"},
		{wife.EntryView{Slot: 3, Image: "rin.jpg", Note: "from Bea"}, 1, "rin (from Bea)"},
	}
	for _, tt := range tests {
		if got := entryLine(tt.entry, tt.today); got != tt.want {
			t.Fatalf("entryLine(%+v) = %q want %q", tt.entry, got, tt.want)
		}
	}
}

func TestBackpackItems(t *testing.T) {
	view := wife.BackpackView{
		Size:      2,
		TodaySlot: 3,
		Items:     []wife.EntryView{{Slot: 1, Image: "a.png"}, {Slot: 2}},
		Temporary: wife.EntryView{Slot: 3, Image: "b.png"},
	}
	items := backpackItems(view)
	if len(items) != 3 {
		t.Fatalf("items %d", len(items))
	}
	tmp := items[2].(slotItem)
	if !tmp.temporary || !tmp.today || tmp.Title() != "3. b  ★ today" {
		t.Fatalf("temporary item %+v %q", tmp, tmp.Title())
	}
	if items[1].(slotItem).Description() != "free" {
		t.Fatalf("empty slot description %q", items[1].(slotItem).Description())
	}

	view.Temporary.Image = ""
	view.TodaySlot = 1
	if got := backpackItems(view); len(got) != 2 {
		t.Fatalf("empty temporary slot listed: %d", len(got))
	}
}

func TestNameOr(t *testing.T) {
	if nameOr(" ", "42") != "42" || nameOr("Bea", "42") != "Bea" {
		t.Fatalf("nameOr")
	}
}
