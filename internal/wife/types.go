package wife

import "time"

type EntryView struct {
	Slot  int    `json:"slot"`
	Image string `json:"img,omitempty"`
	Note  string `json:"note,omitempty"`
}

type DrawResult struct {
	Image        string          `json:"img"`
	Nickname     string          `json:"nick"`
	Slot         int             `json:"slot"`
	New          bool            `json:"new"`
	BackpackFull bool            `json:"backpack_full"`
	Backpack     []BackpackEntry `json:"-"`
}

type SlotView struct {
	Owner     string `json:"owner"`
	OwnerNick string `json:"owner_nick"`
	Slot      int    `json:"slot"`
	Temporary bool   `json:"temporary"`
	Image     string `json:"img,omitempty"`
	Note      string `json:"note,omitempty"`
}

type BackpackView struct {
	Owner     string      `json:"owner"`
	OwnerNick string      `json:"owner_nick"`
	Size      int         `json:"size"`
	Used      int         `json:"used"`
	TodaySlot int         `json:"today_slot"`
	Items     []EntryView `json:"items"`
	Temporary EntryView   `json:"temporary"`
}

type ReplaceResult struct {
	Image string `json:"img"`
	Slot  int    `json:"slot"`
}

type SendResult struct {
	Image        string `json:"img"`
	TargetNick   string `json:"target_nick"`
	Slot         int    `json:"slot"`
	BackpackFull bool   `json:"backpack_full"`
	Cancelled    int    `json:"cancelled_trades"`
}

type RerollResult struct {
	Image        string `json:"img"`
	Slot         int    `json:"slot"`
	BackpackFull bool   `json:"backpack_full"`
	Remaining    int    `json:"remaining"`
	Cancelled    int    `json:"cancelled_trades"`
}

type ContestResult struct {
	Success    bool   `json:"success"`
	Remaining  int    `json:"remaining"`
	Image      string `json:"img,omitempty"`
	TargetNick string `json:"target_nick"`
	SourceSlot int    `json:"source_slot,omitempty"`
	Slot       int    `json:"slot,omitempty"`
	Cancelled  int    `json:"cancelled_trades"`
}

type ResetResult struct {
	Kind    Kind          `json:"kind"`
	Target  string        `json:"target"`
	Admin   bool          `json:"admin"`
	Success bool          `json:"success"`
	Mute    time.Duration `json:"mute,omitempty"`
}

type TradeResult struct {
	Initiator string `json:"initiator"`
	OfferSlot int    `json:"offer_slot"`
	WantSlot  int    `json:"want_slot"`
	Cancelled int    `json:"cancelled_trades"`
}

type TradeView struct {
	ID            string `json:"id,omitempty"`
	Initiator     string `json:"initiator"`
	InitiatorNick string `json:"initiator_nick"`
	Target        string `json:"target"`
	TargetNick    string `json:"target_nick"`
	OfferSlot     int    `json:"offer_slot"`
	WantSlot      int    `json:"want_slot"`
}

type TradeListing struct {
	Sent     []TradeView `json:"sent"`
	Received []TradeView `json:"received"`
}
