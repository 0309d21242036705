package wife

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ProposeTrade records an offer from uid to target. Zero slots default to
// each side's today slot; both sides must hold something at the named slots.
func (s *Service) ProposeTrade(ctx context.Context, gid, uid, nick, target string, offer, want int) (TradeView, error) {
	today := s.today()
	size := s.cfg.BackpackSize

	if target == "" {
		return TradeView{}, ErrNoTarget
	}
	if target == uid {
		return TradeView{}, ErrSelfTarget
	}

	view := TradeView{Initiator: uid, Target: target}
	err := s.withGroup(ctx, gid, func(doc *GroupDoc) (bool, error) {
		view.InitiatorNick = doc.Nickname(uid, nick)
		view.TargetNick = doc.Nickname(target, target)
		changed := false
		if offer == 0 {
			slot, _, repaired := TodaySlotNumber(doc, uid, today, size, view.InitiatorNick)
			offer, changed = slot, changed || repaired
		}
		if want == 0 {
			slot, _, repaired := TodaySlotNumber(doc, target, today, size, view.TargetNick)
			want, changed = slot, changed || repaired
		}
		switch {
		case offer == 0:
			return changed, ErrNoTodayEntity
		case want == 0:
			return changed, ErrTargetEmpty
		case offer < 1 || offer > size+1 || want < 1 || want > size+1:
			return changed, ErrSlotOutOfRange
		}
		mine, repaired, _ := GetSlot(doc, uid, today, size, offer, view.InitiatorNick)
		changed = changed || repaired
		if mine.Empty() {
			return changed, ErrOwnSlotEmpty
		}
		theirs, repaired, _ := GetSlot(doc, target, today, size, want, view.TargetNick)
		changed = changed || repaired
		if theirs.Empty() {
			return changed, ErrTargetSlotEmpty
		}
		return changed, nil
	})
	if err != nil {
		return view, err
	}
	view.OfferSlot, view.WantSlot = offer, want

	if s.trades.Pending(gid, uid, today) {
		return view, ErrTradePending
	}
	if _, err := s.counters.Reserve(ctx, KindTrade, gid, uid, today, s.cfg.TradeMax); err != nil {
		return view, err
	}

	req := TradeRequest{
		ID:        uuid.NewString(),
		Target:    target,
		Date:      today,
		OfferSlot: offer,
		WantSlot:  want,
	}
	created, err := s.trades.Create(ctx, gid, uid, req)
	if err != nil || !created {
		if rerr := s.counters.Rollback(ctx, KindTrade, gid, uid, today); rerr != nil {
			s.log.Error("refund trade request", "group", gid, "user", uid, "err", rerr)
		}
		if err != nil {
			return view, err
		}
		return view, ErrTradePending
	}
	view.ID = req.ID
	s.log.Info("trade proposed", "group", gid, "user", uid, "target", target, "trade_id", req.ID)
	return view, nil
}

// AcceptTrade performs the swap initiator offered to uid. The request is
// consumed either way; when the swap cannot happen the initiator is refunded
// and ErrTradeStale is returned.
func (s *Service) AcceptTrade(ctx context.Context, gid, uid, initiator string) (TradeResult, error) {
	today := s.today()
	size := s.cfg.BackpackSize

	req, ok, err := s.trades.Take(ctx, gid, uid, initiator, today)
	if err != nil {
		return TradeResult{}, err
	}
	if !ok {
		return TradeResult{}, ErrNoTradeRequest
	}

	out := TradeResult{Initiator: initiator}
	err = s.withGroup(ctx, gid, func(doc *GroupDoc) (bool, error) {
		iNick := doc.Nickname(initiator, initiator)
		tNick := doc.Nickname(uid, uid)
		changed := false
		offer, want := req.OfferSlot, req.WantSlot
		if offer == 0 {
			slot, _, repaired := TodaySlotNumber(doc, initiator, today, size, iNick)
			offer, changed = slot, changed || repaired
		}
		if want == 0 {
			slot, _, repaired := TodaySlotNumber(doc, uid, today, size, tNick)
			want, changed = slot, changed || repaired
		}
		given, repaired, err := GetSlot(doc, initiator, today, size, offer, iNick)
		changed = changed || repaired
		if err != nil || given.Empty() {
			return changed, ErrTradeStale
		}
		got, repaired, err := GetSlot(doc, uid, today, size, want, tNick)
		changed = changed || repaired
		if err != nil || got.Empty() {
			return changed, ErrTradeStale
		}
		if err := SetSlot(doc, initiator, today, size, offer, got, iNick); err != nil {
			return changed, ErrTradeStale
		}
		if err := SetSlot(doc, uid, today, size, want, given, tNick); err != nil {
			return changed, ErrTradeStale
		}
		out.OfferSlot, out.WantSlot = offer, want
		return true, nil
	})
	if err != nil {
		if rerr := s.counters.Rollback(ctx, KindTrade, gid, initiator, today); rerr != nil {
			s.log.Error("refund trade request", "group", gid, "user", initiator, "err", rerr)
		}
		if errors.Is(err, ErrTradeStale) {
			return out, ErrTradeStale
		}
		return out, err
	}

	out.Cancelled = s.cancelTrades(ctx, gid, initiator, uid)
	s.log.Info("trade accepted", "group", gid, "user", uid, "initiator", initiator, "trade_id", req.ID)
	return out, nil
}

// RejectTrade drops the request initiator sent to uid without refunding it.
func (s *Service) RejectTrade(ctx context.Context, gid, uid, initiator string) error {
	ok, err := s.trades.Reject(ctx, gid, uid, initiator)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoTradeRequest
	}
	return nil
}

// TradeRequests lists the requests uid sent and received.
func (s *Service) TradeRequests(ctx context.Context, gid, uid string) (TradeListing, error) {
	sent, received := s.trades.List(gid, uid)
	var out TradeListing
	err := s.withGroup(ctx, gid, func(doc *GroupDoc) (bool, error) {
		for _, p := range sent {
			out.Sent = append(out.Sent, tradeView(doc, p))
		}
		for _, p := range received {
			out.Received = append(out.Received, tradeView(doc, p))
		}
		return false, nil
	})
	return out, err
}

func tradeView(doc *GroupDoc, p PendingTrade) TradeView {
	return TradeView{
		ID:            p.ID,
		Initiator:     p.Initiator,
		InitiatorNick: doc.Nickname(p.Initiator, p.Initiator),
		Target:        p.Target,
		TargetNick:    doc.Nickname(p.Target, p.Target),
		OfferSlot:     p.OfferSlot,
		WantSlot:      p.WantSlot,
	}
}
