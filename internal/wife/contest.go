package wife

import (
	"context"
	"errors"
)

func (s *Service) ContestEnabled(gid string) bool {
	return s.toggles.Enabled(gid)
}

// ToggleContest flips the group's contest switch and returns the new state.
func (s *Service) ToggleContest(ctx context.Context, gid string) (bool, error) {
	on, err := s.toggles.Toggle(ctx, gid)
	if err != nil {
		return on, err
	}
	s.log.Info("contest toggled", "group", gid, "enabled", on)
	return on, nil
}

// Contest tries to take target's entity: today's entity when slot is 0,
// otherwise the given logical slot. A failed roll still spends the attempt;
// losing a race to another change refunds it.
func (s *Service) Contest(ctx context.Context, gid, uid, target string, slot int) (ContestResult, error) {
	today := s.today()
	size := s.cfg.BackpackSize
	limit := s.cfg.ContestMax

	if !s.toggles.Enabled(gid) {
		return ContestResult{}, ErrContestDisabled
	}
	if target == "" {
		return ContestResult{}, ErrNoTarget
	}
	if target == uid {
		return ContestResult{}, ErrSelfTarget
	}
	if slot != 0 && (slot < 1 || slot > size+1) {
		return ContestResult{}, ErrSlotOutOfRange
	}

	out := ContestResult{SourceSlot: slot}
	err := s.withGroup(ctx, gid, func(doc *GroupDoc) (bool, error) {
		out.TargetNick = doc.Nickname(target, target)
		if FirstEmptySlot(doc.backpack(uid, size)) == 0 {
			return false, ErrBackpackFull
		}
		switch {
		case slot == 0:
			cur, repaired := ResolveToday(doc, target, today, size, out.TargetNick)
			if !cur.Found() {
				return repaired, ErrTargetEmpty
			}
			return repaired, nil
		case slot == size+1:
			ts, _, repaired := TodaySlotNumber(doc, target, today, size, out.TargetNick)
			if ts != size+1 {
				return repaired, ErrTargetSlotEmpty
			}
			return repaired, nil
		default:
			if doc.backpack(target, size)[slot-1].Empty() {
				return false, ErrTargetSlotEmpty
			}
			return false, nil
		}
	})
	if err != nil {
		return out, err
	}

	used, err := s.counters.Reserve(ctx, KindContest, gid, uid, today, limit)
	if err != nil {
		return out, err
	}
	out.Remaining = limit - used

	if s.roll() >= s.cfg.ContestChance {
		s.log.Info("contest failed", "group", gid, "user", uid, "target", target, "remaining", out.Remaining)
		return out, nil
	}

	var todayChanged bool
	err = s.withGroup(ctx, gid, func(doc *GroupDoc) (bool, error) {
		out.TargetNick = doc.Nickname(target, target)
		dest := FirstEmptySlot(doc.backpack(uid, size))
		if dest == 0 {
			return false, ErrRaceLost
		}

		var taken string
		switch {
		case slot == 0:
			res, repaired := RemoveToday(doc, target, today, size)
			if !res.Found() {
				return repaired, ErrRaceLost
			}
			taken, todayChanged = res.Image, true
		case slot == size+1:
			cur, repaired := ResolveToday(doc, target, today, size, out.TargetNick)
			if !cur.Found() || cur.Slot != 0 {
				return repaired, ErrRaceLost
			}
			RemoveToday(doc, target, today, size)
			taken, todayChanged = cur.Image, true
		default:
			items := doc.backpack(target, size)
			entry := items[slot-1]
			if entry.Empty() {
				return false, ErrRaceLost
			}
			taken = entry.Image
			if ts, _, _ := TodaySlotNumber(doc, target, today, size, out.TargetNick); ts == slot {
				RemoveToday(doc, target, today, size)
				todayChanged = true
			} else {
				items[slot-1] = BackpackEntry{}
				doc.setBackpack(target, items)
			}
		}

		mine := doc.backpack(uid, size)
		mine[dest-1] = BackpackEntry{Image: taken, Note: "from " + out.TargetNick}
		doc.setBackpack(uid, mine)
		out.Image = taken
		out.Slot = dest
		return true, nil
	})
	if err != nil {
		if rerr := s.counters.Rollback(ctx, KindContest, gid, uid, today); rerr != nil {
			s.log.Error("refund contest", "group", gid, "user", uid, "err", rerr)
		}
		if errors.Is(err, ErrRaceLost) {
			out.Remaining++
		}
		return out, err
	}

	out.Success = true
	if todayChanged {
		out.Cancelled = s.cancelTrades(ctx, gid, target)
	}
	s.log.Info("contest succeeded", "group", gid, "user", uid, "target", target, "img", out.Image, "slot", out.Slot)
	return out, nil
}

// ResetQuota clears target's counter of kind. Admins clear it directly;
// anyone else spends a reset-tool unit on a roll and, on failure, is told how
// long to be muted.
func (s *Service) ResetQuota(ctx context.Context, gid, requester, target string, kind Kind, admin bool) (ResetResult, error) {
	if kind != KindContest && kind != KindReroll {
		return ResetResult{}, ErrUnknownKind
	}
	if target == "" {
		target = requester
	}
	out := ResetResult{Kind: kind, Target: target, Admin: admin}
	if admin {
		if err := s.counters.Clear(ctx, kind, gid, target); err != nil {
			return out, err
		}
		out.Success = true
		return out, nil
	}

	if _, err := s.counters.Reserve(ctx, KindReset, gid, requester, s.today(), s.cfg.ResetMax); err != nil {
		return out, err
	}
	if s.roll() >= s.cfg.ResetChance {
		out.Mute = s.cfg.ResetMute
		s.log.Info("quota reset failed", "group", gid, "user", requester, "kind", string(kind))
		return out, nil
	}
	if err := s.counters.Clear(ctx, kind, gid, target); err != nil {
		if rerr := s.counters.Rollback(ctx, KindReset, gid, requester, s.today()); rerr != nil {
			s.log.Error("refund reset tool", "group", gid, "user", requester, "err", rerr)
		}
		return out, err
	}
	out.Success = true
	s.log.Info("quota reset", "group", gid, "user", requester, "target", target, "kind", string(kind))
	return out, nil
}

// Used returns how many units of kind uid spent today.
func (s *Service) Used(gid, uid string, kind Kind) int {
	return s.counters.Used(kind, gid, uid, s.today())
}
