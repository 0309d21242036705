package wife

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"animewife/internal/images"
	"animewife/internal/store"
)

// ImageSource lists the identifiers that can be drawn.
type ImageSource interface {
	List(ctx context.Context) ([]string, error)
}

type groupState struct {
	mu     sync.Mutex
	doc    *GroupDoc
	loaded bool
}

type Service struct {
	cfg      Config
	backend  store.Backend
	images   ImageSource
	log      *slog.Logger
	counters *Counters
	trades   *TradeTable
	toggles  *Toggles

	groupsMu sync.Mutex
	groups   map[string]*groupState

	mu   sync.Mutex
	rand *mathrand.Rand

	roll func() float64
	now  func() time.Time
}

func NewService(cfg Config, backend store.Backend, source ImageSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BackpackSize < 1 {
		cfg.BackpackSize = DefaultBackpackSize
	}
	s := &Service{
		cfg:      cfg,
		backend:  backend,
		images:   source,
		log:      logger,
		counters: NewCounters(backend, logger),
		trades:   NewTradeTable(backend, logger),
		toggles:  NewToggles(backend, logger),
		groups:   map[string]*groupState{},
		rand:     mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
	s.roll = s.nextFloat
	return s
}

func (s *Service) Config() Config {
	return s.cfg
}

// Load hydrates the shared documents. Group documents are read lazily.
func (s *Service) Load(ctx context.Context) error {
	if err := s.counters.Load(ctx); err != nil {
		return err
	}
	if err := s.trades.Load(ctx, s.today()); err != nil {
		return err
	}
	return s.toggles.Load(ctx)
}

func (s *Service) today() string {
	return Day(s.now())
}

func (s *Service) nextFloat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Float64()
}

func (s *Service) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Intn(n)
}

func (s *Service) group(gid string) *groupState {
	s.groupsMu.Lock()
	defer s.groupsMu.Unlock()
	g, ok := s.groups[gid]
	if !ok {
		g = &groupState{}
		s.groups[gid] = g
	}
	return g
}

func (s *Service) loadGroupLocked(ctx context.Context, gid string, g *groupState) *GroupDoc {
	if g.loaded {
		return g.doc
	}
	doc := NewGroupDoc()
	status, err := store.LoadJSON(ctx, s.backend, groupKey(gid), doc)
	switch status {
	case store.StatusCorrupt:
		s.log.Warn("group document unreadable, starting empty", "group", gid, "err", err)
		doc = NewGroupDoc()
	case store.StatusNotFound:
		doc = NewGroupDoc()
	}
	g.doc = doc
	g.loaded = true
	return doc
}

// withGroup runs fn on a copy of the group's document under the group lock.
// When fn reports a change the copy is saved and, only if the save succeeds,
// replaces the cached document. fn's error is returned after that.
func (s *Service) withGroup(ctx context.Context, gid string, fn func(doc *GroupDoc) (bool, error)) error {
	g := s.group(gid)
	g.mu.Lock()
	defer g.mu.Unlock()

	doc := s.loadGroupLocked(ctx, gid, g).Clone()
	changed, err := fn(doc)
	if changed {
		if serr := store.SaveJSON(ctx, s.backend, groupKey(gid), doc); serr != nil {
			s.log.Error("save group document", "group", gid, "err", serr)
			return fmt.Errorf("save group %s: %w", gid, serr)
		}
		g.doc = doc
	}
	return err
}

func (s *Service) fetchImage(ctx context.Context) (string, error) {
	ids, err := s.listImages(ctx)
	if err != nil {
		return "", err
	}
	return ids[s.intn(len(ids))], nil
}

func (s *Service) listImages(ctx context.Context) ([]string, error) {
	if s.images == nil {
		return nil, ErrImageUnavailable
	}
	if s.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.FetchTimeout)
		defer cancel()
	}
	ids, err := s.images.List(ctx)
	if err != nil {
		s.log.Warn("list images", "err", err)
		return nil, fmt.Errorf("%w: %v", ErrImageUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, ErrImageUnavailable
	}
	return ids, nil
}

// Draw returns the user's today entity, drawing a new one when there is
// none. A draw that loses the race to a concurrent draw returns the winner.
func (s *Service) Draw(ctx context.Context, gid, uid, nick string) (DrawResult, error) {
	today := s.today()
	size := s.cfg.BackpackSize

	var cur Resolution
	err := s.withGroup(ctx, gid, func(doc *GroupDoc) (bool, error) {
		var repaired bool
		cur, repaired = ResolveToday(doc, uid, today, size, nick)
		return repaired, nil
	})
	if err != nil {
		return DrawResult{}, err
	}
	if cur.Found() {
		return DrawResult{Image: cur.Image, Nickname: cur.Nickname, Slot: cur.Slot}, nil
	}

	img, err := s.fetchImage(ctx)
	if err != nil {
		return DrawResult{}, err
	}

	var out DrawResult
	err = s.withGroup(ctx, gid, func(doc *GroupDoc) (bool, error) {
		again, repaired := ResolveToday(doc, uid, today, size, nick)
		if again.Found() {
			out = DrawResult{Image: again.Image, Nickname: again.Nickname, Slot: again.Slot}
			return repaired, nil
		}
		items := doc.backpack(uid, size)
		out = DrawResult{Image: img, Nickname: nick, New: true}
		if slot := FirstEmptySlot(items); slot > 0 {
			PlaceToday(doc, uid, today, nick, size, slot, img, "")
			out.Slot = slot
		} else {
			SetTemporary(doc, uid, today, nick, img, "")
			out.BackpackFull = true
			out.Backpack = items
		}
		return true, nil
	})
	if err != nil {
		return DrawResult{}, err
	}
	if out.New {
		s.log.Info("entity drawn", "group", gid, "user", uid, "img", out.Image, "slot", out.Slot)
	}
	return out, nil
}

// Inspect reads one logical slot of owner.
func (s *Service) Inspect(ctx context.Context, gid, owner, ownerDefault string, slot int) (SlotView, error) {
	today := s.today()
	size := s.cfg.BackpackSize
	if slot < 1 || slot > size+1 {
		return SlotView{}, ErrSlotOutOfRange
	}
	view := SlotView{Owner: owner, Slot: slot, Temporary: slot == size+1}
	err := s.withGroup(ctx, gid, func(doc *GroupDoc) (bool, error) {
		view.OwnerNick = doc.Nickname(owner, ownerDefault)
		entry, repaired, err := GetSlot(doc, owner, today, size, slot, view.OwnerNick)
		view.Image = entry.Image
		view.Note = entry.Note
		return repaired, err
	})
	return view, err
}

// Backpack returns owner's backpack with today's slot marked.
func (s *Service) Backpack(ctx context.Context, gid, owner, ownerDefault string) (BackpackView, error) {
	today := s.today()
	size := s.cfg.BackpackSize
	view := BackpackView{Owner: owner, Size: size}
	err := s.withGroup(ctx, gid, func(doc *GroupDoc) (bool, error) {
		view.OwnerNick = doc.Nickname(owner, ownerDefault)
		slot, res, repaired := TodaySlotNumber(doc, owner, today, size, view.OwnerNick)
		items := doc.backpack(owner, size)
		view.TodaySlot = slot
		view.Used = usedSlots(items)
		view.Items = make([]EntryView, len(items))
		for i, e := range items {
			view.Items[i] = EntryView{Slot: i + 1, Image: e.Image, Note: e.Note}
		}
		view.Temporary = EntryView{Slot: size + 1}
		if slot == size+1 {
			view.Temporary.Image = res.Image
			view.Temporary.Note = res.Note
		}
		return repaired, nil
	})
	return view, err
}

// Replace moves today's entity into slot, vacating its previous slot.
func (s *Service) Replace(ctx context.Context, gid, uid, nick string, slot int) (ReplaceResult, error) {
	today := s.today()
	size := s.cfg.BackpackSize
	if slot < 1 || slot > size {
		return ReplaceResult{}, ErrSlotOutOfRange
	}
	var out ReplaceResult
	err := s.withGroup(ctx, gid, func(doc *GroupDoc) (bool, error) {
		cur, repaired := ResolveToday(doc, uid, today, size, nick)
		if !cur.Found() {
			return repaired, ErrNoTodayEntity
		}
		if cur.Slot > 0 && cur.Slot != slot {
			items := doc.backpack(uid, size)
			items[cur.Slot-1] = BackpackEntry{}
			doc.setBackpack(uid, items)
		}
		PlaceToday(doc, uid, today, nick, size, slot, cur.Image, cur.Note)
		out = ReplaceResult{Image: cur.Image, Slot: slot}
		return true, nil
	})
	return out, err
}

// Send gives target a random image matching keyword, overwriting target's
// today entity in place.
func (s *Service) Send(ctx context.Context, gid, target, targetName, keyword string) (SendResult, error) {
	today := s.today()
	size := s.cfg.BackpackSize
	if target == "" {
		return SendResult{}, ErrNoTarget
	}
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return SendResult{}, ErrNoMatch
	}
	ids, err := s.listImages(ctx)
	if err != nil {
		return SendResult{}, err
	}
	var matches []string
	for _, id := range ids {
		if strings.Contains(strings.ToLower(id), kw) || strings.Contains(strings.ToLower(images.DisplayName(id)), kw) {
			matches = append(matches, id)
		}
	}
	if len(matches) == 0 {
		return SendResult{}, ErrNoMatch
	}
	img := matches[s.intn(len(matches))]

	out := SendResult{Image: img}
	err = s.withGroup(ctx, gid, func(doc *GroupDoc) (bool, error) {
		name := targetName
		if name == "" {
			name = doc.Nickname(target, target)
		}
		out.TargetNick = name
		cur, _ := ResolveToday(doc, target, today, size, name)
		if cur.Found() && cur.Slot > 0 {
			PlaceToday(doc, target, today, name, size, cur.Slot, img, "")
			out.Slot = cur.Slot
			return true, nil
		}
		if slot := FirstEmptySlot(doc.backpack(target, size)); slot > 0 {
			PlaceToday(doc, target, today, name, size, slot, img, "")
			out.Slot = slot
			return true, nil
		}
		SetTemporary(doc, target, today, name, img, "")
		out.BackpackFull = true
		return true, nil
	})
	if err != nil {
		return SendResult{}, err
	}
	out.Cancelled = s.cancelTrades(ctx, gid, target)
	s.log.Info("entity sent", "group", gid, "user", target, "img", img, "slot", out.Slot)
	return out, nil
}

// Reroll replaces today's entity with a new draw in the same place.
func (s *Service) Reroll(ctx context.Context, gid, uid, nick string) (RerollResult, error) {
	today := s.today()
	size := s.cfg.BackpackSize
	limit := s.cfg.RerollMax

	used, err := s.counters.Reserve(ctx, KindReroll, gid, uid, today, limit)
	if err != nil {
		return RerollResult{}, err
	}
	refund := func() {
		if rerr := s.counters.Rollback(ctx, KindReroll, gid, uid, today); rerr != nil {
			s.log.Error("refund reroll", "group", gid, "user", uid, "err", rerr)
		}
	}

	var has bool
	err = s.withGroup(ctx, gid, func(doc *GroupDoc) (bool, error) {
		cur, repaired := ResolveToday(doc, uid, today, size, nick)
		has = cur.Found()
		return repaired, nil
	})
	if err != nil {
		refund()
		return RerollResult{}, err
	}
	if !has {
		refund()
		return RerollResult{}, ErrNoTodayEntity
	}

	img, err := s.fetchImage(ctx)
	if err != nil {
		refund()
		return RerollResult{}, err
	}

	out := RerollResult{Image: img, Remaining: limit - used}
	err = s.withGroup(ctx, gid, func(doc *GroupDoc) (bool, error) {
		cur, repaired := ResolveToday(doc, uid, today, size, nick)
		if !cur.Found() {
			return repaired, ErrRaceLost
		}
		if cur.Slot > 0 {
			PlaceToday(doc, uid, today, nick, size, cur.Slot, img, "")
			out.Slot = cur.Slot
		} else {
			SetTemporary(doc, uid, today, nick, img, "")
			out.BackpackFull = FirstEmptySlot(doc.backpack(uid, size)) == 0
		}
		return true, nil
	})
	if err != nil {
		refund()
		return RerollResult{}, err
	}
	out.Cancelled = s.cancelTrades(ctx, gid, uid)
	s.log.Info("entity rerolled", "group", gid, "user", uid, "img", img, "slot", out.Slot)
	return out, nil
}

// FindUser looks a user up by the nickname recorded in the group.
func (s *Service) FindUser(ctx context.Context, gid, nickname string) (string, bool) {
	var uid string
	var ok bool
	_ = s.withGroup(ctx, gid, func(doc *GroupDoc) (bool, error) {
		uid, ok = doc.FindByNickname(nickname)
		return false, nil
	})
	return uid, ok
}

func (s *Service) Nickname(ctx context.Context, gid, uid, fallback string) string {
	nick := fallback
	_ = s.withGroup(ctx, gid, func(doc *GroupDoc) (bool, error) {
		nick = doc.Nickname(uid, fallback)
		return false, nil
	})
	return nick
}

// cancelTrades drops every request involving users and refunds each
// initiator. Failures are logged; the triggering change has already landed.
func (s *Service) cancelTrades(ctx context.Context, gid string, users ...string) int {
	initiators, err := s.trades.CancelInvolving(ctx, gid, users)
	if err != nil {
		s.log.Error("cancel trade requests", "group", gid, "err", err)
		return 0
	}
	if len(initiators) == 0 {
		return 0
	}
	if err := s.counters.RollbackMany(ctx, KindTrade, gid, initiators, s.today()); err != nil {
		s.log.Error("refund trade requests", "group", gid, "err", err)
	}
	s.log.Info("trade requests cancelled", "group", gid, "count", len(initiators))
	return len(initiators)
}

// IsUserError reports whether err is a denial caused by the request itself.
func IsUserError(err error) bool {
	for _, target := range []error{
		ErrNoTodayEntity, ErrSelfTarget, ErrNoTarget, ErrSlotOutOfRange,
		ErrBackpackFull, ErrTargetEmpty, ErrTargetSlotEmpty, ErrOwnSlotEmpty,
		ErrTradePending, ErrNoTradeRequest, ErrNoMatch, ErrContestDisabled,
		ErrQuotaExceeded,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
