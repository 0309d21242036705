package wife

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"animewife/internal/store"
)

// TradeRequest is a pending offer, keyed by its initiator. Zero slots mean
// "today's slot", resolved when the offer is accepted.
type TradeRequest struct {
	ID        string `json:"id,omitempty"`
	Target    string `json:"target"`
	Date      string `json:"date"`
	OfferSlot int    `json:"offer_slot"`
	WantSlot  int    `json:"want_slot"`
}

// PendingTrade is a request together with its initiator.
type PendingTrade struct {
	Initiator string
	TradeRequest
}

type TradeTable struct {
	backend store.Backend
	log     *slog.Logger

	mu   sync.Mutex
	data map[string]map[string]TradeRequest
}

func NewTradeTable(backend store.Backend, logger *slog.Logger) *TradeTable {
	if logger == nil {
		logger = slog.Default()
	}
	return &TradeTable{
		backend: backend,
		log:     logger,
		data:    map[string]map[string]TradeRequest{},
	}
}

// Load reads the table and drops every request not dated today, rewriting
// the document when anything was dropped.
func (t *TradeTable) Load(ctx context.Context, today string) error {
	var raw map[string]map[string]TradeRequest
	status, err := store.LoadJSON(ctx, t.backend, tradesKey, &raw)
	if status == store.StatusCorrupt {
		t.log.Warn("trade requests unreadable, starting empty", "err", err)
	}
	if status != store.StatusFound {
		raw = nil
	}

	data := map[string]map[string]TradeRequest{}
	dropped := 0
	for gid, reqs := range raw {
		for uid, req := range reqs {
			if req.Date != today || req.Target == "" {
				dropped++
				continue
			}
			if data[gid] == nil {
				data[gid] = map[string]TradeRequest{}
			}
			data[gid][uid] = req
		}
		if len(reqs) == 0 {
			dropped++
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = data
	if dropped > 0 {
		t.log.Info("dropped expired trade requests", "count", dropped)
		return t.saveLocked(ctx)
	}
	return nil
}

func (t *TradeTable) Pending(gid, initiator, today string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.data[gid][initiator]
	return ok && req.Date == today
}

// Create stores req unless the initiator already has a request dated today.
func (t *TradeTable) Create(ctx context.Context, gid, initiator string, req TradeRequest) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, had := t.data[gid][initiator]
	if had && prev.Date == req.Date {
		return false, nil
	}
	t.put(gid, initiator, req)
	if err := t.saveLocked(ctx); err != nil {
		if had {
			t.put(gid, initiator, prev)
		} else {
			delete(t.data[gid], initiator)
		}
		return false, err
	}
	return true, nil
}

// Take removes and returns the request initiator sent to target today.
func (t *TradeTable) Take(ctx context.Context, gid, target, initiator, today string) (TradeRequest, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.data[gid][initiator]
	if !ok || req.Target != target || req.Date != today {
		return TradeRequest{}, false, nil
	}
	delete(t.data[gid], initiator)
	if err := t.saveLocked(ctx); err != nil {
		t.put(gid, initiator, req)
		return TradeRequest{}, false, err
	}
	return req, true, nil
}

// Reject removes the request initiator sent to target.
func (t *TradeTable) Reject(ctx context.Context, gid, target, initiator string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.data[gid][initiator]
	if !ok || req.Target != target {
		return false, nil
	}
	delete(t.data[gid], initiator)
	if err := t.saveLocked(ctx); err != nil {
		t.put(gid, initiator, req)
		return false, err
	}
	return true, nil
}

// CancelInvolving removes every request naming any of users as initiator or
// target and returns the initiators of the removed requests.
func (t *TradeTable) CancelInvolving(ctx context.Context, gid string, users []string) ([]string, error) {
	involved := make(map[string]struct{}, len(users))
	for _, u := range users {
		involved[u] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := map[string]TradeRequest{}
	for initiator, req := range t.data[gid] {
		_, byInitiator := involved[initiator]
		_, byTarget := involved[req.Target]
		if byInitiator || byTarget {
			removed[initiator] = req
			delete(t.data[gid], initiator)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	if err := t.saveLocked(ctx); err != nil {
		for initiator, req := range removed {
			t.put(gid, initiator, req)
		}
		return nil, err
	}
	out := make([]string, 0, len(removed))
	for initiator := range removed {
		out = append(out, initiator)
	}
	sort.Strings(out)
	return out, nil
}

// List returns the requests uid sent and received in gid.
func (t *TradeTable) List(gid, uid string) (sent, received []PendingTrade) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for initiator, req := range t.data[gid] {
		if initiator == uid {
			sent = append(sent, PendingTrade{Initiator: initiator, TradeRequest: req})
		}
		if req.Target == uid {
			received = append(received, PendingTrade{Initiator: initiator, TradeRequest: req})
		}
	}
	sort.Slice(received, func(i, j int) bool { return received[i].Initiator < received[j].Initiator })
	return sent, received
}

func (t *TradeTable) put(gid, initiator string, req TradeRequest) {
	if t.data[gid] == nil {
		t.data[gid] = map[string]TradeRequest{}
	}
	t.data[gid][initiator] = req
}

func (t *TradeTable) saveLocked(ctx context.Context) error {
	for gid, reqs := range t.data {
		if len(reqs) == 0 {
			delete(t.data, gid)
		}
	}
	if err := store.SaveJSON(ctx, t.backend, tradesKey, t.data); err != nil {
		t.log.Error("save trade requests", "err", err)
		return fmt.Errorf("save trade requests: %w", err)
	}
	return nil
}
