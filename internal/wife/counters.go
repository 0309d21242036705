package wife

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"animewife/internal/store"
)

type Usage struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Counters holds the daily usage counters of every kind, group and user
// behind a single mutex. Every change is persisted before it becomes
// visible; a failed save restores the previous value.
type Counters struct {
	backend store.Backend
	log     *slog.Logger

	mu   sync.Mutex
	data map[Kind]map[string]map[string]Usage
}

func NewCounters(backend store.Backend, logger *slog.Logger) *Counters {
	if logger == nil {
		logger = slog.Default()
	}
	return &Counters{
		backend: backend,
		log:     logger,
		data:    emptyCounters(),
	}
}

func emptyCounters() map[Kind]map[string]map[string]Usage {
	out := make(map[Kind]map[string]map[string]Usage, len(Kinds))
	for _, k := range Kinds {
		out[k] = map[string]map[string]Usage{}
	}
	return out
}

func (c *Counters) Load(ctx context.Context) error {
	var raw map[Kind]map[string]map[string]Usage
	status, err := store.LoadJSON(ctx, c.backend, recordsKey, &raw)
	if status == store.StatusCorrupt {
		c.log.Warn("usage counters unreadable, starting empty", "err", err)
	}
	data := emptyCounters()
	if status == store.StatusFound {
		for _, k := range Kinds {
			for gid, users := range raw[k] {
				if users != nil {
					data[k][gid] = users
				}
			}
		}
	}
	c.mu.Lock()
	c.data = data
	c.mu.Unlock()
	return nil
}

// Reserve checks and increments the counter in one step and returns the
// count after the increment.
func (c *Counters) Reserve(ctx context.Context, kind Kind, gid, uid, today string, limit int) (int, error) {
	if !kind.Valid() {
		return 0, ErrUnknownKind
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, had := c.data[kind][gid][uid]
	cur := prev
	if cur.Date != today {
		cur = Usage{Date: today}
	}
	if cur.Count >= limit {
		return cur.Count, &QuotaError{Kind: kind, Limit: limit}
	}
	cur.Count++
	c.put(kind, gid, uid, cur)
	if err := c.saveLocked(ctx); err != nil {
		c.restore(kind, gid, uid, prev, had)
		return 0, err
	}
	return cur.Count, nil
}

// Rollback refunds one unit, but only for a counter still dated today.
func (c *Counters) Rollback(ctx context.Context, kind Kind, gid, uid, today string) error {
	return c.RollbackMany(ctx, kind, gid, []string{uid}, today)
}

func (c *Counters) RollbackMany(ctx context.Context, kind Kind, gid string, uids []string, today string) error {
	if !kind.Valid() {
		return ErrUnknownKind
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	type saved struct {
		uid  string
		prev Usage
	}
	var touched []saved
	for _, uid := range uids {
		prev, ok := c.data[kind][gid][uid]
		if !ok || prev.Date != today || prev.Count <= 0 {
			continue
		}
		next := prev
		next.Count--
		c.put(kind, gid, uid, next)
		touched = append(touched, saved{uid: uid, prev: prev})
	}
	if len(touched) == 0 {
		return nil
	}
	if err := c.saveLocked(ctx); err != nil {
		for _, t := range touched {
			c.put(kind, gid, t.uid, t.prev)
		}
		return err
	}
	return nil
}

// Clear removes the counter entirely.
func (c *Counters) Clear(ctx context.Context, kind Kind, gid, uid string) error {
	if !kind.Valid() {
		return ErrUnknownKind
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, had := c.data[kind][gid][uid]
	if !had {
		return nil
	}
	delete(c.data[kind][gid], uid)
	if err := c.saveLocked(ctx); err != nil {
		c.restore(kind, gid, uid, prev, true)
		return err
	}
	return nil
}

// Used returns today's count, treating any other date as zero.
func (c *Counters) Used(kind Kind, gid, uid, today string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.data[kind][gid][uid]
	if u.Date != today {
		return 0
	}
	return u.Count
}

func (c *Counters) put(kind Kind, gid, uid string, u Usage) {
	users := c.data[kind][gid]
	if users == nil {
		users = map[string]Usage{}
		c.data[kind][gid] = users
	}
	users[uid] = u
}

func (c *Counters) restore(kind Kind, gid, uid string, prev Usage, had bool) {
	if had {
		c.put(kind, gid, uid, prev)
		return
	}
	delete(c.data[kind][gid], uid)
}

func (c *Counters) saveLocked(ctx context.Context) error {
	if err := store.SaveJSON(ctx, c.backend, recordsKey, c.data); err != nil {
		c.log.Error("save usage counters", "err", err)
		return fmt.Errorf("save usage counters: %w", err)
	}
	return nil
}
