package wife

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"animewife/internal/store"
)

// Toggles holds the per-group contest switch. Groups default to enabled.
type Toggles struct {
	backend store.Backend
	log     *slog.Logger

	mu   sync.Mutex
	data map[string]bool
}

func NewToggles(backend store.Backend, logger *slog.Logger) *Toggles {
	if logger == nil {
		logger = slog.Default()
	}
	return &Toggles{
		backend: backend,
		log:     logger,
		data:    map[string]bool{},
	}
}

func (t *Toggles) Load(ctx context.Context) error {
	var raw map[string]bool
	status, err := store.LoadJSON(ctx, t.backend, togglesKey, &raw)
	if status == store.StatusCorrupt {
		t.log.Warn("contest toggles unreadable, starting empty", "err", err)
	}
	if status != store.StatusFound || raw == nil {
		raw = map[string]bool{}
	}
	t.mu.Lock()
	t.data = raw
	t.mu.Unlock()
	return nil
}

func (t *Toggles) Enabled(gid string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	on, ok := t.data[gid]
	return !ok || on
}

// Toggle flips the group's switch and returns the new state.
func (t *Toggles) Toggle(ctx context.Context, gid string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, had := t.data[gid]
	cur := !had || prev
	t.data[gid] = !cur
	if err := store.SaveJSON(ctx, t.backend, togglesKey, t.data); err != nil {
		if had {
			t.data[gid] = prev
		} else {
			delete(t.data, gid)
		}
		return cur, fmt.Errorf("save contest toggles: %w", err)
	}
	return !cur, nil
}
