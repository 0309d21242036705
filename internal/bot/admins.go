package bot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Admins is the set of user ids allowed to run admin commands.
type Admins struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewAdmins(ids []string) *Admins {
	a := &Admins{ids: map[string]struct{}{}}
	a.Add(ids...)
	return a
}

func (a *Admins) Add(ids ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			a.ids[id] = struct{}{}
		}
	}
}

func (a *Admins) Contains(id string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.ids[id]
	return ok
}

func (a *Admins) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.ids)
}

// LoadAdmins merges ids with the "admins_id" array of the JSON file at path.
// A missing file is not an error.
func LoadAdmins(ids []string, path string) (*Admins, error) {
	a := NewAdmins(ids)
	if strings.TrimSpace(path) == "" {
		return a, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return a, nil
	}
	if err != nil {
		return a, fmt.Errorf("read admins file: %w", err)
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))

	var doc struct {
		AdminsID []json.RawMessage `json:"admins_id"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return a, fmt.Errorf("decode admins file: %w", err)
	}
	for _, v := range doc.AdminsID {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			a.Add(s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			a.Add(n.String())
		}
	}
	return a, nil
}
