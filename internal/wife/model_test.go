package wife

import (
	"testing"
	"time"
)

func TestDayUsesUTCPlus8(t *testing.T) {
	tests := []struct {
		at   time.Time
		want string
	}{
		{at: time.Date(2024, 5, 1, 15, 59, 0, 0, time.UTC), want: "2024-05-01"},
		{at: time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC), want: "2024-05-02"},
		{at: time.Date(2024, 4, 30, 20, 0, 0, 0, time.UTC), want: "2024-05-01"},
	}
	for _, tc := range tests {
		if got := Day(tc.at); got != tc.want {
			t.Fatalf("Day(%s) = %s want %s", tc.at, got, tc.want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := []func(*Config){
		func(c *Config) { c.BackpackSize = 0 },
		func(c *Config) { c.ContestChance = 1.5 },
		func(c *Config) { c.ResetChance = -0.1 },
		func(c *Config) { c.TradeMax = -1 },
		func(c *Config) { c.ResetMute = -time.Second },
	}
	for i, mutate := range bad {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestConfigLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContestMax, cfg.RerollMax, cfg.TradeMax, cfg.ResetMax = 1, 2, 3, 4
	want := map[Kind]int{KindContest: 1, KindReroll: 2, KindTrade: 3, KindReset: 4, Kind("bogus"): 0}
	for kind, n := range want {
		if got := cfg.Limit(kind); got != n {
			t.Fatalf("Limit(%s) = %d want %d", kind, got, n)
		}
	}
	for _, kind := range Kinds {
		if !kind.Valid() {
			t.Fatalf("%s must be valid", kind)
		}
	}
	if Kind("bogus").Valid() {
		t.Fatalf("unknown kind reported valid")
	}
}

func TestGroupKeyAvoidsReservedNames(t *testing.T) {
	for _, gid := range []string{recordsKey, tradesKey, togglesKey} {
		if groupKey(gid) == gid {
			t.Fatalf("group %q collides with a shared document", gid)
		}
	}
	if groupKey("12345") != "12345" {
		t.Fatalf("ordinary group ids must be used as is")
	}

	ids := []string{recordsKey, "group_" + recordsKey, "group_group_" + recordsKey, tradesKey, "group_" + tradesKey, togglesKey, "group_x", "x", "group_"}
	seen := map[string]string{}
	for _, gid := range ids {
		key := groupKey(gid)
		if prev, ok := seen[key]; ok {
			t.Fatalf("groups %q and %q share document %q", prev, gid, key)
		}
		seen[key] = gid
	}
}
