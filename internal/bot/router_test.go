package bot

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"animewife/internal/store"
	"animewife/internal/wife"
)

type staticImages []string

func (s staticImages) List(context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}

type fakeTransport struct {
	mu    sync.Mutex
	names map[string]string
	muted map[string]time.Duration
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{names: map[string]string{}, muted: map[string]time.Duration{}}
}

func (f *fakeTransport) Mention(user string) string { return "@" + user }

func (f *fakeTransport) DisplayName(_ context.Context, _, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.names[user], nil
}

func (f *fakeTransport) Mute(_ context.Context, _, user string, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted[user] = d
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T, cfg wife.Config, needPrefix bool, admins ...string) *Router {
	t.Helper()
	backend, err := store.NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	svc := wife.NewService(cfg, backend, staticImages{"sakura!miku.png"}, quietLogger())
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return NewRouter(svc, NewAdmins(admins), needPrefix, quietLogger())
}

func say(t *testing.T, r *Router, tr Transport, sender, text string, mentions ...string) []Reply {
	t.Helper()
	return r.Handle(context.Background(), Message{
		Group:      "g",
		Sender:     sender,
		SenderName: sender + "-nick",
		Text:       text,
		Mentions:   mentions,
	}, tr)
}

func mustContain(t *testing.T, replies []Reply, want string) Reply {
	t.Helper()
	for _, r := range replies {
		if strings.Contains(r.Text, want) {
			return r
		}
	}
	t.Fatalf("no reply contains %q: %+v", want, replies)
	return Reply{}
}

func TestNormalizeText(t *testing.T) {
	tests := map[string]string{
		"/draw":     "draw",
		"! draw":    "draw",
		"#抽老婆":      "抽老婆",
		"  draw  ":  "draw",
		"hello /x":  "hello /x",
		"":          "",
	}
	for in, want := range tests {
		if got := NormalizeText(in); got != want {
			t.Fatalf("NormalizeText(%q) = %q want %q", in, got, want)
		}
	}
}

func TestRouterIgnoresNonCommands(t *testing.T) {
	tr := newFakeTransport()
	r := newTestRouter(t, wife.DefaultConfig(), false)
	if got := say(t, r, tr, "a", "good morning"); got != nil {
		t.Fatalf("plain chat produced replies %+v", got)
	}

	prefixed := newTestRouter(t, wife.DefaultConfig(), true)
	if got := say(t, prefixed, tr, "a", "draw"); got != nil {
		t.Fatalf("unaddressed message handled: %+v", got)
	}
	got := prefixed.Handle(context.Background(), Message{Group: "g", Sender: "a", Text: "draw", Addressed: true}, tr)
	if len(got) != 1 {
		t.Fatalf("addressed message not handled: %+v", got)
	}
}

func TestRouterDrawAndBackpack(t *testing.T) {
	tr := newFakeTransport()
	cfg := wife.DefaultConfig()
	cfg.BackpackSize = 2
	r := newTestRouter(t, cfg, false)

	got := say(t, r, tr, "a", "/抽老婆")
	rep := mustContain(t, got, "《sakura》的miku")
	if rep.Image != "sakura!miku.png" {
		t.Fatalf("draw reply image %q", rep.Image)
	}
	mustContain(t, got, "slot 1")

	again := say(t, r, tr, "a", "/draw")
	for _, rep := range again {
		if strings.Contains(rep.Text, "Saved to backpack") {
			t.Fatalf("second draw reported a new save: %q", rep.Text)
		}
	}

	list := say(t, r, tr, "a", "/backpack")
	mustContain(t, list, "1. 《sakura》的miku [today]")
	mustContain(t, list, "3. (empty) (temporary)")

	view := say(t, r, tr, "b", "/wife @a 1")
	if rep := mustContain(t, view, "a-nick's 1 slot"); rep.Image != "sakura!miku.png" {
		t.Fatalf("inspect image %q", rep.Image)
	}
	mustContain(t, say(t, r, tr, "b", "/wife 9"), "slots range from 1 to 3")
	mustContain(t, say(t, r, tr, "b", "/wife 1 2"), "usage")
}

func TestRouterReplace(t *testing.T) {
	tr := newFakeTransport()
	cfg := wife.DefaultConfig()
	cfg.BackpackSize = 2
	r := newTestRouter(t, cfg, false)

	mustContain(t, say(t, r, tr, "a", "/replace 2"), "no wife today")
	say(t, r, tr, "a", "/draw")
	mustContain(t, say(t, r, tr, "a", "/replace"), "usage")
	mustContain(t, say(t, r, tr, "a", "/replace 3"), "from 1 to 2")
	mustContain(t, say(t, r, tr, "a", "/替换老婆 2"), "slot 2")
	mustContain(t, say(t, r, tr, "a", "/backpack"), "2. 《sakura》的miku [today]")
}

func TestRouterAdminCommands(t *testing.T) {
	tr := newFakeTransport()
	tr.names["b"] = "Bea"
	r := newTestRouter(t, wife.DefaultConfig(), false, "admin")

	mustContain(t, say(t, r, tr, "a", "/togglecontest"), "not allowed")
	mustContain(t, say(t, r, tr, "a", "/send @b miku"), "admins only")

	mustContain(t, say(t, r, tr, "admin", "/send @b nothing-like-this"), "no wife image contains")
	got := say(t, r, tr, "admin", "/send miku", "b")
	if rep := mustContain(t, got, "@b"); rep.Image != "sakura!miku.png" {
		t.Fatalf("send image %q", rep.Image)
	}

	mustContain(t, say(t, r, tr, "admin", "/togglecontest"), "now off")
	mustContain(t, say(t, r, tr, "a", "/contest @b"), "switched off")
	mustContain(t, say(t, r, tr, "admin", "/切换ntr开关状态"), "now on")
}

func TestRouterContest(t *testing.T) {
	tr := newFakeTransport()
	cfg := wife.DefaultConfig()
	cfg.ContestChance = 1
	r := newTestRouter(t, cfg, false)

	mustContain(t, say(t, r, tr, "a", "/contest"), "mention the user")
	mustContain(t, say(t, r, tr, "a", "/contest @a"), "cannot target yourself")
	mustContain(t, say(t, r, tr, "a", "/contest @b"), "no wife today")

	say(t, r, tr, "b", "/draw")
	got := say(t, r, tr, "a", "/牛老婆 b-nick")
	mustContain(t, got, "you took")
	mustContain(t, got, "2 attempt(s) left")
	mustContain(t, say(t, r, tr, "a", "/backpack"), "(from b-nick)")
	mustContain(t, say(t, r, tr, "b", "/backpack"), "1. (empty)")
}

func TestRouterFailedResetMutes(t *testing.T) {
	tr := newFakeTransport()
	cfg := wife.DefaultConfig()
	cfg.ResetChance = 0
	cfg.ResetMute = time.Minute
	r := newTestRouter(t, cfg, false, "admin")

	mustContain(t, say(t, r, tr, "a", "/resetcontest"), "muted for 1m0s")
	if tr.muted["a"] != time.Minute {
		t.Fatalf("mute not applied: %v", tr.muted)
	}
	mustContain(t, say(t, r, tr, "a", "/重置牛"), "1 per day")
	mustContain(t, say(t, r, tr, "admin", "/resetreroll @a"), "Admin action")
}

func TestRouterTradeFlow(t *testing.T) {
	tr := newFakeTransport()
	r := newTestRouter(t, wife.DefaultConfig(), false)

	say(t, r, tr, "a", "/draw")
	say(t, r, tr, "b", "/draw")

	mustContain(t, say(t, r, tr, "a", "/trade @b 1"), "usage")
	mustContain(t, say(t, r, tr, "a", "/trade @b"), "/accept @a")
	mustContain(t, say(t, r, tr, "a", "/交换老婆 @b"), "pending trade request")

	mustContain(t, say(t, r, tr, "b", "/trades"), "a-nick offers their slot 1 for your slot 1")
	mustContain(t, say(t, r, tr, "a", "/trades"), "you offered b-nick")

	mustContain(t, say(t, r, tr, "b", "/accept"), "mention who proposed")
	mustContain(t, say(t, r, tr, "b", "/accept @a"), "Trade done")
	mustContain(t, say(t, r, tr, "b", "/reject @a"), "no such trade request")
	mustContain(t, say(t, r, tr, "b", "/trades"), "no trade requests")
}

func TestRouterHelp(t *testing.T) {
	r := newTestRouter(t, wife.DefaultConfig(), false)
	got := say(t, r, newFakeTransport(), "a", "老婆帮助")
	mustContain(t, got, "/replace <1-7>")
}

func TestLoadAdmins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmd_config.json")
	body := "\xef\xbb\xbf" + `{"admins_id": [12345678901, "42", true]}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	a, err := LoadAdmins([]string{" 7 ", ""}, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, id := range []string{"7", "42", "12345678901"} {
		if !a.Contains(id) {
			t.Fatalf("missing admin %s", id)
		}
	}
	if a.Len() != 3 {
		t.Fatalf("admins %d", a.Len())
	}

	missing, err := LoadAdmins([]string{"1"}, filepath.Join(t.TempDir(), "none.json"))
	if err != nil || !missing.Contains("1") {
		t.Fatalf("missing file: %v", err)
	}
}

func TestParseDiscordContent(t *testing.T) {
	text, mentions, addressed := parseDiscordContent("<@99> /contest <@!12>  3 <@12>", "99")
	if text != "/contest 3" || !addressed {
		t.Fatalf("text %q addressed %v", text, addressed)
	}
	if len(mentions) != 1 || mentions[0] != "12" {
		t.Fatalf("mentions %v", mentions)
	}
}

func TestParseWhatsAppText(t *testing.T) {
	text, users, addressed := parseWhatsAppText(
		"@100 trade @200 1 2 @300",
		[]string{"100@s.whatsapp.net", "200@s.whatsapp.net"},
		"100",
	)
	if text != "trade 1 2 @300" || !addressed {
		t.Fatalf("text %q addressed %v", text, addressed)
	}
	if len(users) != 1 || users[0] != "200" {
		t.Fatalf("users %v", users)
	}
}
