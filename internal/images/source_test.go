package images

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "a.png", want: "a.png", ok: true},
		{in: "  img1/B.JPG ", want: "img1/B.JPG", ok: true},
		{in: `dir\c.webp`, want: "dir/c.webp", ok: true},
		{in: "/abs/d.gif", want: "abs/d.gif", ok: true},
		{in: "x/../e.jpeg", want: "e.jpeg", ok: true},
		{in: "../f.png", ok: false},
		{in: "a/../../g.png", ok: false},
		{in: "C:/h.png", ok: false},
		{in: "https://example.com/i.png", ok: false},
		{in: "notes.txt", ok: false},
		{in: "", ok: false},
		{in: "///", ok: false},
	}
	for _, tc := range tests {
		got, ok := Normalize(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("Normalize(%q) = %q,%v want %q,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestDisplayName(t *testing.T) {
	tests := map[string]string{
		"sakura!miku.png":   "《sakura》的miku",
		"dir/plain.jpg":     "plain",
		`dir\src!name.webp`: "《src》的name",
	}
	for in, want := range tests {
		if got := DisplayName(in); got != want {
			t.Fatalf("DisplayName(%q) = %q want %q", in, got, want)
		}
	}
}

func TestListPrefersLocalDirectory(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.jpg", "readme.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.png"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte("remote.png\n"))
	}))
	defer srv.Close()

	s := NewSource(dir, srv.URL, "", time.Second)
	ids, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a.png" || ids[1] != "b.jpg" {
		t.Fatalf("ids %v", ids)
	}
	if hits != 0 {
		t.Fatalf("remote list fetched while local images exist")
	}
}

func TestListRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("one.png\r\n\n../evil.png\nsrc!two.jpg\nhttp://x/y.png\n"))
	}))
	defer srv.Close()

	s := NewSource(t.TempDir(), srv.URL+"/list.txt", "", time.Second)
	ids, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != "one.png" || ids[1] != "src!two.jpg" {
		t.Fatalf("ids %v", ids)
	}
}

func TestListRemoteStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewSource("", srv.URL, "", time.Second)
	if _, err := s.List(context.Background()); err == nil {
		t.Fatalf("expected error on bad status")
	}
	empty := NewSource("", "", "", time.Second)
	if ids, err := empty.List(context.Background()); err != nil || len(ids) != 0 {
		t.Fatalf("unconfigured source: %v %v", ids, err)
	}
}

func TestFetch(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "local.png"), []byte("png-bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/img/remote.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpg-bytes"))
	}))
	defer srv.Close()

	s := NewSource(dir, "", srv.URL+"/img/", time.Second)
	ctx := context.Background()

	raw, ct, err := s.Fetch(ctx, "local.png")
	if err != nil || string(raw) != "png-bytes" || ct != "image/png" {
		t.Fatalf("local fetch: %q %q %v", raw, ct, err)
	}
	raw, ct, err = s.Fetch(ctx, "remote.jpg")
	if err != nil || string(raw) != "jpg-bytes" || ct != "image/jpeg" {
		t.Fatalf("remote fetch: %q %q %v", raw, ct, err)
	}
	if _, _, err := s.Fetch(ctx, "missing.png"); err == nil {
		t.Fatalf("expected error for missing remote image")
	}

	offline := NewSource(dir, "", "", time.Second)
	if _, _, err := offline.Fetch(ctx, "../etc/passwd.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("traversal must not resolve, got %v", err)
	}
}
