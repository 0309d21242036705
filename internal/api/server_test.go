package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"animewife/internal/bot"
	"animewife/internal/images"
	"animewife/internal/store"
	"animewife/internal/wife"
)

func newTestServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	imgDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(imgDir, "src!chara.png"), []byte("png"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	backend, err := store.NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	source := images.NewSource(imgDir, "", "https://cdn.example.com/wife/", time.Second)
	svc := wife.NewService(wife.DefaultConfig(), backend, source, logger)
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	router := bot.NewRouter(svc, bot.NewAdmins(nil), false, logger)
	srv := httptest.NewServer(New(Options{Token: token}, logger, svc, router, source).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp, out
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, "secret")
	resp, body := do(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("healthz %d %v", resp.StatusCode, body)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, "secret")
	url := srv.URL + "/v1/groups/g/users/u/backpack"
	if resp, _ := do(t, http.MethodGet, url, "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodGet, url, "wrong", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodGet, url, "secret", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("good token: %d", resp.StatusCode)
	}
}

func TestMessageDrawThenBackpack(t *testing.T) {
	srv := newTestServer(t, "")
	resp, body := do(t, http.MethodPost, srv.URL+"/v1/groups/g/messages", "", map[string]any{
		"sender_id":   "u1",
		"sender_name": "Alice",
		"text":        "/draw",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("message: %d %v", resp.StatusCode, body)
	}
	replies, _ := body["replies"].([]any)
	if len(replies) != 1 {
		t.Fatalf("replies %v", body)
	}
	rep := replies[0].(map[string]any)
	if rep["image"] != "src!chara.png" || rep["image_url"] != "https://cdn.example.com/wife/src!chara.png" {
		t.Fatalf("reply %v", rep)
	}
	if !strings.Contains(rep["text"].(string), "《src》的chara") {
		t.Fatalf("reply text %q", rep["text"])
	}
	if id, _ := body["message_id"].(string); id == "" {
		t.Fatalf("missing message id")
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/v1/groups/g/users/u1/backpack", "", nil)
	if resp.StatusCode != http.StatusOK || body["today_slot"] != float64(1) || body["used"] != float64(1) {
		t.Fatalf("backpack %d %v", resp.StatusCode, body)
	}
	if body["owner_nick"] != "Alice" {
		t.Fatalf("owner nick %v", body["owner_nick"])
	}
}

func TestMessageValidation(t *testing.T) {
	srv := newTestServer(t, "")
	url := srv.URL + "/v1/groups/g/messages"
	if resp, _ := do(t, http.MethodPost, url, "", map[string]any{"text": "/draw"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing sender: %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodPost, url, "", map[string]any{"sender_id": "u", "bogus": 1}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field: %d", resp.StatusCode)
	}
	resp, body := do(t, http.MethodPost, url, "", map[string]any{"sender_id": "u", "text": "hello"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat: %d", resp.StatusCode)
	}
	if replies, _ := body["replies"].([]any); len(replies) != 0 {
		t.Fatalf("plain chat replies %v", replies)
	}
}

func TestTradesEmptyLists(t *testing.T) {
	srv := newTestServer(t, "")
	resp, body := do(t, http.MethodGet, srv.URL+"/v1/groups/g/users/u/trades", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("trades %d", resp.StatusCode)
	}
	if sent, ok := body["sent"].([]any); !ok || len(sent) != 0 {
		t.Fatalf("sent %v", body["sent"])
	}
}

func TestImageEndpoint(t *testing.T) {
	srv := newTestServer(t, "")
	resp, err := http.Get(srv.URL + "/v1/images/src!chara.png")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(raw) != "png" || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("image %d %q %q", resp.StatusCode, raw, resp.Header.Get("Content-Type"))
	}

	if resp, _ := do(t, http.MethodGet, srv.URL+"/v1/images/notes.txt", "", nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id: %d", resp.StatusCode)
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"":             "",
		"Bearer":       "",
	}
	for in, want := range tests {
		if got := bearerToken(in); got != want {
			t.Fatalf("bearerToken(%q) = %q want %q", in, got, want)
		}
	}
}
