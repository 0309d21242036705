package images

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

var allowedExts = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".webp": {},
	".gif":  {},
}

var ErrNotFound = errors.New("image not found")

// Normalize validates an image identifier and returns its clean relative form.
// URLs, absolute paths, drive letters, traversal and non-image extensions are
// rejected.
func Normalize(id string) (string, bool) {
	s := strings.TrimSpace(id)
	if s == "" || strings.Contains(s, "://") {
		return "", false
	}
	s = strings.ReplaceAll(s, `\`, "/")
	s = strings.TrimLeft(s, "/")
	if s == "" {
		return "", false
	}
	clean := path.Clean(s)
	if strings.Contains(clean, ":") {
		return "", false
	}
	if path.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	if _, ok := allowedExts[strings.ToLower(path.Ext(clean))]; !ok {
		return "", false
	}
	return clean, true
}

// DisplayName turns "source!chara.jpg" into "《source》的chara" and anything
// else into its base name without extension.
func DisplayName(id string) string {
	base := path.Base(strings.ReplaceAll(id, `\`, "/"))
	name := strings.TrimSuffix(base, path.Ext(base))
	if source, chara, ok := strings.Cut(name, "!"); ok {
		return "《" + source + "》的" + chara
	}
	return name
}

// Source lists drawable images from a local directory, falling back to a
// remote line-delimited list.
type Source struct {
	dir     string
	listURL string
	baseURL string
	http    *http.Client
}

func NewSource(dir, listURL, baseURL string, timeout time.Duration) *Source {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Source{
		dir:     strings.TrimSpace(dir),
		listURL: strings.TrimSpace(listURL),
		baseURL: strings.TrimSpace(baseURL),
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *Source) List(ctx context.Context) ([]string, error) {
	if local := s.listLocal(); len(local) > 0 {
		return local, nil
	}
	url := s.listURL
	if url == "" {
		url = s.baseURL
	}
	if url == "" {
		return nil, nil
	}
	return s.listRemote(ctx, url)
}

func (s *Source) listLocal() []string {
	if s.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if id, ok := Normalize(e.Name()); ok {
			out = append(out, id)
		}
	}
	return out
}

func (s *Source) listRemote(ctx context.Context, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image list: status %d", resp.StatusCode)
	}
	var out []string
	sc := bufio.NewScanner(io.LimitReader(resp.Body, 8<<20))
	for sc.Scan() {
		if id, ok := Normalize(sc.Text()); ok {
			out = append(out, id)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read image list: %w", err)
	}
	return out, nil
}

// LocalPath returns the on-disk file for id when it exists inside the image
// directory.
func (s *Source) LocalPath(id string) (string, bool) {
	rel, ok := Normalize(id)
	if !ok || s.dir == "" {
		return "", false
	}
	base, err := filepath.Abs(s.dir)
	if err != nil {
		return "", false
	}
	cand := filepath.Join(base, filepath.FromSlash(rel))
	r, err := filepath.Rel(base, cand)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", false
	}
	st, err := os.Stat(cand)
	if err != nil || !st.Mode().IsRegular() {
		return "", false
	}
	return cand, true
}

// URL returns the remote location of id, or "" without a base URL.
func (s *Source) URL(id string) string {
	rel, ok := Normalize(id)
	if !ok || s.baseURL == "" {
		return ""
	}
	return s.baseURL + rel
}

// Fetch returns the image bytes from disk or the remote base URL.
func (s *Source) Fetch(ctx context.Context, id string) ([]byte, string, error) {
	if p, ok := s.LocalPath(id); ok {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, "", err
		}
		return raw, contentType(p), nil
	}
	url := s.URL(id)
	if url == "" {
		return nil, "", ErrNotFound
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = contentType(id)
	}
	return raw, ct, nil
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}
