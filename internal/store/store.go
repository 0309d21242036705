package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
)

type Status int

const (
	StatusFound Status = iota
	StatusNotFound
	StatusCorrupt
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNotFound:
		return "not_found"
	case StatusCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// Result is what a backend returns for a read. Err is set only for StatusCorrupt.
type Result struct {
	Status Status
	Data   []byte
	Err    error
}

type Backend interface {
	Load(ctx context.Context, key string) Result
	Save(ctx context.Context, key string, data []byte) error
}

var ErrInvalidKey = errors.New("invalid document key")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// LoadJSON decodes the document stored under key into v. A document that
// exists but cannot be decoded is reported as StatusCorrupt; v is left
// untouched in that case.
func LoadJSON(ctx context.Context, b Backend, key string, v any) (Status, error) {
	res := b.Load(ctx, key)
	if res.Status != StatusFound {
		return res.Status, res.Err
	}
	data := bytes.TrimPrefix(res.Data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return StatusNotFound, nil
	}
	dst := reflect.ValueOf(v)
	if dst.Kind() != reflect.Pointer || dst.IsNil() {
		return StatusCorrupt, fmt.Errorf("decode %s: %w", key, &json.InvalidUnmarshalError{Type: reflect.TypeOf(v)})
	}
	tmp := reflect.New(dst.Type().Elem())
	if err := json.Unmarshal(data, tmp.Interface()); err != nil {
		return StatusCorrupt, fmt.Errorf("decode %s: %w", key, err)
	}
	dst.Elem().Set(tmp.Elem())
	return StatusFound, nil
}

func SaveJSON(ctx context.Context, b Backend, key string, v any) error {
	raw, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return b.Save(ctx, key, raw)
}

// File stores one JSON file per key inside dir.
type File struct {
	dir string
}

func NewFile(dir string) (*File, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &File{dir: dir}, nil
}

func (f *File) Dir() string {
	return f.dir
}

func (f *File) Path(key string) (string, error) {
	name, err := fileName(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.dir, name+".json"), nil
}

func (f *File) Load(_ context.Context, key string) Result {
	path, err := f.Path(key)
	if err != nil {
		return Result{Status: StatusCorrupt, Err: err}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Status: StatusNotFound}
		}
		return Result{Status: StatusCorrupt, Err: err}
	}
	return Result{Status: StatusFound, Data: raw}
}

func (f *File) Save(_ context.Context, key string, data []byte) error {
	path, err := f.Path(key)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o644)
}

// WriteFileAtomic replaces path with data so that readers observe either the
// old or the new content, never a partial write.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// fileName escapes every byte outside [A-Za-z0-9._@-] as %XX. '%' itself is
// escaped, so distinct keys never map to the same name.
func fileName(key string) (string, error) {
	if key == "" || key == "." || key == ".." {
		return "", ErrInvalidKey
	}
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '_', c == '@', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0F])
		}
	}
	return b.String(), nil
}
