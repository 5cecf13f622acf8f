package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/GladstoneOG/wabot/pkg/logx"
)

// fileStore writes <dir>/<name>.json through a tmp file and rename.
//
// Every saved document is also kept in memory. When the disk is unreadable
// or unwritable the store keeps serving the memory copy and logs a warning,
// so a read-only data dir degrades to a non-persistent session instead of
// failing requests.
type fileStore struct {
	dir string
	log logx.Logger

	mu  sync.Mutex
	mem map[string][]byte
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn("storage dir not writable; using memory fallback", logx.String("dir", dir), logx.Err(err))
	}
	return &fileStore{dir: dir, log: log, mem: map[string][]byte{}}, nil
}

func (s *fileStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *fileStore) Load(_ context.Context, name string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path(name))
	switch {
	case err == nil:
		derr := decodeDoc(name, b, out)
		if derr == nil {
			s.mem[name] = b
			return true, nil
		}
		s.log.Warn("document unreadable; using memory fallback", logx.String("name", name), logx.Err(derr))
	case errors.Is(err, fs.ErrNotExist):
	default:
		s.log.Warn("document read failed; using memory fallback", logx.String("name", name), logx.Err(err))
	}

	mb, ok := s.mem[name]
	if !ok {
		return false, nil
	}
	return true, decodeDoc(name, mb, out)
}

func (s *fileStore) Save(_ context.Context, name string, v any) error {
	b, err := encodeDoc(name, v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem[name] = b
	if err := writeFileAtomic(s.path(name), b); err != nil {
		s.log.Warn("document write failed; kept in memory", logx.String("name", name), logx.Err(err))
	}
	return nil
}

func (s *fileStore) Close() error { return nil }

func writeFileAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
