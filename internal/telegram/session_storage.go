package telegram

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	tdsession "github.com/gotd/td/session"
)

// FileSessionStorage implements session.Storage on a JSON file. Writes go
// to a temporary file in the same directory that is then renamed over the
// target, so a crash never leaves a truncated session behind.
//
// An empty or malformed file loads as tdsession.ErrNotFound, which makes the
// client start a fresh login instead of failing.
type FileSessionStorage struct {
	Path string
	mux  sync.Mutex
}

func (s *FileSessionStorage) LoadSession(_ context.Context) ([]byte, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return nil, tdsession.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || !json.Valid(data) {
		return nil, tdsession.ErrNotFound
	}
	return data, nil
}

func (s *FileSessionStorage) StoreSession(_ context.Context, data []byte) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	return writeFileAtomic(s.Path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
