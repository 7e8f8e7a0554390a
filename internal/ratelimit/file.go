package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/nazarhussain/form-guard/internal/logging"
)

const (
	FilePermission = 0600
	DirPermission  = 0700

	lockRetryDelay = 10 * time.Millisecond
	lockTimeout    = 2 * time.Second
)

// FileStore persists the whole identity -> timestamps mapping as one JSON
// document. Writers serialize on an in-process mutex and an advisory lock on
// a sibling ".lock" file; the document is replaced by rename, so readers
// never see a half-written file and need no lock.
type FileStore struct {
	path      string
	retention time.Duration

	mu   sync.Mutex
	lock *flock.Flock
}

// NewFileStore opens a store at path. retention bounds how long entries are
// kept on disk; it should be at least the longest window passed to Admit.
func NewFileStore(path string, retention time.Duration) *FileStore {
	if retention <= 0 {
		retention = DefaultWindow
	}
	return &FileStore{
		path:      path,
		retention: retention,
		lock:      flock.New(path + ".lock"),
	}
}

func (s *FileStore) Path() string { return s.path }

// Admit prunes the identity's history in memory and compares it to max.
func (s *FileStore) Admit(ctx context.Context, identity string, now time.Time, window time.Duration, max int) bool {
	data, err := s.load()
	if err != nil {
		logging.FromContext(ctx).Warn("rate limit store unreadable, admitting",
			"path", s.path, "err", err)
		return true
	}
	return Allowed(data[identity], now, window, max)
}

// Record appends now to identity's history and rewrites the document with
// every identity pruned to the retention window.
func (s *FileStore) Record(ctx context.Context, identity string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), DirPermission); err != nil {
		return fmt.Errorf("failed to create rate limit dir: %w", err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := s.lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLockTimeout, s.path, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLockTimeout, s.path)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			logging.FromContext(ctx).Error("rate limit store unlock failed", "path", s.path, "err", err)
		}
	}()

	data, err := s.load()
	if err != nil {
		logging.FromContext(ctx).Warn("rate limit store unreadable, starting empty",
			"path", s.path, "err", err)
		data = map[string][]int64{}
	}

	for id, stamps := range data {
		if kept := Prune(stamps, now, s.retention); len(kept) > 0 {
			data[id] = kept
		} else {
			delete(data, id)
		}
	}
	data[identity] = append(data[identity], now.Unix())

	return s.save(data)
}

// Snapshot returns the persisted mapping as last written.
func (s *FileStore) Snapshot() (map[string][]int64, error) {
	return s.load()
}

func (s *FileStore) load() (map[string][]int64, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string][]int64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limit store: %w", err)
	}
	if len(raw) == 0 {
		return map[string][]int64{}, nil
	}

	data := map[string][]int64{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse rate limit store: %w", err)
	}
	return data, nil
}

func (s *FileStore) save(data map[string][]int64) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal rate limit store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write rate limit store: %w", err)
	}
	if err := tmp.Chmod(FilePermission); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod rate limit store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close rate limit store: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace rate limit store: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
