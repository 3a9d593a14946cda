package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofrs/flock"

	"bashbook/domain"
)

const lockRetryDelay = 10 * time.Millisecond

// FileStore keeps the guest list as a single JSON array on disk.
//
// Every read-modify-write holds an exclusive advisory lock on a sibling
// ".lock" file so separate processes sharing the file serialise too.
type FileStore struct {
	path string
	lock *flock.Flock
	// flock treats repeated Lock calls on one handle as held, so
	// goroutines of this process also need mu.
	mu sync.RWMutex
}

// NewFileStore returns a store backed by path. The file is not touched until
// the first operation.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, lock: flock.New(path + ".lock")}
}

// Path returns the data file location.
func (s *FileStore) Path() string { return s.path }

// EnsureFile seeds an empty list when the data file does not exist yet. It
// reports whether a file was created.
func (s *FileStore) EnsureFile(ctx context.Context) (bool, error) {
	unlock, err := s.acquire(ctx, true)
	if err != nil {
		return false, err
	}
	defer unlock()

	if _, err := os.Stat(s.path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat %s: %w", s.path, err)
	}
	if err := s.write([]domain.Guest{}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) Load(ctx context.Context) ([]domain.Guest, error) {
	unlock, err := s.acquire(ctx, false)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.read()
}

func (s *FileStore) Replace(ctx context.Context, guests []domain.Guest) error {
	unlock, err := s.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()
	return s.write(guests)
}

func (s *FileStore) Delete(ctx context.Context, id string) (int, error) {
	unlock, err := s.acquire(ctx, true)
	if err != nil {
		return 0, err
	}
	defer unlock()

	guests, err := s.read()
	if err != nil {
		return 0, err
	}
	remaining, _ := domain.Remove(guests, id)
	if err := s.write(remaining); err != nil {
		return 0, err
	}
	return len(remaining), nil
}

func (s *FileStore) acquire(ctx context.Context, exclusive bool) (func(), error) {
	if exclusive {
		s.mu.Lock()
	} else {
		s.mu.RLock()
	}
	release := func() {
		if exclusive {
			s.mu.Unlock()
		} else {
			s.mu.RUnlock()
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		release()
		return nil, fmt.Errorf("mkdir: %w", err)
	}

	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = s.lock.TryLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = s.lock.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil || !locked {
		release()
		if err == nil {
			err = errors.New("lock not acquired")
		}
		return nil, fmt.Errorf("lock %s: %w", s.path, err)
	}

	return func() {
		_ = s.lock.Unlock()
		release()
	}, nil
}

func (s *FileStore) read() ([]domain.Guest, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read file: %w", ErrUnreadable, err)
	}
	var guests []domain.Guest
	if err := sonic.Unmarshal(b, &guests); err != nil {
		return nil, fmt.Errorf("%w: json unmarshal: %w", ErrUnreadable, err)
	}
	if guests == nil {
		guests = []domain.Guest{}
	}
	return guests, nil
}

// write replaces the file through a rename so readers never see a partial
// document.
func (s *FileStore) write(guests []domain.Guest) error {
	if guests == nil {
		guests = []domain.Guest{}
	}
	b, err := sonic.Marshal(guests)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
