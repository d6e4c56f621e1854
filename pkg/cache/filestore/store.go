// Package filestore is a durable cache Store that keeps one record per file.
//
// Records live at <dir>/<h[0:2]>/<h>, where h is the hex BLAKE3 hash of the
// cache key. Writes go to a temporary file in the same directory and are
// renamed into place, so readers never see a partial record.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pario-ai/goscli/pkg/cache"
)

const tempPrefix = ".tmp-"

// Store implements cache.Store on the local filesystem.
type Store struct {
	dir string
}

var _ cache.Store = (*Store)(nil)

// New creates a Store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(key string) string {
	h := cache.HashKey(key)
	return filepath.Join(s.dir, h[:2], h)
}

// Get reads the record for key.
func (s *Store) Get(_ context.Context, key string) (cache.Record, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return cache.Record{}, cache.ErrNotFound
	}
	if err != nil {
		return cache.Record{}, fmt.Errorf("read record: %w", err)
	}
	return cache.DecodeRecord(data)
}

// Put writes rec atomically.
func (s *Store) Put(_ context.Context, rec cache.Record) error {
	data, err := cache.EncodeRecord(rec)
	if err != nil {
		return err
	}

	path := s.path(rec.Key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close record: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

// Delete removes the record for key.
func (s *Store) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// Clear removes the whole directory tree and recreates the root.
func (s *Store) Clear(_ context.Context) error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("clear cache dir: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("recreate cache dir: %w", err)
	}
	return nil
}

// Purge removes expired and unreadable records, plus temp files left by
// interrupted writes.
func (s *Store) Purge(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	err := s.walk(ctx, func(path string, isTemp bool) error {
		if !isTemp {
			data, err := os.ReadFile(path)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			rec, err := cache.DecodeRecord(data)
			if err == nil && !rec.Expired(now) {
				return nil
			}
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if !isTemp {
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("purge cache dir: %w", err)
	}
	return removed, nil
}

// Len counts stored records.
func (s *Store) Len(ctx context.Context) (int64, error) {
	var n int64
	err := s.walk(ctx, func(_ string, isTemp bool) error {
		if !isTemp {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count cache dir: %w", err)
	}
	return n, nil
}

// Close is a no-op; the store holds no open handles.
func (s *Store) Close() error {
	return nil
}

func (s *Store) walk(ctx context.Context, fn func(path string, isTemp bool) error) error {
	return filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		return fn(path, strings.HasPrefix(d.Name(), tempPrefix))
	})
}
