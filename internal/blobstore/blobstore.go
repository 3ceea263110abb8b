// Package blobstore implements the content-addressed on-disk cache (C2):
// put/get/list/clear over a directory tree, with atomic writes and a
// directory enumeration offloaded to a bounded worker pool.
//
// The on-disk layout follows the same sharding idea as
// revproxy.Server.makePath in the teacher package (shard by the first two
// hex digits of a hash, to bound directory fan-out), but the filename
// component is the escaped cache key itself rather than only a hash, so
// List can recover the original key without consulting the decoded
// payload.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/creachadair/atomicfile"
	"github.com/creachadair/taskgroup"
)

// ErrNotFound is returned by Get when key has no cached bytes.
var ErrNotFound = errors.New("blobstore: not found")

// Entry describes one stored blob as reported by List.
type Entry struct {
	Key       string
	Size      int64
	CreatedAt time.Time
}

// Store is a content-addressed blob store rooted at Dir.
type Store struct {
	// Dir is the root directory for the store. It must be set before any
	// method is called.
	Dir string

	initOnce sync.Once
	tasks    *taskgroup.Group
	start    func(taskgroup.Task) *taskgroup.Group
}

// New returns a Store rooted at dir.
func New(dir string) *Store { return &Store{Dir: dir} }

func (s *Store) init() {
	s.initOnce.Do(func() {
		s.tasks, s.start = taskgroup.New(nil).Limit(max(1, runtime.NumCPU()))
	})
}

// Put writes data under key, atomically. A concurrent Get on the same key
// observes either the previous full contents or the new full contents,
// never a torn value; a failed Put leaves no partial entry observable.
func (s *Store) Put(key string, data []byte) error {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("blobstore: put %q: %w", key, err)
	}
	if _, err := atomicfile.WriteAll(path, bytes.NewReader(data), 0o600); err != nil {
		return fmt.Errorf("blobstore: put %q: %w", key, err)
	}
	return nil
}

// Get returns the last fully-written bytes stored under key, or
// ErrNotFound.
func (s *Store) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("blobstore: get %q: %w", key, err)
	}
	return data, nil
}

// Clear removes every entry in the store.
func (s *Store) Clear() error {
	if err := os.RemoveAll(s.Dir); err != nil {
		return fmt.Errorf("blobstore: clear: %w", err)
	}
	return os.MkdirAll(s.Dir, 0o700)
}

// List enumerates every key currently in the store. The filesystem walk
// runs on a bounded worker pool (never the calling goroutine) per the
// proxy's requirement that blocking enumeration not stall request
// handling; List itself blocks the caller until the walk completes, but
// callers that must not block (e.g. an HTTP handler) should invoke it from
// their own goroutine or offload it further.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	s.init()
	type result struct {
		entries []Entry
		err     error
	}
	resultCh := make(chan result, 1)
	s.start(func() error {
		entries, err := s.listSync()
		resultCh <- result{entries, err}
		return nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-resultCh:
		return r.entries, r.err
	}
}

func (s *Store) listSync() ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			Key:       unescapeKey(filepath.Base(path)),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return entries, err
}

// path returns the on-disk path for key: Dir/<shard>/<escaped key>, where
// shard is the first two hex characters of sha256(key).
func (s *Store) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	shard := fmt.Sprintf("%x", sum[:1])
	return filepath.Join(s.Dir, shard, escapeKey(key))
}

// escapeKey/unescapeKey make a cache key ("GET@http://host/path") safe to
// use as a single path component by percent-escaping the "/" that would
// otherwise be read as a directory separator, and "%" itself so the
// escaping can be undone losslessly.
func escapeKey(key string) string {
	key = strings.ReplaceAll(key, "%", "%25")
	return strings.ReplaceAll(key, "/", "%2F")
}

func unescapeKey(name string) string {
	name = strings.ReplaceAll(name, "%2F", "/")
	return strings.ReplaceAll(name, "%25", "%")
}
