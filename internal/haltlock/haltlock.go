// Package haltlock implements the replication coordinator (C4): pausing a
// LiteFS-style SQLite replicator on a follower by holding an exclusive
// open-file-description byte-range lock on a sidecar file for the
// duration of a local write.
//
// This is a direct port of the original implementation's litefs-rs crate
// (see original_source/litefs-rs/src/lib.rs): an OFD lock covering one
// byte at offset 72 ("the HALT byte"), acquired and released with the
// F_OFD_SETLKW fcntl command (38 on Linux, 91 on Darwin; see the
// per-platform files). Go's standard library and golang.org/x/sys
// don't expose a named constant for that command on every platform, but
// golang.org/x/sys/unix.FcntlFlock takes the raw command number directly
// — the same function cmd/go-cache-plugin's addca_linux.go already uses
// (with a different, whole-file flock discipline) to lock a certificate
// file before appending to it.
package haltlock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// haltByteOffset is the single byte within the lockfile that the
// replicator treats as the halt signal.
const haltByteOffset = 72

// LockError reports a failed fcntl lock/unlock call, carrying the
// operation and the error it returned (the OS errno, when available).
// The raw fcntl return value is not recorded.
type LockError struct {
	Op    string
	Errno error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("haltlock: %s: %v", e.Op, e.Errno)
}

func (e *LockError) Unwrap() error { return e.Errno }

// Handle pins a held halt lock to the open file description that owns it.
// If the process dies before Unhalt is called, closing (or the OS
// reclaiming) the descriptor releases the lock automatically.
type Handle struct {
	f *os.File
}

// Halt acquires the exclusive halt-byte lock on {dbPath}-lock, creating
// the sidecar file if needed. It blocks until the lock is granted or ctx
// is done. On a context deadline, Halt gives up waiting on the caller's
// behalf but keeps watching in the background: if the lock is eventually
// granted after the caller stopped waiting, it is released immediately so
// a halt is never left held past its owner's lifetime.
func Halt(ctx context.Context, dbPath string) (*Handle, error) {
	f, err := os.OpenFile(lockfilePath(dbPath), os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("haltlock: open lockfile: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- lockFile(f) }()

	select {
	case err := <-done:
		if err != nil {
			f.Close()
			return nil, &LockError{Op: "halt", Errno: err}
		}
		return &Handle{f: f}, nil
	case <-ctx.Done():
		go func() {
			if err := <-done; err == nil {
				unlockFile(f)
			}
			f.Close()
		}()
		return nil, fmt.Errorf("haltlock: halt: %w", ctx.Err())
	}
}

// Unhalt releases a lock acquired by Halt. It is safe to call exactly
// once per successful Halt.
func Unhalt(h *Handle) error {
	defer h.f.Close()
	if err := unlockFile(h.f); err != nil {
		return &LockError{Op: "unhalt", Errno: err}
	}
	return nil
}

// Lag reads the replication lag the replicator publishes alongside
// dbPath, in {dirname(dbPath)}/.lag (a plain decimal millisecond count).
func Lag(dbPath string) (time.Duration, error) {
	lagPath := filepath.Join(filepath.Dir(dbPath), ".lag")
	data, err := os.ReadFile(lagPath)
	if err != nil {
		return 0, fmt.Errorf("haltlock: lag: %w", err)
	}
	ms, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("haltlock: lag: parse %q: %w", data, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func lockfilePath(dbPath string) string { return dbPath + "-lock" }

// Enabled reports whether the replication coordinator should be used at
// all: the system must be running under the replicator (signaled by the
// LITEFS environment variable, per spec) and a real on-disk database path
// must be configured. Without both, C4 is an optional no-op collaborator.
func Enabled(litefsEnv, dbPath string) bool {
	return litefsEnv != "" && dbPath != ""
}
