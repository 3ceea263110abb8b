//go:build linux

package haltlock

import (
	"os"

	"golang.org/x/sys/unix"
)

// ofdSetLkw is F_OFD_SETLKW: like F_SETLKW but the lock is owned by the
// open file description rather than the process, so it survives across
// goroutines and is released the instant the description is closed. The
// raw value (38 on linux/amd64 and arm64) matches what the original
// litefs-rs implementation passes to fcntl(2) directly; x/sys/unix has no
// named constant for it.
const ofdSetLkw = 38

func lockFile(f *os.File) error {
	lk := unix.Flock_t{
		Type:  unix.F_WRLCK,
		Start: haltByteOffset,
		Len:   1,
	}
	return unix.FcntlFlock(f.Fd(), ofdSetLkw, &lk)
}

func unlockFile(f *os.File) error {
	lk := unix.Flock_t{
		Type:  unix.F_UNLCK,
		Start: haltByteOffset,
		Len:   1,
	}
	return unix.FcntlFlock(f.Fd(), ofdSetLkw, &lk)
}
