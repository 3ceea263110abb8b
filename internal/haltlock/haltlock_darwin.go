//go:build darwin

package haltlock

import (
	"os"

	"golang.org/x/sys/unix"
)

// ofdSetLkw is F_OFD_SETLKW on Darwin (91). XNU's bsd/sys/fcntl.h defines
// F_OFD_SETLK as 90 (non-blocking) and F_OFD_SETLKW as 91 (blocking); Halt
// needs the blocking command so it behaves the same way as the Linux
// build tag ("blocks until the lock is granted"), so this must be 91, not
// the trylock variant.
const ofdSetLkw = 91

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
