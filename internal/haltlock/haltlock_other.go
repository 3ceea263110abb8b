//go:build !linux && !darwin

package haltlock

import (
	"errors"
	"os"
)

var errUnsupported = errors.New("haltlock: OFD locking not supported on this platform")

func lockFile(f *os.File) error   { return errUnsupported }
func unlockFile(f *os.File) error { return errUnsupported }
