//go:build darwin || linux || freebsd || netbsd || openbsd || dragonfly

package cachelock

import (
	stderrors "errors"
	"os"

	"golang.org/x/sys/unix"
)

const supported = true

// flock locks belong to the open file description, so two handles in the
// same process exclude each other just like two processes do.
func tryLock(f *os.File) error {
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		switch {
		case err == nil:
			return nil
		case stderrors.Is(err, unix.EINTR):
			continue
		case stderrors.Is(err, unix.EWOULDBLOCK):
			return errHeld
		default:
			return err
		}
	}
}

func unlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
