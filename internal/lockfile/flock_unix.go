//go:build unix

package lockfile

import (
	"os"

	"golang.org/x/sys/unix"
)

// Shared acquires a shared, non-blocking lock on f. Multiple readers may
// hold a shared lock concurrently; it fails with ErrLockBusy if an
// exclusive lock is already held.
func Shared(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK {
			return ErrLockBusy
		}
		return err
	}
	return nil
}

// Exclusive acquires an exclusive, non-blocking lock on f.
func Exclusive(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK {
			return ErrLockBusy
		}
		return err
	}
	return nil
}

// Unlock releases any lock held on f.
func Unlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
