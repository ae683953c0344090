// Package lockfile provides cross-process advisory file locking, used by
// internal/backend/dolt's access lock to guard an embedded Dolt data
// directory against use by a second process at the same time.
package lockfile

import "errors"

// ErrLockBusy is returned when a non-blocking lock attempt fails because
// another process already holds a conflicting lock.
var ErrLockBusy = errors.New("lockfile: busy, held by another process")

// IsBusy reports whether err indicates the lock is held by another process.
func IsBusy(err error) bool {
	return errors.Is(err, ErrLockBusy)
}
