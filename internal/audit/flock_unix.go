//go:build !windows

package audit

import (
	"os"
	"syscall"
)

// lockFile acquires an exclusive flock, guarding against concurrent
// appends from other processes sharing this audit log path.
func lockFile(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
}

func unlockFile(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
