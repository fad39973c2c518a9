//go:build windows

package audit

import "os"

// lockFile is a no-op on Windows; only the in-process mutex serializes
// appends, so other processes writing the same file are not excluded.
func lockFile(_ *os.File) error   { return nil }
func unlockFile(_ *os.File) error { return nil }
