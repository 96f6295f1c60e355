//go:build windows

package whisper

import "os"

// Windows has no flock; callers rely on the in-process per-file locks.
func lockFile(f *os.File, exclusive bool) error {
	return nil
}

func unlockFile(f *os.File) error {
	return nil
}
