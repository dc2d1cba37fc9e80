package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// Exists reports whether anything (file, directory, FIFO, dangling symlink) occupies path.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// IsFIFO reports whether path is a named pipe.
func IsFIFO(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&fs.ModeNamedPipe != 0
}

// EnsureFIFO guarantees a named pipe exists at path. An existing FIFO is kept;
// any other file at that location is unlinked and replaced.
func EnsureFIFO(path string, mode uint32) error {
	if path == "" {
		return errors.New("fifo path is empty")
	}
	if IsFIFO(path) {
		return nil
	}
	if Exists(path) {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove stale %s: %w", path, err)
		}
	}
	if err := unix.Mkfifo(path, mode); err != nil {
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}
	return nil
}

// RemoveIfExists deletes path, treating a missing file as success.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
