//go:build unix && !linux && !aix

package dirfs

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ReadDir lists through os.File on a duplicate of fd so that closing the
// wrapper leaves the caller's descriptor open.
func (osFS) ReadDir(fd int) ([]DirEntry, error) {
	dup, err := unix.Dup(fd)
	if err != nil {
		return nil, fmt.Errorf("dup fd %d: %w", fd, err)
	}
	f := os.NewFile(uintptr(dup), "")
	defer f.Close()

	list, err := f.ReadDir(-1)
	if err != nil {
		return nil, fmt.Errorf("readdir fd %d: %w", fd, err)
	}
	entries := make([]DirEntry, 0, len(list))
	for _, e := range list {
		entries = append(entries, DirEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	return entries, nil
}
