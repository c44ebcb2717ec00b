// Package dirfs provides the fd-relative filesystem primitives the scanner
// runs on: open-at for directories, fstat, fstatat without following
// symlinks, and raw directory listing.
//
// Handles are plain file descriptors so that a directory opened for one
// node can be used as the base of the next open along a parent->child chain.
package dirfs

import "errors"

var errUnsupported = errors.New("dirfs: fd-relative filesystem access is not supported on this platform")

// Stat is the subset of stat(2) metadata the engine compares.
type Stat struct {
	Dev       uint64
	Ino       uint64
	Mode      uint32
	GID       uint32
	Size      int64
	MtimeSec  int64
	MtimeNsec int64
}

// IsZero reports whether st is the zero snapshot (never observed).
func (st Stat) IsZero() bool { return st == Stat{} }

// SameDir reports whether two directory snapshots agree on device, inode,
// mtime and size. The zero snapshot never matches.
func (st Stat) SameDir(other Stat) bool {
	if st.IsZero() || other.IsZero() {
		return false
	}
	return st.Dev == other.Dev &&
		st.Ino == other.Ino &&
		st.MtimeSec == other.MtimeSec &&
		st.MtimeNsec == other.MtimeNsec &&
		st.Size == other.Size
}

// IsDir reports whether the mode describes a directory.
func (st Stat) IsDir() bool { return st.Mode&0o170000 == 0o040000 }

// DirEntry is one listed name with its type.
type DirEntry struct {
	Name  string
	IsDir bool
}

// FS is the set of primitives the scanner uses. OS is the real
// implementation; tests wrap it to observe or fail individual calls.
type FS interface {
	// Open opens the directory at path (absolute or cwd-relative).
	Open(path string) (int, error)
	// OpenAt opens the directory name relative to dirfd without following
	// a trailing symlink and, where supported, without updating atime.
	OpenAt(dirfd int, name string) (int, error)
	Close(fd int) error
	Fstat(fd int) (Stat, error)
	// FstatAt stats name relative to dirfd without following symlinks.
	FstatAt(dirfd int, name string) (Stat, error)
	// ReadDir lists every entry of the directory except "." and "..".
	// A failure is reported as an error, distinct from an empty listing.
	ReadDir(fd int) ([]DirEntry, error)
}

// OS is the operating system implementation of FS.
var OS FS = osFS{}

type osFS struct{}
