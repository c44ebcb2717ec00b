// Package index models the tracked records the change-detection engine
// compares the working tree against.
package index

import (
	"github.com/ZanzyTHEbar/dirtyscan/dscan/filesystem/dirfs"
)

// Entry is one tracked record. Path is relative to the working-tree root,
// '/'-delimited, and never starts or ends with '/'.
type Entry struct {
	Path      string
	MtimeSec  int64
	MtimeNsec int64
	Ino       uint64
	Mode      uint32
	GID       uint32
	Size      int64
}

// Index is a read-only, ordered source of tracked records. Entries must be
// sorted by raw path bytes and must not change while a tree built from the
// index, or any scan result of that tree, is alive.
type Index interface {
	EntryCount() int
	EntryAt(i int) *Entry

	// NewerThanIndex reports whether e's timestamp is not provably older
	// than the index's own generation time (a racy entry).
	NewerThanIndex(e *Entry) bool
}

const (
	modeTypeMask = 0o170000
	modeRegular  = 0o100000
)

// NormalizeMode reduces a raw stat mode to the form tracked records store:
// regular files become 0100755 or 0100644, everything else keeps only its
// file-type bits.
func NormalizeMode(mode uint32) uint32 {
	if mode&modeTypeMask == modeRegular {
		if mode&0o111 != 0 {
			return modeRegular | 0o755
		}
		return modeRegular | 0o644
	}
	return mode & modeTypeMask
}

// Modified reports whether st disagrees with the record on any compared
// field: mtime, inode, normalized mode, group id and size. A zero st (stat
// failure) is always modified for any real record.
func (e *Entry) Modified(st dirfs.Stat) bool {
	return e.MtimeSec != st.MtimeSec ||
		e.MtimeNsec != st.MtimeNsec ||
		e.Ino != st.Ino ||
		e.Mode != NormalizeMode(st.Mode) ||
		e.GID != st.GID ||
		e.Size != st.Size
}

// FromStat builds a record for path from its lstat metadata.
func FromStat(path string, st dirfs.Stat) Entry {
	return Entry{
		Path:      path,
		MtimeSec:  st.MtimeSec,
		MtimeNsec: st.MtimeNsec,
		Ino:       st.Ino,
		Mode:      NormalizeMode(st.Mode),
		GID:       st.GID,
		Size:      st.Size,
	}
}
