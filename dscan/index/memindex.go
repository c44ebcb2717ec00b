package index

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/dirtyscan/dscan/filesystem/common"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/filesystem/dirfs"
)

// Stamp is the index's own generation time.
type Stamp struct {
	Sec  int64
	Nsec int64
}

// StampOf converts t into a Stamp.
func StampOf(t time.Time) Stamp {
	return Stamp{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

// IsZero reports whether the stamp was never set.
func (s Stamp) IsZero() bool { return s.Sec == 0 && s.Nsec == 0 }

// Racy reports whether e's mtime is not strictly older than s. An index that
// was never written (zero stamp) cannot have racy entries.
func (s Stamp) Racy(e *Entry) bool {
	if s.IsZero() {
		return false
	}
	if e.MtimeSec != s.Sec {
		return e.MtimeSec > s.Sec
	}
	return e.MtimeNsec >= s.Nsec
}

// MemIndex is a slice-backed Index.
type MemIndex struct {
	entries []Entry
	stamp   Stamp
}

// NewMemIndex sorts entries by raw path bytes and wraps them. Duplicate or
// malformed paths are rejected with common.ErrNotSorted.
func NewMemIndex(entries []Entry, stamp Stamp) (*MemIndex, error) {
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.Path, b.Path) })
	for i := range entries {
		if err := validPath(entries[i].Path); err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrNotSorted, err)
		}
		if i > 0 && entries[i-1].Path == entries[i].Path {
			return nil, fmt.Errorf("%w: duplicate path %q", common.ErrNotSorted, entries[i].Path)
		}
	}
	return &MemIndex{entries: entries, stamp: stamp}, nil
}

// EntryCount returns the number of records.
func (m *MemIndex) EntryCount() int { return len(m.entries) }

// EntryAt returns the i-th record in path order.
func (m *MemIndex) EntryAt(i int) *Entry { return &m.entries[i] }

// NewerThanIndex applies the racy rule against the index stamp.
func (m *MemIndex) NewerThanIndex(e *Entry) bool { return m.stamp.Racy(e) }

// Stamp returns the index generation time.
func (m *MemIndex) Stamp() Stamp { return m.stamp }

// Entries returns the backing records. Callers must not modify them.
func (m *MemIndex) Entries() []Entry { return m.entries }

// Find returns the record with the given path.
func (m *MemIndex) Find(path string) (*Entry, bool) {
	i, ok := slices.BinarySearchFunc(m.entries, path, func(e Entry, p string) int {
		return strings.Compare(e.Path, p)
	})
	if !ok {
		return nil, false
	}
	return &m.entries[i], true
}

// Capture lstats every path under root and builds an index from the observed
// metadata. Paths that cannot be stat'd are skipped and returned separately.
func Capture(root string, paths []string, stamp Stamp) (*MemIndex, []string, error) {
	entries := make([]Entry, 0, len(paths))
	var missing []string
	for _, p := range paths {
		st, err := dirfs.Lstat(filepath.Join(root, filepath.FromSlash(p)))
		if err != nil {
			missing = append(missing, p)
			continue
		}
		entries = append(entries, FromStat(p, st))
	}
	idx, err := NewMemIndex(entries, stamp)
	if err != nil {
		return nil, nil, err
	}
	return idx, missing, nil
}

func validPath(p string) error {
	switch {
	case p == "":
		return fmt.Errorf("empty path")
	case p[0] == '/':
		return fmt.Errorf("absolute path %q", p)
	case p[len(p)-1] == '/':
		return fmt.Errorf("path %q ends with a separator", p)
	case strings.Contains(p, "//"):
		return fmt.Errorf("path %q has an empty segment", p)
	case strings.IndexByte(p, 0) >= 0:
		return fmt.Errorf("path %q contains NUL", p)
	}
	return nil
}
