package trees

import (
	"unsafe"

	"github.com/ZanzyTHEbar/dirtyscan/dscan/filesystem/dirfs"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/index"
)

// gitDirName is never reported as an untracked directory.
const gitDirName = ".git"

// DirectoryNode is one directory inferred from the tracked records.
//
// Path, Depth, Subdirs and Files are fixed when the tree is built. The
// cached stat and the unmatched-path buffer are rewritten by the scanner;
// each node is touched by exactly one shard per scan.
type DirectoryNode struct {
	// Path is relative to the working-tree root and ends with '/'; the root
	// is the empty string.
	Path string
	// Depth is the number of path components; the root has depth 0.
	Depth int
	// Subdirs holds the names of directly contained directories, sorted.
	Subdirs []string
	// Files holds the tracked records whose parent is this directory,
	// sorted by basename. Records are borrowed from the index.
	Files []*index.Entry

	id int

	stat      dirfs.Stat
	buf       []byte
	spans     []span
	unmatched []string
	stale     bool
}

type span struct {
	off int
	n   int
}

// ID returns the node's position in the flattened directory list.
func (n *DirectoryNode) ID() int { return n.id }

// Weight is the scan-cost proxy used for shard balancing.
func (n *DirectoryNode) Weight() int { return 1 + len(n.Subdirs) + len(n.Files) }

// Basename returns e's name within this directory.
func (n *DirectoryNode) Basename(e *index.Entry) string { return e.Path[len(n.Path):] }

// CachedStat returns the snapshot recorded by the last full rescan, or the
// zero Stat if there was none.
func (n *DirectoryNode) CachedStat() dirfs.Stat { return n.stat }

// SetCachedStat records the fingerprint for the next untracked-cache check.
func (n *DirectoryNode) SetCachedStat(st dirfs.Stat) { n.stat = st }

// ResetUnmatched starts a new buffer for this pass. The previous buffer is
// left untouched so strings handed out from it stay valid.
func (n *DirectoryNode) ResetUnmatched() {
	n.buf = make([]byte, 0, cap(n.buf))
	n.spans = n.spans[:0]
	n.unmatched = nil
	n.stale = true
}

// AddUnmatched records an entry found on disk that matches no tracked file
// or subdirectory. Directories get a trailing '/'; ".git" is skipped.
func (n *DirectoryNode) AddUnmatched(name string, isDir bool) {
	if isDir && name == gitDirName {
		return
	}
	off := len(n.buf)
	n.buf = append(n.buf, n.Path...)
	n.buf = append(n.buf, name...)
	if isDir {
		n.buf = append(n.buf, '/')
	}
	n.spans = append(n.spans, span{off: off, n: len(n.buf) - off})
	n.stale = true
}

// MarkUnavailable drops the cached stat and reports the directory itself as
// the only unmatched path. The next scan always takes the full rescan path.
func (n *DirectoryNode) MarkUnavailable() {
	n.stat = dirfs.Stat{}
	n.ResetUnmatched()
	off := len(n.buf)
	n.buf = append(n.buf, n.Path...)
	n.spans = append(n.spans, span{off: off, n: len(n.Path)})
}

// Unmatched returns the unmatched paths of the most recent pass. The strings
// alias the node's buffer, which is never written again once the pass has
// finished, so they stay valid after later rescans.
func (n *DirectoryNode) Unmatched() []string {
	if !n.stale {
		return n.unmatched
	}
	views := make([]string, len(n.spans))
	for i, s := range n.spans {
		if s.n > 0 {
			views[i] = unsafe.String(&n.buf[s.off], s.n)
		}
	}
	n.unmatched = views
	n.stale = false
	return views
}

func (n *DirectoryNode) release() {
	n.Subdirs = nil
	n.Files = nil
	n.buf = nil
	n.spans = nil
	n.unmatched = nil
}
