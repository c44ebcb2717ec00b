package trees

import (
	"slices"
	"strings"

	"github.com/ZanzyTHEbar/dirtyscan/dscan/filesystem/common"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/index"
)

const opBuild = "build directory tree"

// commonDir returns the length of the longest common prefix of a and b that
// ends in '/', and the number of '/' in it.
func commonDir(a, b string) (dirLen, depth int) {
	n := min(len(a), len(b))
	for i := 0; i < n && a[i] == b[i]; i++ {
		if a[i] == '/' {
			dirLen = i + 1
			depth++
		}
	}
	return dirLen, depth
}

// initDirs consumes the index once. A stack holds the directories of the
// current path prefix; a directory is finalized when the records leave it.
// Finalization order is post-order, reversed at the end so parents precede
// children. Returns the total weight.
func (dt *DirectoryTree) initDirs() int {
	count := dt.idx.EntryCount()
	dt.dirs = make([]*DirectoryNode, 0, count/8+1)

	stack := make([]*DirectoryNode, 0, 16)
	stack = append(stack, dt.arena.newNode())

	total := 0
	pop := func() {
		top := stack[len(stack)-1]
		common.Invariant(top.Depth+1 == len(stack), opBuild,
			"directory %q at depth %d on a stack of %d", top.Path, top.Depth, len(stack))
		if !slices.IsSorted(top.Subdirs) {
			slices.Sort(top.Subdirs)
		}
		for i := 1; i < len(top.Subdirs); i++ {
			common.Invariant(top.Subdirs[i-1] != top.Subdirs[i], opBuild,
				"directory %q opened twice", top.Path+top.Subdirs[i])
		}
		total += top.Weight()
		dt.dirs = append(dt.dirs, top)
		stack = stack[:len(stack)-1]
	}

	var prev *index.Entry
	for i := 0; i < count; i++ {
		e := dt.idx.EntryAt(i)
		checkRecordPath(e.Path)
		if prev != nil {
			common.Invariant(prev.Path < e.Path, opBuild,
				"record %q is not after %q", e.Path, prev.Path)
		}

		top := stack[len(stack)-1]
		commonLen, commonDepth := commonDir(top.Path, e.Path)
		common.Invariant(commonDepth <= top.Depth, opBuild,
			"record %q shares %d components with %q", e.Path, commonDepth, top.Path)
		for d := commonDepth; d < top.Depth; d++ {
			pop()
		}

		for p := commonLen; ; {
			j := strings.IndexByte(e.Path[p:], '/')
			if j < 0 {
				break
			}
			slash := p + j
			parent := stack[len(stack)-1]
			parent.Subdirs = append(parent.Subdirs, e.Path[len(parent.Path):slash])

			dir := dt.arena.newNode()
			dir.Path = e.Path[:slash+1]
			dir.Depth = len(stack)
			stack = append(stack, dir)
			p = slash + 1
		}

		dir := stack[len(stack)-1]
		if k := len(dir.Files); k > 0 {
			common.Invariant(dir.Basename(dir.Files[k-1]) < dir.Basename(e), opBuild,
				"file %q is not after %q", e.Path, dir.Files[k-1].Path)
		}
		dir.Files = append(dir.Files, e)
		prev = e
	}

	for len(stack) > 0 {
		pop()
	}
	slices.Reverse(dt.dirs)
	for i, d := range dt.dirs {
		d.id = i
	}

	return total
}

func checkRecordPath(p string) {
	common.Invariant(p != "", opBuild, "empty record path")
	common.Invariant(p[0] != '/', opBuild, "record path %q is absolute", p)
	common.Invariant(p[len(p)-1] != '/', opBuild, "record path %q ends with '/'", p)
	common.Invariant(!strings.Contains(p, "//"), opBuild, "record path %q has an empty segment", p)
}
