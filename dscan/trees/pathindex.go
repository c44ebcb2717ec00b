package trees

import (
	"github.com/armon/go-radix"
)

// PathIndex maps directory paths to nodes using a compressed trie, giving
// O(k) lookups and ordered prefix walks. It is built once with the tree and
// read-only afterwards.
type PathIndex struct {
	tree *radix.Tree
}

func newPathIndex(dirs []*DirectoryNode) *PathIndex {
	m := make(map[string]any, len(dirs))
	for _, d := range dirs {
		m[d.Path] = d
	}
	return &PathIndex{tree: radix.NewFromMap(m)}
}

// Lookup finds a directory by its exact slash-terminated path. The root is
// the empty string.
func (idx *PathIndex) Lookup(path string) (*DirectoryNode, bool) {
	v, ok := idx.tree.Get(path)
	if !ok {
		return nil, false
	}
	return v.(*DirectoryNode), true
}

// Under returns every directory whose path starts with prefix, in path
// order.
func (idx *PathIndex) Under(prefix string) []*DirectoryNode {
	var out []*DirectoryNode
	idx.tree.WalkPrefix(prefix, func(_ string, v any) bool {
		out = append(out, v.(*DirectoryNode))
		return false
	})
	return out
}

// Len returns the number of indexed directories.
func (idx *PathIndex) Len() int { return idx.tree.Len() }
