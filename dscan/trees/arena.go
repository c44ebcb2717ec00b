package trees

// arenaChunkSize is the number of nodes allocated per slab.
const arenaChunkSize = 256

// arena is a bump allocator for directory nodes. Nodes live in fixed-size
// slabs so their addresses stay stable as the arena grows; nothing is freed
// individually and release drops every slab at once.
type arena struct {
	chunks [][]DirectoryNode
	count  int
}

func (a *arena) newNode() *DirectoryNode {
	if n := len(a.chunks); n == 0 || len(a.chunks[n-1]) == cap(a.chunks[n-1]) {
		a.chunks = append(a.chunks, make([]DirectoryNode, 0, arenaChunkSize))
	}
	last := &a.chunks[len(a.chunks)-1]
	*last = append(*last, DirectoryNode{})
	a.count++
	return &(*last)[len(*last)-1]
}

func (a *arena) len() int { return a.count }

func (a *arena) release() {
	a.chunks = nil
	a.count = 0
}
