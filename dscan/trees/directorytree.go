package trees

import (
	"runtime"

	internal "github.com/ZanzyTHEbar/dirtyscan/dscan"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/index"

	"github.com/rs/zerolog"
)

// DirectoryTree is the directory view of a tracked-record index together
// with the shard plan used to rescan it.
//
// The tree borrows the index and the root path: the index must not be
// mutated or released while the tree, or any candidate it produced, is in
// use. Keep one tree across scans; the per-directory caches live in it.
type DirectoryTree struct {
	rootDir string
	idx     index.Index

	arena       arena
	dirs        []*DirectoryNode
	splits      []int
	totalWeight int
	paths       *PathIndex

	workers         int
	shardMultiplier int
	minShardWeight  int
	logger          zerolog.Logger
	released        bool
}

// TreeOption allows for customization of DirectoryTree
type TreeOption func(*DirectoryTree)

// WithWorkers sets the worker capacity the shard plan is sized for.
func WithWorkers(n int) TreeOption {
	return func(dt *DirectoryTree) {
		if n > 0 {
			dt.workers = n
		}
	}
}

// WithShardMultiplier sets how many shards are planned per worker.
func WithShardMultiplier(m int) TreeOption {
	return func(dt *DirectoryTree) {
		if m > 0 {
			dt.shardMultiplier = m
		}
	}
}

// WithMinShardWeight sets the weight below which no shard is cut.
func WithMinShardWeight(w int) TreeOption {
	return func(dt *DirectoryTree) {
		if w > 0 {
			dt.minShardWeight = w
		}
	}
}

// WithLogger sets a custom logger
func WithLogger(logger zerolog.Logger) TreeOption {
	return func(dt *DirectoryTree) {
		dt.logger = logger
	}
}

// NewDirectoryTree builds the tree from idx in a single pass and plans the
// shards. Records that break the sorted-path contract panic with a
// *common.InvariantError.
func NewDirectoryTree(rootDir string, idx index.Index, opts ...TreeOption) *DirectoryTree {
	dt := &DirectoryTree{
		rootDir:         rootDir,
		idx:             idx,
		workers:         runtime.NumCPU(),
		shardMultiplier: internal.DefaultShardMultiplier,
		minShardWeight:  internal.DefaultMinShardWeight,
		logger:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(dt)
	}

	dt.totalWeight = dt.initDirs()
	dt.paths = newPathIndex(dt.dirs)
	dt.initSplits()

	mean, stddev := dt.ShardBalance()
	dt.logger.Debug().
		Str("root", rootDir).
		Int("records", idx.EntryCount()).
		Int("dirs", len(dt.dirs)).
		Int("total_weight", dt.totalWeight).
		Int("shards", len(dt.splits)-1).
		Float64("shard_weight_mean", mean).
		Float64("shard_weight_stddev", stddev).
		Msg("directory tree built")

	return dt
}

func (dt *DirectoryTree) initSplits() {
	weights := make([]int, len(dt.dirs))
	for i, d := range dt.dirs {
		weights[i] = d.Weight()
	}
	dt.splits = PlanShards(weights, dt.shardMultiplier*dt.workers, dt.minShardWeight)
}

// RootDir returns the working-tree root the tree was built for.
func (dt *DirectoryTree) RootDir() string { return dt.rootDir }

// Index returns the borrowed record source.
func (dt *DirectoryTree) Index() index.Index { return dt.idx }

// Dirs returns the flattened directory list. Every directory comes after
// its parent, and a directory that directly follows another one at depth+1
// is that directory's child.
func (dt *DirectoryTree) Dirs() []*DirectoryNode { return dt.dirs }

// Splits returns the shard boundaries over Dirs: strictly increasing, first
// 0, last len(Dirs()).
func (dt *DirectoryTree) Splits() []int { return dt.splits }

// TotalWeight is the sum of all directory weights.
func (dt *DirectoryTree) TotalWeight() int { return dt.totalWeight }

// Lookup returns the directory with the given slash-terminated path.
func (dt *DirectoryTree) Lookup(path string) (*DirectoryNode, bool) {
	if dt.released {
		return nil, false
	}
	return dt.paths.Lookup(path)
}

// Under returns every directory whose path starts with prefix, in path order.
func (dt *DirectoryTree) Under(prefix string) []*DirectoryNode {
	if dt.released {
		return nil
	}
	return dt.paths.Under(prefix)
}

// Released reports whether Cleanup has run.
func (dt *DirectoryTree) Released() bool { return dt.released }

// Cleanup releases every node and buffer at once. Strings handed out by
// earlier scans remain valid; the tree itself must not be scanned again.
func (dt *DirectoryTree) Cleanup() error {
	if dt.released {
		return nil
	}
	for _, d := range dt.dirs {
		d.release()
	}
	dt.arena.release()
	dt.dirs = nil
	dt.splits = nil
	dt.paths = nil
	dt.released = true
	dt.logger.Debug().Str("root", dt.rootDir).Msg("directory tree released")
	return nil
}
