package filesystem

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/dirtyscan/dscan/filesystem/common"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/filesystem/dirfs"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/trees"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/multierr"
)

// Scanner finds the dirty candidates of a working tree by rescanning the
// directories of a DirectoryTree shard by shard.
//
// A Scanner is not safe for concurrent Scan calls on the same tree: every
// scan rewrites the per-directory caches.
type Scanner struct {
	tree   *trees.DirectoryTree
	exec   Executor
	fs     dirfs.FS
	logger zerolog.Logger
}

// ScannerOption allows for customization of Scanner
type ScannerOption func(*Scanner)

// WithFS replaces the operating system primitives.
func WithFS(fs dirfs.FS) ScannerOption {
	return func(s *Scanner) {
		if fs != nil {
			s.fs = fs
		}
	}
}

// WithLogger sets a custom logger
func WithLogger(logger zerolog.Logger) ScannerOption {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// ScanStats describes one scan.
type ScanStats struct {
	Shards       int
	DirsScanned  int
	DirsListed   int
	FastPathHits int
	Unavailable  int
	// DirtyDirs holds the ids of directories that produced at least one
	// candidate; FastPathDirs those whose listing was skipped.
	DirtyDirs    *roaring.Bitmap
	FastPathDirs *roaring.Bitmap
	Duration     time.Duration
}

// ScanResult is the outcome of a successful scan.
//
// Candidates are sorted and unique. They borrow from the index records and
// from directory buffers; both stay valid while the index and the tree are
// alive.
type ScanResult struct {
	ID         uuid.UUID
	Candidates []string
	Stats      ScanStats
}

// NewScanner creates a scanner for tree. A nil exec runs every shard inline.
func NewScanner(tree *trees.DirectoryTree, exec Executor, opts ...ScannerOption) *Scanner {
	if exec == nil {
		exec = InlineExecutor{}
	}
	s := &Scanner{
		tree:   tree,
		exec:   exec,
		fs:     dirfs.OS,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tree returns the scanned tree.
func (s *Scanner) Tree() *trees.DirectoryTree { return s.tree }

// DirtyCandidates runs Scan and returns only the candidate paths.
func (s *Scanner) DirtyCandidates(ctx context.Context, untrackedCache bool) ([]string, error) {
	res, err := s.Scan(ctx, untrackedCache)
	if err != nil {
		return nil, err
	}
	return res.Candidates, nil
}

// Scan rescans every directory of the tree. With untrackedCache set,
// directories whose stat matches the previous scan are not listed again;
// only their tracked files are re-checked.
//
// Shards are not cancelled once dispatched: ctx is consulted before the
// scan starts. Failure to open the root returns ErrRootUnavailable. Any
// shard failure returns ErrScanFailed after every shard has finished, and
// no candidates.
func (s *Scanner) Scan(ctx context.Context, untrackedCache bool) (*ScanResult, error) {
	if s.tree.Released() {
		return nil, common.ErrTreeReleased
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	id := uuid.New()
	logger := s.logger.With().Str("scan_id", id.String()).Logger()

	rootFd, err := s.fs.Open(s.tree.RootDir())
	if err != nil {
		logger.Error().Err(err).Str("root", s.tree.RootDir()).Msg("cannot open working tree root")
		return nil, fmt.Errorf("%w: %w", common.ErrRootUnavailable, err)
	}
	defer func() {
		if cerr := s.fs.Close(rootFd); cerr != nil {
			logger.Debug().Err(cerr).Msg("close root handle")
		}
	}()

	dirs := s.tree.Dirs()
	splits := s.tree.Splits()
	shards := len(splits) - 1

	logger.Debug().
		Int("shards", shards).
		Int("workers", s.exec.NumWorkers()).
		Bool("untracked_cache", untrackedCache).
		Msg("scan started")

	res := &ScanResult{
		ID: id,
		Stats: ScanStats{
			Shards:       shards,
			DirtyDirs:    roaring.New(),
			FastPathDirs: roaring.New(),
		},
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	runShard := func(i int) {
		defer wg.Done()
		lo, hi := splits[i], splits[i+1]
		sc := newShardScan(s.fs, s.tree.Index(), rootFd, untrackedCache, logger)
		if r := panics.Try(func() { sc.run(dirs[lo:hi]) }); r != nil {
			logger.Error().Int("shard", i).Str("panic", r.String()).Msg("shard failed")
			mu.Lock()
			errs = multierr.Append(errs, fmt.Errorf("shard %d [%d,%d): %w", i, lo, hi, r.AsError()))
			mu.Unlock()
			return
		}

		mu.Lock()
		defer mu.Unlock()
		res.Candidates = append(res.Candidates, sc.candidates...)
		res.Stats.merge(&sc.stats)
	}

	if shards > 0 {
		wg.Add(shards)
		for i := 0; i < shards-1; i++ {
			s.exec.Schedule(func() { runShard(i) })
		}
		runShard(shards - 1)
		wg.Wait()
	}

	if errs != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrScanFailed, errs)
	}

	slices.Sort(res.Candidates)
	res.Candidates = slices.Compact(res.Candidates)
	res.Stats.Duration = time.Since(start)

	logger.Debug().
		Int("candidates", len(res.Candidates)).
		Int("dirs_listed", res.Stats.DirsListed).
		Int("fast_path_hits", res.Stats.FastPathHits).
		Int("unavailable", res.Stats.Unavailable).
		Dur("duration", res.Stats.Duration).
		Msg("scan finished")

	return res, nil
}

func (st *ScanStats) merge(s *shardStats) {
	st.DirsScanned += s.scanned
	st.DirsListed += s.listed
	st.FastPathHits += s.fastPath
	st.Unavailable += s.unavailable
	st.DirtyDirs.Or(s.dirty)
	st.FastPathDirs.Or(s.fastDirs)
}
