package filesystem

import (
	"slices"
	"strings"

	"github.com/ZanzyTHEbar/dirtyscan/dscan/filesystem/common"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/filesystem/dirfs"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/index"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/trees"

	"github.com/RoaringBitmap/roaring"
	"github.com/rs/zerolog"
)

const opScanShard = "scanShard"

// shardScan holds the state of one shard's sequential pass: the current
// directory handle, the node it belongs to and everything collected so far.
// It is owned by a single goroutine.
type shardScan struct {
	fs     dirfs.FS
	idx    index.Index
	rootFd int
	cache  bool
	logger zerolog.Logger

	fd   int
	prev *trees.DirectoryNode

	candidates []string
	stats      shardStats
}

type shardStats struct {
	scanned     int
	listed      int
	fastPath    int
	unavailable int
	dirty       *roaring.Bitmap
	fastDirs    *roaring.Bitmap
}

func newShardScan(fs dirfs.FS, idx index.Index, rootFd int, cache bool, logger zerolog.Logger) *shardScan {
	return &shardScan{
		fs:     fs,
		idx:    idx,
		rootFd: rootFd,
		cache:  cache,
		logger: logger,
		fd:     -1,
		stats: shardStats{
			dirty:    roaring.New(),
			fastDirs: roaring.New(),
		},
	}
}

// run scans dirs in order. The handle of the current directory is always
// closed on return, including when a directory panics.
func (sc *shardScan) run(dirs []*trees.DirectoryNode) {
	defer sc.closeCurrent()
	for _, d := range dirs {
		sc.scanDir(d)
	}
}

func (sc *shardScan) scanDir(d *trees.DirectoryNode) {
	sc.stats.scanned++
	before := len(sc.candidates)
	defer func() {
		if len(sc.candidates) > before {
			sc.stats.dirty.Add(uint32(d.ID()))
		}
	}()

	if err := sc.acquire(d); err != nil {
		sc.unavailable(d, "open", err)
		return
	}

	st, err := sc.fs.Fstat(sc.fd)
	if err != nil {
		sc.unavailable(d, "fstat", err)
		return
	}

	if sc.cache && st.SameDir(d.CachedStat()) {
		sc.stats.fastPath++
		sc.stats.fastDirs.Add(uint32(d.ID()))
		sc.checkFiles(d)
		sc.candidates = append(sc.candidates, d.Unmatched()...)
		return
	}

	entries, err := sc.fs.ReadDir(sc.fd)
	if err != nil {
		sc.unavailable(d, "readdir", err)
		return
	}
	sc.stats.listed++
	sc.merge(d, entries)
	d.SetCachedStat(st)
	sc.candidates = append(sc.candidates, d.Unmatched()...)
}

// acquire makes sc.fd refer to d. When the previous directory of this
// shard is d's parent the parent handle is used as the base of the open.
func (sc *shardScan) acquire(d *trees.DirectoryNode) error {
	prev := sc.prev
	sc.prev = nil

	if sc.fd >= 0 && prev != nil && prev.Depth+1 == d.Depth {
		common.Invariant(strings.HasPrefix(d.Path, prev.Path), opScanShard,
			"directory %q follows %q at depth %d but is not its child", d.Path, prev.Path, d.Depth)

		name := d.Path[len(prev.Path) : len(d.Path)-1]
		fd, err := sc.fs.OpenAt(sc.fd, name)
		sc.closeCurrent()
		if err != nil {
			return err
		}
		sc.fd = fd
		sc.prev = d
		return nil
	}

	sc.closeCurrent()
	name := "."
	if d.Path != "" {
		name = d.Path[:len(d.Path)-1]
	}
	fd, err := sc.fs.OpenAt(sc.rootFd, name)
	if err != nil {
		return err
	}
	sc.fd = fd
	sc.prev = d
	return nil
}

func (sc *shardScan) closeCurrent() {
	if sc.fd < 0 {
		return
	}
	if err := sc.fs.Close(sc.fd); err != nil {
		sc.logger.Debug().Err(err).Msg("close directory handle")
	}
	sc.fd = -1
}

// unavailable reports d by its own path. A failed open leaves no handle to
// chain from; a failed stat or listing keeps the handle for d's children.
func (sc *shardScan) unavailable(d *trees.DirectoryNode, op string, err error) {
	sc.stats.unavailable++
	sc.logger.Debug().Err(err).Str("dir", d.Path).Str("op", op).Msg("directory unavailable")
	d.MarkUnavailable()
	sc.candidates = append(sc.candidates, d.Unmatched()...)
}

// checkFiles re-stats every tracked file of d without listing d.
func (sc *shardScan) checkFiles(d *trees.DirectoryNode) {
	for _, f := range d.Files {
		sc.checkFile(d, f)
	}
}

func (sc *shardScan) checkFile(d *trees.DirectoryNode, f *index.Entry) {
	st, err := sc.fs.FstatAt(sc.fd, d.Basename(f))
	if err != nil {
		st = dirfs.Stat{}
	}
	if f.Modified(st) {
		sc.candidates = append(sc.candidates, f.Path)
	}
}

// merge walks the sorted listing against d's tracked files and
// subdirectories in one pass and rebuilds d's unmatched paths.
func (sc *shardScan) merge(d *trees.DirectoryNode, entries []dirfs.DirEntry) {
	slices.SortFunc(entries, func(a, b dirfs.DirEntry) int { return strings.Compare(a.Name, b.Name) })

	d.ResetUnmatched()
	files, subdirs := d.Files, d.Subdirs
	fi, si := 0, 0
	for _, e := range entries {
		for fi < len(files) && d.Basename(files[fi]) < e.Name {
			sc.candidates = append(sc.candidates, files[fi].Path)
			fi++
		}
		if fi < len(files) && d.Basename(files[fi]) == e.Name {
			f := files[fi]
			fi++
			if sc.idx.NewerThanIndex(f) {
				sc.candidates = append(sc.candidates, f.Path)
			} else {
				sc.checkFile(d, f)
			}
			continue
		}

		for si < len(subdirs) && subdirs[si] < e.Name {
			si++
		}
		if si < len(subdirs) && subdirs[si] == e.Name {
			si++
			continue
		}

		d.AddUnmatched(e.Name, e.IsDir)
	}
	// Tracked files sorting after the last entry on disk are gone too.
	for ; fi < len(files); fi++ {
		sc.candidates = append(sc.candidates, files[fi].Path)
	}
}
