// Dscan reports which paths of a working tree differ from a stored
// snapshot of its tracked files.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	internal "github.com/ZanzyTHEbar/dirtyscan/dscan"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/config"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/db"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/filesystem"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/filesystem/common"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/filesystem/services"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/filesystem/watcher"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/index"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/status"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/trees"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// shutdownSignals cancel the command context so open sessions are closed.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

func notifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, shutdownSignals...)
}

func main() {
	ctx, stop := notifyContext(context.Background())
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: dscan <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  snapshot   record the metadata of every git-tracked file")
	fmt.Fprintln(w, "  status     list paths that changed since the snapshot")
	fmt.Fprintln(w, "  watch      print the status again whenever a tracked directory changes")
}

// cli holds what every command needs after flag and config parsing.
type cli struct {
	cfg    *config.Config
	flags  *pflag.FlagSet
	root   string
	store  string
	logger zerolog.Logger
	stdout io.Writer
	stderr io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	command := args[0]
	if command != "snapshot" && command != "status" && command != "watch" {
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printUsage(stderr)
		return 2
	}

	c, err := setup(command, args[1:], stdout, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "dscan %s: %v\n", command, err)
		return 2
	}

	switch command {
	case "snapshot":
		err = c.snapshot(ctx)
	case "status":
		err = c.status(ctx)
	case "watch":
		err = c.watch(ctx)
	}
	if err != nil {
		c.logger.Error().Err(err).Str("command", command).Msg("command failed")
		fmt.Fprintf(stderr, "dscan %s: %v\n", command, err)
		return 1
	}
	return 0
}

func setup(command string, args []string, stdout, stderr io.Writer) (*cli, error) {
	flags := pflag.NewFlagSet(command, pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.String("config", "", "config file (default: discovered config.yaml)")
	flags.String("root", internal.DefaultRootDir, "working tree root")
	flags.String("snapshot", internal.DefaultSnapshotPath, "snapshot database, relative to the root unless absolute")
	flags.String("log-level", internal.DefaultLogLevel, "log level (debug, info, warn, error)")
	flags.Int("workers", 0, "scan workers (0 = number of CPUs)")
	if command != "snapshot" {
		flags.Bool("no-untracked-cache", false, "always list every directory")
		flags.Bool("no-gitignore", false, "report untracked paths matched by .gitignore")
		flags.StringSlice("pathspec", nil, "only report paths matching these globs")
	}
	if command == "status" {
		flags.Int("repeat", 1, "scan N times reusing the directory tree")
	}
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	bindings := map[string]string{
		"scan.rootDir":    "root",
		"snapshot.path":   "snapshot",
		"log.level":       "log-level",
		"scan.workers":    "workers",
		"status.pathspec": "pathspec",
	}
	for key, name := range bindings {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	configPath, _ := flags.GetString("config")
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return nil, err
	}
	if flags.Changed("no-untracked-cache") {
		cfg.Scan.UntrackedCache = false
	}
	if flags.Changed("no-gitignore") {
		cfg.Status.RespectGitignore = false
	}

	root, err := filepath.Abs(cfg.Scan.RootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	store := cfg.Snapshot.Path
	if !filepath.IsAbs(store) {
		store = filepath.Join(root, store)
	}

	return &cli{
		cfg:    cfg,
		flags:  flags,
		root:   root,
		store:  store,
		logger: internal.GetLogger(cfg.Log.Level),
		stdout: stdout,
		stderr: stderr,
	}, nil
}

func (c *cli) workers() int {
	if c.cfg.Scan.Workers > 0 {
		return c.cfg.Scan.Workers
	}
	return runtime.NumCPU()
}

func (c *cli) snapshot(ctx context.Context) error {
	gs := services.NewGitService(services.WithLogger(c.logger))
	paths, err := gs.TrackedPaths(ctx, c.root)
	if err != nil {
		return err
	}

	// Files written while the capture runs end up racy, never stale.
	stamp := index.StampOf(time.Now())
	idx, missing, err := index.Capture(c.root, paths, stamp)
	if err != nil {
		return err
	}
	for _, p := range missing {
		c.logger.Warn().Str("path", p).Msg("tracked file missing from disk, not recorded")
	}

	store, err := db.Open(c.store, db.WithLogger(c.logger))
	if err != nil {
		return err
	}
	defer store.Close()

	info, err := store.Save(ctx, idx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "snapshot %s: %d records\n", info.ID, info.Records)
	return nil
}

// session is the state kept across scans of one working tree.
type session struct {
	store   *db.SnapshotStore
	idx     *index.MemIndex
	pool    *filesystem.WorkerPool
	scanner *filesystem.Scanner
}

func (c *cli) openSession(ctx context.Context) (*session, error) {
	store, err := db.Open(c.store, db.WithLogger(c.logger))
	if err != nil {
		return nil, err
	}

	idx, err := store.Load(ctx)
	if errors.Is(err, common.ErrSnapshotMissing) {
		store.Close()
		return nil, fmt.Errorf("%w: run 'dscan snapshot' first", err)
	}
	if err != nil {
		store.Close()
		return nil, err
	}
	c.warnIfIndexChanged(ctx, store)

	workers := c.workers()
	tree := trees.NewDirectoryTree(c.root, idx,
		trees.WithWorkers(workers),
		trees.WithShardMultiplier(c.cfg.Scan.ShardMultiplier),
		trees.WithMinShardWeight(c.cfg.Scan.MinShardWeight),
		trees.WithLogger(c.logger),
	)
	pool := filesystem.NewWorkerPool(workers)

	return &session{
		store:   store,
		idx:     idx,
		pool:    pool,
		scanner: filesystem.NewScanner(tree, pool, filesystem.WithLogger(c.logger)),
	}, nil
}

func (s *session) Close() {
	s.pool.Close()
	s.scanner.Tree().Cleanup()
	s.store.Close()
}

func (c *cli) status(ctx context.Context) error {
	s, err := c.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	repeat, err := c.flags.GetInt("repeat")
	if err != nil || repeat < 1 {
		repeat = 1
	}
	return c.report(ctx, s, repeat)
}

func (c *cli) watch(ctx context.Context) error {
	s, err := c.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := c.report(ctx, s, 1); err != nil {
		return err
	}

	var ignore []string
	if rel, ok := c.storeDir(); ok {
		ignore = append(ignore, rel)
	}
	w, err := watcher.New(s.scanner.Tree(),
		watcher.WithDebounce(c.cfg.Watch.Debounce, c.cfg.Watch.MaxDelay),
		watcher.WithIgnore(ignore...),
		watcher.WithLogger(c.logger),
	)
	if err != nil {
		return err
	}
	defer w.Close()

	return w.Run(ctx, func(ctx context.Context, changed []string) error {
		fmt.Fprintf(c.stdout, "--- %d path(s) changed\n", len(changed))
		if err := c.report(ctx, s, 1); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
}

// report scans runs times, reusing the tree, and prints the classified
// result of the last scan.
func (c *cli) report(ctx context.Context, s *session, runs int) error {
	var (
		res *filesystem.ScanResult
		err error
	)
	for i := range runs {
		if res, err = s.scanner.Scan(ctx, c.cfg.Scan.UntrackedCache); err != nil {
			return err
		}
		c.logger.Info().
			Str("scan_id", res.ID.String()).
			Int("run", i+1).
			Int("candidates", len(res.Candidates)).
			Int("shards", res.Stats.Shards).
			Int("dirs_listed", res.Stats.DirsListed).
			Int("fast_path_hits", res.Stats.FastPathHits).
			Dur("duration", res.Stats.Duration).
			Msg("scan complete")
	}

	report, err := status.Classify(ctx, s.scanner.Tree(), s.idx, c.withoutStore(res.Candidates), status.Options{
		RespectGitignore: c.cfg.Status.RespectGitignore,
		Pathspec:         c.cfg.Status.Pathspec,
		Logger:           &c.logger,
	})
	if err != nil {
		return err
	}
	for _, line := range report.Lines() {
		fmt.Fprintln(c.stdout, line)
	}
	return nil
}

// storeDir returns the snapshot database directory relative to the root
// when it lives inside the working tree.
func (c *cli) storeDir() (string, bool) {
	rel, err := filepath.Rel(c.root, filepath.Dir(c.store))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// withoutStore drops the snapshot database directory from candidates.
func (c *cli) withoutStore(candidates []string) []string {
	rel, ok := c.storeDir()
	if !ok {
		return candidates
	}
	prefix := rel + "/"
	out := candidates[:0:0]
	for _, p := range candidates {
		if !strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}

// warnIfIndexChanged logs when git's index was written after the snapshot,
// meaning the tracked set may have changed.
func (c *cli) warnIfIndexChanged(ctx context.Context, store *db.SnapshotStore) {
	gs := services.NewGitService(services.WithLogger(zerolog.Nop()))
	if !gs.IsRepository(ctx, c.root) {
		return
	}
	stamp, err := gs.IndexStamp(ctx, c.root)
	if err != nil || stamp.IsZero() {
		return
	}
	info, err := store.Info(ctx)
	if err != nil {
		return
	}
	if time.Unix(stamp.Sec, stamp.Nsec).After(info.TakenAt) {
		c.logger.Warn().
			Time("snapshot_taken_at", info.TakenAt).
			Msg("git index changed since the snapshot; run 'dscan snapshot' to refresh tracked files")
	}
}
