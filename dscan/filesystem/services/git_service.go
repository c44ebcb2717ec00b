package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/dirtyscan/dscan/index"

	"github.com/rs/zerolog"
)

const defaultGitTimeout = 30 * time.Second

// GitService reads the tracked-path list and the index timestamp of a git
// working tree through the git CLI.
type GitService struct {
	timeout time.Duration
	logger  zerolog.Logger
}

// GitOption allows for customization of GitService
type GitOption func(*GitService)

// WithTimeout bounds every git invocation.
func WithTimeout(d time.Duration) GitOption {
	return func(gs *GitService) {
		if d > 0 {
			gs.timeout = d
		}
	}
}

// WithLogger sets a custom logger
func WithLogger(logger zerolog.Logger) GitOption {
	return func(gs *GitService) {
		gs.logger = logger
	}
}

// NewGitService creates a new git service instance
func NewGitService(opts ...GitOption) *GitService {
	gs := &GitService{
		timeout: defaultGitTimeout,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(gs)
	}
	return gs
}

// runGitCommand executes git in repoDir with a timeout and returns stdout.
func (gs *GitService) runGitCommand(ctx context.Context, repoDir string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, gs.timeout)
	defer cancel()

	cmdArgs := append([]string{"-C", repoDir}, args...)
	cmd := exec.CommandContext(ctx, "git", cmdArgs...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	gs.logger.Debug().Str("dir", repoDir).Strs("args", args).Msg("executing git command")

	out, err := cmd.Output()
	if err != nil {
		gs.logger.Error().
			Str("dir", repoDir).
			Strs("args", args).
			Str("stderr", strings.TrimSpace(stderr.String())).
			Err(err).
			Msg("git command failed")
		return nil, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// IsRepository checks if dir is inside a git working tree.
func (gs *GitService) IsRepository(ctx context.Context, dir string) bool {
	_, err := gs.runGitCommand(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil
}

// TrackedPaths lists every path in the index under root, relative to root
// and '/'-delimited, in index order.
func (gs *GitService) TrackedPaths(ctx context.Context, root string) ([]string, error) {
	out, err := gs.runGitCommand(ctx, root, "ls-files", "-z")
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked files: %w", err)
	}

	var paths []string
	for _, p := range bytes.Split(out, []byte{0}) {
		if len(p) > 0 {
			paths = append(paths, string(p))
		}
	}
	// Unmerged paths appear once per stage.
	return slices.Compact(paths), nil
}

// IndexStamp returns the modification time of the repository's index file,
// the generation time tracked records are compared against for racy
// entries. A repository without an index yields the zero stamp.
func (gs *GitService) IndexStamp(ctx context.Context, root string) (index.Stamp, error) {
	out, err := gs.runGitCommand(ctx, root, "rev-parse", "--git-path", "index")
	if err != nil {
		return index.Stamp{}, fmt.Errorf("failed to locate git index: %w", err)
	}

	indexPath := strings.TrimSpace(string(out))
	if !filepath.IsAbs(indexPath) {
		indexPath = filepath.Join(root, indexPath)
	}
	info, err := os.Stat(indexPath)
	if os.IsNotExist(err) {
		return index.Stamp{}, nil
	}
	if err != nil {
		return index.Stamp{}, fmt.Errorf("failed to stat git index: %w", err)
	}
	return index.StampOf(info.ModTime()), nil
}
