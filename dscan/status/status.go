// Package status turns the scanner's dirty candidates into a classified
// working-tree report.
package status

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ZanzyTHEbar/dirtyscan/dscan/filesystem/dirfs"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/index"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/trees"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	ignore "github.com/sabhiram/go-gitignore"
)

// Kind classifies one reported path.
type Kind int

const (
	Modified Kind = iota
	Deleted
	Untracked
	// Unavailable marks a tracked directory that could not be opened or
	// read. Whether its contents changed is unknown.
	Unavailable
)

var kindCodes = [...]string{
	Modified:    "M",
	Deleted:     "D",
	Untracked:   "?",
	Unavailable: "!",
}

// String returns the one-letter status code.
func (k Kind) String() string {
	if int(k) < len(kindCodes) {
		return kindCodes[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Change is one classified path.
type Change struct {
	Path string
	Kind Kind
}

// Report is the classified result of a scan, sorted by path.
type Report struct {
	Changes []Change
	// Ignored counts untracked paths dropped by .gitignore rules.
	Ignored int
}

// Paths returns the paths of every change of kind k, in order.
func (r *Report) Paths(k Kind) []string {
	var out []string
	for _, c := range r.Changes {
		if c.Kind == k {
			out = append(out, c.Path)
		}
	}
	return out
}

// Lines renders the report as "<code> <path>" lines.
func (r *Report) Lines() []string {
	out := make([]string, len(r.Changes))
	for i, c := range r.Changes {
		out[i] = c.Kind.String() + " " + c.Path
	}
	return out
}

// Clean reports whether nothing changed.
func (r *Report) Clean() bool { return len(r.Changes) == 0 }

// RecordFinder looks tracked records up by path.
type RecordFinder interface {
	Find(path string) (*index.Entry, bool)
}

// Options controls filtering.
type Options struct {
	// RespectGitignore drops untracked paths matched by the root
	// .gitignore and .git/info/exclude.
	RespectGitignore bool
	// Pathspec keeps only paths matching at least one doublestar glob.
	// Directory paths are matched with and without their trailing slash.
	Pathspec []string
	Logger   *zerolog.Logger
}

// Classify assigns a Kind to every candidate produced by a scan of tree.
func Classify(ctx context.Context, tree *trees.DirectoryTree, records RecordFinder, candidates []string, opts Options) (*Report, error) {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	for _, p := range opts.Pathspec {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid pathspec %q: %w", p, doublestar.ErrBadPattern)
		}
	}

	var ignored *ignore.GitIgnore
	if opts.RespectGitignore {
		var err error
		if ignored, err = loadIgnore(tree.RootDir()); err != nil {
			return nil, err
		}
	}

	report := &Report{Changes: make([]Change, 0, len(candidates))}
	for i, c := range candidates {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		kind := classify(tree, records, c)
		if kind == Untracked && ignored != nil && c != "" && ignored.MatchesPath(c) {
			report.Ignored++
			continue
		}
		if !matchesPathspec(opts.Pathspec, c) {
			continue
		}
		report.Changes = append(report.Changes, Change{Path: c, Kind: kind})
	}

	slices.SortFunc(report.Changes, func(a, b Change) int { return strings.Compare(a.Path, b.Path) })

	logger.Debug().
		Int("candidates", len(candidates)).
		Int("changes", len(report.Changes)).
		Int("ignored", report.Ignored).
		Msg("status classified")
	return report, nil
}

func classify(tree *trees.DirectoryTree, records RecordFinder, path string) Kind {
	if path == "" || strings.HasSuffix(path, "/") {
		if _, ok := tree.Lookup(path); ok {
			return Unavailable
		}
		return Untracked
	}
	if _, ok := records.Find(path); !ok {
		return Untracked
	}
	_, err := dirfs.Lstat(filepath.Join(tree.RootDir(), filepath.FromSlash(path)))
	if err != nil && dirfs.IsNotExist(err) {
		return Deleted
	}
	return Modified
}

func matchesPathspec(pathspec []string, path string) bool {
	if len(pathspec) == 0 {
		return true
	}
	trimmed := strings.TrimSuffix(path, "/")
	for _, p := range pathspec {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, trimmed); ok {
			return true
		}
	}
	return false
}

// loadIgnore compiles the root ignore files. It returns nil when neither
// exists.
func loadIgnore(root string) (*ignore.GitIgnore, error) {
	var lines []string
	for _, name := range []string{".gitignore", filepath.Join(".git", "info", "exclude")} {
		data, err := os.ReadFile(filepath.Join(root, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %w", name, err)
		}
		lines = append(lines, strings.Split(string(data), "\n")...)
	}
	if len(lines) == 0 {
		return nil, nil
	}
	return ignore.CompileIgnoreLines(lines...), nil
}
