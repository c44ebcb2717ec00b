package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/dirtyscan/dscan/index"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/trees"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTree(t *testing.T, paths ...string) *trees.DirectoryTree {
	t.Helper()
	root := t.TempDir()
	for _, p := range paths {
		full := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(p), 0o644))
	}
	idx, _, err := index.Capture(root, paths, index.Stamp{})
	require.NoError(t, err)
	return trees.NewDirectoryTree(root, idx)
}

func startWatch(t *testing.T, w *Watcher) <-chan []string {
	t.Helper()
	batches := make(chan []string, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(_ context.Context, changed []string) error {
			batches <- changed
			return nil
		})
	}()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
		w.Close()
	})
	return batches
}

func waitBatch(t *testing.T, batches <-chan []string) []string {
	t.Helper()
	select {
	case b := <-batches:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("no change batch delivered")
		return nil
	}
}

func TestWatcher_WatchesTrackedDirectories(t *testing.T) {
	tree := newTree(t, "a.txt", "dir/b.txt", "dir/sub/c.txt")
	w, err := New(tree)
	require.NoError(t, err)
	defer w.Close()

	assert.ElementsMatch(t, []string{
		tree.RootDir(),
		filepath.Join(tree.RootDir(), "dir"),
		filepath.Join(tree.RootDir(), "dir", "sub"),
	}, w.WatchList())
}

func TestWatcher_DeliversDebouncedBatches(t *testing.T) {
	tree := newTree(t, "a.txt", "dir/b.txt")
	w, err := New(tree, WithDebounce(50*time.Millisecond, time.Second), WithIgnore(".dscan"))
	require.NoError(t, err)
	batches := startWatch(t, w)
	root := tree.RootDir()

	require.NoError(t, os.WriteFile(filepath.Join(root, "dir", "b.txt"), []byte("edited"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "new.txt"), nil, 0o644))

	var seen []string
	for len(seen) < 2 {
		for _, p := range waitBatch(t, batches) {
			if !contains(seen, p) {
				seen = append(seen, p)
			}
		}
	}
	assert.ElementsMatch(t, []string{"dir/b.txt", "new.txt"}, seen)

	t.Run("ignored prefixes and .git produce nothing", func(t *testing.T) {
		require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
		require.NoError(t, os.MkdirAll(filepath.Join(root, ".dscan"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))

		for {
			batch := waitBatch(t, batches)
			for _, p := range batch {
				assert.NotContains(t, []string{".git", ".dscan"}, p)
			}
			if contains(batch, "a.txt") {
				break
			}
		}
	})
}

func TestWatcher_CallbackErrorStops(t *testing.T) {
	tree := newTree(t, "a.txt")
	w, err := New(tree, WithDebounce(10*time.Millisecond, 10*time.Millisecond))
	require.NoError(t, err)
	defer w.Close()

	done := make(chan error, 1)
	go func() {
		done <- w.Run(context.Background(), func(context.Context, []string) error {
			return assert.AnError
		})
	}()
	require.NoError(t, os.WriteFile(filepath.Join(tree.RootDir(), "a.txt"), []byte("y"), 0o644))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, assert.AnError)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestDebouncer(t *testing.T) {
	d := newDebouncer(20*time.Millisecond, 40*time.Millisecond)
	defer d.stop()

	start := time.Now()
	d.add("b", start)
	d.add("a", start)
	d.add("b", start)

	select {
	case <-d.C():
	case <-time.After(time.Second):
		t.Fatal("debouncer never fired")
	}
	assert.Equal(t, []string{"a", "b"}, d.flush())
	assert.Empty(t, d.flush())

	t.Run("max delay caps the wait", func(t *testing.T) {
		d := newDebouncer(time.Hour, 30*time.Millisecond)
		defer d.stop()
		d.add("x", time.Now())
		select {
		case <-d.C():
		case <-time.After(time.Second):
			t.Fatal("max delay not honored")
		}
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
