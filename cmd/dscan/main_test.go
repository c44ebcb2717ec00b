package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/dirtyscan/dscan/db"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/index"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, p, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(p))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// seedSnapshot stores a snapshot of paths without going through git.
func seedSnapshot(t *testing.T, root string, paths ...string) {
	t.Helper()
	idx, missing, err := index.Capture(root, paths, index.Stamp{})
	require.NoError(t, err)
	require.Empty(t, missing)
	store, err := db.Open(filepath.Join(root, ".dscan", "snapshot.db"))
	require.NoError(t, err)
	defer store.Close()
	_, err = store.Save(context.Background(), idx)
	require.NoError(t, err)
}

func TestRun_Usage(t *testing.T) {
	code, _, stderr := runCLI(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Usage: dscan")

	code, _, stderr = runCLI(t, "frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Unknown command: frobnicate")

	code, _, _ = runCLI(t, "status", "--no-such-flag")
	assert.Equal(t, 2, code)
}

func TestNotifyContext_Terminate(t *testing.T) {
	ctx, stop := notifyContext(context.Background())
	defer stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("SIGTERM did not cancel the command context")
	}
}

func TestRun_StatusWithoutSnapshot(t *testing.T) {
	root := t.TempDir()
	code, _, stderr := runCLI(t, "status", "--root", root, "--log-level", "error")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "dscan snapshot")
}

func TestRun_Status(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "one")
	writeFile(t, root, "b.txt", "two")
	writeFile(t, root, "src/main.go", "package main")
	seedSnapshot(t, root, "a.txt", "b.txt", "src/main.go")

	writeFile(t, root, "a.txt", "one, edited")
	require.NoError(t, os.Remove(filepath.Join(root, "b.txt")))
	writeFile(t, root, "src/new.go", "package main")

	t.Run("reports every kind and hides the snapshot directory", func(t *testing.T) {
		code, stdout, _ := runCLI(t, "status", "--root", root, "--log-level", "error", "--repeat", "3", "--workers", "2")
		assert.Equal(t, 0, code)
		assert.Equal(t, []string{"M a.txt", "D b.txt", "? src/new.go"}, strings.Split(strings.TrimSpace(stdout), "\n"))
	})

	t.Run("pathspec", func(t *testing.T) {
		code, stdout, _ := runCLI(t, "status", "--root", root, "--log-level", "error", "--pathspec", "src/**", "--no-untracked-cache")
		assert.Equal(t, 0, code)
		assert.Equal(t, "? src/new.go\n", stdout)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("DSCAN_SCAN_ROOTDIR", root)
		t.Setenv("DSCAN_LOG_LEVEL", "error")
		code, stdout, _ := runCLI(t, "status", "--pathspec", "*.txt")
		assert.Equal(t, 0, code)
		assert.Equal(t, "M a.txt\nD b.txt\n", stdout)
	})
}

func TestRun_Snapshot(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	root := t.TempDir()
	writeFile(t, root, "tracked.txt", "x")
	writeFile(t, root, "dir/also.txt", "y")
	for _, args := range [][]string{{"init", "-q"}, {"add", "tracked.txt", "dir"}} {
		out, err := exec.Command("git", append([]string{"-C", root}, args...)...).CombinedOutput()
		require.NoError(t, err, string(out))
	}

	code, stdout, stderr := runCLI(t, "snapshot", "--root", root, "--log-level", "error")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, ": 2 records")

	code, stdout, _ = runCLI(t, "status", "--root", root, "--log-level", "error")
	assert.Equal(t, 0, code)
	assert.Empty(t, stdout)

	writeFile(t, root, "dir/extra.txt", "z")
	code, stdout, _ = runCLI(t, "status", "--root", root, "--log-level", "error")
	assert.Equal(t, 0, code)
	assert.Equal(t, "? dir/extra.txt\n", stdout)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRun_Watch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "one")
	writeFile(t, root, "dir/b.txt", "two")
	seedSnapshot(t, root, "a.txt", "dir/b.txt")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var stdout, stderr syncBuffer
	done := make(chan int, 1)
	go func() {
		done <- run(ctx, []string{"watch", "--root", root, "--log-level", "error"}, &stdout, &stderr)
	}()

	// Keep touching the tree until the watcher has reported a batch.
	deadline := time.Now().Add(10 * time.Second)
	for !strings.Contains(stdout.String(), "---") {
		require.True(t, time.Now().Before(deadline), "no watch output; stderr: %s", stderr.String())
		writeFile(t, root, "dir/new.txt", time.Now().String())
		time.Sleep(100 * time.Millisecond)
	}
	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "? dir/new.txt")
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case code := <-done:
		assert.Equal(t, 0, code, stderr.String())
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not exit after cancellation")
	}
}
