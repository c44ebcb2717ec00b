package index

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/dirtyscan/dscan/filesystem/common"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/filesystem/dirfs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMode(t *testing.T) {
	tests := []struct {
		name string
		in   uint32
		want uint32
	}{
		{"plain file", 0o100640, 0o100644},
		{"group executable", 0o100710, 0o100755},
		{"setuid executable", 0o104755, 0o100755},
		{"symlink", 0o120777, 0o120000},
		{"directory", 0o040755, 0o040000},
		{"gitlink", 0o160000, 0o160000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeMode(tt.in))
		})
	}
}

func TestStamp_Racy(t *testing.T) {
	stamp := Stamp{Sec: 100, Nsec: 500}

	assert.False(t, Stamp{}.Racy(&Entry{MtimeSec: 1 << 40}), "an unwritten index has no racy entries")
	assert.False(t, stamp.Racy(&Entry{MtimeSec: 99, MtimeNsec: 999}))
	assert.False(t, stamp.Racy(&Entry{MtimeSec: 100, MtimeNsec: 499}))
	assert.True(t, stamp.Racy(&Entry{MtimeSec: 100, MtimeNsec: 500}), "same instant is racy")
	assert.True(t, stamp.Racy(&Entry{MtimeSec: 100, MtimeNsec: 501}))
	assert.True(t, stamp.Racy(&Entry{MtimeSec: 101}))

	ts := time.Unix(1700000000, 42)
	assert.Equal(t, Stamp{Sec: 1700000000, Nsec: 42}, StampOf(ts))
}

func TestEntry_Modified(t *testing.T) {
	st := dirfs.Stat{Ino: 7, Mode: 0o100664, GID: 20, Size: 12, MtimeSec: 5, MtimeNsec: 6}
	e := FromStat("a/b", st)
	assert.Equal(t, uint32(0o100644), e.Mode)
	assert.False(t, e.Modified(st))

	changes := map[string]func(*dirfs.Stat){
		"mtime sec":  func(s *dirfs.Stat) { s.MtimeSec++ },
		"mtime nsec": func(s *dirfs.Stat) { s.MtimeNsec++ },
		"inode":      func(s *dirfs.Stat) { s.Ino++ },
		"exec bit":   func(s *dirfs.Stat) { s.Mode |= 0o100 },
		"type":       func(s *dirfs.Stat) { s.Mode = 0o120777 },
		"gid":        func(s *dirfs.Stat) { s.GID++ },
		"size":       func(s *dirfs.Stat) { s.Size-- },
	}
	for name, change := range changes {
		t.Run(name, func(t *testing.T) {
			other := st
			change(&other)
			assert.True(t, e.Modified(other))
		})
	}

	t.Run("permission bits outside the exec bit are ignored", func(t *testing.T) {
		other := st
		other.Mode = 0o100600
		assert.False(t, e.Modified(other))
	})

	t.Run("a failed stat is modified", func(t *testing.T) {
		assert.True(t, e.Modified(dirfs.Stat{}))
	})
}

func TestNewMemIndex(t *testing.T) {
	t.Run("sorts by raw bytes", func(t *testing.T) {
		idx, err := NewMemIndex([]Entry{{Path: "b"}, {Path: "a/x"}, {Path: "a-b"}, {Path: "B"}}, Stamp{})
		require.NoError(t, err)

		var got []string
		for i := range idx.EntryCount() {
			got = append(got, idx.EntryAt(i).Path)
		}
		assert.Equal(t, []string{"B", "a-b", "a/x", "b"}, got)
	})

	t.Run("rejects duplicates and malformed paths", func(t *testing.T) {
		for _, bad := range [][]Entry{
			{{Path: "a"}, {Path: "a"}},
			{{Path: ""}},
			{{Path: "/abs"}},
			{{Path: "dir/"}},
			{{Path: "a//b"}},
			{{Path: "nul\x00"}},
		} {
			_, err := NewMemIndex(bad, Stamp{})
			assert.ErrorIs(t, err, common.ErrNotSorted, "%q", bad[0].Path)
		}
	})

	t.Run("find and racy delegate to the stamp", func(t *testing.T) {
		idx, err := NewMemIndex([]Entry{{Path: "x", MtimeSec: 10}, {Path: "y", MtimeSec: 1}}, Stamp{Sec: 5})
		require.NoError(t, err)

		x, ok := idx.Find("x")
		require.True(t, ok)
		assert.True(t, idx.NewerThanIndex(x))

		y, ok := idx.Find("y")
		require.True(t, ok)
		assert.False(t, idx.NewerThanIndex(y))

		_, ok = idx.Find("z")
		assert.False(t, ok)
		assert.Equal(t, Stamp{Sec: 5}, idx.Stamp())
	})
}

func TestCapture(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dir", "run.sh"), []byte("#!/bin/sh\n"), 0o755))

	idx, missing, err := Capture(root, []string{"dir/run.sh", "a.txt", "gone.txt"}, Stamp{})
	require.NoError(t, err)
	assert.Equal(t, []string{"gone.txt"}, missing)
	require.Equal(t, 2, idx.EntryCount())

	a, ok := idx.Find("a.txt")
	require.True(t, ok)
	assert.Equal(t, int64(5), a.Size)
	assert.Equal(t, uint32(0o100644), a.Mode)
	assert.NotZero(t, a.Ino)

	run, ok := idx.Find("dir/run.sh")
	require.True(t, ok)
	assert.Equal(t, uint32(0o100755), run.Mode)

	st, err := dirfs.Lstat(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.False(t, a.Modified(st))
}
