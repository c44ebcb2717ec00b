package trees

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathIndex(t *testing.T) {
	dt := NewDirectoryTree("/repo", newTestIndex(t,
		"docs/guide/intro.md",
		"docs/readme.md",
		"src/main.go",
		"src/pkg/a.go",
		"src/pkg/sub/b.go",
		"srcgen/c.go",
	))

	t.Run("Lookup finds every directory by path", func(t *testing.T) {
		for _, d := range dt.Dirs() {
			got, ok := dt.Lookup(d.Path)
			require.True(t, ok, d.Path)
			assert.Same(t, d, got)
		}
		assert.Equal(t, len(dt.Dirs()), dt.paths.Len())
	})

	t.Run("Lookup requires the trailing slash", func(t *testing.T) {
		_, ok := dt.Lookup("src")
		assert.False(t, ok)
		_, ok = dt.Lookup("src/main.go")
		assert.False(t, ok)
	})

	t.Run("Under walks a subtree in path order", func(t *testing.T) {
		var paths []string
		for _, d := range dt.Under("src/") {
			paths = append(paths, d.Path)
		}
		assert.Equal(t, []string{"src/", "src/pkg/", "src/pkg/sub/"}, paths)
	})

	t.Run("Under with the empty prefix returns everything", func(t *testing.T) {
		assert.Len(t, dt.Under(""), len(dt.Dirs()))
	})

	t.Run("Under an unknown prefix is empty", func(t *testing.T) {
		assert.Empty(t, dt.Under("vendor/"))
	})
}
