// internal/pathguard/pathguard_test.go
package pathguard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T) (*Guard, string) {
	t.Helper()
	root := t.TempDir()
	for _, d := range []string{"src/server/auth", "src/features", "lib", "internal/engine"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0755))
	}
	g, err := New(root,
		[]string{"src", "lib"},
		[]string{"src/server/auth", "internal/engine", ".env", "go.mod"},
		nil)
	require.NoError(t, err)
	return g, g.Root()
}

func TestNormalize(t *testing.T) {
	g, _ := newTestGuard(t)

	t.Run("CleanRelative", func(t *testing.T) {
		got, err := g.Normalize("src/./features/../features/x.ts")
		require.NoError(t, err)
		assert.Equal(t, "src/features/x.ts", got)
	})

	t.Run("RejectsAbsolute", func(t *testing.T) {
		_, err := g.Normalize("/etc/passwd")
		assert.Error(t, err)
	})

	t.Run("RejectsEscape", func(t *testing.T) {
		_, err := g.Normalize("src/../../outside.txt")
		assert.Error(t, err)
	})

	t.Run("RejectsEmpty", func(t *testing.T) {
		_, err := g.Normalize("   ")
		assert.Error(t, err)
	})

	t.Run("RejectsRoot", func(t *testing.T) {
		_, err := g.Normalize("src/..")
		assert.Error(t, err)
	})
}

func TestClassify(t *testing.T) {
	g, _ := newTestGuard(t)

	cases := []struct {
		path string
		want Class
	}{
		{"src/features/widget.ts", ClassAllowed},
		{"lib/util.ts", ClassAllowed},
		{"src/server/auth/login.ts", ClassProtected},
		{"internal/engine/core.go", ClassProtected},
		{"docs/readme.md", ClassOutOfScope},
		{"src/config/.env", ClassProtected},  // basename match anywhere
		{"lib/vendor/go.mod", ClassProtected}, // dependency manifest by name
	}
	for _, tc := range cases {
		got, err := g.Classify(tc.path)
		require.NoError(t, err, tc.path)
		assert.Equal(t, tc.want, got, tc.path)
	}
}

func TestClassifyPendingCreate(t *testing.T) {
	g, _ := newTestGuard(t)

	// Deeply nested path that does not exist yet is still allowed when its
	// nominal location is under an allowed root.
	got, err := g.Classify("src/brand/new/dir/file.ts")
	require.NoError(t, err)
	assert.Equal(t, ClassAllowed, got)
}

func TestSymlinkBypassRejected(t *testing.T) {
	g, root := newTestGuard(t)

	// A symlink inside an allowed directory pointing at a protected one must
	// not grant write access through the alias.
	link := filepath.Join(root, "src", "features", "shortcut")
	require.NoError(t, os.Symlink(filepath.Join(root, "src", "server", "auth"), link))

	class, err := g.Classify("src/features/shortcut/login.ts")
	require.NoError(t, err)
	assert.Equal(t, ClassProtected, class)
	assert.True(t, g.IsProtected("src/features/shortcut/login.ts"))
}

func TestSymlinkOutsideRootRejected(t *testing.T) {
	g, root := newTestGuard(t)

	outside := t.TempDir()
	link := filepath.Join(root, "src", "features", "escape")
	require.NoError(t, os.Symlink(outside, link))

	_, err := g.Classify("src/features/escape/file.ts")
	assert.Error(t, err)
	assert.False(t, g.IsAllowed("src/features/escape/file.ts"))
}

func TestPredicates(t *testing.T) {
	g, _ := newTestGuard(t)

	assert.True(t, g.IsAllowed("src/features/a.ts"))
	assert.False(t, g.IsAllowed("src/server/auth/a.ts"))
	assert.True(t, g.IsProtected("src/server/auth/a.ts"))
	assert.False(t, g.IsProtected("docs/x.md"))
	assert.False(t, g.IsAllowed("docs/x.md"))
}
