// internal/publish/publisher_test.go
package publish

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modguard/internal/config"
)

func newTestPublisher(t *testing.T) (*Publisher, *config.Config) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default(root)
	cfg.DevMode = true
	return New(cfg, nil), cfg
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func TestCommit(t *testing.T) {
	p, cfg := newTestPublisher(t)
	writeFile(t, cfg.ProjectRoot, "src/a.ts", "content")

	t.Run("InitializesAndCommits", func(t *testing.T) {
		hash, err := p.Commit([]string{"src/a.ts"}, "apply accepted modification")
		require.NoError(t, err)
		assert.NotEmpty(t, hash)

		repo, err := git.PlainOpen(cfg.ProjectRoot)
		require.NoError(t, err)
		head, err := repo.Head()
		require.NoError(t, err)
		commit, err := repo.CommitObject(head.Hash())
		require.NoError(t, err)
		assert.Equal(t, "apply accepted modification", commit.Message)
		assert.Equal(t, cfg.AuthorName, commit.Author.Name)
	})

	t.Run("CleanTreeCommitsNothing", func(t *testing.T) {
		hash, err := p.Commit([]string{"src/a.ts"}, "no changes")
		require.NoError(t, err)
		assert.Empty(t, hash)
	})

	t.Run("SecondChangeCommits", func(t *testing.T) {
		writeFile(t, cfg.ProjectRoot, "src/a.ts", "updated content")
		hash, err := p.Commit([]string{"src/a.ts"}, "second pass")
		require.NoError(t, err)
		assert.NotEmpty(t, hash)
	})
}

func TestPushNoRemotesConfigured(t *testing.T) {
	p, _ := newTestPublisher(t)
	results, err := p.Push()
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestPushToLocalRemote(t *testing.T) {
	p, cfg := newTestPublisher(t)

	// A bare repository on the local filesystem stands in for the remote.
	bare := t.TempDir()
	_, err := git.PlainInit(bare, true)
	require.NoError(t, err)
	cfg.Remotes = []config.RemoteConfig{{Name: "origin", URL: bare}}
	cfg.Branch = "master"

	writeFile(t, cfg.ProjectRoot, "src/a.ts", "content")
	_, err = p.Commit([]string{"src/a.ts"}, "initial")
	require.NoError(t, err)

	results, err := p.Push()
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].OK)
	assert.False(t, results[0].UpToDate)

	t.Run("SecondPushUpToDate", func(t *testing.T) {
		results, err := p.Push()
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.True(t, results[0].OK)
		assert.True(t, results[0].UpToDate)
	})
}

func TestRequestRestart(t *testing.T) {
	t.Run("DevModeTouchesTrigger", func(t *testing.T) {
		p, cfg := newTestPublisher(t)
		require.NoError(t, p.RequestRestart())

		data, err := os.ReadFile(cfg.RestartTriggerPath())
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	})

	t.Run("ProductionExits", func(t *testing.T) {
		p, cfg := newTestPublisher(t)
		cfg.DevMode = false

		exited := -1
		p.exitFunc = func(code int) { exited = code }
		require.NoError(t, p.RequestRestart())
		assert.Equal(t, 0, exited)

		// No trigger file in production mode.
		_, err := os.Stat(cfg.RestartTriggerPath())
		assert.True(t, os.IsNotExist(err))
	})
}
