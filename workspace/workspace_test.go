package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/isdmx/auditbox/config"
)

func testConfig(root string) *config.Config {
	cfg := config.Default()
	cfg.Workspace.Root = root
	return cfg
}

// failingRemoveFS wraps the real file system and fails RemoveAll
type failingRemoveFS struct {
	RealFileSystem
	removeCalls []string
}

func (f *failingRemoveFS) RemoveAll(path string) error {
	f.removeCalls = append(f.removeCalls, path)
	return errors.New("device busy")
}

// failingMkdirFS fails Mkdir for one path
type failingMkdirFS struct {
	RealFileSystem
	failOn string
}

func (f *failingMkdirFS) Mkdir(path string, perm os.FileMode) error {
	if path == f.failOn {
		return errors.New("mock mkdir error")
	}
	return f.RealFileSystem.Mkdir(path, perm)
}

func TestManagerAcquireRelease(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("CreatesLayoutUnderRoot", func(t *testing.T) {
		root := t.TempDir()
		m := NewManager(logger, testConfig(root))

		ws, err := m.Acquire()
		require.NoError(t, err)

		assert.Equal(t, root, filepath.Dir(ws.Root))
		assert.Equal(t, "auditbox-"+ws.ID, filepath.Base(ws.Root))
		assert.DirExists(t, ws.SourceDir)
		assert.DirExists(t, ws.ScratchDir)

		m.Release(ws)
		assert.NoDirExists(t, ws.Root)

		entries, err := os.ReadDir(root)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("WorkspacesAreDistinct", func(t *testing.T) {
		m := NewManager(logger, testConfig(t.TempDir()))

		seen := make(map[string]bool)
		for range 10 {
			ws, err := m.Acquire()
			require.NoError(t, err)
			assert.False(t, seen[ws.Root], "workspace path reused: %s", ws.Root)
			seen[ws.Root] = true
			defer m.Release(ws)
		}
	})

	t.Run("CollidingIDFails", func(t *testing.T) {
		m := NewManager(logger, testConfig(t.TempDir()), WithIDGenerator(func() string { return "fixed" }))

		first, err := m.Acquire()
		require.NoError(t, err)
		defer m.Release(first)

		_, err = m.Acquire()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrWorkspace)
	})

	t.Run("CreatesMissingRoot", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "nested", "scratch")
		m := NewManager(logger, testConfig(root))

		ws, err := m.Acquire()
		require.NoError(t, err)
		defer m.Release(ws)
		assert.DirExists(t, root)
	})

	t.Run("PartialFailureCleansUp", func(t *testing.T) {
		root := t.TempDir()
		mockFS := &failingMkdirFS{failOn: filepath.Join(root, "auditbox-partial", ScratchDirName)}
		m := NewManager(logger, testConfig(root),
			WithManagerFileSystem(mockFS),
			WithIDGenerator(func() string { return "partial" }))

		_, err := m.Acquire()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrWorkspace)
		assert.NoDirExists(t, filepath.Join(root, "auditbox-partial"))
	})

	t.Run("DefaultsToSystemTempDir", func(t *testing.T) {
		m := NewManager(logger, testConfig(""))
		assert.Equal(t, os.TempDir(), m.Root())
	})
}

func TestManagerReleaseFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	mockFS := &failingRemoveFS{}
	m := NewManager(zap.New(core), testConfig(t.TempDir()), WithManagerFileSystem(mockFS))

	ws, err := m.Acquire()
	require.NoError(t, err)

	assert.NotPanics(t, func() { m.Release(ws) })
	assert.Equal(t, []string{ws.Root}, mockFS.removeCalls)

	failures := logs.FilterMessage("failed to remove workspace").All()
	require.Len(t, failures, 1)
	assert.Equal(t, ws.ID, failures[0].ContextMap()["workspace_id"])

	// clean up for real
	require.NoError(t, os.RemoveAll(ws.Root))
}

func TestManagerReleaseNil(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t), testConfig(t.TempDir()))
	assert.NotPanics(t, func() { m.Release(nil) })
}
