package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/auditbox/config"
	"github.com/isdmx/auditbox/report"
	"github.com/isdmx/auditbox/sandbox"
)

const reentrancyOutput = `{"success":true,"error":null,"results":{"detectors":[{"check":"reentrancy-eth","impact":"High","confidence":"Medium","description":"Reentrancy in Vault.withdraw()","elements":[{"source_mapping":{"filename_relative":"Vault.sol","lines":[10,11]},"type":"function","name":"withdraw"}]}]}}`

// MockPlanner returns a fixed plan or error
type MockPlanner struct {
	plan  sandbox.Plan
	err   error
	calls int
}

func (m *MockPlanner) Select(context.Context) (sandbox.Plan, error) {
	m.calls++
	return m.plan, m.err
}

// MockRunner records specs and the staged files visible at run time
type MockRunner struct {
	mu       sync.Mutex
	result   sandbox.RawResult
	err      error
	panicMsg string
	specs    []sandbox.ProcessSpec
	staged   [][]string
}

func (m *MockRunner) Run(_ context.Context, spec sandbox.ProcessSpec) (sandbox.RawResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.specs = append(m.specs, spec)
	if len(spec.Args) > 1 {
		var files []string
		_ = filepath.WalkDir(spec.Args[1], func(p string, d os.DirEntry, err error) error {
			if err == nil && !d.IsDir() {
				rel, _ := filepath.Rel(spec.Args[1], p)
				files = append(files, filepath.ToSlash(rel))
			}
			return nil
		})
		m.staged = append(m.staged, files)
	}

	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	return m.result, m.err
}

func (m *MockRunner) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.specs)
}

func localPlan() sandbox.Plan {
	return sandbox.Plan{
		Strategy: sandbox.StrategyLocal,
		Binary:   "/usr/bin/slither",
		Args:     []string{"--json", "-"},
	}
}

type fixture struct {
	root    string
	planner *MockPlanner
	runner  *MockRunner
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Workspace.Root = root

	f := &fixture{
		root:    root,
		planner: &MockPlanner{plan: localPlan()},
		runner:  &MockRunner{result: sandbox.RawResult{Stdout: []byte(reentrancyOutput)}},
	}
	f.engine = New(zaptest.NewLogger(t), cfg, f.planner, f.runner)
	return f
}

func (f *fixture) requireRootEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.root)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace left behind")
}

func createZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestAnalyzeSource(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		f := newFixture(t)

		rep, err := f.engine.AnalyzeSource(ctx, "Vault.sol", "contract Vault {}")
		require.NoError(t, err)

		assert.True(t, rep.Success)
		assert.Equal(t, []string{"Vault.sol"}, rep.FilesAnalyzed)
		require.Len(t, rep.Vulnerabilities, 1)
		assert.Equal(t, report.SeverityHigh, rep.Vulnerabilities[0].Severity)
		assert.Equal(t, 1, rep.Summary.BySeverity["high"])
		require.NotNil(t, rep.Execution)
		assert.Equal(t, "local", rep.Execution.Strategy)
		assert.False(t, rep.Execution.Sandboxed)
		assert.Equal(t, report.ProvenanceStructured, rep.Execution.Provenance)

		require.Equal(t, 1, f.runner.Calls())
		assert.Equal(t, [][]string{{"Vault.sol"}}, f.runner.staged)
		f.requireRootEmpty(t)
	})

	t.Run("DefaultFileName", func(t *testing.T) {
		f := newFixture(t)

		rep, err := f.engine.AnalyzeSource(ctx, "", "contract C {}")
		require.NoError(t, err)
		assert.Equal(t, []string{"Contract.sol"}, rep.FilesAnalyzed)
	})

	t.Run("UnsupportedFileName", func(t *testing.T) {
		f := newFixture(t)

		rep, err := f.engine.AnalyzeSource(ctx, "../evil.sol", "contract C {}")
		require.ErrorIs(t, err, ErrInput)
		assert.False(t, rep.Success)
		assert.Equal(t, "unsupported input format", rep.Error)
		assert.Zero(t, f.runner.Calls())
		assert.Zero(t, f.planner.calls)
		f.requireRootEmpty(t)
	})
}

// createZipInOrder writes name/body pairs in the given order
func createZipInOrder(t *testing.T, entries ...[2]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e[0])
		require.NoError(t, err)
		_, err = w.Write([]byte(e[1]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestAnalyzeArchive(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		f := newFixture(t)
		data := createZip(t, map[string]string{
			"contracts/Vault.sol": "contract Vault {}",
			"contracts/Math.sol":  "library Math {}",
			"README.md":           "docs",
		})

		rep, err := f.engine.AnalyzeArchive(ctx, data)
		require.NoError(t, err)
		assert.True(t, rep.Success)
		assert.Equal(t, []string{"contracts/Math.sol", "contracts/Vault.sol"}, rep.FilesAnalyzed)
		f.requireRootEmpty(t)
	})

	inputErrors := []struct {
		name    string
		data    []byte
		message string
	}{
		{name: "EmptyArchive", data: nil, message: "invalid archive"},
		{name: "NotAnArchive", data: []byte("pragma solidity ^0.8.0;"), message: "invalid archive"},
		{name: "EmptyZip", data: nil, message: "no source files found"},
		{name: "NoSourceFiles", data: nil, message: "no source files found"},
		{name: "Traversal", data: nil, message: "archive entry escapes the workspace"},
		{name: "FileShadowsDirectory", data: nil, message: "invalid archive"},
	}
	inputErrors[2].data = createZip(t, nil)
	inputErrors[3].data = createZip(t, map[string]string{"notes.txt": "none"})
	inputErrors[4].data = createZip(t, map[string]string{"../../etc/passthrough.sol": "contract X {}"})
	inputErrors[5].data = createZipInOrder(t, [2]string{"x", "plain file"}, [2]string{"x/A.sol", "contract A {}"})

	for _, tt := range inputErrors {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			rep, err := f.engine.AnalyzeArchive(ctx, tt.data)
			require.ErrorIs(t, err, ErrInput)
			assert.Equal(t, KindInput, KindOf(err))
			assert.False(t, rep.Success)
			assert.Zero(t, f.runner.Calls(), "runner must not be invoked")
			f.requireRootEmpty(t)

			if tt.name != "Traversal" {
				assert.Equal(t, tt.message, rep.Error)
			}
			_, statErr := os.Stat(filepath.Join(filepath.Dir(f.root), "etc", "passthrough.sol"))
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestAnalyzeFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("ToolUnavailable", func(t *testing.T) {
		f := newFixture(t)
		f.planner.err = errors.Join(sandbox.ErrToolNotAvailable, errors.New(`analyzer "/opt/bin/slither" not found`))

		rep, err := f.engine.AnalyzeSource(ctx, "A.sol", "contract A {}")
		require.ErrorIs(t, err, ErrToolUnavailable)
		assert.False(t, rep.Success)
		assert.Equal(t, "analysis tool not available", rep.Error)
		assert.NotContains(t, rep.Error, "/opt/bin")
		assert.Zero(t, f.runner.Calls())
		f.requireRootEmpty(t)
	})

	t.Run("ToolMissingAtLaunch", func(t *testing.T) {
		f := newFixture(t)
		f.runner.err = sandbox.ErrToolNotAvailable

		_, err := f.engine.AnalyzeSource(ctx, "A.sol", "contract A {}")
		require.ErrorIs(t, err, ErrToolUnavailable)
		f.requireRootEmpty(t)
	})

	t.Run("Timeout", func(t *testing.T) {
		f := newFixture(t)
		f.runner.result = sandbox.RawResult{TimedOut: true, Stdout: []byte(reentrancyOutput)}

		rep, err := f.engine.AnalyzeSource(ctx, "A.sol", "contract A {}")
		require.NoError(t, err)
		assert.True(t, rep.Success)
		assert.Empty(t, rep.Vulnerabilities)
		assert.Equal(t, report.TimeoutNote, rep.Summary.Error)
		assert.True(t, rep.Execution.TimedOut)
		f.requireRootEmpty(t)
	})

	t.Run("RunnerPanics", func(t *testing.T) {
		f := newFixture(t)
		f.runner.panicMsg = "boom"

		var rep report.Report
		var err error
		require.NotPanics(t, func() {
			rep, err = f.engine.AnalyzeSource(ctx, "A.sol", "contract A {}")
		})
		require.ErrorIs(t, err, ErrExecution)
		assert.Contains(t, err.Error(), "boom")
		assert.Equal(t, "analysis failed", rep.Error)
		f.requireRootEmpty(t)
	})

	t.Run("Canceled", func(t *testing.T) {
		f := newFixture(t)
		f.runner.err = context.Canceled

		rep, err := f.engine.AnalyzeSource(ctx, "A.sol", "contract A {}")
		require.ErrorIs(t, err, ErrExecution)
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, "analysis canceled", rep.Error)
		f.requireRootEmpty(t)
	})

	t.Run("WorkspaceUnavailable", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "not-a-dir")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

		cfg := config.Default()
		cfg.Workspace.Root = blocker
		runner := &MockRunner{}
		eng := New(zaptest.NewLogger(t), cfg, &MockPlanner{plan: localPlan()}, runner)

		rep, err := eng.AnalyzeSource(ctx, "A.sol", "contract A {}")
		require.ErrorIs(t, err, ErrWorkspace)
		assert.Equal(t, "workspace unavailable", rep.Error)
		assert.NotContains(t, rep.Error, blocker)
		assert.Zero(t, runner.Calls())
	})
}

func TestAnalyzeIdempotent(t *testing.T) {
	f := newFixture(t)
	data := createZip(t, map[string]string{"Vault.sol": "contract Vault {}"})

	first, err := f.engine.AnalyzeArchive(context.Background(), data)
	require.NoError(t, err)
	second, err := f.engine.AnalyzeArchive(context.Background(), data)
	require.NoError(t, err)

	assert.Equal(t, first.Vulnerabilities, second.Vulnerabilities)
	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, first.FilesAnalyzed, second.FilesAnalyzed)
	assert.Equal(t, first.RawOutput, second.RawOutput)

	require.Len(t, f.runner.specs, 2)
	assert.NotEqual(t, f.runner.specs[0].Dir, f.runner.specs[1].Dir)
}

func TestAnalyzeConcurrentWorkspacesAreDistinct(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.AnalyzeSource(context.Background(), "A.sol", "contract A {}")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	dirs := make(map[string]bool)
	for _, spec := range f.runner.specs {
		dirs[spec.Dir] = true
	}
	assert.Len(t, dirs, 8)
	f.requireRootEmpty(t)
}

func TestRequestIDFromContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.NotEmpty(t, RequestIDFromContext(context.Background()))
}
