package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/auditbox/config"
)

// Sub-directories of every workspace
const (
	SourceDirName  = "src"
	ScratchDirName = "tmp"
)

// Workspace is an exclusively owned scratch directory for one analysis request.
// It is never reused; Manager.Release removes it.
type Workspace struct {
	ID         string
	Root       string
	SourceDir  string // staged input, mounted read-only in the container strategy
	ScratchDir string // writable temp area for the local strategy
}

// Manager allocates and releases workspaces under a scratch root
type Manager struct {
	logger *zap.Logger
	fs     FileSystem
	root   string
	prefix string
	newID  func() string
}

// ManagerOption defines a functional option for Manager
type ManagerOption func(*Manager)

// WithManagerFileSystem sets the FileSystem for Manager
func WithManagerFileSystem(fs FileSystem) ManagerOption {
	return func(m *Manager) {
		m.fs = fs
	}
}

// WithIDGenerator overrides the workspace id source
func WithIDGenerator(newID func() string) ManagerOption {
	return func(m *Manager) {
		m.newID = newID
	}
}

// NewManager creates a Manager rooted at workspace.root, or the system temp dir when empty
func NewManager(logger *zap.Logger, cfg *config.Config, opts ...ManagerOption) *Manager {
	root := cfg.Workspace.Root
	if root == "" {
		root = os.TempDir()
	}

	m := &Manager{
		logger: logger,
		fs:     &RealFileSystem{},
		root:   root,
		prefix: cfg.Workspace.Prefix,
		newID:  uuid.NewString,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Root returns the scratch root workspaces are created under
func (m *Manager) Root() string {
	return m.root
}

// Acquire creates a new, uniquely named workspace
func (m *Manager) Acquire() (*Workspace, error) {
	if err := m.fs.MkdirAll(m.root, DirPermission); err != nil {
		return nil, fmt.Errorf("%w: create scratch root: %w", ErrWorkspace, err)
	}

	id := m.newID()
	ws := &Workspace{
		ID:   id,
		Root: filepath.Join(m.root, m.prefix+id),
	}
	ws.SourceDir = filepath.Join(ws.Root, SourceDirName)
	ws.ScratchDir = filepath.Join(ws.Root, ScratchDirName)

	// Mkdir fails on an existing path, so a colliding id can never share a directory.
	if err := m.fs.Mkdir(ws.Root, 0700); err != nil {
		return nil, fmt.Errorf("%w: create workspace %s: %w", ErrWorkspace, ws.Root, err)
	}

	for _, dir := range []string{ws.SourceDir, ws.ScratchDir} {
		if err := m.fs.Mkdir(dir, DirPermission); err != nil {
			m.Release(ws)
			return nil, fmt.Errorf("%w: create %s: %w", ErrWorkspace, dir, err)
		}
	}

	m.logger.Debug("workspace acquired", zap.String("workspace_id", id), zap.String("path", ws.Root))
	return ws, nil
}

// Release removes the workspace tree. Failures are logged, never returned,
// so cleanup cannot mask the result of the request.
func (m *Manager) Release(ws *Workspace) {
	if ws == nil {
		return
	}

	if err := m.fs.RemoveAll(ws.Root); err != nil {
		m.logger.Error("failed to remove workspace",
			zap.String("workspace_id", ws.ID),
			zap.String("path", ws.Root),
			zap.Error(err))
		return
	}

	m.logger.Debug("workspace released", zap.String("workspace_id", ws.ID))
}
