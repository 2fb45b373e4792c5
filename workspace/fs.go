package workspace

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileSystem defines the file system operations used to stage untrusted input
type FileSystem interface {
	Mkdir(path string, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	Create(filename string, perm os.FileMode) (io.WriteCloser, error)
	RemoveAll(path string) error
	FileExists(path string) (bool, error)
	WalkDir(root string, fn fs.WalkDirFunc) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) Mkdir(path string, perm os.FileMode) error {
	return os.Mkdir(path, perm)
}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

// Create opens filename for writing, truncating an earlier entry of the same name.
// O_NOFOLLOW keeps a pre-existing symlink from redirecting the write.
func (RealFileSystem) Create(filename string, perm os.FileMode) (io.WriteCloser, error) {
	return os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|oNoFollow, perm) //nolint:gosec // path validated by safeJoin
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (RealFileSystem) FileExists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (RealFileSystem) WalkDir(root string, fn fs.WalkDirFunc) error {
	return filepath.WalkDir(root, fn)
}

// File permission constants
const (
	DirPermission  = 0755
	FilePermission = 0644
)
