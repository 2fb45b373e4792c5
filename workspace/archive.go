package workspace

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/isdmx/auditbox/config"
)

// Format identifies a supported archive container
type Format string

const (
	FormatZip     Format = "zip"
	FormatTarGzip Format = "tar.gz"
	FormatTarZstd Format = "tar.zst"
)

// DefaultSourceFileName is used when a single-file request carries no name
const DefaultSourceFileName = "Contract.sol"

var (
	zipMagic      = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
	gzipMagic     = []byte{0x1f, 0x8b}
	zstdMagic     = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// archiveExtensions maps upload names to the format they must contain
var archiveExtensions = []struct {
	suffix string
	format Format
}{
	{".zip", FormatZip},
	{".tar.gz", FormatTarGzip},
	{".tgz", FormatTarGzip},
	{".tar.zst", FormatTarZstd},
}

// DetectFormat sniffs the archive container from its leading bytes
func DetectFormat(data []byte) (Format, error) {
	switch {
	case len(data) == 0:
		return "", fmt.Errorf("%w: empty payload", ErrInvalidArchive)
	case bytes.HasPrefix(data, zipMagic), bytes.HasPrefix(data, zipEmptyMagic):
		return FormatZip, nil
	case bytes.HasPrefix(data, gzipMagic):
		return FormatTarGzip, nil
	case bytes.HasPrefix(data, zstdMagic):
		return FormatTarZstd, nil
	default:
		return "", fmt.Errorf("%w: unrecognized container format", ErrInvalidArchive)
	}
}

// SupportedArchiveName reports whether an upload name carries a supported archive extension
func SupportedArchiveName(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range archiveExtensions {
		if strings.HasSuffix(lower, ext.suffix) {
			return true
		}
	}
	return false
}

// Stager materializes request input into a workspace
type Stager struct {
	logger     *zap.Logger
	fs         FileSystem
	extensions []string
	maxFiles   int
	maxBytes   int64
}

// StagerOption defines a functional option for Stager
type StagerOption func(*Stager)

// WithStagerFileSystem sets the FileSystem for Stager
func WithStagerFileSystem(fs FileSystem) StagerOption {
	return func(s *Stager) {
		s.fs = fs
	}
}

// NewStager creates a Stager bounded by the archive section of cfg
func NewStager(logger *zap.Logger, cfg *config.Config, opts ...StagerOption) *Stager {
	s := &Stager{
		logger:     logger,
		fs:         &RealFileSystem{},
		extensions: cfg.Analyzer.SourceExtensions,
		maxFiles:   cfg.Archive.MaxFiles,
		maxBytes:   cfg.MaxUncompressedBytes(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ValidateFileName checks a single-file name before anything is written.
// An empty name becomes DefaultSourceFileName.
func (s *Stager) ValidateFileName(name string) (string, error) {
	if name == "" {
		return DefaultSourceFileName, nil
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: file name must be a bare name: %q", ErrUnsupportedFormat, name)
	}
	if !s.isSourceFile(name) {
		return "", fmt.Errorf("%w: unsupported source extension: %q", ErrUnsupportedFormat, name)
	}
	return name, nil
}

// StageSource writes one source file into the workspace and returns the file inventory
func (s *Stager) StageSource(ws *Workspace, fileName, source string) ([]string, error) {
	name, err := s.ValidateFileName(fileName)
	if err != nil {
		return nil, err
	}

	if err := s.fs.WriteFile(filepath.Join(ws.SourceDir, name), []byte(source), FilePermission); err != nil {
		return nil, fmt.Errorf("%w: write source file: %w", ErrWorkspace, err)
	}

	return []string{name}, nil
}

// StageArchive extracts an archive into the workspace and returns the
// sorted, slash-separated paths of the source files it contained.
func (s *Stager) StageArchive(ws *Workspace, data []byte) ([]string, error) {
	format, err := DetectFormat(data)
	if err != nil {
		return nil, err
	}

	var extractErr error
	switch format {
	case FormatZip:
		extractErr = s.extractZip(data, ws.SourceDir)
	case FormatTarGzip:
		extractErr = s.extractTarGzip(data, ws.SourceDir)
	case FormatTarZstd:
		extractErr = s.extractTarZstd(data, ws.SourceDir)
	}
	if extractErr != nil {
		return nil, extractErr
	}

	files, err := s.findSourceFiles(ws.SourceDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNoSourceFiles
	}

	s.logger.Debug("archive staged",
		zap.String("workspace_id", ws.ID),
		zap.String("format", string(format)),
		zap.Int("source_files", len(files)))

	return files, nil
}

// extractQuota tracks entry count and bytes written across one archive
type extractQuota struct {
	files     int
	maxFiles  int
	remaining int64
}

// admitEntry charges one file or directory against the entry cap
func (b *extractQuota) admitEntry() error {
	b.files++
	if b.files > b.maxFiles {
		return fmt.Errorf("%w: more than %d entries", ErrArchiveTooLarge, b.maxFiles)
	}
	return nil
}

func (s *Stager) newQuota() *extractQuota {
	return &extractQuota{maxFiles: s.maxFiles, remaining: s.maxBytes}
}

func (s *Stager) extractZip(data []byte, destDir string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}

	quota := s.newQuota()
	for _, f := range zr.File {
		if skipEntry(f.Name) {
			continue
		}

		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return err
		}

		mode := f.FileInfo().Mode()
		switch {
		case mode.IsDir():
			if err := quota.admitEntry(); err != nil {
				return err
			}
			if err := s.fs.MkdirAll(target, DirPermission); err != nil {
				return placementError("create directory", err)
			}
		case mode.IsRegular():
			if err := quota.admitEntry(); err != nil {
				return err
			}
			if f.UncompressedSize64 > uint64(quota.remaining) {
				return fmt.Errorf("%w: uncompressed size over %d bytes", ErrArchiveTooLarge, s.maxBytes)
			}
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("%w: open entry %q: %w", ErrInvalidArchive, f.Name, err)
			}
			err = s.writeEntry(target, rc, quota)
			_ = rc.Close()
			if err != nil {
				return err
			}
		default:
			s.logger.Debug("skipping non-regular zip entry", zap.String("entry", f.Name), zap.Stringer("mode", mode))
		}
	}

	return nil
}

func (s *Stager) extractTarGzip(data []byte, destDir string) error {
	gzipReader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}
	defer gzipReader.Close()

	return s.extractTar(tar.NewReader(gzipReader), destDir)
}

func (s *Stager) extractTarZstd(data []byte, destDir string) error {
	zstdReader, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}
	defer zstdReader.Close()

	return s.extractTar(tar.NewReader(zstdReader), destDir)
}

func (s *Stager) extractTar(tarReader *tar.Reader, destDir string) error {
	quota := s.newQuota()
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: error reading tar: %w", ErrInvalidArchive, err)
		}
		if skipEntry(header.Name) {
			continue
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := quota.admitEntry(); err != nil {
				return err
			}
			if err := s.fs.MkdirAll(target, DirPermission); err != nil {
				return placementError("create directory", err)
			}
		case tar.TypeReg:
			if err := quota.admitEntry(); err != nil {
				return err
			}
			if header.Size > quota.remaining {
				return fmt.Errorf("%w: uncompressed size over %d bytes", ErrArchiveTooLarge, s.maxBytes)
			}
			if err := s.writeEntry(target, tarReader, quota); err != nil {
				return err
			}
		default:
			// links, devices and fifos never reach the analyzer
			s.logger.Debug("skipping non-regular tar entry",
				zap.String("entry", header.Name),
				zap.String("type", string(header.Typeflag)))
		}
	}

	return nil
}

// writeEntry copies one entry, charging the bytes against the quota.
// The declared size is not trusted; the copy itself is capped.
func (s *Stager) writeEntry(target string, r io.Reader, quota *extractQuota) error {
	if err := s.fs.MkdirAll(filepath.Dir(target), DirPermission); err != nil {
		return placementError("create parent directories", err)
	}

	w, err := s.fs.Create(target, FilePermission)
	if err != nil {
		return placementError("create file", err)
	}

	n, copyErr := io.Copy(w, io.LimitReader(r, quota.remaining+1))
	closeErr := w.Close()
	quota.remaining -= n

	switch {
	case quota.remaining < 0:
		return fmt.Errorf("%w: uncompressed size over %d bytes", ErrArchiveTooLarge, s.maxBytes)
	case copyErr != nil:
		return fmt.Errorf("%w: read entry: %w", ErrInvalidArchive, copyErr)
	case closeErr != nil:
		return fmt.Errorf("%w: write file: %w", ErrWorkspace, closeErr)
	}
	return nil
}

// placementError classifies a failed create under the source dir. Entries
// that clash with each other, a file where a directory is needed or the
// reverse, are a malformed archive; anything else is a storage failure.
func placementError(op string, err error) error {
	if errors.Is(err, syscall.ENOTDIR) || errors.Is(err, syscall.EISDIR) || errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: conflicting entries: %s: %w", ErrInvalidArchive, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrWorkspace, op, err)
}

func (s *Stager) findSourceFiles(root string) ([]string, error) {
	var files []string
	err := s.fs.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !s.isSourceFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan staged files: %w", ErrWorkspace, err)
	}

	sort.Strings(files)
	return files, nil
}

func (s *Stager) isSourceFile(name string) bool {
	return HasSourceExtension(name, s.extensions)
}

// HasSourceExtension reports whether name ends in one of extensions, ignoring case
func HasSourceExtension(name string, extensions []string) bool {
	ext := filepath.Ext(name)
	for _, allowed := range extensions {
		if strings.EqualFold(ext, allowed) {
			return true
		}
	}
	return false
}

// skipEntry drops archive noise that is never source: empty names and
// macOS resource forks.
func skipEntry(name string) bool {
	n := strings.ReplaceAll(name, `\`, "/")
	if n == "" || n == "./" {
		return true
	}
	return n == "__MACOSX" || strings.HasPrefix(n, "__MACOSX/") || strings.HasPrefix(path.Base(n), "._")
}

// safeJoin resolves an archive entry name under destDir, rejecting absolute
// names and any name that resolves outside destDir.
func safeJoin(destDir, name string) (string, error) {
	slashed := strings.ReplaceAll(name, `\`, "/")
	if path.IsAbs(slashed) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: absolute path not allowed: %q", ErrUnsafePath, name)
	}

	clean := filepath.Clean(filepath.FromSlash(slashed))
	target := filepath.Join(destDir, clean)

	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}

	return target, nil
}
