package workspace

import "errors"

// Sentinel errors returned by the workspace manager and the archive stager.
// Callers match them with errors.Is; wrapped messages may contain host paths
// and are meant for operator logs only.
var (
	ErrWorkspace         = errors.New("workspace unavailable")
	ErrInvalidArchive    = errors.New("invalid archive")
	ErrNoSourceFiles     = errors.New("no source files found")
	ErrUnsupportedFormat = errors.New("unsupported input format")
	ErrUnsafePath        = errors.New("archive entry escapes the workspace")
	ErrArchiveTooLarge   = errors.New("archive exceeds extraction limits")
)
