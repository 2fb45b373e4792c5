package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/isdmx/auditbox/sandbox"
	"github.com/isdmx/auditbox/workspace"
)

// Kind classifies request-level failures
type Kind int

const (
	KindInput Kind = iota + 1
	KindToolUnavailable
	KindWorkspace
	KindExecution
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindToolUnavailable:
		return "tool_unavailable"
	case KindWorkspace:
		return "workspace"
	case KindExecution:
		return "execution"
	default:
		return "unknown"
	}
}

// Kind sentinels for errors.Is
var (
	ErrInput           = errors.New("invalid input")
	ErrToolUnavailable = errors.New("analysis tool not available")
	ErrWorkspace       = errors.New("workspace unavailable")
	ErrExecution       = errors.New("analysis failed")
)

func (k Kind) sentinel() error {
	switch k {
	case KindInput:
		return ErrInput
	case KindToolUnavailable:
		return ErrToolUnavailable
	case KindWorkspace:
		return ErrWorkspace
	default:
		return ErrExecution
	}
}

// Error is a request-level failure. Its message may contain host paths and
// container names and belongs in operator logs; use PublicMessage for callers.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func newError(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// KindOf returns the kind of err, or KindExecution for unclassified errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindExecution
}

// inputReasons are safe to show verbatim; their messages carry no paths.
var inputReasons = []error{
	workspace.ErrNoSourceFiles,
	workspace.ErrUnsafePath,
	workspace.ErrArchiveTooLarge,
	workspace.ErrInvalidArchive,
	workspace.ErrUnsupportedFormat,
}

// PublicMessage renders err for the end caller without filesystem paths or
// container identifiers.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}

	switch KindOf(err) {
	case KindInput:
		for _, reason := range inputReasons {
			if errors.Is(err, reason) {
				return reason.Error()
			}
		}
		return ErrInput.Error()
	case KindToolUnavailable:
		return sandbox.ErrToolNotAvailable.Error()
	case KindWorkspace:
		return ErrWorkspace.Error()
	default:
		if errors.Is(err, context.Canceled) {
			return "analysis canceled"
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "analysis deadline exceeded"
		}
		return ErrExecution.Error()
	}
}
