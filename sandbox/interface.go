package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrToolNotAvailable reports that neither the container runtime nor the
// analyzer binary can serve a request.
var ErrToolNotAvailable = errors.New("analysis tool not available")

// Strategy is the resolved execution environment for one request
type Strategy string

const (
	StrategyContainer Strategy = "container"
	StrategyLocal     Strategy = "local"
)

// ProcessSpec is everything the runner needs to launch and bound one analyzer process
type ProcessSpec struct {
	Args           []string
	Dir            string
	Env            []string
	Timeout        time.Duration
	KillGrace      time.Duration
	MaxOutputBytes int

	// Set for the container strategy; used to force-remove the container on timeout.
	Runtime       string
	ContainerName string
}

// RawResult is the captured outcome of one analyzer process
type RawResult struct {
	ExitCode  int
	Stdout    []byte
	Stderr    []byte
	TimedOut  bool
	Truncated bool
	PID       int
	Duration  time.Duration
}

// ProcessRunner launches an analyzer process and waits for it within the limits of its ProcessSpec
type ProcessRunner interface {
	Run(ctx context.Context, spec ProcessSpec) (RawResult, error)
}

// CommandRunner defines an interface for short-lived runtime commands
// such as the capability probe and forced container removal.
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct{}

// RunCommand executes the given command with arguments
func (RealCommandRunner) RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // runtime binary and flags come from config

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()

	exitCode = 0
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			exitCode = exitError.ExitCode()
		} else {
			return "", "", 0, err
		}
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}
