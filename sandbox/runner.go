package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// RealProcessRunner launches analyzer processes in their own process group and
// enforces the timeout and output bound of each ProcessSpec.
type RealProcessRunner struct {
	logger    *zap.Logger
	cmdRunner CommandRunner
}

// ProcessRunnerOption defines a functional option for RealProcessRunner
type ProcessRunnerOption func(*RealProcessRunner)

// WithRunnerCommandRunner sets the CommandRunner used for forced container removal
func WithRunnerCommandRunner(cmdRunner CommandRunner) ProcessRunnerOption {
	return func(r *RealProcessRunner) {
		r.cmdRunner = cmdRunner
	}
}

// NewProcessRunner creates a RealProcessRunner
func NewProcessRunner(logger *zap.Logger, opts ...ProcessRunnerOption) *RealProcessRunner {
	r := &RealProcessRunner{
		logger:    logger,
		cmdRunner: &RealCommandRunner{},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run starts the process and waits for it. A timeout is not an error: the
// result comes back with TimedOut set. Context cancellation terminates the
// process as well and returns the context error.
func (r *RealProcessRunner) Run(ctx context.Context, spec ProcessSpec) (RawResult, error) {
	if len(spec.Args) == 0 {
		return RawResult{}, fmt.Errorf("no command provided")
	}
	if err := ctx.Err(); err != nil {
		return RawResult{}, err
	}

	stdout := newBoundedBuffer(spec.MaxOutputBytes)
	stderr := newBoundedBuffer(spec.MaxOutputBytes)

	cmd := exec.Command(spec.Args[0], spec.Args[1:]...) //nolint:gosec,noctx // lifetime is managed below
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = spec.KillGrace
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return RawResult{}, fmt.Errorf("%w: %w", ErrToolNotAvailable, err)
		}
		return RawResult{}, fmt.Errorf("failed to start analyzer: %w", err)
	}

	// The timeout clock starts once the process exists.
	started := time.Now()
	pid := cmd.Process.Pid

	logger := r.logger.With(zap.Int("pid", pid), zap.String("container", spec.ContainerName))
	logger.Debug("analyzer started", zap.Strings("args", spec.Args), zap.Duration("timeout", spec.Timeout))

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(spec.Timeout)
	defer timer.Stop()

	var (
		waitErr  error
		timedOut bool
		ctxErr   error
	)

	select {
	case waitErr = <-done:
		if errors.Is(waitErr, exec.ErrWaitDelay) {
			logger.Warn("analyzer exited with its output still held open", zap.Duration("wait_delay", spec.KillGrace))
		}
		// Descendants left in the group must not outlive the request.
		if err := killGroup(pid); err != nil {
			logger.Warn("failed to kill leftover processes", zap.Error(err))
		}
	case <-timer.C:
		timedOut = true
		logger.Warn("analyzer timed out", zap.Duration("timeout", spec.Timeout))
		waitErr = r.terminate(logger, pid, spec, done)
	case <-ctx.Done():
		ctxErr = ctx.Err()
		logger.Warn("analyzer canceled", zap.Error(ctxErr))
		waitErr = r.terminate(logger, pid, spec, done)
	}

	result := RawResult{
		ExitCode:  exitCode(cmd, waitErr),
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		TimedOut:  timedOut,
		Truncated: stdout.Truncated() || stderr.Truncated(),
		PID:       pid,
		Duration:  time.Since(started),
	}

	logger.Debug("analyzer finished",
		zap.Int("exit_code", result.ExitCode),
		zap.Bool("timed_out", timedOut),
		zap.Bool("output_truncated", result.Truncated),
		zap.Duration("duration", result.Duration))

	if ctxErr != nil {
		return result, fmt.Errorf("analyzer run aborted: %w", ctxErr)
	}

	if waitErr != nil && !timedOut && !exited(cmd, waitErr) {
		return result, fmt.Errorf("failed waiting for analyzer: %w", waitErr)
	}

	return result, nil
}

// terminate stops a running analyzer: container removal first when there is
// one, then SIGTERM to the group and SIGKILL after the grace period. It
// returns the Wait error once the process is reaped.
func (r *RealProcessRunner) terminate(logger *zap.Logger, pid int, spec ProcessSpec, done <-chan error) error {
	// Exited between the timer firing and now.
	select {
	case err := <-done:
		return err
	default:
	}

	if spec.ContainerName != "" {
		r.removeContainer(logger, spec)
	}

	if groupAlive(pid) {
		if err := terminateGroup(pid); err != nil {
			logger.Warn("failed to send SIGTERM", zap.Error(err))
		}
	}

	grace := time.NewTimer(spec.KillGrace)
	defer grace.Stop()

	select {
	case err := <-done:
		return err
	case <-grace.C:
	}

	if err := killGroup(pid); err != nil {
		logger.Warn("failed to send SIGKILL", zap.Error(err))
	}

	return <-done
}

// removeContainer forces the container down; the client process alone may
// exit without stopping it.
func (r *RealProcessRunner) removeContainer(logger *zap.Logger, spec ProcessSpec) {
	ctx, cancel := context.WithTimeout(context.Background(), spec.KillGrace)
	defer cancel()

	_, stderr, code, err := r.cmdRunner.RunCommand(ctx, removeContainerArgs(spec.Runtime, spec.ContainerName))
	if err != nil || code != 0 {
		logger.Warn("failed to remove container",
			zap.Int("exit_code", code),
			zap.String("stderr", stderr),
			zap.Error(err))
	}
}

// exited reports whether waitErr still describes a completed process: a
// nonzero exit, or output pipes held open past WaitDelay by a descendant.
func exited(cmd *exec.Cmd, waitErr error) bool {
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return true
	}
	return errors.Is(waitErr, exec.ErrWaitDelay) && cmd.ProcessState != nil
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}
