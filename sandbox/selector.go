package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/shlex"
	"go.uber.org/zap"

	"github.com/isdmx/auditbox/config"
)

// Selector resolves an execution Plan per request from configuration and
// a capability probe of the container runtime.
type Selector struct {
	logger    *zap.Logger
	cfg       *config.Config
	cmdRunner CommandRunner
	lookPath  func(file string) (string, error)
	args      []string
}

// SelectorOption defines a functional option for Selector
type SelectorOption func(*Selector)

// WithSelectorCommandRunner sets the CommandRunner used for the runtime probe
func WithSelectorCommandRunner(cmdRunner CommandRunner) SelectorOption {
	return func(s *Selector) {
		s.cmdRunner = cmdRunner
	}
}

// WithLookPath overrides binary resolution
func WithLookPath(lookPath func(file string) (string, error)) SelectorOption {
	return func(s *Selector) {
		s.lookPath = lookPath
	}
}

// NewSelector creates a Selector. analyzer.extra_args is split here, once.
func NewSelector(logger *zap.Logger, cfg *config.Config, opts ...SelectorOption) (*Selector, error) {
	extra, err := shlex.Split(cfg.Analyzer.ExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid analyzer.extra_args: %w", err)
	}

	args := make([]string, 0, len(cfg.Analyzer.Args)+len(extra))
	args = append(args, cfg.Analyzer.Args...)
	args = append(args, extra...)

	s := &Selector{
		logger:    logger,
		cfg:       cfg,
		cmdRunner: &RealCommandRunner{},
		lookPath:  exec.LookPath,
		args:      args,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Select returns the plan for the next request. The container strategy is
// used only when configured and the runtime answers the probe; otherwise the
// plan falls back to a local process when unsandboxed execution is allowed.
func (s *Selector) Select(ctx context.Context) (Plan, error) {
	var fallbackReason string

	if s.cfg.Sandbox.Strategy == config.StrategyContainer {
		reason, err := s.probeRuntime(ctx)
		if err == nil {
			return s.containerPlan(), nil
		}

		s.logger.Warn("container runtime unavailable",
			zap.String("runtime", s.cfg.Sandbox.Runtime),
			zap.String("reason", reason),
			zap.Error(err))

		if !s.cfg.Sandbox.AllowUnsandboxed {
			return Plan{}, fmt.Errorf("%w: %s and unsandboxed execution is disabled", ErrToolNotAvailable, reason)
		}
		fallbackReason = reason
	}

	binary, err := s.lookPath(s.cfg.Analyzer.Binary)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: analyzer %q not found: %w", ErrToolNotAvailable, s.cfg.Analyzer.Binary, err)
	}

	plan := s.localPlan(binary)
	plan.FallbackReason = fallbackReason
	if fallbackReason != "" {
		s.logger.Warn("running analyzer without sandbox", zap.String("fallback_reason", fallbackReason))
	}

	return plan, nil
}

// probeRuntime checks that the runtime binary exists and its daemon answers.
// The returned reason is safe to show callers; err carries the details.
func (s *Selector) probeRuntime(ctx context.Context) (reason string, err error) {
	runtime := s.cfg.Sandbox.Runtime

	runtimePath, err := s.lookPath(runtime)
	if err != nil {
		return fmt.Sprintf("container runtime %s not installed", runtime), err
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout())
	defer cancel()

	_, stderr, exitCode, err := s.cmdRunner.RunCommand(probeCtx, []string{runtimePath, "info"})
	if err != nil {
		return fmt.Sprintf("container runtime %s unreachable", runtime), err
	}
	if exitCode != 0 {
		return fmt.Sprintf("container runtime %s unreachable", runtime),
			fmt.Errorf("%s info exited with code %d: %s", runtime, exitCode, strings.TrimSpace(stderr))
	}

	return "", nil
}

func (s *Selector) containerPlan() Plan {
	return Plan{
		Strategy:       StrategyContainer,
		Runtime:        s.cfg.Sandbox.Runtime,
		Image:          s.cfg.Sandbox.Image,
		Args:           s.args,
		Timeout:        s.cfg.ContainerTimeout(),
		KillGrace:      s.cfg.KillGrace(),
		MaxOutputBytes: s.cfg.MaxOutputBytes(),
		Limits: Limits{
			MemoryMB:    s.cfg.Sandbox.MemoryMB,
			CPUs:        s.cfg.Sandbox.CPUs,
			PidsLimit:   s.cfg.Sandbox.PidsLimit,
			TmpfsSizeMB: s.cfg.Sandbox.TmpfsSizeMB,
		},
		Sandboxed: true,
	}
}

func (s *Selector) localPlan(binary string) Plan {
	return Plan{
		Strategy:       StrategyLocal,
		Binary:         binary,
		Args:           s.args,
		Timeout:        s.cfg.LocalTimeout(),
		KillGrace:      s.cfg.KillGrace(),
		MaxOutputBytes: s.cfg.MaxOutputBytes(),
		Sandboxed:      false,
	}
}
