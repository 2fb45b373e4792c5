package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/auditbox/config"
	"github.com/isdmx/auditbox/logger"
	"github.com/isdmx/auditbox/report"
	"github.com/isdmx/auditbox/sandbox"
	"github.com/isdmx/auditbox/workspace"
)

// Stage names used in errors and logs
const (
	StageValidate  = "validate"
	StageWorkspace = "workspace"
	StageStage     = "stage"
	StageSelect    = "select"
	StageRun       = "run"
)

// Planner resolves the execution plan for one request
type Planner interface {
	Select(ctx context.Context) (sandbox.Plan, error)
}

// Analyzer is the request-level API consumed by the transports
type Analyzer interface {
	AnalyzeSource(ctx context.Context, fileName, source string) (report.Report, error)
	AnalyzeArchive(ctx context.Context, data []byte) (report.Report, error)
}

// Request is a single source file or an archive. Archive wins when non-nil.
type Request struct {
	FileName string
	Source   string
	Archive  []byte
}

// Engine runs one analysis per call. It keeps no per-request state;
// concurrent calls share only the runner's admission gate.
type Engine struct {
	logger     *zap.Logger
	workspaces *workspace.Manager
	stager     *workspace.Stager
	planner    Planner
	runner     sandbox.ProcessRunner
	normalizer *report.Normalizer
}

var _ Analyzer = (*Engine)(nil)

// Option defines a functional option for Engine
type Option func(*Engine)

// WithWorkspaceManager sets the workspace Manager
func WithWorkspaceManager(m *workspace.Manager) Option {
	return func(e *Engine) {
		e.workspaces = m
	}
}

// WithStager sets the archive Stager
func WithStager(s *workspace.Stager) Option {
	return func(e *Engine) {
		e.stager = s
	}
}

// WithNormalizer sets the output Normalizer
func WithNormalizer(n *report.Normalizer) Option {
	return func(e *Engine) {
		e.normalizer = n
	}
}

// New creates an Engine
func New(log *zap.Logger, cfg *config.Config, planner Planner, runner sandbox.ProcessRunner, opts ...Option) *Engine {
	e := &Engine{
		logger:     log,
		workspaces: workspace.NewManager(log, cfg),
		stager:     workspace.NewStager(log, cfg),
		planner:    planner,
		runner:     runner,
		normalizer: report.NewNormalizer(log),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// AnalyzeSource analyzes a single source file
func (e *Engine) AnalyzeSource(ctx context.Context, fileName, source string) (report.Report, error) {
	return e.Analyze(ctx, Request{FileName: fileName, Source: source})
}

// AnalyzeArchive analyzes every source file in an archive
func (e *Engine) AnalyzeArchive(ctx context.Context, data []byte) (report.Report, error) {
	if data == nil {
		data = []byte{}
	}
	return e.Analyze(ctx, Request{Archive: data})
}

// Analyze stages the request into a fresh workspace, runs the analyzer and
// returns the report. Request-level failures return a failed report together
// with an *Error; the workspace is removed on every path.
func (e *Engine) Analyze(ctx context.Context, req Request) (report.Report, error) {
	requestID := RequestIDFromContext(ctx)
	log := logger.ForRequest(e.logger, requestID)
	start := time.Now()

	rep, err := e.analyze(ctx, log, req)
	if err != nil {
		log.Warn("analysis rejected",
			zap.Stringer("kind", KindOf(err)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return report.Failed(PublicMessage(err)), err
	}

	log.Info("analysis completed",
		zap.String("strategy", rep.Execution.Strategy),
		zap.Bool("sandboxed", rep.Execution.Sandboxed),
		zap.String("provenance", string(rep.Execution.Provenance)),
		zap.Bool("timed_out", rep.Execution.TimedOut),
		zap.Int("files", len(rep.FilesAnalyzed)),
		zap.Int("findings", rep.Summary.Total),
		zap.Duration("elapsed", time.Since(start)))

	return rep, nil
}

func (e *Engine) analyze(ctx context.Context, log *zap.Logger, req Request) (report.Report, error) {
	// Reject bad input before anything touches the filesystem.
	if err := e.validate(req); err != nil {
		return report.Report{}, newError(KindInput, StageValidate, err)
	}

	ws, err := e.workspaces.Acquire()
	if err != nil {
		return report.Report{}, newError(KindWorkspace, StageWorkspace, err)
	}
	defer e.workspaces.Release(ws)

	log = log.With(zap.String("workspace_id", ws.ID))

	files, err := e.stage(ws, req)
	if err != nil {
		if errors.Is(err, workspace.ErrWorkspace) {
			return report.Report{}, newError(KindWorkspace, StageStage, err)
		}
		return report.Report{}, newError(KindInput, StageStage, err)
	}

	plan, err := e.planner.Select(ctx)
	if err != nil {
		if errors.Is(err, sandbox.ErrToolNotAvailable) {
			return report.Report{}, newError(KindToolUnavailable, StageSelect, err)
		}
		return report.Report{}, newError(KindExecution, StageSelect, err)
	}

	log.Debug("execution plan resolved",
		zap.String("strategy", string(plan.Strategy)),
		zap.Bool("sandboxed", plan.Sandboxed),
		zap.String("fallback_reason", plan.FallbackReason),
		zap.Duration("timeout", plan.Timeout))

	raw, err := e.run(ctx, plan, ws)
	if err != nil {
		if errors.Is(err, sandbox.ErrToolNotAvailable) {
			return report.Report{}, newError(KindToolUnavailable, StageRun, err)
		}
		return report.Report{}, newError(KindExecution, StageRun, err)
	}

	normalized := e.normalizer.Normalize(raw, plan.Layout(ws))
	return report.Assemble(files, plan, raw, normalized), nil
}

func (e *Engine) validate(req Request) error {
	if req.Archive != nil {
		_, err := workspace.DetectFormat(req.Archive)
		return err
	}
	_, err := e.stager.ValidateFileName(req.FileName)
	return err
}

func (e *Engine) stage(ws *workspace.Workspace, req Request) ([]string, error) {
	if req.Archive != nil {
		return e.stager.StageArchive(ws, req.Archive)
	}
	return e.stager.StageSource(ws, req.FileName, req.Source)
}

// run shields the caller from a panicking runner; the workspace release
// deferred in analyze still runs.
func (e *Engine) run(ctx context.Context, plan sandbox.Plan, ws *workspace.Workspace) (raw sandbox.RawResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analyzer runner panicked: %v", r)
		}
	}()

	return e.runner.Run(ctx, plan.Command(ws))
}

type requestIDKey struct{}

// WithRequestID attaches a request id for log correlation
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the attached request id, or a fresh one
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
