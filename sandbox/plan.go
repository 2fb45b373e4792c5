package sandbox

import (
	"time"

	"github.com/isdmx/auditbox/workspace"
)

// Limits are the resource ceilings applied by the container strategy
type Limits struct {
	MemoryMB    int
	CPUs        float64
	PidsLimit   int
	TmpfsSizeMB int
}

// Plan is the resolved execution strategy for one request
type Plan struct {
	Strategy Strategy
	Runtime  string
	Image    string
	Binary   string
	Args     []string

	Timeout        time.Duration
	KillGrace      time.Duration
	MaxOutputBytes int
	Limits         Limits

	// Sandboxed is false whenever the analyzer runs directly on the host.
	Sandboxed      bool
	FallbackReason string
}

// Command renders the plan into a launchable process for ws
func (p Plan) Command(ws *workspace.Workspace) ProcessSpec {
	spec := ProcessSpec{
		Timeout:        p.Timeout,
		KillGrace:      p.KillGrace,
		MaxOutputBytes: p.MaxOutputBytes,
	}

	switch p.Strategy {
	case StrategyContainer:
		name := containerName(ws.ID)
		spec.Args = p.containerArgs(ws.SourceDir, name)
		spec.Runtime = p.Runtime
		spec.ContainerName = name
		spec.Dir = ws.ScratchDir
	default:
		spec.Args = p.localArgs(ws.SourceDir)
		spec.Dir = ws.ScratchDir
		spec.Env = localEnv(ws.ScratchDir)
	}

	return spec
}

// Layout is where the analyzer sees its working directory and the staged
// sources. Paths in its output are relative to WorkDir or absolute.
type Layout struct {
	WorkDir    string
	SourceRoot string
}

// Layout returns the analyzer's view of ws under this plan
func (p Plan) Layout(ws *workspace.Workspace) Layout {
	if p.Strategy == StrategyContainer {
		return Layout{WorkDir: containerWorkDir, SourceRoot: ContainerSourceDir}
	}
	return Layout{WorkDir: ws.ScratchDir, SourceRoot: ws.SourceDir}
}
