package sandbox

import (
	"fmt"
	"strconv"
)

// ContainerSourceDir is where the staged sources are mounted inside the container
const ContainerSourceDir = "/workspace"

// containerWorkDir is the writable tmpfs the analyzer runs from
const containerWorkDir = "/tmp"

const containerNamePrefix = "auditbox-"

func containerName(workspaceID string) string {
	return containerNamePrefix + workspaceID
}

// containerArgs builds the runtime invocation. The image entrypoint is the
// analyzer, so only its arguments follow the image name.
func (p Plan) containerArgs(sourceDir, name string) []string {
	args := []string{
		p.Runtime, "run",
		"--rm",
		"--name", name,
		"--network", "none",
		"--memory", fmt.Sprintf("%dm", p.Limits.MemoryMB),
		"--memory-swap", fmt.Sprintf("%dm", p.Limits.MemoryMB),
		"--cpus", strconv.FormatFloat(p.Limits.CPUs, 'f', -1, 64),
		"--pids-limit", strconv.Itoa(p.Limits.PidsLimit),
		"--read-only",
		"--tmpfs", fmt.Sprintf("%s:rw,size=%dm", containerWorkDir, p.Limits.TmpfsSizeMB),
		"--security-opt", "no-new-privileges:true",
		"--cap-drop", "ALL",
		"-v", fmt.Sprintf("%s:%s:ro", sourceDir, ContainerSourceDir),
		"--workdir", containerWorkDir,
		p.Image,
		ContainerSourceDir,
	}

	return append(args, p.Args...)
}

// removeContainerArgs force-removes a container that outlived its timeout
func removeContainerArgs(runtime, name string) []string {
	return []string{runtime, "rm", "-f", name}
}
