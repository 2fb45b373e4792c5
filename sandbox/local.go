package sandbox

import (
	"os"
	"strings"
)

// localArgs runs the analyzer directly on the host. There is no OS-level
// isolation here; plans using it are reported as unsandboxed.
func (p Plan) localArgs(sourceDir string) []string {
	args := make([]string, 0, len(p.Args)+2)
	args = append(args, p.Binary, sourceDir)
	return append(args, p.Args...)
}

// localEnv inherits the host environment with temp files redirected into the workspace
func localEnv(scratchDir string) []string {
	env := make([]string, 0, len(os.Environ())+1)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "TMPDIR=") {
			continue
		}
		env = append(env, kv)
	}
	return append(env, "TMPDIR="+scratchDir)
}
