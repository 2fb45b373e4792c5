package sandbox

import (
	"go.uber.org/zap"

	"github.com/isdmx/auditbox/config"
)

// NewRunner creates the process runner used in production: a real runner
// behind an admission gate of sandbox.max_concurrent slots.
func NewRunner(logger *zap.Logger, cfg *config.Config) ProcessRunner {
	return NewGatedRunner(logger, NewProcessRunner(logger), cfg.Sandbox.MaxConcurrent)
}
