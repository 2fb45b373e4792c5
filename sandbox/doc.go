// Package sandbox resolves how the analyzer runs and then runs it.
//
// A Selector turns configuration plus a probe of the container runtime into a
// Plan: either a locked-down container (no network, capped memory, CPU and
// pids, read-only source mount, size-capped tmpfs) or a direct host process,
// which is reported as unsandboxed. A ProcessRunner launches the Plan's
// command with bounded output capture and a wall-clock timeout. On expiry or
// cancellation the process group receives SIGTERM, then SIGKILL after a grace
// period, and containers are force-removed. GatedRunner caps the number of
// concurrent launches.
//
// Usage:
//
//	selector, err := sandbox.NewSelector(logger, cfg)
//	plan, err := selector.Select(ctx)
//	result, err := sandbox.NewRunner(logger, cfg).Run(ctx, plan.Command(ws))
package sandbox
