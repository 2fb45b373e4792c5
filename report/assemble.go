package report

import "github.com/isdmx/auditbox/sandbox"

// Assemble combines the staged file inventory, the plan that ran and the
// normalized output into the final report. Any run that reached the analyzer
// is a success, including timeouts, which carry a note in the summary.
func Assemble(files []string, plan sandbox.Plan, raw sandbox.RawResult, n Normalized) Report {
	inventory := make([]string, len(files))
	copy(inventory, files)

	findings := n.Findings
	if findings == nil {
		findings = []Finding{}
	}

	return Report{
		Success:         true,
		FilesAnalyzed:   inventory,
		Vulnerabilities: findings,
		Summary:         n.Summary,
		RawOutput:       n.RawOutput,
		Execution: &Execution{
			Strategy:        string(plan.Strategy),
			Sandboxed:       plan.Sandboxed,
			Provenance:      n.Provenance,
			TimedOut:        raw.TimedOut,
			ExitCode:        raw.ExitCode,
			DurationMS:      raw.Duration.Milliseconds(),
			FallbackReason:  plan.FallbackReason,
			OutputTruncated: raw.Truncated,
		},
	}
}
