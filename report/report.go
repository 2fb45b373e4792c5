package report

import "strings"

// Severity is the normalized, lower-case impact of a finding
type Severity string

const (
	SeverityCritical      Severity = "critical"
	SeverityHigh          Severity = "high"
	SeverityMedium        Severity = "medium"
	SeverityLow           Severity = "low"
	SeverityInformational Severity = "informational"
	SeverityUnknown       Severity = "unknown"
)

// ParseSeverity lower-cases s; anything unrecognized is informational.
func ParseSeverity(s string) Severity {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInformational, SeverityUnknown:
		return sev
	default:
		return SeverityInformational
	}
}

// Provenance tells which parsing path produced a finding or report
type Provenance string

const (
	ProvenanceStructured Provenance = "structured"
	ProvenanceHeuristic  Provenance = "heuristic"
	// ProvenanceNone marks results that were never parsed, such as timeouts.
	ProvenanceNone Provenance = "none"
)

// Location is one source element a finding points at
type Location struct {
	File  string `json:"file" yaml:"file"`
	Lines []int  `json:"lines" yaml:"lines"`
	Type  string `json:"type" yaml:"type"`
	Name  string `json:"name" yaml:"name"`
}

// Finding is one normalized issue reported by the analyzer
type Finding struct {
	ID          string     `json:"id" yaml:"id"`
	Title       string     `json:"title" yaml:"title"`
	Severity    Severity   `json:"severity" yaml:"severity"`
	Confidence  string     `json:"confidence" yaml:"confidence"`
	Description string     `json:"description" yaml:"description"`
	Locations   []Location `json:"locations" yaml:"locations"`
	Provenance  Provenance `json:"provenance" yaml:"provenance"`
}

// Summary is derived from the finding list; Error notes a degraded run.
type Summary struct {
	Total      int            `json:"total" yaml:"total"`
	BySeverity map[string]int `json:"by_severity" yaml:"by_severity"`
	Error      string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// Execution describes how the analyzer was run
type Execution struct {
	Strategy        string     `json:"strategy" yaml:"strategy"`
	Sandboxed       bool       `json:"sandboxed" yaml:"sandboxed"`
	Provenance      Provenance `json:"provenance" yaml:"provenance"`
	TimedOut        bool       `json:"timed_out" yaml:"timed_out"`
	ExitCode        int        `json:"exit_code" yaml:"exit_code"`
	DurationMS      int64      `json:"duration_ms" yaml:"duration_ms"`
	FallbackReason  string     `json:"fallback_reason,omitempty" yaml:"fallback_reason,omitempty"`
	OutputTruncated bool       `json:"output_truncated" yaml:"output_truncated"`
}

// Report is the unit returned to callers
type Report struct {
	Success         bool       `json:"success" yaml:"success"`
	FilesAnalyzed   []string   `json:"files_analyzed" yaml:"files_analyzed"`
	Vulnerabilities []Finding  `json:"vulnerabilities" yaml:"vulnerabilities"`
	Summary         Summary    `json:"summary" yaml:"summary"`
	RawOutput       string     `json:"raw_output" yaml:"raw_output"`
	Error           string     `json:"error,omitempty" yaml:"error,omitempty"`
	Execution       *Execution `json:"execution,omitempty" yaml:"execution,omitempty"`
}

// NewSummary tallies findings by severity. The four base severities are always present.
func NewSummary(findings []Finding) Summary {
	bySeverity := map[string]int{
		string(SeverityHigh):          0,
		string(SeverityMedium):        0,
		string(SeverityLow):           0,
		string(SeverityInformational): 0,
	}
	for _, f := range findings {
		bySeverity[string(f.Severity)]++
	}
	return Summary{Total: len(findings), BySeverity: bySeverity}
}

// Failed builds the report for a request rejected before execution
func Failed(message string) Report {
	return Report{
		Success:         false,
		FilesAnalyzed:   []string{},
		Vulnerabilities: []Finding{},
		Summary:         NewSummary(nil),
		Error:           message,
	}
}
