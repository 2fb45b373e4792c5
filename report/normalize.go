package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/isdmx/auditbox/sandbox"
)

// TimeoutNote is the summary error of a run that hit its timeout
const TimeoutNote = "timed out"

const maxHeuristicTitle = 100

// heuristicKeywords are checked in priority order
var heuristicKeywords = []Severity{SeverityHigh, SeverityMedium, SeverityLow, SeverityInformational}

// Normalized is the analyzer output mapped onto the report schema
type Normalized struct {
	Findings   []Finding
	Summary    Summary
	RawOutput  string
	Provenance Provenance
}

// analyzerOutput is the subset of the analyzer's JSON report we read
type analyzerOutput struct {
	Success *bool   `json:"success"`
	Error   *string `json:"error"`
	Results struct {
		Detectors []detector `json:"detectors"`
	} `json:"results"`
}

type detector struct {
	Check       string    `json:"check"`
	Impact      string    `json:"impact"`
	Confidence  string    `json:"confidence"`
	Description string    `json:"description"`
	Elements    []element `json:"elements"`
}

type element struct {
	Type          string         `json:"type"`
	Name          string         `json:"name"`
	SourceMapping *sourceMapping `json:"source_mapping"`
}

type sourceMapping struct {
	FilenameRelative string `json:"filename_relative"`
	FilenameAbsolute string `json:"filename_absolute"`
	Lines            []int  `json:"lines"`
}

// Normalizer turns raw analyzer output into findings. It holds no
// per-request state and is safe for concurrent use.
type Normalizer struct {
	logger *zap.Logger
}

// NewNormalizer creates a Normalizer
func NewNormalizer(logger *zap.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize maps a raw result through the structured path when stdout is the
// analyzer's JSON report and through the line heuristic otherwise. Timed-out
// results skip both. Location files are rewritten relative to the source
// root of layout, the form files_analyzed uses.
func (n *Normalizer) Normalize(raw sandbox.RawResult, layout sandbox.Layout) Normalized {
	if raw.TimedOut {
		summary := NewSummary(nil)
		summary.Error = TimeoutNote
		return Normalized{
			Findings:   []Finding{},
			Summary:    summary,
			RawOutput:  fmt.Sprintf("analysis timed out after %s", raw.Duration.Round(time.Second)),
			Provenance: ProvenanceNone,
		}
	}

	if len(bytes.TrimSpace(raw.Stdout)) > 0 {
		normalized, err := n.structured(raw.Stdout, layout)
		if err == nil {
			return normalized
		}
		n.logger.Debug("analyzer output is not structured, using line heuristic", zap.Error(err))
	}

	text := raw.Stdout
	if len(text) == 0 {
		text = raw.Stderr
	}
	if len(bytes.TrimSpace(text)) == 0 {
		return Normalized{
			Findings:   []Finding{},
			Summary:    NewSummary(nil),
			RawOutput:  string(text),
			Provenance: ProvenanceNone,
		}
	}

	return heuristic(string(text))
}

func (n *Normalizer) structured(stdout []byte, layout sandbox.Layout) (Normalized, error) {
	var out analyzerOutput
	if err := json.Unmarshal(stdout, &out); err != nil {
		return Normalized{}, err
	}

	findings := make([]Finding, 0, len(out.Results.Detectors))
	for _, d := range out.Results.Detectors {
		findings = append(findings, detectorFinding(d, layout))
	}

	summary := NewSummary(findings)
	if out.Success != nil && !*out.Success {
		summary.Error = "analyzer reported failure"
		if out.Error != nil && *out.Error != "" {
			summary.Error = *out.Error
		}
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, bytes.TrimSpace(stdout), "", "  "); err != nil {
		return Normalized{}, err
	}

	return Normalized{
		Findings:   findings,
		Summary:    summary,
		RawOutput:  indented.String(),
		Provenance: ProvenanceStructured,
	}, nil
}

func detectorFinding(d detector, layout sandbox.Layout) Finding {
	f := Finding{
		ID:          valueOr(d.Check, "unknown"),
		Title:       valueOr(d.Check, "Unknown Issue"),
		Severity:    ParseSeverity(valueOr(d.Impact, string(SeverityInformational))),
		Confidence:  valueOr(d.Confidence, "unknown"),
		Description: d.Description,
		Locations:   []Location{},
		Provenance:  ProvenanceStructured,
	}

	for _, e := range d.Elements {
		if e.SourceMapping == nil {
			continue
		}
		lines := e.SourceMapping.Lines
		if lines == nil {
			lines = []int{}
		}
		f.Locations = append(f.Locations, Location{
			File:  sourcePath(layout, e.SourceMapping),
			Lines: lines,
			Type:  e.Type,
			Name:  e.Name,
		})
	}

	return f
}

// sourcePath resolves a source mapping against the source root. Files the
// analyzer reports outside the root keep their relative name.
func sourcePath(layout sandbox.Layout, m *sourceMapping) string {
	if rel, ok := underRoot(layout.SourceRoot, m.FilenameAbsolute); ok {
		return rel
	}
	if m.FilenameRelative != "" && layout.WorkDir != "" && !path.IsAbs(filepath.ToSlash(m.FilenameRelative)) {
		joined := path.Join(filepath.ToSlash(layout.WorkDir), filepath.ToSlash(m.FilenameRelative))
		if rel, ok := underRoot(layout.SourceRoot, joined); ok {
			return rel
		}
	}
	if rel, ok := underRoot(layout.SourceRoot, m.FilenameRelative); ok {
		return rel
	}
	return m.FilenameRelative
}

func underRoot(root, file string) (string, bool) {
	if root == "" || file == "" {
		return "", false
	}
	p := path.Clean(filepath.ToSlash(file))
	return strings.CutPrefix(p, path.Clean(filepath.ToSlash(root))+"/")
}

// heuristic makes one finding per non-empty line that mentions a severity keyword
func heuristic(text string) Normalized {
	findings := []Finding{}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		severity, ok := keywordSeverity(line)
		if !ok {
			continue
		}

		findings = append(findings, Finding{
			ID:          fmt.Sprintf("raw_%d", len(findings)),
			Title:       truncate(line, maxHeuristicTitle),
			Severity:    severity,
			Confidence:  "unknown",
			Description: line,
			Locations:   []Location{},
			Provenance:  ProvenanceHeuristic,
		})
	}

	return Normalized{
		Findings:   findings,
		Summary:    NewSummary(findings),
		RawOutput:  text,
		Provenance: ProvenanceHeuristic,
	}
}

func keywordSeverity(line string) (Severity, bool) {
	lower := strings.ToLower(line)
	for _, sev := range heuristicKeywords {
		if strings.Contains(lower, string(sev)) {
			return sev, true
		}
	}
	return "", false
}

// truncate cuts s to at most n runes
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
