// Package report defines the analysis report schema and the two steps that
// produce it from raw analyzer output: normalization and assembly.
//
// The Normalizer prefers the analyzer's JSON report (one finding per
// detector) and falls back to a line heuristic over free text. Every finding
// carries its provenance so callers can tell the two apart.
package report
