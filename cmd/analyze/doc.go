// Package main is a one-shot command line front end for the analysis engine.
//
// It analyzes a local contract file or archive with the same configuration
// as the server and prints the report as JSON or YAML. The exit status is 1
// whenever the report is not successful.
//
// Usage:
//
//	analyze [--config FILE] [--output json|yaml] PATH
package main
