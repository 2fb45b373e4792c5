package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/isdmx/auditbox/config"
	"github.com/isdmx/auditbox/engine"
	"github.com/isdmx/auditbox/logger"
	"github.com/isdmx/auditbox/report"
	"github.com/isdmx/auditbox/sandbox"
	"github.com/isdmx/auditbox/workspace"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("analyze", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.StringP("config", "c", os.Getenv(config.EnvConfigPath), "path to the configuration file")
	output := flags.StringP("output", "o", "json", "report format: json or yaml")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "usage: analyze [--config FILE] [--output json|yaml] PATH")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return 2
	}
	if *output != "json" && *output != "yaml" {
		fmt.Fprintf(stderr, "invalid --output %q, must be 'json' or 'yaml'\n", *output)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	log, err := logger.NewFromConfig(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	selector, err := sandbox.NewSelector(log, cfg)
	if err != nil {
		log.Error("failed to create strategy selector", zap.Error(err))
		return 1
	}
	eng := engine.New(log, cfg, selector, sandbox.NewRunner(log, cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := analyzePath(ctx, eng, cfg, flags.Arg(0))
	if err != nil && !isEngineError(err) {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if err := render(stdout, *output, rep); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if !rep.Success {
		return 1
	}
	return 0
}

// analyzePath treats files with a source extension as a single contract and
// anything else as an archive
func analyzePath(ctx context.Context, analyzer engine.Analyzer, cfg *config.Config, path string) (report.Report, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is the operator's own argument
	if err != nil {
		return report.Report{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	name := filepath.Base(path)
	if workspace.HasSourceExtension(name, cfg.Analyzer.SourceExtensions) {
		return analyzer.AnalyzeSource(ctx, name, string(data))
	}
	return analyzer.AnalyzeArchive(ctx, data)
}

func isEngineError(err error) bool {
	var ee *engine.Error
	return errors.As(err, &ee)
}

func render(w io.Writer, format string, rep report.Report) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return enc.Close()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}
