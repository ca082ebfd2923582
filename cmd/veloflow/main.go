// veloflow runs a workflow definition from a JSON file.
// Run: go run ./cmd/veloflow -file workflow.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/veloflow/veloflow/internal/engine"
	"github.com/veloflow/veloflow/internal/logging"
	"github.com/veloflow/veloflow/internal/validation"
	"github.com/veloflow/veloflow/pkg/schema"
)

func main() {
	var (
		file    = flag.String("file", "", "path to the workflow definition (JSON)")
		globals = flag.String("globals", "", "initial global variables as a JSON object")
		verbose = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: veloflow -file workflow.json [-globals '{...}'] [-v]")
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(logging.NewCorrelationHandler(handler))
	slog.SetDefault(logger)

	if err := run(*file, *globals, logger); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(file, globalsJSON string, logger *slog.Logger) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read workflow file: %w", err)
	}

	validator, err := validation.NewValidator()
	if err != nil {
		return fmt.Errorf("build validator: %w", err)
	}
	spec, err := validator.ParseWorkflow(raw)
	if err != nil {
		return err
	}

	var globals map[string]any
	if globalsJSON != "" {
		if err := json.Unmarshal([]byte(globalsJSON), &globals); err != nil {
			return fmt.Errorf("parse globals: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := engine.NewWorkflowRunner(nil, logger)
	report := runner.Run(ctx, spec, globals)

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	fmt.Println(string(out))

	if report.Status != schema.RunStatusSuccess {
		return fmt.Errorf("workflow %s finished with status %s", spec.Name, report.Status)
	}
	return nil
}
