// Command pipeline runs the inventory analytics chain from the shell:
// stage an inventory CSV, execute the steps, and print what each one
// produced. The web dashboard reads the same files afterwards.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"invsight/internal/config"
	"invsight/internal/infrastructure"
	"invsight/internal/inventory"
	"invsight/internal/pipeline"
)

func main() {
	input := flag.String("input", "", "inventory file (CSV or XLSX) to stage before running (optional if already uploaded)")
	step := flag.String("step", "", "run a single step instead of the full chain")
	flag.Parse()

	if err := run(*input, *step); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(input, step string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer infrastructure.CloseLogFile()

	paths, err := config.NewPaths(cfg.Paths)
	if err != nil {
		return err
	}
	if err := paths.EnsureDirectories(); err != nil {
		return err
	}

	if input != "" {
		if err := stageInput(input, paths.RawUploadCSV); err != nil {
			return err
		}
		fmt.Printf("staged %s -> %s\n", input, paths.RawUploadCSV)
	}

	pipelineCfg := pipeline.NewConfig()
	if cfg.Pipeline.StageTimeout > 0 {
		pipelineCfg.DefaultStepTimeout = cfg.Pipeline.StageTimeout
	}

	manager := pipeline.NewManager(nil, pipeline.NewRegistry(), pipelineCfg, nil, logger)
	defer manager.Broadcaster().Stop()
	if err := pipeline.RegisterDefaultSteps(manager, paths, cfg.Pipeline.ForecastHorizon, logger); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Server.RunTimeout)
	defer cancel()

	resp, runErr := manager.Execute(ctx, pipeline.RunRequest{Step: step})

	order, err := manager.Registry().DependencyOrder()
	if err != nil {
		return err
	}
	for _, s := range order {
		state, ok := resp.Steps[s.ID()]
		if !ok {
			continue
		}
		fmt.Printf("%-28s %-10s %s\n", s.Name(), state.Status, state.Message)
	}

	if runErr != nil {
		return runErr
	}

	fmt.Printf("\nrun %s %s in %s\n", resp.ID, resp.Status, resp.Duration.Round(time.Millisecond))
	fmt.Printf("outputs:\n  %s\n  %s\n  %s\n  %s\n",
		paths.ProcessedCSV, paths.RiskScoresCSV, paths.RecommendationsCSV, paths.ForecastCSV)
	return nil
}

// stageInput stages a local inventory file at the fixed raw upload
// path, converting XLSX workbooks to CSV on the way
func stageInput(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	if inventory.IsXLSX(src) {
		table, err := inventory.TableFromXLSX(in)
		if err != nil {
			return fmt.Errorf("failed to convert %s: %w", src, err)
		}
		return table.Write(dst)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create raw directory: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy input: %w", err)
	}
	return out.Sync()
}
