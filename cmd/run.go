package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/paulschiretz/pgl-snap/pkg/buildinfo"
	"github.com/paulschiretz/pgl-snap/pkg/command"
	"github.com/paulschiretz/pgl-snap/pkg/config"
	"github.com/paulschiretz/pgl-snap/pkg/engine"
	"github.com/paulschiretz/pgl-snap/pkg/flagparse"
	"github.com/paulschiretz/pgl-snap/pkg/hook"
	"github.com/paulschiretz/pgl-snap/pkg/planner"
	"github.com/paulschiretz/pgl-snap/pkg/plog"
	"github.com/paulschiretz/pgl-snap/pkg/report"
)

// configPath returns the -config flag or the default location.
func configPath(flagMap map[string]any) string {
	if p, ok := flagMap["config"].(string); ok && p != "" {
		return p
	}
	return config.DefaultConfigPath
}

// loadRunConfig loads the configuration, overlays the flags and validates
// the result.
func loadRunConfig(cmd flagparse.Command, flagMap map[string]any) (config.Config, error) {
	loadedConfig, err := config.Load(configPath(flagMap))
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Merge the flag values over the loaded config to get the final run config.
	runConfig := config.MergeConfigWithFlags(cmd, loadedConfig, flagMap)

	// Set the global log level based on the final configuration.
	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(); err != nil {
		return config.Config{}, err
	}
	return runConfig, nil
}

// execute runs op for every selected task and writes the run report if one
// was requested. The returned error joins the errors of all failed tasks.
func execute(ctx context.Context, cmd flagparse.Command, op engine.Op, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(cmd, flagMap)
	if err != nil {
		return err
	}

	// Log the Summary
	runConfig.LogSummary()

	// Get the Plan
	plans, err := planner.GenerateTaskPlans(runConfig, planner.NewRegistry(runConfig))
	if err != nil {
		return err
	}

	runner := engine.NewRunner(
		runConfig.LockDir,
		runConfig.Engine.Workers,
		hook.NewHookExecutor(command.NewRunner(nil)),
	)

	// Execute the plan
	startTime := time.Now()
	results, runErr := runner.Execute(ctx, plans, op, engine.Options{
		DryRun:  runConfig.Runtime.DryRun,
		Metrics: runConfig.Engine.Metrics,
	})
	duration := time.Since(startTime).Round(time.Millisecond)

	if runConfig.Runtime.ReportPath != "" {
		doc := &report.Document{
			Tool:      buildinfo.Name,
			Version:   buildinfo.Version,
			Command:   cmd.String(),
			Generated: time.Now().UTC(),
			DryRun:    runConfig.Runtime.DryRun,
		}
		for _, res := range results {
			doc.Tasks = append(doc.Tasks, *res.Report)
		}
		if err := report.Write(runConfig.Runtime.ReportPath, doc); err != nil {
			plog.Error("Failed to write report", "path", runConfig.Runtime.ReportPath, "error", err)
			if runErr == nil {
				runErr = err
			}
		} else {
			plog.Info("Report written", "path", runConfig.Runtime.ReportPath)
		}
	}

	var ok, failed, skipped int
	for _, res := range results {
		switch res.Status {
		case report.StatusOK:
			ok++
		case report.StatusFailed:
			failed++
		case report.StatusSkipped:
			skipped++
		}
	}
	plog.Info(buildinfo.Name+" "+cmd.String()+" finished.",
		"ok", ok,
		"failed", failed,
		"skipped", skipped,
		"duration", duration,
	)
	return runErr
}
