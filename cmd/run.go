package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/halfcourt/refguard/internal/etl"
	"github.com/halfcourt/refguard/internal/formatter"
	"github.com/halfcourt/refguard/internal/repositories"
	"github.com/halfcourt/refguard/internal/shared"
	"github.com/urfave/cli/v3"
)

// Run executes the full pipeline: constraints, snapshot, load, restore, repair, validate.
func (r *Runner) Run(ctx context.Context, cmd *cli.Command) error {
	return r.runPipeline(ctx, cmd, false)
}

// DryRun executes the pipeline in reporting mode; live tables are never written.
func (r *Runner) DryRun(ctx context.Context, cmd *cli.Command) error {
	return r.runPipeline(ctx, cmd, true)
}

func (r *Runner) runPipeline(ctx context.Context, cmd *cli.Command, dryRun bool) error {
	config := r.loadConfig(cmd)

	db, closeDB, err := r.openDatabase(config)
	if err != nil {
		return cli.Exit(fmt.Sprintf("refguard: %v", err), 2)
	}
	defer closeDB()

	pipeline, err := etl.NewPipeline(db, config, r.logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("refguard: %v", err), 2)
	}

	progress := make(chan etl.ProgressUpdate, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range progress {
			r.logger.Info(u.Message, "phase", u.Phase, "step", u.Step, "total", u.Total)
		}
	}()

	result, runErr := pipeline.Run(ctx, dryRun, progress)
	close(progress)
	<-done

	if cmd.Bool("json") {
		if err := r.writeJSON(result, true); err != nil {
			return cli.Exit(fmt.Sprintf("refguard: %v", err), 2)
		}
	} else {
		r.writeRunSummary(result)
	}

	if runErr != nil && !errors.Is(runErr, shared.ErrCriticalHealth) {
		return cli.Exit(fmt.Sprintf("run failed: %v", runErr), 2)
	}
	return exitForStatus(result.ExitCode())
}

// writeRunSummary prints the human-readable outcome of a run.
func (r *Runner) writeRunSummary(result *etl.Result) {
	r.writePlain("Run %s finished: %s\n", result.RunID, result.Status)

	if result.Load != nil {
		totals := result.Load.Totals()
		r.writePlain("Load: %d preserved, %d created, %d removed, %d failed\n",
			totals.Preserved, totals.Created, totals.Removed, totals.Failed)
	}
	if result.Restore != nil {
		totals := result.Restore.Totals()
		r.writePlain("Restore: %d restored, %d unchanged, %d ambiguous, %d unresolved\n",
			totals.Restored, totals.Unchanged, totals.Ambiguous, totals.Unresolved)
	}
	if result.Repair != nil {
		totals := result.Repair.Totals()
		r.writePlain("Repair: %d repaired, %d quarantined, %d deleted\n",
			totals.Repaired, totals.Nulled, totals.Deleted)
	}
	if result.Health != nil {
		if data, err := formatter.ReportToText(result.Health); err == nil {
			r.writePlain("\n%s", data)
		}
	}
	if result.BackupsKept {
		r.writePlain("Backups retained for recovery.\n")
	}
}

// HealthCheck scores the protected tables without running the pipeline.
func (r *Runner) HealthCheck(ctx context.Context, cmd *cli.Command) error {
	config := r.loadConfig(cmd)

	db, closeDB, err := r.openDatabase(config)
	if err != nil {
		return cli.Exit(fmt.Sprintf("refguard: %v", err), 2)
	}
	defer closeDB()

	pipeline, err := etl.NewPipeline(db, config, r.logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("refguard: %v", err), 2)
	}

	report, err := pipeline.HealthCheck()
	if err != nil {
		return cli.Exit(fmt.Sprintf("health check failed: %v", err), 2)
	}

	format := cmd.String("format")
	if path := cmd.String("output"); path != "" {
		if err := formatter.WriteReport(report, format, path); err != nil {
			return cli.Exit(fmt.Sprintf("refguard: %v", err), 2)
		}
		r.writePlain("Report written to %s\n", path)
	} else {
		data, err := formatter.Render(report, format)
		if err != nil {
			return cli.Exit(fmt.Sprintf("refguard: %v", err), 2)
		}
		r.writePlain("%s", data)
	}

	return exitForStatus(report.Status.ExitCode())
}

// EmergencyRepair fixes live orphans and re-scores, without reloading reference data.
func (r *Runner) EmergencyRepair(ctx context.Context, cmd *cli.Command) error {
	config := r.loadConfig(cmd)

	db, closeDB, err := r.openDatabase(config)
	if err != nil {
		return cli.Exit(fmt.Sprintf("refguard: %v", err), 2)
	}
	defer closeDB()

	pipeline, err := etl.NewPipeline(db, config, r.logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("refguard: %v", err), 2)
	}

	result, runErr := pipeline.EmergencyRepair(ctx, cmd.Bool("dry-run"), nil)

	if cmd.Bool("json") {
		if err := r.writeJSON(result, true); err != nil {
			return cli.Exit(fmt.Sprintf("refguard: %v", err), 2)
		}
	} else {
		r.writeRunSummary(result)
	}

	if runErr != nil && !errors.Is(runErr, shared.ErrCriticalHealth) {
		return cli.Exit(fmt.Sprintf("repair failed: %v", runErr), 2)
	}
	return exitForStatus(result.ExitCode())
}

// Runs lists recorded run history.
func (r *Runner) Runs(ctx context.Context, cmd *cli.Command) error {
	config := r.loadConfig(cmd)

	db, closeDB, err := r.openDatabase(config)
	if err != nil {
		return cli.Exit(fmt.Sprintf("refguard: %v", err), 2)
	}
	defer closeDB()

	runs, err := repositories.NewRunRepository(db).List(cmd.Int("limit"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to list runs: %v", err), 2)
	}

	if cmd.Bool("json") {
		return r.writeJSON(runs, true)
	}
	data, err := formatter.RunsToText(runs)
	if err != nil {
		return cli.Exit(fmt.Sprintf("refguard: %v", err), 2)
	}
	return r.writePlain("%s", data)
}

// exitForStatus maps a status exit code to the action's return value. Code 0 is
// a plain success so cli prints nothing extra.
func exitForStatus(code int) error {
	switch code {
	case 0:
		return nil
	case 1:
		return cli.Exit("completed with warnings", 1)
	default:
		return cli.Exit("critical integrity failure", 2)
	}
}
