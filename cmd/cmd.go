// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
	}
}

// runCommand executes the full integrity-preservation pipeline
func runCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Reload reference data from the import directory, preserving user references",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output the run result as JSON",
			},
		},
		Action: r.Run,
	}
}

// dryRunCommand reports what a run would change without writing
func dryRunCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "dry-run",
		Usage: "Report what a run would change without touching live tables",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output the run result as JSON",
			},
		},
		Action: r.DryRun,
	}
}

// healthCheckCommand scores referential integrity without running the pipeline
func healthCheckCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "health-check",
		Usage: "Score referential integrity of the protected tables",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: text, markdown or json",
				Value:   "text",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the report to a file instead of stdout",
			},
		},
		Action: r.HealthCheck,
	}
}

// emergencyRepairCommand sweeps and fixes live orphans outside a full run
func emergencyRepairCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "emergency-repair",
		Usage: "Repair orphaned references without reloading reference data",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Report repairs without applying them",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output the repair result as JSON",
			},
		},
		Action: r.EmergencyRepair,
	}
}

// runsCommand lists recorded run history
func runsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List recorded pipeline runs, most recent first",
		Flags: []cli.Flag{
			configFlag(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of runs to list",
				Value: 20,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output run history as JSON",
			},
		},
		Action: r.Runs,
	}
}

func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Initialize database and run migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
		},
		Action: r.Setup,
	}
}

// tuiCommand launches the interactive report browser
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tui",
		Usage: "Browse run history and health reports interactively",
		Flags: []cli.Flag{
			configFlag(),
		},
		Action: r.TUI,
	}
}
