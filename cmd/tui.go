package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/halfcourt/refguard/internal/etl"
	"github.com/halfcourt/refguard/internal/repositories"
	"github.com/halfcourt/refguard/internal/shared"
	"github.com/halfcourt/refguard/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUI launches the interactive browser for run history and health reports.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	config := r.loadConfig(cmd)

	db, closeDB, err := r.openDatabase(config)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer closeDB()

	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger("./tmp/refguard-tui.log")
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	pipeline, err := etl.NewPipeline(db, config, r.logger)
	if err != nil {
		return err
	}
	runs := repositories.NewRunRepository(db)

	model := ui.NewModel(runs.List, pipeline.HealthCheck)
	p := tea.NewProgram(model)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}

// SetLogger swaps the runner's logger, used when the TUI takes over the terminal.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}
