package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/halfcourt/refguard/internal/models"
	"github.com/halfcourt/refguard/internal/repositories"
	"github.com/halfcourt/refguard/internal/scrape"
	"github.com/halfcourt/refguard/internal/shared"
	ht "github.com/halfcourt/refguard/internal/testing"
	"github.com/urfave/cli/v3"
)

func testConfig(importDir string) *shared.Config {
	config := shared.DefaultConfig()
	config.Import.Dir = importDir
	config.Loader = shared.LoaderConfig{BatchSize: 2, BatchesPerSecond: 1000, MaxRetries: 1}
	return config
}

func testRunner(t *testing.T, db *sql.DB, config *shared.Config) (*Runner, *bytes.Buffer) {
	t.Helper()
	output := &bytes.Buffer{}
	runner := NewRunner(RunnerOpts{
		Config: config,
		Logger: shared.NewLogger(io.Discard),
		Output: output,
		DB:     db,
	})
	return runner, output
}

// execCommand runs one command through real flag parsing and hands back the
// action's error. The action is wrapped so cli's exit-coder handling never
// terminates the test process.
func execCommand(t *testing.T, build func(*Runner) *cli.Command, r *Runner, args ...string) error {
	t.Helper()

	cmd := build(r)
	action := cmd.Action
	var actionErr error
	cmd.Action = func(ctx context.Context, c *cli.Command) error {
		actionErr = action(ctx, c)
		return nil
	}

	app := &cli.Command{Name: "refguard", Commands: []*cli.Command{cmd}}
	if err := app.Run(context.Background(), append([]string{"refguard", cmd.Name}, args...)); err != nil {
		t.Fatalf("failed to run %s: %v", cmd.Name, err)
	}
	return actionErr
}

// exitCode extracts the cli exit code from an action error, 0 for nil.
func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var coder cli.ExitCoder
	if !errors.As(err, &coder) {
		t.Fatalf("expected an exit coder, got %v", err)
	}
	return coder.ExitCode()
}

// writeImportDir serializes a scrape document mirroring ht.SeedReference into
// a temp import directory.
func writeImportDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	doc := map[string]any{
		"leagues.json": []scrape.League{{LeagueID: "APTA_CHICAGO", LeagueName: "APTA Chicago"}},
		"clubs.json":   []scrape.Club{{Name: "Tennaqua"}, {Name: "Winnetka"}},
		"series.json": []scrape.Series{
			{Name: "Series 22", LeagueID: "APTA_CHICAGO"},
			{Name: "Series 2B", LeagueID: "APTA_CHICAGO"},
		},
		"teams.json": []scrape.Team{
			{LeagueID: "APTA_CHICAGO", ClubName: "Tennaqua", SeriesName: "Series 22", TeamName: "Tennaqua 22", TeamAlias: "22", IsActive: true},
			{LeagueID: "APTA_CHICAGO", ClubName: "Tennaqua", SeriesName: "Series 2B", TeamName: "Tennaqua 2B", TeamAlias: "2B", IsActive: true},
			{LeagueID: "APTA_CHICAGO", ClubName: "Winnetka", SeriesName: "Series 22", TeamName: "Winnetka 22", TeamAlias: "22", IsActive: true},
		},
		"players.json": []scrape.Player{
			{ExtPlayerID: "nndz-1001", FirstName: "Ross", LastName: "Freedman", LeagueID: "APTA_CHICAGO", ClubName: "Tennaqua", SeriesName: "Series 22"},
			{ExtPlayerID: "nndz-1002", FirstName: "Mike", LastName: "Lieberman", LeagueID: "APTA_CHICAGO", ClubName: "Tennaqua", SeriesName: "Series 2B"},
		},
	}
	for name, v := range doc {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal %s: %v", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return dir
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			db := ht.SetupDB(t)

			runner := NewRunner(RunnerOpts{
				Config: config,
				Logger: logger,
				Output: output,
				DB:     db,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.db != db {
				t.Error("expected db to be set")
			}
		})

		t.Run("with nil config uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Config: nil})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
		})

		t.Run("with nil logger uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Logger: nil})

			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
		})

		t.Run("with nil output uses stdout", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: nil})

			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
		})

		t.Run("with configPath sets field", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{ConfigPath: "/test/path/config.toml"})

			if runner.configPath != "/test/path/config.toml" {
				t.Errorf("expected configPath to be set, got %s", runner.configPath)
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			data := map[string]string{"key": "value"}
			err := runner.writeJSON(data, true)

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			data := map[string]string{"key": "value"}
			err := runner.writeJSON(data, false)

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			expected := `{"key":"value"}` + "\n"
			if result != expected {
				t.Errorf("expected %q, got %q", expected, result)
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			// channels cannot be marshaled to JSON
			data := make(chan int)
			err := runner.writeJSON(data, false)

			if err == nil {
				t.Fatal("expected error for non-serializable data")
			}
			if !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &ht.FWriter{}})

			data := map[string]string{"key": "value"}
			err := runner.writeJSON(data, false)

			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			limitedWriter := ht.NewLimitedWriter(1, 0, &bytes.Buffer{})
			runner := NewRunner(RunnerOpts{Output: &limitedWriter})

			data := map[string]string{"key": "value"}
			err := runner.writeJSON(data, false)

			if err == nil {
				t.Fatal("expected error writing newline")
			}
			if !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes formatted text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			err := runner.writePlain("hello %s", "world")

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if output.String() != "hello world" {
				t.Errorf("expected 'hello world', got %q", output.String())
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &ht.FWriter{}})

			err := runner.writePlain("test")

			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		if len(commands) != 7 {
			t.Errorf("expected 7 commands, got %d", len(commands))
		}
		for i, cmd := range commands {
			if cmd == nil {
				t.Errorf("command at index %d is nil", i)
			}
		}
	})

	t.Run("loadConfig", func(t *testing.T) {
		probe := func(got **shared.Config) func(*Runner) *cli.Command {
			return func(r *Runner) *cli.Command {
				return &cli.Command{
					Name:  "probe",
					Flags: []cli.Flag{configFlag()},
					Action: func(ctx context.Context, c *cli.Command) error {
						*got = r.loadConfig(c)
						return nil
					},
				}
			}
		}

		t.Run("loads config from flag path", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			content := "[database]\npath = \"/tmp/flagged.db\"\n"
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}

			runner, _ := testRunner(t, nil, shared.DefaultConfig())
			var got *shared.Config
			if err := execCommand(t, probe(&got), runner, "--config", path); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			if got.Database.Path != "/tmp/flagged.db" {
				t.Errorf("expected flagged config, got %s", got.Database.Path)
			}
		})

		t.Run("falls back to injected config on load failure", func(t *testing.T) {
			config := shared.DefaultConfig()
			runner, _ := testRunner(t, nil, config)

			var got *shared.Config
			if err := execCommand(t, probe(&got), runner, "--config", "/nonexistent/config.toml"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			if got != config {
				t.Error("expected fallback to the injected config")
			}
		})
	})
}

func TestHealthCheckCommand(t *testing.T) {
	t.Run("reports healthy tables as text", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		ht.SeedUserData(t, db)
		runner, output := testRunner(t, db, testConfig(t.TempDir()))

		err := execCommand(t, healthCheckCommand, runner)

		if err != nil {
			t.Fatalf("expected exit 0, got %v", err)
		}
		text := output.String()
		if !strings.Contains(text, "polls") || !strings.Contains(text, "Overall:") {
			t.Errorf("expected a table report, got %q", text)
		}
	})

	t.Run("renders JSON format", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		ht.SeedUserData(t, db)
		runner, output := testRunner(t, db, testConfig(t.TempDir()))

		if err := execCommand(t, healthCheckCommand, runner, "--format", "json"); err != nil {
			t.Fatalf("expected exit 0, got %v", err)
		}

		var report models.HealthReport
		if err := json.Unmarshal(output.Bytes(), &report); err != nil {
			t.Fatalf("expected valid JSON, got %v", err)
		}
		if report.Status != models.StatusHealthy {
			t.Errorf("expected healthy status, got %s", report.Status)
		}
	})

	t.Run("critical score maps to exit code 2", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		ht.SeedUserData(t, db)
		ht.Exec(t, db, `UPDATE polls SET team_id = 999 WHERE id = 1`)
		runner, _ := testRunner(t, db, testConfig(t.TempDir()))

		err := execCommand(t, healthCheckCommand, runner)

		if code := exitCode(t, err); code != 2 {
			t.Errorf("expected exit code 2, got %d", code)
		}
	})

	t.Run("writes report to a file", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		ht.SeedUserData(t, db)
		runner, output := testRunner(t, db, testConfig(t.TempDir()))
		path := filepath.Join(t.TempDir(), "health.md")

		if err := execCommand(t, healthCheckCommand, runner, "--format", "markdown", "--output", path); err != nil {
			t.Fatalf("expected exit 0, got %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("expected report file, got %v", err)
		}
		if !strings.Contains(string(data), "| Table |") {
			t.Errorf("expected markdown table, got %q", string(data))
		}
		if !strings.Contains(output.String(), "Report written to") {
			t.Errorf("expected confirmation, got %q", output.String())
		}
	})
}

func TestRunCommand(t *testing.T) {
	t.Run("healthy run prints a summary", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		ht.SeedUserData(t, db)
		runner, output := testRunner(t, db, testConfig(writeImportDir(t)))

		err := execCommand(t, runCommand, runner)

		if err != nil {
			t.Fatalf("expected exit 0, got %v", err)
		}
		text := output.String()
		for _, want := range []string{"finished: healthy", "Load:", "Restore:", "Repair:", "Overall:"} {
			if !strings.Contains(text, want) {
				t.Errorf("expected summary to contain %q, got %q", want, text)
			}
		}
		if n := ht.Count(t, db, `SELECT COUNT(*) FROM polls WHERE team_id = 100`); n != 1 {
			t.Error("expected the poll to survive the reload")
		}
	})

	t.Run("json flag emits the run result", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		ht.SeedUserData(t, db)
		runner, output := testRunner(t, db, testConfig(writeImportDir(t)))

		if err := execCommand(t, runCommand, runner, "--json"); err != nil {
			t.Fatalf("expected exit 0, got %v", err)
		}

		var result struct {
			Status string `json:"status"`
			RunID  string `json:"run_id"`
		}
		if err := json.Unmarshal(output.Bytes(), &result); err != nil {
			t.Fatalf("expected valid JSON, got %v", err)
		}
		if result.Status != "healthy" || result.RunID == "" {
			t.Errorf("unexpected result: %+v", result)
		}
	})

	t.Run("missing scrape aborts with exit code 2", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		runner, _ := testRunner(t, db, testConfig(t.TempDir()))

		err := execCommand(t, runCommand, runner)

		if code := exitCode(t, err); code != 2 {
			t.Errorf("expected exit code 2, got %d", code)
		}
		if !strings.Contains(err.Error(), "run failed") {
			t.Errorf("expected run failure message, got %v", err)
		}
	})

	t.Run("dry run reports without writing", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		ht.SeedUserData(t, db)
		runner, output := testRunner(t, db, testConfig(writeImportDir(t)))

		err := execCommand(t, dryRunCommand, runner)

		if err != nil {
			t.Fatalf("expected exit 0, got %v", err)
		}
		if !strings.Contains(output.String(), "finished: dry-run") {
			t.Errorf("expected dry-run status, got %q", output.String())
		}
	})
}

func TestEmergencyRepairCommand(t *testing.T) {
	t.Run("repairs an orphaned reference", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		ht.SeedUserData(t, db)
		ht.Exec(t, db, `UPDATE polls SET team_id = 999, question = 'Series 2B lineup for Saturday' WHERE id = 1`)
		runner, output := testRunner(t, db, testConfig(t.TempDir()))

		err := execCommand(t, emergencyRepairCommand, runner)

		if err != nil {
			t.Fatalf("expected exit 0, got %v", err)
		}
		var teamID int64
		if scanErr := db.QueryRow(`SELECT team_id FROM polls WHERE id = 1`).Scan(&teamID); scanErr != nil {
			t.Fatalf("failed to read poll: %v", scanErr)
		}
		if teamID != 101 {
			t.Errorf("expected poll repaired onto team 101, got %d", teamID)
		}
		if !strings.Contains(output.String(), "Repair:") {
			t.Errorf("expected repair summary, got %q", output.String())
		}
	})

	t.Run("dry-run leaves the orphan in place", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		ht.SeedUserData(t, db)
		ht.Exec(t, db, `UPDATE polls SET team_id = 999, question = 'Series 2B lineup for Saturday' WHERE id = 1`)
		runner, _ := testRunner(t, db, testConfig(t.TempDir()))

		err := execCommand(t, emergencyRepairCommand, runner, "--dry-run")

		if err != nil {
			t.Fatalf("expected exit 0, got %v", err)
		}
		if n := ht.Count(t, db, `SELECT COUNT(*) FROM polls WHERE team_id = 999`); n != 1 {
			t.Error("dry-run should not write")
		}
	})
}

func TestRunsCommand(t *testing.T) {
	t.Run("lists recorded runs", func(t *testing.T) {
		db := ht.SetupDB(t)
		runs := repositories.NewRunRepository(db)
		if err := runs.Start("run-alpha"); err != nil {
			t.Fatalf("failed to start run: %v", err)
		}
		if err := runs.Finish("run-alpha", models.StatusHealthy, 98.5, "{}"); err != nil {
			t.Fatalf("failed to finish run: %v", err)
		}
		runner, output := testRunner(t, db, testConfig(t.TempDir()))

		if err := execCommand(t, runsCommand, runner); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		text := output.String()
		if !strings.Contains(text, "run-alpha") || !strings.Contains(text, "healthy") {
			t.Errorf("expected run history, got %q", text)
		}
	})

	t.Run("honors the limit flag", func(t *testing.T) {
		db := ht.SetupDB(t)
		runs := repositories.NewRunRepository(db)
		for _, id := range []string{"run-alpha", "run-beta"} {
			if err := runs.Start(id); err != nil {
				t.Fatalf("failed to start run: %v", err)
			}
		}
		runner, output := testRunner(t, db, testConfig(t.TempDir()))

		if err := execCommand(t, runsCommand, runner, "--limit", "1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if n := strings.Count(output.String(), "run-"); n != 1 {
			t.Errorf("expected 1 run listed, got %d", n)
		}
	})

	t.Run("json flag emits records", func(t *testing.T) {
		db := ht.SetupDB(t)
		runs := repositories.NewRunRepository(db)
		if err := runs.Start("run-alpha"); err != nil {
			t.Fatalf("failed to start run: %v", err)
		}
		runner, output := testRunner(t, db, testConfig(t.TempDir()))

		if err := execCommand(t, runsCommand, runner, "--json"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		var records []models.RunRecord
		if err := json.Unmarshal(output.Bytes(), &records); err != nil {
			t.Fatalf("expected valid JSON, got %v", err)
		}
		if len(records) != 1 || records[0].ID != "run-alpha" {
			t.Errorf("unexpected records: %+v", records)
		}
	})
}

func TestSetupCommand(t *testing.T) {
	t.Run("creates config, database and import directory", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		output := &bytes.Buffer{}
		runner := NewRunner(RunnerOpts{Logger: shared.NewLogger(io.Discard), Output: output})

		if err := execCommand(t, setupCommand, runner); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		for _, path := range []string{"config.toml", "refguard.db", "import"} {
			if _, err := os.Stat(filepath.Join(dir, path)); err != nil {
				t.Errorf("expected %s to exist: %v", path, err)
			}
		}
	})

	t.Run("reuses an existing config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.toml")
		content := "[database]\npath = \"" + filepath.Join(dir, "custom.db") + "\"\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		runner := NewRunner(RunnerOpts{Logger: shared.NewLogger(io.Discard), Output: &bytes.Buffer{}})

		if err := execCommand(t, setupCommand, runner, "--config", path); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if _, err := os.Stat(filepath.Join(dir, "custom.db")); err != nil {
			t.Errorf("expected database at the configured path: %v", err)
		}
	})
}
