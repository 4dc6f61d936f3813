package etl

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/halfcourt/refguard/internal/models"
	"github.com/halfcourt/refguard/internal/repositories"
	"github.com/halfcourt/refguard/internal/scrape"
	"github.com/halfcourt/refguard/internal/shared"
)

// Pipeline runs the six integrity-preservation phases in strict order:
// constraint check, snapshot, bulk load, restore, orphan repair, health
// validation. Phase boundaries never overlap; each phase completes before the
// next starts.
type Pipeline struct {
	db     *sql.DB
	cfg    *shared.Config
	policy ProtectionPolicy
	logger *log.Logger

	guardian  *Guardian
	snapshots *SnapshotManager
	loader    *Loader
	resolver  *Resolver
	repairer  *Repairer
	validator *Validator
	runs      *repositories.RunRepository
}

// NewPipeline wires a Pipeline from configuration. The protection policy is
// validated up front so a bad config fails before any run starts.
func NewPipeline(db *sql.DB, cfg *shared.Config, logger *log.Logger) (*Pipeline, error) {
	policy := PolicyFromConfig(cfg)
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	return &Pipeline{
		db:        db,
		cfg:       cfg,
		policy:    policy,
		logger:    logger,
		guardian:  NewGuardian(db, logger),
		snapshots: NewSnapshotManager(db, logger),
		loader:    NewLoader(db, cfg.Loader, logger),
		resolver:  NewResolver(db, logger),
		repairer:  NewRepairer(db, logger),
		validator: NewValidator(db, logger),
		runs:      repositories.NewRunRepository(db),
	}, nil
}

// Result is the full outcome of one pipeline run.
type Result struct {
	RunID          string               `json:"run_id"`
	Status         models.RunStatus     `json:"status"`
	DryRun         bool                 `json:"dry_run,omitempty"`
	Guardian       *GuardianReport      `json:"guardian,omitempty"`
	Snapshot       *SnapshotCounts      `json:"snapshot,omitempty"`
	Load           *LoadReport          `json:"load,omitempty"`
	Restore        *RestoreReport       `json:"restore,omitempty"`
	Repair         *RepairReport        `json:"repair,omitempty"`
	Health         *models.HealthReport `json:"health,omitempty"`
	SessionVersion int64                `json:"session_version,omitempty"`
	BackupsKept    bool                 `json:"backups_kept,omitempty"`
}

// ExitCode maps the result onto the CLI's stable exit codes.
func (r *Result) ExitCode() int {
	return r.Status.ExitCode()
}

// Run executes the full pipeline against the scrape in the configured import
// directory. In dry-run mode the guardian only detects, the loader and resolver
// only report, and no live table is written; snapshots are still captured so
// the resolver has real data to resolve against.
func (p *Pipeline) Run(ctx context.Context, dryRun bool, progress chan<- ProgressUpdate) (*Result, error) {
	result := &Result{
		RunID:  shared.GenerateRunID(),
		Status: models.StatusRunning,
		DryRun: dryRun,
	}

	// The scrape is validated before the lock is taken: a malformed scrape
	// costs nothing and should never block a concurrent healthy run.
	doc, err := scrape.Load(p.cfg.Import.Dir)
	if err != nil {
		return p.abort(result, err)
	}

	release, err := p.runs.AcquireLock(result.RunID)
	if err != nil {
		result.Status = models.StatusFatal
		return result, err
	}
	defer func() {
		if err := release(); err != nil {
			p.logger.Error("failed to release run lock", "run", result.RunID, "error", err)
		}
	}()

	if err := p.runs.Start(result.RunID); err != nil {
		return p.abort(result, err)
	}
	p.logger.Info("run started", "run", result.RunID, "dry_run", dryRun)

	// Phase 1: constraint guardian. Fatal on unrepairable schema.
	if progress != nil {
		progress <- constraintUpdate(1, 1, "reference tables")
	}
	result.Guardian, err = p.guardian.EnsureConstraints(dryRun)
	if err != nil {
		return p.abort(result, err)
	}

	// Phase 2: snapshot every protected table.
	snapshot, err := p.captureSnapshots(result.RunID, progress)
	if err != nil {
		return p.abort(result, err)
	}
	result.Snapshot = snapshot

	// Phase 3: bulk load by natural key.
	if dryRun {
		result.Load, err = p.loader.DryRun(ctx, doc)
	} else {
		result.Load, err = p.loader.Load(ctx, doc, progress)
	}
	if err != nil {
		return p.abort(result, err)
	}

	// Phase 4: restore foreign keys from snapshots.
	result.Restore, err = p.resolver.Restore(&p.policy, result.RunID, dryRun, progress)
	if err != nil {
		return p.abort(result, err)
	}

	// Phase 5: sweep remaining orphans.
	result.Repair, err = p.repairer.Repair(&p.policy, dryRun, progress)
	if err != nil {
		return p.abort(result, err)
	}

	// Phase 6: score the outcome.
	if progress != nil {
		progress <- healthUpdate(1, 1)
	}
	result.Health, err = p.validator.Report(&p.policy)
	if err != nil {
		return p.abort(result, err)
	}

	return p.finalize(result, progress)
}

func (p *Pipeline) captureSnapshots(runID string, progress chan<- ProgressUpdate) (*SnapshotCounts, error) {
	counts, err := p.snapshots.Capture(&p.policy, runID)
	if err != nil {
		return counts, err
	}
	if progress != nil {
		progress <- backupUpdate(len(p.policy.Tables), len(p.policy.Tables), "protected tables", counts.Total)
	}
	return counts, nil
}

// finalize applies the success or containment transition. Critical health keeps
// the backups and withholds the session bump so consumers never pick up a bad
// load; a dry run mutated nothing and simply cleans up after itself.
func (p *Pipeline) finalize(result *Result, progress chan<- ProgressUpdate) (*Result, error) {
	if result.DryRun {
		result.Status = models.StatusDryRun
		if err := p.snapshots.Drop(&p.policy); err != nil {
			p.logger.Error("failed to drop dry-run backups", "error", err)
		}
		p.recordFinish(result)
		if progress != nil {
			progress <- finalizeUpdate("Dry run complete, no changes applied")
		}
		return result, nil
	}

	result.Status = result.Health.Status

	if result.Status == models.StatusCritical {
		result.BackupsKept = true
		p.recordFinish(result)
		p.logger.Error("run finished critical, backups retained",
			"run", result.RunID, "score", fmt.Sprintf("%.1f", result.Health.OverallScore))
		if progress != nil {
			progress <- finalizeUpdate("Critical health, backups retained for recovery")
		}
		return result, shared.ErrCriticalHealth
	}

	version, err := p.runs.BumpSessionVersion()
	if err != nil {
		return p.abort(result, err)
	}
	result.SessionVersion = version

	if err := p.snapshots.Drop(&p.policy); err != nil {
		// The run itself succeeded; stale backups only cost disk.
		p.logger.Error("failed to drop backups after successful run", "error", err)
	}

	p.recordFinish(result)
	p.logger.Info("run finished",
		"run", result.RunID, "status", result.Status,
		"score", fmt.Sprintf("%.1f", result.Health.OverallScore),
		"session_version", version)
	if progress != nil {
		progress <- finalizeUpdate(fmt.Sprintf("Run complete: %s (%.1f)", result.Status, result.Health.OverallScore))
	}
	return result, nil
}

// abort records a fatal outcome and returns the error unchanged. Backups from
// this run, if any were captured, are retained for manual recovery.
func (p *Pipeline) abort(result *Result, err error) (*Result, error) {
	result.Status = models.StatusFatal
	if result.Snapshot != nil && result.Snapshot.Total > 0 {
		result.BackupsKept = true
	}
	p.recordFinish(result)
	p.logger.Error("run aborted", "run", result.RunID, "error", err)
	return result, err
}

func (p *Pipeline) recordFinish(result *Result) {
	score := 0.0
	if result.Health != nil {
		score = result.Health.OverallScore
	}
	detail, _ := json.Marshal(result)
	if err := p.runs.Finish(result.RunID, result.Status, score, string(detail)); err != nil {
		p.logger.Error("failed to record run history", "run", result.RunID, "error", err)
	}
}

// HealthCheck runs the validator alone against the live tables. It takes no
// lock and writes nothing, so it is safe to run alongside anything.
func (p *Pipeline) HealthCheck() (*models.HealthReport, error) {
	return p.validator.Report(&p.policy)
}

// EmergencyRepair runs the orphan repairer followed by the validator, outside
// a full pipeline run. Used when integrity degraded without a reload, or to
// finish cleanup after a critical run.
func (p *Pipeline) EmergencyRepair(ctx context.Context, dryRun bool, progress chan<- ProgressUpdate) (*Result, error) {
	result := &Result{
		RunID:  shared.GenerateRunID(),
		Status: models.StatusRunning,
		DryRun: dryRun,
	}

	release, err := p.runs.AcquireLock(result.RunID)
	if err != nil {
		result.Status = models.StatusFatal
		return result, err
	}
	defer func() {
		if err := release(); err != nil {
			p.logger.Error("failed to release run lock", "run", result.RunID, "error", err)
		}
	}()

	if err := p.runs.Start(result.RunID); err != nil {
		return p.abort(result, err)
	}

	result.Repair, err = p.repairer.Repair(&p.policy, dryRun, progress)
	if err != nil {
		return p.abort(result, err)
	}

	result.Health, err = p.validator.Report(&p.policy)
	if err != nil {
		return p.abort(result, err)
	}

	if dryRun {
		result.Status = models.StatusDryRun
	} else {
		result.Status = result.Health.Status
	}
	p.recordFinish(result)

	if result.Status == models.StatusCritical {
		return result, shared.ErrCriticalHealth
	}
	return result, nil
}

// Policy exposes the validated protection policy, for reporting surfaces.
func (p *Pipeline) Policy() ProtectionPolicy {
	return p.policy
}
