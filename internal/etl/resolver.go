package etl

import (
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/halfcourt/refguard/internal/models"
	"github.com/halfcourt/refguard/internal/repositories"
	"github.com/halfcourt/refguard/internal/shared"
)

// Resolver maps each snapshot back onto the reloaded reference tables and rewrites
// the protected foreign keys. Every strategy works from the natural key and
// context captured at backup time; surrogate ids are never trusted across the
// reload boundary.
type Resolver struct {
	db       *sql.DB
	entities *repositories.EntityRepository
	backups  *repositories.BackupRepository
	logger   *log.Logger
}

// NewResolver creates a Resolver over the given connection.
func NewResolver(db *sql.DB, logger *log.Logger) *Resolver {
	return &Resolver{
		db:       db,
		entities: repositories.NewEntityRepository(db),
		backups:  repositories.NewBackupRepository(db),
		logger:   logger,
	}
}

// TableRestore holds per-table restoration counters.
type TableRestore struct {
	Restored    int `json:"restored"`     // foreign key rewritten to the matched entity
	Unchanged   int `json:"unchanged"`    // matched entity kept the same id
	Ambiguous   int `json:"ambiguous"`    // matched only after a deterministic tie-break
	Unresolved  int `json:"unresolved"`   // no strategy matched, left for orphan repair
	PreOrphaned int `json:"pre_orphaned"` // already orphaned at backup time

	// Strategies records which strategy won how often, with its confidence.
	Strategies map[string]*StrategyOutcome `json:"strategies,omitempty"`
}

// StrategyOutcome counts wins for one strategy within a table restore.
type StrategyOutcome struct {
	Confidence int `json:"confidence"`
	Matched    int `json:"matched"`
}

// RestoreReport aggregates restoration counters across protected tables.
type RestoreReport struct {
	Tables map[string]*TableRestore `json:"tables"`
}

// Totals sums the per-table counters.
func (r *RestoreReport) Totals() TableRestore {
	var t TableRestore
	for _, tr := range r.Tables {
		t.Restored += tr.Restored
		t.Unchanged += tr.Unchanged
		t.Ambiguous += tr.Ambiguous
		t.Unresolved += tr.Unresolved
		t.PreOrphaned += tr.PreOrphaned
	}
	return t
}

// strategiesFor builds the ordered strategy chain for one protected table.
func (r *Resolver) strategiesFor(pt shared.ProtectedTable) []MatchStrategy {
	chain := []MatchStrategy{exactKeyStrategy{}}
	if pt.References == "teams" {
		chain = append(chain, aliasStrategy{})
	}
	if pt.ContentColumn != "" {
		chain = append(chain, contentStrategy{})
	}
	if pt.UserColumn != "" && pt.References == "teams" {
		chain = append(chain, userContextStrategy{userTeams: r.entities.UserTeamIDs})
	}
	return chain
}

// Restore rewrites the protected foreign keys from this run's snapshots. In
// dry-run mode it resolves and counts without touching the protected tables.
func (r *Resolver) Restore(policy *ProtectionPolicy, runID string, dryRun bool, progress chan<- ProgressUpdate) (*RestoreReport, error) {
	report := &RestoreReport{Tables: make(map[string]*TableRestore, len(policy.Tables))}

	for i, pt := range policy.Tables {
		if progress != nil {
			progress <- restoreUpdate(i+1, len(policy.Tables), pt.Name)
		}

		tr, err := r.restoreTable(pt, runID, dryRun)
		if err != nil {
			return report, err
		}
		report.Tables[pt.Name+"."+pt.FKColumn] = tr

		r.logger.Info("restored references",
			"table", pt.Name, "fk", pt.FKColumn,
			"restored", tr.Restored, "unchanged", tr.Unchanged,
			"ambiguous", tr.Ambiguous, "unresolved", tr.Unresolved)
	}

	return report, nil
}

func (r *Resolver) restoreTable(pt shared.ProtectedTable, runID string, dryRun bool) (*TableRestore, error) {
	tr := &TableRestore{Strategies: make(map[string]*StrategyOutcome)}

	snapshots, err := r.backups.Snapshots(pt, runID)
	if err != nil {
		return tr, fmt.Errorf("%w: failed to read snapshots for %s.%s: %v",
			shared.ErrFatal, pt.Name, pt.FKColumn, err)
	}
	if len(snapshots) == 0 {
		return tr, nil
	}

	cands, err := r.entities.LiveRefs(pt.References)
	if err != nil {
		return tr, fmt.Errorf("%w: failed to list live %s: %v", shared.ErrFatal, pt.References, err)
	}

	chain := r.strategiesFor(pt)

	for _, rec := range snapshots {
		if rec.Orphaned() {
			// Already orphaned before the run started. The orphan repairer owns
			// these; restoring them here would fabricate history.
			tr.PreOrphaned++
			continue
		}

		entity, strategy, tied, ok := resolveRecord(rec, cands, chain)
		if !ok {
			tr.Unresolved++
			r.logger.Warn("no entity matched snapshot",
				"table", pt.Name, "record", rec.RecordID, "key", rec.Key.String())
			continue
		}
		if tied {
			tr.Ambiguous++
			r.logger.Warn("ambiguous match resolved by tie-break",
				"table", pt.Name, "record", rec.RecordID, "key", rec.Key.String(),
				"strategy", strategy.Name(), "confidence", strategy.Confidence(), "entity", entity.ID)
		}

		outcome := tr.Strategies[strategy.Name()]
		if outcome == nil {
			outcome = &StrategyOutcome{Confidence: strategy.Confidence()}
			tr.Strategies[strategy.Name()] = outcome
		}
		outcome.Matched++

		changed, err := r.applyFK(pt, rec.RecordID, entity.ID, dryRun)
		if err != nil {
			return tr, err
		}
		if changed {
			tr.Restored++
		} else {
			tr.Unchanged++
		}
	}

	return tr, nil
}

// resolveRecord walks the strategy chain. A single match wins immediately; the
// highest-confidence ambiguous set is kept as a fallback and tie-broken only
// after every lower strategy has had its chance to disambiguate. It returns the
// winning strategy so callers can report its name and confidence.
func resolveRecord(rec models.SnapshotRecord, cands []models.EntityRef, chain []MatchStrategy) (models.EntityRef, MatchStrategy, bool, bool) {
	var fallback []models.EntityRef
	var fallbackStrategy MatchStrategy

	for _, s := range chain {
		matches := s.Match(rec, cands)
		switch {
		case len(matches) == 1:
			return matches[0], s, false, true
		case len(matches) > 1 && fallback == nil:
			fallback = matches
			fallbackStrategy = s
		}
	}

	if fallback != nil {
		winner, tied := breakTie(fallback)
		return winner, fallbackStrategy, tied, true
	}
	return models.EntityRef{}, nil, false, false
}

// applyFK writes the resolved foreign key. The update is conditional so re-runs
// and already-correct rows are no-ops, which keeps restoration idempotent.
func (r *Resolver) applyFK(pt shared.ProtectedTable, recordID, entityID int64, dryRun bool) (bool, error) {
	var current sql.NullInt64
	check := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", pt.FKColumn, pt.Name)
	if err := r.db.QueryRow(check, recordID).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			// The protected row vanished mid-run; nothing to restore.
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s.%s for row %d: %w", pt.Name, pt.FKColumn, recordID, err)
	}
	if current.Valid && current.Int64 == entityID {
		return false, nil
	}
	if dryRun {
		return true, nil
	}

	update := fmt.Sprintf("UPDATE %s SET %s = ? WHERE id = ?", pt.Name, pt.FKColumn)
	if _, err := r.db.Exec(update, entityID, recordID); err != nil {
		return false, fmt.Errorf("failed to restore %s.%s for row %d: %w", pt.Name, pt.FKColumn, recordID, err)
	}
	return true, nil
}
