package etl

import (
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/halfcourt/refguard/internal/models"
	"github.com/halfcourt/refguard/internal/repositories"
	"github.com/halfcourt/refguard/internal/shared"
)

// Repairer sweeps the protected tables for live orphans after restoration: rows
// whose foreign key points at a nonexistent entity, plus NULL keys in columns
// the policy declares non-nullable. Snapshot keys are gone for these rows, so
// only the content and user-context strategies apply; whatever they cannot
// place is resolved by the table's nullability policy.
type Repairer struct {
	db       *sql.DB
	entities *repositories.EntityRepository
	logger   *log.Logger
}

// NewRepairer creates a Repairer over the given connection.
func NewRepairer(db *sql.DB, logger *log.Logger) *Repairer {
	return &Repairer{
		db:       db,
		entities: repositories.NewEntityRepository(db),
		logger:   logger,
	}
}

// TableRepair holds per-table repair counters.
type TableRepair struct {
	Scanned  int `json:"scanned"`  // orphaned rows found
	Repaired int `json:"repaired"` // re-pointed at a recovered entity
	Nulled   int `json:"nulled"`   // set NULL under the nullable policy
	Deleted  int `json:"deleted"`  // removed under the non-nullable policy
}

// RepairReport aggregates repair counters across protected tables.
type RepairReport struct {
	Tables map[string]*TableRepair `json:"tables"`
}

// Totals sums the per-table counters.
func (r *RepairReport) Totals() TableRepair {
	var t TableRepair
	for _, tr := range r.Tables {
		t.Scanned += tr.Scanned
		t.Repaired += tr.Repaired
		t.Nulled += tr.Nulled
		t.Deleted += tr.Deleted
	}
	return t
}

// orphanRow is one live orphan with the context the recovery strategies need.
type orphanRow struct {
	id      int64
	fk      *int64
	userID  *int64
	content string
}

// Repair finds and fixes every live orphan. After a non-dry run no protected
// row points at a missing entity and no non-nullable column holds NULL, which
// is the invariant the health validator scores against.
func (r *Repairer) Repair(policy *ProtectionPolicy, dryRun bool, progress chan<- ProgressUpdate) (*RepairReport, error) {
	report := &RepairReport{Tables: make(map[string]*TableRepair, len(policy.Tables))}

	for i, pt := range policy.Tables {
		if progress != nil {
			progress <- repairUpdate(i+1, len(policy.Tables), pt.Name)
		}

		tr, err := r.repairTable(pt, dryRun)
		if err != nil {
			return report, err
		}
		report.Tables[pt.Name+"."+pt.FKColumn] = tr

		if tr.Scanned > 0 {
			r.logger.Info("repaired orphans",
				"table", pt.Name, "fk", pt.FKColumn,
				"scanned", tr.Scanned, "repaired", tr.Repaired,
				"nulled", tr.Nulled, "deleted", tr.Deleted)
		}
	}

	return report, nil
}

func (r *Repairer) repairTable(pt shared.ProtectedTable, dryRun bool) (*TableRepair, error) {
	tr := &TableRepair{}

	orphans, err := r.findOrphans(pt)
	if err != nil {
		return tr, err
	}
	tr.Scanned = len(orphans)
	if len(orphans) == 0 {
		return tr, nil
	}

	cands, err := r.entities.LiveRefs(pt.References)
	if err != nil {
		return tr, fmt.Errorf("%w: failed to list live %s: %v", shared.ErrFatal, pt.References, err)
	}

	chain := r.chainFor(pt)

	for _, o := range orphans {
		rec := models.SnapshotRecord{
			Table:    pt.Name,
			FKColumn: pt.FKColumn,
			RecordID: o.id,
			OldFK:    o.fk,
			UserID:   o.userID,
			Content:  o.content,
		}

		if entity, strategy, tied, ok := resolveRecord(rec, cands, chain); ok {
			if tied {
				r.logger.Warn("ambiguous orphan repair resolved by tie-break",
					"table", pt.Name, "record", o.id,
					"strategy", strategy.Name(), "confidence", strategy.Confidence(), "entity", entity.ID)
			}
			if !dryRun {
				update := fmt.Sprintf("UPDATE %s SET %s = ? WHERE id = ?", pt.Name, pt.FKColumn)
				if _, err := r.db.Exec(update, entity.ID, o.id); err != nil {
					return tr, fmt.Errorf("failed to repair %s.%s for row %d: %w", pt.Name, pt.FKColumn, o.id, err)
				}
			}
			tr.Repaired++
			continue
		}

		if pt.Nullable {
			if !dryRun {
				update := fmt.Sprintf("UPDATE %s SET %s = NULL WHERE id = ?", pt.Name, pt.FKColumn)
				if _, err := r.db.Exec(update, o.id); err != nil {
					return tr, fmt.Errorf("failed to null %s.%s for row %d: %w", pt.Name, pt.FKColumn, o.id, err)
				}
			}
			tr.Nulled++
			continue
		}

		if !dryRun {
			if _, err := r.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", pt.Name), o.id); err != nil {
				return tr, fmt.Errorf("failed to delete orphaned %s row %d: %w", pt.Name, o.id, err)
			}
		}
		tr.Deleted++
		r.logger.Warn("deleted unrepairable orphan", "table", pt.Name, "record", o.id)
	}

	return tr, nil
}

// chainFor builds the repair strategy chain. Natural-key strategies are useless
// here: a live orphan has no snapshot key to match on.
func (r *Repairer) chainFor(pt shared.ProtectedTable) []MatchStrategy {
	var chain []MatchStrategy
	if pt.ContentColumn != "" {
		chain = append(chain, contentStrategy{})
	}
	if pt.UserColumn != "" && pt.References == "teams" {
		chain = append(chain, userContextStrategy{userTeams: r.entities.UserTeamIDs})
	}
	return chain
}

// findOrphans returns rows whose foreign key points nowhere, plus NULL rows when
// the policy forbids NULL in this column.
func (r *Repairer) findOrphans(pt shared.ProtectedTable) ([]orphanRow, error) {
	contentCol := "NULL"
	if pt.ContentColumn != "" {
		contentCol = pt.ContentColumn
	}
	userCol := "NULL"
	if pt.UserColumn != "" {
		userCol = pt.UserColumn
	}

	where := fmt.Sprintf("(%s IS NOT NULL AND %s NOT IN (SELECT id FROM %s))",
		pt.FKColumn, pt.FKColumn, pt.References)
	if !pt.Nullable {
		where += fmt.Sprintf(" OR %s IS NULL", pt.FKColumn)
	}

	query := fmt.Sprintf("SELECT id, %s, %s, %s FROM %s WHERE %s ORDER BY id",
		pt.FKColumn, userCol, contentCol, pt.Name, where)

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s for orphans: %w", pt.Name, err)
	}
	defer rows.Close()

	var orphans []orphanRow
	for rows.Next() {
		var o orphanRow
		var fk, userID sql.NullInt64
		var content sql.NullString
		if err := rows.Scan(&o.id, &fk, &userID, &content); err != nil {
			return nil, fmt.Errorf("failed to scan orphan row: %w", err)
		}
		if fk.Valid {
			o.fk = &fk.Int64
		}
		if userID.Valid {
			o.userID = &userID.Int64
		}
		o.content = content.String
		orphans = append(orphans, o)
	}
	return orphans, rows.Err()
}
