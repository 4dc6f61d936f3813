package etl

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/halfcourt/refguard/internal/shared"
)

// uniqueSpec declares the natural-key uniqueness constraint a reference table
// needs before it can be safely upserted.
type uniqueSpec struct {
	table   string
	columns []string
	index   string
}

var uniqueSpecs = []uniqueSpec{
	{table: "leagues", columns: []string{"league_id"}, index: "idx_leagues_league_id"},
	{table: "clubs", columns: []string{"name"}, index: "idx_clubs_name"},
	{table: "series", columns: []string{"name", "league_id"}, index: "idx_series_name_league"},
	{table: "teams", columns: []string{"club_id", "series_id", "league_id"}, index: "idx_teams_club_series_league"},
	{table: "players", columns: []string{"ext_player_id", "league_id"}, index: "idx_players_ext_league"},
}

// Guardian validates and repairs the uniqueness constraints the bulk loader's
// upserts depend on. It runs pre-flight: any failure here aborts the run before
// a single destructive statement executes.
type Guardian struct {
	db     *sql.DB
	logger *log.Logger
}

// NewGuardian creates a Guardian over the given database connection.
func NewGuardian(db *sql.DB, logger *log.Logger) *Guardian {
	return &Guardian{db: db, logger: logger}
}

// GuardianReport summarizes what the guardian found and did.
type GuardianReport struct {
	Checked        int      `json:"checked"`
	Created        []string `json:"created,omitempty"`         // indexes created this run
	MergedRows     int      `json:"merged_rows,omitempty"`     // duplicate rows merged away
	ReassignedFKs  int      `json:"reassigned_fks,omitempty"`  // foreign keys repointed to kept rows
	RemovedNullKey int      `json:"removed_null_key,omitempty"` // rows with NULL in a key column
	WouldRepair    []string `json:"would_repair,omitempty"`    // dry-run findings
}

// EnsureConstraints verifies every reference table's natural-key unique index,
// repairing duplicate and NULL-key rows as needed before creating missing
// indexes. In dry-run mode it only reports what a real run would do.
func (g *Guardian) EnsureConstraints(dryRun bool) (*GuardianReport, error) {
	report := &GuardianReport{}

	for _, spec := range uniqueSpecs {
		report.Checked++

		ok, err := g.hasUniqueIndex(spec)
		if err != nil {
			return report, fmt.Errorf("%w: %v", shared.ErrFatal, err)
		}
		if ok {
			continue
		}

		g.logger.Warn("missing uniqueness constraint", "table", spec.table, "columns", strings.Join(spec.columns, ","))

		if dryRun {
			report.WouldRepair = append(report.WouldRepair,
				fmt.Sprintf("create %s on %s(%s)", spec.index, spec.table, strings.Join(spec.columns, ", ")))
			continue
		}

		if err := g.repairAndCreate(spec, report); err != nil {
			return report, err
		}
		report.Created = append(report.Created, spec.index)
	}

	return report, nil
}

// hasUniqueIndex reports whether the table already carries a unique index over
// exactly the spec's columns.
func (g *Guardian) hasUniqueIndex(spec uniqueSpec) (bool, error) {
	rows, err := g.db.Query(fmt.Sprintf("PRAGMA index_list(%s)", spec.table))
	if err != nil {
		return false, fmt.Errorf("failed to list indexes on %s: %w", spec.table, err)
	}
	defer rows.Close()

	var candidates []string
	for rows.Next() {
		var seq int
		var name, origin string
		var unique, partial bool
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return false, fmt.Errorf("failed to scan index list: %w", err)
		}
		if unique && !partial {
			candidates = append(candidates, name)
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("row iteration error: %w", err)
	}

	for _, name := range candidates {
		cols, err := g.indexColumns(name)
		if err != nil {
			return false, err
		}
		if sameColumns(cols, spec.columns) {
			return true, nil
		}
	}
	return false, nil
}

func (g *Guardian) indexColumns(index string) ([]string, error) {
	rows, err := g.db.Query(fmt.Sprintf("PRAGMA index_info(%s)", index))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect index %s: %w", index, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, fmt.Errorf("failed to scan index info: %w", err)
		}
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	return cols, rows.Err()
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, c := range a {
		set[c] = true
	}
	for _, c := range b {
		if !set[c] {
			return false
		}
	}
	return true
}

// repairAndCreate removes rows that would violate the missing constraint, then
// creates it. Duplicates are merged deterministically: the row with the smallest
// id survives and every foreign key pointing at a removed duplicate is
// reassigned to it.
func (g *Guardian) repairAndCreate(spec uniqueSpec, report *GuardianReport) error {
	tx, err := g.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: failed to begin repair transaction: %v", shared.ErrFatal, err)
	}
	defer tx.Rollback()

	removedNull, err := g.removeNullKeyRows(tx, spec)
	if err != nil {
		return err
	}
	report.RemovedNullKey += removedNull

	merged, reassigned, err := g.mergeDuplicates(tx, spec)
	if err != nil {
		return err
	}
	report.MergedRows += merged
	report.ReassignedFKs += reassigned

	create := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s(%s)",
		spec.index, spec.table, strings.Join(spec.columns, ", "))
	if _, err := tx.Exec(create); err != nil {
		return fmt.Errorf("%w: cannot add unique index on %s(%s): %v",
			shared.ErrConstraintViolation, spec.table, strings.Join(spec.columns, ", "), err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit constraint repair: %v", shared.ErrFatal, err)
	}

	if merged > 0 || removedNull > 0 {
		g.logger.Warn("repaired constraint violations",
			"table", spec.table, "merged", merged, "reassigned_fks", reassigned, "null_key_rows", removedNull)
	}
	return nil
}

// removeNullKeyRows deletes rows with NULL in any key column. They cannot take
// part in upsert conflict resolution; anything referencing them is handled as an
// ordinary orphan later in the run.
func (g *Guardian) removeNullKeyRows(tx *sql.Tx, spec uniqueSpec) (int, error) {
	conds := make([]string, len(spec.columns))
	for i, c := range spec.columns {
		conds[i] = c + " IS NULL"
	}

	result, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s", spec.table, strings.Join(conds, " OR ")))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to remove NULL-key rows from %s: %v", shared.ErrConstraintViolation, spec.table, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(n), nil
}

// mergeDuplicates collapses rows sharing a natural key onto the smallest id.
func (g *Guardian) mergeDuplicates(tx *sql.Tx, spec uniqueSpec) (merged, reassigned int, err error) {
	cols := strings.Join(spec.columns, ", ")
	query := fmt.Sprintf(`
		SELECT MIN(id), GROUP_CONCAT(id)
		FROM %s
		GROUP BY %s
		HAVING COUNT(*) > 1
	`, spec.table, cols)

	rows, err := tx.Query(query)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: failed to find duplicates in %s: %v", shared.ErrConstraintViolation, spec.table, err)
	}

	type dupGroup struct {
		keep   int64
		remove []string
	}
	var groups []dupGroup

	for rows.Next() {
		var keep int64
		var ids string
		if err := rows.Scan(&keep, &ids); err != nil {
			rows.Close()
			return 0, 0, fmt.Errorf("failed to scan duplicate group: %w", err)
		}

		group := dupGroup{keep: keep}
		for _, id := range strings.Split(ids, ",") {
			if id != fmt.Sprint(keep) {
				group.remove = append(group.remove, id)
			}
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, 0, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	for _, group := range groups {
		inList := strings.Join(group.remove, ", ")

		for _, ref := range referencingFKs[spec.table] {
			n, err := g.reassignFK(tx, ref, inList, group.keep)
			if err != nil {
				return merged, reassigned, err
			}
			reassigned += n
		}

		result, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", spec.table, inList))
		if err != nil {
			return merged, reassigned, fmt.Errorf("%w: failed to delete duplicates from %s: %v", shared.ErrConstraintViolation, spec.table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return merged, reassigned, fmt.Errorf("failed to get affected rows: %w", err)
		}
		merged += int(n)
	}

	return merged, reassigned, nil
}

// reassignFK repoints one referencing column from removed duplicates to the kept
// row. A bulk update can trip a uniqueness constraint in the referencing table
// (e.g. a user associated with both duplicates); those rows fall back to
// row-by-row handling where the conflicting duplicate reference is dropped.
func (g *Guardian) reassignFK(tx *sql.Tx, ref fkRef, inList string, keep int64) (int, error) {
	bulk := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s IN (%s)", ref.table, ref.column, ref.column, inList)
	result, err := tx.Exec(bulk, keep)
	if err == nil {
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get affected rows: %w", err)
		}
		return int(n), nil
	}

	// Row-by-row fallback: update where possible, drop rows that would collide.
	rows, err := tx.Query(fmt.Sprintf("SELECT id FROM %s WHERE %s IN (%s)", ref.table, ref.column, inList))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to list %s rows for reassignment: %v", shared.ErrConstraintViolation, ref.table, err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan %s id: %w", ref.table, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	count := 0
	for _, id := range ids {
		if _, err := tx.Exec(fmt.Sprintf("UPDATE %s SET %s = ? WHERE id = ?", ref.table, ref.column), keep, id); err != nil {
			if _, delErr := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", ref.table), id); delErr != nil {
				return count, fmt.Errorf("%w: cannot merge %s.%s for row %d: %v", shared.ErrConstraintViolation, ref.table, ref.column, id, err)
			}
			g.logger.Warn("dropped row colliding during duplicate merge", "table", ref.table, "id", id)
			continue
		}
		count++
	}
	return count, nil
}
