package repositories

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/halfcourt/refguard/internal/models"
	"github.com/halfcourt/refguard/internal/shared"
)

// BackupRepository manages the run-scoped backup tables protected rows are copied
// into before the reference tables are cleared.
type BackupRepository struct {
	db *sql.DB
}

// NewBackupRepository creates a new BackupRepository with the given database connection
func NewBackupRepository(db *sql.DB) *BackupRepository {
	return &BackupRepository{db: db}
}

// BackupTableName returns the backup table for a protected table + foreign key
// pair. A table protected on two foreign keys gets two backup tables.
func BackupTableName(pt shared.ProtectedTable) string {
	return "etl_backup_" + pt.Name + "_" + pt.FKColumn
}

// Reset drops and recreates the backup table for pt. Re-running a crashed run
// starts from a clean backup, so Reset is the first write of every run.
func (r *BackupRepository) Reset(pt shared.ProtectedTable) error {
	name := BackupTableName(pt)

	if _, err := r.db.Exec("DROP TABLE IF EXISTS " + name); err != nil {
		return fmt.Errorf("failed to drop backup table %s: %w", name, err)
	}

	schema := fmt.Sprintf(`
		CREATE TABLE %s (
			backup_id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			record_id INTEGER NOT NULL,
			old_fk INTEGER,
			user_id INTEGER,
			content TEXT,
			key_league TEXT,
			key_club TEXT,
			key_series TEXT,
			key_team TEXT,
			key_alias TEXT,
			key_player TEXT,
			payload TEXT NOT NULL
		)
	`, name)

	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create backup table %s: %w", name, err)
	}

	return nil
}

// Capture copies every live row of pt into its backup table, LEFT JOINing the
// owning entity so the natural key is captured as of backup time. Rows whose
// owner cannot be resolved are still captured, with NULL key columns. Returns the
// number of rows backed up; never mutates live tables.
func (r *BackupRepository) Capture(pt shared.ProtectedTable, runID string) (int, error) {
	keySelect, joins, err := KeyQuery(pt.References)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(
		"SELECT p.*, %s FROM %s p LEFT JOIN %s e ON p.%s = e.id %s",
		keySelect, pt.Name, pt.References, pt.FKColumn, joins,
	)

	rows, err := r.db.Query(query)
	if err != nil {
		return 0, fmt.Errorf("failed to select %s for backup: %w", pt.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("failed to read columns for %s: %w", pt.Name, err)
	}
	if len(cols) < 6 {
		return 0, fmt.Errorf("unexpected column count backing up %s", pt.Name)
	}
	payloadCols := cols[:len(cols)-6]

	// Buffer the result set and close the cursor before opening the insert
	// transaction. With the pool pinned to one connection (the :memory: setup,
	// and the shipped default) an open cursor would block Begin forever.
	var scanned [][]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return 0, fmt.Errorf("failed to scan %s row: %w", pt.Name, err)
		}
		scanned = append(scanned, values)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin backup transaction: %w", err)
	}
	defer tx.Rollback()

	insert := fmt.Sprintf(`
		INSERT INTO %s (
			run_id, record_id, old_fk, user_id, content,
			key_league, key_club, key_series, key_team, key_alias, key_player, payload
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, BackupTableName(pt))

	stmt, err := tx.Prepare(insert)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare backup insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, values := range scanned {
		payload := make(map[string]any, len(payloadCols))
		for i, col := range payloadCols {
			payload[col] = normalize(values[i])
		}

		payloadJSON, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("failed to encode %s payload: %w", pt.Name, err)
		}

		recordID, ok := asInt64(payload["id"])
		if !ok {
			return 0, fmt.Errorf("%s row missing integer id", pt.Name)
		}

		oldFK, _ := optInt64(payload[pt.FKColumn])

		var userID *int64
		if pt.UserColumn != "" {
			userID, _ = optInt64(payload[pt.UserColumn])
		}

		content := ""
		if pt.ContentColumn != "" {
			if s, ok := payload[pt.ContentColumn].(string); ok {
				content = s
			}
		}

		key := values[len(cols)-6:]
		if _, err := stmt.Exec(
			runID, recordID, nullable(oldFK), nullable(userID), content,
			normalize(key[0]), normalize(key[1]), normalize(key[2]),
			normalize(key[3]), normalize(key[4]), normalize(key[5]),
			string(payloadJSON),
		); err != nil {
			return 0, fmt.Errorf("failed to insert backup row for %s: %w", pt.Name, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit backup for %s: %w", pt.Name, err)
	}

	return count, nil
}

// Snapshots returns every snapshot captured for pt in the given run.
func (r *BackupRepository) Snapshots(pt shared.ProtectedTable, runID string) ([]models.SnapshotRecord, error) {
	query := fmt.Sprintf(`
		SELECT backup_id, record_id, old_fk, user_id, content,
			key_league, key_club, key_series, key_team, key_alias, key_player, payload
		FROM %s
		WHERE run_id = ?
		ORDER BY backup_id
	`, BackupTableName(pt))

	rows, err := r.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query backup table for %s: %w", pt.Name, err)
	}
	defer rows.Close()

	var snaps []models.SnapshotRecord
	for rows.Next() {
		var snap models.SnapshotRecord
		var oldFK, userID sql.NullInt64
		var content sql.NullString
		var league, club, series, team, alias, ext sql.NullString
		var payload string

		if err := rows.Scan(
			&snap.BackupID, &snap.RecordID, &oldFK, &userID, &content,
			&league, &club, &series, &team, &alias, &ext, &payload,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}

		snap.RunID = runID
		snap.Table = pt.Name
		snap.FKColumn = pt.FKColumn
		snap.Content = content.String
		snap.Key = scanKey(league, club, series, team, alias, ext)
		snap.Payload = json.RawMessage(payload)
		if oldFK.Valid {
			v := oldFK.Int64
			snap.OldFK = &v
		}
		if userID.Valid {
			v := userID.Int64
			snap.UserID = &v
		}

		snaps = append(snaps, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return snaps, nil
}

// Drop removes the backup table for pt. Called on the success/warning path; on a
// critical run the backups are deliberately retained for manual inspection.
func (r *BackupRepository) Drop(pt shared.ProtectedTable) error {
	name := BackupTableName(pt)
	if _, err := r.db.Exec("DROP TABLE IF EXISTS " + name); err != nil {
		return fmt.Errorf("failed to drop backup table %s: %w", name, err)
	}
	return nil
}

// normalize converts driver values into JSON-friendly shapes.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func optInt64(v any) (*int64, bool) {
	n, ok := asInt64(v)
	if !ok {
		return nil, false
	}
	return &n, true
}

func nullable(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
