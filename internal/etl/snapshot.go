package etl

import (
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/halfcourt/refguard/internal/repositories"
	"github.com/halfcourt/refguard/internal/shared"
)

// SnapshotManager captures the pre-load state of every protected table so the
// resolver can restore references after the bulk load rewrites the reference
// tables. Capturing is strictly read-only against the protected tables.
type SnapshotManager struct {
	db      *sql.DB
	backups *repositories.BackupRepository
	logger  *log.Logger
}

// NewSnapshotManager creates a SnapshotManager over the given connection.
func NewSnapshotManager(db *sql.DB, logger *log.Logger) *SnapshotManager {
	return &SnapshotManager{
		db:      db,
		backups: repositories.NewBackupRepository(db),
		logger:  logger,
	}
}

// SnapshotCounts records how many rows were captured per protected table.
type SnapshotCounts struct {
	Tables map[string]int `json:"tables"`
	Total  int            `json:"total"`
}

// Capture snapshots every protected table into its run-scoped backup table.
// Each snapshot row carries the full record payload plus the natural key of the
// entity it referenced, so restoration never depends on surrogate ids.
func (m *SnapshotManager) Capture(policy *ProtectionPolicy, runID string) (*SnapshotCounts, error) {
	counts := &SnapshotCounts{Tables: make(map[string]int, len(policy.Tables))}

	for _, pt := range policy.Tables {
		if err := m.backups.Reset(pt); err != nil {
			return counts, fmt.Errorf("%w: failed to prepare backup for %s.%s: %v",
				shared.ErrFatal, pt.Name, pt.FKColumn, err)
		}

		n, err := m.backups.Capture(pt, runID)
		if err != nil {
			return counts, fmt.Errorf("%w: failed to snapshot %s.%s: %v",
				shared.ErrFatal, pt.Name, pt.FKColumn, err)
		}

		counts.Tables[repositories.BackupTableName(pt)] = n
		counts.Total += n
		m.logger.Debug("captured snapshot", "table", pt.Name, "fk", pt.FKColumn, "rows", n)
	}

	return counts, nil
}

// Drop removes the backup tables for every protected table. Called only after a
// healthy run completes; critical runs keep their backups for manual recovery.
func (m *SnapshotManager) Drop(policy *ProtectionPolicy) error {
	for _, pt := range policy.Tables {
		if err := m.backups.Drop(pt); err != nil {
			return fmt.Errorf("failed to drop backup for %s.%s: %w", pt.Name, pt.FKColumn, err)
		}
	}
	return nil
}
