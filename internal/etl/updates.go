package etl

import "fmt"

// ProgressUpdate represents a progress event during a pipeline run.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Pipeline phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Pipeline phase enumeration
type Phase int

const (
	CheckConstraints Phase = iota
	BackupRecords
	LoadReference
	RestoreRecords
	RepairOrphans
	ValidateHealth
	Finalize
)

func (p Phase) String() string {
	switch p {
	case CheckConstraints:
		return "check_constraints"
	case BackupRecords:
		return "backup_records"
	case LoadReference:
		return "load_reference"
	case RestoreRecords:
		return "restore_records"
	case RepairOrphans:
		return "repair_orphans"
	case ValidateHealth:
		return "validate_health"
	case Finalize:
		return "finalize"
	default:
		return ""
	}
}

func constraintUpdate(step, total int, table string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   CheckConstraints,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Verifying uniqueness constraints on %s...", table),
	}
}

func backupUpdate(step, total int, table string, count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   BackupRecords,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Backed up %d rows from %s", count, table),
		Data:    count,
	}
}

func loadUpdate(step, total int, table string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   LoadReference,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Reloading %s from scrape...", table),
	}
}

func restoreUpdate(step, total int, table string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RestoreRecords,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Restoring foreign keys on %s...", table),
	}
}

func repairUpdate(step, total int, table string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RepairOrphans,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Sweeping %s for orphans...", table),
	}
}

func healthUpdate(step, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ValidateHealth,
		Step:    step,
		Total:   total,
		Message: "Scoring referential integrity...",
	}
}

func finalizeUpdate(message string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Finalize,
		Step:    1,
		Total:   1,
		Message: message,
	}
}
