package models

import "time"

// RunStatus classifies the outcome of a pipeline run.
type RunStatus string

const (
	StatusHealthy  RunStatus = "healthy"  // all protected tables scored >= 90
	StatusWarning  RunStatus = "warning"  // some table scored 75-89; run still succeeds
	StatusCritical RunStatus = "critical" // a protected table scored < 75; success blocked
	StatusFatal    RunStatus = "fatal"    // aborted pre-flight, no destructive step ran
	StatusRunning  RunStatus = "running"
	StatusDryRun   RunStatus = "dry-run"
)

// ExitCode maps a run status onto the stable CLI exit codes operational tooling
// branches on: 0 healthy, 1 success with warnings, 2 critical or fatal.
func (s RunStatus) ExitCode() int {
	switch s {
	case StatusHealthy, StatusDryRun:
		return 0
	case StatusWarning:
		return 1
	default:
		return 2
	}
}

// TableHealth holds integrity counts for one protected table.
type TableHealth struct {
	Table    string  `json:"table"`
	FKColumn string  `json:"fk_column"`
	Total    int     `json:"total"`
	Valid    int     `json:"valid"`    // rows whose foreign key references a live entity
	Null     int     `json:"null"`     // rows with an explicitly-allowed NULL
	Orphaned int     `json:"orphaned"` // rows whose foreign key references nothing
	Score    float64 `json:"score"`    // 100 * (valid + allowed nulls) / total, 100 for empty tables
	Weight   float64 `json:"weight"`
}

// HealthReport is the validator's output for a whole run.
type HealthReport struct {
	Tables       []TableHealth `json:"tables"`
	OverallScore float64       `json:"overall_score"`
	Status       RunStatus     `json:"status"`
}

// RunRecord is a persisted row of run history.
type RunRecord struct {
	ID           string     `json:"id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       RunStatus  `json:"status"`
	OverallScore float64    `json:"overall_score"`
	Detail       string     `json:"detail,omitempty"` // JSON-encoded per-phase counts
}
