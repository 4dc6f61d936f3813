package etl

import (
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/halfcourt/refguard/internal/models"
	"github.com/halfcourt/refguard/internal/shared"
)

// Health thresholds. A single table below the critical line blocks run success.
const (
	healthyThreshold  = 90.0
	criticalThreshold = 75.0
)

// Validator scores referential integrity across the protected tables. It runs
// as the final phase of every pipeline run and standalone for health-check.
type Validator struct {
	db     *sql.DB
	logger *log.Logger
}

// NewValidator creates a Validator over the given connection.
func NewValidator(db *sql.DB, logger *log.Logger) *Validator {
	return &Validator{db: db, logger: logger}
}

// Report measures every protected table and classifies the overall outcome.
// A NULL in a column the policy allows to be NULL is healthy; a NULL where the
// policy forbids it counts against the table the same as a dangling reference.
func (v *Validator) Report(policy *ProtectionPolicy) (*models.HealthReport, error) {
	report := &models.HealthReport{Tables: make([]models.TableHealth, 0, len(policy.Tables))}

	var weightedSum, weightTotal float64
	worst := 100.0

	for _, pt := range policy.Tables {
		th, err := v.measure(pt)
		if err != nil {
			return report, err
		}
		report.Tables = append(report.Tables, th)

		weightedSum += th.Score * th.Weight
		weightTotal += th.Weight
		if th.Score < worst {
			worst = th.Score
		}
	}

	if weightTotal > 0 {
		report.OverallScore = weightedSum / weightTotal
	} else {
		report.OverallScore = 100
	}

	switch {
	case worst < criticalThreshold:
		report.Status = models.StatusCritical
	case worst < healthyThreshold:
		report.Status = models.StatusWarning
	default:
		report.Status = models.StatusHealthy
	}

	v.logger.Info("health validated",
		"overall", fmt.Sprintf("%.1f", report.OverallScore), "status", report.Status)
	return report, nil
}

func (v *Validator) measure(pt shared.ProtectedTable) (models.TableHealth, error) {
	th := models.TableHealth{
		Table:    pt.Name,
		FKColumn: pt.FKColumn,
		Weight:   pt.Weight,
	}
	if th.Weight <= 0 {
		th.Weight = 1
	}

	query := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COUNT(CASE WHEN p.%s IS NOT NULL AND e.id IS NOT NULL THEN 1 END),
			COUNT(CASE WHEN p.%s IS NULL THEN 1 END)
		FROM %s p
		LEFT JOIN %s e ON p.%s = e.id
	`, pt.FKColumn, pt.FKColumn, pt.Name, pt.References, pt.FKColumn)

	var nulls int
	if err := v.db.QueryRow(query).Scan(&th.Total, &th.Valid, &nulls); err != nil {
		return th, fmt.Errorf("%w: failed to measure %s.%s: %v", shared.ErrFatal, pt.Name, pt.FKColumn, err)
	}

	th.Orphaned = th.Total - th.Valid - nulls
	if pt.Nullable {
		th.Null = nulls
	} else {
		// Disallowed NULLs score as orphans.
		th.Orphaned += nulls
	}

	if th.Total == 0 {
		th.Score = 100
	} else {
		th.Score = 100 * float64(th.Total-th.Orphaned) / float64(th.Total)
	}

	if th.Orphaned > 0 {
		v.logger.Warn("integrity gap",
			"table", pt.Name, "fk", pt.FKColumn, "orphaned", th.Orphaned,
			"score", fmt.Sprintf("%.1f", th.Score))
	}
	return th, nil
}
